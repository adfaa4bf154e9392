package ports

import (
	"context"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// QueryOrchestrator answers a request through the routing state machine.
type QueryOrchestrator interface {
	Run(ctx context.Context, req domain.Request, sink TokenSink) (*domain.Response, error)
}

// RunReader is the inbound read model for finished runs.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)
}

// RunRecorder stores run records delivered by the queue.
type RunRecorder interface {
	Record(ctx context.Context, record domain.RunRecord) error
}
