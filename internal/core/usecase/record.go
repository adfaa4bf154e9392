package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

// RunLog stores run records consumed from the queue and serves them back.
type RunLog struct {
	repo   ports.RunRepository
	logger *zap.Logger
}

func NewRunLog(repo ports.RunRepository, logger *zap.Logger) *RunLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLog{repo: repo, logger: logger}
}

func (l *RunLog) Record(ctx context.Context, record domain.RunRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record run", errors.New("empty run id"))
	}
	if err := l.repo.SaveRun(ctx, record); err != nil {
		return fmt.Errorf("record run %s: %w", record.ID, err)
	}
	l.logger.Debug("run_recorded",
		zap.String("run_id", record.ID),
		zap.Stringer("route", record.Route),
		zap.Int("activity_events", len(record.ActivityLog)),
	)
	return nil
}

func (l *RunLog) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get run", errors.New("empty run id"))
	}
	return l.repo.GetRun(ctx, id)
}

var (
	_ ports.RunRecorder = (*RunLog)(nil)
	_ ports.RunReader   = (*RunLog)(nil)
)
