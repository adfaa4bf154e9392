package ports

import (
	"context"
	"time"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// SearchIndex is the document index boundary. Authorization failures are
// reported with domain.ErrForbidden, never as an empty result.
type SearchIndex interface {
	Search(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error)
	Chunks(ctx context.Context, filter domain.SearchFilter) ([]domain.Document, error)
	Metadata(ctx context.Context, filter domain.SearchFilter) ([]domain.Document, error)
}

// Retriever executes a query descriptor and returns scored documents.
type Retriever interface {
	Retrieve(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error)
}

// Embedder builds the query vector for hybrid search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Tokenizer counts tokens deterministically.
type Tokenizer interface {
	Count(text string) int
}

// TokenSink receives streamed tokens tagged with the generation step that
// produced them. It is called concurrently during map fan-out.
type TokenSink func(tag domain.StreamTag, token string)

type Prompt struct {
	System  string
	History []domain.ChatMessage
	Human   string
}

type GenerateOptions struct {
	Tag       domain.StreamTag
	Sink      TokenSink
	MaxTokens int
}

// Generator renders text from a prompt, optionally streaming tokens.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt, opts GenerateOptions) (string, error)
}

// RunQueue publishes and consumes finished run records.
type RunQueue interface {
	PublishRun(ctx context.Context, record domain.RunRecord) error
	SubscribeRuns(ctx context.Context, handler func(context.Context, domain.RunRecord) error) error
}

// RunRepository persists run records.
type RunRepository interface {
	SaveRun(ctx context.Context, record domain.RunRecord) error
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)
}

// RunObserver receives orchestrator measurements.
type RunObserver interface {
	ObserveRun(route domain.Route, outcome string, elapsed time.Duration)
	ObserveRetrieval(retriever string, documents int)
	ObserveGeneration(tag domain.StreamTag)
}
