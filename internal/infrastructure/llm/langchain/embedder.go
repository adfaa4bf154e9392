package langchain

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/resilience"
)

type Embedder struct {
	embedder embeddings.Embedder
	executor *resilience.Executor
	logger   *zap.Logger
}

func NewEmbedder(client embeddings.EmbedderClient, executor *resilience.Executor, logger *zap.Logger) (*Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig(), logger)
	}
	inner, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Embedder{embedder: inner, executor: executor, logger: logger}, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	const op = "llm.embed_query"
	vector, err := resilience.Do(ctx, e.executor, op, func(ctx context.Context) ([]float32, error) {
		v, err := e.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, wrapTemporaryIfNeeded(op, err)
		}
		return v, nil
	}, classifyModelError)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%s: empty embedding result", op)
	}
	return vector, nil
}

type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder memoises query vectors by text.
type CachedEmbedder struct {
	next  queryEmbedder
	cache *lru.Cache
}

func NewCachedEmbedder(next queryEmbedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		return cloneVector(cached.([]float32)), nil
	}
	vector, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, cloneVector(vector))
	return vector, nil
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
