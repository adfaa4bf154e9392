// Package qdrant implements the document SearchIndex over a Qdrant
// collection holding one point per chunk.
package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/resilience"
)

const (
	payloadText        = "text"
	payloadSourceID    = "source_id"
	payloadChunkIndex  = "chunk_index"
	payloadTokenCount  = "token_count"
	payloadCreatorType = "creator_type"
	payloadParentID    = "parent_document_id"
	payloadResolution  = "resolution"
	payloadName        = "name"
	payloadDescription = "description"
	payloadKeywords    = "keywords"
)

type FusionStrategy string

const (
	FusionWeighted FusionStrategy = "weighted"
	FusionRRF      FusionStrategy = "rrf"
)

type Config struct {
	Collection   string
	DenseVector  string
	SparseVector string
	Fusion       FusionStrategy
	RRFK         int
	// ScrollLimit caps Chunks and Metadata reads.
	ScrollLimit uint32
}

// pointsAPI is the subset of *qdrant.Client used by the index.
type pointsAPI interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
}

type Index struct {
	points   pointsAPI
	cfg      Config
	executor *resilience.Executor
	logger   *zap.Logger
}

func Dial(host string, port int, apiKey string) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return client, nil
}

func New(points pointsAPI, cfg Config, executor *resilience.Executor, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig(), logger)
	}
	if cfg.Fusion == "" {
		cfg.Fusion = FusionWeighted
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.ScrollLimit == 0 {
		cfg.ScrollLimit = 10000
	}
	return &Index{points: points, cfg: cfg, executor: executor, logger: logger}
}

// Search runs the dense, sparse and adjacency legs concurrently and fuses
// them into at most query.Size documents.
func (i *Index) Search(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error) {
	if len(query.Filter.SourceIDs) == 0 {
		return []domain.Document{}, nil
	}
	limit := max(query.NumCandidates, query.Size, 1)
	filter := buildFilter(query.Filter)

	var dense, sparse, adjacent []domain.Document
	g, gctx := errgroup.WithContext(ctx)
	if query.UsesVector() && len(query.Vector) > 0 {
		g.Go(func() error {
			req := &qdrant.QueryPoints{
				CollectionName: i.cfg.Collection,
				Query:          qdrant.NewQuery(query.Vector...),
				Using:          optionalName(i.cfg.DenseVector),
				Filter:         filter,
				Limit:          qdrant.PtrOf(uint64(limit)),
				WithPayload:    qdrant.NewWithPayload(true),
			}
			if query.SimilarityThreshold > 0 {
				req.ScoreThreshold = qdrant.PtrOf(float32(query.SimilarityThreshold))
			}
			docs, err := i.query(gctx, "qdrant.search.dense", req)
			dense = docs
			return err
		})
	}
	if query.UsesKeywords() && strings.TrimSpace(query.Text) != "" {
		vec := encodeSparseQuery(query.Text)
		if len(vec.Indices) > 0 {
			g.Go(func() error {
				docs, err := i.query(gctx, "qdrant.search.sparse", &qdrant.QueryPoints{
					CollectionName: i.cfg.Collection,
					Query:          qdrant.NewQuerySparse(vec.Indices, vec.Values),
					Using:          optionalName(i.cfg.SparseVector),
					Filter:         filter,
					Limit:          qdrant.PtrOf(uint64(limit)),
					WithPayload:    qdrant.NewWithPayload(true),
				})
				sparse = docs
				return err
			})
		}
	}
	if len(query.Adjacent) > 0 {
		g.Go(func() error {
			docs, err := i.scroll(gctx, "qdrant.search.adjacent", &qdrant.ScrollPoints{
				CollectionName: i.cfg.Collection,
				Filter:         adjacencyFilter(query.Filter, query.Adjacent),
				Limit:          qdrant.PtrOf(adjacencyLimit(query.Adjacent)),
				WithPayload:    qdrant.NewWithPayload(true),
			})
			adjacent = docs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fused []domain.Document
	switch i.cfg.Fusion {
	case FusionRRF:
		fused = fuseRRF(dense, sparse, query.KNNBoost, query.MatchBoost, i.cfg.RRFK)
	default:
		fused = fuseWeighted(dense, sparse, query.KNNBoost, query.MatchBoost)
	}
	fused = applyAdjacency(fused, adjacent, query.Adjacent)

	i.logger.Debug("qdrant_search",
		zap.Int("dense", len(dense)),
		zap.Int("sparse", len(sparse)),
		zap.Int("adjacent", len(adjacent)),
		zap.Int("fused", len(fused)),
	)
	if query.Size > 0 && len(fused) > query.Size {
		fused = fused[:query.Size]
	}
	return fused, nil
}

func (i *Index) Chunks(ctx context.Context, filter domain.SearchFilter) ([]domain.Document, error) {
	if len(filter.SourceIDs) == 0 {
		return []domain.Document{}, nil
	}
	return i.scroll(ctx, "qdrant.chunks", &qdrant.ScrollPoints{
		CollectionName: i.cfg.Collection,
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(i.cfg.ScrollLimit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
}

// Metadata scrolls the same points without their passage text.
func (i *Index) Metadata(ctx context.Context, filter domain.SearchFilter) ([]domain.Document, error) {
	if len(filter.SourceIDs) == 0 {
		return []domain.Document{}, nil
	}
	return i.scroll(ctx, "qdrant.metadata", &qdrant.ScrollPoints{
		CollectionName: i.cfg.Collection,
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(i.cfg.ScrollLimit),
		WithPayload:    qdrant.NewWithPayloadExclude(payloadText),
	})
}

func (i *Index) query(ctx context.Context, op string, req *qdrant.QueryPoints) ([]domain.Document, error) {
	points, err := resilience.Do(ctx, i.executor, op, func(ctx context.Context) ([]*qdrant.ScoredPoint, error) {
		out, err := i.points.Query(ctx, req)
		if err != nil {
			return nil, mapError(op, err)
		}
		return out, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(points))
	for _, p := range points {
		doc, ok := i.documentFromPayload(p.GetPayload())
		if !ok {
			continue
		}
		docs = append(docs, doc.WithScore(float64(p.GetScore())))
	}
	return docs, nil
}

func (i *Index) scroll(ctx context.Context, op string, req *qdrant.ScrollPoints) ([]domain.Document, error) {
	points, err := resilience.Do(ctx, i.executor, op, func(ctx context.Context) ([]*qdrant.RetrievedPoint, error) {
		out, err := i.points.Scroll(ctx, req)
		if err != nil {
			return nil, mapError(op, err)
		}
		return out, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if req.Limit != nil && uint32(len(points)) >= *req.Limit {
		i.logger.Warn("qdrant_scroll_truncated", zap.String("operation", op), zap.Uint32("limit", *req.Limit))
	}
	docs := make([]domain.Document, 0, len(points))
	for _, p := range points {
		doc, ok := i.documentFromPayload(p.GetPayload())
		if !ok {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func buildFilter(filter domain.SearchFilter) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatchKeywords(payloadSourceID, filter.SourceIDs...)}
	if filter.Resolution != "" {
		must = append(must, qdrant.NewMatch(payloadResolution, string(filter.Resolution)))
	}
	return &qdrant.Filter{Must: must}
}

// adjacencyFilter keeps the source restriction and matches any window.
func adjacencyFilter(filter domain.SearchFilter, windows []domain.AdjacencyWindow) *qdrant.Filter {
	out := buildFilter(filter)
	should := make([]*qdrant.Condition, 0, len(windows))
	for _, w := range windows {
		should = append(should, qdrant.NewFilterAsCondition(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(payloadSourceID, w.SourceID),
				qdrant.NewRange(payloadChunkIndex, &qdrant.Range{
					Gte: qdrant.PtrOf(float64(w.ChunkIndex - w.Radius)),
					Lte: qdrant.PtrOf(float64(w.ChunkIndex + w.Radius)),
				}),
			},
		}))
	}
	out.Should = should
	return out
}

func adjacencyLimit(windows []domain.AdjacencyWindow) uint32 {
	var n uint32
	for _, w := range windows {
		n += uint32(2*w.Radius + 1)
	}
	return max(n, 1)
}

func optionalName(name string) *string {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return qdrant.PtrOf(name)
}

var _ ports.SearchIndex = (*Index)(nil)
