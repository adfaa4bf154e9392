package retrieval

import (
	"context"
	"fmt"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

// AllChunksRetriever returns every chunk of the queried sources ordered by
// source then chunk index.
type AllChunksRetriever struct {
	index ports.SearchIndex
}

func NewAllChunksRetriever(index ports.SearchIndex) *AllChunksRetriever {
	return &AllChunksRetriever{index: index}
}

func (r *AllChunksRetriever) Retrieve(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error) {
	if len(query.Filter.SourceIDs) == 0 {
		return []domain.Document{}, nil
	}
	docs, err := r.index.Chunks(ctx, query.Filter)
	if err != nil {
		return nil, fmt.Errorf("retrieve all chunks: %w", err)
	}
	return SortBySourceAndChunk(docs), nil
}

// Params are the per-call knobs of the hybrid retriever. Zero fields in a
// query fall back to these.
type Params struct {
	Size                int
	NumCandidates       int
	MatchBoost          float64
	KNNBoost            float64
	SimilarityThreshold float64
}

func ParamsFromSettings(s domain.AISettings) Params {
	return Params{
		Size:                s.RAGSize,
		NumCandidates:       s.RAGNumCandidates,
		MatchBoost:          s.MatchBoost,
		KNNBoost:            s.KNNBoost,
		SimilarityThreshold: s.SimilarityThreshold,
	}
}

// ParameterisedRetriever runs hybrid queries and returns the top Size
// documents by combined score.
type ParameterisedRetriever struct {
	index    ports.SearchIndex
	defaults Params
}

func NewParameterisedRetriever(index ports.SearchIndex, defaults Params) *ParameterisedRetriever {
	return &ParameterisedRetriever{index: index, defaults: defaults}
}

func (r *ParameterisedRetriever) Retrieve(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error) {
	if len(query.Filter.SourceIDs) == 0 {
		return []domain.Document{}, nil
	}
	query = r.withDefaults(query)
	docs, err := r.index.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve hybrid: %w", err)
	}
	return trimDocuments(Sort(Dedup(docs)), query.Size), nil
}

func (r *ParameterisedRetriever) withDefaults(q domain.SearchQuery) domain.SearchQuery {
	if q.Size <= 0 {
		q.Size = r.defaults.Size
	}
	if q.NumCandidates <= 0 {
		q.NumCandidates = r.defaults.NumCandidates
	}
	if q.NumCandidates < q.Size {
		q.NumCandidates = q.Size
	}
	if q.MatchBoost == 0 && q.KNNBoost == 0 {
		q.MatchBoost = r.defaults.MatchBoost
		q.KNNBoost = r.defaults.KNNBoost
	}
	if q.SimilarityThreshold == 0 {
		q.SimilarityThreshold = r.defaults.SimilarityThreshold
	}
	return q
}

// MetadataRetriever returns chunk metadata without passage text.
type MetadataRetriever struct {
	index ports.SearchIndex
}

func NewMetadataRetriever(index ports.SearchIndex) *MetadataRetriever {
	return &MetadataRetriever{index: index}
}

func (r *MetadataRetriever) Retrieve(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error) {
	if len(query.Filter.SourceIDs) == 0 {
		return []domain.Document{}, nil
	}
	docs, err := r.index.Metadata(ctx, query.Filter)
	if err != nil {
		return nil, fmt.Errorf("retrieve metadata: %w", err)
	}
	out := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		doc.Text = ""
		out = append(out, doc)
	}
	return SortBySourceAndChunk(out), nil
}

var (
	_ ports.Retriever = (*AllChunksRetriever)(nil)
	_ ports.Retriever = (*ParameterisedRetriever)(nil)
	_ ports.Retriever = (*MetadataRetriever)(nil)
)
