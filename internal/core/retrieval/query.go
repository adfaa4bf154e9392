package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// QueryInput collects what the hybrid query needs. Settings supplies boosts,
// threshold and sizes.
type QueryInput struct {
	Text       string
	Vector     []float32
	SourceIDs  []string
	Resolution domain.ResolutionTier
	Settings   domain.AISettings
}

// BuildDocumentQuery assembles a hybrid query descriptor. It performs no I/O.
func BuildDocumentQuery(in QueryInput) (domain.SearchQuery, error) {
	s := in.Settings
	if s.MatchBoost < 0 || s.KNNBoost < 0 {
		return domain.SearchQuery{}, invalidQuery("boosts must be non-negative")
	}
	if s.MatchBoost == 0 && s.KNNBoost == 0 {
		return domain.SearchQuery{}, invalidQuery("at least one of match_boost or knn_boost must be positive")
	}
	if s.KNNBoost > 0 && len(in.Vector) == 0 {
		return domain.SearchQuery{}, invalidQuery("similarity search requested without a query vector")
	}
	text := strings.TrimSpace(in.Text)
	if s.MatchBoost > 0 && text == "" {
		return domain.SearchQuery{}, invalidQuery("keyword match requested without query text")
	}

	size := s.RAGSize
	if size < 0 {
		size = 0
	}
	candidates := s.RAGNumCandidates
	if candidates < size {
		candidates = size
	}

	vector := make([]float32, len(in.Vector))
	copy(vector, in.Vector)

	return domain.SearchQuery{
		Text:   text,
		Vector: vector,
		Filter: domain.SearchFilter{
			SourceIDs:  cloneStrings(in.SourceIDs),
			Resolution: in.Resolution,
		},
		Size:                size,
		NumCandidates:       candidates,
		MatchBoost:          s.MatchBoost,
		KNNBoost:            s.KNNBoost,
		SimilarityThreshold: s.SimilarityThreshold,
	}, nil
}

// AddDocumentFilterScores returns a copy of base that also boosts chunks near
// each centre document (same source, chunk index within radius).
func AddDocumentFilterScores(base domain.SearchQuery, centres []domain.Document, radius int, boost float64) domain.SearchQuery {
	out := base
	out.Vector = append([]float32(nil), base.Vector...)
	out.Filter.SourceIDs = cloneStrings(base.Filter.SourceIDs)
	out.Adjacent = append([]domain.AdjacencyWindow(nil), base.Adjacent...)
	if radius < 0 || boost <= 0 || len(centres) == 0 {
		return out
	}

	seen := make(map[domain.DocumentKey]struct{}, len(out.Adjacent)+len(centres))
	for _, w := range out.Adjacent {
		seen[domain.DocumentKey{SourceID: w.SourceID, ChunkIndex: w.ChunkIndex}] = struct{}{}
	}
	for _, centre := range centres {
		key := centre.Key()
		if key.SourceID == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out.Adjacent = append(out.Adjacent, domain.AdjacencyWindow{
			SourceID:   key.SourceID,
			ChunkIndex: key.ChunkIndex,
			Radius:     radius,
			Boost:      boost,
		})
	}

	sort.SliceStable(out.Adjacent, func(i, j int) bool {
		if out.Adjacent[i].SourceID != out.Adjacent[j].SourceID {
			return out.Adjacent[i].SourceID < out.Adjacent[j].SourceID
		}
		return out.Adjacent[i].ChunkIndex < out.Adjacent[j].ChunkIndex
	})
	return out
}

func invalidQuery(msg string) error {
	return domain.WrapError(domain.ErrInvalidInput, "build_document_query", fmt.Errorf("%s", msg))
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
