package domain

// SearchFilter restricts index reads to a source set and, optionally, one
// resolution tier.
type SearchFilter struct {
	SourceIDs  []string
	Resolution ResolutionTier
}

// AdjacencyWindow boosts chunks of SourceID whose index lies within
// [ChunkIndex-Radius, ChunkIndex+Radius].
type AdjacencyWindow struct {
	SourceID   string
	ChunkIndex int
	Radius     int
	Boost      float64
}

func (w AdjacencyWindow) Contains(key DocumentKey) bool {
	if key.SourceID != w.SourceID {
		return false
	}
	return key.ChunkIndex >= w.ChunkIndex-w.Radius && key.ChunkIndex <= w.ChunkIndex+w.Radius
}

// SearchQuery is the executable descriptor produced by the query builder.
type SearchQuery struct {
	Text   string
	Vector []float32
	Filter SearchFilter

	Size                int
	NumCandidates       int
	MatchBoost          float64
	KNNBoost            float64
	SimilarityThreshold float64

	Adjacent []AdjacencyWindow
}

func (q SearchQuery) UsesVector() bool {
	return q.KNNBoost > 0
}

func (q SearchQuery) UsesKeywords() bool {
	return q.MatchBoost > 0
}

type Citation struct {
	Index      int     `json:"index"`
	SourceID   string  `json:"source_id"`
	ChunkIndex int     `json:"chunk_index"`
	Name       string  `json:"name,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}
