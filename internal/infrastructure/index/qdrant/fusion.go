package qdrant

import (
	"sort"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

type fusedCandidate struct {
	doc   domain.Document
	score float64
}

// fuseWeighted sums boost-weighted raw scores of both legs.
func fuseWeighted(dense, sparse []domain.Document, denseBoost, sparseBoost float64) []domain.Document {
	acc := make(map[domain.DocumentKey]*fusedCandidate, len(dense)+len(sparse))
	order := make([]domain.DocumentKey, 0, len(dense)+len(sparse))
	add := func(docs []domain.Document, boost float64) {
		for _, doc := range docs {
			c := candidateFor(acc, &order, doc)
			c.score += boost * doc.Score
		}
	}
	add(dense, denseBoost)
	add(sparse, sparseBoost)
	return collect(acc, order)
}

// fuseRRF scores each document by reciprocal rank across legs.
func fuseRRF(dense, sparse []domain.Document, denseBoost, sparseBoost float64, k int) []domain.Document {
	if k <= 0 {
		k = 60
	}
	acc := make(map[domain.DocumentKey]*fusedCandidate, len(dense)+len(sparse))
	order := make([]domain.DocumentKey, 0, len(dense)+len(sparse))
	add := func(docs []domain.Document, boost float64) {
		for rank, doc := range docs {
			c := candidateFor(acc, &order, doc)
			c.score += boost / float64(k+rank+1)
		}
	}
	add(dense, denseBoost)
	add(sparse, sparseBoost)
	return collect(acc, order)
}

// applyAdjacency adds each containing window's boost. Adjacent chunks
// missing from the fused set join it with the boost as their score.
func applyAdjacency(fused, adjacent []domain.Document, windows []domain.AdjacencyWindow) []domain.Document {
	if len(windows) == 0 {
		return fused
	}
	acc := make(map[domain.DocumentKey]*fusedCandidate, len(fused)+len(adjacent))
	order := make([]domain.DocumentKey, 0, len(fused)+len(adjacent))
	for _, doc := range fused {
		c := candidateFor(acc, &order, doc)
		c.score += doc.Score
	}
	for _, doc := range adjacent {
		candidateFor(acc, &order, doc)
	}
	for _, key := range order {
		for _, w := range windows {
			if w.Contains(key) {
				acc[key].score += w.Boost
			}
		}
	}
	return collect(acc, order)
}

func candidateFor(acc map[domain.DocumentKey]*fusedCandidate, order *[]domain.DocumentKey, doc domain.Document) *fusedCandidate {
	key := doc.Key()
	c, ok := acc[key]
	if !ok {
		c = &fusedCandidate{doc: doc}
		acc[key] = c
		*order = append(*order, key)
		return c
	}
	if c.doc.Text == "" && doc.Text != "" {
		c.doc.Text = doc.Text
	}
	return c
}

func collect(acc map[domain.DocumentKey]*fusedCandidate, order []domain.DocumentKey) []domain.Document {
	out := make([]domain.Document, 0, len(order))
	for _, key := range order {
		c := acc[key]
		out = append(out, c.doc.WithScore(c.score))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Metadata.SourceID != out[j].Metadata.SourceID {
			return out[i].Metadata.SourceID < out[j].Metadata.SourceID
		}
		return out[i].Metadata.ChunkIndex < out[j].Metadata.ChunkIndex
	})
	return out
}
