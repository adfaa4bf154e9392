package retrieval

import (
	"sort"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// Merge combines two retrieval passes, keeping the higher-scored instance of
// every document key, and returns the result sorted.
func Merge(initial, adjacent []domain.Document) []domain.Document {
	out := make([]domain.Document, 0, len(initial)+len(adjacent))
	pos := make(map[domain.DocumentKey]int, len(initial)+len(adjacent))
	out = appendBest(out, pos, initial)
	out = appendBest(out, pos, adjacent)
	return Sort(out)
}

// Dedup keeps the highest-scored instance per key, in first-seen order.
func Dedup(docs []domain.Document) []domain.Document {
	out := make([]domain.Document, 0, len(docs))
	return appendBest(out, make(map[domain.DocumentKey]int, len(docs)), docs)
}

// Sort orders by score descending, then source and chunk index ascending.
// The input is left untouched.
func Sort(docs []domain.Document) []domain.Document {
	out := make([]domain.Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		return rankLess(out[i], out[j])
	})
	return out
}

// SortBySourceAndChunk orders documents for full-document reads.
func SortBySourceAndChunk(docs []domain.Document) []domain.Document {
	out := make([]domain.Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Metadata, out[j].Metadata
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.ChunkIndex < b.ChunkIndex
	})
	return out
}

func rankLess(a, b domain.Document) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Metadata.SourceID != b.Metadata.SourceID {
		return a.Metadata.SourceID < b.Metadata.SourceID
	}
	return a.Metadata.ChunkIndex < b.Metadata.ChunkIndex
}

func appendBest(out []domain.Document, pos map[domain.DocumentKey]int, docs []domain.Document) []domain.Document {
	for _, doc := range docs {
		key := doc.Key()
		i, ok := pos[key]
		if !ok {
			pos[key] = len(out)
			out = append(out, doc)
			continue
		}
		out[i] = preferDocument(out[i], doc)
	}
	return out
}

func preferDocument(current, candidate domain.Document) domain.Document {
	if candidate.Score > current.Score {
		return candidate
	}
	if candidate.Score == current.Score && current.Text == "" && candidate.Text != "" {
		return candidate
	}
	return current
}

func trimDocuments(docs []domain.Document, limit int) []domain.Document {
	if limit <= 0 || len(docs) <= limit {
		return docs
	}
	return docs[:limit]
}
