package qdrant

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
)

// sparseVector is a hashed bag-of-words query vector. Indices are sorted
// ascending as Qdrant requires.
type sparseVector struct {
	Indices []uint32
	Values  []float32
}

const (
	queryBM25K     = 1.2
	maxSparseTerms = 256
)

// encodeSparseQuery must hash tokens exactly like the ingestion side does.
func encodeSparseQuery(query string) sparseVector {
	termFreq := make(map[uint32]float64, 32)
	for _, token := range tokenize(query) {
		termFreq[hashToken(token)]++
	}
	if len(termFreq) == 0 {
		return sparseVector{}
	}

	indices := make([]uint32, 0, len(termFreq))
	for idx := range termFreq {
		indices = append(indices, idx)
	}
	if len(indices) > maxSparseTerms {
		sort.Slice(indices, func(i, j int) bool {
			if termFreq[indices[i]] != termFreq[indices[j]] {
				return termFreq[indices[i]] > termFreq[indices[j]]
			}
			return indices[i] < indices[j]
		})
		indices = indices[:maxSparseTerms]
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		tf := termFreq[idx]
		values = append(values, float32(tf*(queryBM25K+1)/(tf+queryBM25K)))
	}
	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	if sum := h.Sum32(); sum != 0 {
		return sum
	}
	return 1
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
