package summarize

import "github.com/kirillkom/docqa-orchestrator/internal/core/domain"

// Unit is one independent map step: a single chunk of a single group.
type Unit struct {
	Group    int
	Chunk    int
	SourceID string
	Document domain.Document
}

// Partition flattens groups into map units in group order, then chunk order.
// Reduce steps combine unit results in exactly this order.
func Partition(groups []domain.DocumentGroup) []Unit {
	total := 0
	for _, g := range groups {
		total += len(g.Documents)
	}
	units := make([]Unit, 0, total)
	for gi, g := range groups {
		for ci, doc := range g.Documents {
			units = append(units, Unit{Group: gi, Chunk: ci, SourceID: g.SourceID, Document: doc})
		}
	}
	return units
}

// groupResults slices flat unit results back into per-group lists.
func groupResults(groups []domain.DocumentGroup, results []string) [][]string {
	out := make([][]string, len(groups))
	offset := 0
	for gi, g := range groups {
		n := len(g.Documents)
		out[gi] = results[offset : offset+n]
		offset += n
	}
	return out
}
