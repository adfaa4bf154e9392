package usecase

import (
	"regexp"
	"strconv"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// ExtractCitations maps [n] markers in an answer to the numbered documents
// of its prompt, in order of first mention.
func ExtractCitations(answer string, docs []domain.Document) []domain.Citation {
	matches := citationPattern.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(matches))
	out := make([]domain.Citation, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(docs) {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		doc := docs[n-1]
		out = append(out, domain.Citation{
			Index:      n,
			SourceID:   doc.Metadata.SourceID,
			ChunkIndex: doc.Metadata.ChunkIndex,
			Name:       doc.Metadata.Name,
			Text:       doc.Text,
			Score:      doc.Score,
		})
	}
	return out
}
