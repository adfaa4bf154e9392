package retrieval

import "github.com/kirillkom/docqa-orchestrator/internal/core/domain"

const (
	minElbowDocuments = 3
	// minElbowDistance is the normalised drop below the chord a point needs
	// before it counts as an elbow. Straight or nearly straight lists stay whole.
	minElbowDistance = 0.05
)

// ElbowFilter drops the low-relevance tail of a score-descending list. The
// cut is placed before the point furthest below the chord joining the first
// and last normalised scores. Lists without a convex drop are returned as is.
func ElbowFilter(docs []domain.Document) []domain.Document {
	n := len(docs)
	if n < minElbowDocuments {
		return docs
	}
	first, last := docs[0].Score, docs[n-1].Score
	span := first - last
	if span <= 0 {
		return docs
	}

	bestIdx := -1
	bestDistance := minElbowDistance
	for i := 1; i < n-1; i++ {
		x := float64(i) / float64(n-1)
		y := (docs[i].Score - last) / span
		distance := 1 - x - y
		if distance > bestDistance {
			bestDistance = distance
			bestIdx = i
		}
	}
	if bestIdx <= 0 {
		return docs
	}
	return docs[:bestIdx]
}
