package budget

import (
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

type Class int

const (
	Fits Class = iota
	ExceedsRecoverable
	ExceedsFatal
)

func (c Class) String() string {
	switch c {
	case Fits:
		return "fits"
	case ExceedsRecoverable:
		return "exceeds_recoverable"
	case ExceedsFatal:
		return "exceeds_fatal"
	default:
		return "unknown"
	}
}

type Assessment struct {
	Class               Class
	TotalTokens         int
	PromptOverhead      int
	Budget              int
	SmallestChunkTokens int
}

// Evaluator classifies document sets against a generation budget. One
// Evaluator must be shared by every check of a run so counts stay consistent.
type Evaluator struct {
	tokenizer ports.Tokenizer
}

func NewEvaluator(tokenizer ports.Tokenizer) *Evaluator {
	return &Evaluator{tokenizer: tokenizer}
}

func (e *Evaluator) CountText(text string) int {
	if text == "" {
		return 0
	}
	n := e.tokenizer.Count(text)
	if n < 0 {
		return 0
	}
	return n
}

// CountDocument uses the tokenizer for text and falls back to the indexed
// token count for metadata-only documents.
func (e *Evaluator) CountDocument(doc domain.Document) int {
	if doc.Text != "" {
		return e.CountText(doc.Text)
	}
	if doc.Metadata.TokenCount > 0 {
		return doc.Metadata.TokenCount
	}
	return 0
}

func (e *Evaluator) CountDocuments(docs []domain.Document) int {
	total := 0
	for _, doc := range docs {
		total += e.CountDocument(doc)
	}
	return total
}

// Classify compares docs plus prompt overhead with contextWindow minus
// reserved. ExceedsFatal means even the smallest single chunk cannot fit.
func (e *Evaluator) Classify(docs []domain.Document, promptOverhead, contextWindow, reserved int) Assessment {
	if promptOverhead < 0 {
		promptOverhead = 0
	}
	a := Assessment{
		PromptOverhead: promptOverhead,
		Budget:         contextWindow - reserved,
	}

	smallest := -1
	for _, doc := range docs {
		n := e.CountDocument(doc)
		a.TotalTokens += n
		if smallest < 0 || n < smallest {
			smallest = n
		}
	}
	if smallest < 0 {
		smallest = 0
	}
	a.SmallestChunkTokens = smallest

	switch {
	case a.TotalTokens+promptOverhead <= a.Budget:
		a.Class = Fits
	case smallest+promptOverhead > a.Budget:
		a.Class = ExceedsFatal
	default:
		a.Class = ExceedsRecoverable
	}
	return a
}

// Fits reports whether text plus overhead fits the budget.
func (e *Evaluator) Fits(text string, promptOverhead, budget int) bool {
	return e.CountText(text)+promptOverhead <= budget
}
