package prompting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

func TestRenderFillsTemplateVariables(t *testing.T) {
	tpl := domain.PromptTemplate{System: "Docs:\n{{.documents}}", Question: "Q: {{.question}}"}
	history := []domain.ChatMessage{{Role: domain.RoleUser, Text: "hi"}}
	docs := []domain.Document{{Text: "alpha", Metadata: domain.DocumentMetadata{SourceID: "s1", Name: "report.pdf", ChunkIndex: 3}}}

	p, err := Render(tpl, history, Vars{Question: "what?", Documents: docs})
	require.NoError(t, err)
	assert.Contains(t, p.System, "[1] file=report.pdf chunk=3")
	assert.Contains(t, p.System, "alpha")
	assert.Equal(t, "Q: what?", p.Human)
	assert.Equal(t, history, p.History)
}

func TestRenderJoinsSummariesWithDelimiter(t *testing.T) {
	p, err := Render(domain.PromptTemplate{System: "{{.summaries}}"}, nil, Vars{Summaries: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "a ; b", p.System)
}

func TestFormatMetadataAggregatesPerSource(t *testing.T) {
	docs := []domain.Document{
		{Metadata: domain.DocumentMetadata{SourceID: "s1", Name: "a.txt", TokenCount: 10, Keywords: []string{"tax"}}},
		{Metadata: domain.DocumentMetadata{SourceID: "s1", ChunkIndex: 1, TokenCount: 5}},
		{Metadata: domain.DocumentMetadata{SourceID: "s2", TokenCount: 7, Description: "notes"}},
	}
	out := FormatMetadata(docs)
	assert.Contains(t, out, "- a.txt (tokens=15, chunks=2) [keywords: tax]")
	assert.Contains(t, out, "- s2 (tokens=7, chunks=1): notes")
}

func TestFormatDocumentsEmpty(t *testing.T) {
	assert.Equal(t, "No documents.", FormatDocuments(nil))
}
