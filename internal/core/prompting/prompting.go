package prompting

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

// SummaryDelimiter separates partial summaries handed to a reduce step.
const SummaryDelimiter = " ; "

var inputVariables = []string{"question", "documents", "summaries", "metadata"}

type Vars struct {
	Question  string
	Documents []domain.Document
	Summaries []string
	Metadata  []domain.Document
}

// Render fills a template pair and attaches the chat history.
func Render(tpl domain.PromptTemplate, history []domain.ChatMessage, vars Vars) (ports.Prompt, error) {
	values := map[string]any{
		"question":  vars.Question,
		"documents": FormatDocuments(vars.Documents),
		"summaries": strings.Join(vars.Summaries, SummaryDelimiter),
		"metadata":  FormatMetadata(vars.Metadata),
	}
	system, err := format(tpl.System, values)
	if err != nil {
		return ports.Prompt{}, fmt.Errorf("render system prompt: %w", err)
	}
	human, err := format(tpl.Question, values)
	if err != nil {
		return ports.Prompt{}, fmt.Errorf("render question prompt: %w", err)
	}
	return ports.Prompt{System: system, History: history, Human: human}, nil
}

// Text flattens a prompt for token counting.
func Text(p ports.Prompt) string {
	var b strings.Builder
	b.WriteString(p.System)
	for _, msg := range p.History {
		b.WriteString("\n")
		b.WriteString(msg.Text)
	}
	b.WriteString("\n")
	b.WriteString(p.Human)
	return b.String()
}

// FormatDocuments numbers documents from 1 so answers can cite them as [n].
func FormatDocuments(docs []domain.Document) string {
	if len(docs) == 0 {
		return "No documents."
	}
	var b strings.Builder
	for i, doc := range docs {
		name := doc.Metadata.Name
		if name == "" {
			name = doc.Metadata.SourceID
		}
		fmt.Fprintf(&b, "[%d] file=%s chunk=%d\n%s\n\n", i+1, name, doc.Metadata.ChunkIndex, doc.Text)
	}
	return strings.TrimSpace(b.String())
}

// FormatMetadata lists one line per source with its aggregated token count.
func FormatMetadata(docs []domain.Document) string {
	if len(docs) == 0 {
		return "No documents."
	}
	groups := domain.GroupDocuments(docs).Groups()
	var b strings.Builder
	for _, group := range groups {
		head := group.Documents[0].Metadata
		tokens := 0
		for _, doc := range group.Documents {
			tokens += doc.Metadata.TokenCount
		}
		name := head.Name
		if name == "" {
			name = group.SourceID
		}
		fmt.Fprintf(&b, "- %s (tokens=%d, chunks=%d)", name, tokens, len(group.Documents))
		if head.Description != "" {
			fmt.Fprintf(&b, ": %s", head.Description)
		}
		if len(head.Keywords) > 0 {
			fmt.Fprintf(&b, " [keywords: %s]", strings.Join(head.Keywords, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func format(template string, values map[string]any) (string, error) {
	if template == "" {
		return "", nil
	}
	return prompts.NewPromptTemplate(template, inputVariables).Format(values)
}
