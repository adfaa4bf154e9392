// Package langchain adapts langchaingo chat and embedding models to the
// orchestrator ports.
package langchain

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

type ProviderConfig struct {
	Provider string

	OllamaURL        string
	OllamaGenModel   string
	OllamaEmbedModel string

	OpenAIBaseURL    string
	OpenAIAPIKey     string
	OpenAIGenModel   string
	OpenAIEmbedModel string
}

// NewModels builds the chat model and the embedding client for the
// configured provider.
func NewModels(cfg ProviderConfig) (llms.Model, embeddings.EmbedderClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "ollama":
		chat, err := ollama.New(
			ollama.WithServerURL(cfg.OllamaURL),
			ollama.WithModel(cfg.OllamaGenModel),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create ollama chat model: %w", err)
		}
		embed, err := ollama.New(
			ollama.WithServerURL(cfg.OllamaURL),
			ollama.WithModel(cfg.OllamaEmbedModel),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create ollama embedding model: %w", err)
		}
		return chat, embed, nil
	case "openai":
		token := cfg.OpenAIAPIKey
		if token == "" {
			// local OpenAI-compatible servers accept any token
			token = "none"
		}
		opts := []openai.Option{
			openai.WithToken(token),
			openai.WithModel(cfg.OpenAIGenModel),
			openai.WithEmbeddingModel(cfg.OpenAIEmbedModel),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
