package langchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/resilience"
)

type Generator struct {
	model    llms.Model
	executor *resilience.Executor
	logger   *zap.Logger
}

func NewGenerator(model llms.Model, executor *resilience.Executor, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig(), logger)
	}
	return &Generator{model: model, executor: executor, logger: logger}
}

// Generate calls the chat model. A streamed call is retried only while no
// token has reached the sink.
func (g *Generator) Generate(ctx context.Context, prompt ports.Prompt, opts ports.GenerateOptions) (string, error) {
	messages := toMessages(prompt)
	op := "llm.generate"
	if opts.Tag != "" {
		op = "llm.generate." + string(opts.Tag)
	}

	var emitted bool
	text, err := resilience.Do(ctx, g.executor, op, func(ctx context.Context) (string, error) {
		callOpts := make([]llms.CallOption, 0, 2)
		if opts.MaxTokens > 0 {
			callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
		}
		if opts.Sink != nil {
			callOpts = append(callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				emitted = true
				opts.Sink(opts.Tag, string(chunk))
				return nil
			}))
		}

		resp, err := g.model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			if emitted {
				return "", &streamInterruptedError{err: err}
			}
			return "", wrapTemporaryIfNeeded(op, err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", fmt.Errorf("%s: model returned no choices", op)
		}
		return resp.Choices[0].Content, nil
	}, classifyModelError)
	if err != nil {
		g.logger.Warn("llm_generate_failed",
			zap.String("tag", string(opts.Tag)),
			zap.Bool("streamed", emitted),
			zap.Error(err),
		)
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func toMessages(prompt ports.Prompt) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(prompt.History)+2)
	if prompt.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, prompt.System))
	}
	for _, msg := range prompt.History {
		role := llms.ChatMessageTypeHuman
		if msg.Role == domain.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, msg.Text))
	}
	if prompt.Human != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt.Human))
	}
	return messages
}
