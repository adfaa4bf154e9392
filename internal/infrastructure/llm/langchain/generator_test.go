package langchain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/resilience"
)

type fakeModel struct {
	mu       sync.Mutex
	calls    int
	messages [][]llms.MessageContent
	chunks   []string
	// errs is consumed one per call before succeeding.
	errs        []error
	errAfterOut bool
	reply       string
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.calls++
	m.messages = append(m.messages, messages)
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	m.mu.Unlock()

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	if err != nil && !m.errAfterOut {
		return nil, err
	}
	if opts.StreamingFunc != nil {
		for _, chunk := range m.chunks {
			if streamErr := opts.StreamingFunc(ctx, []byte(chunk)); streamErr != nil {
				return nil, streamErr
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	}, nil)
}

func TestGenerateBuildsMessagesInOrder(t *testing.T) {
	model := &fakeModel{reply: "  answer \n"}
	gen := NewGenerator(model, fastExecutor(), nil)

	out, err := gen.Generate(context.Background(), ports.Prompt{
		System: "sys",
		History: []domain.ChatMessage{
			{Role: domain.RoleUser, Text: "hi"},
			{Role: domain.RoleAssistant, Text: "hello"},
		},
		Human: "question",
	}, ports.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	require.Len(t, model.messages, 1)
	got := model.messages[0]
	require.Len(t, got, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, got[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, got[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, got[2].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, got[3].Role)
	assert.Equal(t, llms.TextContent{Text: "question"}, got[3].Parts[0])
}

func TestGenerateStreamsTaggedTokens(t *testing.T) {
	model := &fakeModel{chunks: []string{"a", "", "b"}, reply: "ab"}
	gen := NewGenerator(model, fastExecutor(), nil)

	var tags []domain.StreamTag
	var tokens []string
	_, err := gen.Generate(context.Background(), ports.Prompt{Human: "q"}, ports.GenerateOptions{
		Tag: domain.StreamMap,
		Sink: func(tag domain.StreamTag, token string) {
			tags = append(tags, tag)
			tokens = append(tokens, token)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tokens)
	assert.Equal(t, []domain.StreamTag{domain.StreamMap, domain.StreamMap}, tags)
}

func TestGenerateRetriesTransientStatus(t *testing.T) {
	model := &fakeModel{
		errs:  []error{errors.New("API returned unexpected status code: 503: overloaded")},
		reply: "ok",
	}
	gen := NewGenerator(model, fastExecutor(), nil)

	out, err := gen.Generate(context.Background(), ports.Prompt{Human: "q"}, ports.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, model.calls)
}

func TestGenerateDoesNotRetryAfterPartialStream(t *testing.T) {
	model := &fakeModel{
		chunks:      []string{"partial"},
		errs:        []error{errors.New("API returned unexpected status code: 503")},
		errAfterOut: true,
	}
	gen := NewGenerator(model, fastExecutor(), nil)

	_, err := gen.Generate(context.Background(), ports.Prompt{Human: "q"}, ports.GenerateOptions{
		Tag:  domain.StreamFinal,
		Sink: func(domain.StreamTag, string) {},
	})
	require.Error(t, err)
	assert.Equal(t, 1, model.calls)
}

func TestGenerateMapsAuthFailureToForbidden(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("API returned unexpected status code: 401: bad key")}}
	gen := NewGenerator(model, fastExecutor(), nil)

	_, err := gen.Generate(context.Background(), ports.Prompt{Human: "q"}, ports.GenerateOptions{})
	assert.True(t, domain.IsKind(err, domain.ErrForbidden))
	assert.Equal(t, 1, model.calls)
}

func TestClassifyModelError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "rate limited", err: errors.New("status code: 429"), retryable: true},
		{name: "bad request", err: errors.New("status code: 400"), retryable: false},
		{name: "cancelled", err: context.Canceled, retryable: false},
		{name: "temporary", err: domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), retryable: true},
		{name: "unknown", err: errors.New("boom"), retryable: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, classifyModelError(tc.err).Retryable)
		})
	}
}
