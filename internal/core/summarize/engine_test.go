package summarize

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa-orchestrator/internal/core/budget"
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int { return len(strings.Fields(text)) }

var chunkPattern = regexp.MustCompile(`file=(\S+) chunk=(\d+)`)

type fakeGenerator struct {
	mu          sync.Mutex
	calls       map[domain.StreamTag]int
	reduceIn    []string
	inFlight    int
	maxInFlight int
	delay       func(prompt ports.Prompt) time.Duration
	failOn      string
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{calls: make(map[domain.StreamTag]int)}
}

func (f *fakeGenerator) Generate(ctx context.Context, p ports.Prompt, opts ports.GenerateOptions) (string, error) {
	f.mu.Lock()
	f.calls[opts.Tag]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	if opts.Tag != domain.StreamMap {
		f.reduceIn = append(f.reduceIn, p.System)
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(p)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.failOn != "" && strings.Contains(p.System, f.failOn) {
		return "", errors.New("model unavailable")
	}

	var out string
	switch opts.Tag {
	case domain.StreamMap:
		m := chunkPattern.FindStringSubmatch(p.System)
		out = fmt.Sprintf("sum-%s-%s", m[1], m[2])
	case domain.StreamReduce:
		out = "r[" + strings.ReplaceAll(p.System, " ; ", "|") + "]"
	default:
		out = "answer:" + p.System
	}
	if opts.Sink != nil {
		opts.Sink(opts.Tag, out)
	}
	return out, nil
}

func testSettings(window int) domain.AISettings {
	s := domain.DefaultAISettings()
	s.ContextWindowSize = window
	s.LLMMaxTokens = 0
	s.Prompts.MapDocument = domain.PromptTemplate{System: "{{.documents}}", Question: "{{.question}}"}
	s.Prompts.ReduceGroup = domain.PromptTemplate{System: "{{.summaries}}", Question: "{{.question}}"}
	s.Prompts.MapReduceAnswer = domain.PromptTemplate{System: "{{.summaries}}", Question: "{{.question}}"}
	return s
}

func group(source string, chunks, wordsPerChunk int) domain.DocumentGroup {
	g := domain.DocumentGroup{SourceID: source}
	text := strings.TrimSpace(strings.Repeat("w ", wordsPerChunk))
	for i := 0; i < chunks; i++ {
		g.Documents = append(g.Documents, domain.Document{
			Text:     text,
			Metadata: domain.DocumentMetadata{SourceID: source, ChunkIndex: i},
		})
	}
	return g
}

func newEngine(t *testing.T, gen ports.Generator, concurrency int) *Engine {
	t.Helper()
	e, err := NewEngine(gen, budget.NewEvaluator(wordTokenizer{}), concurrency, nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestPartitionEnumeratesGroupThenChunk(t *testing.T) {
	units := Partition([]domain.DocumentGroup{group("a", 2, 1), group("b", 1, 1)})
	require.Len(t, units, 3)
	assert.Equal(t, Unit{Group: 0, Chunk: 1, SourceID: "a", Document: units[1].Document}, units[1])
	assert.Equal(t, "b", units[2].SourceID)
	assert.Equal(t, 1, units[2].Group)
}

func TestMapReduceFiftyChunksSingleGroup(t *testing.T) {
	gen := newFakeGenerator()
	e := newEngine(t, gen, 4)

	res, err := e.MapReduce(context.Background(), Input{Question: "q", Settings: testSettings(8000)},
		[]domain.DocumentGroup{group("src", 50, 1000)})
	require.NoError(t, err)

	assert.Equal(t, 50, res.MapCalls)
	assert.Equal(t, 2, res.ReduceCalls)
	assert.Equal(t, 50, gen.calls[domain.StreamMap])
	assert.Equal(t, 1, gen.calls[domain.StreamReduce])
	assert.Equal(t, 1, gen.calls[domain.StreamFinal])

	var want []string
	for i := 0; i < 50; i++ {
		want = append(want, fmt.Sprintf("sum-src-%d", i))
	}
	assert.Equal(t, strings.Join(want, " ; "), gen.reduceIn[0])
}

func TestMapReduceOrderIsIndependentOfCompletionOrder(t *testing.T) {
	groups := []domain.DocumentGroup{group("a", 4, 3), group("b", 3, 3), group("c", 1, 3)}
	run := func() ([]string, string) {
		gen := newFakeGenerator()
		gen.delay = func(p ports.Prompt) time.Duration {
			m := chunkPattern.FindStringSubmatch(p.System)
			if m == nil {
				return 0
			}
			return time.Duration(len(m[1])*7+int(m[2][0]-'0')*3) % 11 * time.Millisecond
		}
		e := newEngine(t, gen, 5)
		res, err := e.MapReduce(context.Background(), Input{Question: "q", Settings: testSettings(8000)}, groups)
		require.NoError(t, err)
		return res.GroupSummaries, res.Answer
	}

	firstGroups, firstAnswer := run()
	secondGroups, secondAnswer := run()
	assert.Equal(t, firstGroups, secondGroups)
	assert.Equal(t, firstAnswer, secondAnswer)
	assert.Equal(t, []string{
		"r[sum-a-0|sum-a-1|sum-a-2|sum-a-3]",
		"r[sum-b-0|sum-b-1|sum-b-2]",
		"sum-c-0",
	}, firstGroups)
}

func TestMapReduceRespectsConcurrencyLimit(t *testing.T) {
	gen := newFakeGenerator()
	gen.delay = func(ports.Prompt) time.Duration { return 5 * time.Millisecond }
	e := newEngine(t, gen, 3)

	_, err := e.MapReduce(context.Background(), Input{Question: "q", Settings: testSettings(8000)},
		[]domain.DocumentGroup{group("a", 10, 2), group("b", 10, 2)})
	require.NoError(t, err)
	assert.LessOrEqual(t, gen.maxInFlight, 3)
	assert.Greater(t, gen.maxInFlight, 1)
}

func TestMapReduceCollapsesOversizedGroup(t *testing.T) {
	gen := newFakeGenerator()
	e := newEngine(t, gen, 2)

	res, err := e.MapReduce(context.Background(), Input{Question: "q", Settings: testSettings(8)},
		[]domain.DocumentGroup{group("s", 6, 1)})
	require.NoError(t, err)

	assert.Equal(t, 6, res.MapCalls)
	assert.Equal(t, 4, res.ReduceCalls)
	assert.Equal(t, "answer:r[r[sum-s-0|sum-s-1|sum-s-2|sum-s-3]|r[sum-s-4|sum-s-5]]", res.Answer)
}

func TestMapReduceRejectsChunkLargerThanBudget(t *testing.T) {
	gen := newFakeGenerator()
	e := newEngine(t, gen, 2)

	_, err := e.MapReduce(context.Background(), Input{Question: "q", Settings: testSettings(50)},
		[]domain.DocumentGroup{group("s", 2, 100)})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrContextTooLarge))
	assert.Zero(t, gen.calls[domain.StreamFinal])
}

func TestMapReducePropagatesGenerationFailure(t *testing.T) {
	gen := newFakeGenerator()
	gen.failOn = "file=b chunk=0"
	e := newEngine(t, gen, 2)

	_, err := e.MapReduce(context.Background(), Input{Question: "q", Settings: testSettings(8000)},
		[]domain.DocumentGroup{group("a", 3, 1), group("b", 2, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestMapReduceTagsStreamedTokens(t *testing.T) {
	gen := newFakeGenerator()
	e := newEngine(t, gen, 2)

	var mu sync.Mutex
	tags := map[domain.StreamTag]int{}
	sink := func(tag domain.StreamTag, _ string) {
		mu.Lock()
		tags[tag]++
		mu.Unlock()
	}
	_, err := e.MapReduce(context.Background(), Input{Question: "q", Settings: testSettings(8000), Sink: sink},
		[]domain.DocumentGroup{group("a", 2, 1)})
	require.NoError(t, err)
	assert.Equal(t, map[domain.StreamTag]int{domain.StreamMap: 2, domain.StreamReduce: 1, domain.StreamFinal: 1}, tags)
}

func TestAnswerStreamsFinalTokens(t *testing.T) {
	gen := newFakeGenerator()
	e := newEngine(t, gen, 1)
	settings := testSettings(8000)
	settings.Prompts.ChatWithDocuments = domain.PromptTemplate{System: "{{.documents}}", Question: "{{.question}}"}

	var got []domain.StreamTag
	out, err := e.Answer(context.Background(), Input{Question: "q", Settings: settings, Sink: func(tag domain.StreamTag, _ string) {
		got = append(got, tag)
	}}, group("a", 1, 2).Documents)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "answer:[1] file=a chunk=0"))
	assert.Equal(t, []domain.StreamTag{domain.StreamFinal}, got)
}
