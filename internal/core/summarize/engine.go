package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/core/budget"
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/core/prompting"
)

const defaultMaxConcurrency = 8

// Input carries the per-run parameters of a summarisation.
type Input struct {
	Question string
	History  []domain.ChatMessage
	Settings domain.AISettings
	Sink     ports.TokenSink
}

type Result struct {
	Answer         string
	GroupSummaries []string
	MapCalls       int
	ReduceCalls    int
}

// Engine answers over whole documents, either in one pass or by map-reduce.
// Map steps share one bounded pool, so concurrent runs never exceed the
// configured number of simultaneous generation calls.
type Engine struct {
	generator ports.Generator
	evaluator *budget.Evaluator
	pool      *ants.Pool
	logger    *zap.Logger
}

func NewEngine(generator ports.Generator, evaluator *budget.Evaluator, maxConcurrency int, logger *zap.Logger) (*Engine, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := ants.NewPool(maxConcurrency)
	if err != nil {
		return nil, fmt.Errorf("create summarisation pool: %w", err)
	}
	return &Engine{generator: generator, evaluator: evaluator, pool: pool, logger: logger}, nil
}

func (e *Engine) Close() {
	e.pool.Release()
}

// Answer renders the chat_with_documents prompt over docs and streams the
// final answer.
func (e *Engine) Answer(ctx context.Context, in Input, docs []domain.Document) (string, error) {
	prompt, err := prompting.Render(in.Settings.Prompts.ChatWithDocuments, in.History, prompting.Vars{
		Question:  in.Question,
		Documents: docs,
	})
	if err != nil {
		return "", err
	}
	return e.generator.Generate(ctx, prompt, ports.GenerateOptions{
		Tag:       domain.StreamFinal,
		Sink:      in.Sink,
		MaxTokens: in.Settings.LLMMaxTokens,
	})
}

// MapReduce summarises every chunk, reduces per group, then produces the
// final answer from the group summaries. Reduce inputs always follow the
// Partition order.
func (e *Engine) MapReduce(ctx context.Context, in Input, groups []domain.DocumentGroup) (Result, error) {
	var mapCalls, reduceCalls atomic.Int64
	units := Partition(groups)
	budgetTokens := in.Settings.InputBudget()

	mapOverhead, err := e.overhead(in.Settings.Prompts.MapDocument, nil, in.Question)
	if err != nil {
		return Result{}, err
	}

	summaries, err := e.run(ctx, len(units), func(ctx context.Context, i int) (string, error) {
		unit := units[i]
		if e.evaluator.CountDocument(unit.Document)+mapOverhead > budgetTokens {
			return "", domain.WrapError(domain.ErrContextTooLarge, "summarize.map",
				fmt.Errorf("chunk %s exceeds budget of %d tokens", unit.Document.Key(), budgetTokens))
		}
		mapCalls.Add(1)
		return e.generate(ctx, in, in.Settings.Prompts.MapDocument, nil, prompting.Vars{
			Question:  in.Question,
			Documents: []domain.Document{unit.Document},
		}, domain.StreamMap)
	})
	if err != nil {
		return Result{}, err
	}

	perGroup := groupResults(groups, summaries)
	groupSummaries, err := e.run(ctx, len(perGroup), func(ctx context.Context, i int) (string, error) {
		return e.reduce(ctx, in, perGroup[i], &reduceCalls)
	})
	if err != nil {
		return Result{}, err
	}

	final, err := e.collapse(ctx, in, in.Settings.Prompts.MapReduceAnswer, groupSummaries, &reduceCalls)
	if err != nil {
		return Result{}, err
	}
	reduceCalls.Add(1)
	answer, err := e.generate(ctx, in, in.Settings.Prompts.MapReduceAnswer, in.History, prompting.Vars{
		Question:  in.Question,
		Summaries: final,
	}, domain.StreamFinal)
	if err != nil {
		return Result{}, err
	}

	e.logger.Debug("map_reduce_completed",
		zap.Int("groups", len(groups)),
		zap.Int("map_calls", int(mapCalls.Load())),
		zap.Int("reduce_calls", int(reduceCalls.Load())),
	)
	return Result{
		Answer:         answer,
		GroupSummaries: groupSummaries,
		MapCalls:       int(mapCalls.Load()),
		ReduceCalls:    int(reduceCalls.Load()),
	}, nil
}

// reduce merges one group's chunk summaries. A single summary is used as is.
func (e *Engine) reduce(ctx context.Context, in Input, summaries []string, calls *atomic.Int64) (string, error) {
	if len(summaries) == 1 {
		return summaries[0], nil
	}
	fitted, err := e.collapse(ctx, in, in.Settings.Prompts.ReduceGroup, summaries, calls)
	if err != nil {
		return "", err
	}
	calls.Add(1)
	return e.generate(ctx, in, in.Settings.Prompts.ReduceGroup, nil, prompting.Vars{
		Question:  in.Question,
		Summaries: fitted,
	}, domain.StreamReduce)
}

// collapse batches summaries through extra reduce calls until their joined
// text fits tpl's budget. It fails with ErrContextTooLarge once a single
// summary cannot fit or batching stops making progress.
func (e *Engine) collapse(ctx context.Context, in Input, tpl domain.PromptTemplate, summaries []string, calls *atomic.Int64) ([]string, error) {
	budgetTokens := in.Settings.InputBudget()
	overhead, err := e.overhead(tpl, nil, in.Question)
	if err != nil {
		return nil, err
	}

	for {
		joined := strings.Join(summaries, prompting.SummaryDelimiter)
		if e.evaluator.Fits(joined, overhead, budgetTokens) {
			return summaries, nil
		}
		batches, err := e.batch(summaries, overhead, budgetTokens)
		if err != nil {
			return nil, err
		}
		if len(batches) == len(summaries) {
			return nil, domain.WrapError(domain.ErrContextTooLarge, "summarize.collapse",
				fmt.Errorf("%d summaries cannot be combined within %d tokens", len(summaries), budgetTokens))
		}

		next := make([]string, 0, len(batches))
		for _, batch := range batches {
			if len(batch) == 1 {
				next = append(next, batch[0])
				continue
			}
			calls.Add(1)
			out, err := e.generate(ctx, in, in.Settings.Prompts.ReduceGroup, nil, prompting.Vars{
				Question:  in.Question,
				Summaries: batch,
			}, domain.StreamReduce)
			if err != nil {
				return nil, err
			}
			next = append(next, out)
		}
		summaries = next
	}
}

// batch packs consecutive summaries greedily under the budget.
func (e *Engine) batch(summaries []string, overhead, budgetTokens int) ([][]string, error) {
	delimiter := e.evaluator.CountText(prompting.SummaryDelimiter)
	var out [][]string
	var current []string
	used := overhead
	for _, s := range summaries {
		n := e.evaluator.CountText(s)
		if n+overhead > budgetTokens {
			return nil, domain.WrapError(domain.ErrContextTooLarge, "summarize.batch",
				fmt.Errorf("summary of %d tokens exceeds budget of %d", n, budgetTokens))
		}
		cost := n
		if len(current) > 0 {
			cost += delimiter
		}
		if len(current) > 0 && used+cost > budgetTokens {
			out = append(out, current)
			current = nil
			used = overhead
			cost = n
		}
		current = append(current, s)
		used += cost
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out, nil
}

func (e *Engine) generate(ctx context.Context, in Input, tpl domain.PromptTemplate, history []domain.ChatMessage, vars prompting.Vars, tag domain.StreamTag) (string, error) {
	prompt, err := prompting.Render(tpl, history, vars)
	if err != nil {
		return "", err
	}
	return e.generator.Generate(ctx, prompt, ports.GenerateOptions{
		Tag:       tag,
		Sink:      in.Sink,
		MaxTokens: in.Settings.LLMMaxTokens,
	})
}

func (e *Engine) overhead(tpl domain.PromptTemplate, history []domain.ChatMessage, question string) (int, error) {
	prompt, err := prompting.Render(tpl, history, prompting.Vars{Question: question})
	if err != nil {
		return 0, err
	}
	return e.evaluator.CountText(prompting.Text(prompt)), nil
}

// run executes fn for indices [0,n) on the pool and returns results by index.
// The first failure cancels the remaining work.
func (e *Engine) run(ctx context.Context, n int, fn func(context.Context, int) (string, error)) ([]string, error) {
	results := make([]string, n)
	errs := make([]error, n)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			out, err := fn(ctx, i)
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			results[i] = out
		}
		if err := e.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit summarisation task: %w", err)
			cancel()
			break
		}
	}
	wg.Wait()

	if err := firstError(errs); err != nil {
		return nil, err
	}
	return results, nil
}

// firstError prefers a real failure over the cancellations it caused.
func firstError(errs []error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}
