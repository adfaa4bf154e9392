package usecase

import (
	"context"
	"time"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

type noopObserver struct{}

func (noopObserver) ObserveRun(domain.Route, string, time.Duration) {}
func (noopObserver) ObserveRetrieval(string, int)                   {}
func (noopObserver) ObserveGeneration(domain.StreamTag)             {}

type observedGenerator struct {
	next     ports.Generator
	observer ports.RunObserver
}

// ObserveGenerator counts every generation call by stream tag.
func ObserveGenerator(next ports.Generator, observer ports.RunObserver) ports.Generator {
	if observer == nil {
		return next
	}
	return &observedGenerator{next: next, observer: observer}
}

func (g *observedGenerator) Generate(ctx context.Context, prompt ports.Prompt, opts ports.GenerateOptions) (string, error) {
	g.observer.ObserveGeneration(opts.Tag)
	return g.next.Generate(ctx, prompt, opts)
}
