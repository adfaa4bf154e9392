package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/core/budget"
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/core/summarize"
)

// Summarizer is the whole-document answering engine.
type Summarizer interface {
	Answer(ctx context.Context, in summarize.Input, docs []domain.Document) (string, error)
	MapReduce(ctx context.Context, in summarize.Input, groups []domain.DocumentGroup) (summarize.Result, error)
}

// RunPublisher hands finished run records to the activity pipeline.
type RunPublisher interface {
	PublishRun(ctx context.Context, record domain.RunRecord) error
}

type Dependencies struct {
	AllChunks ports.Retriever
	Hybrid    ports.Retriever
	Metadata  ports.Retriever

	Embedder   ports.Embedder
	Generator  ports.Generator
	Evaluator  *budget.Evaluator
	Summarizer Summarizer

	Settings  domain.AISettings
	Publisher RunPublisher
	Observer  ports.RunObserver
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Now       func() time.Time
	NewID     func() string
}

// Orchestrator drives one request through the routing state machine.
type Orchestrator struct {
	deps Dependencies
}

func NewOrchestrator(deps Dependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/kirillkom/docqa-orchestrator/orchestrator")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Orchestrator{deps: deps}
}

// run is the per-request working set. Only the coordinating goroutine
// touches it.
type run struct {
	state *domain.OrchestrationState
	sink  ports.TokenSink

	cause       error
	terminalErr error

	// chunks holds the all-chunks read so a route change after the text
	// budget check does not query the index twice.
	chunks       []domain.Document
	chunksLoaded bool
}

func (o *Orchestrator) Run(ctx context.Context, req domain.Request, sink ports.TokenSink) (*domain.Response, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "orchestrator.run", errors.New("question is required"))
	}
	if req.Settings.ContextWindowSize <= 0 {
		req.Settings = o.deps.Settings
	}

	started := o.deps.Now()
	r := &run{
		state: domain.NewOrchestrationState(o.deps.NewID(), req, o.deps.Now),
		sink:  sink,
	}
	logger := o.deps.Logger.With(zap.String("run_id", r.state.RunID))

	ctx, span := o.deps.Tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("run.id", r.state.RunID),
		attribute.Int("request.selected_sources", len(req.SelectedSourceIDs)),
	))
	defer span.End()

	runErr := o.drive(ctx, r, logger)
	if runErr == nil {
		runErr = r.terminalErr
	}

	elapsed := o.deps.Now().Sub(started)
	outcome := outcomeOf(r.state.Route, runErr)
	o.deps.Observer.ObserveRun(r.state.Route, outcome, elapsed)
	span.SetAttributes(attribute.String("run.route", r.state.Route.String()), attribute.String("run.outcome", outcome))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, outcome)
	}
	logger.Info("orchestrator_run_finished",
		zap.String("route", r.state.Route.String()),
		zap.String("outcome", outcome),
		zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000.0),
		zap.Error(runErr),
	)
	o.publish(ctx, r.state, elapsed, runErr, logger)

	if r.state.Route == domain.RouteUnset {
		return nil, runErr
	}
	resp := r.state.Response()
	return &resp, runErr
}

func (o *Orchestrator) drive(ctx context.Context, r *run, logger *zap.Logger) error {
	current := StateRetrieveMetadata
	for current != StateDone {
		if err := ctx.Err(); err != nil {
			return err
		}

		stepCtx, span := o.deps.Tracer.Start(ctx, "orchestrator."+current.String())
		event, err := o.step(stepCtx, current, r)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return fmt.Errorf("%s: %w", current, err)
		}
		span.SetAttributes(attribute.String("orchestrator.event", event.String()))
		span.End()

		next, err := Transition(current, event)
		if err != nil {
			return err
		}
		logger.Debug("orchestrator_transition",
			zap.String("from", current.String()),
			zap.String("event", event.String()),
			zap.String("to", next.String()),
		)
		current = next
	}
	return nil
}

func (o *Orchestrator) step(ctx context.Context, s State, r *run) (Event, error) {
	switch s {
	case StateRetrieveMetadata:
		return o.retrieveMetadata(ctx, r)
	case StateKeywordRouteCheck:
		return o.keywordRouteCheck(r)
	case StateDocumentSelectionCheck:
		return o.documentSelectionCheck(r)
	case StateChat:
		return o.chat(ctx, r)
	case StateSearch:
		return o.search(ctx, r)
	case StateMetadataAnswer:
		return o.metadataAnswer(ctx, r)
	case StateEvaluateBudget:
		return o.evaluateBudget(r)
	case StateSelfRoute:
		return o.selfRoute(ctx, r)
	case StateChatWithDocuments:
		return o.chatWithDocuments(ctx, r)
	case StateChatWithDocumentsMapReduce:
		return o.chatWithDocumentsMapReduce(ctx, r)
	case StateDocumentsTooLarge:
		return o.documentsTooLarge(r)
	case StateNoDocumentSelected:
		return o.noDocumentSelected(r)
	case StateAccessDenied:
		return o.accessDenied(r)
	case StateDone:
		return EventCompleted, fmt.Errorf("orchestrator: step called on %s", s)
	default:
		return EventCompleted, fmt.Errorf("orchestrator: unknown state %s", s)
	}
}

func (o *Orchestrator) publish(ctx context.Context, state *domain.OrchestrationState, elapsed time.Duration, runErr error, logger *zap.Logger) {
	if o.deps.Publisher == nil {
		return
	}
	record := domain.RunRecord{
		ID:             state.RunID,
		Route:          state.Route,
		Question:       state.Request.Question,
		ActivityLog:    state.ActivityLog,
		CitedSourceIDs: citedSources(state.Citations),
		DurationMS:     elapsed.Milliseconds(),
		CreatedAt:      o.deps.Now().UTC(),
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
	if err := o.deps.Publisher.PublishRun(context.WithoutCancel(ctx), record); err != nil {
		logger.Warn("run_record_publish_failed", zap.Error(err))
	}
}

func outcomeOf(route domain.Route, err error) string {
	switch {
	case err == nil && route.IsError():
		return "rejected"
	case err == nil:
		return "ok"
	case domain.IsKind(err, domain.ErrForbidden):
		return "forbidden"
	case domain.IsKind(err, domain.ErrNoDocumentSelected):
		return "no_document_selected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func citedSources(citations []domain.Citation) []string {
	seen := make(map[string]struct{}, len(citations))
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		if _, ok := seen[c.SourceID]; ok {
			continue
		}
		seen[c.SourceID] = struct{}{}
		out = append(out, c.SourceID)
	}
	return out
}
