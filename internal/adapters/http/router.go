package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/metrics"
)

const maxAskBodyBytes = 1 << 20

type Options struct {
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
	RunTimeout       time.Duration
	Metrics          *metrics.HTTPServerMetrics
	Logger           *zap.Logger
}

type Router struct {
	orchestrator ports.QueryOrchestrator
	runs         ports.RunReader
	opts         Options
	logger       *zap.Logger
}

func NewRouter(orchestrator ports.QueryOrchestrator, runs ports.RunReader, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		orchestrator: orchestrator,
		runs:         runs,
		opts:         opts,
		logger:       logger,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	if rt.opts.Metrics != nil {
		r.Use(rt.opts.Metrics.Middleware)
	}
	r.Use(accessLogMiddleware(rt.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if rt.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.opts.Metrics.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(rt.trafficControl)
		v1.Post("/ask", rt.handleAsk)
		v1.Get("/runs/{id}", rt.handleGetRun)
	})

	return r
}

func (rt *Router) trafficControl(next http.Handler) http.Handler {
	onReject := func(reason string) func() {
		if rt.opts.Metrics == nil {
			return nil
		}
		return func() { rt.opts.Metrics.RecordRejected(reason) }
	}
	wrapped := backpressureWithHook(next, rt.opts.MaxInFlight, rt.opts.BackpressureWait, onReject("backpressure"))
	return rateLimitMiddleware(wrapped, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst, onReject("rate_limit"))
}

type askRequest struct {
	Question           string               `json:"question"`
	ChatHistory        []domain.ChatMessage `json:"chat_history"`
	SelectedSourceIDs  []string             `json:"selected_source_ids"`
	PermittedSourceIDs []string             `json:"permitted_source_ids"`
	Stream             bool                 `json:"stream"`
}

func (a askRequest) toDomain() domain.Request {
	return domain.Request{
		Question:           a.Question,
		ChatHistory:        a.ChatHistory,
		SelectedSourceIDs:  a.SelectedSourceIDs,
		PermittedSourceIDs: a.PermittedSourceIDs,
	}
}

type askResponse struct {
	*domain.Response
	Error string `json:"error,omitempty"`
}

func (rt *Router) handleAsk(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxAskBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ctx := r.Context()
	if rt.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.opts.RunTimeout)
		defer cancel()
	}

	if body.Stream {
		rt.streamAsk(w, r.WithContext(ctx), body.toDomain())
		return
	}

	resp, err := rt.orchestrator.Run(ctx, body.toDomain(), nil)
	if resp == nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		rt.logRunError(r, status, err)
		writeJSON(w, status, askResponse{Response: resp, Error: publicMessage(status, err)})
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Response: resp})
}

func (rt *Router) streamAsk(w http.ResponseWriter, r *http.Request, req domain.Request) {
	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp, runErr := rt.orchestrator.Run(r.Context(), req, func(tag domain.StreamTag, token string) {
		stream.send("token", tokenEvent{Tag: tag, Token: token})
	})

	switch {
	case resp != nil:
		envelope := askResponse{Response: resp}
		if runErr != nil {
			status := mapErrorToHTTPStatus(runErr)
			rt.logRunError(r, status, runErr)
			envelope.Error = publicMessage(status, runErr)
		}
		stream.send("done", envelope)
	case runErr != nil:
		status := mapErrorToHTTPStatus(runErr)
		rt.logRunError(r, status, runErr)
		stream.send("error", map[string]any{"status": status, "error": publicMessage(status, runErr)})
	}
	stream.close()
}

func (rt *Router) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	record, err := rt.runs.GetRun(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("run produced no response")
	}
	status := mapErrorToHTTPStatus(err)
	rt.logRunError(r, status, err)
	writeError(w, status, publicMessage(status, err))
}

func (rt *Router) logRunError(r *http.Request, status int, err error) {
	fields := []zap.Field{
		zap.String("request_id", requestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed", fields...)
		return
	}
	rt.logger.Warn("request_rejected", fields...)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
