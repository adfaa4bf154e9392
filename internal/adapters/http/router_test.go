package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/metrics"
)

type fakeOrchestrator struct {
	mu     sync.Mutex
	got    []domain.Request
	tokens []tokenEvent
	resp   *domain.Response
	err    error
}

func (f *fakeOrchestrator) Run(_ context.Context, req domain.Request, sink ports.TokenSink) (*domain.Response, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	if sink != nil {
		for _, ev := range f.tokens {
			sink(ev.Tag, ev.Token)
		}
	}
	return f.resp, f.err
}

type fakeRunReader struct {
	records map[string]*domain.RunRecord
}

func (f *fakeRunReader) GetRun(_ context.Context, id string) (*domain.RunRecord, error) {
	if record, ok := f.records[id]; ok {
		return record, nil
	}
	if f.records == nil {
		return &domain.RunRecord{ID: id}, nil
	}
	return nil, domain.WrapError(domain.ErrNotFound, "runs.get", errors.New("no such run"))
}

func newTestRouter(t *testing.T, orchestrator ports.QueryOrchestrator, runs ports.RunReader, opts Options) http.Handler {
	t.Helper()
	return NewRouter(orchestrator, runs, opts).Handler()
}

func postAsk(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAskReturnsEnvelope(t *testing.T) {
	orchestrator := &fakeOrchestrator{resp: &domain.Response{
		RunID: "run-1",
		Route: domain.RouteChatWithDocuments,
		Text:  "Paris [1]",
		Citations: []domain.Citation{
			{Index: 1, SourceID: "doc-a", ChunkIndex: 3, Text: "Paris is the capital."},
		},
	}}
	handler := newTestRouter(t, orchestrator, &fakeRunReader{}, Options{})

	res := postAsk(t, handler, `{"question":"capital?","selected_source_ids":["doc-a"],"permitted_source_ids":["doc-a"],"chat_history":[{"role":"user","text":"hi"}]}`)
	require.Equal(t, http.StatusOK, res.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload))
	assert.Equal(t, "run-1", payload["run_id"])
	assert.Equal(t, "chat_with_documents", payload["route"])
	assert.Equal(t, "Paris [1]", payload["text"])
	assert.NotContains(t, payload, "error")

	require.Len(t, orchestrator.got, 1)
	got := orchestrator.got[0]
	assert.Equal(t, "capital?", got.Question)
	assert.Equal(t, []string{"doc-a"}, got.SelectedSourceIDs)
	assert.Equal(t, []string{"doc-a"}, got.PermittedSourceIDs)
	require.Len(t, got.ChatHistory, 1)
	assert.Equal(t, domain.RoleUser, got.ChatHistory[0].Role)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	orchestrator := &fakeOrchestrator{}
	handler := newTestRouter(t, orchestrator, &fakeRunReader{}, Options{})

	res := postAsk(t, handler, `{"question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Empty(t, orchestrator.got)
}

func TestAskRejectsMalformedBody(t *testing.T) {
	handler := newTestRouter(t, &fakeOrchestrator{}, &fakeRunReader{}, Options{})

	res := postAsk(t, handler, `{"question":`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = postAsk(t, handler, `{"question":"q","unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAskTerminalRouteErrorsKeepEnvelope(t *testing.T) {
	cases := []struct {
		name   string
		route  domain.Route
		err    error
		status int
	}{
		{
			name:   "no document selected",
			route:  domain.RouteNoDocumentSelected,
			err:    domain.WrapError(domain.ErrNoDocumentSelected, "orchestrator.run", errors.New("nothing selected")),
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "access denied",
			route:  domain.RouteAccessDenied,
			err:    domain.WrapError(domain.ErrForbidden, "orchestrator.run", errors.New("not permitted")),
			status: http.StatusForbidden,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orchestrator := &fakeOrchestrator{
				resp: &domain.Response{RunID: "run-1", Route: tc.route, Text: "static text"},
				err:  tc.err,
			}
			handler := newTestRouter(t, orchestrator, &fakeRunReader{}, Options{})

			res := postAsk(t, handler, `{"question":"q"}`)
			require.Equal(t, tc.status, res.Code)

			var payload map[string]any
			require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload))
			assert.Equal(t, tc.route.String(), payload["route"])
			assert.Equal(t, "static text", payload["text"])
			assert.NotEmpty(t, payload["error"])
		})
	}
}

func TestAskMapsFailuresWithoutResponse(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"temporary", domain.WrapError(domain.ErrTemporary, "llm.generate", errors.New("upstream down")), http.StatusServiceUnavailable},
		{"invalid input", domain.WrapError(domain.ErrInvalidInput, "orchestrator.run", errors.New("bad")), http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(t, &fakeOrchestrator{err: tc.err}, &fakeRunReader{}, Options{})

			res := postAsk(t, handler, `{"question":"q"}`)
			require.Equal(t, tc.status, res.Code)

			var payload map[string]string
			require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload))
			assert.NotEmpty(t, payload["error"])
			if tc.status >= http.StatusInternalServerError {
				assert.NotContains(t, payload["error"], "upstream down")
				assert.NotContains(t, payload["error"], "boom")
			}
		})
	}
}

func TestAskStreamsTokensThenEnvelope(t *testing.T) {
	orchestrator := &fakeOrchestrator{
		tokens: []tokenEvent{
			{Tag: domain.StreamMap, Token: "partial"},
			{Tag: domain.StreamFinal, Token: "Hello"},
			{Tag: domain.StreamFinal, Token: " world"},
		},
		resp: &domain.Response{RunID: "run-7", Route: domain.RouteChat, Text: "Hello world"},
	}
	handler := newTestRouter(t, orchestrator, &fakeRunReader{}, Options{})

	res := postAsk(t, handler, `{"question":"hi","stream":true}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "text/event-stream", res.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSpace(res.Body.String()), "\n\n")
	require.Len(t, frames, 5)
	assert.Equal(t, `event: token`+"\n"+`data: {"tag":"map","token":"partial"}`, frames[0])
	assert.Equal(t, `event: token`+"\n"+`data: {"tag":"final","token":"Hello"}`, frames[1])
	assert.Equal(t, `event: token`+"\n"+`data: {"tag":"final","token":" world"}`, frames[2])
	assert.True(t, strings.HasPrefix(frames[3], "event: done\ndata: "))
	assert.Equal(t, "data: [DONE]", frames[4])

	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[3], "event: done\ndata: ")), &envelope))
	assert.Equal(t, "run-7", envelope["run_id"])
	assert.Equal(t, "chat", envelope["route"])
}

func TestAskStreamReportsFailure(t *testing.T) {
	orchestrator := &fakeOrchestrator{err: domain.WrapError(domain.ErrTemporary, "llm.generate", errors.New("down"))}
	handler := newTestRouter(t, orchestrator, &fakeRunReader{}, Options{})

	res := postAsk(t, handler, `{"question":"hi","stream":true}`)
	require.Equal(t, http.StatusOK, res.Code)

	body := res.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, `"status":503`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestGetRun(t *testing.T) {
	runs := &fakeRunReader{records: map[string]*domain.RunRecord{
		"run-1": {ID: "run-1", Route: domain.RouteChat, Question: "hi", CitedSourceIDs: []string{"doc-a"}},
	}}
	handler := newTestRouter(t, &fakeOrchestrator{}, runs, Options{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/runs/run-1", nil))
	require.Equal(t, http.StatusOK, res.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload))
	assert.Equal(t, "run-1", payload["id"])
	assert.Equal(t, "chat", payload["route"])

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestMetricsEndpointCountsRoutePattern(t *testing.T) {
	httpMetrics := metrics.NewHTTPServerMetrics("api-test")
	handler := newTestRouter(t, &fakeOrchestrator{}, &fakeRunReader{}, Options{Metrics: httpMetrics})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/runs/run-9", nil))
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `path="/v1/runs/{id}"`)
}
