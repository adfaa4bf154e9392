package domain

import (
	"fmt"
	"time"
)

type StreamTag string

const (
	StreamFinal     StreamTag = "final"
	StreamMap       StreamTag = "map"
	StreamReduce    StreamTag = "reduce"
	StreamSelfRoute StreamTag = "self_route"
)

type ActivityEvent struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Response is the envelope returned for every terminal route.
type Response struct {
	RunID       string          `json:"run_id"`
	Route       Route           `json:"route"`
	Text        string          `json:"text"`
	Citations   []Citation      `json:"citations,omitempty"`
	ActivityLog []ActivityEvent `json:"activity_log,omitempty"`
}

// OrchestrationState is the working record of one run. It is owned by a
// single goroutine; fan-out units receive copies of their documents instead.
type OrchestrationState struct {
	RunID   string
	Request Request
	Route   Route

	Metadata          []Document
	Documents         DocumentGroups
	CondensedQuestion string
	Summaries         []string
	Text              string
	Citations         []Citation
	ActivityLog       []ActivityEvent

	now func() time.Time
}

func NewOrchestrationState(runID string, req Request, now func() time.Time) *OrchestrationState {
	if now == nil {
		now = time.Now
	}
	return &OrchestrationState{RunID: runID, Request: req, CondensedQuestion: req.Question, now: now}
}

func (s *OrchestrationState) Logf(format string, args ...any) {
	s.ActivityLog = append(s.ActivityLog, ActivityEvent{At: s.now().UTC(), Message: fmt.Sprintf(format, args...)})
}

func (s *OrchestrationState) SetDocuments(docs []Document) {
	s.Documents = GroupDocuments(docs)
}

func (s *OrchestrationState) ClearDocuments() {
	s.Documents = DocumentGroups{}
	s.Metadata = nil
	s.Summaries = nil
}

func (s *OrchestrationState) Response() Response {
	log := make([]ActivityEvent, len(s.ActivityLog))
	copy(log, s.ActivityLog)
	return Response{
		RunID:       s.RunID,
		Route:       s.Route,
		Text:        s.Text,
		Citations:   s.Citations,
		ActivityLog: log,
	}
}

// RunRecord is the persisted summary of a finished run.
type RunRecord struct {
	ID             string          `json:"id"`
	Route          Route           `json:"route"`
	Question       string          `json:"question"`
	ActivityLog    []ActivityEvent `json:"activity_log"`
	CitedSourceIDs []string        `json:"cited_source_ids,omitempty"`
	DurationMS     int64           `json:"duration_ms"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
