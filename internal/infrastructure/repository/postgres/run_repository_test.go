package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

func newMock(t *testing.T) (*RunRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRunRepository(db), mock
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(schemaLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orchestrator_runs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunUpserts(t *testing.T) {
	repo, mock := newMock(t)
	created := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO orchestrator_runs").
		WithArgs("run-1", "search", "why?", []byte(`[{"at":"2026-10-18T09:00:00Z","message":"searching"}]`), []byte(`["a"]`), int64(42), sqlmock.AnyArg(), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveRun(context.Background(), domain.RunRecord{
		ID:             "run-1",
		Route:          domain.RouteSearch,
		Question:       "why?",
		ActivityLog:    []domain.ActivityEvent{{At: created, Message: "searching"}},
		CitedSourceIDs: []string{"a"},
		DurationMS:     42,
		CreatedAt:      created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRejectsEmptyID(t *testing.T) {
	repo, mock := newMock(t)
	err := repo.SaveRun(context.Background(), domain.RunRecord{})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunDecodesRow(t *testing.T) {
	repo, mock := newMock(t)
	created := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "route", "question", "activity_log", "cited_source_ids", "duration_ms", "error_message", "created_at"}).
		AddRow("run-1", "chat_with_documents_map_reduce", "summarise", []byte(`[{"at":"2026-10-18T09:00:00Z","message":"Summarising 2 documents"}]`), []byte(`["a","b"]`), int64(900), "boom", created)
	mock.ExpectQuery("FROM orchestrator_runs").WithArgs("run-1").WillReturnRows(rows)

	record, err := repo.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RouteChatWithDocumentsMapReduce, record.Route)
	assert.Equal(t, []string{"a", "b"}, record.CitedSourceIDs)
	require.Len(t, record.ActivityLog, 1)
	assert.Equal(t, "Summarising 2 documents", record.ActivityLog[0].Message)
	assert.Equal(t, "boom", record.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunMissingIsNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("FROM orchestrator_runs").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetRun(context.Background(), "nope")
	assert.True(t, domain.IsKind(err, domain.ErrNotFound))
}
