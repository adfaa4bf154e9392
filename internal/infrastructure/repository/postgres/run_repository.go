package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

const schemaLockID int64 = 2026101801

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS orchestrator_runs (
	id TEXT PRIMARY KEY,
	route TEXT NOT NULL,
	question TEXT NOT NULL,
	activity_log JSONB NOT NULL DEFAULT '[]'::jsonb,
	cited_source_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orchestrator_runs_created_at ON orchestrator_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orchestrator_runs_route ON orchestrator_runs(route);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveRun is idempotent on the run id; queue redelivery overwrites.
func (r *RunRepository) SaveRun(ctx context.Context, record domain.RunRecord) error {
	if record.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save run", errors.New("empty run id"))
	}
	activity, err := json.Marshal(nonNil(record.ActivityLog))
	if err != nil {
		return fmt.Errorf("encode activity log: %w", err)
	}
	cited, err := json.Marshal(nonNil(record.CitedSourceIDs))
	if err != nil {
		return fmt.Errorf("encode cited sources: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO orchestrator_runs (id, route, question, activity_log, cited_source_ids, duration_ms, error_message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
	route = EXCLUDED.route,
	question = EXCLUDED.question,
	activity_log = EXCLUDED.activity_log,
	cited_source_ids = EXCLUDED.cited_source_ids,
	duration_ms = EXCLUDED.duration_ms,
	error_message = EXCLUDED.error_message
`, record.ID, record.Route.String(), record.Question, activity, cited, record.DurationMS, nullString(record.Error), record.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, route, question, activity_log, cited_source_ids, duration_ms, error_message, created_at
FROM orchestrator_runs
WHERE id = $1
`, id)

	var (
		record   domain.RunRecord
		route    string
		activity []byte
		cited    []byte
		errText  sql.NullString
	)
	err := row.Scan(&record.ID, &route, &record.Question, &activity, &cited, &record.DurationMS, &errText, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get run", fmt.Errorf("run %s", id))
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := record.Route.UnmarshalText([]byte(route)); err != nil {
		return nil, fmt.Errorf("decode run route: %w", err)
	}
	if err := json.Unmarshal(activity, &record.ActivityLog); err != nil {
		return nil, fmt.Errorf("decode activity log: %w", err)
	}
	if err := json.Unmarshal(cited, &record.CitedSourceIDs); err != nil {
		return nil, fmt.Errorf("decode cited sources: %w", err)
	}
	record.Error = errText.String
	return &record, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ ports.RunRepository = (*RunRepository)(nil)
