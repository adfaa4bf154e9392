package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

type memoryRunRepo struct {
	runs map[string]domain.RunRecord
	err  error
}

func (r *memoryRunRepo) SaveRun(_ context.Context, record domain.RunRecord) error {
	if r.err != nil {
		return r.err
	}
	if r.runs == nil {
		r.runs = map[string]domain.RunRecord{}
	}
	r.runs[record.ID] = record
	return nil
}

func (r *memoryRunRepo) GetRun(_ context.Context, id string) (*domain.RunRecord, error) {
	record, ok := r.runs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get run", errors.New(id))
	}
	return &record, nil
}

func TestRunLogRecordsAndReads(t *testing.T) {
	repo := &memoryRunRepo{}
	log := NewRunLog(repo, nil)

	require.NoError(t, log.Record(context.Background(), domain.RunRecord{ID: "run-1", Route: domain.RouteChat}))

	got, err := log.GetRun(context.Background(), " run-1 ")
	require.NoError(t, err)
	assert.Equal(t, domain.RouteChat, got.Route)
}

func TestRunLogRejectsEmptyID(t *testing.T) {
	log := NewRunLog(&memoryRunRepo{}, nil)

	err := log.Record(context.Background(), domain.RunRecord{})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))

	_, err = log.GetRun(context.Background(), "")
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestRunLogWrapsRepositoryFailure(t *testing.T) {
	cause := errors.New("db down")
	log := NewRunLog(&memoryRunRepo{err: cause}, nil)

	err := log.Record(context.Background(), domain.RunRecord{ID: "run-1"})
	assert.ErrorIs(t, err, cause)
}

func TestRunLogMissingRunIsNotFound(t *testing.T) {
	log := NewRunLog(&memoryRunRepo{}, nil)
	_, err := log.GetRun(context.Background(), "nope")
	assert.True(t, domain.IsKind(err, domain.ErrNotFound))
}
