package store

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altinn/process-engine/internal/models"
)

// flakyRepo fails a configurable number of times before delegating.
type flakyRepo struct {
	Repository
	failures int
	err      error
	calls    int
}

func (f *flakyRepo) UpdateTask(ctx context.Context, task *models.Task) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.Repository.UpdateTask(ctx, task)
}

func (f *flakyRepo) GetJob(ctx context.Context, id string) (*models.Job, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.Repository.GetJob(ctx, id)
}

func seededMemory(t *testing.T) *Memory {
	t.Helper()
	mem := NewMemory()
	job := &models.Job{
		ID:        "job-1",
		Status:    models.StatusEnqueued,
		Mode:      models.ModeSequential,
		Tasks:     []*models.Task{{ID: "task-1", JobID: "job-1", Status: models.StatusEnqueued}},
		CreatedAt: time.Now(),
	}
	require.NoError(t, mem.SaveJob(context.Background(), job))
	return mem
}

func TestResilientRetriesTransientErrors(t *testing.T) {
	flaky := &flakyRepo{Repository: seededMemory(t), failures: 2, err: syscall.ECONNRESET}
	repo := NewResilient(flaky, 5, time.Millisecond, 10*time.Millisecond, nil)

	err := repo.UpdateTask(context.Background(), &models.Task{ID: "task-1", JobID: "job-1", Status: models.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls, "two transient failures then success")
}

func TestResilientFailsFastOnPermanentErrors(t *testing.T) {
	permanent := errors.New("column does not exist")
	flaky := &flakyRepo{Repository: seededMemory(t), failures: 10, err: permanent}
	repo := NewResilient(flaky, 5, time.Millisecond, 10*time.Millisecond, nil)

	err := repo.UpdateTask(context.Background(), &models.Task{ID: "task-1", JobID: "job-1"})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, flaky.calls, "permanent errors must not be retried")
}

func TestResilientGivesUpAfterBudget(t *testing.T) {
	flaky := &flakyRepo{Repository: seededMemory(t), failures: 100, err: syscall.ECONNREFUSED}
	repo := NewResilient(flaky, 2, time.Millisecond, 5*time.Millisecond, nil)

	err := repo.UpdateTask(context.Background(), &models.Task{ID: "task-1", JobID: "job-1"})
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Equal(t, 3, flaky.calls, "initial try plus two retries")
}

func TestResilientPassesReadsThrough(t *testing.T) {
	flaky := &flakyRepo{Repository: seededMemory(t), failures: 1, err: syscall.ECONNRESET}
	repo := NewResilient(flaky, 3, time.Millisecond, 5*time.Millisecond, nil)

	job, err := repo.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
}
