// Package store persists jobs and tasks and defines the repository
// contract the engine depends on. The Postgres implementation is the
// production store; Memory backs tests and ephemeral runs.
package store

import (
	"context"
	"errors"

	"github.com/altinn/process-engine/internal/models"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// Repository is the persistence boundary of the process engine. The
// underlying store owns consistency of concurrent writes to the same
// row; the engine only requires that each call is individually atomic.
type Repository interface {
	// SaveJob inserts a job together with all its tasks.
	SaveJob(ctx context.Context, job *models.Job) error
	// UpdateJob persists the job's own mutable fields (not its tasks).
	UpdateJob(ctx context.Context, job *models.Job) error
	// UpdateTask persists a single task's mutable fields.
	UpdateTask(ctx context.Context, task *models.Task) error
	// GetJob loads one job with its tasks, ErrNotFound if absent.
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// GetJobsForInstance loads all jobs acting on the given instance.
	GetJobsForInstance(ctx context.Context, instance models.InstanceInformation) ([]*models.Job, error)
	// GetIncompleteJobs loads every job not in a terminal status, with
	// tasks, for startup recovery.
	GetIncompleteJobs(ctx context.Context) ([]*models.Job, error)
	// DeleteJob removes a job and its tasks. Only terminal jobs should
	// be deleted; callers enforce that policy.
	DeleteJob(ctx context.Context, id string) error
}
