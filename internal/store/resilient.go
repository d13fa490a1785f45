package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/altinn/process-engine/internal/models"
)

// Resilient decorates a Repository with retry-on-transient-failure
// semantics. Permanent errors (bad arguments, constraint violations)
// fail immediately; connection-level failures are retried with
// exponential backoff, independent of task-level retries.
type Resilient struct {
	inner      Repository
	maxRetries uint64
	initial    time.Duration
	maxWait    time.Duration
	log        *slog.Logger
}

// NewResilient wraps the given repository.
func NewResilient(inner Repository, maxRetries int, initial, maxWait time.Duration, log *slog.Logger) *Resilient {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resilient{
		inner:      inner,
		maxRetries: uint64(maxRetries),
		initial:    initial,
		maxWait:    maxWait,
		log:        log.With("component", "store"),
	}
}

func (r *Resilient) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = r.maxWait
	return backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx)
}

func (r *Resilient) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(err)
		}
		r.log.Warn("transient store error, retrying",
			"op", op, "attempt", attempt, "error", err)
		return err
	}, r.policy(ctx))
}

func (r *Resilient) SaveJob(ctx context.Context, job *models.Job) error {
	return r.retry(ctx, "save_job", func() error { return r.inner.SaveJob(ctx, job) })
}

func (r *Resilient) UpdateJob(ctx context.Context, job *models.Job) error {
	return r.retry(ctx, "update_job", func() error { return r.inner.UpdateJob(ctx, job) })
}

func (r *Resilient) UpdateTask(ctx context.Context, task *models.Task) error {
	return r.retry(ctx, "update_task", func() error { return r.inner.UpdateTask(ctx, task) })
}

func (r *Resilient) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job *models.Job
	err := r.retry(ctx, "get_job", func() error {
		var err error
		job, err = r.inner.GetJob(ctx, id)
		return err
	})
	return job, err
}

func (r *Resilient) GetJobsForInstance(ctx context.Context, instance models.InstanceInformation) ([]*models.Job, error) {
	var jobs []*models.Job
	err := r.retry(ctx, "get_jobs_for_instance", func() error {
		var err error
		jobs, err = r.inner.GetJobsForInstance(ctx, instance)
		return err
	})
	return jobs, err
}

func (r *Resilient) GetIncompleteJobs(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	err := r.retry(ctx, "get_incomplete_jobs", func() error {
		var err error
		jobs, err = r.inner.GetIncompleteJobs(ctx)
		return err
	})
	return jobs, err
}

func (r *Resilient) DeleteJob(ctx context.Context, id string) error {
	return r.retry(ctx, "delete_job", func() error { return r.inner.DeleteJob(ctx, id) })
}
