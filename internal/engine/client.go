// Package engine exposes the public entry point of the process engine:
// it turns a process-next request into a job of ordered tasks, hands it
// to the scheduler, and answers status queries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/altinn/process-engine/internal/models"
	"github.com/altinn/process-engine/internal/store"
)

// ErrNoActiveJob is returned by GetActiveJobStatus when the instance
// has no job in progress.
var ErrNoActiveJob = errors.New("no active job for instance")

// Submitter is the slice of the scheduler the client needs.
type Submitter interface {
	Submit(ctx context.Context, job *models.Job) error
	CancelJob(ctx context.Context, jobID string) error
	Active(jobID string) bool
	Health() models.HealthSnapshot
}

// Client is the engine façade consumed by external callers.
type Client struct {
	repo  store.Repository
	sched Submitter
	log   *slog.Logger
}

func NewClient(repo store.Repository, sched Submitter, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{repo: repo, sched: sched, log: log.With("component", "engine")}
}

// ProcessNext accepts or rejects a transition request synchronously.
// Validation failures are permanent: they are reported immediately and
// never retried. A previous terminal job for the same transition is
// replaced; a live one causes rejection.
func (c *Client) ProcessNext(ctx context.Context, req ProcessNextRequest) ProcessEngineResponse {
	if err := req.Validate(); err != nil {
		return ProcessEngineResponse{Status: StatusRejected, Message: err.Error()}
	}

	jobID := req.JobID()
	if c.sched.Active(jobID) {
		return ProcessEngineResponse{
			Status:  StatusRejected,
			JobID:   jobID,
			Message: "transition already in progress",
		}
	}
	if existing, err := c.repo.GetJob(ctx, jobID); err == nil {
		if !existing.Status.Terminal() {
			return ProcessEngineResponse{
				Status:  StatusRejected,
				JobID:   jobID,
				Message: "transition already in progress",
			}
		}
		// Re-running a finished transition replaces the old record.
		if err := c.repo.DeleteJob(ctx, jobID); err != nil {
			return ProcessEngineResponse{Status: StatusRejected, JobID: jobID, Message: err.Error()}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return ProcessEngineResponse{Status: StatusRejected, JobID: jobID, Message: err.Error()}
	}

	job := c.buildJob(jobID, req)
	if err := c.sched.Submit(ctx, job); err != nil {
		c.log.Error("submit failed", "job_id", jobID, "error", err)
		return ProcessEngineResponse{Status: StatusRejected, JobID: jobID, Message: err.Error()}
	}
	return ProcessEngineResponse{Status: StatusAccepted, JobID: jobID}
}

func (c *Client) buildJob(jobID string, req ProcessNextRequest) *models.Job {
	now := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = models.ModeSequential
	}
	job := &models.Job{
		ID:        jobID,
		Instance:  req.Instance,
		Status:    models.StatusEnqueued,
		Mode:      mode,
		CreatedAt: now,
	}
	for i, t := range req.Tasks {
		job.Tasks = append(job.Tasks, &models.Task{
			ID:              fmt.Sprintf("%s/%s[%d]", req.Instance.InstanceGUID, t.Command.Identifier(), i),
			JobID:           jobID,
			ProcessingOrder: i,
			Command:         t.Command,
			Instance:        req.Instance,
			Actor:           req.Actor,
			Status:          models.StatusEnqueued,
			StartTime:       t.StartTime,
			Retry:           t.Retry,
			CreatedAt:       now,
		})
	}
	return job
}

// GetJob loads a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return c.repo.GetJob(ctx, id)
}

// GetActiveJobStatus returns the polling view for the instance's
// non-terminal job. Reads are eventually consistent with execution.
func (c *Client) GetActiveJobStatus(ctx context.Context, instance models.InstanceInformation) (ActiveJobStatus, error) {
	jobs, err := c.repo.GetJobsForInstance(ctx, instance)
	if err != nil {
		return ActiveJobStatus{}, fmt.Errorf("load jobs for %s: %w", instance.Key(), err)
	}
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		status := ActiveJobStatus{JobID: job.ID, Status: job.Status, TotalTasks: len(job.Tasks)}
		for _, t := range job.Tasks {
			if t.Status == models.StatusCompleted {
				status.CompletedTasks++
			}
		}
		return status, nil
	}
	return ActiveJobStatus{}, ErrNoActiveJob
}

// CancelJob cancels an active job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.sched.CancelJob(ctx, id)
}

// DeleteJob removes a terminal job. Live jobs cannot be deleted.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	job, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("job %s is not terminal", id)
	}
	return c.repo.DeleteJob(ctx, id)
}

// Health exposes the scheduler's health snapshot.
func (c *Client) Health() models.HealthSnapshot {
	return c.sched.Health()
}
