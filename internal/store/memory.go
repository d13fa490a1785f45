package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/altinn/process-engine/internal/models"
)

// Memory is a mutex-guarded in-memory Repository. It copies records on
// the way in and out so callers never share pointers with the store,
// matching the isolation a real database gives.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*models.Job)}
}

func (m *Memory) SaveJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *Memory) UpdateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok {
		return fmt.Errorf("update job %s: %w", job.ID, ErrNotFound)
	}
	stored.Status = job.Status
	stored.UpdatedAt = copyTime(job.UpdatedAt)
	return nil
}

func (m *Memory) UpdateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[task.JobID]
	if !ok {
		return fmt.Errorf("update task %s: job %s: %w", task.ID, task.JobID, ErrNotFound)
	}
	for i, t := range stored.Tasks {
		if t.ID == task.ID {
			stored.Tasks[i] = cloneTask(task)
			return nil
		}
	}
	return fmt.Errorf("update task %s: not part of job %s: %w", task.ID, task.JobID, ErrNotFound)
}

func (m *Memory) GetJob(_ context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return cloneJob(job), nil
}

func (m *Memory) GetJobsForInstance(_ context.Context, instance models.InstanceInformation) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var jobs []*models.Job
	for _, job := range m.jobs {
		if job.Instance.InstanceGUID == instance.InstanceGUID &&
			job.Instance.InstanceOwnerPartyID == instance.InstanceOwnerPartyID {
			jobs = append(jobs, cloneJob(job))
		}
	}
	return jobs, nil
}

func (m *Memory) GetIncompleteJobs(_ context.Context) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var jobs []*models.Job
	for _, job := range m.jobs {
		if !job.Status.Terminal() {
			jobs = append(jobs, cloneJob(job))
		}
	}
	return jobs, nil
}

func (m *Memory) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("delete job %s: %w", id, ErrNotFound)
	}
	delete(m.jobs, id)
	return nil
}

func cloneJob(job *models.Job) *models.Job {
	clone := *job
	clone.UpdatedAt = copyTime(job.UpdatedAt)
	clone.Tasks = make([]*models.Task, len(job.Tasks))
	for i, t := range job.Tasks {
		clone.Tasks[i] = cloneTask(t)
	}
	return &clone
}

func cloneTask(task *models.Task) *models.Task {
	clone := *task
	clone.StartTime = copyTime(task.StartTime)
	clone.BackoffUntil = copyTime(task.BackoffUntil)
	clone.UpdatedAt = copyTime(task.UpdatedAt)
	if task.Retry != nil {
		strategy := *task.Retry
		clone.Retry = &strategy
	}
	if task.LastError != nil {
		msg := *task.LastError
		clone.LastError = &msg
	}
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
