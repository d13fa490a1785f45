// Package scheduler contains the task executor loop: it identifies
// ready tasks across active jobs, runs their commands under a deadline,
// applies retry backoff on failure, and persists every transition.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/altinn/process-engine/internal/command"
	"github.com/altinn/process-engine/internal/config"
	"github.com/altinn/process-engine/internal/models"
	"github.com/altinn/process-engine/internal/retry"
	"github.com/altinn/process-engine/internal/store"
	"github.com/altinn/process-engine/internal/telemetry"
)

// ErrNotActive is returned when an operation targets a job the
// scheduler is not currently driving.
var ErrNotActive = errors.New("job is not active")

// Scheduler drives execution of active jobs. The active-job map and the
// in-flight registry are the only engine-owned mutable shared state;
// both are guarded by one mutex, and a task is claimed by flipping its
// status to Processing under that mutex, so no two workers can dispatch
// the same task.
type Scheduler struct {
	cfg      config.Config
	repo     store.Repository
	registry *command.Registry
	log      *slog.Logger
	def      retry.Strategy

	mu       sync.Mutex
	jobs     map[string]*models.Job
	inflight map[string]context.CancelFunc

	sem     chan struct{}
	wake    chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup
}

// New builds a scheduler. The registry must be fully populated before
// Run is called.
func New(cfg config.Config, repo store.Repository, registry *command.Registry, log *slog.Logger) *Scheduler {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.DefaultMaxExecutionTime <= 0 {
		cfg.DefaultMaxExecutionTime = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		repo:     repo,
		registry: registry,
		log:      log.With("component", "scheduler"),
		def:      cfg.DefaultStrategy(),
		jobs:     make(map[string]*models.Job),
		inflight: make(map[string]context.CancelFunc),
		sem:      make(chan struct{}, cfg.QueueCapacity),
		wake:     make(chan struct{}, 1),
	}
}

// Submit persists a new job and admits it to the active set. Execution
// happens asynchronously; callers poll for status.
func (s *Scheduler) Submit(ctx context.Context, job *models.Job) error {
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	s.admit(job)
	telemetry.JobsSubmitted.Inc()
	s.log.Info("job submitted", "job_id", job.ID, "tasks", len(job.Tasks), "mode", job.Mode)
	return nil
}

// Recover loads all incomplete jobs from the repository and re-admits
// their tasks. A task found in Processing belonged to a process that
// died mid-execution; it is not assumed complete but requeued according
// to its retry strategy. Command handlers must be idempotent for this
// to be safe.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	jobs, err := s.repo.GetIncompleteJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load incomplete jobs: %w", err)
	}
	now := time.Now()
	for _, job := range jobs {
		job.SortTasks()
		for _, task := range job.Tasks {
			if task.Status != models.StatusProcessing {
				continue
			}
			strategy := task.Strategy(s.def)
			attempt := task.RequeueCount + 1
			if !strategy.CanRetry(attempt) {
				task.Status = models.StatusFailed
				msg := "interrupted mid-execution with no retries remaining"
				task.LastError = &msg
			} else {
				task.Status = models.StatusRequeued
				task.RequeueCount = attempt
				until := now.Add(strategy.CalculateDelay(attempt))
				task.BackoffUntil = &until
			}
			if err := s.persistTask(*task); err != nil {
				return 0, err
			}
			s.log.Info("re-admitted interrupted task",
				"job_id", job.ID, "task_id", task.ID, "status", task.Status.String())
		}
		s.admit(job)
	}
	return len(jobs), nil
}

func (s *Scheduler) admit(job *models.Job) {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.wakeUp()
}

// Active reports whether the scheduler is currently driving the job.
func (s *Scheduler) Active(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobID]
	return ok
}

// Run blocks until the context is canceled, scanning for ready tasks on
// every poll tick or wake signal. In-flight tasks are drained before it
// returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Disabled {
		s.log.Warn("engine disabled, no tasks will be dispatched")
		<-ctx.Done()
		return ctx.Err()
	}
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		"capacity", s.cfg.QueueCapacity, "poll_interval", s.cfg.PollInterval)
	for {
		s.scan(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping, draining in-flight tasks")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// scan claims every ready task it has capacity for and hands each to a
// worker goroutine. Claims happen under the mutex: the status CAS from
// Enqueued/Requeued to Processing is what prevents duplicate dispatch.
func (s *Scheduler) scan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := time.Now()

	s.mu.Lock()
	for _, job := range s.jobs {
		for _, task := range s.candidates(job) {
			if !task.ReadyForExecution(now) {
				continue
			}
			select {
			case s.sem <- struct{}{}:
			default:
				continue // capacity exhausted: backpressure, not rejection
			}
			task.Status = models.StatusProcessing
			if job.Status == models.StatusEnqueued {
				job.Status = models.StatusProcessing
			}
			execCtx, cancel := context.WithCancel(ctx)
			s.inflight[task.ID] = cancel
			s.wg.Add(1)
			go s.execute(execCtx, job, task)
		}
	}
	depth := s.depthLocked()
	executing := len(s.inflight)
	s.mu.Unlock()

	telemetry.QueueDepthGauge.Set(float64(depth))
	telemetry.ExecutingGauge.Set(float64(executing))
}

// depthLocked counts every task still waiting for execution. Caller
// must hold s.mu. The metrics gauge and the health snapshot both use
// this count.
func (s *Scheduler) depthLocked() int {
	depth := 0
	for _, job := range s.jobs {
		for _, t := range job.Tasks {
			if t.Status == models.StatusEnqueued || t.Status == models.StatusRequeued {
				depth++
			}
		}
	}
	return depth
}

// candidates returns the tasks eligible for consideration given the
// job's execution mode. Sequential jobs expose only the lowest-ordered
// live task, so task N+1 never starts before task N is terminal.
func (s *Scheduler) candidates(job *models.Job) []*models.Task {
	if job.Mode == models.ModeParallel {
		return job.Tasks
	}
	next := job.NextSequential()
	if next == nil {
		return nil
	}
	return []*models.Task{next}
}

func (s *Scheduler) execute(ctx context.Context, job *models.Job, task *models.Task) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.inflight[task.ID]; ok {
			cancel()
			delete(s.inflight, task.ID)
		}
		s.mu.Unlock()
		<-s.sem
		s.wakeUp()
	}()

	s.mu.Lock()
	taskSnap := *task
	jobSnap := *job
	s.mu.Unlock()
	if err := s.persistTask(taskSnap); err != nil {
		s.log.Error("persist processing transition", "task_id", task.ID, "error", err)
	}
	if err := s.persistJob(jobSnap); err != nil {
		s.log.Error("persist job transition", "job_id", job.ID, "error", err)
	}

	deadline := task.Command.MaxExecutionTime()
	if deadline <= 0 {
		deadline = s.cfg.DefaultMaxExecutionTime
	}
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err := s.registry.Dispatch(execCtx, task)
	elapsed := time.Since(start)

	now := time.Now()
	s.mu.Lock()
	switch {
	case task.Status == models.StatusCanceled:
		// Canceled externally while in flight; the canceling side
		// persisted the transition.
		s.mu.Unlock()
		s.finalizeJob(job)
		return
	case err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled):
		// Engine shutdown, not a task failure. Leave the task in
		// Processing; startup recovery will requeue it.
		s.mu.Unlock()
		s.log.Info("task interrupted by shutdown", "job_id", job.ID, "task_id", task.ID)
		return
	case err == nil:
		task.Status = models.StatusCompleted
		task.LastError = nil
		task.BackoffUntil = nil
		telemetry.TasksCompleted.Inc()
	default:
		msg := err.Error()
		task.LastError = &msg
		strategy := task.Strategy(s.def)
		attempt := task.RequeueCount + 1
		if strategy.CanRetry(attempt) {
			until := now.Add(strategy.CalculateDelay(attempt))
			task.Status = models.StatusRequeued
			task.BackoffUntil = &until
			task.RequeueCount = attempt
			telemetry.TasksRequeued.Inc()
		} else {
			task.Status = models.StatusFailed
			telemetry.TasksFailed.Inc()
		}
	}
	task.UpdatedAt = &now
	outcome := *task
	s.mu.Unlock()

	logAttrs := []any{"job_id", job.ID, "task_id", outcome.ID,
		"command", outcome.Command.Identifier(), "status", outcome.Status.String(), "elapsed", elapsed}
	if err != nil {
		s.log.Warn("task attempt failed", append(logAttrs, "error", err)...)
	} else {
		s.log.Info("task completed", logAttrs...)
	}

	if err := s.persistTask(outcome); err != nil {
		s.log.Error("persist task outcome", "task_id", outcome.ID, "error", err)
	}
	s.finalizeJob(job)
}

// finalizeJob recomputes the job aggregate after a task transition,
// applies the abort-on-failure policy, and persists terminal states.
//
// A sequential job never starts a task after a failed one, so a failure
// cancels the remaining tasks outright. In parallel mode siblings run
// to their own completion unless AbortOnFailure is set.
func (s *Scheduler) finalizeJob(job *models.Job) {
	var canceled []models.Task
	var jobSnap models.Job

	s.mu.Lock()
	_, active := s.jobs[job.ID]
	abort := s.cfg.AbortOnFailure || job.Mode != models.ModeParallel
	if active && abort && anyFailed(job) {
		for _, t := range job.Tasks {
			if t.Status.Terminal() {
				continue
			}
			t.Status = models.StatusCanceled
			canceled = append(canceled, *t)
			if cancel, ok := s.inflight[t.ID]; ok {
				cancel()
			}
		}
	}
	terminal := job.Terminal()
	if terminal && active {
		job.Status = job.AggregateStatus()
		now := time.Now()
		job.UpdatedAt = &now
		delete(s.jobs, job.ID)
		jobSnap = *job
	}
	status := job.Status
	s.mu.Unlock()

	for i := range canceled {
		if err := s.persistTask(canceled[i]); err != nil {
			s.log.Error("persist canceled task", "task_id", canceled[i].ID, "error", err)
		}
	}
	if !terminal || !active {
		return
	}
	if err := s.persistJob(jobSnap); err != nil {
		s.log.Error("persist terminal job", "job_id", job.ID, "error", err)
	}
	switch status {
	case models.StatusCompleted:
		telemetry.JobsCompleted.Inc()
	case models.StatusFailed:
		telemetry.JobsFailed.Inc()
	}
	s.log.Info("job finished", "job_id", job.ID, "status", status.String())
}

// CancelJob marks every non-terminal task of an active job Canceled and
// aborts in-flight dispatches. Terminal tasks are left untouched.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("cancel job %s: %w", jobID, ErrNotActive)
	}
	var toPersist []models.Task
	for _, t := range job.Tasks {
		if t.Status.Terminal() {
			continue
		}
		t.Status = models.StatusCanceled
		toPersist = append(toPersist, *t)
		if cancel, ok := s.inflight[t.ID]; ok {
			cancel()
		}
	}
	s.mu.Unlock()

	for i := range toPersist {
		if err := s.persistTask(toPersist[i]); err != nil {
			return err
		}
	}
	s.finalizeJob(job)
	s.log.Info("job canceled", "job_id", jobID)
	return nil
}

// Health derives the flags view from the pool and queue state.
func (s *Scheduler) Health() models.HealthSnapshot {
	s.mu.Lock()
	depth := s.depthLocked()
	executing := len(s.inflight)
	active := len(s.jobs)
	s.mu.Unlock()

	var flags models.Health
	running := s.running.Load()
	if running {
		flags |= models.HealthRunning
	} else {
		flags |= models.HealthStopped
	}
	if s.cfg.Disabled {
		flags |= models.HealthDisabled
	}
	if executing >= s.cfg.QueueCapacity {
		flags |= models.HealthQueueFull
	}
	if active == 0 && executing == 0 {
		flags |= models.HealthIdle
	}
	if running && !s.cfg.Disabled {
		flags |= models.HealthHealthy
	} else {
		flags |= models.HealthUnhealthy
	}
	return models.HealthSnapshot{
		Flags:      flags,
		QueueDepth: depth,
		Executing:  executing,
		ActiveJobs: active,
		Capacity:   s.cfg.QueueCapacity,
	}
}

func (s *Scheduler) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// persistTask writes a task transition on a background context so a
// canceled run context cannot lose an already-decided outcome. The task
// is passed by value: callers snapshot it while holding the mutex, so
// the repository never reads a record another goroutine is mutating.
func (s *Scheduler) persistTask(task models.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repo.UpdateTask(ctx, &task); err != nil {
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Scheduler) persistJob(job models.Job) error {
	job.Tasks = nil
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repo.UpdateJob(ctx, &job); err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

func anyFailed(job *models.Job) bool {
	for _, t := range job.Tasks {
		if t.Status == models.StatusFailed {
			return true
		}
	}
	return false
}
