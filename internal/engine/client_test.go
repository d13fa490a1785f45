package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altinn/process-engine/internal/command"
	"github.com/altinn/process-engine/internal/config"
	"github.com/altinn/process-engine/internal/logger"
	"github.com/altinn/process-engine/internal/models"
	"github.com/altinn/process-engine/internal/retry"
	"github.com/altinn/process-engine/internal/scheduler"
	"github.com/altinn/process-engine/internal/store"
)

type fakeSubmitter struct {
	activeIDs []string
	submitted []*models.Job
	submitErr error
	canceled  []string
}

func (f *fakeSubmitter) Submit(_ context.Context, job *models.Job) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, job)
	return nil
}

func (f *fakeSubmitter) CancelJob(_ context.Context, jobID string) error {
	f.canceled = append(f.canceled, jobID)
	return nil
}

func (f *fakeSubmitter) Active(jobID string) bool {
	for _, id := range f.activeIDs {
		if id == jobID {
			return true
		}
	}
	return false
}

func (f *fakeSubmitter) Health() models.HealthSnapshot {
	return models.HealthSnapshot{Flags: models.HealthHealthy | models.HealthRunning}
}

func testInstance() models.InstanceInformation {
	return models.InstanceInformation{
		Org:                  "ttd",
		App:                  "signing-app",
		InstanceOwnerPartyID: 501337,
		InstanceGUID:         uuid.MustParse("7a3c0a95-52a3-4bcb-9a61-2fa0c9a83e1d"),
	}
}

func validRequest() ProcessNextRequest {
	return ProcessNextRequest{
		CurrentElementID: "Task_1",
		DesiredElementID: "Task_2",
		Instance:         testInstance(),
		Actor:            models.Actor{ID: "system-user", Type: models.ActorSystem},
		Tasks: []CommandRequest{
			{Command: command.App{Key: "validate"}},
			{Command: command.App{Key: "send-receipt"}},
		},
	}
}

func newClient(repo store.Repository, sched Submitter) *Client {
	return NewClient(repo, sched, logger.NewWithWriter("error", io.Discard))
}

func TestProcessNextRejectsInvalidRequests(t *testing.T) {
	client := newClient(store.NewMemory(), &fakeSubmitter{})

	tests := []struct {
		name   string
		mutate func(*ProcessNextRequest)
		want   string
	}{
		{"missing current element", func(r *ProcessNextRequest) { r.CurrentElementID = "" }, "currentElementId"},
		{"missing desired element", func(r *ProcessNextRequest) { r.DesiredElementID = "" }, "desiredElementId"},
		{"missing org", func(r *ProcessNextRequest) { r.Instance.Org = "" }, "org"},
		{"missing actor", func(r *ProcessNextRequest) { r.Actor.ID = "" }, "actor"},
		{"no tasks", func(r *ProcessNextRequest) { r.Tasks = nil }, "at least one task"},
		{"nil command", func(r *ProcessNextRequest) { r.Tasks[0].Command = nil }, "command is required"},
		{"bad mode", func(r *ProcessNextRequest) { r.Mode = "diagonal" }, "execution mode"},
		{"bad retry", func(r *ProcessNextRequest) {
			r.Tasks[0].Retry = &retry.Strategy{Backoff: "fibonacci"}
		}, "backoff"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			resp := client.ProcessNext(context.Background(), req)
			assert.Equal(t, StatusRejected, resp.Status)
			assert.Contains(t, resp.Message, tc.want)
		})
	}
}

func TestJobIDIsDeterministicPerTransition(t *testing.T) {
	req := validRequest()
	assert.Equal(t,
		"7a3c0a95-52a3-4bcb-9a61-2fa0c9a83e1d/next/from-Task_1-to-Task_2",
		req.JobID())
	assert.Equal(t, req.JobID(), validRequest().JobID())
}

func TestProcessNextBuildsOrderedJob(t *testing.T) {
	sched := &fakeSubmitter{}
	client := newClient(store.NewMemory(), sched)

	startAt := time.Now().Add(time.Hour)
	strategy := &retry.Strategy{Backoff: retry.BackoffLinear, Delay: time.Second}
	req := validRequest()
	req.Tasks[1].StartTime = &startAt
	req.Tasks[1].Retry = strategy

	resp := client.ProcessNext(context.Background(), req)
	require.Equal(t, StatusAccepted, resp.Status)
	assert.Equal(t, req.JobID(), resp.JobID)

	require.Len(t, sched.submitted, 1)
	job := sched.submitted[0]
	assert.Equal(t, req.JobID(), job.ID)
	assert.Equal(t, models.ModeSequential, job.Mode, "sequential is the default mode")
	require.Len(t, job.Tasks, 2)
	for i, task := range job.Tasks {
		assert.Equal(t, i, task.ProcessingOrder)
		assert.Equal(t, job.ID, task.JobID)
		assert.Equal(t, req.Instance, task.Instance)
		assert.Equal(t, req.Actor, task.Actor)
		assert.Equal(t, models.StatusEnqueued, task.Status)
	}
	assert.Equal(t, "validate", job.Tasks[0].Command.Identifier())
	assert.Equal(t, &startAt, job.Tasks[1].StartTime)
	assert.Equal(t, strategy, job.Tasks[1].Retry)
}

func TestProcessNextRejectsLiveDuplicate(t *testing.T) {
	req := validRequest()

	t.Run("active in scheduler", func(t *testing.T) {
		sched := &fakeSubmitter{activeIDs: []string{req.JobID()}}
		client := newClient(store.NewMemory(), sched)
		resp := client.ProcessNext(context.Background(), req)
		assert.Equal(t, StatusRejected, resp.Status)
		assert.Contains(t, resp.Message, "already in progress")
		assert.Empty(t, sched.submitted)
	})

	t.Run("non-terminal in store", func(t *testing.T) {
		repo := store.NewMemory()
		require.NoError(t, repo.SaveJob(context.Background(), &models.Job{
			ID:       req.JobID(),
			Instance: req.Instance,
			Status:   models.StatusProcessing,
		}))
		sched := &fakeSubmitter{}
		client := newClient(repo, sched)
		resp := client.ProcessNext(context.Background(), req)
		assert.Equal(t, StatusRejected, resp.Status)
		assert.Empty(t, sched.submitted)
	})
}

func TestProcessNextReplacesTerminalJob(t *testing.T) {
	req := validRequest()
	repo := store.NewMemory()
	require.NoError(t, repo.SaveJob(context.Background(), &models.Job{
		ID:       req.JobID(),
		Instance: req.Instance,
		Status:   models.StatusFailed,
	}))
	sched := &fakeSubmitter{}
	client := newClient(repo, sched)

	resp := client.ProcessNext(context.Background(), req)
	assert.Equal(t, StatusAccepted, resp.Status)
	require.Len(t, sched.submitted, 1)

	_, err := repo.GetJob(context.Background(), req.JobID())
	assert.ErrorIs(t, err, store.ErrNotFound, "the finished record is replaced")
}

func TestProcessNextReportsSubmitFailure(t *testing.T) {
	sched := &fakeSubmitter{submitErr: errors.New("database unavailable")}
	client := newClient(store.NewMemory(), sched)

	resp := client.ProcessNext(context.Background(), validRequest())
	assert.Equal(t, StatusRejected, resp.Status)
	assert.Contains(t, resp.Message, "database unavailable")
}

func TestGetActiveJobStatusCountsProgress(t *testing.T) {
	repo := store.NewMemory()
	instance := testInstance()
	require.NoError(t, repo.SaveJob(context.Background(), &models.Job{
		ID:       "done-job",
		Instance: instance,
		Status:   models.StatusCompleted,
	}))
	require.NoError(t, repo.SaveJob(context.Background(), &models.Job{
		ID:       "live-job",
		Instance: instance,
		Status:   models.StatusProcessing,
		Tasks: []*models.Task{
			{ID: "t0", JobID: "live-job", Status: models.StatusCompleted},
			{ID: "t1", JobID: "live-job", Status: models.StatusProcessing},
			{ID: "t2", JobID: "live-job", Status: models.StatusEnqueued},
		},
	}))
	client := newClient(repo, &fakeSubmitter{})

	status, err := client.GetActiveJobStatus(context.Background(), instance)
	require.NoError(t, err)
	assert.Equal(t, "live-job", status.JobID)
	assert.Equal(t, models.StatusProcessing, status.Status)
	assert.Equal(t, 3, status.TotalTasks)
	assert.Equal(t, 1, status.CompletedTasks)

	other := instance
	other.InstanceGUID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	_, err = client.GetActiveJobStatus(context.Background(), other)
	assert.ErrorIs(t, err, ErrNoActiveJob)
}

func TestDeleteJobRequiresTerminalStatus(t *testing.T) {
	repo := store.NewMemory()
	require.NoError(t, repo.SaveJob(context.Background(), &models.Job{
		ID: "live", Instance: testInstance(), Status: models.StatusProcessing,
	}))
	require.NoError(t, repo.SaveJob(context.Background(), &models.Job{
		ID: "done", Instance: testInstance(), Status: models.StatusCompleted,
	}))
	client := newClient(repo, &fakeSubmitter{})

	err := client.DeleteJob(context.Background(), "live")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not terminal")

	require.NoError(t, client.DeleteJob(context.Background(), "done"))
	_, err = repo.GetJob(context.Background(), "done")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelJobForwardsToScheduler(t *testing.T) {
	sched := &fakeSubmitter{}
	client := newClient(store.NewMemory(), sched)
	require.NoError(t, client.CancelJob(context.Background(), "some-job"))
	assert.Equal(t, []string{"some-job"}, sched.canceled)
}

func TestProcessNextRequestJSONRoundTrip(t *testing.T) {
	startAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req := validRequest()
	req.Tasks = []CommandRequest{
		{
			Command:   command.App{Key: "validate", Metadata: map[string]string{"layer": "all"}},
			StartTime: &startAt,
			Retry:     &retry.Strategy{Backoff: retry.BackoffExponential, Delay: time.Second, MaxRetries: retry.Retries(3)},
		},
		{Command: command.Webhook{URL: "https://hooks.example.org/process"}},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded ProcessNextRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NoError(t, decoded.Validate())
	require.Len(t, decoded.Tasks, 2)

	app, ok := decoded.Tasks[0].Command.(command.App)
	require.True(t, ok)
	assert.Equal(t, "validate", app.Key)
	assert.Equal(t, "all", app.Metadata["layer"])
	assert.True(t, decoded.Tasks[0].StartTime.Equal(startAt))
	assert.Equal(t, req.Tasks[0].Retry, decoded.Tasks[0].Retry)

	hook, ok := decoded.Tasks[1].Command.(command.Webhook)
	require.True(t, ok)
	assert.Equal(t, "https://hooks.example.org/process", hook.URL)
}

// Full accept-execute-poll cycle against the real scheduler: validate
// succeeds, notify needs two retries before it goes through.
func TestProcessNextEndToEnd(t *testing.T) {
	repo := store.NewMemory()
	registry := command.NewRegistry()
	var mu sync.Mutex
	executed := make(map[string]int)
	require.NoError(t, registry.Register("validate", func(context.Context, models.InstanceInformation, models.Actor, map[string]string) error {
		mu.Lock()
		executed["validate"]++
		mu.Unlock()
		return nil
	}))
	require.NoError(t, registry.Register("notify", func(context.Context, models.InstanceInformation, models.Actor, map[string]string) error {
		mu.Lock()
		defer mu.Unlock()
		executed["notify"]++
		if executed["notify"] <= 2 {
			return errors.New("correspondence service unavailable")
		}
		return nil
	}))
	cfg := config.Config{
		QueueCapacity:           2,
		PollInterval:            5 * time.Millisecond,
		DefaultMaxExecutionTime: time.Second,
		DefaultBackoff:          retry.BackoffConstant,
		DefaultMaxRetries:       1,
	}
	sched := scheduler.New(cfg, repo, registry, logger.NewWithWriter("error", io.Discard))
	client := newClient(repo, sched)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	req := validRequest()
	req.Tasks = []CommandRequest{
		{Command: command.App{Key: "validate"}},
		{Command: command.App{Key: "notify"}, Retry: &retry.Strategy{
			Backoff:    retry.BackoffExponential,
			Delay:      100 * time.Millisecond,
			MaxRetries: retry.Retries(5),
		}},
	}
	started := time.Now()
	resp := client.ProcessNext(context.Background(), req)
	require.Equal(t, StatusAccepted, resp.Status)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := client.GetJob(context.Background(), resp.JobID)
		require.NoError(t, err)
		if job.Status.Terminal() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	elapsed := time.Since(started)

	job, err := client.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, job.Status)
	job.SortTasks()
	require.Len(t, job.Tasks, 2)
	assert.Equal(t, 0, job.Tasks[0].RequeueCount)
	assert.Equal(t, 2, job.Tasks[1].RequeueCount)
	// The two failed notify attempts cost 100ms and 200ms of backoff.
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, executed["validate"])
	assert.Equal(t, 3, executed["notify"])
	mu.Unlock()

	_, err = client.GetActiveJobStatus(context.Background(), req.Instance)
	assert.ErrorIs(t, err, ErrNoActiveJob, "a completed transition leaves no active job")
}
