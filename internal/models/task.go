package models

import (
	"time"

	"github.com/altinn/process-engine/internal/retry"
)

// Command is the minimal view the data model needs of a unit of work.
// Concrete variants and their dispatch live in the command package.
type Command interface {
	// Identifier returns the stable key used for dispatch and diagnostics.
	Identifier() string
	// MaxExecutionTime returns the per-command deadline, or zero to use
	// the engine-wide default.
	MaxExecutionTime() time.Duration
}

// Task is one durable, retryable unit of work within a job. The durable
// record carries no live execution handle; the scheduler tracks in-flight
// attempts separately, joined by task ID.
type Task struct {
	ID              string              `json:"id"`
	JobID           string              `json:"jobId"`
	ProcessingOrder int                 `json:"processingOrder"`
	Command         Command             `json:"-"`
	Instance        InstanceInformation `json:"instance"`
	Actor           Actor               `json:"actor"`
	Status          ItemStatus          `json:"status"`
	StartTime       *time.Time          `json:"startTime,omitempty"`
	BackoffUntil    *time.Time          `json:"backoffUntil,omitempty"`
	Retry           *retry.Strategy     `json:"retry,omitempty"`
	RequeueCount    int                 `json:"requeueCount"`
	LastError       *string             `json:"lastError,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       *time.Time          `json:"updatedAt,omitempty"`
}

// ReadyForExecution reports whether the task may be dispatched at the
// given instant: it must be waiting in the queue, past its earliest
// start time, and past any backoff from a previous failed attempt.
func (t *Task) ReadyForExecution(now time.Time) bool {
	if t.Status != StatusEnqueued && t.Status != StatusRequeued {
		return false
	}
	if t.StartTime != nil && now.Before(*t.StartTime) {
		return false
	}
	if t.BackoffUntil != nil && now.Before(*t.BackoffUntil) {
		return false
	}
	return true
}

// Strategy returns the task's retry strategy, falling back to the
// engine default when no override was set at submission.
func (t *Task) Strategy(def retry.Strategy) retry.Strategy {
	if t.Retry != nil {
		return *t.Retry
	}
	return def
}
