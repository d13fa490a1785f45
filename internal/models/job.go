package models

import (
	"sort"
	"time"
)

// ExecutionMode controls intra-job ordering. Sequential is the normal
// mode; Parallel is a debug escape hatch that runs all ready tasks at
// once with no ordering guarantee.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// Job is a durable batch of ordered tasks belonging to one workflow
// instance transition request. It is created when a request is accepted,
// mutated by the scheduler as tasks progress, and eligible for deletion
// only once terminal.
type Job struct {
	ID        string              `json:"id"`
	Instance  InstanceInformation `json:"instance"`
	Status    ItemStatus          `json:"status"`
	Mode      ExecutionMode       `json:"mode"`
	Tasks     []*Task             `json:"tasks"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt *time.Time          `json:"updatedAt,omitempty"`
}

// SortTasks orders the task slice by ascending processing order.
func (j *Job) SortTasks() {
	sort.SliceStable(j.Tasks, func(a, b int) bool {
		return j.Tasks[a].ProcessingOrder < j.Tasks[b].ProcessingOrder
	})
}

// NextSequential returns the lowest-ordered non-terminal task, or nil
// when every task is terminal. In sequential mode this is the only task
// the scheduler may consider.
func (j *Job) NextSequential() *Task {
	var next *Task
	for _, t := range j.Tasks {
		if t.Status.Terminal() {
			continue
		}
		if next == nil || t.ProcessingOrder < next.ProcessingOrder {
			next = t
		}
	}
	return next
}

// AggregateStatus derives the job status from its tasks. A job completes
// only when every task is terminal; any failed task fails the whole job,
// and a canceled task (with none failed) cancels it. While any task is
// still live the job keeps its current non-terminal status.
func (j *Job) AggregateStatus() ItemStatus {
	anyFailed := false
	anyCanceled := false
	for _, t := range j.Tasks {
		if !t.Status.Terminal() {
			return j.Status
		}
		switch t.Status {
		case StatusFailed:
			anyFailed = true
		case StatusCanceled:
			anyCanceled = true
		}
	}
	if anyFailed {
		return StatusFailed
	}
	if anyCanceled {
		return StatusCanceled
	}
	return StatusCompleted
}

// Terminal reports whether every task has reached a terminal status.
func (j *Job) Terminal() bool {
	for _, t := range j.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}
