package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/altinn/process-engine/internal/command"
	"github.com/altinn/process-engine/internal/models"
	"github.com/altinn/process-engine/internal/retry"
)

// ResponseStatus is the synchronous verdict on a submission. Execution
// itself is always asynchronous.
type ResponseStatus string

const (
	StatusAccepted ResponseStatus = "accepted"
	StatusRejected ResponseStatus = "rejected"
)

// ProcessEngineResponse is returned to the caller at submission time.
type ProcessEngineResponse struct {
	Status  ResponseStatus `json:"status"`
	JobID   string         `json:"jobId,omitempty"`
	Message string         `json:"message,omitempty"`
}

// CommandRequest is one unit of work in a submission, with optional
// earliest start time and retry override.
type CommandRequest struct {
	Command   models.Command
	StartTime *time.Time
	Retry     *retry.Strategy
}

type commandRequestJSON struct {
	Command   json.RawMessage `json:"command"`
	StartTime *time.Time      `json:"startTime,omitempty"`
	Retry     *retry.Strategy `json:"retry,omitempty"`
}

func (r *CommandRequest) UnmarshalJSON(data []byte) error {
	var raw commandRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Command) == 0 {
		return fmt.Errorf("command request: command is required")
	}
	cmd, err := command.Unmarshal(raw.Command)
	if err != nil {
		return err
	}
	r.Command = cmd
	r.StartTime = raw.StartTime
	r.Retry = raw.Retry
	return nil
}

func (r CommandRequest) MarshalJSON() ([]byte, error) {
	cmd, err := command.Marshal(r.Command)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandRequestJSON{
		Command:   cmd,
		StartTime: r.StartTime,
		Retry:     r.Retry,
	})
}

// ProcessNextRequest asks the engine to move a workflow instance from
// one process element to the next by running the given commands in
// order. Parallel mode is a debug escape hatch.
type ProcessNextRequest struct {
	CurrentElementID string                     `json:"currentElementId"`
	DesiredElementID string                     `json:"desiredElementId"`
	Instance         models.InstanceInformation `json:"instance"`
	Actor            models.Actor               `json:"actor"`
	Mode             models.ExecutionMode       `json:"mode,omitempty"`
	Tasks            []CommandRequest           `json:"tasks"`
}

// JobID derives the deterministic identifier for this transition.
func (r ProcessNextRequest) JobID() string {
	return fmt.Sprintf("%s/next/from-%s-to-%s",
		r.Instance.InstanceGUID, r.CurrentElementID, r.DesiredElementID)
}

// Validate rejects malformed submissions before anything is persisted.
func (r ProcessNextRequest) Validate() error {
	if r.CurrentElementID == "" {
		return fmt.Errorf("currentElementId is required")
	}
	if r.DesiredElementID == "" {
		return fmt.Errorf("desiredElementId is required")
	}
	if err := r.Instance.Validate(); err != nil {
		return err
	}
	if err := r.Actor.Validate(); err != nil {
		return err
	}
	if len(r.Tasks) == 0 {
		return fmt.Errorf("at least one task is required")
	}
	switch r.Mode {
	case "", models.ModeSequential, models.ModeParallel:
	default:
		return fmt.Errorf("unknown execution mode %q", r.Mode)
	}
	for i, t := range r.Tasks {
		if t.Command == nil {
			return fmt.Errorf("task %d: command is required", i)
		}
		if t.Retry != nil {
			if err := t.Retry.Validate(); err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
		}
	}
	return nil
}

// ActiveJobStatus is the polling view of an in-progress job.
type ActiveJobStatus struct {
	JobID          string            `json:"jobId"`
	Status         models.ItemStatus `json:"status"`
	TotalTasks     int               `json:"totalTasks"`
	CompletedTasks int               `json:"completedTasks"`
}
