package models

import (
	"encoding/json"
	"fmt"
)

// ItemStatus enumerates the lifecycle states shared by jobs and tasks.
// The order follows the lifecycle, not severity: an item moves forward
// through Enqueued/Processing/Requeued until it lands in a terminal state.
type ItemStatus int

const (
	StatusEnqueued ItemStatus = iota
	StatusProcessing
	StatusRequeued
	StatusCompleted
	StatusFailed
	StatusCanceled
)

var statusNames = map[ItemStatus]string{
	StatusEnqueued:   "enqueued",
	StatusProcessing: "processing",
	StatusRequeued:   "requeued",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
	StatusCanceled:   "canceled",
}

func (s ItemStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether the status permits no further transitions.
func (s ItemStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ParseStatus maps a persisted status name back to its enum value.
func ParseStatus(name string) (ItemStatus, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown item status %q", name)
}

func (s ItemStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ItemStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
