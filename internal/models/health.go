package models

import (
	"encoding/json"
	"strings"
)

// Health is a flags-style view of engine state, derived from the worker
// pool and queue depth rather than stored anywhere.
type Health uint8

const (
	HealthHealthy Health = 1 << iota
	HealthUnhealthy
	HealthRunning
	HealthStopped
	HealthQueueFull
	HealthDisabled
	HealthIdle
)

var healthNames = []struct {
	flag Health
	name string
}{
	{HealthHealthy, "healthy"},
	{HealthUnhealthy, "unhealthy"},
	{HealthRunning, "running"},
	{HealthStopped, "stopped"},
	{HealthQueueFull, "queue_full"},
	{HealthDisabled, "disabled"},
	{HealthIdle, "idle"},
}

func (h Health) Has(flag Health) bool { return h&flag != 0 }

func (h Health) String() string {
	var parts []string
	for _, e := range healthNames {
		if h.Has(e.flag) {
			parts = append(parts, e.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

func (h Health) MarshalJSON() ([]byte, error) {
	var parts []string
	for _, e := range healthNames {
		if h.Has(e.flag) {
			parts = append(parts, e.name)
		}
	}
	return json.Marshal(parts)
}

// HealthSnapshot combines the health flags with the counts they were
// derived from, for the health endpoint.
type HealthSnapshot struct {
	Flags      Health `json:"flags"`
	QueueDepth int    `json:"queueDepth"`
	Executing  int    `json:"executing"`
	ActiveJobs int    `json:"activeJobs"`
	Capacity   int    `json:"capacity"`
}
