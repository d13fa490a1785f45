// Package retry defines the backoff policy applied to failed task
// attempts. A Strategy is pure configuration; delay and retry decisions
// are derived functions with no stored state.
package retry

import (
	"encoding/json"
	"fmt"
	"time"
)

// BackoffType selects how the delay grows with the attempt number.
type BackoffType string

const (
	BackoffConstant    BackoffType = "constant"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// Strategy describes when and how often a failed attempt is retried.
// MaxRetries of nil means unlimited; MaxDelay of nil means uncapped.
type Strategy struct {
	Backoff    BackoffType    `json:"backoff"`
	Delay      time.Duration  `json:"delay"`
	MaxRetries *int           `json:"maxRetries,omitempty"`
	MaxDelay   *time.Duration `json:"maxDelay,omitempty"`
}

// CalculateDelay returns the wait before the given retry attempt.
// Attempts are 1-based: the first retry after the original try is
// attempt 1. A zero Delay means immediate retry and is allowed.
func (s Strategy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch s.Backoff {
	case BackoffLinear:
		d = s.Delay * time.Duration(attempt)
	case BackoffExponential:
		d = s.Delay << (attempt - 1)
		// Shift overflow past ~63 doublings shows up as a sign flip.
		if d < 0 || (s.Delay > 0 && d < s.Delay) {
			d = 1<<63 - 1
		}
	default:
		d = s.Delay
	}
	if s.MaxDelay != nil && d > *s.MaxDelay {
		d = *s.MaxDelay
	}
	return d
}

// CanRetry reports whether the given 1-based attempt is still within
// the retry ceiling.
func (s Strategy) CanRetry(attempt int) bool {
	if s.MaxRetries == nil {
		return true
	}
	return attempt <= *s.MaxRetries
}

// Validate rejects strategies that could never be applied.
func (s Strategy) Validate() error {
	switch s.Backoff {
	case BackoffConstant, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("retry: unknown backoff type %q", s.Backoff)
	}
	if s.Delay < 0 {
		return fmt.Errorf("retry: negative delay %s", s.Delay)
	}
	if s.MaxRetries != nil && *s.MaxRetries < 0 {
		return fmt.Errorf("retry: negative max retries %d", *s.MaxRetries)
	}
	return nil
}

// Retries is a convenience for building a MaxRetries pointer.
func Retries(n int) *int { return &n }

// Cap is a convenience for building a MaxDelay pointer.
func Cap(d time.Duration) *time.Duration { return &d }

// UnmarshalJSON fills in the constant backoff type when omitted, so a
// bare {"delay": "..."} override is usable.
func (s *Strategy) UnmarshalJSON(data []byte) error {
	type alias Strategy
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Backoff == "" {
		a.Backoff = BackoffConstant
	}
	*s = Strategy(a)
	return nil
}
