package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateDelay(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		attempt  int
		want     time.Duration
	}{
		{"constant first", Strategy{Backoff: BackoffConstant, Delay: time.Second}, 1, time.Second},
		{"constant later", Strategy{Backoff: BackoffConstant, Delay: time.Second}, 7, time.Second},
		{"linear grows", Strategy{Backoff: BackoffLinear, Delay: 2 * time.Second}, 3, 6 * time.Second},
		{"exponential attempt 1", Strategy{Backoff: BackoffExponential, Delay: time.Second}, 1, time.Second},
		{"exponential attempt 2", Strategy{Backoff: BackoffExponential, Delay: time.Second}, 2, 2 * time.Second},
		{"exponential attempt 3", Strategy{Backoff: BackoffExponential, Delay: time.Second}, 3, 4 * time.Second},
		{"exponential capped", Strategy{Backoff: BackoffExponential, Delay: time.Second, MaxDelay: Cap(3 * time.Second)}, 4, 3 * time.Second},
		{"zero delay means immediate", Strategy{Backoff: BackoffExponential, Delay: 0}, 5, 0},
		{"attempt below one clamped", Strategy{Backoff: BackoffLinear, Delay: time.Second}, 0, time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.strategy.CalculateDelay(tc.attempt))
		})
	}
}

func TestCalculateDelayNeverNegative(t *testing.T) {
	s := Strategy{Backoff: BackoffExponential, Delay: time.Hour}
	for attempt := 1; attempt <= 80; attempt++ {
		if d := s.CalculateDelay(attempt); d <= 0 {
			t.Fatalf("attempt %d produced non-positive delay %s", attempt, d)
		}
	}
}

func TestCanRetry(t *testing.T) {
	bounded := Strategy{Backoff: BackoffConstant, Delay: time.Second, MaxRetries: Retries(3)}
	assert.True(t, bounded.CanRetry(1))
	assert.True(t, bounded.CanRetry(3))
	assert.False(t, bounded.CanRetry(4))

	unbounded := Strategy{Backoff: BackoffConstant, Delay: time.Second}
	for _, attempt := range []int{1, 10, 1000} {
		assert.True(t, unbounded.CanRetry(attempt), "attempt %d", attempt)
	}

	none := Strategy{Backoff: BackoffConstant, Delay: time.Second, MaxRetries: Retries(0)}
	assert.False(t, none.CanRetry(1))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Strategy{Backoff: BackoffLinear, Delay: time.Second}.Validate())
	assert.Error(t, Strategy{Backoff: "quadratic", Delay: time.Second}.Validate())
	assert.Error(t, Strategy{Backoff: BackoffConstant, Delay: -time.Second}.Validate())
	assert.Error(t, Strategy{Backoff: BackoffConstant, Delay: time.Second, MaxRetries: Retries(-1)}.Validate())
}
