package config

import (
	"testing"
	"time"

	"github.com/altinn/process-engine/internal/retry"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.QueueCapacity != 10 {
		t.Fatalf("unexpected default queue capacity %d", cfg.QueueCapacity)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected default poll interval %s", cfg.PollInterval)
	}
	if cfg.AbortOnFailure {
		t.Fatal("abort-on-failure must default to off")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "3")
	t.Setenv("POLL_INTERVAL", "50ms")
	t.Setenv("ABORT_ON_FAILURE", "true")
	t.Setenv("RETRY_BACKOFF", "linear")

	cfg := Load()
	if cfg.QueueCapacity != 3 {
		t.Fatalf("override not applied: %d", cfg.QueueCapacity)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Fatalf("override not applied: %s", cfg.PollInterval)
	}
	if !cfg.AbortOnFailure {
		t.Fatal("abort-on-failure override not applied")
	}
	if cfg.DefaultBackoff != retry.BackoffLinear {
		t.Fatalf("backoff override not applied: %s", cfg.DefaultBackoff)
	}
}

func TestDefaultStrategy(t *testing.T) {
	t.Setenv("RETRY_DELAY", "1s")
	t.Setenv("RETRY_MAX_RETRIES", "2")
	cfg := Load()
	s := cfg.DefaultStrategy()
	if err := s.Validate(); err != nil {
		t.Fatalf("default strategy invalid: %v", err)
	}
	if !s.CanRetry(2) || s.CanRetry(3) {
		t.Fatal("max retries not wired into strategy")
	}
	if s.CalculateDelay(2) != 2*time.Second {
		t.Fatalf("unexpected delay %s", s.CalculateDelay(2))
	}
}
