// Package command defines the unit-of-work descriptions the process
// engine executes, their wire format, and the dispatch table that maps
// each variant to its handler.
package command

import (
	"context"
	"time"
)

// Variant identifiers for the non-app command kinds. App commands use
// their command key as identifier instead.
const (
	KindApp      = "app"
	KindWebhook  = "webhook"
	KindTimeout  = "timeout"
	KindNoop     = "noop"
	KindThrow    = "throw"
	KindDelegate = "delegate"
)

// App is a callback into the owning application, dispatched through a
// handler registered under its Key. The business logic behind the
// callback (signing, correspondence, PDF, ...) is opaque to the engine
// and must be idempotent: a crashed attempt is retried, not assumed done.
type App struct {
	Key      string            `json:"commandKey"`
	Metadata map[string]string `json:"metadata,omitempty"`
	MaxTime  time.Duration     `json:"maxExecutionTime,omitempty"`
}

func (c App) Identifier() string              { return c.Key }
func (c App) MaxExecutionTime() time.Duration { return c.MaxTime }

// Webhook issues an HTTP POST to the given URL when executed.
type Webhook struct {
	URL         string        `json:"uri"`
	Payload     []byte        `json:"payload,omitempty"`
	ContentType string        `json:"contentType,omitempty"`
	MaxTime     time.Duration `json:"maxExecutionTime,omitempty"`
}

func (c Webhook) Identifier() string              { return KindWebhook }
func (c Webhook) MaxExecutionTime() time.Duration { return c.MaxTime }

// Timeout waits for the configured duration, respecting cancellation.
type Timeout struct {
	Duration time.Duration `json:"duration"`
}

func (c Timeout) Identifier() string { return KindTimeout }

// MaxExecutionTime leaves headroom over the wait itself so a timeout
// command is not failed by its own deadline.
func (c Timeout) MaxExecutionTime() time.Duration { return c.Duration + time.Second }

// Noop succeeds immediately. Debug and test use.
type Noop struct{}

func (Noop) Identifier() string              { return KindNoop }
func (Noop) MaxExecutionTime() time.Duration { return 0 }

// Throw fails immediately. Debug and test use.
type Throw struct{}

func (Throw) Identifier() string              { return KindThrow }
func (Throw) MaxExecutionTime() time.Duration { return 0 }

// Delegate runs an in-memory function. Debug and test only: the action
// does not survive serialization, so a delegate reloaded from storage
// fails with a descriptive error instead of silently succeeding.
type Delegate struct {
	Action func(ctx context.Context) error `json:"-"`
}

func (Delegate) Identifier() string              { return KindDelegate }
func (Delegate) MaxExecutionTime() time.Duration { return 0 }
