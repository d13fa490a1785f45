package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/altinn/process-engine/internal/models"
)

// ErrThrow is the fixed failure produced by the throw debug command.
var ErrThrow = errors.New("throw command executed")

// CallbackFunc is the seam across which application business logic is
// invoked for app commands. Handlers must be idempotent and must honor
// context cancellation.
type CallbackFunc func(ctx context.Context, instance models.InstanceInformation, actor models.Actor, metadata map[string]string) error

// Registry maps app command keys to their callbacks and executes every
// command variant. It is built once at startup and then read-only, so
// concurrent dispatch needs no locking.
type Registry struct {
	callbacks map[string]CallbackFunc
	client    *http.Client
}

// Option configures a Registry.
type Option func(*Registry)

// WithHTTPClient overrides the client used for webhook commands.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.client = c }
}

// NewRegistry builds an empty dispatch table.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		callbacks: make(map[string]CallbackFunc),
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds an app command key to its callback. Registering after
// the scheduler has started is not supported.
func (r *Registry) Register(key string, fn CallbackFunc) error {
	if key == "" {
		return fmt.Errorf("register command: empty key")
	}
	if fn == nil {
		return fmt.Errorf("register command %q: nil callback", key)
	}
	if _, exists := r.callbacks[key]; exists {
		return fmt.Errorf("register command %q: already registered", key)
	}
	r.callbacks[key] = fn
	return nil
}

// Keys returns the registered app command keys, for diagnostics.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		keys = append(keys, k)
	}
	return keys
}

// Dispatch executes the task's command. A panic inside a handler is
// contained and returned as an error so one bad command cannot take
// down the scheduler loop.
func (r *Registry) Dispatch(ctx context.Context, task *models.Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("command %s panicked: %v", task.Command.Identifier(), rec)
		}
	}()

	switch c := task.Command.(type) {
	case App:
		fn, ok := r.callbacks[c.Key]
		if !ok {
			return fmt.Errorf("no callback registered for command %q", c.Key)
		}
		return fn(ctx, task.Instance, task.Actor, c.Metadata)
	case Webhook:
		return r.postWebhook(ctx, c)
	case Timeout:
		select {
		case <-time.After(c.Duration):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case Noop:
		return nil
	case Throw:
		return ErrThrow
	case Delegate:
		if c.Action == nil {
			return fmt.Errorf("delegate command has no action (reloaded from storage?)")
		}
		return c.Action(ctx)
	default:
		return fmt.Errorf("unsupported command type %T", task.Command)
	}
}

func (r *Registry) postWebhook(ctx context.Context, c Webhook) error {
	contentType := c.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(c.Payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", c.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: unexpected status %d", c.URL, resp.StatusCode)
	}
	return nil
}
