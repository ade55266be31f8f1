package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
)

// DefaultTimeout bounds a single handler invocation
const DefaultTimeout = 30 * time.Second

// ErrHandlerTimeout is reported when a handler does not return within the timeout
var ErrHandlerTimeout = errors.New("webhook handler timed out")

// Handler runs the business logic for a classified record
type Handler interface {
	Handle(ctx context.Context, record webhook.Record) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, record webhook.Record) error

// Handle calls f(ctx, record)
func (f HandlerFunc) Handle(ctx context.Context, record webhook.Record) error {
	return f(ctx, record)
}

/* Router holds the handlers of one platform, keyed by event type
 * Fallback, when set, receives the event types nobody registered.
 * Writes go through the owning dispatcher's lock, so routes may be added
 * while records are being dispatched.
 */
type Router struct {
	mu       *sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// Handle registers the handler of an event type
func (r *Router) Handle(eventType string, h Handler) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[eventType] = h
	return r
}

// Fallback registers the handler of every unmapped event type of the platform
func (r *Router) Fallback(h Handler) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallback = h
	return r
}

// lookup runs under the dispatcher's read lock
func (r *Router) lookup(eventType string) (Handler, bool) {
	if h, ok := r.handlers[eventType]; ok {
		return h, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Dispatcher selects and invokes exactly one handler per record
type Dispatcher struct {
	mu      sync.RWMutex
	routers map[webhook.Platform]*Router
	generic Handler
	timeout time.Duration
	logger  *slog.Logger
}

// Option customizes a Dispatcher
type Option func(*Dispatcher)

// WithTimeout overrides DefaultTimeout; zero or negative disables the bound
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithGeneric replaces the handler used for unmapped platforms and event types
func WithGeneric(h Handler) Option {
	return func(d *Dispatcher) {
		d.generic = h
	}
}

// New creates a dispatcher whose default handler only logs receipt
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		routers: make(map[webhook.Platform]*Router),
		timeout: DefaultTimeout,
		logger:  logger,
	}
	d.generic = LogReceipt(logger)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Route returns the router of a platform, creating it on first use
func (d *Dispatcher) Route(platform webhook.Platform) *Router {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.routers[platform]
	if !ok {
		r = &Router{mu: &d.mu, handlers: make(map[string]Handler)}
		d.routers[platform] = r
	}
	return r
}

// Register is shorthand for Route(platform).Handle(eventType, h)
func (d *Dispatcher) Register(platform webhook.Platform, eventType string, h Handler) {
	d.Route(platform).Handle(eventType, h)
}

// HandlerFor resolves the handler of a platform and event type
func (d *Dispatcher) HandlerFor(platform webhook.Platform, eventType string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if r, ok := d.routers[platform]; ok {
		if h, ok := r.lookup(eventType); ok {
			return h
		}
	}
	return d.generic
}

/* Dispatch invokes the selected handler with a private copy of the payload
 * Panics are recovered into errors and the call is bounded by the timeout.
 * On timeout the handler's context is cancelled and ErrHandlerTimeout is
 * returned without waiting for it.
 */
func (d *Dispatcher) Dispatch(ctx context.Context, record webhook.Record) error {
	h := d.HandlerFor(record.Platform, record.EventType)
	record.Payload = bytes.Clone(record.Payload)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- d.invoke(ctx, h, record)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrHandlerTimeout, d.timeout)
	}
	return err
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, record webhook.Record) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.ErrorContext(ctx, "webhook handler panicked",
				"webhook_id", record.ID,
				"platform", record.Platform.String(),
				"event_type", record.EventType,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Handle(ctx, record)
}

// LogReceipt returns the no-op handler used for unmapped platforms and events
func LogReceipt(logger *slog.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, record webhook.Record) error {
		logger.InfoContext(ctx, "webhook received without a specific handler",
			"webhook_id", record.ID,
			"integration_id", record.IntegrationID,
			"platform", record.Platform.String(),
			"event_type", record.EventType,
			"payload_bytes", len(record.Payload),
		)
		return nil
	})
}
