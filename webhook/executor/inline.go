package executor

import (
	"context"
	"errors"

	"github.com/marcelsud/webhook-intake/webhook"
)

// Inline processes jobs synchronously, for development and tests
type Inline struct {
	process ProcessFunc
}

// NewInline creates an inline executor
func NewInline(process ProcessFunc) *Inline {
	return &Inline{process: process}
}

/* Submit processes the job before returning
 * The request context is detached so a client disconnect does not abort a
 * record halfway through its state transitions.
 */
func (e *Inline) Submit(ctx context.Context, job webhook.Job) error {
	if e.process == nil {
		return errors.New("inline executor has no process function")
	}
	return e.process(context.WithoutCancel(ctx), job)
}

// Shutdown is a no-op
func (e *Inline) Shutdown() {}
