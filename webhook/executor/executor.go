package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcelsud/webhook-intake/webhook"
)

/* An executor runs the processing entry point for submitted jobs
 * Inline runs it on the caller goroutine, Pool on a fixed set of workers and
 * the redis Queue in a separate worker process.
 */
type Executor interface {
	webhook.Submitter
	Shutdown()
}

// ProcessFunc is the processing entry point, usually webhook.Service.Process
type ProcessFunc func(ctx context.Context, job webhook.Job) error

// Mode selects the executor implementation
type Mode string

const (
	ModeInline Mode = "inline"
	ModePool   Mode = "pool"
	ModeRedis  Mode = "redis"
)

var ErrUnknownMode = errors.New("unknown executor mode")

// ParseMode validates a mode name taken from configuration
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeInline, ModePool, ModeRedis:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}
