package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
)

var (
	ErrPoolTerminated = errors.New("pool is terminated")
	ErrTimeout        = errors.New("timeout submitting job")
)

// PoolConfig sizes a Pool
type PoolConfig struct {
	Workers       int
	QueueSize     int
	SubmitTimeout time.Duration
}

/* Pool is a buffered channel drained by a fixed number of goroutines
 * Shutdown stops new submissions and runs every job already queued before
 * returning. Sweep jobs arrive already claimed, so a dropped job would leave
 * its record in processing.
 */
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	process ProcessFunc
	logger  *slog.Logger
	timeout time.Duration

	// mu guards sends on jobs against the close in Shutdown
	mu   sync.RWMutex
	jobs chan webhook.Job
	wait sync.WaitGroup
	once sync.Once
}

// NewPool starts cfg.Workers goroutines
func NewPool(process ProcessFunc, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:     ctx,
		cancel:  cancel,
		process: process,
		logger:  logger,
		timeout: cfg.SubmitTimeout,
		jobs:    make(chan webhook.Job, cfg.QueueSize),
	}

	p.wait.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.consume()
	}
	return p
}

// Submit enqueues a job, waiting at most the submit timeout for room
func (p *Pool) Submit(ctx context.Context, job webhook.Job) error {
	if job.WebhookID == "" {
		return errors.New("job has no webhook id")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ctx.Err() != nil {
		return ErrPoolTerminated
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case p.jobs <- job:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return fmt.Errorf("submitting job: %w", ctx.Err())
	case <-p.ctx.Done():
		return ErrPoolTerminated
	}
}

func (p *Pool) consume() {
	defer p.wait.Done()
	for job := range p.jobs {
		p.execute(job)
	}
}

func (p *Pool) execute(job webhook.Job) {
	defer func() {
		if e := recover(); e != nil {
			p.logger.Error("panic recovered while processing webhook",
				"webhook_id", job.WebhookID, "panic", e, "stack", string(debug.Stack()))
		}
	}()

	// in-flight jobs finish even while the pool shuts down
	if err := p.process(context.Background(), job); err != nil {
		p.logger.Error("error processing webhook", "webhook_id", job.WebhookID, "error", err)
	}
}

// Shutdown rejects new jobs, then waits until the queued and in-flight ones
// have run
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		// releases submitters blocked on a full queue
		p.cancel()

		p.mu.Lock()
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wait.Wait()
}
