package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/executor"
	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultBatchSize   = 100
	DefaultOrphanAfter = 2 * time.Minute
)

/* Scheduler periodically claims the records whose backoff elapsed and hands
 * them to the executor. Claiming is the atomic pending -> processing update
 * done by the repository, so overlapping sweeps never dispatch a record twice
 * and a slow batch never blocks the next tick.
 *
 * Pending records without next_retry_at older than OrphanAfter are claimed
 * too: they are deliveries whose initial submission was lost.
 */
type Scheduler struct {
	repo        webhook.Claimer
	submitter   webhook.Submitter
	fallback    executor.ProcessFunc
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	orphanAfter time.Duration
	maxRetries  int
	now         func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes a Scheduler
type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithOrphanAfter(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.orphanAfter = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(s *Scheduler) {
		s.maxRetries = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithFallback processes a claimed record on the sweep goroutine when the
// executor refuses it, so a claimed record is never left in processing
func WithFallback(process executor.ProcessFunc) Option {
	return func(s *Scheduler) {
		s.fallback = process
	}
}

// NewScheduler creates a scheduler; call Start to run it on its own cron
func NewScheduler(repo webhook.Claimer, submitter webhook.Submitter, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		repo:        repo,
		submitter:   submitter,
		logger:      logger,
		interval:    DefaultInterval,
		batchSize:   DefaultBatchSize,
		orphanAfter: DefaultOrphanAfter,
		maxRetries:  webhook.MaxRetries,
		now: func() time.Time {
			return time.Now().UTC()
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{logger})))
	return s
}

// Sweep claims one batch of due records and submits them; it returns how many were claimed
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	records, err := s.repo.ClaimDue(ctx, webhook.DueFilter{
		Now:          now,
		OrphanBefore: now.Add(-s.orphanAfter),
		MaxRetries:   s.maxRetries,
		Limit:        s.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("claiming due webhooks: %w", err)
	}

	for _, record := range records {
		job := webhook.Job{WebhookID: record.ID, Claimed: true}
		err := s.submitter.Submit(ctx, job)
		if err == nil {
			continue
		}
		s.logger.WarnContext(ctx, "submitting retry failed, processing on the sweep",
			"webhook_id", record.ID, "error", err)
		if s.fallback == nil {
			continue
		}
		if err := s.fallback(context.WithoutCancel(ctx), job); err != nil {
			s.logger.ErrorContext(ctx, "error processing retry", "webhook_id", record.ID, "error", err)
		}
	}

	if len(records) > 0 {
		s.logger.InfoContext(ctx, "retry sweep claimed webhooks", "count", len(records))
	}
	return len(records), nil
}

// Start schedules Sweep every interval
func (s *Scheduler) Start() {
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if _, err := s.Sweep(s.ctx); err != nil {
			s.logger.Error("retry sweep failed", "error", err)
		}
	}))
	s.cron.Start()
	s.logger.Info("retry scheduler started", "interval", s.interval.String(), "batch_size", s.batchSize)
}

// Stop stops scheduling and waits for running sweeps, at most until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// cronLogger routes cron's internal logging to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
