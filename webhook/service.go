package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

/* Service represents the business logic layer
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the business operations for webhook intake
type UseCase interface {
	Receive(ctx context.Context, in Inbound) (Record, error)
	Process(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	Stats(ctx context.Context) (map[Status]int64, error)
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Outcome is the result of one processing attempt
type Outcome int

const (
	OutcomeProcessed Outcome = iota + 1
	OutcomeRetried
	OutcomeFailed
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeRetried:
		return "retried"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer is notified after every processing attempt
type Observer interface {
	Observe(ctx context.Context, record Record, outcome Outcome, elapsed time.Duration)
}

type Service struct {
	Repo       Repository
	Dispatcher Dispatcher
	Classify   ClassifyFunc
	Observer   Observer
	Logger     *slog.Logger
	MaxRetries int
	Now        func() time.Time
}

// Option customizes a Service
type Option func(*Service)

// WithObserver registers an observer for processing outcomes
func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.Observer = o
	}
}

// WithClock overrides the time source, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.Now = now
	}
}

// WithMaxRetries overrides the retry budget
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		s.MaxRetries = n
	}
}

// NewService creates a new webhook service with dependency injection
func NewService(repo Repository, dispatcher Dispatcher, classify ClassifyFunc, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		Repo:       repo,
		Dispatcher: dispatcher,
		Classify:   classify,
		Logger:     logger,
		MaxRetries: MaxRetries,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Receive persists a verified delivery as a pending record
func (s *Service) Receive(ctx context.Context, in Inbound) (Record, error) {
	if in.IntegrationID == "" {
		return Record{}, fmt.Errorf("%w: integration id is required", ErrInvalidInbound)
	}
	if in.Platform == "" {
		return Record{}, fmt.Errorf("%w: platform is required", ErrInvalidInbound)
	}

	now := s.Now()
	record := Record{
		ID:            uuid.New().String(),
		IntegrationID: in.IntegrationID,
		Platform:      in.Platform,
		EventType:     UnknownEventType,
		Payload:       in.Payload,
		Signature:     in.Signature,
		SourceIP:      in.SourceIP,
		UserAgent:     in.UserAgent,
		Headers:       in.Headers,
		DeliveryID:    in.DeliveryID,
		Status:        Pending,
		RetryCount:    0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	stored, err := s.Repo.Create(ctx, record)
	if errors.Is(err, ErrDuplicateDelivery) {
		return stored, err
	}
	if err != nil {
		return Record{}, fmt.Errorf("storing webhook: %w", err)
	}
	return stored, nil
}

// Process is the processing entry point executors call
// Handler failures become state transitions; only datastore errors are returned
func (s *Service) Process(ctx context.Context, job Job) error {
	if !job.Claimed {
		claimed, err := s.Repo.Claim(ctx, job.WebhookID)
		if err != nil {
			return fmt.Errorf("claiming webhook: %w", err)
		}
		if !claimed {
			s.Logger.DebugContext(ctx, "webhook already claimed", "webhook_id", job.WebhookID)
			return nil
		}
	}

	record, err := s.Repo.Get(ctx, job.WebhookID)
	if err != nil {
		return fmt.Errorf("loading webhook: %w", err)
	}
	if record.Status != Processing {
		s.Logger.WarnContext(ctx, "webhook not in processing status, skipping",
			"webhook_id", record.ID, "status", record.Status.String())
		return nil
	}

	eventType := UnknownEventType
	if s.Classify != nil {
		eventType = s.Classify(record.Platform, record.Payload)
	}
	if err := s.Repo.SetEventType(ctx, record.ID, eventType); err != nil {
		return s.release(ctx, record, fmt.Errorf("setting event type: %w", err))
	}
	record.EventType = eventType

	started := time.Now()
	handlerErr := s.Dispatcher.Dispatch(ctx, record)
	elapsed := time.Since(started)

	if handlerErr == nil {
		if err := s.Repo.MarkProcessed(ctx, record.ID, s.Now()); err != nil {
			return s.release(ctx, record, fmt.Errorf("marking webhook processed: %w", err))
		}
		s.observe(ctx, record, OutcomeProcessed, elapsed)
		return nil
	}

	outcome, err := s.fail(ctx, record, handlerErr)
	if err != nil {
		return err
	}
	s.observe(ctx, record, outcome, elapsed)
	return nil
}

// fail moves a processing record back to pending with a backoff, or to failed
// once its retry budget is spent
func (s *Service) fail(ctx context.Context, record Record, cause error) (Outcome, error) {
	now := s.Now()
	message := cause.Error()

	if record.RetryCount >= s.MaxRetries {
		if err := s.Repo.MarkFailed(ctx, record.ID, now, message); err != nil {
			return 0, fmt.Errorf("marking webhook failed: %w", err)
		}
		s.Logger.ErrorContext(ctx, "webhook failed permanently",
			"webhook_id", record.ID,
			"platform", record.Platform.String(),
			"event_type", record.EventType,
			"retry_count", record.RetryCount,
			"error", message,
		)
		return OutcomeFailed, nil
	}

	next := now.Add(RetryDelay(record.RetryCount))
	if err := s.Repo.MarkRetry(ctx, record.ID, record.RetryCount+1, next, message); err != nil {
		return 0, fmt.Errorf("scheduling webhook retry: %w", err)
	}
	s.Logger.WarnContext(ctx, "webhook handler failed, retry scheduled",
		"webhook_id", record.ID,
		"platform", record.Platform.String(),
		"event_type", record.EventType,
		"retry_count", record.RetryCount+1,
		"next_retry_at", next,
		"error", message,
	)
	return OutcomeRetried, nil
}

// release hands a record left in processing by a datastore error back to the
// retry schedule and returns cause. A record that already left processing is
// not touched.
func (s *Service) release(ctx context.Context, record Record, cause error) error {
	if errors.Is(cause, ErrInvalidTransition) || errors.Is(cause, ErrNotFound) {
		return cause
	}
	if _, err := s.fail(ctx, record, cause); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Service) observe(ctx context.Context, record Record, outcome Outcome, elapsed time.Duration) {
	if s.Observer != nil {
		s.Observer.Observe(ctx, record, outcome, elapsed)
	}
}

// Get returns a record by id
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	record, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("getting webhook: %w", err)
	}
	return record, nil
}

// List returns the most recent records matching the filter
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	if filter.Status != 0 {
		if err := filter.Status.Validate(); err != nil {
			return nil, fmt.Errorf("validating status: %w", err)
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	records, err := s.Repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	return records, nil
}

// Stats returns the number of records per status
func (s *Service) Stats(ctx context.Context) (map[Status]int64, error) {
	counts, err := s.Repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting webhooks: %w", err)
	}
	return counts, nil
}
