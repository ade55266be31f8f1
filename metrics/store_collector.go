package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
	whredis "github.com/marcelsud/webhook-intake/webhook/redis"
)

// StatsReader is the part of the record store the collector reads
type StatsReader interface {
	CountByStatus(ctx context.Context) (map[webhook.Status]int64, error)
	CountProcessedSince(ctx context.Context, since time.Time) (int64, error)
}

// WorkerSource lists live queue consumers
type WorkerSource interface {
	ActiveWorkers(ctx context.Context) ([]WorkerInfo, error)
}

// QueueSource reports the queue backlog
type QueueSource interface {
	Pending(ctx context.Context) (int64, error)
}

// StoreCollector implements Collector on top of any record store.
// Workers and queue are optional; without them the related metrics are empty.
type StoreCollector struct {
	store   StatsReader
	workers WorkerSource
	queue   QueueSource
	now     func() time.Time
}

// CollectorOption customizes a StoreCollector
type CollectorOption func(*StoreCollector)

// WithWorkers reports worker heartbeats
func WithWorkers(w WorkerSource) CollectorOption {
	return func(c *StoreCollector) {
		c.workers = w
	}
}

// WithQueue reports the queue backlog
func WithQueue(q QueueSource) CollectorOption {
	return func(c *StoreCollector) {
		c.queue = q
	}
}

// WithClock overrides the time source used for throughput windows
func WithClock(now func() time.Time) CollectorOption {
	return func(c *StoreCollector) {
		c.now = now
	}
}

func NewStoreCollector(store StatsReader, opts ...CollectorOption) *StoreCollector {
	c := &StoreCollector{
		store: store,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect gathers all metrics
func (c *StoreCollector) Collect(ctx context.Context) (Metrics, error) {
	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting status counts: %w", err)
	}

	throughput, err := c.GetThroughput(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting throughput: %w", err)
	}

	pending, err := c.GetQueuePending(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting queue backlog: %w", err)
	}

	workers, err := c.GetActiveWorkers(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting active workers: %w", err)
	}

	return Metrics{
		StatusCounts: statusCounts,
		Throughput:   throughput,
		QueuePending: pending,
		Workers:      workers,
		Timestamp:    c.now(),
	}, nil
}

// GetStatusCounts returns counts of records grouped by status, every status present
func (c *StoreCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	statusCounts := make(map[string]int64, len(webhook.Statuses()))
	for _, s := range webhook.Statuses() {
		statusCounts[s.String()] = counts[s]
	}
	return statusCounts, nil
}

// GetThroughput counts records processed in the last 1, 5 and 15 minutes
func (c *StoreCollector) GetThroughput(ctx context.Context) (ThroughputMetrics, error) {
	now := c.now()
	windows := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	values := make([]int64, len(windows))

	for i, window := range windows {
		n, err := c.store.CountProcessedSince(ctx, now.Add(-window))
		if err != nil {
			return ThroughputMetrics{}, err
		}
		values[i] = n
	}

	return ThroughputMetrics{
		LastMinute:         values[0],
		LastFiveMinutes:    values[1],
		LastFifteenMinutes: values[2],
	}, nil
}

func (c *StoreCollector) GetQueuePending(ctx context.Context) (int64, error) {
	if c.queue == nil {
		return 0, nil
	}
	return c.queue.Pending(ctx)
}

func (c *StoreCollector) GetActiveWorkers(ctx context.Context) ([]WorkerInfo, error) {
	if c.workers == nil {
		return []WorkerInfo{}, nil
	}
	return c.workers.ActiveWorkers(ctx)
}

// QueueWorkers adapts the Redis stream queue heartbeats to WorkerSource
type QueueWorkers struct {
	Queue *whredis.Queue
}

func (w QueueWorkers) ActiveWorkers(ctx context.Context) ([]WorkerInfo, error) {
	heartbeats, err := w.Queue.ActiveWorkers(ctx)
	if err != nil {
		return nil, err
	}

	workers := make([]WorkerInfo, 0, len(heartbeats))
	for _, hb := range heartbeats {
		workers = append(workers, WorkerInfo{
			WorkerID:      hb.WorkerID,
			Status:        hb.Status,
			LastHeartbeat: hb.LastHeartbeat,
		})
	}
	return workers, nil
}

var _ Collector = (*StoreCollector)(nil)
