package metrics

import (
	"context"
	"time"
)

// Metrics is a point-in-time snapshot of the intake pipeline.
type Metrics struct {
	// StatusCounts maps status name to the number of records in that status
	StatusCounts map[string]int64 `json:"status_counts"`

	// Throughput counts records processed over sliding windows
	Throughput ThroughputMetrics `json:"throughput"`

	// QueuePending is the number of queued jobs not acknowledged yet
	QueuePending int64 `json:"queue_pending"`

	// Workers lists the queue consumers with a live heartbeat
	Workers []WorkerInfo `json:"workers"`

	Timestamp time.Time `json:"timestamp"`
}

// ThroughputMetrics represents records processed over different time windows.
type ThroughputMetrics struct {
	LastMinute         int64 `json:"last_minute"`
	LastFiveMinutes    int64 `json:"last_five_minutes"`
	LastFifteenMinutes int64 `json:"last_fifteen_minutes"`
}

// WorkerInfo describes one queue consumer.
type WorkerInfo struct {
	WorkerID      string    `json:"worker_id"`
	Status        string    `json:"status"` // "idle", "processing"
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Collector gathers metrics from the webhook system.
type Collector interface {
	Collect(ctx context.Context) (Metrics, error)
	GetStatusCounts(ctx context.Context) (map[string]int64, error)
	GetThroughput(ctx context.Context) (ThroughputMetrics, error)
	GetQueuePending(ctx context.Context) (int64, error)
	GetActiveWorkers(ctx context.Context) ([]WorkerInfo, error)
}
