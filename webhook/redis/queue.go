package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/redis/go-redis/v9"
)

/* Queue is the executor of EXECUTOR_MODE=redis
 * The API appends job ids to a stream; worker processes read them through a
 * consumer group and acknowledge each message once it has been processed.
 */

const (
	DefaultStream = "webhooks:jobs"
	DefaultGroup  = "webhook-workers"
)

// QueueConfig names the stream, the consumer group and this consumer
type QueueConfig struct {
	Stream            string
	Group             string
	Consumer          string
	Block             time.Duration
	Count             int64
	ClaimMinIdle      time.Duration
	HeartbeatInterval time.Duration
}

type Queue struct {
	client *redis.Client
	cfg    QueueConfig
	logger *slog.Logger
	busy   atomic.Bool
}

// NewQueue creates a stream queue; zero config values take defaults
func NewQueue(client *redis.Client, cfg QueueConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker"
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Queue{client: client, cfg: cfg, logger: logger}
}

// Submit appends a job to the stream
func (q *Queue) Submit(ctx context.Context, job webhook.Job) error {
	claimed := "0"
	if job.Claimed {
		claimed = "1"
	}
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{
			"webhook_id": job.WebhookID,
			"claimed":    claimed,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("adding to stream: %w", err)
	}
	return nil
}

// Shutdown is a no-op; the client is owned by the caller
func (q *Queue) Shutdown() {}

func (q *Queue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func jobFrom(msg redis.XMessage) (webhook.Job, bool) {
	id, ok := msg.Values["webhook_id"].(string)
	if !ok || id == "" {
		return webhook.Job{}, false
	}
	claimed, _ := msg.Values["claimed"].(string)
	return webhook.Job{WebhookID: id, Claimed: claimed == "1"}, true
}

/* Run consumes the stream until ctx is cancelled
 * Messages left pending by a crashed consumer for longer than ClaimMinIdle
 * are taken over first. Every message is acknowledged after processing:
 * handler failures are already recorded on the webhook by process, and a
 * record left pending by a datastore error is recovered by the retry sweep.
 */
func (q *Queue) Run(ctx context.Context, process func(context.Context, webhook.Job) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	go q.heartbeat(ctx)

	if err := q.reclaim(ctx, process); err != nil {
		q.logger.Warn("reclaiming pending messages failed", "error", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    q.cfg.Count,
			Block:    q.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error("reading from stream", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handle(ctx, msg, process)
			}
		}
	}
}

func (q *Queue) reclaim(ctx context.Context, process func(context.Context, webhook.Job) error) error {
	start := "0-0"
	for {
		msgs, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			MinIdle:  q.cfg.ClaimMinIdle,
			Start:    start,
			Count:    q.cfg.Count,
		}).Result()
		if err != nil {
			return fmt.Errorf("auto claiming messages: %w", err)
		}
		for _, msg := range msgs {
			q.handle(ctx, msg, process)
		}
		if next == "0-0" || len(msgs) == 0 {
			return nil
		}
		start = next
	}
}

func (q *Queue) handle(ctx context.Context, msg redis.XMessage, process func(context.Context, webhook.Job) error) {
	q.busy.Store(true)
	defer q.busy.Store(false)

	job, ok := jobFrom(msg)
	if !ok {
		q.logger.Warn("dropping malformed stream message", "message_id", msg.ID)
	} else if err := process(context.WithoutCancel(ctx), job); err != nil {
		q.logger.Error("error processing webhook", "webhook_id", job.WebhookID, "error", err)
	}

	if err := q.client.XAck(context.WithoutCancel(ctx), q.cfg.Stream, q.cfg.Group, msg.ID).Err(); err != nil {
		q.logger.Error("acknowledging message", "message_id", msg.ID, "error", err)
	}
}

func (q *Queue) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		status := "idle"
		if q.busy.Load() {
			status = "processing"
		}
		if err := q.SetWorkerHeartbeat(ctx, q.cfg.Consumer, status); err != nil && ctx.Err() == nil {
			q.logger.Warn("sending heartbeat", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Pending reports how many stream messages are not acknowledged yet
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	pending, err := q.client.XPending(ctx, q.cfg.Stream, q.cfg.Group).Result()
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, fmt.Errorf("reading pending messages: %w", err)
	}
	return pending.Count, nil
}
