//go:build integration

package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Integration(t *testing.T) {
	ctx := context.Background()
	store := startRedis(t, ctx)
	repo := store.Repo
	defer repo.Close(ctx)

	queue := redis.NewQueue(repo.Client(), redis.QueueConfig{
		Consumer:          "worker-1",
		Block:             100 * time.Millisecond,
		HeartbeatInterval: 100 * time.Millisecond,
	}, nil)

	t.Run("submitted jobs are consumed and acknowledged", func(t *testing.T) {
		var mu sync.Mutex
		var seen []webhook.Job
		process := func(_ context.Context, job webhook.Job) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, job)
			return nil
		}

		require.NoError(t, queue.Submit(ctx, webhook.Job{WebhookID: "wh-1"}))
		require.NoError(t, queue.Submit(ctx, webhook.Job{WebhookID: "wh-2", Claimed: true}))

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- queue.Run(runCtx, process) }()

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == 2
		}, 5*time.Second, 50*time.Millisecond)

		mu.Lock()
		assert.Equal(t, webhook.Job{WebhookID: "wh-1"}, seen[0])
		assert.Equal(t, webhook.Job{WebhookID: "wh-2", Claimed: true}, seen[1])
		mu.Unlock()

		assert.Eventually(t, func() bool {
			pending, err := queue.Pending(ctx)
			return err == nil && pending == 0
		}, 5*time.Second, 50*time.Millisecond)

		workers, err := queue.ActiveWorkers(ctx)
		require.NoError(t, err)
		require.Len(t, workers, 1)
		assert.Equal(t, "worker-1", workers[0].WorkerID)
		ttl := store.ttl(t, ctx, "worker:heartbeat:worker-1")
		assert.Positive(t, int64(ttl))
		assert.LessOrEqual(t, int64(ttl), int64(redis.HeartbeatTTL))

		cancel()
		require.NoError(t, <-done)
	})
}
