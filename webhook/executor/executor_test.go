package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	for _, s := range []string{"inline", "pool", "redis"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}

	_, err := ParseMode("sidekiq")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestInline(t *testing.T) {
	t.Run("success - runs synchronously", func(t *testing.T) {
		var got webhook.Job
		e := NewInline(func(_ context.Context, job webhook.Job) error {
			got = job
			return nil
		})

		require.NoError(t, e.Submit(context.Background(), webhook.Job{WebhookID: "wh-1"}))
		assert.Equal(t, "wh-1", got.WebhookID)
		e.Shutdown()
	})

	t.Run("context cancellation is detached", func(t *testing.T) {
		e := NewInline(func(ctx context.Context, _ webhook.Job) error {
			return ctx.Err()
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.NoError(t, e.Submit(ctx, webhook.Job{WebhookID: "wh-1"}))
	})

	t.Run("process error is returned", func(t *testing.T) {
		boom := errors.New("db down")
		e := NewInline(func(context.Context, webhook.Job) error { return boom })

		assert.ErrorIs(t, e.Submit(context.Background(), webhook.Job{WebhookID: "wh-1"}), boom)
	})
}

func TestPool_Submit(t *testing.T) {
	var wait sync.WaitGroup
	var seen sync.Map
	pool := NewPool(func(_ context.Context, job webhook.Job) error {
		seen.Store(job.WebhookID, true)
		wait.Done()
		return nil
	}, PoolConfig{Workers: 2, QueueSize: 5, SubmitTimeout: time.Second}, nil)
	defer pool.Shutdown()

	ids := []string{"a", "b", "c", "d", "e"}
	wait.Add(len(ids))
	for _, id := range ids {
		require.NoError(t, pool.Submit(context.Background(), webhook.Job{WebhookID: id}))
	}
	wait.Wait()

	for _, id := range ids {
		_, ok := seen.Load(id)
		assert.True(t, ok, id)
	}
}

func TestPool_SubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	pool := NewPool(func(context.Context, webhook.Job) error {
		started <- struct{}{}
		<-release
		return nil
	}, PoolConfig{Workers: 1, QueueSize: 1, SubmitTimeout: 50 * time.Millisecond}, nil)
	defer func() {
		close(release)
		pool.Shutdown()
	}()

	require.NoError(t, pool.Submit(context.Background(), webhook.Job{WebhookID: "busy"}))
	<-started
	require.NoError(t, pool.Submit(context.Background(), webhook.Job{WebhookID: "queued"}))

	err := pool.Submit(context.Background(), webhook.Job{WebhookID: "overflow"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPool_Errors(t *testing.T) {
	pool := NewPool(func(context.Context, webhook.Job) error {
		panic("boom")
	}, PoolConfig{Workers: 1, QueueSize: 1}, nil)

	assert.Error(t, pool.Submit(context.Background(), webhook.Job{}))

	// panics are recovered by the worker
	require.NoError(t, pool.Submit(context.Background(), webhook.Job{WebhookID: "wh-1"}))

	pool.Shutdown()
	pool.Shutdown()

	assert.ErrorIs(t, pool.Submit(context.Background(), webhook.Job{WebhookID: "wh-2"}), ErrPoolTerminated)
}

func TestPool_GracefulShutdown(t *testing.T) {
	var counter atomic.Int64
	var wait sync.WaitGroup

	pool := NewPool(func(context.Context, webhook.Job) error {
		wait.Done()
		time.Sleep(100 * time.Millisecond)
		counter.Add(1)
		return nil
	}, PoolConfig{Workers: 10, QueueSize: 10, SubmitTimeout: time.Second}, nil)

	wait.Add(10)
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), webhook.Job{WebhookID: "wh"}))
	}
	wait.Wait()

	pool.Shutdown()
	assert.Equal(t, int64(10), counter.Load())
}

func TestPool_ShutdownDrainsClaimedJobs(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	var done []webhook.Job

	pool := NewPool(func(_ context.Context, job webhook.Job) error {
		if job.WebhookID == "busy" {
			started <- struct{}{}
			<-release
		}
		mu.Lock()
		done = append(done, job)
		mu.Unlock()
		return nil
	}, PoolConfig{Workers: 1, QueueSize: 2, SubmitTimeout: time.Second}, nil)

	require.NoError(t, pool.Submit(context.Background(), webhook.Job{WebhookID: "busy"}))
	<-started
	require.NoError(t, pool.Submit(context.Background(), webhook.Job{WebhookID: "swept", Claimed: true}))

	stopped := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(stopped)
	}()

	assert.Eventually(t, func() bool {
		return errors.Is(pool.Submit(context.Background(), webhook.Job{WebhookID: "late"}), ErrPoolTerminated)
	}, time.Second, 10*time.Millisecond)

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, done, 2)
	assert.Equal(t, webhook.Job{WebhookID: "swept", Claimed: true}, done[1])
}
