//go:build integration

package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Integration(t *testing.T) {
	ctx := context.Background()
	store := startRedis(t, ctx)
	repo := store.Repo
	defer repo.Close(ctx)

	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("store and retrieve webhook", func(t *testing.T) {
		record := newRecord(now)

		_, err := repo.Create(ctx, record)
		require.NoError(t, err)

		got, err := repo.Get(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, record.ID, got.ID)
		assert.Equal(t, string(record.Payload), string(got.Payload))
		assert.Equal(t, record.Headers, got.Headers)
		assert.Equal(t, webhook.Pending, got.Status)
		assert.True(t, record.CreatedAt.Equal(got.CreatedAt))
		assert.Nil(t, got.NextRetryAt)
		assert.Nil(t, got.ErrorMessage)
	})

	t.Run("get non-existent webhook", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})

	t.Run("duplicate delivery", func(t *testing.T) {
		first := newRecord(now)
		first.DeliveryID = "delivery-1"
		_, err := repo.Create(ctx, first)
		require.NoError(t, err)
		assert.True(t, store.exists(t, ctx, "webhook:delivery:int-1:delivery-1"))

		second := newRecord(now)
		second.DeliveryID = "delivery-1"
		existing, err := repo.Create(ctx, second)

		assert.ErrorIs(t, err, webhook.ErrDuplicateDelivery)
		assert.Equal(t, first.ID, existing.ID)
		assert.False(t, store.exists(t, ctx, "webhook:"+second.ID))
	})

	t.Run("full lifecycle", func(t *testing.T) {
		record := newRecord(now)
		_, err := repo.Create(ctx, record)
		require.NoError(t, err)

		assert.ErrorIs(t, repo.MarkProcessed(ctx, record.ID, now), webhook.ErrInvalidTransition)

		ok, err := repo.Claim(ctx, record.ID)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.Claim(ctx, record.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.SetEventType(ctx, record.ID, "videos"))
		require.NoError(t, repo.MarkRetry(ctx, record.ID, 1, now.Add(-time.Second), "crm down"))

		got, err := repo.Get(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Pending, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "crm down", *got.ErrorMessage)

		claimed, err := repo.ClaimDue(ctx, webhook.DueFilter{
			Now:          now,
			OrphanBefore: now.Add(-time.Hour),
			MaxRetries:   webhook.MaxRetries,
			Limit:        10,
		})
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, record.ID, claimed[0].ID)
		assert.Equal(t, webhook.Processing, claimed[0].Status)

		require.NoError(t, repo.MarkProcessed(ctx, record.ID, now))

		got, err = repo.Get(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Processed, got.Status)
		assert.Equal(t, "videos", got.EventType)
		assert.Nil(t, got.NextRetryAt)
		assert.Nil(t, got.ErrorMessage)
		require.NotNil(t, got.ProcessedAt)
		_, ok = store.field(t, ctx, record.ID, "error_message")
		assert.False(t, ok, "error_message survives a successful attempt")
		assert.True(t, store.indexed(t, ctx, "webhooks:processed", record.ID))

		n, err := repo.CountProcessedSince(ctx, now.Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("failed records keep the terminal timestamp", func(t *testing.T) {
		record := newRecord(now)
		store.claimed(t, ctx, record)

		require.NoError(t, repo.MarkFailed(ctx, record.ID, now, "crm down"))

		got, err := repo.Get(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Failed, got.Status)
		require.NotNil(t, got.ProcessedAt)
		assert.True(t, now.Equal(*got.ProcessedAt))
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "crm down", *got.ErrorMessage)
		assert.False(t, store.indexed(t, ctx, "webhooks:processed", record.ID))
		assert.True(t, store.indexed(t, ctx, "webhooks:status:failed", record.ID))
	})

	t.Run("orphans are claimed once they are old enough", func(t *testing.T) {
		old := newRecord(now.Add(-10*time.Minute))
		fresh := newRecord(now)
		for _, r := range []webhook.Record{old, fresh} {
			_, err := repo.Create(ctx, r)
			require.NoError(t, err)
		}

		claimed, err := repo.ClaimDue(ctx, webhook.DueFilter{
			Now:          now,
			OrphanBefore: now.Add(-2 * time.Minute),
			MaxRetries:   webhook.MaxRetries,
			Limit:        10,
		})
		require.NoError(t, err)

		ids := make([]string, 0, len(claimed))
		for _, r := range claimed {
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, old.ID)
		assert.NotContains(t, ids, fresh.ID)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		record := newRecord(now)
		_, err := repo.Create(ctx, record)
		require.NoError(t, err)

		var wins atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := repo.Claim(ctx, record.ID); err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), wins.Load())
	})

	t.Run("list and counts", func(t *testing.T) {
		records, err := repo.List(ctx, webhook.ListFilter{Limit: 3})
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.False(t, records[0].CreatedAt.Before(records[1].CreatedAt))

		processed, err := repo.List(ctx, webhook.ListFilter{Status: webhook.Processed, Limit: 10})
		require.NoError(t, err)
		require.Len(t, processed, 1)

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[webhook.Processed])
		assert.Equal(t, int64(2), counts[webhook.Processing])
	})
}
