package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestScheduler_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := WithClock(func() time.Time { return now })

	t.Run("success - submits claimed records", func(t *testing.T) {
		repo := mocks.NewClaimer(t)
		submitter := mocks.NewSubmitter(t)
		s := NewScheduler(repo, submitter, nil, clock, WithBatchSize(10), WithOrphanAfter(time.Minute))

		repo.On("ClaimDue", ctx, webhook.DueFilter{
			Now:          now,
			OrphanBefore: now.Add(-time.Minute),
			MaxRetries:   webhook.MaxRetries,
			Limit:        10,
		}).Return([]webhook.Record{{ID: "a"}, {ID: "b"}}, nil)
		submitter.On("Submit", ctx, webhook.Job{WebhookID: "a", Claimed: true}).Return(nil)
		submitter.On("Submit", ctx, webhook.Job{WebhookID: "b", Claimed: true}).Return(nil)

		n, err := s.Sweep(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("nothing due", func(t *testing.T) {
		repo := mocks.NewClaimer(t)
		submitter := mocks.NewSubmitter(t)
		s := NewScheduler(repo, submitter, nil, clock)

		repo.On("ClaimDue", ctx, mock.Anything).Return([]webhook.Record{}, nil)

		n, err := s.Sweep(ctx)

		require.NoError(t, err)
		assert.Zero(t, n)
		submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("rejected submission is processed by the fallback", func(t *testing.T) {
		repo := mocks.NewClaimer(t)
		submitter := mocks.NewSubmitter(t)
		var processed []string
		s := NewScheduler(repo, submitter, nil, clock, WithFallback(func(_ context.Context, job webhook.Job) error {
			assert.True(t, job.Claimed)
			processed = append(processed, job.WebhookID)
			return nil
		}))

		repo.On("ClaimDue", ctx, mock.Anything).Return([]webhook.Record{{ID: "a"}}, nil)
		submitter.On("Submit", ctx, mock.Anything).Return(errors.New("queue full"))

		n, err := s.Sweep(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"a"}, processed)
	})

	t.Run("claim error", func(t *testing.T) {
		repo := mocks.NewClaimer(t)
		s := NewScheduler(repo, mocks.NewSubmitter(t), nil, clock)

		repo.On("ClaimDue", ctx, mock.Anything).Return(nil, errors.New("db down"))

		_, err := s.Sweep(ctx)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "claiming due webhooks")
	})
}

func TestScheduler_StartStop(t *testing.T) {
	var sweeps atomic.Int64
	repo := mocks.NewClaimer(t)
	repo.On("ClaimDue", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { sweeps.Add(1) }).
		Return([]webhook.Record{}, nil)

	s := NewScheduler(repo, mocks.NewSubmitter(t), nil, WithInterval(time.Second))
	s.Start()

	assert.Eventually(t, func() bool { return sweeps.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
