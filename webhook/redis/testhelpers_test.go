//go:build integration

package redis_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// testStore is a record store backed by a throwaway Redis container. Raw
// talks to the same server so tests can look at the keys the Lua scripts
// maintain.
type testStore struct {
	Repo *redis.Repository
	Raw  *goredis.Client
}

func startRedis(t *testing.T, ctx context.Context) *testStore {
	t.Helper()

	container, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "starting redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating redis container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	addr := strings.TrimPrefix(uri, "redis://")

	client, err := redis.NewClient(ctx, addr, "", 0)
	require.NoError(t, err, "connecting to redis")

	raw := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() {
		_ = raw.Close()
	})

	return &testStore{Repo: redis.NewRepository(client), Raw: raw}
}

// newRecord builds a pending TikTok record created at createdAt
func newRecord(createdAt time.Time) webhook.Record {
	return webhook.Record{
		ID:            uuid.NewString(),
		IntegrationID: "int-1",
		Platform:      webhook.TikTok,
		EventType:     webhook.UnknownEventType,
		Payload:       []byte(`{"type":"video"}`),
		Signature:     "sha256=abc",
		Headers:       map[string]string{"Content-Type": "application/json"},
		Status:        webhook.Pending,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

// claimed stores record and moves it to processing
func (s *testStore) claimed(t *testing.T, ctx context.Context, record webhook.Record) {
	t.Helper()

	_, err := s.Repo.Create(ctx, record)
	require.NoError(t, err)
	ok, err := s.Repo.Claim(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

// field reads one field of the record hash; ok is false when it is absent
func (s *testStore) field(t *testing.T, ctx context.Context, id, name string) (string, bool) {
	t.Helper()

	value, err := s.Raw.HGet(ctx, "webhook:"+id, name).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false
	}
	require.NoError(t, err)
	return value, true
}

// indexed reports whether id is a member of the sorted set at key
func (s *testStore) indexed(t *testing.T, ctx context.Context, key, id string) bool {
	t.Helper()

	_, err := s.Raw.ZScore(ctx, key, id).Result()
	if errors.Is(err, goredis.Nil) {
		return false
	}
	require.NoError(t, err)
	return true
}

func (s *testStore) exists(t *testing.T, ctx context.Context, key string) bool {
	t.Helper()

	n, err := s.Raw.Exists(ctx, key).Result()
	require.NoError(t, err)
	return n > 0
}

func (s *testStore) ttl(t *testing.T, ctx context.Context, key string) time.Duration {
	t.Helper()

	ttl, err := s.Raw.TTL(ctx, key).Result()
	require.NoError(t, err)
	return ttl
}
