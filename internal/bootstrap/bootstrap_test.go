package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/httplog/v2"
	"github.com/marcelsud/webhook-intake/config"
	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/executor"
	"github.com/marcelsud/webhook-intake/webhook/inmem"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "integrations.yaml")
	content := "integrations:\n  - id: \"acme-tiktok\"\n    platform: \"tiktok\"\n    webhook_secret: \"s\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("INTEGRATIONS_FILE", path)
	t.Setenv("EXECUTOR_MODE", mode)
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func testLogger() *httplog.Logger {
	return httplog.NewLogger("test", httplog.Options{LogLevel: slog.LevelError})
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{AppEnv: "staging", LogLevel: "warn", LogJSON: true}

	logger := NewLogger("webhook-intake", cfg)

	require.NotNil(t, logger.Logger)
	assert.True(t, logger.Options.JSON)
	assert.Equal(t, slog.LevelWarn, logger.Options.LogLevel)
	assert.Equal(t, "staging", logger.Options.Tags["env"])
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
}

func TestNew(t *testing.T) {
	t.Run("success - memory store with inline executor", func(t *testing.T) {
		ctx := context.Background()
		app, err := New(ctx, testConfig(t, "inline"), testLogger(), promclient.NewRegistry())
		require.NoError(t, err)
		defer app.Close(ctx)

		assert.IsType(t, &inmem.Repository{}, app.Repo)
		assert.True(t, app.Integrations.Exists("acme-tiktok"))
		assert.Nil(t, app.Queue)

		exec, err := app.NewExecutor()
		require.NoError(t, err)
		assert.IsType(t, &executor.Inline{}, exec)

		record, err := app.Service.Receive(ctx, webhook.Inbound{
			IntegrationID: "acme-tiktok",
			Platform:      webhook.TikTok,
			Payload:       []byte(`{"type":"video"}`),
		})
		require.NoError(t, err)
		require.NoError(t, exec.Submit(ctx, webhook.Job{WebhookID: record.ID}))

		stored, err := app.Repo.Get(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Processed, stored.Status)
		assert.Equal(t, "videos", stored.EventType)
	})

	t.Run("success - pool executor and scheduler", func(t *testing.T) {
		ctx := context.Background()
		app, err := New(ctx, testConfig(t, "pool"), testLogger(), promclient.NewRegistry())
		require.NoError(t, err)
		defer app.Close(ctx)

		exec, err := app.NewExecutor()
		require.NoError(t, err)
		defer exec.Shutdown()
		assert.IsType(t, &executor.Pool{}, exec)

		n, err := app.NewScheduler(exec).Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("error - missing integrations file", func(t *testing.T) {
		cfg := testConfig(t, "inline")
		cfg.IntegrationsFile = filepath.Join(t.TempDir(), "missing.yaml")

		_, err := New(context.Background(), cfg, testLogger(), promclient.NewRegistry())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading integrations file")
	})

	t.Run("error - unknown executor mode", func(t *testing.T) {
		cfg := testConfig(t, "inline")
		cfg.ExecutorMode = "kafka"

		_, err := New(context.Background(), cfg, testLogger(), promclient.NewRegistry())

		assert.ErrorIs(t, err, executor.ErrUnknownMode)
	})
}
