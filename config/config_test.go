package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("success - defaults without .env", func(t *testing.T) {
		cfg, err := Load(t.TempDir())

		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, "memory", cfg.StoreDriver)
		assert.Equal(t, "pool", cfg.ExecutorMode)
		assert.Equal(t, 30*time.Second, cfg.HandlerTimeout())
		assert.Equal(t, 30*time.Second, cfg.RetrySweepInterval())
		assert.Equal(t, 2*time.Minute, cfg.OrphanAfter())
		assert.Equal(t, 5*time.Second, cfg.SubmitTimeout())
		assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
		assert.Equal(t, 50, cfg.ListLimit)
		assert.True(t, cfg.RetrySchedulerEnabled)
		assert.False(t, cfg.IsProduction())
	})

	t.Run("success - .env file and environment override", func(t *testing.T) {
		dir := t.TempDir()
		content := "PORT = \"9090\"\nSTORE_DRIVER = \"postgres\"\nDATABASE_URL = \"postgres://localhost/webhooks\"\nWORKER_COUNT = 8\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))
		t.Setenv("WORKER_COUNT", "2")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load(dir)

		require.NoError(t, err)
		assert.Equal(t, "9090", cfg.Port)
		assert.Equal(t, "postgres", cfg.StoreDriver)
		assert.Equal(t, 2, cfg.WorkerCount)
		assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	})

	t.Run("error - postgres without database url", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "postgres")

		_, err := Load(t.TempDir())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "validating config")
	})

	t.Run("error - unknown executor mode", func(t *testing.T) {
		t.Setenv("EXECUTOR_MODE", "kafka")

		_, err := Load(t.TempDir())

		assert.Error(t, err)
	})

	t.Run("error - skip verification in production", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		t.Setenv("WEBHOOK_SKIP_VERIFICATION", "true")

		_, err := Load(t.TempDir())

		assert.ErrorIs(t, err, ErrSkipVerificationInProduction)
	})

	t.Run("error - malformed .env", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT = = ="), 0o600))

		_, err := Load(dir)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading config file")
	})
}
