package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

/* Config is read from an optional .env file (toml syntax) and the environment.
 * Environment variables win over the file; every key has a default so a bare
 * `go run ./cmd/api` starts in development mode with the in-memory store.
 */

type Config struct {
	Port     string `mapstructure:"PORT" validate:"required"`
	AppEnv   string `mapstructure:"APP_ENV" validate:"oneof=development test staging production"`
	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogJSON  bool   `mapstructure:"LOG_JSON"`

	StoreDriver              string `mapstructure:"STORE_DRIVER" validate:"oneof=postgres redis memory"`
	DatabaseURL              string `mapstructure:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS" validate:"min=1"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS" validate:"min=0"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES" validate:"min=0"`
	DBAutoMigrate            bool   `mapstructure:"DB_AUTO_MIGRATE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB" validate:"min=0"`
	RedisStream   string `mapstructure:"REDIS_STREAM" validate:"required"`
	RedisGroup    string `mapstructure:"REDIS_GROUP" validate:"required"`

	ExecutorMode         string `mapstructure:"EXECUTOR_MODE" validate:"oneof=inline pool redis"`
	WorkerCount          int    `mapstructure:"WORKER_COUNT" validate:"min=1"`
	QueueSize            int    `mapstructure:"QUEUE_SIZE" validate:"min=1"`
	SubmitTimeoutSeconds int    `mapstructure:"SUBMIT_TIMEOUT_SECONDS" validate:"min=1"`

	HandlerTimeoutSeconds     int  `mapstructure:"HANDLER_TIMEOUT_SECONDS" validate:"min=1"`
	RetrySchedulerEnabled     bool `mapstructure:"RETRY_SCHEDULER_ENABLED"`
	RetrySweepIntervalSeconds int  `mapstructure:"RETRY_SWEEP_INTERVAL_SECONDS" validate:"min=1"`
	RetryBatchSize            int  `mapstructure:"RETRY_BATCH_SIZE" validate:"min=1"`
	OrphanAfterSeconds        int  `mapstructure:"ORPHAN_AFTER_SECONDS" validate:"min=1"`

	IntegrationsFile        string `mapstructure:"INTEGRATIONS_FILE" validate:"required"`
	OperatorToken           string `mapstructure:"OPERATOR_TOKEN"`
	WebhookSkipVerification bool   `mapstructure:"WEBHOOK_SKIP_VERIFICATION"`
	MaxBodyBytes            int64  `mapstructure:"MAX_BODY_BYTES" validate:"min=1"`
	ListLimit               int    `mapstructure:"LIST_LIMIT" validate:"min=1,max=200"`
}

// ErrSkipVerificationInProduction is returned when signature checks are disabled in production
var ErrSkipVerificationInProduction = errors.New("WEBHOOK_SKIP_VERIFICATION cannot be enabled when APP_ENV=production")

var defaults = map[string]interface{}{
	"PORT":      "8080",
	"APP_ENV":   "development",
	"LOG_LEVEL": "info",
	"LOG_JSON":  false,

	"STORE_DRIVER":                 "memory",
	"DATABASE_URL":                 "",
	"DB_MAX_OPEN_CONNS":            25,
	"DB_MAX_IDLE_CONNS":            5,
	"DB_CONN_MAX_LIFETIME_MINUTES": 5,
	"DB_AUTO_MIGRATE":              true,

	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,
	"REDIS_STREAM":   "webhooks:jobs",
	"REDIS_GROUP":    "webhook-workers",

	"EXECUTOR_MODE":          "pool",
	"WORKER_COUNT":           4,
	"QUEUE_SIZE":             100,
	"SUBMIT_TIMEOUT_SECONDS": 5,

	"HANDLER_TIMEOUT_SECONDS":      30,
	"RETRY_SCHEDULER_ENABLED":      true,
	"RETRY_SWEEP_INTERVAL_SECONDS": 30,
	"RETRY_BATCH_SIZE":             100,
	"ORPHAN_AFTER_SECONDS":         120,

	"INTEGRATIONS_FILE":         "integrations.yaml",
	"OPERATOR_TOKEN":            "",
	"WEBHOOK_SKIP_VERIFICATION": false,
	"MAX_BODY_BYTES":            1 << 20,
	"LIST_LIMIT":                50,
}

// GetConfig reads ./.env (if present) and the environment
func GetConfig() (*Config, error) {
	return Load(".")
}

// Load reads the .env file found in dir, if any, and the environment
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if c.AppEnv == "production" && c.WebhookSkipVerification {
		return ErrSkipVerificationInProduction
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SlogLevel maps LOG_LEVEL to a slog level
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSeconds) * time.Second
}

func (c *Config) HandlerTimeout() time.Duration {
	return time.Duration(c.HandlerTimeoutSeconds) * time.Second
}

func (c *Config) RetrySweepInterval() time.Duration {
	return time.Duration(c.RetrySweepIntervalSeconds) * time.Second
}

func (c *Config) OrphanAfter() time.Duration {
	return time.Duration(c.OrphanAfterSeconds) * time.Second
}
