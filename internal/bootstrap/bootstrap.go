package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-chi/httplog/v2"
	"github.com/google/uuid"
	"github.com/marcelsud/webhook-intake/config"
	"github.com/marcelsud/webhook-intake/integration"
	"github.com/marcelsud/webhook-intake/metrics"
	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/classifier"
	"github.com/marcelsud/webhook-intake/webhook/dispatch"
	"github.com/marcelsud/webhook-intake/webhook/executor"
	"github.com/marcelsud/webhook-intake/webhook/inmem"
	"github.com/marcelsud/webhook-intake/webhook/postgres"
	whredis "github.com/marcelsud/webhook-intake/webhook/redis"
	"github.com/marcelsud/webhook-intake/webhook/retry"
	promclient "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

/* App holds everything cmd/api and cmd/worker share
 * Imports go one way: the binaries import bootstrap, bootstrap imports the
 * business and storage packages.
 */
type App struct {
	Config       *config.Config
	Logger       *httplog.Logger
	Repo         webhook.Repository
	Redis        *goredis.Client
	Integrations *integration.Loader
	Dispatcher   *dispatch.Dispatcher
	Service      *webhook.Service
	Exporter     *metrics.OTelExporter
	Recorder     *metrics.Recorder
	// Queue is set when EXECUTOR_MODE=redis
	Queue *whredis.Queue
}

// NewLogger builds the process logger from configuration
func NewLogger(service string, cfg *config.Config) *httplog.Logger {
	return httplog.NewLogger(service, httplog.Options{
		JSON:     cfg.LogJSON,
		LogLevel: cfg.SlogLevel(),
		Concise:  !cfg.LogJSON,
		Tags: map[string]string{
			"env": cfg.AppEnv,
		},
	})
}

// New opens the store, loads integrations and wires the service.
// registry may be nil to use the default Prometheus registerer.
func New(ctx context.Context, cfg *config.Config, logger *httplog.Logger, registry *promclient.Registry) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	mode, err := executor.ParseMode(cfg.ExecutorMode)
	if err != nil {
		return nil, err
	}

	if cfg.StoreDriver == "redis" || mode == executor.ModeRedis {
		app.Redis, err = whredis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
	}

	app.Repo, err = app.openStore()
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	if mode == executor.ModeRedis {
		app.Queue = whredis.NewQueue(app.Redis, whredis.QueueConfig{
			Stream:   cfg.RedisStream,
			Group:    cfg.RedisGroup,
			Consumer: consumerName(),
		}, logger.Logger)
	}

	app.Integrations = integration.NewLoader()
	if err := app.Integrations.Load(cfg.IntegrationsFile); err != nil {
		app.Close(ctx)
		return nil, err
	}

	collectorOpts := []metrics.CollectorOption{}
	if app.Queue != nil {
		collectorOpts = append(collectorOpts,
			metrics.WithQueue(app.Queue),
			metrics.WithWorkers(metrics.QueueWorkers{Queue: app.Queue}),
		)
	}
	app.Exporter, err = metrics.NewOTelExporter(metrics.NewStoreCollector(app.Repo, collectorOpts...), registry)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("creating metrics exporter: %w", err)
	}
	app.Recorder, err = app.Exporter.Recorder()
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("creating metrics recorder: %w", err)
	}

	app.Dispatcher = dispatch.New(logger.Logger, dispatch.WithTimeout(cfg.HandlerTimeout()))
	app.Service = webhook.NewService(app.Repo, app.Dispatcher, classifier.Classify, logger.Logger,
		webhook.WithObserver(app.Recorder),
	)
	return app, nil
}

func (a *App) openStore() (webhook.Repository, error) {
	switch a.Config.StoreDriver {
	case "postgres":
		repo, err := postgres.NewRepositoryWithPoolConfig(
			a.Config.DatabaseURL,
			a.Config.DBMaxOpenConns,
			a.Config.DBMaxIdleConns,
			a.Config.DBConnMaxLifetimeMinutes,
		)
		if err != nil {
			return nil, err
		}
		if a.Config.DBAutoMigrate {
			if err := postgres.Migrate(repo.DB.DB); err != nil {
				repo.DB.Close()
				return nil, err
			}
		}
		return repo, nil
	case "redis":
		return whredis.NewRepository(a.Redis), nil
	case "memory":
		return inmem.NewRepository(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.Config.StoreDriver)
	}
}

// NewExecutor builds the executor EXECUTOR_MODE selects
func (a *App) NewExecutor() (executor.Executor, error) {
	mode, err := executor.ParseMode(a.Config.ExecutorMode)
	if err != nil {
		return nil, err
	}

	switch mode {
	case executor.ModeInline:
		return executor.NewInline(a.Service.Process), nil
	case executor.ModePool:
		return executor.NewPool(a.Service.Process, executor.PoolConfig{
			Workers:       a.Config.WorkerCount,
			QueueSize:     a.Config.QueueSize,
			SubmitTimeout: a.Config.SubmitTimeout(),
		}, a.Logger.Logger), nil
	default:
		return a.Queue, nil
	}
}

// NewScheduler builds the retry sweep; failed submits are processed on the sweep goroutine
func (a *App) NewScheduler(submitter webhook.Submitter) *retry.Scheduler {
	return retry.NewScheduler(a.Repo, submitter, a.Logger.Logger,
		retry.WithInterval(a.Config.RetrySweepInterval()),
		retry.WithBatchSize(a.Config.RetryBatchSize),
		retry.WithOrphanAfter(a.Config.OrphanAfter()),
		retry.WithFallback(a.Service.Process),
	)
}

// Close releases the store and the Redis client
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Exporter != nil {
		errs = append(errs, a.Exporter.Shutdown(ctx))
	}
	if a.Repo != nil && a.Config.StoreDriver != "redis" {
		errs = append(errs, a.Repo.Close(ctx))
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
