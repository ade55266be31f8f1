package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-intake/config"
	"github.com/marcelsud/webhook-intake/internal/bootstrap"
	"golang.org/x/sync/errgroup"
)

/* worker consumes the Redis stream the API enqueues to (EXECUTOR_MODE=redis)
 * and runs the retry sweep. Several workers can share one consumer group.
 */

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	if cfg.ExecutorMode != "redis" {
		return fmt.Errorf("worker requires EXECUTOR_MODE=redis, got %q", cfg.ExecutorMode)
	}
	logger := bootstrap.NewLogger("webhook-worker", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Queue.Run(gctx, app.Service.Process)
	})

	if cfg.RetrySchedulerEnabled {
		scheduler := app.NewScheduler(app.Queue)
		scheduler.Start()
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return scheduler.Stop(stopCtx)
		})
	}

	logger.Info("worker started", "stream", cfg.RedisStream, "group", cfg.RedisGroup)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}
