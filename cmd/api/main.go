package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-intake/config"
	"github.com/marcelsud/webhook-intake/internal/bootstrap"
	"github.com/marcelsud/webhook-intake/internal/http/chi"
	"github.com/marcelsud/webhook-intake/webhook/signature"
)

const TIMEOUT = 30 * time.Second

/* main wires configuration, store, executor, retry sweep and the HTTP server.
 * With EXECUTOR_MODE=redis the API only enqueues; cmd/worker processes.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	logger := bootstrap.NewLogger("webhook-intake", cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("starting application", "error", err)
		return
	}
	defer app.Close(context.Background())

	exec, err := app.NewExecutor()
	if err != nil {
		logger.Error("creating executor", "error", err)
		return
	}
	defer exec.Shutdown()

	if cfg.RetrySchedulerEnabled {
		scheduler := app.NewScheduler(exec)
		scheduler.Start()
		defer scheduler.Stop(context.Background())
	}

	if cfg.WebhookSkipVerification {
		logger.Warn("signature verification is disabled")
	}

	r := chi.WebhookHandlers(ctx, chi.Dependencies{
		Logger:       logger,
		Webhooks:     app.Service,
		Integrations: app.Integrations,
		Submitter:    exec,
		Verifier:     signature.Verifier{SkipVerification: cfg.WebhookSkipVerification},
		Metrics:      app.Exporter.ServeHTTP(),
		Recorder:     app.Recorder,
	}, chi.Options{
		OperatorToken: cfg.OperatorToken,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		ListLimit:     cfg.ListLimit,
	})

	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	logger.Info("listening", "port", cfg.Port, "store", cfg.StoreDriver, "executor", cfg.ExecutorMode)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error("serving http", "error", err)
		return
	}
	err = <-errShutdown
	if err != nil {
		logger.Error("shutting down", "error", err)
		return
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("forcing closing the server: %w", err)
	}
}
