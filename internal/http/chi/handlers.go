package chi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/marcelsud/webhook-intake/integration"
	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/signature"
)

const defaultMaxBodyBytes = 1 << 20

// ReceiptRecorder counts accepted deliveries
type ReceiptRecorder interface {
	Received(ctx context.Context, platform webhook.Platform, duplicate bool)
}

// Dependencies are the collaborators of the HTTP surface
type Dependencies struct {
	// Logger defaults to a JSON httplog logger
	Logger       *httplog.Logger
	Webhooks     webhook.UseCase
	Integrations integration.Finder
	Submitter    webhook.Submitter
	Verifier     signature.Verifier
	// Metrics is mounted on /metrics when set
	Metrics  http.Handler
	Recorder ReceiptRecorder
}

type Options struct {
	// OperatorToken guards the operator endpoints; empty disables them
	OperatorToken string
	MaxBodyBytes  int64
	ListLimit     int
}

// WebhookHandlers sets up the webhook API routes
func WebhookHandlers(ctx context.Context, deps Dependencies, opts Options) *chi.Mux {
	if deps.Logger == nil {
		deps.Logger = httplog.NewLogger("webhook-intake", httplog.Options{
			JSON: true,
		})
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = webhook.DefaultListLimit
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(deps.Logger, []string{"/health"}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/{platform}/{integration_id}", postWebhook(deps, opts).ServeHTTP)
		r.Get("/{platform}/{integration_id}/verify", getChallenge(deps).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(RequireOperator(opts.OperatorToken))
			r.Get("/", getWebhooks(deps.Webhooks, opts.ListLimit).ServeHTTP)
			r.Get("/{id}", getWebhook(deps.Webhooks).ServeHTTP)
		})
	})

	return r
}
