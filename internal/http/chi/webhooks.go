package chi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/marcelsud/webhook-intake/integration"
	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/signature"
)

/* HTTP layer DTOs for the intake API
 * Separate from domain entities to avoid leaking internal structure
 */

// receivedResponse is the body of an accepted delivery
type receivedResponse struct {
	Status    string `json:"status"`
	WebhookID string `json:"webhook_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// deliveryHeaders carry a provider's delivery id, by priority
var deliveryHeaders = []string{
	"X-Delivery-Id",
	"X-Request-Id",
	"X-Hubspot-Request-Id",
	"X-Pipedrive-Delivery-Id",
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// allowedHeaders keeps the headers worth persisting with the record
func allowedHeaders(platform webhook.Platform, header http.Header) map[string]string {
	names := []string{"Content-Type", "User-Agent", "X-Forwarded-For"}
	names = append(names, signature.HeaderNames(platform)...)
	names = append(names, deliveryHeaders...)

	headers := make(map[string]string)
	for _, name := range names {
		if value := header.Get(name); value != "" {
			headers[http.CanonicalHeaderKey(name)] = value
		}
	}
	return headers
}

func deliveryID(header http.Header) string {
	for _, name := range deliveryHeaders {
		if value := header.Get(name); value != "" {
			return value
		}
	}
	return ""
}

// clientIP strips the port RemoteAddr carries unless RealIP already replaced it
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// postWebhook handles POST /webhooks/{platform}/{integration_id}
func postWebhook(deps Dependencies, opts Options) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		platform := webhook.NewPlatform(chi.URLParam(r, "platform"))
		integrationID := chi.URLParam(r, "integration_id")
		httplog.LogEntrySetField(ctx, "integration_id", slog.StringValue(integrationID))

		in, err := deps.Integrations.Find(ctx, integrationID)
		if errors.Is(err, integration.ErrNotFound) {
			writeError(w, http.StatusNotFound, "integration not found")
			return
		}
		if err != nil {
			deps.Logger.ErrorContext(ctx, "finding integration", "integration_id", integrationID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if in.Platform != platform {
			writeError(w, http.StatusBadRequest, "platform does not match integration")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, opts.MaxBodyBytes))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "failed to read request body")
			return
		}
		defer r.Body.Close()

		claimed := signature.FromHeader(platform, r.Header)
		if err := deps.Verifier.Verify(platform, in.WebhookSecret, claimed, body); err != nil {
			deps.Logger.WarnContext(ctx, "rejected webhook signature",
				"integration_id", integrationID,
				"platform", platform.String(),
				"error", err,
			)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		record, err := deps.Webhooks.Receive(ctx, webhook.Inbound{
			IntegrationID: in.ID,
			Platform:      platform,
			Payload:       body,
			Signature:     claimed,
			SourceIP:      clientIP(r),
			UserAgent:     r.UserAgent(),
			Headers:       allowedHeaders(platform, r.Header),
			DeliveryID:    deliveryID(r.Header),
		})
		switch {
		case errors.Is(err, webhook.ErrDuplicateDelivery):
			if deps.Recorder != nil {
				deps.Recorder.Received(ctx, platform, true)
			}
			writeJSON(w, http.StatusOK, receivedResponse{Status: "received", WebhookID: record.ID, Duplicate: true})
			return
		case errors.Is(err, webhook.ErrInvalidInbound):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		case err != nil:
			deps.Logger.ErrorContext(ctx, "storing webhook", "integration_id", integrationID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		httplog.LogEntrySetField(ctx, "webhook_id", slog.StringValue(record.ID))

		if deps.Recorder != nil {
			deps.Recorder.Received(ctx, platform, false)
		}

		// a lost submit leaves the record pending; the retry sweep picks it up as an orphan
		if err := deps.Submitter.Submit(ctx, webhook.Job{WebhookID: record.ID}); err != nil {
			deps.Logger.ErrorContext(ctx, "submitting webhook for processing",
				"webhook_id", record.ID,
				"error", err,
			)
		}

		writeJSON(w, http.StatusOK, receivedResponse{Status: "received", WebhookID: record.ID})
	})
}

func firstQuery(r *http.Request, keys ...string) string {
	query := r.URL.Query()
	for _, key := range keys {
		if value := query.Get(key); value != "" {
			return value
		}
	}
	return ""
}

// getChallenge handles GET /webhooks/{platform}/{integration_id}/verify
func getChallenge(deps Dependencies) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		platform := webhook.NewPlatform(chi.URLParam(r, "platform"))
		integrationID := chi.URLParam(r, "integration_id")

		token := firstQuery(r, "hub.verify_token", "verify_token")
		challenge := firstQuery(r, "hub.challenge", "challenge")

		in, err := deps.Integrations.Find(r.Context(), integrationID)
		if err != nil || in.Platform != platform || in.WebhookSecret == "" ||
			token == "" || !signature.Equal(token, in.WebhookSecret) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
	})
}
