package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/signature"
	"github.com/tidwall/gjson"
)

// recordResponse is the operator view of a record
type recordResponse struct {
	ID            string     `json:"id"`
	IntegrationID string     `json:"integration_id"`
	Platform      string     `json:"platform"`
	EventType     string     `json:"event_type"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	DeliveryID    string     `json:"delivery_id,omitempty"`
	SourceIP      string     `json:"source_ip,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// recordDetailResponse adds the payload and the persisted headers
type recordDetailResponse struct {
	recordResponse
	UserAgent string            `json:"user_agent,omitempty"`
	Headers   map[string]string `json:"headers"`
	Payload   json.RawMessage   `json:"payload"`
}

type listResponse struct {
	Webhooks     []recordResponse `json:"webhooks"`
	StatusCounts map[string]int64 `json:"status_counts"`
	Limit        int              `json:"limit"`
}

func toResponse(r webhook.Record) recordResponse {
	return recordResponse{
		ID:            r.ID,
		IntegrationID: r.IntegrationID,
		Platform:      r.Platform.String(),
		EventType:     r.EventType,
		Status:        r.Status.String(),
		RetryCount:    r.RetryCount,
		NextRetryAt:   r.NextRetryAt,
		ErrorMessage:  r.ErrorMessage,
		ProcessedAt:   r.ProcessedAt,
		DeliveryID:    r.DeliveryID,
		SourceIP:      r.SourceIP,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// rawPayload embeds JSON payloads as-is and anything else as a JSON string
func rawPayload(payload []byte) json.RawMessage {
	if len(payload) > 0 && gjson.ValidBytes(payload) {
		return json.RawMessage(payload)
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

// RequireOperator accepts requests carrying "Authorization: Bearer <token>"
// An empty token rejects every request
func RequireOperator(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || !signature.Equal(provided, token) {
				writeError(w, http.StatusUnauthorized, "operator authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// getWebhooks handles GET /webhooks
func getWebhooks(service webhook.UseCase, defaultLimit int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		filter := webhook.ListFilter{
			Platform:      webhook.NewPlatform(query.Get("platform")),
			IntegrationID: query.Get("integration_id"),
			Limit:         defaultLimit,
		}

		if raw := query.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			filter.Limit = limit
		}
		if raw := query.Get("status"); raw != "" {
			filter.Status = webhook.NewStatus(raw)
			if err := filter.Status.Validate(); err != nil {
				writeError(w, http.StatusBadRequest, "unknown status: "+raw)
				return
			}
		}

		records, err := service.List(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		counts, err := service.Stats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := listResponse{
			Webhooks:     make([]recordResponse, 0, len(records)),
			StatusCounts: make(map[string]int64, len(counts)),
			Limit:        min(filter.Limit, webhook.MaxListLimit),
		}
		for _, record := range records {
			resp.Webhooks = append(resp.Webhooks, toResponse(record))
		}
		for status, n := range counts {
			resp.StatusCounts[status.String()] = n
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// getWebhook handles GET /webhooks/{id}
func getWebhook(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		record, err := service.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, webhook.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		headers := record.Headers
		if headers == nil {
			headers = map[string]string{}
		}
		writeJSON(w, http.StatusOK, recordDetailResponse{
			recordResponse: toResponse(record),
			UserAgent:      record.UserAgent,
			Headers:        headers,
			Payload:        rawPayload(record.Payload),
		})
	})
}
