package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/marcelsud/webhook-intake/webhook/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRequireOperator(t *testing.T) {
	h := newHarness(t)

	t.Run("missing token", func(t *testing.T) {
		w := h.get(t, "/webhooks", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		w := h.get(t, "/webhooks", "not-the-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("operator endpoints disabled without a configured token", func(t *testing.T) {
		disabled := newHarness(t, func(_ *Dependencies, o *Options) {
			o.OperatorToken = ""
		})
		w := disabled.get(t, "/webhooks", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestGetWebhooks(t *testing.T) {
	h := newHarness(t)
	for _, field := range []string{"mentions", "comments", "mentions"} {
		body := graphPayload(field)
		require.Equal(t, http.StatusOK, h.post(t, "/webhooks/instagram/acme-ig", body, signedInstagram(body)).Code)
		h.clock.Advance(1)
	}

	t.Run("success - most recent first with status counts", func(t *testing.T) {
		w := h.get(t, "/webhooks", operatorToken)

		require.Equal(t, http.StatusOK, w.Code)
		var resp listResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Webhooks, 3)
		assert.Equal(t, "mentions", resp.Webhooks[0].EventType)
		assert.Equal(t, "comments", resp.Webhooks[1].EventType)
		assert.Equal(t, int64(3), resp.StatusCounts["processed"])
		assert.Equal(t, int64(0), resp.StatusCounts["failed"])
		assert.Equal(t, webhook.DefaultListLimit, resp.Limit)
	})

	t.Run("success - limit and status filter", func(t *testing.T) {
		w := h.get(t, "/webhooks?limit=1&status=processed&platform=instagram", operatorToken)

		require.Equal(t, http.StatusOK, w.Code)
		var resp listResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Webhooks, 1)
		assert.Equal(t, 1, resp.Limit)
	})

	t.Run("success - limit is capped", func(t *testing.T) {
		w := h.get(t, "/webhooks?limit=5000", operatorToken)

		require.Equal(t, http.StatusOK, w.Code)
		var resp listResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, webhook.MaxListLimit, resp.Limit)
	})

	t.Run("invalid status", func(t *testing.T) {
		w := h.get(t, "/webhooks?status=archived", operatorToken)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := h.get(t, "/webhooks?limit=-3", operatorToken)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetWebhook(t *testing.T) {
	h := newHarness(t)
	body := graphPayload("mentions")
	w := h.post(t, "/webhooks/instagram/acme-ig", body, signedInstagram(body))
	require.Equal(t, http.StatusOK, w.Code)
	id := decodeReceived(t, w).WebhookID

	t.Run("success - includes payload and headers", func(t *testing.T) {
		w := h.get(t, "/webhooks/"+id, operatorToken)

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, id, resp["id"])
		assert.Equal(t, "processed", resp["status"])
		assert.Equal(t, "instagram", resp["payload"].(map[string]interface{})["object"])
		assert.Contains(t, resp["headers"], "X-Hub-Signature")
	})

	t.Run("not found", func(t *testing.T) {
		w := h.get(t, "/webhooks/does-not-exist", operatorToken)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetWebhooks_StoreError(t *testing.T) {
	s := mocks.NewUseCase(t)
	s.On("List", mock.Anything, mock.AnythingOfType("webhook.ListFilter")).
		Return(nil, errors.New("listing webhooks: connection refused"))

	r := WebhookHandlers(context.Background(), Dependencies{Webhooks: s}, Options{OperatorToken: operatorToken})
	req := httptest.NewRequest(http.MethodGet, "/webhooks", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRawPayload(t *testing.T) {
	assert.JSONEq(t, `{"a":1}`, string(rawPayload([]byte(`{"a":1}`))))
	assert.JSONEq(t, `"not json"`, string(rawPayload([]byte("not json"))))
	assert.JSONEq(t, `""`, string(rawPayload(nil)))
}
