package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/citewise/citewise/internal/payment"
)

const webhookMaxBodyBytes int64 = 256 * 1024

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Webhook-Signature"

// WebhookHandler receives payment events. Signature failures are rejected
// with 4xx; past that point the handler always acknowledges, because the
// provider's at-least-once retries must never drive internal business
// logic.
type WebhookHandler struct {
	service *payment.WebhookService
	secret  string
	now     func() time.Time
}

func NewWebhookHandler(service *payment.WebhookService, secret string) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		secret:  secret,
		now:     time.Now,
	}
}

func (h *WebhookHandler) HandlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		writeJSON(w, http.StatusServiceUnavailable, jsonResponse{Error: "webhook endpoint is not configured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookMaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "payload too large"})
		return
	}

	if err := payment.VerifySignature(body, r.Header.Get(SignatureHeader), h.secret, h.now(), 0); err != nil {
		slog.Warn("webhook signature rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid signature"})
		return
	}

	var ev payment.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}

	if err := h.service.HandleEvent(r.Context(), ev); err != nil {
		// Acknowledged regardless: the event is authentic and recorded
		// state is consistent; recovery happens via the retry surface.
		slog.Error("webhook event processing failed", "type", ev.Type, "session_id", ev.SessionID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
