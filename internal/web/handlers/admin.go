package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/citewise/citewise/internal/fulfillment"
	"github.com/citewise/citewise/internal/models"
)

// AdminHandler exposes the operator surface: payment status, dead-letter
// listing, and manual re-dispatch.
type AdminHandler struct {
	manager *fulfillment.Manager
}

func NewAdminHandler(manager *fulfillment.Manager) *AdminHandler {
	return &AdminHandler{manager: manager}
}

type paymentStatusResponse struct {
	PaymentID            uuid.UUID `json:"payment_id"`
	Status               string    `json:"status"`
	AppealType           string    `json:"appeal_type"`
	AmountCents          int64     `json:"amount_cents"`
	IsFulfilled          bool      `json:"is_fulfilled"`
	TrackingNumber       string    `json:"tracking_number,omitempty"`
	FulfillmentAttempts  int       `json:"fulfillment_attempts"`
	LastFulfillmentError string    `json:"last_fulfillment_error,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func toStatusResponse(p *models.Payment) paymentStatusResponse {
	resp := paymentStatusResponse{
		PaymentID:            p.PublicID,
		Status:               p.Status,
		AppealType:           p.AppealType,
		AmountCents:          p.AmountCents,
		IsFulfilled:          p.IsFulfilled,
		FulfillmentAttempts:  p.FulfillmentAttempts,
		LastFulfillmentError: p.LastFulfillmentError,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
	if p.TrackingNumber != nil {
		resp.TrackingNumber = *p.TrackingNumber
	}
	return resp
}

func (h *AdminHandler) HandleGetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	publicID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "payment id must be a valid UUID"})
		return
	}

	pay, err := h.manager.GetPaymentStatus(r.Context(), publicID)
	if err != nil {
		if errors.Is(err, fulfillment.ErrPaymentNotFound) {
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "payment not found"})
			return
		}
		slog.Error("payment status query failed", "payment_id", publicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(pay))
}

func (h *AdminHandler) HandleRetryFulfillment(w http.ResponseWriter, r *http.Request) {
	publicID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "payment id must be a valid UUID"})
		return
	}

	err = h.manager.RetryFulfillment(r.Context(), publicID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, jsonResponse{OK: true})
	case errors.Is(err, fulfillment.ErrPaymentNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "payment not found"})
	case errors.Is(err, fulfillment.ErrAlreadyFulfilled):
		writeJSON(w, http.StatusConflict, jsonResponse{Error: "payment already fulfilled"})
	case errors.Is(err, fulfillment.ErrPaymentNotRetryable):
		writeJSON(w, http.StatusConflict, jsonResponse{Error: err.Error()})
	default:
		slog.Error("manual fulfillment retry failed", "payment_id", publicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
	}
}

func (h *AdminHandler) HandleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	payments, err := h.manager.ListDeadLetters(r.Context(), limit, offset)
	if err != nil {
		slog.Error("dead-letter listing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	out := make([]paymentStatusResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toStatusResponse(&payments[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
