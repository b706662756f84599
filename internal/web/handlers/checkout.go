package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/citewise/citewise/internal/checkout"
)

const checkoutMaxBodyBytes int64 = 256 * 1024

type CheckoutHandler struct {
	checkouts *checkout.Service
}

func NewCheckoutHandler(checkouts *checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{checkouts: checkouts}
}

type checkoutRequest struct {
	IdempotencyKey string `json:"idempotency_key"`

	Citation      string `json:"citation"`
	City          string `json:"city"`
	Section       string `json:"section"`
	ViolationDate string `json:"violation_date,omitempty"`

	ContactName        string `json:"contact_name"`
	ContactLine1       string `json:"contact_line1"`
	ContactLine2       string `json:"contact_line2,omitempty"`
	ContactCity        string `json:"contact_city"`
	ContactState       string `json:"contact_state"`
	ContactZip         string `json:"contact_zip"`
	VehicleDescription string `json:"vehicle_description,omitempty"`

	AppealType  string `json:"appeal_type"`
	DraftText   string `json:"draft_text"`
	AmountCents int64  `json:"amount_cents"`
}

// HandleCreateCheckout persists the intake/draft/payment trail and returns
// the provider redirect URL.
func (h *CheckoutHandler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, checkoutMaxBodyBytes)

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}

	key, err := uuid.Parse(req.IdempotencyKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "idempotency_key must be a valid UUID"})
		return
	}

	serviceReq := checkout.Request{
		IdempotencyKey:     key,
		CitationNumber:     req.Citation,
		CityID:             req.City,
		SectionID:          req.Section,
		ContactName:        req.ContactName,
		ContactLine1:       req.ContactLine1,
		ContactLine2:       req.ContactLine2,
		ContactCity:        req.ContactCity,
		ContactState:       req.ContactState,
		ContactZip:         req.ContactZip,
		VehicleDescription: req.VehicleDescription,
		AppealType:         req.AppealType,
		DraftText:          req.DraftText,
		AmountCents:        req.AmountCents,
	}
	if violation, ok := parseDate(req.ViolationDate); ok {
		serviceReq.ViolationDate = &violation
	}

	result, err := h.checkouts.CreateCheckout(r.Context(), serviceReq)
	if err != nil {
		if isValidationError(err) {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
			return
		}
		slog.Error("checkout creation failed", "error", err)
		writeJSON(w, http.StatusBadGateway, jsonResponse{Error: "could not create checkout session"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"payment_id":   result.PaymentPublicID,
		"redirect_url": result.RedirectURL,
	})
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		checkout.ErrCitationRequired,
		checkout.ErrJurisdictionRequired,
		checkout.ErrUnknownJurisdiction,
		checkout.ErrDraftRequired,
		checkout.ErrContactRequired,
		checkout.ErrInvalidAppealType,
		checkout.ErrInvalidAmount,
		checkout.ErrIdempotencyKeyRequired,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
