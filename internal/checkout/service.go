// Package checkout persists the intake/draft/payment trail and only then
// contacts the payment provider, so a crash or provider failure never
// strands appeal content inside third-party metadata.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/citewise/citewise/internal/catalog"
	"github.com/citewise/citewise/internal/models"
	"github.com/citewise/citewise/internal/payment"
	"github.com/citewise/citewise/internal/store"
)

var (
	ErrCitationRequired       = errors.New("citation number is required")
	ErrJurisdictionRequired   = errors.New("city and section are required")
	ErrUnknownJurisdiction    = errors.New("city or section not present in catalog")
	ErrDraftRequired          = errors.New("draft text is required")
	ErrContactRequired        = errors.New("contact name and address are required")
	ErrInvalidAppealType      = errors.New("appeal type must be standard or certified")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
)

// Request is one checkout attempt. IdempotencyKey is supplied by the
// caller so a retried request resumes the same payment instead of minting
// a duplicate.
type Request struct {
	IdempotencyKey uuid.UUID

	CitationNumber     string
	CityID             string
	SectionID          string
	ViolationDate      *time.Time
	ContactName        string
	ContactLine1       string
	ContactLine2       string
	ContactCity        string
	ContactState       string
	ContactZip         string
	VehicleDescription string

	AppealType  string
	DraftText   string
	AmountCents int64
}

// Result is what the UI layer needs to redirect the user.
type Result struct {
	PaymentPublicID uuid.UUID `json:"payment_id"`
	RedirectURL     string    `json:"redirect_url"`
}

type Service struct {
	intakes  store.IntakeStore
	drafts   store.DraftStore
	payments store.PaymentStore
	provider payment.Provider
	catalog  *catalog.Catalog

	successURL string
	cancelURL  string
}

func NewService(intakes store.IntakeStore, drafts store.DraftStore, payments store.PaymentStore, provider payment.Provider, cat *catalog.Catalog, successURL, cancelURL string) *Service {
	return &Service{
		intakes:    intakes,
		drafts:     drafts,
		payments:   payments,
		provider:   provider,
		catalog:    cat,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// CreateCheckout runs the database-first sequence: intake, draft, payment,
// provider session, session attach. Each step is durable before the next.
func (s *Service) CreateCheckout(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	// A replayed idempotency key resumes the existing payment.
	existing, err := s.payments.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("look up idempotency key: %w", err)
	}
	if existing != nil {
		return s.resume(ctx, existing)
	}

	intake, err := s.intakes.CreateIntake(ctx, models.IntakeCreateParams{
		CitationNumber:     req.CitationNumber,
		CityID:             req.CityID,
		SectionID:          req.SectionID,
		ViolationDate:      req.ViolationDate,
		ContactName:        req.ContactName,
		ContactLine1:       req.ContactLine1,
		ContactLine2:       req.ContactLine2,
		ContactCity:        req.ContactCity,
		ContactState:       req.ContactState,
		ContactZip:         req.ContactZip,
		VehicleDescription: req.VehicleDescription,
	})
	if err != nil {
		return nil, fmt.Errorf("create intake: %w", err)
	}

	draft, err := s.drafts.CreateDraft(ctx, intake.ID, req.AppealType, req.DraftText)
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	if _, err := s.intakes.UpdateIntakeStatus(ctx, intake.ID, models.IntakeCreated, models.IntakeDrafted); err != nil {
		return nil, fmt.Errorf("move intake to drafted: %w", err)
	}

	pay, err := s.payments.CreatePayment(ctx, intake.ID, draft.ID, req.AppealType, req.IdempotencyKey, req.AmountCents)
	if err != nil {
		// A concurrent request with the same key may have won the unique
		// index race; fall back to resuming its payment.
		if winner, lookupErr := s.payments.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
			return s.resume(ctx, winner)
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return s.createSession(ctx, pay)
}

// resume picks up a payment created by an earlier attempt with the same
// idempotency key. A session already attached is simply returned again; a
// missing session means the earlier attempt died before step four.
func (s *Service) resume(ctx context.Context, pay *models.Payment) (*Result, error) {
	if pay.Status != models.PaymentPending {
		// Paid/failed payments are terminal for checkout purposes; hand
		// back the same result the original request produced.
		slog.InfoContext(ctx, "checkout replay on settled payment", "payment_id", pay.ID, "status", pay.Status)
	}
	if pay.ExternalSessionID != nil {
		return &Result{PaymentPublicID: pay.PublicID, RedirectURL: pay.CheckoutURL}, nil
	}
	return s.createSession(ctx, pay)
}

func (s *Service) createSession(ctx context.Context, pay *models.Payment) (*Result, error) {
	session, err := s.provider.CreateSession(ctx, payment.CreateSessionParams{
		AmountCents: pay.AmountCents,
		Currency:    "usd",
		Metadata: map[string]string{
			"payment_id": strconv.FormatInt(pay.ID, 10),
			"intake_id":  strconv.FormatInt(pay.IntakeID, 10),
			"draft_id":   strconv.FormatInt(pay.DraftID, 10),
		},
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if err != nil {
		// Intake/draft/payment rows are already durable; the caller can
		// retry with the same idempotency key and resume here.
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	if err := s.payments.AttachSessionID(ctx, pay.ID, session.ID, session.RedirectURL); err != nil {
		return nil, fmt.Errorf("attach session id: %w", err)
	}

	slog.InfoContext(ctx, "checkout session created",
		"payment_id", pay.ID, "session_id", session.ID, "amount_cents", pay.AmountCents)

	return &Result{
		PaymentPublicID: pay.PublicID,
		RedirectURL:     session.RedirectURL,
	}, nil
}

func (s *Service) validate(req Request) error {
	if req.IdempotencyKey == uuid.Nil {
		return ErrIdempotencyKeyRequired
	}
	if req.CitationNumber == "" {
		return ErrCitationRequired
	}
	if req.CityID == "" || req.SectionID == "" {
		return ErrJurisdictionRequired
	}
	if _, _, err := s.catalog.Section(req.CityID, req.SectionID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownJurisdiction, err)
	}
	if req.DraftText == "" {
		return ErrDraftRequired
	}
	if req.ContactName == "" || req.ContactLine1 == "" || req.ContactCity == "" || req.ContactState == "" || req.ContactZip == "" {
		return ErrContactRequired
	}
	if req.AppealType != models.AppealStandard && req.AppealType != models.AppealCertified {
		return ErrInvalidAppealType
	}
	if req.AmountCents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
