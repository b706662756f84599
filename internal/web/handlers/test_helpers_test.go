package handlers

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/citewise/citewise/internal/catalog"
	"github.com/citewise/citewise/internal/models"
	"github.com/citewise/citewise/internal/payment"
)

const testCatalogYAML = `
schema_version: 1
cities:
  - id: sf
    name: San Francisco
    timezone: America/Los_Angeles
    sections:
      - id: sfmta
        name: SFMTA
        patterns:
          - regex: '9\d{8}'
            specificity: 90
        mailing_address:
          name: SFMTA Citation Review
          line1: 11 South Van Ness Ave
          city: San Francisco
          state: CA
          zip: "94103"
        appeal_deadline_days: 21
        phone_confirmation:
          required: true
          note: Call before mailing.
        online_appeal_url: https://www.sfmta.com/contest
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("parse test catalog: %v", err)
	}
	return cat
}

// --- Mock stores ---

type mockPaymentStore struct {
	payments map[int64]*models.Payment
	nextID   int64
}

func newMockPaymentStore() *mockPaymentStore {
	return &mockPaymentStore{payments: make(map[int64]*models.Payment), nextID: 1}
}

func (m *mockPaymentStore) CreatePayment(_ context.Context, intakeID, draftID int64, appealType string, key uuid.UUID, amountCents int64) (*models.Payment, error) {
	p := &models.Payment{
		ID:             m.nextID,
		PublicID:       uuid.New(),
		IntakeID:       intakeID,
		DraftID:        draftID,
		AppealType:     appealType,
		IdempotencyKey: key,
		AmountCents:    amountCents,
		Status:         models.PaymentPending,
		CreatedAt:      time.Now(),
	}
	m.nextID++
	m.payments[p.ID] = p
	return p, nil
}

func (m *mockPaymentStore) GetPaymentByID(_ context.Context, id int64) (*models.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

func (m *mockPaymentStore) GetPaymentByPublicID(_ context.Context, publicID uuid.UUID) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.PublicID == publicID {
			return p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentStore) GetPaymentByIdempotencyKey(_ context.Context, key uuid.UUID) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.IdempotencyKey == key {
			return p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentStore) GetPaymentBySessionID(_ context.Context, sessionID string) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.ExternalSessionID != nil && *p.ExternalSessionID == sessionID {
			return p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentStore) AttachSessionID(_ context.Context, paymentID int64, sessionID, checkoutURL string) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return sql.ErrNoRows
	}
	p.ExternalSessionID = &sessionID
	p.CheckoutURL = checkoutURL
	return nil
}

func (m *mockPaymentStore) MarkPaymentPaid(_ context.Context, sessionID string) (bool, error) {
	for _, p := range m.payments {
		if p.ExternalSessionID != nil && *p.ExternalSessionID == sessionID && p.Status == models.PaymentPending {
			p.Status = models.PaymentPaid
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPaymentStore) MarkPaymentFailed(_ context.Context, sessionID string) (bool, error) {
	for _, p := range m.payments {
		if p.ExternalSessionID != nil && *p.ExternalSessionID == sessionID && p.Status == models.PaymentPending {
			p.Status = models.PaymentFailed
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPaymentStore) MarkPaymentFulfilled(_ context.Context, paymentID int64, trackingNumber string) (bool, error) {
	p, ok := m.payments[paymentID]
	if !ok || p.IsFulfilled {
		return false, nil
	}
	p.IsFulfilled = true
	p.Status = models.PaymentFulfilled
	p.TrackingNumber = &trackingNumber
	return true, nil
}

func (m *mockPaymentStore) RecordFulfillmentFailure(_ context.Context, paymentID int64, reason string) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return sql.ErrNoRows
	}
	p.FulfillmentAttempts++
	p.LastFulfillmentError = reason
	return nil
}

func (m *mockPaymentStore) MarkPaymentDeadLettered(_ context.Context, paymentID int64, reason string) (bool, error) {
	p, ok := m.payments[paymentID]
	if !ok || p.Status != models.PaymentPaid {
		return false, nil
	}
	p.Status = models.PaymentFailedFulfillment
	p.LastFulfillmentError = reason
	return true, nil
}

func (m *mockPaymentStore) ListDeadLetteredPayments(_ context.Context, limit, offset int) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range m.payments {
		if p.Status == models.PaymentFailedFulfillment {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockIntakeStore struct {
	intakes map[int64]*models.Intake
	nextID  int64
}

func newMockIntakeStore() *mockIntakeStore {
	return &mockIntakeStore{intakes: make(map[int64]*models.Intake), nextID: 1}
}

func (m *mockIntakeStore) CreateIntake(_ context.Context, params models.IntakeCreateParams) (*models.Intake, error) {
	in := &models.Intake{
		ID:             m.nextID,
		PublicID:       uuid.New(),
		CitationNumber: params.CitationNumber,
		CityID:         params.CityID,
		SectionID:      params.SectionID,
		Status:         models.IntakeCreated,
		CreatedAt:      time.Now(),
	}
	m.nextID++
	m.intakes[in.ID] = in
	return in, nil
}

func (m *mockIntakeStore) GetIntakeByID(_ context.Context, id int64) (*models.Intake, error) {
	in, ok := m.intakes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return in, nil
}

func (m *mockIntakeStore) UpdateIntakeStatus(_ context.Context, id int64, fromStatus, toStatus string) (bool, error) {
	in, ok := m.intakes[id]
	if !ok || in.Status != fromStatus {
		return false, nil
	}
	in.Status = toStatus
	return true, nil
}

type mockDraftStore struct {
	drafts map[int64]*models.Draft
	nextID int64
}

func newMockDraftStore() *mockDraftStore {
	return &mockDraftStore{drafts: make(map[int64]*models.Draft), nextID: 1}
}

func (m *mockDraftStore) CreateDraft(_ context.Context, intakeID int64, appealType, draftText string) (*models.Draft, error) {
	d := &models.Draft{ID: m.nextID, IntakeID: intakeID, AppealType: appealType, DraftText: draftText, CreatedAt: time.Now()}
	m.nextID++
	m.drafts[d.ID] = d
	return d, nil
}

func (m *mockDraftStore) GetDraftByID(_ context.Context, id int64) (*models.Draft, error) {
	d, ok := m.drafts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return d, nil
}

type mockJobStore struct {
	enqueued []int64
}

func (m *mockJobStore) EnqueueFulfillmentJob(_ context.Context, paymentID int64, maxAttempts int) (*models.FulfillmentJob, error) {
	m.enqueued = append(m.enqueued, paymentID)
	return &models.FulfillmentJob{ID: int64(len(m.enqueued)), PaymentID: paymentID, Status: models.JobQueued, MaxAttempts: maxAttempts}, nil
}

func (m *mockJobStore) ClaimNextFulfillmentJob(_ context.Context) (*models.FulfillmentJob, error) {
	return nil, nil
}

func (m *mockJobStore) MarkFulfillmentJobDone(_ context.Context, jobID int64) error { return nil }
func (m *mockJobStore) MarkFulfillmentJobRetry(_ context.Context, jobID int64, next time.Time, lastError string) error {
	return nil
}
func (m *mockJobStore) MarkFulfillmentJobFailed(_ context.Context, jobID int64, lastError string) error {
	return nil
}

// --- Mock provider ---

type mockProvider struct {
	err error
}

func (m *mockProvider) CreateSession(_ context.Context, params payment.CreateSessionParams) (*payment.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &payment.Session{ID: "cs_test_1", RedirectURL: "https://pay.example.com/cs_test_1"}, nil
}

var errProviderDown = errors.New("provider unavailable")
