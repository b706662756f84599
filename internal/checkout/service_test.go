package checkout

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

type mockIntakeStore struct {
	intakes map[int64]*models.Intake
	nextID  int64
	calls   *[]string
}

func (m *mockIntakeStore) CreateIntake(_ context.Context, params models.IntakeCreateParams) (*models.Intake, error) {
	if m.calls != nil {
		*m.calls = append(*m.calls, "create_intake")
	}
	in := &models.Intake{
		ID:             m.nextID,
		PublicID:       uuid.New(),
		CitationNumber: params.CitationNumber,
		CityID:         params.CityID,
		SectionID:      params.SectionID,
		ViolationDate:  params.ViolationDate,
		ContactName:    params.ContactName,
		ContactLine1:   params.ContactLine1,
		ContactCity:    params.ContactCity,
		ContactState:   params.ContactState,
		ContactZip:     params.ContactZip,
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
	calls  *[]string
}

func (m *mockDraftStore) CreateDraft(_ context.Context, intakeID int64, appealType, draftText string) (*models.Draft, error) {
	if m.calls != nil {
		*m.calls = append(*m.calls, "create_draft")
	}
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

type mockPaymentStore struct {
	payments map[int64]*models.Payment
	nextID   int64
	calls    *[]string
}

func (m *mockPaymentStore) CreatePayment(_ context.Context, intakeID, draftID int64, appealType string, idempotencyKey uuid.UUID, amountCents int64) (*models.Payment, error) {
	if m.calls != nil {
		*m.calls = append(*m.calls, "create_payment")
	}
	for _, p := range m.payments {
		if p.IdempotencyKey == idempotencyKey {
			return nil, errors.New("duplicate idempotency key")
		}
	}
	p := &models.Payment{
		ID:             m.nextID,
		PublicID:       uuid.New(),
		IntakeID:       intakeID,
		DraftID:        draftID,
		AppealType:     appealType,
		IdempotencyKey: idempotencyKey,
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
	p.FulfillmentAttempts++
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

// --- Mock provider ---

type mockProvider struct {
	calls      *[]string
	sessions   []payment.CreateSessionParams
	nextID     int
	failBefore int // fail the first failBefore calls
}

func (m *mockProvider) CreateSession(_ context.Context, params payment.CreateSessionParams) (*payment.Session, error) {
	if m.calls != nil {
		*m.calls = append(*m.calls, "create_session")
	}
	m.sessions = append(m.sessions, params)
	if len(m.sessions) <= m.failBefore {
		return nil, errors.New("provider unavailable")
	}
	m.nextID++
	return &payment.Session{
		ID:          "cs_test_" + string(rune('a'+m.nextID)),
		RedirectURL: "https://pay.example.com/session",
	}, nil
}

// --- Fixtures ---

func newTestService(t *testing.T, provider payment.Provider) (*Service, *mockIntakeStore, *mockDraftStore, *mockPaymentStore, *[]string) {
	t.Helper()
	calls := &[]string{}
	intakes := &mockIntakeStore{intakes: make(map[int64]*models.Intake), nextID: 1, calls: calls}
	drafts := &mockDraftStore{drafts: make(map[int64]*models.Draft), nextID: 1, calls: calls}
	payments := &mockPaymentStore{payments: make(map[int64]*models.Payment), nextID: 1, calls: calls}
	if mp, ok := provider.(*mockProvider); ok {
		mp.calls = calls
	}
	svc := NewService(intakes, drafts, payments, provider, testCatalog(t),
		"https://appeals.example.com/success", "https://appeals.example.com/cancel")
	return svc, intakes, drafts, payments, calls
}

func validRequest() Request {
	return Request{
		IdempotencyKey: uuid.New(),
		CitationNumber: "912345678",
		CityID:         "sf",
		SectionID:      "sfmta",
		ContactName:    "Pat Doe",
		ContactLine1:   "1 Main St",
		ContactCity:    "San Francisco",
		ContactState:   "CA",
		ContactZip:     "94110",
		AppealType:     models.AppealStandard,
		DraftText:      "I was parked legally.",
		AmountCents:    1500,
	}
}

// --- Tests ---

func TestCreateCheckoutPersistsBeforeProvider(t *testing.T) {
	svc, intakes, drafts, payments, calls := newTestService(t, &mockProvider{})

	result, err := svc.CreateCheckout(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	want := []string{"create_intake", "create_draft", "create_payment", "create_session"}
	if len(*calls) != len(want) {
		t.Fatalf("expected call order %v, got %v", want, *calls)
	}
	for i, c := range want {
		if (*calls)[i] != c {
			t.Errorf("call %d: expected %s, got %s", i, c, (*calls)[i])
		}
	}

	if len(intakes.intakes) != 1 || len(drafts.drafts) != 1 || len(payments.payments) != 1 {
		t.Fatalf("expected one intake, draft and payment, got %d/%d/%d",
			len(intakes.intakes), len(drafts.drafts), len(payments.payments))
	}
	if intakes.intakes[1].Status != models.IntakeDrafted {
		t.Errorf("expected intake status drafted, got %s", intakes.intakes[1].Status)
	}
	if result.RedirectURL == "" {
		t.Error("expected a redirect URL")
	}
	pay := payments.payments[1]
	if pay.ExternalSessionID == nil {
		t.Fatal("expected session id attached to payment")
	}
	if pay.CheckoutURL != result.RedirectURL {
		t.Errorf("stored checkout URL %q does not match result %q", pay.CheckoutURL, result.RedirectURL)
	}
}

func TestCreateCheckoutMetadataCarriesOnlyRowIDs(t *testing.T) {
	provider := &mockProvider{}
	svc, _, _, _, _ := newTestService(t, provider)

	req := validRequest()
	if _, err := svc.CreateCheckout(context.Background(), req); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	if len(provider.sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(provider.sessions))
	}
	meta := provider.sessions[0].Metadata
	for _, key := range []string{"payment_id", "intake_id", "draft_id"} {
		if meta[key] == "" {
			t.Errorf("metadata missing %s", key)
		}
	}
	if len(meta) != 3 {
		t.Errorf("metadata must carry row IDs only, got %v", meta)
	}
	for k, v := range meta {
		for _, r := range v {
			if r < '0' || r > '9' {
				t.Errorf("metadata %s=%q is not a numeric row id", k, v)
			}
		}
	}
}

func TestCreateCheckoutReplayedKeyResumesPayment(t *testing.T) {
	provider := &mockProvider{}
	svc, _, _, payments, _ := newTestService(t, provider)

	req := validRequest()
	first, err := svc.CreateCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("first CreateCheckout failed: %v", err)
	}
	second, err := svc.CreateCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("replayed CreateCheckout failed: %v", err)
	}

	if first.PaymentPublicID != second.PaymentPublicID {
		t.Errorf("replay minted a new payment: %s vs %s", first.PaymentPublicID, second.PaymentPublicID)
	}
	if first.RedirectURL != second.RedirectURL {
		t.Errorf("replay returned a different redirect URL: %q vs %q", first.RedirectURL, second.RedirectURL)
	}
	if len(payments.payments) != 1 {
		t.Fatalf("expected one payment row, got %d", len(payments.payments))
	}
	if len(provider.sessions) != 1 {
		t.Errorf("replay must not contact the provider again, got %d sessions", len(provider.sessions))
	}
}

func TestCreateCheckoutResumesAfterProviderFailure(t *testing.T) {
	provider := &mockProvider{failBefore: 1}
	svc, intakes, _, payments, _ := newTestService(t, provider)

	req := validRequest()
	if _, err := svc.CreateCheckout(context.Background(), req); err == nil {
		t.Fatal("expected provider failure to surface")
	}

	// The trail is durable despite the failure.
	if len(intakes.intakes) != 1 || len(payments.payments) != 1 {
		t.Fatalf("expected durable intake and payment rows, got %d/%d", len(intakes.intakes), len(payments.payments))
	}
	if payments.payments[1].ExternalSessionID != nil {
		t.Error("no session should be attached after a failed provider call")
	}

	result, err := svc.CreateCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("retry with same key failed: %v", err)
	}
	if len(payments.payments) != 1 {
		t.Fatalf("retry minted a duplicate payment, got %d rows", len(payments.payments))
	}
	if result.RedirectURL == "" {
		t.Error("expected redirect URL from resumed checkout")
	}
}

func TestCreateCheckoutValidation(t *testing.T) {
	svc, _, _, _, calls := newTestService(t, &mockProvider{})

	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
	}{
		{"missing key", func(r *Request) { r.IdempotencyKey = uuid.Nil }, ErrIdempotencyKeyRequired},
		{"missing citation", func(r *Request) { r.CitationNumber = "" }, ErrCitationRequired},
		{"missing city", func(r *Request) { r.CityID = "" }, ErrJurisdictionRequired},
		{"missing section", func(r *Request) { r.SectionID = "" }, ErrJurisdictionRequired},
		{"unknown city", func(r *Request) { r.CityID = "atlantis" }, ErrUnknownJurisdiction},
		{"unknown section", func(r *Request) { r.SectionID = "dmv" }, ErrUnknownJurisdiction},
		{"missing draft", func(r *Request) { r.DraftText = "" }, ErrDraftRequired},
		{"missing contact", func(r *Request) { r.ContactName = "" }, ErrContactRequired},
		{"missing zip", func(r *Request) { r.ContactZip = "" }, ErrContactRequired},
		{"bad appeal type", func(r *Request) { r.AppealType = "express" }, ErrInvalidAppealType},
		{"zero amount", func(r *Request) { r.AmountCents = 0 }, ErrInvalidAmount},
		{"negative amount", func(r *Request) { r.AmountCents = -100 }, ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := svc.CreateCheckout(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if len(*calls) != 0 {
		t.Errorf("validation failures must not touch stores or provider, saw calls %v", *calls)
	}
}
