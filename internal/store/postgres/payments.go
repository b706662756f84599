package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/citewise/citewise/internal/models"
)

type PaymentStore struct {
	db *sql.DB
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentColumns = `id, public_id, intake_id, draft_id, appeal_type, idempotency_key,
	external_session_id, checkout_url, amount_cents, status, is_fulfilled, tracking_number,
	fulfillment_attempts, last_fulfillment_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	p := &models.Payment{}
	err := row.Scan(
		&p.ID, &p.PublicID, &p.IntakeID, &p.DraftID, &p.AppealType, &p.IdempotencyKey,
		&p.ExternalSessionID, &p.CheckoutURL, &p.AmountCents, &p.Status, &p.IsFulfilled, &p.TrackingNumber,
		&p.FulfillmentAttempts, &p.LastFulfillmentError, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PaymentStore) CreatePayment(ctx context.Context, intakeID, draftID int64, appealType string, idempotencyKey uuid.UUID, amountCents int64) (*models.Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO payments (intake_id, draft_id, appeal_type, idempotency_key, amount_cents, status, is_fulfilled)
		 VALUES ($1, $2, $3, $4, $5, 'pending', FALSE)
		 RETURNING `+paymentColumns,
		intakeID, draftID, appealType, idempotencyKey, amountCents,
	)
	return scanPayment(row)
}

func (s *PaymentStore) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (s *PaymentStore) GetPaymentByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE public_id = $1`, publicID))
}

func (s *PaymentStore) GetPaymentByIdempotencyKey(ctx context.Context, key uuid.UUID) (*models.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
}

func (s *PaymentStore) GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_session_id = $1`, sessionID))
}

func (s *PaymentStore) AttachSessionID(ctx context.Context, paymentID int64, sessionID, checkoutURL string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments
		 SET external_session_id = $2, checkout_url = $3, updated_at = NOW()
		 WHERE id = $1`,
		paymentID, sessionID, checkoutURL,
	)
	return err
}

// MarkPaymentPaid is the webhook idempotency guard: only the delivery that
// finds the row still pending wins the transition. Duplicates see zero
// rows affected and stop.
func (s *PaymentStore) MarkPaymentPaid(ctx context.Context, sessionID string) (bool, error) {
	return s.conditional(ctx,
		`UPDATE payments
		 SET status = 'paid', updated_at = NOW()
		 WHERE external_session_id = $1 AND status = 'pending'`,
		sessionID)
}

func (s *PaymentStore) MarkPaymentFailed(ctx context.Context, sessionID string) (bool, error) {
	return s.conditional(ctx,
		`UPDATE payments
		 SET status = 'failed', updated_at = NOW()
		 WHERE external_session_id = $1 AND status = 'pending'`,
		sessionID)
}

// MarkPaymentFulfilled flips is_fulfilled exactly once. A concurrent or
// stale retry sees zero rows and must not mail again.
func (s *PaymentStore) MarkPaymentFulfilled(ctx context.Context, paymentID int64, trackingNumber string) (bool, error) {
	return s.conditional(ctx,
		`UPDATE payments
		 SET is_fulfilled = TRUE,
		     status = 'fulfilled',
		     tracking_number = $2,
		     fulfillment_attempts = fulfillment_attempts + 1,
		     last_fulfillment_error = '',
		     updated_at = NOW()
		 WHERE id = $1 AND is_fulfilled = FALSE`,
		paymentID, trackingNumber)
}

func (s *PaymentStore) RecordFulfillmentFailure(ctx context.Context, paymentID int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments
		 SET fulfillment_attempts = fulfillment_attempts + 1,
		     last_fulfillment_error = $2,
		     updated_at = NOW()
		 WHERE id = $1 AND is_fulfilled = FALSE`,
		paymentID, reason,
	)
	return err
}

func (s *PaymentStore) MarkPaymentDeadLettered(ctx context.Context, paymentID int64, reason string) (bool, error) {
	return s.conditional(ctx,
		`UPDATE payments
		 SET status = 'failed_fulfillment',
		     last_fulfillment_error = $2,
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'paid' AND is_fulfilled = FALSE`,
		paymentID, reason)
}

func (s *PaymentStore) ListDeadLetteredPayments(ctx context.Context, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = 'failed_fulfillment'
		 ORDER BY updated_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PaymentStore) conditional(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
