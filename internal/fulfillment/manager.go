package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/citewise/citewise/internal/models"
	"github.com/citewise/citewise/internal/store"
)

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrAlreadyFulfilled    = errors.New("payment already fulfilled")
	ErrPaymentNotRetryable = errors.New("payment is not in a retryable state")
)

// Manager is the operator surface over the queue: status reads and manual
// re-dispatch of dead-lettered payments.
type Manager struct {
	payments    store.PaymentStore
	jobs        store.FulfillmentJobStore
	maxAttempts int
}

func NewManager(payments store.PaymentStore, jobs store.FulfillmentJobStore, maxAttempts int) *Manager {
	return &Manager{
		payments:    payments,
		jobs:        jobs,
		maxAttempts: maxAttempts,
	}
}

// RetryFulfillment re-enqueues dispatch for a paid or dead-lettered
// payment with a fresh attempt budget. An already-fulfilled payment is
// rejected; even if a stale job slipped through, the conditional
// is_fulfilled flip makes it mail-safe.
func (m *Manager) RetryFulfillment(ctx context.Context, paymentPublicID uuid.UUID) error {
	pay, err := m.payments.GetPaymentByPublicID(ctx, paymentPublicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("load payment: %w", err)
	}

	if pay.IsFulfilled {
		return ErrAlreadyFulfilled
	}
	if pay.Status != models.PaymentPaid && pay.Status != models.PaymentFailedFulfillment {
		return fmt.Errorf("%w: status %s", ErrPaymentNotRetryable, pay.Status)
	}

	if _, err := m.jobs.EnqueueFulfillmentJob(ctx, pay.ID, m.maxAttempts); err != nil {
		return fmt.Errorf("enqueue manual fulfillment: %w", err)
	}

	slog.InfoContext(ctx, "manual fulfillment retry enqueued",
		"payment_id", pay.ID, "status", pay.Status, "attempts_so_far", pay.FulfillmentAttempts)
	return nil
}

// GetPaymentStatus returns the payment for the ops status query.
func (m *Manager) GetPaymentStatus(ctx context.Context, paymentPublicID uuid.UUID) (*models.Payment, error) {
	pay, err := m.payments.GetPaymentByPublicID(ctx, paymentPublicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return pay, nil
}

// ListDeadLetters returns payments awaiting manual re-dispatch.
func (m *Manager) ListDeadLetters(ctx context.Context, limit, offset int) ([]models.Payment, error) {
	payments, err := m.payments.ListDeadLetteredPayments(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list dead-lettered payments: %w", err)
	}
	return payments, nil
}
