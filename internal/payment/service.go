package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/citewise/citewise/internal/models"
	"github.com/citewise/citewise/internal/store"
)

// Event types the webhook service understands.
const (
	EventCheckoutCompleted = "checkout.completed"
	EventCheckoutFailed    = "checkout.failed"
	EventCheckoutExpired   = "checkout.expired"
)

var (
	// ErrUnknownSession marks an integrity failure: the provider
	// references a session no payment row carries. It is logged and
	// acknowledged, never used to create a row on demand.
	ErrUnknownSession = errors.New("webhook references unknown session id")
)

// Event is one decoded webhook delivery.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// WebhookService applies payment events to the payment state machine.
// Deliveries are at-least-once; the conditional updates in the store make
// re-deliveries collapse onto a single transition.
type WebhookService struct {
	payments    store.PaymentStore
	intakes     store.IntakeStore
	jobs        store.FulfillmentJobStore
	maxAttempts int
}

func NewWebhookService(payments store.PaymentStore, intakes store.IntakeStore, jobs store.FulfillmentJobStore, maxAttempts int) *WebhookService {
	return &WebhookService{
		payments:    payments,
		intakes:     intakes,
		jobs:        jobs,
		maxAttempts: maxAttempts,
	}
}

// HandleEvent processes one delivery. The caller acknowledges receipt to
// the provider regardless of the returned error; the error is for logging
// and alerting only, so internal failures never drive provider-side
// retries of business logic.
func (s *WebhookService) HandleEvent(ctx context.Context, ev Event) error {
	if ev.SessionID == "" {
		return fmt.Errorf("event %q carries no session id", ev.Type)
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		return s.handleCompleted(ctx, ev.SessionID)
	case EventCheckoutFailed, EventCheckoutExpired:
		return s.handleFailed(ctx, ev)
	default:
		slog.InfoContext(ctx, "ignoring webhook event type", "type", ev.Type, "session_id", ev.SessionID)
		return nil
	}
}

func (s *WebhookService) handleCompleted(ctx context.Context, sessionID string) error {
	transitioned, err := s.payments.MarkPaymentPaid(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("mark payment paid: %w", err)
	}
	if !transitioned {
		// Either a duplicate delivery (row already past pending) or an
		// unknown session. Distinguish for the logs; both are acked.
		p, lookupErr := s.payments.GetPaymentBySessionID(ctx, sessionID)
		if lookupErr != nil {
			if errors.Is(lookupErr, sql.ErrNoRows) {
				slog.ErrorContext(ctx, "webhook integrity failure: unknown session id", "session_id", sessionID)
				return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
			}
			return fmt.Errorf("look up payment after no-op transition: %w", lookupErr)
		}
		slog.InfoContext(ctx, "duplicate payment-completed delivery ignored",
			"session_id", sessionID, "payment_id", p.ID, "status", p.Status)
		return nil
	}

	p, err := s.payments.GetPaymentBySessionID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load paid payment: %w", err)
	}

	slog.InfoContext(ctx, "payment completed", "payment_id", p.ID, "session_id", sessionID)

	if moved, err := s.intakes.UpdateIntakeStatus(ctx, p.IntakeID, models.IntakeDrafted, models.IntakePaid); err != nil {
		slog.ErrorContext(ctx, "failed to move intake to paid", "intake_id", p.IntakeID, "error", err)
	} else if !moved {
		slog.WarnContext(ctx, "intake not in drafted state when payment completed", "intake_id", p.IntakeID)
	}

	if _, err := s.jobs.EnqueueFulfillmentJob(ctx, p.ID, s.maxAttempts); err != nil {
		// The payment is durably paid; a failed enqueue is recoverable
		// via the manual retry surface. Do not undo the transition.
		return fmt.Errorf("enqueue fulfillment for payment %d: %w", p.ID, err)
	}
	return nil
}

func (s *WebhookService) handleFailed(ctx context.Context, ev Event) error {
	transitioned, err := s.payments.MarkPaymentFailed(ctx, ev.SessionID)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	if !transitioned {
		if _, lookupErr := s.payments.GetPaymentBySessionID(ctx, ev.SessionID); lookupErr != nil {
			if errors.Is(lookupErr, sql.ErrNoRows) {
				slog.ErrorContext(ctx, "webhook integrity failure: unknown session id", "session_id", ev.SessionID)
				return fmt.Errorf("%w: %s", ErrUnknownSession, ev.SessionID)
			}
			return fmt.Errorf("look up payment after no-op transition: %w", lookupErr)
		}
		slog.InfoContext(ctx, "duplicate or late payment-failed delivery ignored",
			"session_id", ev.SessionID, "type", ev.Type)
		return nil
	}
	slog.InfoContext(ctx, "payment failed", "session_id", ev.SessionID, "type", ev.Type)
	return nil
}
