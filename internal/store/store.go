package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/citewise/citewise/internal/models"
)

type IntakeStore interface {
	CreateIntake(ctx context.Context, params models.IntakeCreateParams) (*models.Intake, error)
	GetIntakeByID(ctx context.Context, id int64) (*models.Intake, error)
	// UpdateIntakeStatus moves an intake to status only when it currently
	// sits at fromStatus, reporting whether the transition happened.
	UpdateIntakeStatus(ctx context.Context, id int64, fromStatus, toStatus string) (bool, error)
}

type DraftStore interface {
	CreateDraft(ctx context.Context, intakeID int64, appealType, draftText string) (*models.Draft, error)
	GetDraftByID(ctx context.Context, id int64) (*models.Draft, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, intakeID, draftID int64, appealType string, idempotencyKey uuid.UUID, amountCents int64) (*models.Payment, error)
	GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key uuid.UUID) (*models.Payment, error)
	GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	AttachSessionID(ctx context.Context, paymentID int64, sessionID, checkoutURL string) error

	// MarkPaymentPaid performs the idempotency-critical conditional
	// update pending→paid keyed by session ID. The affected-row report is
	// the sole duplicate-delivery signal.
	MarkPaymentPaid(ctx context.Context, sessionID string) (bool, error)
	MarkPaymentFailed(ctx context.Context, sessionID string) (bool, error)

	// MarkPaymentFulfilled flips is_fulfilled false→true at most once,
	// recording the tracking number and counting the attempt.
	MarkPaymentFulfilled(ctx context.Context, paymentID int64, trackingNumber string) (bool, error)
	RecordFulfillmentFailure(ctx context.Context, paymentID int64, reason string) error
	MarkPaymentDeadLettered(ctx context.Context, paymentID int64, reason string) (bool, error)

	ListDeadLetteredPayments(ctx context.Context, limit, offset int) ([]models.Payment, error)
}

type FulfillmentJobStore interface {
	EnqueueFulfillmentJob(ctx context.Context, paymentID int64, maxAttempts int) (*models.FulfillmentJob, error)
	// ClaimNextFulfillmentJob atomically claims the next due job, or
	// returns nil when the queue is empty.
	ClaimNextFulfillmentJob(ctx context.Context) (*models.FulfillmentJob, error)
	MarkFulfillmentJobDone(ctx context.Context, jobID int64) error
	MarkFulfillmentJobRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error
	MarkFulfillmentJobFailed(ctx context.Context, jobID int64, lastError string) error
}
