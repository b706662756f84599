package models

import (
	"time"

	"github.com/google/uuid"
)

// Intake statuses. Transitions are append-only and owned by exactly one
// pipeline step: created → drafted (checkout), drafted → paid (webhook),
// paid → fulfilled (dispatcher). Intakes are never deleted.
const (
	IntakeCreated   = "created"
	IntakeDrafted   = "drafted"
	IntakePaid      = "paid"
	IntakeFulfilled = "fulfilled"
	IntakeFailed    = "failed"
)

// Payment statuses. pending → paid → fulfilled is the happy path;
// paid → failed_fulfillment is the dead-letter detour and pending → failed
// covers payment failures.
const (
	PaymentPending           = "pending"
	PaymentPaid              = "paid"
	PaymentFailed            = "failed"
	PaymentFailedFulfillment = "failed_fulfillment"
	PaymentFulfilled         = "fulfilled"
)

// Appeal types.
const (
	AppealStandard  = "standard"
	AppealCertified = "certified"
)

// Fulfillment job statuses, mirroring the queue table.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

// Intake is the durable record of an appeal request prior to payment,
// including the resolved jurisdiction and the contact the letter is sent
// on behalf of.
type Intake struct {
	ID                 int64
	PublicID           uuid.UUID
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
	Status             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IntakeCreateParams carries the fields the checkout orchestrator persists
// at step one.
type IntakeCreateParams struct {
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
}

// Draft is a generated appeal letter linked to an intake. Rows are
// immutable once inserted; an edit is a new row. The pipeline only ever
// reads the draft linked to the payment used at checkout.
type Draft struct {
	ID         int64
	IntakeID   int64
	AppealType string
	DraftText  string
	CreatedAt  time.Time
}

// Payment tracks one checkout session and its fulfillment. The unique
// ExternalSessionID collapses duplicate webhook deliveries onto this row,
// and IsFulfilled flips false→true at most once via a conditional update.
type Payment struct {
	ID                   int64
	PublicID             uuid.UUID
	IntakeID             int64
	DraftID              int64
	AppealType           string
	IdempotencyKey       uuid.UUID
	ExternalSessionID    *string
	CheckoutURL          string
	AmountCents          int64
	Status               string
	IsFulfilled          bool
	TrackingNumber       *string
	FulfillmentAttempts  int
	LastFulfillmentError string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FulfillmentJob is one durable dispatch attempt series for a payment.
type FulfillmentJob struct {
	ID          int64
	PaymentID   int64
	Status      string
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	LockedAt    *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DoneAt      *time.Time
}
