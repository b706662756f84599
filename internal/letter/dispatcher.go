package letter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/citewise/citewise/internal/catalog"
	"github.com/citewise/citewise/internal/models"
	"github.com/citewise/citewise/internal/store"
)

// ErrAlreadyFulfilled reports a dispatch attempt against a payment whose
// letter already went out. Callers treat it as a successful no-op.
var ErrAlreadyFulfilled = errors.New("payment already fulfilled")

// Dispatcher turns a paid payment into a mailed letter. The at-most-once
// guarantee lives in the store's conditional is_fulfilled flip, not here:
// any number of concurrent Fulfill calls may race, exactly one records the
// letter.
type Dispatcher struct {
	payments   store.PaymentStore
	intakes    store.IntakeStore
	drafts     store.DraftStore
	sender     Sender
	catalog    *catalog.Catalog
	returnAddr catalog.Address
}

func NewDispatcher(payments store.PaymentStore, intakes store.IntakeStore, drafts store.DraftStore, sender Sender, cat *catalog.Catalog, returnAddr catalog.Address) *Dispatcher {
	return &Dispatcher{
		payments:   payments,
		intakes:    intakes,
		drafts:     drafts,
		sender:     sender,
		catalog:    cat,
		returnAddr: returnAddr,
	}
}

// Fulfill mails the letter for one payment. On provider failure the
// attempt is recorded on the payment row and the error returned for the
// worker to classify; a *PermanentError must not be retried.
func (d *Dispatcher) Fulfill(ctx context.Context, paymentID int64) error {
	pay, err := d.payments.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("load payment %d: %w", paymentID, err)
	}
	if pay.IsFulfilled {
		return ErrAlreadyFulfilled
	}

	intake, err := d.intakes.GetIntakeByID(ctx, pay.IntakeID)
	if err != nil {
		return fmt.Errorf("load intake %d: %w", pay.IntakeID, err)
	}
	draft, err := d.drafts.GetDraftByID(ctx, pay.DraftID)
	if err != nil {
		return fmt.Errorf("load draft %d: %w", pay.DraftID, err)
	}

	_, section, err := d.catalog.Section(intake.CityID, intake.SectionID)
	if err != nil {
		perm := &PermanentError{Reason: fmt.Sprintf("jurisdiction no longer in catalog: %v", err)}
		d.recordFailure(ctx, pay.ID, perm.Reason)
		return perm
	}
	if !section.MailingAddress.Complete() {
		// Configured incomplete addresses block fulfillment outright
		// rather than mailing to a blank destination.
		perm := &PermanentError{Reason: fmt.Sprintf("mailing address for %s/%s is incomplete", intake.CityID, intake.SectionID)}
		d.recordFailure(ctx, pay.ID, perm.Reason)
		return perm
	}

	result, err := d.sender.SendLetter(ctx, SendLetterParams{
		To:             section.MailingAddress,
		From:           d.returnAddr,
		Body:           draft.DraftText,
		Certified:      pay.AppealType == models.AppealCertified,
		IdempotencyKey: pay.PublicID.String(),
	})
	if err != nil {
		d.recordFailure(ctx, pay.ID, err.Error())
		return fmt.Errorf("send letter for payment %d: %w", pay.ID, err)
	}

	flipped, err := d.payments.MarkPaymentFulfilled(ctx, pay.ID, result.TrackingNumber)
	if err != nil {
		return fmt.Errorf("mark payment %d fulfilled: %w", pay.ID, err)
	}
	if !flipped {
		// A concurrent attempt won the flip after our send; the provider
		// idempotency key collapsed the duplicate on their side.
		slog.WarnContext(ctx, "fulfillment flip lost race, treating as fulfilled", "payment_id", pay.ID)
		return nil
	}

	if moved, err := d.intakes.UpdateIntakeStatus(ctx, intake.ID, models.IntakePaid, models.IntakeFulfilled); err != nil {
		slog.ErrorContext(ctx, "failed to move intake to fulfilled", "intake_id", intake.ID, "error", err)
	} else if !moved {
		slog.WarnContext(ctx, "intake not in paid state at fulfillment", "intake_id", intake.ID)
	}

	slog.InfoContext(ctx, "letter dispatched",
		"payment_id", pay.ID, "intake_id", intake.ID, "tracking_number", result.TrackingNumber)
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, paymentID int64, reason string) {
	if err := d.payments.RecordFulfillmentFailure(ctx, paymentID, reason); err != nil {
		slog.ErrorContext(ctx, "failed to record fulfillment failure", "payment_id", paymentID, "error", err)
	}
}
