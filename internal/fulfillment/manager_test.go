package fulfillment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/citewise/citewise/internal/models"
)

func TestRetryFulfillmentUnknownPayment(t *testing.T) {
	f := newFixture(t, &mockSender{})
	err := f.manager.RetryFulfillment(context.Background(), uuid.New())
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestRetryFulfillmentRejectsFulfilledPayment(t *testing.T) {
	f := newFixture(t, &mockSender{})
	pay := f.payments.payments[1]
	pay.IsFulfilled = true
	pay.Status = models.PaymentFulfilled

	err := f.manager.RetryFulfillment(context.Background(), pay.PublicID)
	if !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
	if len(f.jobs.jobs) != 0 {
		t.Errorf("no job may be enqueued for a fulfilled payment, got %d", len(f.jobs.jobs))
	}
}

func TestRetryFulfillmentRejectsUnpaidPayment(t *testing.T) {
	f := newFixture(t, &mockSender{})
	pay := f.payments.payments[1]

	for _, status := range []string{models.PaymentPending, models.PaymentFailed} {
		pay.Status = status
		err := f.manager.RetryFulfillment(context.Background(), pay.PublicID)
		if !errors.Is(err, ErrPaymentNotRetryable) {
			t.Errorf("status %s: expected ErrPaymentNotRetryable, got %v", status, err)
		}
	}
}

func TestRetryFulfillmentEnqueuesForDeadLetteredPayment(t *testing.T) {
	f := newFixture(t, &mockSender{})
	pay := f.payments.payments[1]
	pay.Status = models.PaymentFailedFulfillment

	if err := f.manager.RetryFulfillment(context.Background(), pay.PublicID); err != nil {
		t.Fatalf("RetryFulfillment failed: %v", err)
	}
	if len(f.jobs.jobs) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(f.jobs.jobs))
	}
	job := f.jobs.jobs[1]
	if job.PaymentID != pay.ID || job.MaxAttempts != 3 {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestGetPaymentStatus(t *testing.T) {
	f := newFixture(t, &mockSender{})
	pay := f.payments.payments[1]

	got, err := f.manager.GetPaymentStatus(context.Background(), pay.PublicID)
	if err != nil {
		t.Fatalf("GetPaymentStatus failed: %v", err)
	}
	if got.ID != pay.ID {
		t.Errorf("expected payment %d, got %d", pay.ID, got.ID)
	}

	if _, err := f.manager.GetPaymentStatus(context.Background(), uuid.New()); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("expected ErrPaymentNotFound for unknown id, got %v", err)
	}
}

func TestListDeadLetters(t *testing.T) {
	f := newFixture(t, &mockSender{})
	f.payments.payments[1].Status = models.PaymentFailedFulfillment

	out, err := f.manager.ListDeadLetters(context.Background(), 50, 0)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(out) != 1 || out[0].ID != 1 {
		t.Errorf("expected the dead-lettered payment, got %+v", out)
	}
}
