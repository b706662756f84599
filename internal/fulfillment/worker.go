// Package fulfillment drives the durable dispatch queue: a polling worker
// with bounded exponential-backoff retries, a dead-letter state for
// payments whose letters could not be mailed, and the operator-triggered
// re-dispatch.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/citewise/citewise/internal/letter"
	"github.com/citewise/citewise/internal/store"
)

type WorkerOptions struct {
	PollInterval   time.Duration
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

type Worker struct {
	jobs           store.FulfillmentJobStore
	payments       store.PaymentStore
	dispatcher     *letter.Dispatcher
	pollInterval   time.Duration
	retryBaseDelay time.Duration
	maxRetryDelay  time.Duration
}

func NewWorker(jobs store.FulfillmentJobStore, payments store.PaymentStore, dispatcher *letter.Dispatcher, opts WorkerOptions) *Worker {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	retryBase := opts.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = 5 * time.Second
	}
	maxRetry := opts.MaxRetryDelay
	if maxRetry <= 0 {
		maxRetry = 10 * time.Minute
	}

	return &Worker{
		jobs:           jobs,
		payments:       payments,
		dispatcher:     dispatcher,
		pollInterval:   poll,
		retryBaseDelay: retryBase,
		maxRetryDelay:  maxRetry,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := w.processOne(ctx)
		if err != nil {
			slog.Error("fulfillment worker cycle failed", "error", err)
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) processOne(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextFulfillmentJob(ctx)
	if err != nil {
		return false, fmt.Errorf("claim fulfillment job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	dispatchErr := w.dispatcher.Fulfill(ctx, job.PaymentID)
	if dispatchErr == nil || errors.Is(dispatchErr, letter.ErrAlreadyFulfilled) {
		if err := w.jobs.MarkFulfillmentJobDone(ctx, job.ID); err != nil {
			return true, fmt.Errorf("mark fulfillment job done: %w", err)
		}
		return true, nil
	}

	var perm *letter.PermanentError
	if errors.As(dispatchErr, &perm) || job.Attempts >= job.MaxAttempts {
		if err := w.jobs.MarkFulfillmentJobFailed(ctx, job.ID, dispatchErr.Error()); err != nil {
			return true, fmt.Errorf("mark fulfillment job failed: %w", err)
		}
		w.deadLetter(ctx, job.PaymentID, dispatchErr.Error())
		return true, nil
	}

	nextRun := time.Now().UTC().Add(w.retryDelay(job.Attempts))
	if err := w.jobs.MarkFulfillmentJobRetry(ctx, job.ID, nextRun, dispatchErr.Error()); err != nil {
		return true, fmt.Errorf("mark fulfillment job retry: %w", err)
	}
	return true, nil
}

// deadLetter parks the payment for manual re-dispatch. The user already
// saw a paid confirmation; only operators see this state.
func (w *Worker) deadLetter(ctx context.Context, paymentID int64, reason string) {
	moved, err := w.payments.MarkPaymentDeadLettered(ctx, paymentID, reason)
	if err != nil {
		slog.Error("failed to dead-letter payment", "payment_id", paymentID, "error", err)
		return
	}
	if moved {
		slog.Error("fulfillment exhausted retries, payment dead-lettered",
			"payment_id", paymentID, "reason", reason)
	}
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxRetryDelay {
			return w.maxRetryDelay
		}
	}
	if delay > w.maxRetryDelay {
		return w.maxRetryDelay
	}
	return delay
}
