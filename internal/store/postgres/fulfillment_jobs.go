package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/citewise/citewise/internal/models"
)

type FulfillmentJobStore struct {
	db *sql.DB
}

func NewFulfillmentJobStore(db *sql.DB) *FulfillmentJobStore {
	return &FulfillmentJobStore{db: db}
}

const jobColumns = `id, payment_id, status, attempts, max_attempts, available_at, locked_at,
	last_error, created_at, updated_at, done_at`

func scanJob(row rowScanner) (*models.FulfillmentJob, error) {
	j := &models.FulfillmentJob{}
	err := row.Scan(
		&j.ID, &j.PaymentID, &j.Status, &j.Attempts, &j.MaxAttempts, &j.AvailableAt, &j.LockedAt,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt, &j.DoneAt,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *FulfillmentJobStore) EnqueueFulfillmentJob(ctx context.Context, paymentID int64, maxAttempts int) (*models.FulfillmentJob, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return scanJob(s.db.QueryRowContext(ctx,
		`INSERT INTO fulfillment_jobs (payment_id, max_attempts)
		 VALUES ($1, $2)
		 RETURNING `+jobColumns,
		paymentID, maxAttempts,
	))
}

// ClaimNextFulfillmentJob claims the oldest due job with FOR UPDATE SKIP
// LOCKED so that concurrent workers never double-claim. The claim itself
// counts as an attempt.
func (s *FulfillmentJobStore) ClaimNextFulfillmentJob(ctx context.Context) (*models.FulfillmentJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job := &models.FulfillmentJob{}
	err = tx.QueryRowContext(ctx,
		`WITH next_job AS (
			SELECT id
			FROM fulfillment_jobs
			WHERE status = 'queued'
			  AND available_at <= NOW()
			ORDER BY available_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE fulfillment_jobs j
		SET status = 'processing',
			attempts = j.attempts + 1,
			locked_at = NOW(),
			updated_at = NOW()
		FROM next_job
		WHERE j.id = next_job.id
		RETURNING j.id, j.payment_id, j.status, j.attempts, j.max_attempts, j.available_at, j.locked_at, j.last_error, j.created_at, j.updated_at, j.done_at`,
	).Scan(
		&job.ID, &job.PaymentID, &job.Status, &job.Attempts, &job.MaxAttempts,
		&job.AvailableAt, &job.LockedAt, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt, &job.DoneAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			if commitErr := tx.Commit(); commitErr != nil {
				return nil, commitErr
			}
			return nil, nil
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *FulfillmentJobStore) MarkFulfillmentJobDone(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fulfillment_jobs
		 SET status = 'done',
		     last_error = '',
		     done_at = NOW(),
		     locked_at = NULL,
		     updated_at = NOW()
		 WHERE id = $1`,
		jobID,
	)
	return err
}

func (s *FulfillmentJobStore) MarkFulfillmentJobRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fulfillment_jobs
		 SET status = 'queued',
		     available_at = $2,
		     last_error = $3,
		     locked_at = NULL,
		     updated_at = NOW()
		 WHERE id = $1`,
		jobID, nextAvailableAt, lastError,
	)
	return err
}

func (s *FulfillmentJobStore) MarkFulfillmentJobFailed(ctx context.Context, jobID int64, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fulfillment_jobs
		 SET status = 'failed',
		     last_error = $2,
		     done_at = NOW(),
		     locked_at = NULL,
		     updated_at = NOW()
		 WHERE id = $1`,
		jobID, lastError,
	)
	return err
}
