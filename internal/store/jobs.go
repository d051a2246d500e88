// internal/store/jobs.go
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mailcourier/internal/common/errors"
	"mailcourier/internal/models"
)

// PostgresJobStore implements JobStore on a jobs table. Leasing uses
// FOR UPDATE SKIP LOCKED so competing workers never block each other, and a
// leased_until column as the visibility timeout.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (s *PostgresJobStore) Enqueue(ctx context.Context, queue string, payload []byte, maxAttempts int, runAt time.Time) (*models.Job, error) {
	job := &models.Job{
		ID:          uuid.New().String(),
		Queue:       queue,
		Payload:     payload,
		Status:      models.JobPending,
		MaxAttempts: maxAttempts,
		RunAt:       runAt.UTC(),
	}

	const query = `
		INSERT INTO jobs (id, queue, payload, status, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		job.ID, job.Queue, job.Payload, job.Status, job.MaxAttempts, job.RunAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}
	return job, nil
}

// Lease atomically claims up to limit due rows: pending rows whose run_at
// has passed and whose lease, if any, has expired. The attempt counter is
// consumed at lease time so a crashed worker still burns the attempt.
func (s *PostgresJobStore) Lease(ctx context.Context, queue string, limit int, visibility time.Duration) ([]*models.Job, error) {
	const query = `
		UPDATE jobs SET
			attempts = attempts + 1,
			leased_until = NOW() + $3::interval,
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND status = 'pending'
			  AND run_at <= NOW()
			  AND (leased_until IS NULL OR leased_until <= NOW())
			ORDER BY run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, payload, status, attempts, max_attempts, run_at, leased_until, last_error, created_at, updated_at`

	rows, err := s.db.QueryContext(ctx, query, queue, limit, visibility.String())
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.NewQueueUnavailableError(err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}
	return jobs, nil
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string) error {
	const query = `
		UPDATE jobs SET status = 'done', leased_until = NULL, updated_at = NOW()
		WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

func (s *PostgresJobStore) Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	const query = `
		UPDATE jobs SET
			status = 'pending',
			run_at = $2,
			leased_until = NULL,
			last_error = $3,
			updated_at = NOW()
		WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id, runAt.UTC(), lastErr); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

// Release hands the job back without charging an attempt. Used when a
// concurrency cap, not a failure, blocked processing.
func (s *PostgresJobStore) Release(ctx context.Context, id string, runAt time.Time) error {
	const query = `
		UPDATE jobs SET
			status = 'pending',
			attempts = attempts - 1,
			run_at = $2,
			leased_until = NULL,
			updated_at = NOW()
		WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id, runAt.UTC()); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

func (s *PostgresJobStore) Kill(ctx context.Context, id string, lastErr string) error {
	const query = `
		UPDATE jobs SET status = 'dead', leased_until = NULL, last_error = $2, updated_at = NOW()
		WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id, lastErr); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

func scanJob(rows *sql.Rows) (*models.Job, error) {
	var job models.Job
	var leasedUntil sql.NullTime
	var lastError sql.NullString

	err := rows.Scan(
		&job.ID, &job.Queue, &job.Payload, &job.Status, &job.Attempts,
		&job.MaxAttempts, &job.RunAt, &leasedUntil, &lastError,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if leasedUntil.Valid {
		job.LeasedUntil = &leasedUntil.Time
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}
	return &job, nil
}
