package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"activity-tracker/internal/model"
)

// Processing errors.
var (
	ErrLockHeld       = errors.New("activity lock held by another worker")
	ErrLockLost       = errors.New("activity lock no longer owned")
	ErrNotRetriable   = errors.New("processing status is not retriable")
	ErrStatusNotFound = errors.New("processing status not found")
)

// ProcessingRepository drives the activity completion state machine. The
// lock is a single database row: acquiring means writing calculating with a
// holder id and timestamp, conditioned on no fresh calculating lock being
// present. A lock older than the staleness threshold is abandoned and may
// be reclaimed.
type ProcessingRepository struct {
	pool *pgxpool.Pool
}

// NewProcessingRepository creates a new ProcessingRepository instance.
func NewProcessingRepository(pool *pgxpool.Pool) *ProcessingRepository {
	return &ProcessingRepository{pool: pool}
}

// Get retrieves the processing status for an activity.
func (r *ProcessingRepository) Get(ctx context.Context, activityID int64) (*model.ProcessingStatus, error) {
	const query = `
		SELECT activity_id, status, lock_holder, locked_at, completed_at, error_message, retry_count
		FROM activity_processing
		WHERE activity_id = $1
	`

	var ps model.ProcessingStatus
	err := r.pool.QueryRow(ctx, query, activityID).Scan(
		&ps.ActivityID,
		&ps.Status,
		&ps.LockHolder,
		&ps.LockedAt,
		&ps.CompletedAt,
		&ps.ErrorMessage,
		&ps.RetryCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("failed to get processing status: %w", err)
	}

	return &ps, nil
}

// AcquireLock creates the status row if needed and attempts the
// pending -> calculating transition. The conditional update succeeds when
// the row is pending, or when it is calculating with a lock older than the
// staleness threshold (abandoned by a crashed worker). Returns ErrLockHeld
// when another worker holds a fresh lock, and the terminal-state errors
// pass through as ErrNotRetriable.
func (r *ProcessingRepository) AcquireLock(ctx context.Context, activityID int64, holder string, staleness time.Duration) error {
	const insertQuery = `
		INSERT INTO activity_processing (activity_id, status, retry_count)
		VALUES ($1, $2, 0)
		ON CONFLICT (activity_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, insertQuery, activityID, model.ProcessingPending); err != nil {
		return fmt.Errorf("failed to ensure processing status: %w", err)
	}

	const lockQuery = `
		UPDATE activity_processing
		SET status = $2, lock_holder = $3, locked_at = NOW(), error_message = NULL
		WHERE activity_id = $1
		  AND (status = $4
		       OR (status = $2 AND locked_at < NOW() - $5::interval))
	`
	interval := fmt.Sprintf("%d seconds", int(staleness.Seconds()))

	tag, err := r.pool.Exec(ctx, lockQuery,
		activityID, model.ProcessingCalculating, holder, model.ProcessingPending, interval)
	if err != nil {
		return fmt.Errorf("failed to acquire activity lock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a held lock from a terminal state for the caller.
	ps, err := r.Get(ctx, activityID)
	if err != nil {
		return err
	}
	switch ps.Status {
	case model.ProcessingCalculating:
		return ErrLockHeld
	default:
		return fmt.Errorf("%w: status %s", ErrNotRetriable, ps.Status)
	}
}

// OwnsLock verifies the holder still owns the calculating lock. A reclaimed
// holder that finishes late must check this before committing.
func (r *ProcessingRepository) OwnsLock(ctx context.Context, activityID int64, holder string) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM activity_processing
			WHERE activity_id = $1 AND status = $2 AND lock_holder = $3
		)
	`

	var owns bool
	err := r.pool.QueryRow(ctx, query, activityID, model.ProcessingCalculating, holder).Scan(&owns)
	if err != nil {
		return false, fmt.Errorf("failed to check lock ownership: %w", err)
	}

	return owns, nil
}

// ReleaseCompleted transitions calculating -> completed for the owning
// holder. Returns ErrLockLost if the lock was reclaimed in the meantime.
func (r *ProcessingRepository) ReleaseCompleted(ctx context.Context, activityID int64, holder string) error {
	const query = `
		UPDATE activity_processing
		SET status = $2, completed_at = NOW(), lock_holder = NULL, locked_at = NULL, error_message = NULL
		WHERE activity_id = $1 AND status = $3 AND lock_holder = $4
	`

	tag, err := r.pool.Exec(ctx, query,
		activityID, model.ProcessingCompleted, model.ProcessingCalculating, holder)
	if err != nil {
		return fmt.Errorf("failed to release completed lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockLost
	}

	return nil
}

// ReleaseFailed records a failure inside the locked section: the retry
// count increments and the status returns to pending while retries remain,
// or terminates in error once the budget is exhausted. Terminal error rows
// keep the message for operators.
func (r *ProcessingRepository) ReleaseFailed(ctx context.Context, activityID int64, holder, message string, maxRetries int) (string, error) {
	const query = `
		UPDATE activity_processing
		SET retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= $5 THEN $6 ELSE $2 END,
			error_message = $4,
			lock_holder = NULL,
			locked_at = NOW()
		WHERE activity_id = $1 AND status = $3 AND lock_holder = $7
		RETURNING status
	`
	// locked_at doubles as the last-attempt marker for retry backoff; a
	// pending row is lockable regardless of its value.

	var status string
	err := r.pool.QueryRow(ctx, query,
		activityID, model.ProcessingPending, model.ProcessingCalculating,
		message, maxRetries, model.ProcessingError, holder).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrLockLost
		}
		return "", fmt.Errorf("failed to release failed lock: %w", err)
	}

	return status, nil
}

// ResetForRetry performs the explicit manual error -> pending transition.
func (r *ProcessingRepository) ResetForRetry(ctx context.Context, activityID int64) error {
	const query = `
		UPDATE activity_processing
		SET status = $2, retry_count = 0, error_message = NULL, lock_holder = NULL, locked_at = NULL
		WHERE activity_id = $1 AND status = $3
	`

	tag, err := r.pool.Exec(ctx, query, activityID, model.ProcessingPending, model.ProcessingError)
	if err != nil {
		return fmt.Errorf("failed to reset processing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		ps, err := r.Get(ctx, activityID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: status %s", ErrNotRetriable, ps.Status)
	}

	return nil
}

// SweepStale resets calculating rows whose lock is older than the staleness
// threshold back to pending. Returns the affected activity ids.
func (r *ProcessingRepository) SweepStale(ctx context.Context, staleness time.Duration) ([]int64, error) {
	const query = `
		UPDATE activity_processing
		SET status = $1, lock_holder = NULL, locked_at = NULL
		WHERE status = $2 AND locked_at < NOW() - $3::interval
		RETURNING activity_id
	`
	interval := fmt.Sprintf("%d seconds", int(staleness.Seconds()))

	rows, err := r.pool.Query(ctx, query, model.ProcessingPending, model.ProcessingCalculating, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale locks: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan swept activity: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating swept activities: %w", err)
	}

	return ids, nil
}

// GetRetryable returns pending activities whose next backoff slot has
// arrived, for the background retry loop. Backoff doubles per retry.
func (r *ProcessingRepository) GetRetryable(ctx context.Context, baseBackoff time.Duration, limit int) ([]int64, error) {
	const query = `
		SELECT activity_id
		FROM activity_processing
		WHERE status = $1
		  AND retry_count > 0
		  AND (locked_at IS NULL
		       OR locked_at < NOW() - make_interval(secs => $2 * POWER(2, retry_count)))
		ORDER BY activity_id
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, model.ProcessingPending, baseBackoff.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get retryable activities: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan retryable activity: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retryable activities: %w", err)
	}

	return ids, nil
}
