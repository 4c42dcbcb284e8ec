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

// CursorRepository handles per-user, per-stream sync markers. A cursor only
// ever moves forward; the GREATEST guard in Advance makes late or repeated
// acknowledgements harmless.
type CursorRepository struct {
	pool *pgxpool.Pool
}

// NewCursorRepository creates a new CursorRepository instance.
func NewCursorRepository(pool *pgxpool.Pool) *CursorRepository {
	return &CursorRepository{pool: pool}
}

// Get retrieves a cursor. A user that has never synced a stream gets a
// zero-valued cursor rather than an error.
func (r *CursorRepository) Get(ctx context.Context, userID int64, stream string) (*model.DeltaCursor, error) {
	const query = `
		SELECT user_id, stream, last_synced_at, client_type, last_active_at
		FROM delta_cursors
		WHERE user_id = $1 AND stream = $2
	`

	var c model.DeltaCursor
	err := r.pool.QueryRow(ctx, query, userID, stream).Scan(
		&c.UserID,
		&c.Stream,
		&c.LastSyncedAt,
		&c.ClientType,
		&c.LastActiveAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.DeltaCursor{UserID: userID, Stream: stream}, nil
		}
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	return &c, nil
}

// Advance commits cursor progress after a client acknowledged delivery.
// Monotonic: an older timestamp never moves the cursor backward.
func (r *CursorRepository) Advance(ctx context.Context, userID int64, stream string, to time.Time, clientType string) (*model.DeltaCursor, error) {
	const query = `
		INSERT INTO delta_cursors (user_id, stream, last_synced_at, client_type, last_active_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, stream)
		DO UPDATE SET
			last_synced_at = GREATEST(delta_cursors.last_synced_at, $3),
			client_type = $4,
			last_active_at = NOW()
		RETURNING user_id, stream, last_synced_at, client_type, last_active_at
	`

	var c model.DeltaCursor
	err := r.pool.QueryRow(ctx, query, userID, stream, to, clientType).Scan(
		&c.UserID,
		&c.Stream,
		&c.LastSyncedAt,
		&c.ClientType,
		&c.LastActiveAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to advance cursor: %w", err)
	}

	return &c, nil
}

// TouchActive records poll activity without moving the sync marker.
func (r *CursorRepository) TouchActive(ctx context.Context, userID int64, stream string) error {
	const query = `
		UPDATE delta_cursors
		SET last_active_at = NOW()
		WHERE user_id = $1 AND stream = $2
	`

	if _, err := r.pool.Exec(ctx, query, userID, stream); err != nil {
		return fmt.Errorf("failed to touch cursor: %w", err)
	}

	return nil
}
