// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"activity-tracker/internal/model"
	"activity-tracker/internal/rating"
)

// Common errors for repository operations.
var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrVersionConflict  = errors.New("rating version conflict")
	ErrActivityNotFound = errors.New("activity not found")
)

// RatingRepository handles rating record persistence with optimistic
// versioning. Records are created lazily on first participation and never
// deleted.
type RatingRepository struct {
	pool *pgxpool.Pool
}

// NewRatingRepository creates a new RatingRepository instance.
func NewRatingRepository(pool *pgxpool.Pool) *RatingRepository {
	return &RatingRepository{pool: pool}
}

// Get retrieves one rating record. Returns ErrRecordNotFound if the user
// has never participated in the category.
func (r *RatingRepository) Get(ctx context.Context, userID, categoryID int64) (*model.RatingRecord, error) {
	const query = `
		SELECT user_id, category_id, score, peak_score, games_played, volatility, version, updated_at
		FROM rating_records
		WHERE user_id = $1 AND category_id = $2
	`

	var rec model.RatingRecord
	err := r.pool.QueryRow(ctx, query, userID, categoryID).Scan(
		&rec.UserID,
		&rec.CategoryID,
		&rec.Score,
		&rec.PeakScore,
		&rec.GamesPlayed,
		&rec.Volatility,
		&rec.Version,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get rating record: %w", err)
	}

	return &rec, nil
}

// GetForUsers retrieves the rating records a set of users holds in one
// category. Users without a record are simply absent from the result; the
// caller seeds them at the category starting score.
func (r *RatingRepository) GetForUsers(ctx context.Context, categoryID int64, userIDs []int64) (map[int64]*model.RatingRecord, error) {
	const query = `
		SELECT user_id, category_id, score, peak_score, games_played, volatility, version, updated_at
		FROM rating_records
		WHERE category_id = $1 AND user_id = ANY($2)
	`

	rows, err := r.pool.Query(ctx, query, categoryID, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get rating records: %w", err)
	}
	defer rows.Close()

	records := make(map[int64]*model.RatingRecord, len(userIDs))
	for rows.Next() {
		var rec model.RatingRecord
		err := rows.Scan(
			&rec.UserID,
			&rec.CategoryID,
			&rec.Score,
			&rec.PeakScore,
			&rec.GamesPlayed,
			&rec.Volatility,
			&rec.Version,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rating record: %w", err)
		}
		records[rec.UserID] = &rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rating records: %w", err)
	}

	return records, nil
}

// ApplyChanges applies one activity's rating changes as a single atomic
// unit. Every update is conditioned on the version read when the change was
// computed; any mismatch aborts the whole transaction with
// ErrVersionConflict so the coordinator can retry.
func (r *RatingRepository) ApplyChanges(ctx context.Context, categoryID int64, changes []rating.Change) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rating transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertQuery = `
		INSERT INTO rating_records
			(user_id, category_id, score, peak_score, games_played, volatility, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, NOW())
		ON CONFLICT (user_id, category_id) DO NOTHING
	`
	const updateQuery = `
		UPDATE rating_records
		SET score = $3, peak_score = $4, games_played = $5, volatility = $6,
			version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND category_id = $2 AND version = $7
	`

	for _, c := range changes {
		if c.Seeded {
			// First participation: the record materializes at version 1.
			// A concurrent seeder winning the insert means our computed
			// change is stale.
			tag, err := tx.Exec(ctx, insertQuery,
				c.UserID, categoryID, c.NewScore, c.NewPeak, c.NewGamesPlayed, c.NewVolatility)
			if err != nil {
				return fmt.Errorf("failed to seed rating record: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: user %d seeded concurrently", ErrVersionConflict, c.UserID)
			}
			continue
		}

		tag, err := tx.Exec(ctx, updateQuery,
			c.UserID, categoryID, c.NewScore, c.NewPeak, c.NewGamesPlayed, c.NewVolatility,
			c.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update rating record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: user %d expected version %d", ErrVersionConflict, c.UserID, c.ExpectedVersion)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rating transaction: %w", err)
	}

	return nil
}
