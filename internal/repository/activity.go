package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"activity-tracker/internal/model"
)

// ActivityRepository handles activities, their participants, submitted
// results, and peer skill ratings.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository creates a new ActivityRepository instance.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// GetByID retrieves an activity. Returns ErrActivityNotFound if it does
// not exist.
func (r *ActivityRepository) GetByID(ctx context.Context, activityID int64) (*model.Activity, error) {
	const query = `
		SELECT id, category_id, creator_id, status, created_at, completed_at
		FROM activities
		WHERE id = $1
	`

	var a model.Activity
	err := r.pool.QueryRow(ctx, query, activityID).Scan(
		&a.ID,
		&a.CategoryID,
		&a.CreatorID,
		&a.Status,
		&a.CreatedAt,
		&a.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}

	return &a, nil
}

// GetCategory retrieves a category with its rating configuration.
func (r *ActivityRepository) GetCategory(ctx context.Context, categoryID int64) (*model.Category, error) {
	const query = `
		SELECT id, name, rating_enabled, starting_score, min_participants,
			allow_draws, draw_only, k_new, k_established, k_expert,
			new_games_threshold, established_games_threshold,
			skill_midpoint, skill_bonus_cap, created_at
		FROM activity_categories
		WHERE id = $1
	`

	var c model.Category
	err := r.pool.QueryRow(ctx, query, categoryID).Scan(
		&c.ID,
		&c.Name,
		&c.RatingEnabled,
		&c.StartingScore,
		&c.MinParticipants,
		&c.AllowDraws,
		&c.DrawOnly,
		&c.KNew,
		&c.KEstablished,
		&c.KExpert,
		&c.NewGamesThreshold,
		&c.EstabGamesThreshold,
		&c.SkillMidpoint,
		&c.SkillBonusCap,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}

	return &c, nil
}

// GetAcceptedParticipants retrieves the accepted participants of an
// activity in a stable order.
func (r *ActivityRepository) GetAcceptedParticipants(ctx context.Context, activityID int64) ([]*model.Participant, error) {
	const query = `
		SELECT activity_id, user_id, status, team
		FROM activity_participants
		WHERE activity_id = $1 AND status = $2
		ORDER BY user_id
	`

	rows, err := r.pool.Query(ctx, query, activityID, model.ParticipantStatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ActivityID, &p.UserID, &p.Status, &p.Team); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}

	return participants, nil
}

// SaveResults upserts the per-participant results. Re-submission before
// completion overwrites; the coordinator never calls this after an activity
// is marked completed.
func (r *ActivityRepository) SaveResults(ctx context.Context, activityID int64, results []*model.ActivityResult) error {
	const query = `
		INSERT INTO activity_results (activity_id, user_id, result, note, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (activity_id, user_id)
		DO UPDATE SET result = $3, note = $4, created_at = NOW()
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin results transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, res := range results {
		if _, err := tx.Exec(ctx, query, activityID, res.UserID, res.Result, res.Note); err != nil {
			return fmt.Errorf("failed to save result for user %d: %w", res.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}

	return nil
}

// GetResults retrieves the stored per-participant results for an activity.
func (r *ActivityRepository) GetResults(ctx context.Context, activityID int64) ([]*model.ActivityResult, error) {
	const query = `
		SELECT activity_id, user_id, result, note, created_at
		FROM activity_results
		WHERE activity_id = $1
		ORDER BY user_id
	`

	rows, err := r.pool.Query(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}
	defer rows.Close()

	var results []*model.ActivityResult
	for rows.Next() {
		var res model.ActivityResult
		if err := rows.Scan(&res.ActivityID, &res.UserID, &res.Result, &res.Note, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// MarkCompleted transitions an open activity to completed. Returns
// ErrActivityNotFound if the activity is missing or already completed.
func (r *ActivityRepository) MarkCompleted(ctx context.Context, activityID int64) error {
	const query = `
		UPDATE activities
		SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status = $3
	`

	tag, err := r.pool.Exec(ctx, query, activityID, model.ActivityStatusCompleted, model.ActivityStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to mark activity completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrActivityNotFound
	}

	return nil
}

// GetSkillRatings retrieves the peer skill ratings submitted during an
// activity, grouped by the rated participant.
func (r *ActivityRepository) GetSkillRatings(ctx context.Context, activityID int64) (map[int64][]int, error) {
	const query = `
		SELECT ratee_id, score
		FROM skill_ratings
		WHERE activity_id = $1
		ORDER BY ratee_id, rater_id
	`

	rows, err := r.pool.Query(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get skill ratings: %w", err)
	}
	defer rows.Close()

	skills := make(map[int64][]int)
	for rows.Next() {
		var rateeID int64
		var score int
		if err := rows.Scan(&rateeID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan skill rating: %w", err)
		}
		skills[rateeID] = append(skills[rateeID], score)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating skill ratings: %w", err)
	}

	return skills, nil
}

// SaveSkillRating records one peer skill rating. A rater can revise their
// assessment before completion.
func (r *ActivityRepository) SaveSkillRating(ctx context.Context, sr *model.SkillRating) error {
	const query = `
		INSERT INTO skill_ratings (activity_id, rater_id, ratee_id, score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (activity_id, rater_id, ratee_id)
		DO UPDATE SET score = $4
	`

	if _, err := r.pool.Exec(ctx, query, sr.ActivityID, sr.RaterID, sr.RateeID, sr.Score); err != nil {
		return fmt.Errorf("failed to save skill rating: %w", err)
	}

	return nil
}
