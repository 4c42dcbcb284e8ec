package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"activity-tracker/internal/model"
)

// ChangeLogRepository handles the append-only change log. Entries are never
// mutated; retention pruning after compaction is the only deletion path.
type ChangeLogRepository struct {
	pool *pgxpool.Pool
}

// NewChangeLogRepository creates a new ChangeLogRepository instance.
func NewChangeLogRepository(pool *pgxpool.Pool) *ChangeLogRepository {
	return &ChangeLogRepository{pool: pool}
}

// Append stores one change entry and returns it with its assigned id and
// timestamp.
func (r *ChangeLogRepository) Append(ctx context.Context, e *model.ChangeLogEntry) (*model.ChangeLogEntry, error) {
	const query = `
		INSERT INTO change_log
			(entity_type, entity_id, change_kind, user_id, related_id,
			 prev_data, new_data, actor_id, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id, created_at
	`

	stored := *e
	err := r.pool.QueryRow(ctx, query,
		e.EntityType, e.EntityID, e.ChangeKind, e.UserID, e.RelatedID,
		e.PrevData, e.NewData, e.ActorID, e.Source,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append change entry: %w", err)
	}

	return &stored, nil
}

// GetChangesSince retrieves a user's change entries with timestamp strictly
// greater than the cursor, oldest first, capped at limit. A full page is
// extended with any further entries sharing the last timestamp: the cursor
// carries only a timestamp, so splitting such a group would let the next
// resume skip its remainder. entityTypes narrows the result when non-empty.
func (r *ChangeLogRepository) GetChangesSince(ctx context.Context, userID int64, cursor time.Time, entityTypes []string, limit int) ([]*model.ChangeLogEntry, error) {
	const pageQuery = `
		SELECT id, entity_type, entity_id, change_kind, user_id, related_id,
			prev_data, new_data, actor_id, source, created_at
		FROM change_log
		WHERE user_id = $1
		  AND created_at > $2
		  AND (cardinality($3::text[]) = 0 OR entity_type = ANY($3))
		ORDER BY created_at, id
		LIMIT $4
	`
	const tieQuery = `
		SELECT id, entity_type, entity_id, change_kind, user_id, related_id,
			prev_data, new_data, actor_id, source, created_at
		FROM change_log
		WHERE user_id = $1
		  AND created_at = $2
		  AND id > $3
		  AND (cardinality($4::text[]) = 0 OR entity_type = ANY($4))
		ORDER BY id
	`
	if entityTypes == nil {
		entityTypes = []string{}
	}

	entries, err := r.queryChanges(ctx, pageQuery, userID, cursor, entityTypes, limit)
	if err != nil {
		return nil, err
	}

	if len(entries) == limit {
		last := entries[len(entries)-1]
		tail, err := r.queryChanges(ctx, tieQuery, userID, last.CreatedAt, last.ID, entityTypes)
		if err != nil {
			return nil, err
		}
		entries = append(entries, tail...)
	}

	return entries, nil
}

func (r *ChangeLogRepository) queryChanges(ctx context.Context, query string, args ...any) ([]*model.ChangeLogEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get changes: %w", err)
	}
	defer rows.Close()

	var entries []*model.ChangeLogEntry
	for rows.Next() {
		var e model.ChangeLogEntry
		err := rows.Scan(
			&e.ID,
			&e.EntityType,
			&e.EntityID,
			&e.ChangeKind,
			&e.UserID,
			&e.RelatedID,
			&e.PrevData,
			&e.NewData,
			&e.ActorID,
			&e.Source,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}

	return entries, nil
}

// CountForActivity returns the number of change entries tied to one
// activity for a given entity type. Used by tests and operational checks.
func (r *ChangeLogRepository) CountForActivity(ctx context.Context, activityID int64, entityType string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM change_log
		WHERE related_id = $1 AND entity_type = $2
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, activityID, entityType).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activity changes: %w", err)
	}

	return count, nil
}

// SummarizeBefore rolls entries older than the cutoff into per-user,
// per-day, per-entity-type counts. Summaries for a past day are written
// once and never recomputed, so conflicting rows are left untouched.
func (r *ChangeLogRepository) SummarizeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		INSERT INTO daily_change_summaries (user_id, day, entity_type, change_count)
		SELECT user_id, DATE(created_at), entity_type, COUNT(*)
		FROM change_log
		WHERE created_at < $1
		GROUP BY user_id, DATE(created_at), entity_type
		ON CONFLICT (user_id, day, entity_type) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to summarize changes: %w", err)
	}

	return tag.RowsAffected(), nil
}

// PruneBefore deletes raw entries older than the cutoff. Callers must
// summarize first.
func (r *ChangeLogRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM change_log WHERE created_at < $1`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune changes: %w", err)
	}

	return tag.RowsAffected(), nil
}

// GetDailySummaries retrieves a user's compacted history, newest day first.
func (r *ChangeLogRepository) GetDailySummaries(ctx context.Context, userID int64, limit int) ([]*model.DailySummary, error) {
	const query = `
		SELECT user_id, day, entity_type, change_count
		FROM daily_change_summaries
		WHERE user_id = $1
		ORDER BY day DESC, entity_type
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*model.DailySummary
	for rows.Next() {
		var s model.DailySummary
		if err := rows.Scan(&s.UserID, &s.Day, &s.EntityType, &s.ChangeCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		summaries = append(summaries, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily summaries: %w", err)
	}

	return summaries, nil
}
