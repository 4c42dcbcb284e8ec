// Package repository tests run against a real PostgreSQL instance via
// testcontainers-go. They are skipped when Docker is unavailable.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"activity-tracker/internal/model"
	"activity-tracker/internal/rating"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = Migrate(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// seedCategory inserts a rating-enabled category and returns its id.
func seedCategory(t *testing.T, pool *pgxpool.Pool) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO activity_categories (name) VALUES ('tennis') RETURNING id
	`).Scan(&id)
	require.NoError(t, err)
	return id
}

// seedActivity inserts an open activity with two accepted participants.
func seedActivity(t *testing.T, pool *pgxpool.Pool, categoryID int64) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO activities (category_id, creator_id) VALUES ($1, 1) RETURNING id
	`, categoryID).Scan(&id)
	require.NoError(t, err)

	for _, userID := range []int64{1, 2} {
		_, err = pool.Exec(ctx, `
			INSERT INTO activity_participants (activity_id, user_id, status)
			VALUES ($1, $2, 'accepted')
		`, id, userID)
		require.NoError(t, err)
	}
	return id
}

// ============================================================================
// RatingRepository Tests
// ============================================================================

func TestRatingRepository_ApplyChanges(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRatingRepository(pool)
	ctx := context.Background()
	categoryID := seedCategory(t, pool)

	// Seed a record for a first-time participant.
	err := repo.ApplyChanges(ctx, categoryID, []rating.Change{
		{UserID: 1, NewScore: 1208, NewPeak: 1208, NewGamesPlayed: 1, NewVolatility: 98, ExpectedVersion: 0, Seeded: true},
	})
	require.NoError(t, err)

	rec, err := repo.Get(ctx, 1, categoryID)
	require.NoError(t, err)
	assert.Equal(t, 1208, rec.Score)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, 1, rec.GamesPlayed)

	// Update with the matching version.
	err = repo.ApplyChanges(ctx, categoryID, []rating.Change{
		{UserID: 1, NewScore: 1216, NewPeak: 1216, NewGamesPlayed: 2, NewVolatility: 96, ExpectedVersion: 1},
	})
	require.NoError(t, err)

	rec, err = repo.Get(ctx, 1, categoryID)
	require.NoError(t, err)
	assert.Equal(t, 1216, rec.Score)
	assert.Equal(t, int64(2), rec.Version)
}

func TestRatingRepository_VersionConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRatingRepository(pool)
	ctx := context.Background()
	categoryID := seedCategory(t, pool)

	err := repo.ApplyChanges(ctx, categoryID, []rating.Change{
		{UserID: 1, NewScore: 1208, NewPeak: 1208, NewGamesPlayed: 1, NewVolatility: 98, Seeded: true},
	})
	require.NoError(t, err)

	// Stale version aborts and applies nothing.
	err = repo.ApplyChanges(ctx, categoryID, []rating.Change{
		{UserID: 1, NewScore: 9999, NewPeak: 9999, NewGamesPlayed: 2, NewVolatility: 96, ExpectedVersion: 0},
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	rec, err := repo.Get(ctx, 1, categoryID)
	require.NoError(t, err)
	assert.Equal(t, 1208, rec.Score)
	assert.Equal(t, int64(1), rec.Version)
}

func TestRatingRepository_ConflictRollsBackBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRatingRepository(pool)
	ctx := context.Background()
	categoryID := seedCategory(t, pool)

	err := repo.ApplyChanges(ctx, categoryID, []rating.Change{
		{UserID: 1, NewScore: 1200, NewPeak: 1200, NewGamesPlayed: 1, NewVolatility: 98, Seeded: true},
		{UserID: 2, NewScore: 1200, NewPeak: 1200, NewGamesPlayed: 1, NewVolatility: 98, Seeded: true},
	})
	require.NoError(t, err)

	// Second change in the batch conflicts; the first must not stick.
	err = repo.ApplyChanges(ctx, categoryID, []rating.Change{
		{UserID: 1, NewScore: 1210, NewPeak: 1210, NewGamesPlayed: 2, NewVolatility: 96, ExpectedVersion: 1},
		{UserID: 2, NewScore: 1190, NewPeak: 1200, NewGamesPlayed: 2, NewVolatility: 96, ExpectedVersion: 7},
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	rec, err := repo.Get(ctx, 1, categoryID)
	require.NoError(t, err)
	assert.Equal(t, 1200, rec.Score)
	assert.Equal(t, int64(1), rec.Version)
}

func TestRatingRepository_GetForUsers(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRatingRepository(pool)
	ctx := context.Background()
	categoryID := seedCategory(t, pool)

	err := repo.ApplyChanges(ctx, categoryID, []rating.Change{
		{UserID: 1, NewScore: 1300, NewPeak: 1300, NewGamesPlayed: 5, NewVolatility: 90, Seeded: true},
	})
	require.NoError(t, err)

	// User 2 has no record yet; the map simply omits them.
	records, err := repo.GetForUsers(ctx, categoryID, []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1300, records[1].Score)
}

// ============================================================================
// ProcessingRepository Tests
// ============================================================================

func TestProcessingRepository_AcquireLock(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProcessingRepository(pool)
	ctx := context.Background()
	activityID := seedActivity(t, pool, seedCategory(t, pool))

	err := repo.AcquireLock(ctx, activityID, "holder-a", 10*time.Minute)
	require.NoError(t, err)

	// A second holder is rejected while the lock is fresh.
	err = repo.AcquireLock(ctx, activityID, "holder-b", 10*time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	owns, err := repo.OwnsLock(ctx, activityID, "holder-a")
	require.NoError(t, err)
	assert.True(t, owns)

	owns, err = repo.OwnsLock(ctx, activityID, "holder-b")
	require.NoError(t, err)
	assert.False(t, owns)
}

func TestProcessingRepository_StaleLockReclaim(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProcessingRepository(pool)
	ctx := context.Background()
	activityID := seedActivity(t, pool, seedCategory(t, pool))

	require.NoError(t, repo.AcquireLock(ctx, activityID, "holder-a", 10*time.Minute))

	// Age the lock past the staleness threshold.
	_, err := pool.Exec(ctx, `
		UPDATE activity_processing SET locked_at = NOW() - INTERVAL '20 minutes'
		WHERE activity_id = $1
	`, activityID)
	require.NoError(t, err)

	err = repo.AcquireLock(ctx, activityID, "holder-b", 10*time.Minute)
	require.NoError(t, err)

	// The original holder lost ownership and cannot complete.
	owns, err := repo.OwnsLock(ctx, activityID, "holder-a")
	require.NoError(t, err)
	assert.False(t, owns)

	err = repo.ReleaseCompleted(ctx, activityID, "holder-a")
	assert.ErrorIs(t, err, ErrLockLost)

	require.NoError(t, repo.ReleaseCompleted(ctx, activityID, "holder-b"))
}

func TestProcessingRepository_CompletedIsTerminal(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProcessingRepository(pool)
	ctx := context.Background()
	activityID := seedActivity(t, pool, seedCategory(t, pool))

	require.NoError(t, repo.AcquireLock(ctx, activityID, "holder-a", 10*time.Minute))
	require.NoError(t, repo.ReleaseCompleted(ctx, activityID, "holder-a"))

	err := repo.AcquireLock(ctx, activityID, "holder-b", 10*time.Minute)
	assert.ErrorIs(t, err, ErrNotRetriable)

	ps, err := repo.Get(ctx, activityID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingCompleted, ps.Status)
	assert.NotNil(t, ps.CompletedAt)
}

func TestProcessingRepository_ReleaseFailedRetryBudget(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProcessingRepository(pool)
	ctx := context.Background()
	activityID := seedActivity(t, pool, seedCategory(t, pool))

	// Two failures leave the row pending and retryable.
	for i := 1; i <= 2; i++ {
		holder := "holder"
		require.NoError(t, repo.AcquireLock(ctx, activityID, holder, 10*time.Minute))
		status, err := repo.ReleaseFailed(ctx, activityID, holder, "calculation failed", 3)
		require.NoError(t, err)
		assert.Equal(t, model.ProcessingPending, status)

		ps, err := repo.Get(ctx, activityID)
		require.NoError(t, err)
		assert.Equal(t, i, ps.RetryCount)
	}

	// The third failure exhausts the budget.
	require.NoError(t, repo.AcquireLock(ctx, activityID, "holder", 10*time.Minute))
	status, err := repo.ReleaseFailed(ctx, activityID, "holder", "calculation failed", 3)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingError, status)

	err = repo.AcquireLock(ctx, activityID, "holder", 10*time.Minute)
	assert.ErrorIs(t, err, ErrNotRetriable)

	// Manual reset puts it back in play with a fresh budget.
	require.NoError(t, repo.ResetForRetry(ctx, activityID))
	ps, err := repo.Get(ctx, activityID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingPending, ps.Status)
	assert.Equal(t, 0, ps.RetryCount)
}

func TestProcessingRepository_ResetForRetryRequiresError(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProcessingRepository(pool)
	ctx := context.Background()
	activityID := seedActivity(t, pool, seedCategory(t, pool))

	err := repo.ResetForRetry(ctx, activityID)
	assert.ErrorIs(t, err, ErrStatusNotFound)

	require.NoError(t, repo.AcquireLock(ctx, activityID, "holder", 10*time.Minute))
	err = repo.ResetForRetry(ctx, activityID)
	assert.ErrorIs(t, err, ErrNotRetriable)
}

func TestProcessingRepository_SweepStale(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProcessingRepository(pool)
	ctx := context.Background()
	categoryID := seedCategory(t, pool)
	stale := seedActivity(t, pool, categoryID)
	fresh := seedActivity(t, pool, categoryID)

	require.NoError(t, repo.AcquireLock(ctx, stale, "dead", 10*time.Minute))
	require.NoError(t, repo.AcquireLock(ctx, fresh, "live", 10*time.Minute))

	_, err := pool.Exec(ctx, `
		UPDATE activity_processing SET locked_at = NOW() - INTERVAL '20 minutes'
		WHERE activity_id = $1
	`, stale)
	require.NoError(t, err)

	swept, err := repo.SweepStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []int64{stale}, swept)

	ps, err := repo.Get(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingPending, ps.Status)
}

func TestProcessingRepository_GetRetryableBackoff(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProcessingRepository(pool)
	ctx := context.Background()
	activityID := seedActivity(t, pool, seedCategory(t, pool))

	require.NoError(t, repo.AcquireLock(ctx, activityID, "holder", 10*time.Minute))
	_, err := repo.ReleaseFailed(ctx, activityID, "holder", "boom", 3)
	require.NoError(t, err)

	// Two seconds of backoff at retry_count=1 means not yet due.
	ids, err := repo.GetRetryable(ctx, 2*time.Second, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Age the last attempt beyond the backoff window.
	_, err = pool.Exec(ctx, `
		UPDATE activity_processing SET locked_at = NOW() - INTERVAL '1 minute'
		WHERE activity_id = $1
	`, activityID)
	require.NoError(t, err)

	ids, err = repo.GetRetryable(ctx, 2*time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{activityID}, ids)
}

// ============================================================================
// ActivityRepository Tests
// ============================================================================

func TestActivityRepository_ResultsRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewActivityRepository(pool)
	ctx := context.Background()
	activityID := seedActivity(t, pool, seedCategory(t, pool))

	note := "great match"
	err := repo.SaveResults(ctx, activityID, []*model.ActivityResult{
		{ActivityID: activityID, UserID: 1, Result: model.ResultWin, Note: &note},
		{ActivityID: activityID, UserID: 2, Result: model.ResultLoss},
	})
	require.NoError(t, err)

	// Saving again overwrites rather than duplicating.
	err = repo.SaveResults(ctx, activityID, []*model.ActivityResult{
		{ActivityID: activityID, UserID: 1, Result: model.ResultWin},
		{ActivityID: activityID, UserID: 2, Result: model.ResultLoss},
	})
	require.NoError(t, err)

	results, err := repo.GetResults(ctx, activityID)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestActivityRepository_MarkCompleted(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewActivityRepository(pool)
	ctx := context.Background()
	activityID := seedActivity(t, pool, seedCategory(t, pool))

	require.NoError(t, repo.MarkCompleted(ctx, activityID))

	activity, err := repo.GetByID(ctx, activityID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityStatusCompleted, activity.Status)
	assert.NotNil(t, activity.CompletedAt)

	// A second transition finds no open row.
	err = repo.MarkCompleted(ctx, activityID)
	assert.ErrorIs(t, err, ErrActivityNotFound)
}

func TestActivityRepository_SkillRatings(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewActivityRepository(pool)
	ctx := context.Background()
	activityID := seedActivity(t, pool, seedCategory(t, pool))

	for _, sr := range []*model.SkillRating{
		{ActivityID: activityID, RaterID: 1, RateeID: 2, Score: 8},
		{ActivityID: activityID, RaterID: 2, RateeID: 1, Score: 6},
	} {
		require.NoError(t, repo.SaveSkillRating(ctx, sr))
	}

	// Re-rating replaces the prior score.
	require.NoError(t, repo.SaveSkillRating(ctx, &model.SkillRating{
		ActivityID: activityID, RaterID: 1, RateeID: 2, Score: 9,
	}))

	skills, err := repo.GetSkillRatings(ctx, activityID)
	require.NoError(t, err)
	assert.Equal(t, []int{9}, skills[2])
	assert.Equal(t, []int{6}, skills[1])
}

// ============================================================================
// ChangeLogRepository Tests
// ============================================================================

func appendEntry(t *testing.T, repo *ChangeLogRepository, userID int64, entityType string) *model.ChangeLogEntry {
	t.Helper()
	stored, err := repo.Append(context.Background(), &model.ChangeLogEntry{
		EntityType: entityType,
		EntityID:   1,
		ChangeKind: model.ChangeUpdate,
		UserID:     userID,
		ActorID:    userID,
		Source:     model.SourceSystem,
	})
	require.NoError(t, err)
	return stored
}

func TestChangeLogRepository_AppendAndRead(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChangeLogRepository(pool)
	ctx := context.Background()

	first := appendEntry(t, repo, 1, model.EntityRating)
	appendEntry(t, repo, 1, model.EntityActivity)
	appendEntry(t, repo, 2, model.EntityRating)

	assert.NotZero(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	entries, err := repo.GetChangesSince(ctx, 1, time.Time{}, nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].CreatedAt.Before(entries[i-1].CreatedAt))
	}

	// Entries at or before the cursor are excluded.
	entries, err = repo.GetChangesSince(ctx, 1, entries[0].CreatedAt, nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntityActivity, entries[0].EntityType)
}

func TestChangeLogRepository_EntityTypeFilter(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChangeLogRepository(pool)
	ctx := context.Background()

	appendEntry(t, repo, 1, model.EntityRating)
	appendEntry(t, repo, 1, model.EntityActivity)
	appendEntry(t, repo, 1, model.EntityMessage)

	entries, err := repo.GetChangesSince(ctx, 1, time.Time{}, []string{model.EntityRating}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntityRating, entries[0].EntityType)
}

func TestChangeLogRepository_SharedTimestampPage(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChangeLogRepository(pool)
	ctx := context.Background()

	// Three entries at one instant, one later. Inserted directly so the
	// shared created_at is exact.
	for i := 0; i < 3; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO change_log (entity_type, entity_id, change_kind, user_id, actor_id, source, created_at)
			VALUES ('rating', 1, 'update', 1, 1, 'system', TIMESTAMPTZ '2025-06-01 12:00:00+00')
		`)
		require.NoError(t, err)
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO change_log (entity_type, entity_id, change_kind, user_id, actor_id, source, created_at)
		VALUES ('rating', 1, 'update', 1, 1, 'system', TIMESTAMPTZ '2025-06-01 12:00:01+00')
	`)
	require.NoError(t, err)

	// A limit of 2 lands inside the shared instant, so the page carries
	// the whole group and a timestamp cursor resumes without a gap.
	entries, err := repo.GetChangesSince(ctx, 1, time.Time{}, nil, 2)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	rest, err := repo.GetChangesSince(ctx, 1, entries[len(entries)-1].CreatedAt, nil, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}

func TestChangeLogRepository_Compaction(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChangeLogRepository(pool)
	ctx := context.Background()

	// Old entries inserted directly so created_at predates the cutoff.
	for i := 0; i < 3; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO change_log (entity_type, entity_id, change_kind, user_id, actor_id, source, created_at)
			VALUES ('rating', 1, 'update', 1, 1, 'system', NOW() - INTERVAL '40 days')
		`)
		require.NoError(t, err)
	}
	appendEntry(t, repo, 1, model.EntityRating)

	cutoff := time.Now().AddDate(0, 0, -30)
	summarized, err := repo.SummarizeBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.NotZero(t, summarized)

	// Re-summarizing the same window writes nothing new.
	again, err := repo.SummarizeBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, again)

	pruned, err := repo.PruneBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pruned)

	entries, err := repo.GetChangesSince(ctx, 1, time.Time{}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	summaries, err := repo.GetDailySummaries(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].ChangeCount)
	assert.Equal(t, model.EntityRating, summaries[0].EntityType)
}

// ============================================================================
// CursorRepository Tests
// ============================================================================

func TestCursorRepository_GetDefault(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCursorRepository(pool)
	cursor, err := repo.Get(context.Background(), 1, "changes")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor.UserID)
	assert.True(t, cursor.LastSyncedAt.Before(time.Now().AddDate(-1, 0, 0)))
}

func TestCursorRepository_AdvanceMonotonic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCursorRepository(pool)
	ctx := context.Background()

	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	cursor, err := repo.Advance(ctx, 1, "changes", t2, "mobile")
	require.NoError(t, err)
	assert.True(t, cursor.LastSyncedAt.Equal(t2))

	// An out-of-order acknowledgement cannot move the cursor backward.
	cursor, err = repo.Advance(ctx, 1, "changes", t1, "mobile")
	require.NoError(t, err)
	assert.True(t, cursor.LastSyncedAt.Equal(t2))

	stored, err := repo.Get(ctx, 1, "changes")
	require.NoError(t, err)
	assert.True(t, stored.LastSyncedAt.Equal(t2))
}

func TestCursorRepository_TouchActive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCursorRepository(pool)
	ctx := context.Background()

	// A touch with no cursor row is a harmless no-op.
	require.NoError(t, repo.TouchActive(ctx, 1, "changes"))

	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := repo.Advance(ctx, 1, "changes", t1, "mobile")
	require.NoError(t, err)

	before, err := repo.Get(ctx, 1, "changes")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.TouchActive(ctx, 1, "changes"))

	after, err := repo.Get(ctx, 1, "changes")
	require.NoError(t, err)
	assert.True(t, after.LastActiveAt.After(before.LastActiveAt))
	assert.True(t, after.LastSyncedAt.Equal(before.LastSyncedAt))
}
