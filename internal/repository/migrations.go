package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Migrate applies the database schema. Statements are idempotent so the
// service can run them on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "activity_categories",
			sql: `
				CREATE TABLE IF NOT EXISTS activity_categories (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					rating_enabled BOOLEAN NOT NULL DEFAULT TRUE,
					starting_score INT NOT NULL DEFAULT 1200,
					min_participants INT NOT NULL DEFAULT 2,
					allow_draws BOOLEAN NOT NULL DEFAULT TRUE,
					draw_only BOOLEAN NOT NULL DEFAULT FALSE,
					k_new INT NOT NULL DEFAULT 40,
					k_established INT NOT NULL DEFAULT 32,
					k_expert INT NOT NULL DEFAULT 24,
					new_games_threshold INT NOT NULL DEFAULT 10,
					established_games_threshold INT NOT NULL DEFAULT 50,
					skill_midpoint DOUBLE PRECISION NOT NULL DEFAULT 5.0,
					skill_bonus_cap INT NOT NULL DEFAULT 10,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			name: "activities",
			sql: `
				CREATE TABLE IF NOT EXISTS activities (
					id BIGSERIAL PRIMARY KEY,
					category_id BIGINT NOT NULL REFERENCES activity_categories(id),
					creator_id BIGINT NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'open',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					completed_at TIMESTAMPTZ
				);
				CREATE INDEX IF NOT EXISTS idx_activities_category ON activities(category_id);
			`,
		},
		{
			name: "activity_participants",
			sql: `
				CREATE TABLE IF NOT EXISTS activity_participants (
					activity_id BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'invited',
					team INT,
					PRIMARY KEY (activity_id, user_id)
				);
			`,
		},
		{
			name: "activity_results",
			sql: `
				CREATE TABLE IF NOT EXISTS activity_results (
					activity_id BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL,
					result VARCHAR(10) NOT NULL,
					note TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (activity_id, user_id)
				);
			`,
		},
		{
			name: "skill_ratings",
			sql: `
				CREATE TABLE IF NOT EXISTS skill_ratings (
					activity_id BIGINT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
					rater_id BIGINT NOT NULL,
					ratee_id BIGINT NOT NULL,
					score INT NOT NULL CHECK (score BETWEEN 0 AND 10),
					PRIMARY KEY (activity_id, rater_id, ratee_id)
				);
			`,
		},
		{
			name: "rating_records",
			sql: `
				CREATE TABLE IF NOT EXISTS rating_records (
					user_id BIGINT NOT NULL,
					category_id BIGINT NOT NULL REFERENCES activity_categories(id),
					score INT NOT NULL CHECK (score >= 0),
					peak_score INT NOT NULL,
					games_played INT NOT NULL DEFAULT 0,
					volatility INT NOT NULL,
					version BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, category_id)
				);
			`,
		},
		{
			name: "activity_processing",
			sql: `
				CREATE TABLE IF NOT EXISTS activity_processing (
					activity_id BIGINT PRIMARY KEY REFERENCES activities(id) ON DELETE CASCADE,
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					lock_holder VARCHAR(64),
					locked_at TIMESTAMPTZ,
					completed_at TIMESTAMPTZ,
					error_message TEXT,
					retry_count INT NOT NULL DEFAULT 0
				);
				CREATE INDEX IF NOT EXISTS idx_processing_status ON activity_processing(status, locked_at);
			`,
		},
		{
			name: "change_log",
			sql: `
				CREATE TABLE IF NOT EXISTS change_log (
					id BIGSERIAL PRIMARY KEY,
					entity_type VARCHAR(50) NOT NULL,
					entity_id BIGINT NOT NULL,
					change_kind VARCHAR(10) NOT NULL,
					user_id BIGINT NOT NULL,
					related_id BIGINT,
					prev_data JSONB,
					new_data JSONB,
					actor_id BIGINT NOT NULL,
					source VARCHAR(20) NOT NULL DEFAULT 'user_action',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_change_log_user_time ON change_log(user_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_change_log_related ON change_log(related_id) WHERE related_id IS NOT NULL;
			`,
		},
		{
			name: "delta_cursors",
			sql: `
				CREATE TABLE IF NOT EXISTS delta_cursors (
					user_id BIGINT NOT NULL,
					stream VARCHAR(50) NOT NULL,
					last_synced_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
					client_type VARCHAR(50) NOT NULL DEFAULT '',
					last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, stream)
				);
			`,
		},
		{
			name: "daily_change_summaries",
			sql: `
				CREATE TABLE IF NOT EXISTS daily_change_summaries (
					user_id BIGINT NOT NULL,
					day DATE NOT NULL,
					entity_type VARCHAR(50) NOT NULL,
					change_count INT NOT NULL,
					PRIMARY KEY (user_id, day, entity_type)
				);
			`,
		},
	}

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		log.Debug().Str("migration", m.name).Msg("Migration applied")
	}

	log.Info().Int("count", len(migrations)).Msg("All migrations completed")
	return nil
}
