// Package model defines the data models for the activity tracking service.
package model

import "time"

// Activity status values.
const (
	ActivityStatusOpen      = "open"
	ActivityStatusCompleted = "completed"
)

// Participant status values.
const (
	ParticipantStatusInvited  = "invited"
	ParticipantStatusAccepted = "accepted"
	ParticipantStatusDeclined = "declined"
)

// Result kinds for activity results.
const (
	ResultWin  = "win"
	ResultLoss = "loss"
	ResultDraw = "draw"
)

// Processing states for the activity completion state machine.
const (
	ProcessingPending     = "pending"
	ProcessingCalculating = "calculating"
	ProcessingCompleted   = "completed"
	ProcessingError       = "error"
)

// Category represents an activity category and its rating configuration.
// Rating parameters are per-category so K tiers and draw rules are never
// hard-coded in the engine.
type Category struct {
	ID                  int64     `db:"id"`
	Name                string    `db:"name"`
	RatingEnabled       bool      `db:"rating_enabled"`
	StartingScore       int       `db:"starting_score"`
	MinParticipants     int       `db:"min_participants"`
	AllowDraws          bool      `db:"allow_draws"`
	DrawOnly            bool      `db:"draw_only"`
	KNew                int       `db:"k_new"`
	KEstablished        int       `db:"k_established"`
	KExpert             int       `db:"k_expert"`
	NewGamesThreshold   int       `db:"new_games_threshold"`
	EstabGamesThreshold int       `db:"established_games_threshold"`
	SkillMidpoint       float64   `db:"skill_midpoint"`
	SkillBonusCap       int       `db:"skill_bonus_cap"`
	CreatedAt           time.Time `db:"created_at"`
}

// Activity represents a group activity.
type Activity struct {
	ID          int64      `db:"id"`
	CategoryID  int64      `db:"category_id"`
	CreatorID   int64      `db:"creator_id"`
	Status      string     `db:"status"`
	CreatedAt   time.Time  `db:"created_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// Participant represents a user's membership in an activity.
// Team is nil for free-for-all activities.
type Participant struct {
	ActivityID int64  `db:"activity_id"`
	UserID     int64  `db:"user_id"`
	Status     string `db:"status"`
	Team       *int   `db:"team"`
}

// ActivityResult is one participant's final outcome for an activity.
// Re-submission before completion overwrites; after completion it is frozen.
type ActivityResult struct {
	ActivityID int64     `db:"activity_id"`
	UserID     int64     `db:"user_id"`
	Result     string    `db:"result"`
	Note       *string   `db:"note"`
	CreatedAt  time.Time `db:"created_at"`
}

// SkillRating is a peer-submitted skill assessment recorded during an
// activity, consumed by the rating engine's bonus computation.
type SkillRating struct {
	ActivityID int64 `db:"activity_id"`
	RaterID    int64 `db:"rater_id"`
	RateeID    int64 `db:"ratee_id"`
	Score      int   `db:"score"`
}

// RatingRecord is a user's persisted rating for one category.
// Version increments by exactly 1 on every successful write; writes are
// conditioned on the version read when the change was computed.
type RatingRecord struct {
	UserID      int64     `db:"user_id"`
	CategoryID  int64     `db:"category_id"`
	Score       int       `db:"score"`
	PeakScore   int       `db:"peak_score"`
	GamesPlayed int       `db:"games_played"`
	Volatility  int       `db:"volatility"`
	Version     int64     `db:"version"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// ProcessingStatus tracks the completion state machine for one activity.
type ProcessingStatus struct {
	ActivityID   int64      `db:"activity_id"`
	Status       string     `db:"status"`
	LockHolder   *string    `db:"lock_holder"`
	LockedAt     *time.Time `db:"locked_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	ErrorMessage *string    `db:"error_message"`
	RetryCount   int        `db:"retry_count"`
}

// DeltaCursor marks how far a client has synced one change stream.
// LastSyncedAt only ever moves forward.
type DeltaCursor struct {
	UserID       int64     `db:"user_id"`
	Stream       string    `db:"stream"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	ClientType   string    `db:"client_type"`
	LastActiveAt time.Time `db:"last_active_at"`
}

// DailySummary is a compacted per-user, per-day count of pruned change
// entries. Written once per past day, never recomputed.
type DailySummary struct {
	UserID      int64     `db:"user_id"`
	Day         time.Time `db:"day"`
	EntityType  string    `db:"entity_type"`
	ChangeCount int       `db:"change_count"`
}
