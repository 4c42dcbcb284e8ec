package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"activity-tracker/internal/model"
)

// Sync errors.
var (
	ErrInvalidLimit = errors.New("invalid limit")
)

// DeltaStream is the default change stream name. Clients that want
// independent progress per surface can use their own stream names.
const DeltaStream = "changes"

// ChangeLogStore is the sync service's read/compact view of the change log.
type ChangeLogStore interface {
	GetChangesSince(ctx context.Context, userID int64, cursor time.Time, entityTypes []string, limit int) ([]*model.ChangeLogEntry, error)
	SummarizeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	GetDailySummaries(ctx context.Context, userID int64, limit int) ([]*model.DailySummary, error)
}

// CursorStore persists per-user, per-stream sync markers.
type CursorStore interface {
	Get(ctx context.Context, userID int64, stream string) (*model.DeltaCursor, error)
	Advance(ctx context.Context, userID int64, stream string, to time.Time, clientType string) (*model.DeltaCursor, error)
	TouchActive(ctx context.Context, userID int64, stream string) error
}

// DeltaBatch is one poll's worth of changes. NewCursor is the timestamp of
// the last entry, or the input cursor when nothing changed; the client
// acknowledges it to commit progress (at-least-once delivery).
type DeltaBatch struct {
	Entries   []*model.ChangeLogEntry `json:"entries"`
	NewCursor time.Time               `json:"new_cursor"`
	HasMore   bool                    `json:"has_more"`
}

// SyncConfig holds delta sync tunables.
type SyncConfig struct {
	DefaultLimit  int
	MaxLimit      int
	RetentionDays int
}

// SyncService answers "what changed for user U since cursor C", advances
// cursors on acknowledgement, and compacts old history into daily
// summaries.
type SyncService struct {
	changes ChangeLogStore
	cursors CursorStore
	cfg     SyncConfig
}

// NewSyncService creates a new SyncService instance.
func NewSyncService(changes ChangeLogStore, cursors CursorStore, cfg SyncConfig) *SyncService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 200
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &SyncService{changes: changes, cursors: cursors, cfg: cfg}
}

// GetChangesSince returns entries strictly after the cursor, oldest first,
// capped at limit. The cap stretches only to keep entries sharing one
// timestamp in the same batch. Reading never advances the stored cursor;
// delivery is
// committed separately via AcknowledgeCursor, so a client that crashes
// before acknowledging re-reads the same entries.
func (s *SyncService) GetChangesSince(ctx context.Context, userID int64, cursor time.Time, entityTypes []string, limit int) (*DeltaBatch, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	entries, err := s.changes.GetChangesSince(ctx, userID, cursor, entityTypes, limit)
	if err != nil {
		return nil, err
	}

	batch := &DeltaBatch{
		Entries:   entries,
		NewCursor: cursor,
		HasMore:   len(entries) >= limit,
	}
	if len(entries) > 0 {
		batch.NewCursor = entries[len(entries)-1].CreatedAt
	}

	if err := s.cursors.TouchActive(ctx, userID, DeltaStream); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to record poll activity")
	}

	return batch, nil
}

// AcknowledgeCursor commits cursor progress after the client delivered a
// batch. Monotonic: an out-of-order acknowledgement never moves the cursor
// backward.
func (s *SyncService) AcknowledgeCursor(ctx context.Context, userID int64, to time.Time, clientType string) (*model.DeltaCursor, error) {
	return s.cursors.Advance(ctx, userID, DeltaStream, to, clientType)
}

// GetCursor retrieves a user's current sync position.
func (s *SyncService) GetCursor(ctx context.Context, userID int64) (*model.DeltaCursor, error) {
	return s.cursors.Get(ctx, userID, DeltaStream)
}

// GetDailySummaries retrieves a user's compacted history.
func (s *SyncService) GetDailySummaries(ctx context.Context, userID int64, limit int) ([]*model.DailySummary, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	return s.changes.GetDailySummaries(ctx, userID, limit)
}

// Compact rolls entries older than the retention window into daily
// summaries and prunes the raw rows. Summaries for a past day are written
// once and never recomputed.
func (s *SyncService) Compact(ctx context.Context) error {
	// The cutoff sits on a UTC day boundary so a day is rolled up in
	// full or not at all; a partial count can never shadow the rest of
	// its day on a later run.
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays).Truncate(24 * time.Hour)

	summarized, err := s.changes.SummarizeBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	pruned, err := s.changes.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	if summarized > 0 || pruned > 0 {
		log.Info().
			Int64("summaries", summarized).
			Int64("pruned", pruned).
			Time("cutoff", cutoff).
			Msg("Change log compacted")
	}

	return nil
}
