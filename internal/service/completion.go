// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"activity-tracker/internal/model"
	"activity-tracker/internal/rating"
	"activity-tracker/internal/repository"
)

// Completion errors. Validation errors are reported synchronously and never
// reach the lock or state machine.
var (
	ErrActivityNotFound   = errors.New("activity not found")
	ErrAlreadyCompleted   = errors.New("activity already completed")
	ErrAlreadyProcessing  = errors.New("activity completion already in progress")
	ErrNotAuthorized      = errors.New("actor is not the creator or an accepted participant")
	ErrResultMismatch     = errors.New("results do not match accepted participants")
	ErrDuplicateResult    = errors.New("duplicate result for participant")
	ErrInvalidResult      = errors.New("invalid result kind")
	ErrDrawsNotAllowed    = errors.New("draws are not allowed in this category")
	ErrMixedDraws         = errors.New("draws and decisive results cannot be mixed")
	ErrNoWinner           = errors.New("at least one winner is required")
	ErrDecisiveNotAllowed = errors.New("only draws are allowed in a draw-only category")
	ErrNotRetriable       = errors.New("activity is not in a retriable state")
)

// ResultInput is one participant's submitted outcome.
type ResultInput struct {
	UserID int64   `json:"user_id" validate:"required"`
	Result string  `json:"result" validate:"required,oneof=win loss draw"`
	Note   *string `json:"note,omitempty" validate:"omitempty,max=500"`
}

// ParticipantChange is the caller-facing view of one rating change.
type ParticipantChange struct {
	UserID     int64 `json:"user_id"`
	OldScore   int   `json:"old_score"`
	NewScore   int   `json:"new_score"`
	BaseDelta  int   `json:"base_delta"`
	SkillBonus int   `json:"skill_bonus"`
}

// Outcome is the structured result of a completion attempt. An ineligible
// activity completes successfully with RatingApplied=false and a reason.
type Outcome struct {
	ActivityID    int64               `json:"activity_id"`
	RatingApplied bool                `json:"rating_applied"`
	Reason        string              `json:"reason,omitempty"`
	Changes       []ParticipantChange `json:"changes,omitempty"`
}

// ActivityStore is the coordinator's view of activity persistence.
type ActivityStore interface {
	GetByID(ctx context.Context, activityID int64) (*model.Activity, error)
	GetCategory(ctx context.Context, categoryID int64) (*model.Category, error)
	GetAcceptedParticipants(ctx context.Context, activityID int64) ([]*model.Participant, error)
	GetResults(ctx context.Context, activityID int64) ([]*model.ActivityResult, error)
	SaveResults(ctx context.Context, activityID int64, results []*model.ActivityResult) error
	MarkCompleted(ctx context.Context, activityID int64) error
	GetSkillRatings(ctx context.Context, activityID int64) (map[int64][]int, error)
}

// RatingStore is the coordinator's view of rating persistence.
type RatingStore interface {
	GetForUsers(ctx context.Context, categoryID int64, userIDs []int64) (map[int64]*model.RatingRecord, error)
	ApplyChanges(ctx context.Context, categoryID int64, changes []rating.Change) error
}

// ProcessingStore drives the persisted completion state machine.
type ProcessingStore interface {
	Get(ctx context.Context, activityID int64) (*model.ProcessingStatus, error)
	AcquireLock(ctx context.Context, activityID int64, holder string, staleness time.Duration) error
	OwnsLock(ctx context.Context, activityID int64, holder string) (bool, error)
	ReleaseCompleted(ctx context.Context, activityID int64, holder string) error
	ReleaseFailed(ctx context.Context, activityID int64, holder, message string, maxRetries int) (string, error)
	ResetForRetry(ctx context.Context, activityID int64) error
}

// InflightGuard is the in-process duplicate suppression check. Advisory
// only; the database lock row is authoritative across processes.
type InflightGuard interface {
	TryAcquire(activityID int64) bool
	Release(activityID int64)
}

// ChangeLogger records mutations for delta sync, out of band.
type ChangeLogger interface {
	Log(ctx context.Context, e *model.ChangeLogEntry) error
}

// CompletionConfig holds the coordinator's tunables. The rating fields
// are fallbacks for categories that carry no starting score of their own
// and the volatility schedule applied to every category.
type CompletionConfig struct {
	LockStaleness   time.Duration
	MaxRetries      int
	StartingScore   int
	VolatilityStart int
	VolatilityStep  int
	VolatilityFloor int
}

// CompletionService coordinates activity completion: validation, locking,
// result persistence, rating calculation, transactional application, and
// change log writes.
type CompletionService struct {
	activities ActivityStore
	ratings    RatingStore
	processing ProcessingStore
	guard      InflightGuard
	changes    ChangeLogger
	cfg        CompletionConfig
}

// NewCompletionService creates a new CompletionService instance.
func NewCompletionService(
	activities ActivityStore,
	ratings RatingStore,
	processing ProcessingStore,
	guard InflightGuard,
	changes ChangeLogger,
	cfg CompletionConfig,
) *CompletionService {
	if cfg.LockStaleness <= 0 {
		cfg.LockStaleness = 10 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StartingScore <= 0 {
		cfg.StartingScore = 1200
	}
	if cfg.VolatilityStart <= 0 {
		cfg.VolatilityStart = 100
	}
	if cfg.VolatilityStep <= 0 {
		cfg.VolatilityStep = 2
	}
	if cfg.VolatilityFloor <= 0 {
		cfg.VolatilityFloor = 20
	}
	return &CompletionService{
		activities: activities,
		ratings:    ratings,
		processing: processing,
		guard:      guard,
		changes:    changes,
		cfg:        cfg,
	}
}

// CompleteActivity validates and processes an activity's final results.
// Exactly one concurrent caller per activity id can succeed; the rest get
// ErrAlreadyProcessing.
func (s *CompletionService) CompleteActivity(ctx context.Context, activityID int64, results []ResultInput, actorID int64) (*Outcome, error) {
	if !s.guard.TryAcquire(activityID) {
		return nil, ErrAlreadyProcessing
	}
	defer s.guard.Release(activityID)

	activity, participants, category, err := s.loadContext(ctx, activityID)
	if err != nil {
		return nil, err
	}

	if err := s.validate(activity, participants, category, results, actorID); err != nil {
		return nil, err
	}

	stored := make([]*model.ActivityResult, 0, len(results))
	for _, in := range results {
		stored = append(stored, &model.ActivityResult{
			ActivityID: activityID,
			UserID:     in.UserID,
			Result:     in.Result,
			Note:       in.Note,
		})
	}

	return s.runLocked(ctx, activity, participants, category, stored, actorID)
}

// RetryActivity performs the explicit manual error -> pending transition
// and reprocesses the activity using its stored results.
func (s *CompletionService) RetryActivity(ctx context.Context, activityID int64) (*Outcome, error) {
	if err := s.processing.ResetForRetry(ctx, activityID); err != nil {
		if errors.Is(err, repository.ErrNotRetriable) || errors.Is(err, repository.ErrStatusNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotRetriable, err)
		}
		return nil, err
	}
	return s.Reprocess(ctx, activityID)
}

// Reprocess re-runs the locked processing sequence for an activity whose
// results are already persisted. Used by manual retry and the background
// retry loop; system-triggered, so no actor validation.
func (s *CompletionService) Reprocess(ctx context.Context, activityID int64) (*Outcome, error) {
	if !s.guard.TryAcquire(activityID) {
		return nil, ErrAlreadyProcessing
	}
	defer s.guard.Release(activityID)

	activity, participants, category, err := s.loadContext(ctx, activityID)
	if err != nil {
		return nil, err
	}

	stored, err := s.activities.GetResults(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: no stored results", ErrNotRetriable)
	}

	return s.runLocked(ctx, activity, participants, category, stored, activity.CreatorID)
}

// GetStatus exposes the processing state machine for operators.
func (s *CompletionService) GetStatus(ctx context.Context, activityID int64) (*model.ProcessingStatus, error) {
	ps, err := s.processing.Get(ctx, activityID)
	if err != nil {
		if errors.Is(err, repository.ErrStatusNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, err
	}
	return ps, nil
}

// loadContext fetches the activity, accepted participants, and category.
// A missing category is not an error here; it makes the activity
// rating-ineligible later.
func (s *CompletionService) loadContext(ctx context.Context, activityID int64) (*model.Activity, []*model.Participant, *model.Category, error) {
	activity, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		if errors.Is(err, repository.ErrActivityNotFound) {
			return nil, nil, nil, ErrActivityNotFound
		}
		return nil, nil, nil, err
	}

	participants, err := s.activities.GetAcceptedParticipants(ctx, activityID)
	if err != nil {
		return nil, nil, nil, err
	}

	category, err := s.activities.GetCategory(ctx, activity.CategoryID)
	if err != nil && !errors.Is(err, repository.ErrRecordNotFound) {
		return nil, nil, nil, err
	}

	if activity.Status == model.ActivityStatusCompleted {
		ps, psErr := s.processing.Get(ctx, activityID)
		if psErr != nil || ps.Status == model.ProcessingCompleted {
			return activity, participants, category, ErrAlreadyCompleted
		}
		// Completed activity row with a non-terminal processing row: a
		// previous attempt died mid-flight and may be reprocessed.
	}

	return activity, participants, category, nil
}

// validate enforces the completion preconditions. No state is mutated on
// any validation failure.
func (s *CompletionService) validate(activity *model.Activity, participants []*model.Participant, category *model.Category, results []ResultInput, actorID int64) error {
	accepted := make(map[int64]bool, len(participants))
	for _, p := range participants {
		accepted[p.UserID] = true
	}

	if actorID != activity.CreatorID && !accepted[actorID] {
		return ErrNotAuthorized
	}

	seen := make(map[int64]bool, len(results))
	var draws, wins, decisive int
	for _, in := range results {
		if !accepted[in.UserID] {
			return fmt.Errorf("%w: user %d is not an accepted participant", ErrResultMismatch, in.UserID)
		}
		if seen[in.UserID] {
			return fmt.Errorf("%w: user %d", ErrDuplicateResult, in.UserID)
		}
		seen[in.UserID] = true

		switch in.Result {
		case model.ResultWin:
			wins++
			decisive++
		case model.ResultLoss:
			decisive++
		case model.ResultDraw:
			draws++
		default:
			return fmt.Errorf("%w: %q", ErrInvalidResult, in.Result)
		}
	}

	if len(results) != len(participants) {
		return fmt.Errorf("%w: %d results for %d accepted participants", ErrResultMismatch, len(results), len(participants))
	}

	if draws > 0 && decisive > 0 {
		return ErrMixedDraws
	}
	if category != nil {
		if draws > 0 && !category.AllowDraws {
			return ErrDrawsNotAllowed
		}
		if category.DrawOnly && decisive > 0 {
			return ErrDecisiveNotAllowed
		}
		if !category.DrawOnly && draws == 0 && wins == 0 {
			return ErrNoWinner
		}
	} else if draws == 0 && wins == 0 {
		return ErrNoWinner
	}

	return nil
}

// runLocked acquires the database lock and executes the processing
// sequence, mapping failures into the retry state machine.
func (s *CompletionService) runLocked(ctx context.Context, activity *model.Activity, participants []*model.Participant, category *model.Category, results []*model.ActivityResult, actorID int64) (*Outcome, error) {
	holder := uuid.NewString()

	if err := s.processing.AcquireLock(ctx, activity.ID, holder, s.cfg.LockStaleness); err != nil {
		switch {
		case errors.Is(err, repository.ErrLockHeld):
			return nil, ErrAlreadyProcessing
		case errors.Is(err, repository.ErrNotRetriable):
			return nil, ErrAlreadyCompleted
		default:
			return nil, err
		}
	}

	outcome, procErr := s.process(ctx, activity, participants, category, results, actorID, holder)
	if procErr != nil {
		status, relErr := s.processing.ReleaseFailed(ctx, activity.ID, holder, procErr.Error(), s.cfg.MaxRetries)
		if relErr != nil {
			log.Error().Err(relErr).Int64("activity_id", activity.ID).Msg("Failed to record processing failure")
		} else {
			log.Warn().
				Err(procErr).
				Int64("activity_id", activity.ID).
				Str("next_status", status).
				Msg("Activity completion failed")
		}
		return nil, fmt.Errorf("activity %d completion failed: %w", activity.ID, procErr)
	}

	if err := s.processing.ReleaseCompleted(ctx, activity.ID, holder); err != nil {
		// The lock was reclaimed while we worked; the other holder owns
		// the terminal transition now. The rating commit already checked
		// ownership, so nothing was double-applied.
		return nil, fmt.Errorf("activity %d: %w", activity.ID, err)
	}

	return outcome, nil
}

// process is the locked section: persist results, complete the activity,
// check eligibility, run the engine, apply ratings, and write change
// entries.
func (s *CompletionService) process(ctx context.Context, activity *model.Activity, participants []*model.Participant, category *model.Category, results []*model.ActivityResult, actorID int64, holder string) (*Outcome, error) {
	if err := s.activities.SaveResults(ctx, activity.ID, results); err != nil {
		return nil, err
	}

	if err := s.activities.MarkCompleted(ctx, activity.ID); err != nil {
		// Already completed by a previous attempt of this same flow.
		if !errors.Is(err, repository.ErrActivityNotFound) {
			return nil, err
		}
	}

	outcome := &Outcome{ActivityID: activity.ID}

	if reason := s.ineligibilityReason(category, participants); reason != "" {
		outcome.Reason = reason
		s.logActivityCompleted(ctx, activity, participants, actorID)
		log.Info().
			Int64("activity_id", activity.ID).
			Str("reason", reason).
			Msg("Activity completed without rating changes")
		return outcome, nil
	}

	changes, priors, err := s.calculate(ctx, activity, participants, category, results)
	if err != nil {
		return nil, err
	}

	// A reclaimed lock holder finishing late must not commit.
	owns, err := s.processing.OwnsLock(ctx, activity.ID, holder)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, repository.ErrLockLost
	}

	if err := s.ratings.ApplyChanges(ctx, activity.CategoryID, changes); err != nil {
		return nil, err
	}

	outcome.RatingApplied = true
	for _, c := range changes {
		outcome.Changes = append(outcome.Changes, ParticipantChange{
			UserID:     c.UserID,
			OldScore:   c.OldScore,
			NewScore:   c.NewScore,
			BaseDelta:  c.BaseDelta,
			SkillBonus: c.SkillBonus,
		})
	}

	s.logActivityCompleted(ctx, activity, participants, actorID)
	s.logRatingChanges(ctx, activity, changes, priors, actorID)

	log.Info().
		Int64("activity_id", activity.ID).
		Int("participants", len(participants)).
		Msg("Activity completed with rating changes")

	return outcome, nil
}

// ineligibilityReason returns a human-readable reason when the activity is
// not rating-eligible, or "" when ratings apply. Ineligibility is a
// successful no-op, not an error.
func (s *CompletionService) ineligibilityReason(category *model.Category, participants []*model.Participant) string {
	if category == nil {
		return "category has no rating configuration"
	}
	if !category.RatingEnabled {
		return "category is not rating-enabled"
	}
	required := category.MinParticipants
	if required < 2 {
		required = 2
	}
	if len(participants) < required {
		return fmt.Sprintf("requires at least %d participants, got %d", required, len(participants))
	}
	return ""
}

// calculate gathers priors and skill ratings and invokes the engine. The
// prior records are returned alongside the changes for change-log
// snapshots.
func (s *CompletionService) calculate(ctx context.Context, activity *model.Activity, participants []*model.Participant, category *model.Category, results []*model.ActivityResult) ([]rating.Change, map[int64]*model.RatingRecord, error) {
	startingScore := category.StartingScore
	if startingScore <= 0 {
		startingScore = s.cfg.StartingScore
	}
	engineCfg := rating.Config{
		StartingScore:       startingScore,
		KNew:                category.KNew,
		KEstablished:        category.KEstablished,
		KExpert:             category.KExpert,
		NewGamesThreshold:   category.NewGamesThreshold,
		EstabGamesThreshold: category.EstabGamesThreshold,
		SkillMidpoint:       category.SkillMidpoint,
		SkillBonusCap:       category.SkillBonusCap,
		VolatilityStep:      s.cfg.VolatilityStep,
		VolatilityFloor:     s.cfg.VolatilityFloor,
	}

	records, err := s.ratings.GetForUsers(ctx, activity.CategoryID, userIDs(participants))
	if err != nil {
		return nil, nil, err
	}

	engineParticipants := make([]rating.Participant, 0, len(participants))
	priors := make(map[int64]rating.Prior, len(participants))
	for _, p := range participants {
		engineParticipants = append(engineParticipants, rating.Participant{UserID: p.UserID, Team: p.Team})
		if rec, ok := records[p.UserID]; ok {
			priors[p.UserID] = rating.Prior{
				Score:       rec.Score,
				PeakScore:   rec.PeakScore,
				GamesPlayed: rec.GamesPlayed,
				Volatility:  rec.Volatility,
				Version:     rec.Version,
			}
		} else {
			priors[p.UserID] = rating.SeedPrior(engineCfg, s.cfg.VolatilityStart)
		}
	}

	resultMap := make(map[int64]string, len(results))
	for _, r := range results {
		resultMap[r.UserID] = r.Result
	}

	skills, err := s.activities.GetSkillRatings(ctx, activity.ID)
	if err != nil {
		return nil, nil, err
	}

	changes, err := rating.Calculate(engineCfg, engineParticipants, resultMap, priors, skills)
	if err != nil {
		return nil, nil, err
	}

	return changes, records, nil
}

// logActivityCompleted writes the activity state transition for every
// accepted participant's delta stream.
func (s *CompletionService) logActivityCompleted(ctx context.Context, activity *model.Activity, participants []*model.Participant, actorID int64) {
	prev, _ := model.MarshalPayload(&model.ActivityPayload{
		Status:     model.ActivityStatusOpen,
		CategoryID: activity.CategoryID,
	})
	now := time.Now()
	next, _ := model.MarshalPayload(&model.ActivityPayload{
		Status:      model.ActivityStatusCompleted,
		CategoryID:  activity.CategoryID,
		CompletedAt: &now,
	})

	for _, p := range participants {
		entry := &model.ChangeLogEntry{
			EntityType: model.EntityActivity,
			EntityID:   activity.ID,
			ChangeKind: model.ChangeUpdate,
			UserID:     p.UserID,
			PrevData:   prev,
			NewData:    next,
			ActorID:    actorID,
			Source:     model.SourceUserAction,
		}
		_ = s.changes.Log(ctx, entry)
	}
}

// logRatingChanges writes one change entry per rating mutation, carrying
// the base delta and skill bonus separately for auditing.
func (s *CompletionService) logRatingChanges(ctx context.Context, activity *model.Activity, changes []rating.Change, priors map[int64]*model.RatingRecord, actorID int64) {
	for _, c := range changes {
		kind := model.ChangeUpdate
		var prev []byte
		if c.Seeded {
			kind = model.ChangeCreate
		} else if rec, ok := priors[c.UserID]; ok {
			prev, _ = model.MarshalPayload(&model.RatingPayload{
				Score:       rec.Score,
				PeakScore:   rec.PeakScore,
				GamesPlayed: rec.GamesPlayed,
				Volatility:  rec.Volatility,
				Version:     rec.Version,
			})
		}

		next, _ := model.MarshalPayload(&model.RatingPayload{
			Score:       c.NewScore,
			PeakScore:   c.NewPeak,
			GamesPlayed: c.NewGamesPlayed,
			Volatility:  c.NewVolatility,
			Version:     c.ExpectedVersion + 1,
			BaseDelta:   c.BaseDelta,
			SkillBonus:  c.SkillBonus,
		})

		activityID := activity.ID
		entry := &model.ChangeLogEntry{
			EntityType: model.EntityRating,
			EntityID:   c.UserID,
			ChangeKind: kind,
			UserID:     c.UserID,
			RelatedID:  &activityID,
			PrevData:   prev,
			NewData:    next,
			ActorID:    actorID,
			Source:     model.SourceSystem,
		}
		_ = s.changes.Log(ctx, entry)
	}
}

func userIDs(participants []*model.Participant) []int64 {
	ids := make([]int64, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	return ids
}
