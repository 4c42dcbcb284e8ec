// Package rating implements the Elo score calculation for completed
// activities. The engine is pure: given participants, prior ratings,
// results, and optional peer skill ratings it produces rating changes
// without touching any store.
package rating

import (
	"errors"
	"fmt"
	"math"

	"activity-tracker/internal/model"
)

// Engine errors.
var (
	ErrNoParticipants = errors.New("no participants")
	ErrMissingResult  = errors.New("participant has no result")
	ErrUnknownResult  = errors.New("unknown result kind")
	ErrMissingPrior   = errors.New("participant has no prior rating")
	ErrSingleSide     = errors.New("all participants on the same side")
)

// Rating points awarded per skill point above the category midpoint.
const skillPointsPerUnit = 2

// Config carries the per-category rating parameters.
type Config struct {
	StartingScore       int
	KNew                int
	KEstablished        int
	KExpert             int
	NewGamesThreshold   int
	EstabGamesThreshold int
	SkillMidpoint       float64
	SkillBonusCap       int
	VolatilityStep      int
	VolatilityFloor     int
}

// Participant identifies one activity member. Team is nil for
// free-for-all play.
type Participant struct {
	UserID int64
	Team   *int
}

// Prior is the rating state a participant entered the activity with.
// Seeded marks a record created lazily at the category starting score.
type Prior struct {
	Score       int
	PeakScore   int
	GamesPlayed int
	Volatility  int
	Version     int64
	Seeded      bool
}

// Change is the engine's output for one participant. BaseDelta and
// SkillBonus are reported separately so downstream logs can show both.
type Change struct {
	UserID          int64
	OldScore        int
	NewScore        int
	BaseDelta       int
	SkillBonus      int
	NewPeak         int
	NewGamesPlayed  int
	NewVolatility   int
	ExpectedVersion int64
	Seeded          bool
}

// SeedPrior builds the prior for a participant with no rating record yet.
func SeedPrior(cfg Config, volatilityStart int) Prior {
	return Prior{
		Score:       cfg.StartingScore,
		PeakScore:   cfg.StartingScore,
		GamesPlayed: 0,
		Volatility:  volatilityStart,
		Version:     0,
		Seeded:      true,
	}
}

// Calculate computes rating changes for all participants of one activity.
// priors must contain an entry for every participant (seeded where needed);
// results must contain exactly one result per participant; skills maps a
// participant to the peer skill scores submitted for them, if any.
func Calculate(
	cfg Config,
	participants []Participant,
	results map[int64]string,
	priors map[int64]Prior,
	skills map[int64][]int,
) ([]Change, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	for _, p := range participants {
		r, ok := results[p.UserID]
		if !ok {
			return nil, fmt.Errorf("%w: user %d", ErrMissingResult, p.UserID)
		}
		if _, err := actualScore(r); err != nil {
			return nil, err
		}
		if _, ok := priors[p.UserID]; !ok {
			return nil, fmt.Errorf("%w: user %d", ErrMissingPrior, p.UserID)
		}
	}

	changes := make([]Change, 0, len(participants))
	for _, p := range participants {
		prior := priors[p.UserID]
		actual, _ := actualScore(results[p.UserID])

		opponent, err := opponentRating(p, participants, priors)
		if err != nil {
			return nil, err
		}

		own := float64(prior.Score)
		if p.Team != nil {
			own = sideAverage(p, participants, priors)
		}

		expected := expectedScore(own, opponent)
		k := kFactor(cfg, prior.GamesPlayed)
		baseDelta := int(math.Round(float64(k) * (actual - expected)))
		bonus := skillBonus(cfg, skills[p.UserID])

		newScore := prior.Score + baseDelta + bonus
		if newScore < 0 {
			newScore = 0
		}

		newPeak := prior.PeakScore
		if newScore > newPeak {
			newPeak = newScore
		}

		newVolatility := prior.Volatility - cfg.VolatilityStep
		if newVolatility < cfg.VolatilityFloor {
			newVolatility = cfg.VolatilityFloor
		}

		changes = append(changes, Change{
			UserID:          p.UserID,
			OldScore:        prior.Score,
			NewScore:        newScore,
			BaseDelta:       baseDelta,
			SkillBonus:      bonus,
			NewPeak:         newPeak,
			NewGamesPlayed:  prior.GamesPlayed + 1,
			NewVolatility:   newVolatility,
			ExpectedVersion: prior.Version,
			Seeded:          prior.Seeded,
		})
	}

	return changes, nil
}

// expectedScore is the classic Elo win probability of a player against an
// opponent (or opposing team aggregate) rating.
func expectedScore(player, opponent float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (opponent-player)/400.0))
}

// actualScore maps a result kind to its Elo score value.
func actualScore(result string) (float64, error) {
	switch result {
	case model.ResultWin:
		return 1.0, nil
	case model.ResultLoss:
		return 0.0, nil
	case model.ResultDraw:
		return 0.5, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownResult, result)
	}
}

// kFactor selects the K tier for a participant's experience level.
func kFactor(cfg Config, gamesPlayed int) int {
	switch {
	case gamesPlayed < cfg.NewGamesThreshold:
		return cfg.KNew
	case gamesPlayed < cfg.EstabGamesThreshold:
		return cfg.KEstablished
	default:
		return cfg.KExpert
	}
}

// opponentRating computes the aggregate rating a participant is measured
// against: the average rating of everyone not on their side. For team play
// the side is the participant's team; otherwise every other participant is
// an opponent.
func opponentRating(p Participant, participants []Participant, priors map[int64]Prior) (float64, error) {
	var sum float64
	var count int
	for _, other := range participants {
		if other.UserID == p.UserID {
			continue
		}
		if p.Team != nil && other.Team != nil && *p.Team == *other.Team {
			continue
		}
		sum += float64(priors[other.UserID].Score)
		count++
	}
	if count == 0 {
		return 0, ErrSingleSide
	}
	return sum / float64(count), nil
}

// sideAverage is the average rating of the participant's own team,
// the participant included. Team expected scores are computed from this
// aggregate, so every member of a side shares the same expected score
// and, within a K tier, the same base delta.
func sideAverage(p Participant, participants []Participant, priors map[int64]Prior) float64 {
	var sum float64
	var count int
	for _, other := range participants {
		if other.Team != nil && *other.Team == *p.Team {
			sum += float64(priors[other.UserID].Score)
			count++
		}
	}
	return sum / float64(count)
}

// skillBonus converts peer skill ratings into a bounded rating adjustment
// proportional to how far the average sits from the category midpoint.
// Returns 0 when no skill ratings were submitted.
func skillBonus(cfg Config, scores []int) int {
	if len(scores) == 0 {
		return 0
	}

	var sum int
	for _, s := range scores {
		sum += s
	}
	avg := float64(sum) / float64(len(scores))

	bonus := int(math.Round((avg - cfg.SkillMidpoint) * skillPointsPerUnit))
	if bonus > cfg.SkillBonusCap {
		bonus = cfg.SkillBonusCap
	}
	if bonus < -cfg.SkillBonusCap {
		bonus = -cfg.SkillBonusCap
	}
	return bonus
}
