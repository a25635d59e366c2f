package policy

import (
	"math"

	"github.com/flashdeck/recall-go/pkg/fsrs"
)

// ShortLoopConfig tunes the same-day short loop.
type ShortLoopConfig struct {
	// MinGapSeconds and MaxGapSeconds bound the adaptive re-insertion
	// gap. Defaults: 30 and 3600.
	MinGapSeconds int
	MaxGapSeconds int

	// FatigueThreshold is the fatigue score at or above which further
	// same-day repetitions are deferred. Default: 0.7.
	FatigueThreshold float64

	// ReviewCapLight, ReviewCapDefault and ReviewCapIntensive cap how
	// many times one card is reviewed per day in each study mode.
	// Defaults: 3, 5, 8.
	ReviewCapLight     int
	ReviewCapDefault   int
	ReviewCapIntensive int
}

// CardContext is what the short loop needs to know about the card
// under review.
type CardContext struct {
	// UserID and CardID identify the card.
	UserID string
	CardID string

	// HasLongTermStability is true when the card has graduated before
	// and carries an active long-term memory state.
	HasLongTermStability bool

	// Important marks cards the learner flagged as must-know; they are
	// held in the loop longer and re-inserted sooner.
	Important bool

	// Difficulty is the card's long-term difficulty in [1, 10], or 0
	// when unknown (never graduated).
	Difficulty float64
}

// ShortLoop decides, after each rating on a learning-phase card,
// whether to re-insert it later today, defer it to its model schedule,
// or force graduation to the long-term model.
type ShortLoop struct {
	cfg ShortLoopConfig
}

// NewShortLoop creates a short-loop policy, filling zero configuration
// fields with defaults.
func NewShortLoop(cfg *ShortLoopConfig) *ShortLoop {
	c := ShortLoopConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.MinGapSeconds <= 0 {
		c.MinGapSeconds = 30
	}
	if c.MaxGapSeconds <= 0 {
		c.MaxGapSeconds = 3600
	}
	if c.FatigueThreshold <= 0 {
		c.FatigueThreshold = 0.7
	}
	if c.ReviewCapLight <= 0 {
		c.ReviewCapLight = 3
	}
	if c.ReviewCapDefault <= 0 {
		c.ReviewCapDefault = 5
	}
	if c.ReviewCapIntensive <= 0 {
		c.ReviewCapIntensive = 8
	}
	return &ShortLoop{cfg: c}
}

// reviewCap returns the per-day per-card review cap for a study mode.
func (p *ShortLoop) reviewCap(mode StudyMode) int {
	switch mode {
	case ModeLight:
		return p.cfg.ReviewCapLight
	case ModeIntensive:
		return p.cfg.ReviewCapIntensive
	default:
		return p.cfg.ReviewCapDefault
	}
}

// Evaluate runs the short-loop decision table for one graded review.
//
// The rules fire in order:
//  1. feature disabled: graduate, no counter update
//  2. graduated, unimportant card rated Good or better: graduate
//  3. day's review count at the mode cap: defer
//  4. fatigued with at least 2 reviews already today: defer
//  5. rating Good or better after a prior success today: graduate
//  6. otherwise: re-insert today with the adaptive gap
//
// The returned DayState carries the updated counters; persisting them
// (in the same transaction as the review) is the caller's job. When
// the feature is disabled the input counters are returned unchanged.
func (p *ShortLoop) Evaluate(card *CardContext, rating fsrs.Rating, session *SessionContext, day DayState, mode StudyMode, enabled bool) (*Decision, DayState) {
	if !enabled {
		return &Decision{Action: ActionGraduate, Reason: "feature_disabled"}, day
	}

	fatigue := FatigueScore(session)
	updated := day
	updated.ReviewsToday++
	if rating >= fsrs.RatingGood {
		updated.ConsecutiveSuccesses++
		updated.ConsecutiveFailures = 0
	} else {
		updated.ConsecutiveFailures++
		updated.ConsecutiveSuccesses = 0
	}

	if card.HasLongTermStability && !card.Important && rating >= fsrs.RatingGood {
		return &Decision{
			Action:       ActionGraduate,
			FatigueScore: fatigue,
			Reason:       "not_short_loop_candidate",
		}, updated
	}

	if day.ReviewsToday >= p.reviewCap(mode) {
		return &Decision{
			Action:       ActionDefer,
			FatigueScore: fatigue,
			Reason:       "daily_cap_reached",
		}, updated
	}

	if fatigue >= p.cfg.FatigueThreshold && day.ReviewsToday >= 2 {
		return &Decision{
			Action:       ActionDefer,
			FatigueScore: fatigue,
			Reason:       "fatigued",
		}, updated
	}

	if rating >= fsrs.RatingGood && day.ConsecutiveSuccesses >= 1 {
		return &Decision{
			Action:       ActionGraduate,
			FatigueScore: fatigue,
			Reason:       "consecutive_success",
		}, updated
	}

	gap := p.adaptiveGap(card, rating, fatigue, mode, day.Iteration)
	updated.Iteration++
	return &Decision{
		Action:         ActionReinsertToday,
		NextGapSeconds: gap,
		FatigueScore:   fatigue,
		Reason:         "reinsert",
	}, updated
}

// adaptiveGap computes the re-insertion gap: minGap doubling per
// iteration, widened for hard cards, fatigue and low ratings,
// tightened for important cards, intensive mode and high ratings.
func (p *ShortLoop) adaptiveGap(card *CardContext, rating fsrs.Rating, fatigue float64, mode StudyMode, iteration int) int {
	gap := float64(p.cfg.MinGapSeconds) * math.Pow(2, float64(iteration))

	if card.Difficulty > 0 {
		df := 1 + (card.Difficulty-5)/10
		if df < 0.7 {
			df = 0.7
		}
		if df > 1.5 {
			df = 1.5
		}
		gap *= df
	}

	gap *= 1 + 0.5*fatigue

	switch mode {
	case ModeLight:
		gap *= 1.25
	case ModeIntensive:
		gap *= 0.75
	}

	if card.Important {
		gap *= 0.8
	}

	switch rating {
	case fsrs.RatingAgain:
		gap *= 1.4
	case fsrs.RatingHard:
		gap *= 1.2
	case fsrs.RatingGood:
		gap *= 0.9
	case fsrs.RatingEasy:
		gap *= 0.7
	}

	if gap < float64(p.cfg.MinGapSeconds) {
		return p.cfg.MinGapSeconds
	}
	if gap > float64(p.cfg.MaxGapSeconds) {
		return p.cfg.MaxGapSeconds
	}
	return int(math.Round(gap))
}
