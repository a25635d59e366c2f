// Package scheduler orchestrates the review pipeline: it routes each
// graded review to the long-term or short-term memory model based on
// the card's state-machine phase, decides graduation and lapse
// re-entry, applies the same-day short loop, and persists the
// resulting state together with an audit row in one transaction.
package scheduler

import (
	"fmt"
	"time"

	"github.com/flashdeck/recall-go/pkg/fsrs"
	"github.com/flashdeck/recall-go/pkg/policy"
)

// Phase is the state-machine phase of a card.
//
// New cards enter Learning on their first review; Learning cards
// graduate to Review; Review cards lapse into Relearning (when the
// relearning loop is enabled) and re-graduate back to Review. There is
// no terminal phase; cards cycle indefinitely.
type Phase string

const (
	// PhaseNew is a card with no prior review.
	PhaseNew Phase = "new"

	// PhaseLearning is a card in the minute-scale learning loop that
	// has never graduated.
	PhaseLearning Phase = "learning"

	// PhaseReview is a graduated card on the long-term schedule.
	PhaseReview Phase = "review"

	// PhaseRelearning is a lapsed card back in the minute-scale loop,
	// carrying its post-lapse long-term state for re-graduation.
	PhaseRelearning Phase = "relearning"
)

// LearningState is the short-term state carried while a card is in
// Learning or Relearning.
type LearningState struct {
	// StabilityMinutes is the short-term memory stability.
	StabilityMinutes float64

	// ReviewCount is the number of reviews in the current learning
	// run; it feeds the graduation attempt cap.
	ReviewCount int
}

// CardState is the full scheduling state of one card.
//
// The phase is explicit, and each phase carries only the fields valid
// for it: Learning is set exactly in the learning phases, LongTerm is
// set once the card has graduated (and, during Relearning, holds the
// post-lapse state waiting for re-graduation).
type CardState struct {
	// UserID and CardID identify the card. Both are UUID strings
	// assigned upstream.
	UserID string
	CardID string

	// Phase is the card's state-machine phase.
	Phase Phase

	// LongTerm is the day-scale memory state; nil until the card first
	// graduates.
	LongTerm *fsrs.MemoryState

	// Learning is the minute-scale state; nil outside the learning
	// phases.
	Learning *LearningState

	// LastReview is when the card was last graded, whichever model
	// currently governs it; nil for a new card.
	LastReview *time.Time

	// NextReview is when the card is next due, whichever model
	// currently governs it.
	NextReview time.Time

	// GraduatedAt is when the card last graduated (nil while still in
	// its first learning run).
	GraduatedAt *time.Time

	// CriticalBefore and HighRiskBefore are the precomputed risk
	// horizons; set whenever long-term stability changes.
	CriticalBefore *time.Time
	HighRiskBefore *time.Time

	// Version is the optimistic concurrency counter from storage; 0
	// for a card never persisted.
	Version int64
}

// validate checks the phase/field combinations the sum type allows.
func (s *CardState) validate() error {
	switch s.Phase {
	case PhaseNew:
		if s.LongTerm != nil || s.Learning != nil {
			return fmt.Errorf("new card carries model state: %w", ErrInvalidState)
		}
	case PhaseLearning:
		if s.Learning == nil {
			return fmt.Errorf("learning card without learning state: %w", ErrInvalidState)
		}
		if s.LongTerm != nil {
			return fmt.Errorf("learning card carries long-term state: %w", ErrInvalidState)
		}
	case PhaseReview:
		if s.LongTerm == nil || s.LongTerm.Stability <= 0 {
			return fmt.Errorf("review card without long-term stability: %w", ErrInvalidState)
		}
		if s.Learning != nil {
			return fmt.Errorf("review card carries learning state: %w", ErrInvalidState)
		}
	case PhaseRelearning:
		if s.Learning == nil || s.LongTerm == nil {
			return fmt.Errorf("relearning card missing model state: %w", ErrInvalidState)
		}
	default:
		return fmt.Errorf("unknown phase %q: %w", s.Phase, ErrInvalidState)
	}
	return nil
}

// InLearningLoop reports whether the short-term model currently
// governs the card.
func (s *CardState) InLearningLoop() bool {
	return s.Phase == PhaseLearning || s.Phase == PhaseRelearning
}

// ReviewEvent is the immutable audit record of one graded review.
// Created once per review, never mutated.
type ReviewEvent struct {
	// ID is the snowflake event identifier.
	ID int64

	// UserID and CardID identify the card.
	UserID string
	CardID string

	// Rating is the graded recall.
	Rating fsrs.Rating

	// ReviewedAt is when the review happened.
	ReviewedAt time.Time

	// ReviewState is the phase the card was in when the rating
	// arrived.
	ReviewState Phase

	// ScheduledDays and ElapsedDays compare the planned interval with
	// the actual one.
	ScheduledDays float64
	ElapsedDays   float64

	// StabilityBefore/After and DifficultyBefore/After snapshot the
	// long-term state around the review.
	StabilityBefore  float64
	StabilityAfter   float64
	DifficultyBefore float64
	DifficultyAfter  float64

	// Retrievability is the predicted recall probability at review
	// time.
	Retrievability float64

	// Duration is how long the learner took to answer, zero when
	// unknown.
	Duration time.Duration
}

// ReviewOutcome is the result of one review: the new card state, the
// audit event, and the model outputs the caller may want to surface.
type ReviewOutcome struct {
	// State is the persisted post-review card state.
	State *CardState

	// Event is the audit record written in the same transaction.
	Event *ReviewEvent

	// Retrievability is the predicted recall probability at review
	// time, in [0, 1].
	Retrievability float64

	// IntervalDays is the scheduled interval in days (fractional for
	// learning-phase cards).
	IntervalDays float64

	// Message is a human-readable description of the new interval.
	Message string

	// ShortLoop is the same-day loop decision, nil when the card was
	// not in a learning phase.
	ShortLoop *policy.Decision
}
