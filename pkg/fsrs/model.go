package fsrs

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for model construction and review input validation.
var (
	// ErrInvalidWeights indicates a weight vector of the wrong length or
	// with non-finite entries. This is a configuration error and is
	// never retried.
	ErrInvalidWeights = errors.New("invalid weight vector")

	// ErrInvalidRating indicates a rating outside 1-4.
	ErrInvalidRating = errors.New("invalid rating")

	// ErrInvalidConfig indicates an out-of-range model configuration
	// value (for example a target retention outside (0,1)).
	ErrInvalidConfig = errors.New("invalid model configuration")
)

const (
	// minDifficulty and maxDifficulty bound per-card difficulty.
	minDifficulty = 1.0
	maxDifficulty = 10.0

	// hoursPerDay converts between elapsed hours and model days.
	hoursPerDay = 24.0

	// CriticalRetrievability is the recall probability under which a
	// card is considered critically at risk.
	CriticalRetrievability = 0.1

	// HighRiskRetrievability is the recall probability under which a
	// card is considered at high risk.
	HighRiskRetrievability = 0.5
)

// Config contains configuration for creating a long-term Model.
type Config struct {
	// Weights is the fitted parameter set for this user.
	Weights Weights

	// TargetRetention is the recall probability the next interval is
	// sized for. Must be in (0, 1). Default: 0.9.
	TargetRetention float64

	// MinIntervalDays is the floor for computed intervals. Default: 1.
	MinIntervalDays float64

	// MaxIntervalDays caps computed intervals. Default: 36500.
	MaxIntervalDays float64
}

// Model implements the long-term memory model over a fixed weight
// vector and target retention. All methods are pure and deterministic.
type Model struct {
	weights         Weights
	targetRetention float64
	minIntervalDays float64
	maxIntervalDays float64
}

// NewModel creates a long-term model from the given configuration.
//
// Construction fails fast on an invalid weight vector or an
// out-of-range target retention; a misconfigured model must never
// reach the review path.
func NewModel(cfg *Config) (*Model, error) {
	if cfg == nil {
		return nil, fmt.Errorf("NewModel: nil config: %w", ErrInvalidConfig)
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("NewModel: %w", err)
	}
	target := cfg.TargetRetention
	if target == 0 {
		target = 0.9
	}
	if target <= 0 || target >= 1 {
		return nil, fmt.Errorf("NewModel: target retention %v out of (0,1): %w", target, ErrInvalidConfig)
	}
	minDays := cfg.MinIntervalDays
	if minDays <= 0 {
		minDays = 1
	}
	maxDays := cfg.MaxIntervalDays
	if maxDays <= 0 {
		maxDays = 36500
	}
	return &Model{
		weights:         cfg.Weights,
		targetRetention: target,
		minIntervalDays: minDays,
		maxIntervalDays: maxDays,
	}, nil
}

// Weights returns the parameter set the model was built with.
func (m *Model) Weights() Weights { return m.weights }

// TargetRetention returns the configured target retention.
func (m *Model) TargetRetention() float64 { return m.targetRetention }

// decayFactor returns the curve constant f such that retrievability
// equals 0.9 exactly one stability-length after a review.
func (m *Model) decayFactor() float64 {
	return math.Pow(0.9, -1/m.weights.Decay) - 1
}

// Retrievability returns the probability of successful recall after
// elapsedDays given the card's stability.
//
// Returns 1 when no time has elapsed and 0 when the card has no
// stability. The result is monotonically non-increasing in
// elapsedDays.
func (m *Model) Retrievability(elapsedDays, stability float64) float64 {
	if elapsedDays <= 0 {
		return 1
	}
	if stability <= 0 {
		return 0
	}
	return math.Pow(1+m.decayFactor()*elapsedDays/stability, -m.weights.Decay)
}

// TimeToRetrievability returns the number of days after a review at
// which retrievability decays to the given level. Inverse of
// Retrievability in elapsedDays.
func (m *Model) TimeToRetrievability(stability, retrievability float64) float64 {
	if stability <= 0 || retrievability <= 0 || retrievability >= 1 {
		return 0
	}
	return stability / m.decayFactor() * (math.Pow(retrievability, -1/m.weights.Decay) - 1)
}

// InitialStability returns the stability assigned on a card's first
// graded review.
func (m *Model) InitialStability(r Rating) float64 {
	return m.weights.initialStability(r)
}

// InitialDifficulty returns the difficulty assigned on a card's first
// graded review, clamped to [1, 10].
func (m *Model) InitialDifficulty(r Rating) float64 {
	d := m.weights.DifficultyBase - math.Exp(m.weights.DifficultyScale*float64(r-1)) + 1
	return clamp(d, minDifficulty, maxDifficulty)
}

// NextDifficulty returns the post-review difficulty: a linearly damped
// step per rating, then mean reversion toward the Easy baseline.
// Always within [1, 10].
func (m *Model) NextDifficulty(difficulty float64, r Rating) float64 {
	delta := -m.weights.DifficultyStep * float64(r-RatingGood)
	damped := difficulty + delta*(maxDifficulty-difficulty)/9
	target := m.InitialDifficulty(RatingEasy)
	next := m.weights.MeanReversion*target + (1-m.weights.MeanReversion)*damped
	return clamp(next, minDifficulty, maxDifficulty)
}

// nextStabilitySuccess returns the post-review stability after a
// passing rating. Growth is larger for easy cards, small stabilities
// and low retrievability.
func (m *Model) nextStabilitySuccess(stability, difficulty, retrievability float64) float64 {
	gain := math.Exp(m.weights.GrowthScale) *
		(11 - difficulty) *
		math.Pow(stability, -m.weights.GrowthStabilityPower) *
		(math.Exp(m.weights.GrowthRetrievability*(1-retrievability)) - 1)
	return stability * (1 + gain)
}

// nextStabilityFailure returns the post-lapse stability. It is capped
// at the pre-lapse stability: a failure never grows memory.
func (m *Model) nextStabilityFailure(stability, difficulty, retrievability float64) float64 {
	next := m.weights.LapseScale *
		math.Pow(difficulty, -m.weights.LapseDifficultyPower) *
		(math.Pow(stability+1, m.weights.LapseStabilityPower) - 1) *
		math.Exp(m.weights.LapseRetrievability*(1-retrievability))
	return math.Min(next, stability)
}

// sameDayStability applies the same-day adjustment: a rating-dependent
// multiplicative factor, floored at 1 for passing ratings so a quick
// same-day confirmation never shrinks memory.
func (m *Model) sameDayStability(stability float64, r Rating) float64 {
	factor := math.Exp(m.weights.SameDayScale*(float64(r-RatingGood)+m.weights.SameDayOffset)) *
		math.Pow(stability, -m.weights.SameDayStabilityPower)
	if r >= RatingHard && factor < 1 {
		factor = 1
	}
	return stability * factor
}

// Interval returns the next interval in days for the given stability,
// sized so retrievability decays to the target retention, scaled by
// the Hard/Easy modifiers and clamped to the configured bounds.
func (m *Model) Interval(stability float64, r Rating) float64 {
	days := stability / math.Log(0.9) * math.Log(m.targetRetention)
	switch r {
	case RatingHard:
		days *= m.weights.HardInterval
	case RatingEasy:
		days *= m.weights.EasyInterval
	}
	return clamp(days, m.minIntervalDays, m.maxIntervalDays)
}

// MemoryState is the persisted long-term memory state of a card.
//
// Stability is strictly positive once the card has been reviewed.
// NextReview is never before LastReview.
type MemoryState struct {
	// Stability is the memory stability in days.
	Stability float64

	// Difficulty is the intrinsic card difficulty in [1, 10].
	Difficulty float64

	// LastReview is when the card was last reviewed (nil before the
	// first review).
	LastReview *time.Time

	// NextReview is when the card is next due.
	NextReview time.Time
}

// ReviewResult is the outcome of a single long-term review.
type ReviewResult struct {
	// State is the updated memory state.
	State MemoryState

	// Retrievability is the recall probability at review time, in [0,1].
	Retrievability float64

	// IntervalDays is the scheduled interval in days.
	IntervalDays float64

	// Message is a human-readable description of the new interval.
	Message string
}

// ReviewCard applies one graded review to a card's long-term state.
//
// A nil state, or a state with zero stability, initializes the card
// via the initial stability/difficulty functions. Otherwise the update
// runs retrievability, difficulty, the success or failure stability
// branch, and the same-day adjustment when the review falls within 24
// hours on the same calendar day as the previous one.
//
// The function is side-effect free; now is injected by the caller.
func (m *Model) ReviewCard(state *MemoryState, r Rating, now time.Time) (*ReviewResult, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("ReviewCard: rating %d: %w", int(r), ErrInvalidRating)
	}

	var stability, difficulty, retrievability float64
	if state == nil || state.Stability <= 0 {
		stability = m.InitialStability(r)
		difficulty = m.InitialDifficulty(r)
		retrievability = 1
	} else {
		last := now
		if state.LastReview != nil {
			last = *state.LastReview
		}
		elapsed := now.Sub(last)
		elapsedDays := elapsed.Hours() / hoursPerDay
		retrievability = m.Retrievability(elapsedDays, state.Stability)
		difficulty = m.NextDifficulty(state.Difficulty, r)
		if r == RatingAgain {
			stability = m.nextStabilityFailure(state.Stability, difficulty, retrievability)
		} else {
			stability = m.nextStabilitySuccess(state.Stability, difficulty, retrievability)
		}
		if elapsed < hoursPerDay*time.Hour && sameCalendarDay(last, now) {
			stability = m.sameDayStability(stability, r)
		}
	}

	interval := m.Interval(stability, r)
	reviewedAt := now
	next := MemoryState{
		Stability:  stability,
		Difficulty: difficulty,
		LastReview: &reviewedAt,
		NextReview: now.Add(daysToDuration(interval)),
	}
	return &ReviewResult{
		State:          next,
		Retrievability: retrievability,
		IntervalDays:   interval,
		Message:        intervalMessage(interval),
	}, nil
}

// intervalMessage formats an interval for display.
func intervalMessage(days float64) string {
	switch {
	case days < 1.5:
		return "next review tomorrow"
	case days < 30:
		return fmt.Sprintf("next review in %.0f days", days)
	case days < 365:
		return fmt.Sprintf("next review in %.1f months", days/30)
	default:
		return fmt.Sprintf("next review in %.1f years", days/365)
	}
}

// sameCalendarDay reports whether two instants fall on the same
// calendar day in the location of a.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// daysToDuration converts fractional days to a time.Duration.
func daysToDuration(days float64) time.Duration {
	return time.Duration(days * hoursPerDay * float64(time.Hour))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
