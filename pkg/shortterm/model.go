// Package shortterm implements the minute-granularity memory model used
// while a card is in the learning or relearning phase.
//
// The model mirrors the long-term one in shape (stability, growth on
// success, decay on failure, interval from target retention) but runs
// on minutes, carries a much smaller independently-fit parameter set,
// and decides when a card graduates to the long-term model.
package shortterm

import (
	"fmt"
	"math"

	"github.com/flashdeck/recall-go/pkg/fsrs"
)

// ParamCount is the number of fitted short-term parameters exchanged
// with the external optimizer. Positional order matches FromSlice.
const ParamCount = 8

// Params holds the fitted parameters of the short-term model.
// Stabilities are expressed in minutes.
type Params struct {
	// InitialStabilityAgain..Easy are the initial stabilities in
	// minutes assigned on a card's first learning review, per rating.
	// Indices 0-3.
	InitialStabilityAgain float64
	InitialStabilityHard  float64
	InitialStabilityGood  float64
	InitialStabilityEasy  float64

	// GrowthScale and StabilityPower drive stability growth after a
	// successful learning review. Indices 4-5.
	GrowthScale    float64
	StabilityPower float64

	// RetrievabilitySensitivity scales growth by how far recall had
	// decayed before the review. Index 6.
	RetrievabilitySensitivity float64

	// FailureRetention is the fraction of stability kept after a
	// failed learning review, in (0, 1]. Index 7.
	FailureRetention float64
}

// DefaultParams returns the stock short-term parameter set.
func DefaultParams() Params {
	return Params{
		InitialStabilityAgain:     1.0,
		InitialStabilityHard:      3.0,
		InitialStabilityGood:      10.0,
		InitialStabilityEasy:      60.0,
		GrowthScale:               1.2,
		StabilityPower:            0.10,
		RetrievabilitySensitivity: 1.1,
		FailureRetention:          0.50,
	}
}

// FromSlice builds Params from the flat positional representation.
// The slice must contain exactly ParamCount finite values.
func FromSlice(vals []float64) (Params, error) {
	if len(vals) != ParamCount {
		return Params{}, fmt.Errorf("shortterm: parameter vector has %d entries, want %d: %w",
			len(vals), ParamCount, fsrs.ErrInvalidWeights)
	}
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Params{}, fmt.Errorf("shortterm: parameter %d is not finite: %w", i, fsrs.ErrInvalidWeights)
		}
	}
	return Params{
		InitialStabilityAgain:     vals[0],
		InitialStabilityHard:      vals[1],
		InitialStabilityGood:      vals[2],
		InitialStabilityEasy:      vals[3],
		GrowthScale:               vals[4],
		StabilityPower:            vals[5],
		RetrievabilitySensitivity: vals[6],
		FailureRetention:          vals[7],
	}, nil
}

// Slice returns the flat positional representation of p.
func (p Params) Slice() []float64 {
	return []float64{
		p.InitialStabilityAgain,
		p.InitialStabilityHard,
		p.InitialStabilityGood,
		p.InitialStabilityEasy,
		p.GrowthScale,
		p.StabilityPower,
		p.RetrievabilitySensitivity,
		p.FailureRetention,
	}
}

// Validate checks that the parameters are finite, stabilities are
// positive and the failure retention fraction is in (0, 1].
func (p Params) Validate() error {
	for i, v := range p.Slice() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("shortterm: parameter %d is not finite: %w", i, fsrs.ErrInvalidWeights)
		}
	}
	for _, s := range []float64{
		p.InitialStabilityAgain, p.InitialStabilityHard,
		p.InitialStabilityGood, p.InitialStabilityEasy,
	} {
		if s <= 0 {
			return fmt.Errorf("shortterm: initial stabilities must be positive: %w", fsrs.ErrInvalidWeights)
		}
	}
	if p.FailureRetention <= 0 || p.FailureRetention > 1 {
		return fmt.Errorf("shortterm: failure retention %v out of (0,1]: %w",
			p.FailureRetention, fsrs.ErrInvalidWeights)
	}
	return nil
}

// Config contains configuration for creating a short-term Model.
type Config struct {
	// Params is the fitted short-term parameter set.
	Params Params

	// TargetRetention sizes learning intervals. Must be in (0, 1).
	// Default: 0.9.
	TargetRetention float64

	// MinIntervalMinutes floors learning intervals. Default: 1.
	MinIntervalMinutes float64

	// MaxIntervalMinutes caps learning intervals. Default: 1440.
	MaxIntervalMinutes float64

	// GraduateAfterDays graduates a card once its predicted learning
	// interval exceeds this many days. Default: 1.
	GraduateAfterDays float64

	// MaxLearningReviews graduates a card once it has accumulated this
	// many learning reviews, whichever cap is hit first. Default: 10.
	MaxLearningReviews int
}

// Model implements the minute-scale learning-phase memory model.
// All methods are pure and deterministic.
type Model struct {
	params             Params
	targetRetention    float64
	minIntervalMinutes float64
	maxIntervalMinutes float64
	graduateAfterDays  float64
	maxLearningReviews int
}

// NewModel creates a short-term model from the given configuration,
// failing fast on invalid parameters.
func NewModel(cfg *Config) (*Model, error) {
	if cfg == nil {
		return nil, fmt.Errorf("NewModel: nil config: %w", fsrs.ErrInvalidConfig)
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("NewModel: %w", err)
	}
	target := cfg.TargetRetention
	if target == 0 {
		target = 0.9
	}
	if target <= 0 || target >= 1 {
		return nil, fmt.Errorf("NewModel: target retention %v out of (0,1): %w", target, fsrs.ErrInvalidConfig)
	}
	minMin := cfg.MinIntervalMinutes
	if minMin <= 0 {
		minMin = 1
	}
	maxMin := cfg.MaxIntervalMinutes
	if maxMin <= 0 {
		maxMin = 1440
	}
	gradDays := cfg.GraduateAfterDays
	if gradDays <= 0 {
		gradDays = 1
	}
	maxReviews := cfg.MaxLearningReviews
	if maxReviews <= 0 {
		maxReviews = 10
	}
	return &Model{
		params:             cfg.Params,
		targetRetention:    target,
		minIntervalMinutes: minMin,
		maxIntervalMinutes: maxMin,
		graduateAfterDays:  gradDays,
		maxLearningReviews: maxReviews,
	}, nil
}

// Params returns the parameter set the model was built with.
func (m *Model) Params() Params { return m.params }

// InitialStability returns the initial learning stability in minutes
// for a first review with the given rating.
func (m *Model) InitialStability(r fsrs.Rating) float64 {
	switch r {
	case fsrs.RatingAgain:
		return m.params.InitialStabilityAgain
	case fsrs.RatingHard:
		return m.params.InitialStabilityHard
	case fsrs.RatingGood:
		return m.params.InitialStabilityGood
	default:
		return m.params.InitialStabilityEasy
	}
}

// Retrievability returns the recall probability after elapsedMinutes
// given the learning stability. The short-term curve is a plain
// exponential anchored at 0.9 after one stability-length.
func (m *Model) Retrievability(elapsedMinutes, stability float64) float64 {
	if elapsedMinutes <= 0 {
		return 1
	}
	if stability <= 0 {
		return 0
	}
	return math.Pow(0.9, elapsedMinutes/stability)
}

// NextStability applies one learning review to the current stability.
//
// Success grows stability following the same shape as the long-term
// model (larger gains for small stabilities and decayed recall), with
// Hard gaining less and Easy more. Failure shrinks stability by the
// fitted retention fraction and never grows it.
func (m *Model) NextStability(stability, elapsedMinutes float64, r fsrs.Rating) float64 {
	if stability <= 0 {
		return m.InitialStability(r)
	}
	if r == fsrs.RatingAgain {
		next := stability * m.params.FailureRetention
		return math.Max(next, m.params.InitialStabilityAgain)
	}
	retr := m.Retrievability(elapsedMinutes, stability)
	gain := math.Exp(m.params.GrowthScale) *
		math.Pow(stability, -m.params.StabilityPower) *
		(math.Exp(m.params.RetrievabilitySensitivity*(1-retr)) - 1)
	switch r {
	case fsrs.RatingHard:
		gain *= 0.5
	case fsrs.RatingEasy:
		gain *= 1.5
	}
	return stability * (1 + gain)
}

// IntervalMinutes returns the next learning interval in minutes for
// the given stability, mirroring the long-term interval formula and
// clamped to the configured bounds.
func (m *Model) IntervalMinutes(stability float64) float64 {
	minutes := stability / math.Log(0.9) * math.Log(m.targetRetention)
	if minutes < m.minIntervalMinutes {
		return m.minIntervalMinutes
	}
	if minutes > m.maxIntervalMinutes {
		return m.maxIntervalMinutes
	}
	return minutes
}

// PredictedIntervalMinutes returns the unclamped interval the current
// stability predicts. Used by the graduation check so the day-cap can
// trigger even when intervals are clamped for scheduling.
func (m *Model) PredictedIntervalMinutes(stability float64) float64 {
	return stability / math.Log(0.9) * math.Log(m.targetRetention)
}

// ShouldGraduate reports whether a card should leave the learning
// phase: either its predicted interval exceeds the configured day cap
// or its learning review count exceeds the attempt cap, whichever
// comes first.
func (m *Model) ShouldGraduate(stability float64, reviewCount int) bool {
	if reviewCount > m.maxLearningReviews {
		return true
	}
	return m.PredictedIntervalMinutes(stability) > m.graduateAfterDays*24*60
}
