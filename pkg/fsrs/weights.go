// Package fsrs implements the long-term, day-granularity memory model:
// per-card stability and difficulty, the forgetting curve, and the
// interval computation used to schedule the next review.
//
// All functions in this package are pure. Time is always passed in by
// the caller, and state values are returned rather than mutated, so the
// model is safe to call concurrently from any number of goroutines.
package fsrs

import (
	"fmt"
	"math"
)

// WeightCount is the number of fitted parameters in a weight vector.
//
// Externally fitted parameter sets are exchanged as a flat slice of
// exactly WeightCount floats; the positional layout is fixed and must
// match the index noted on each Weights field.
const WeightCount = 21

// Rating is the learner's graded recall of a card, 1-4.
type Rating int

const (
	// RatingAgain indicates the card was not recalled (a lapse on a
	// previously learned card).
	RatingAgain Rating = 1

	// RatingHard indicates the card was recalled with serious effort.
	RatingHard Rating = 2

	// RatingGood indicates the card was recalled correctly.
	RatingGood Rating = 3

	// RatingEasy indicates the card was recalled effortlessly.
	RatingEasy Rating = 4
)

// Valid reports whether r is one of the four defined ratings.
func (r Rating) Valid() bool {
	return r >= RatingAgain && r <= RatingEasy
}

// String returns the rating name ("again", "hard", "good", "easy").
func (r Rating) String() string {
	switch r {
	case RatingAgain:
		return "again"
	case RatingHard:
		return "hard"
	case RatingGood:
		return "good"
	case RatingEasy:
		return "easy"
	default:
		return fmt.Sprintf("rating(%d)", int(r))
	}
}

// Weights holds the 21 fitted parameters of the long-term memory model.
//
// The struct gives each positional parameter a name so that model code
// never indexes a raw float slice. Use FromSlice / Slice to convert to
// and from the flat representation produced by the external weight
// optimizer.
type Weights struct {
	// InitialStabilityAgain..Easy are the initial stabilities in days
	// assigned on a card's first graded review, per rating. Indices 0-3.
	InitialStabilityAgain float64
	InitialStabilityHard  float64
	InitialStabilityGood  float64
	InitialStabilityEasy  float64

	// DifficultyBase and DifficultyScale shape the initial difficulty:
	// D0(g) = clamp(base - e^(scale*(g-1)) + 1, 1, 10). Indices 4-5.
	DifficultyBase  float64
	DifficultyScale float64

	// DifficultyStep is the per-rating difficulty step, and
	// MeanReversion the weight pulling difficulty back toward the Easy
	// baseline on every review. Indices 6-7.
	DifficultyStep float64
	MeanReversion  float64

	// GrowthScale, GrowthStabilityPower and GrowthRetrievability drive
	// stability growth after a successful review. Indices 8-10.
	GrowthScale          float64
	GrowthStabilityPower float64
	GrowthRetrievability float64

	// LapseScale, LapseDifficultyPower, LapseStabilityPower and
	// LapseRetrievability compute post-lapse stability. Indices 11-14.
	LapseScale           float64
	LapseDifficultyPower float64
	LapseStabilityPower  float64
	LapseRetrievability  float64

	// HardInterval and EasyInterval scale the computed interval for
	// Hard and Easy ratings respectively. Indices 15-16.
	HardInterval float64
	EasyInterval float64

	// SameDayScale, SameDayOffset and SameDayStabilityPower control the
	// same-day stability adjustment applied when a card is reviewed
	// again within 24 hours. Indices 17-19.
	SameDayScale          float64
	SameDayOffset         float64
	SameDayStabilityPower float64

	// Decay is the forgetting-curve decay exponent. Index 20.
	Decay float64
}

// DefaultWeights returns the stock parameter set used until a user has
// enough review history for the optimizer to produce a personal fit.
func DefaultWeights() Weights {
	return Weights{
		InitialStabilityAgain: 0.40,
		InitialStabilityHard:  0.60,
		InitialStabilityGood:  2.40,
		InitialStabilityEasy:  5.80,
		DifficultyBase:        4.93,
		DifficultyScale:       0.94,
		DifficultyStep:        0.86,
		MeanReversion:         0.01,
		GrowthScale:           1.49,
		GrowthStabilityPower:  0.14,
		GrowthRetrievability:  0.94,
		LapseScale:            2.18,
		LapseDifficultyPower:  0.05,
		LapseStabilityPower:   0.34,
		LapseRetrievability:   1.26,
		HardInterval:          0.80,
		EasyInterval:          1.30,
		SameDayScale:          0.40,
		SameDayOffset:         0.70,
		SameDayStabilityPower: 0.15,
		Decay:                 0.50,
	}
}

// FromSlice builds a Weights value from a flat parameter vector.
//
// The slice must contain exactly WeightCount finite values in the
// documented positional order; anything else is a configuration error
// and is rejected up front.
func FromSlice(vals []float64) (Weights, error) {
	if len(vals) != WeightCount {
		return Weights{}, fmt.Errorf("fsrs: weight vector has %d parameters, want %d: %w",
			len(vals), WeightCount, ErrInvalidWeights)
	}
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Weights{}, fmt.Errorf("fsrs: weight %d is not finite: %w", i, ErrInvalidWeights)
		}
	}
	return Weights{
		InitialStabilityAgain: vals[0],
		InitialStabilityHard:  vals[1],
		InitialStabilityGood:  vals[2],
		InitialStabilityEasy:  vals[3],
		DifficultyBase:        vals[4],
		DifficultyScale:       vals[5],
		DifficultyStep:        vals[6],
		MeanReversion:         vals[7],
		GrowthScale:           vals[8],
		GrowthStabilityPower:  vals[9],
		GrowthRetrievability:  vals[10],
		LapseScale:            vals[11],
		LapseDifficultyPower:  vals[12],
		LapseStabilityPower:   vals[13],
		LapseRetrievability:   vals[14],
		HardInterval:          vals[15],
		EasyInterval:          vals[16],
		SameDayScale:          vals[17],
		SameDayOffset:         vals[18],
		SameDayStabilityPower: vals[19],
		Decay:                 vals[20],
	}, nil
}

// Slice returns the flat positional representation of w, suitable for
// storage and for exchange with the external optimizer.
func (w Weights) Slice() []float64 {
	return []float64{
		w.InitialStabilityAgain,
		w.InitialStabilityHard,
		w.InitialStabilityGood,
		w.InitialStabilityEasy,
		w.DifficultyBase,
		w.DifficultyScale,
		w.DifficultyStep,
		w.MeanReversion,
		w.GrowthScale,
		w.GrowthStabilityPower,
		w.GrowthRetrievability,
		w.LapseScale,
		w.LapseDifficultyPower,
		w.LapseStabilityPower,
		w.LapseRetrievability,
		w.HardInterval,
		w.EasyInterval,
		w.SameDayScale,
		w.SameDayOffset,
		w.SameDayStabilityPower,
		w.Decay,
	}
}

// Validate checks that every parameter is finite and that the decay
// exponent and initial stabilities are positive.
func (w Weights) Validate() error {
	for i, v := range w.Slice() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("fsrs: weight %d is not finite: %w", i, ErrInvalidWeights)
		}
	}
	if w.Decay <= 0 {
		return fmt.Errorf("fsrs: decay must be positive: %w", ErrInvalidWeights)
	}
	for _, s := range []float64{
		w.InitialStabilityAgain, w.InitialStabilityHard,
		w.InitialStabilityGood, w.InitialStabilityEasy,
	} {
		if s <= 0 {
			return fmt.Errorf("fsrs: initial stabilities must be positive: %w", ErrInvalidWeights)
		}
	}
	return nil
}

// initialStability returns the initial stability for a first review
// with the given rating.
func (w Weights) initialStability(r Rating) float64 {
	switch r {
	case RatingAgain:
		return w.InitialStabilityAgain
	case RatingHard:
		return w.InitialStabilityHard
	case RatingGood:
		return w.InitialStabilityGood
	default:
		return w.InitialStabilityEasy
	}
}
