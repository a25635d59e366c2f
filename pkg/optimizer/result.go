// Package optimizer ingests parameter fits produced by the external
// offline optimizer and commits them to the per-user parameter store.
//
// The fitting itself (gradient descent over the review log) runs
// out-of-process; this package owns the boundary: parsing result
// payloads, validating them hard, and committing only complete fits so
// a failed or partial optimization can never corrupt scheduling.
package optimizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flashdeck/recall-go/pkg/fsrs"
	"github.com/flashdeck/recall-go/pkg/shortterm"
)

// ErrInvalidResult indicates a fit result that must not be committed:
// wrong vector lengths, non-finite values or insufficient evidence.
var ErrInvalidResult = errors.New("invalid optimization result")

// MinSampleCount is the smallest review sample a fit may be built on.
// Fits below it are rejected; the user keeps their last-good
// parameters.
const MinSampleCount = 100

// FitResult is one user's parameter fit as produced by the external
// optimizer.
type FitResult struct {
	// UserID is the user the fit belongs to.
	UserID string `json:"user_id"`

	// Weights is the fitted long-term weight vector (21 entries).
	Weights []float64 `json:"weights"`

	// ShortTermParams is the fitted short-term parameter vector
	// (8 entries).
	ShortTermParams []float64 `json:"short_term_params"`

	// TargetRetention is the fitted target retention, or 0 to keep the
	// user's current target.
	TargetRetention float64 `json:"target_retention"`

	// SampleCount is the number of reviews the fit was computed over.
	SampleCount int `json:"sample_count"`

	// LogLoss is the optimizer's reported loss, for observability only.
	LogLoss float64 `json:"log_loss"`

	// FittedAt is when the optimizer produced the result.
	FittedAt time.Time `json:"fitted_at"`
}

// ParseResult decodes and validates a fit result payload.
func ParseResult(data []byte) (*FitResult, error) {
	var result FitResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("ParseResult: %v: %w", err, ErrInvalidResult)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

// Validate checks that the fit is complete and safe to commit.
//
// Both parameter vectors must be present in full with finite values; a
// result carrying only one of them is treated as a failed fit, not a
// partial update.
func (r *FitResult) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("Validate: missing user ID: %w", ErrInvalidResult)
	}
	if _, err := fsrs.FromSlice(r.Weights); err != nil {
		return fmt.Errorf("Validate: weights: %v: %w", err, ErrInvalidResult)
	}
	params, err := shortterm.FromSlice(r.ShortTermParams)
	if err != nil {
		return fmt.Errorf("Validate: short-term params: %v: %w", err, ErrInvalidResult)
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("Validate: short-term params: %v: %w", err, ErrInvalidResult)
	}
	if r.TargetRetention != 0 && (r.TargetRetention <= 0 || r.TargetRetention >= 1) {
		return fmt.Errorf("Validate: target retention %v out of (0,1): %w", r.TargetRetention, ErrInvalidResult)
	}
	if r.SampleCount < MinSampleCount {
		return fmt.Errorf("Validate: %d samples, want at least %d: %w", r.SampleCount, MinSampleCount, ErrInvalidResult)
	}
	return nil
}
