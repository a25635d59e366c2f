package optimizer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flashdeck/recall-go/pkg/storage"
)

// Loader commits validated fit results to the parameter store.
//
// Commits are wholesale: the stored record is replaced with the fit's
// vectors in one write, so a reader never observes a half-updated
// parameter set. The next review picks the new parameters up
// automatically.
type Loader struct {
	store  storage.Store
	logger *log.Logger
}

// NewLoader creates a loader over the given store. A nil logger logs to
// stderr with the "optimizer" prefix.
func NewLoader(store storage.Store, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "optimizer"})
	}
	return &Loader{store: store, logger: logger}
}

// CommitResult validates a fit result and writes it to the parameter
// store. Invalid results are rejected with ErrInvalidResult and leave
// the user's last-good parameters in place.
//
// A zero TargetRetention in the result keeps the user's current target:
// the retention policy owns the target; the optimizer only overrides it
// when it explicitly fit one.
func (l *Loader) CommitResult(ctx context.Context, result *FitResult) error {
	if result == nil {
		return fmt.Errorf("CommitResult: nil result: %w", ErrInvalidResult)
	}
	if err := result.Validate(); err != nil {
		l.logger.Warn("rejecting fit result",
			"user_id", result.UserID,
			"samples", result.SampleCount,
			"err", err)
		return err
	}

	target := result.TargetRetention
	if target == 0 {
		existing, err := l.store.GetUserParams(ctx, result.UserID)
		if err == nil && existing.TargetRetention > 0 {
			target = existing.TargetRetention
		}
	}

	rec := &storage.UserParamsRecord{
		UserID:          result.UserID,
		Weights:         result.Weights,
		ShortTermParams: result.ShortTermParams,
		TargetRetention: target,
		UpdatedAt:       time.Now(),
	}
	if err := l.store.PutUserParams(ctx, rec); err != nil {
		return fmt.Errorf("CommitResult: %w", err)
	}

	l.logger.Info("committed fit result",
		"user_id", result.UserID,
		"samples", result.SampleCount,
		"log_loss", result.LogLoss,
		"target_retention", target)
	return nil
}

// CommitFile reads a fit result from a JSON file and commits it.
func (l *Loader) CommitFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("CommitFile: %w", err)
	}
	result, err := ParseResult(data)
	if err != nil {
		return err
	}
	return l.CommitResult(ctx, result)
}
