package scheduler

import (
	"time"

	"github.com/flashdeck/recall-go/pkg/policy"
)

// reviewOptions holds the per-review optional inputs.
type reviewOptions struct {
	now       time.Time
	duration  time.Duration
	session   *policy.SessionContext
	mode      policy.StudyMode
	important bool
}

// ReviewOption configures a single Review call.
type ReviewOption func(*reviewOptions)

// WithNow injects the review timestamp. Defaults to time.Now().
// Injecting time keeps the scheduling path deterministic under test and
// lets callers replay historical review logs.
func WithNow(now time.Time) ReviewOption {
	return func(o *reviewOptions) { o.now = now }
}

// WithDuration records how long the learner took to answer. The value
// lands on the audit event and feeds the management-penalty heuristic.
func WithDuration(d time.Duration) ReviewOption {
	return func(o *reviewOptions) { o.duration = d }
}

// WithSessionContext supplies the rolling session window the fatigue
// score is computed from. Without it, fatigue is zero.
func WithSessionContext(sc *policy.SessionContext) ReviewOption {
	return func(o *reviewOptions) { o.session = sc }
}

// WithStudyMode sets the study mode for the short-loop decision.
// Defaults to policy.ModeDefault.
func WithStudyMode(mode policy.StudyMode) ReviewOption {
	return func(o *reviewOptions) { o.mode = mode }
}

// WithImportant marks the card as learner-flagged must-know for this
// review, which holds it in the short loop longer.
func WithImportant(important bool) ReviewOption {
	return func(o *reviewOptions) { o.important = important }
}

func applyReviewOptions(opts []ReviewOption) reviewOptions {
	o := reviewOptions{
		now:  time.Now(),
		mode: policy.ModeDefault,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
