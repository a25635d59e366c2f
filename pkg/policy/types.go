// Package policy implements the behavioral policies layered on top of
// the memory models: the same-day short loop, the passive-reveal
// penalty and the adaptive target-retention policy.
//
// Every evaluation function here is pure: configuration, session
// context and day-scoped counters are passed in explicitly, and
// updated counters are returned rather than persisted. The scheduler
// owns persistence.
package policy

import "time"

// StudyMode is the intensity the learner selected for the current
// session. It scales short-loop caps and gaps.
type StudyMode string

const (
	// ModeLight favors fewer, wider-spaced repetitions.
	ModeLight StudyMode = "light"

	// ModeDefault is the standard study intensity.
	ModeDefault StudyMode = "default"

	// ModeIntensive favors more, tighter-spaced repetitions.
	ModeIntensive StudyMode = "intensive"
)

// Action is a short-loop decision for a card mid-review.
type Action string

const (
	// ActionReinsertToday re-queues the card later in today's session.
	ActionReinsertToday Action = "reinsert_today"

	// ActionDefer leaves the card on its model-computed schedule.
	ActionDefer Action = "defer"

	// ActionGraduate hands the card over to the long-term model.
	ActionGraduate Action = "graduate_to_fsrs"
)

// Decision is the ephemeral per-review output of the short loop.
type Decision struct {
	// Action is what to do with the card.
	Action Action `json:"action"`

	// NextGapSeconds is the adaptive re-insertion gap. Only set when
	// Action is ActionReinsertToday.
	NextGapSeconds int `json:"next_gap_seconds,omitempty"`

	// FatigueScore is the session fatigue estimate in [0, 1] used for
	// the decision, when session context was available.
	FatigueScore float64 `json:"fatigue_score,omitempty"`

	// Reason names the decision-table rule that fired.
	Reason string `json:"reason"`
}

// SessionContext summarizes the learner's current session for the
// fatigue estimate. A nil context means no session information.
type SessionContext struct {
	// RecentReviews is the number of reviews in the trailing window.
	RecentReviews int

	// RecentFailures is how many of those were rated Again.
	RecentFailures int

	// AvgResponseMillis is the mean answer duration in the window.
	AvgResponseMillis float64
}

// DayState holds the day-scoped short-loop counters for one
// (user, card, calendar day). A fresh zero value is used on the first
// review of a day; persisting and resetting is the scheduler's job.
type DayState struct {
	// UserID and CardID identify the card under review.
	UserID string
	CardID string

	// Day is the calendar day the counters belong to, "2006-01-02".
	Day string

	// Iteration counts short-loop re-insertions today; it drives the
	// exponential gap.
	Iteration int

	// ReviewsToday counts graded reviews of this card today.
	ReviewsToday int

	// ConsecutiveSuccesses and ConsecutiveFailures track today's
	// current streaks.
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// DayKey formats a calendar day for DayState keys.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
