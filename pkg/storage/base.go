// Package storage provides the persistence contracts for the
// scheduling core: card memory state, the append-only review log,
// day-scoped short-loop counters and per-user fitted parameters.
//
// It defines the Store interface that all backends (SQLite,
// PostgreSQL, MySQL) must satisfy. A review is persisted through
// WithinTx so that state update, audit row and day counters commit or
// roll back as one atomic unit. Card state rows carry a version
// number; updates take an expected version and fail with
// ErrVersionConflict when a concurrent review won the race.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound indicates that a requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict indicates that a card state update lost an
	// optimistic concurrency race; the caller should retry the whole
	// review.
	ErrVersionConflict = errors.New("card state version conflict")
)

// CardStateRecord is the persisted scheduling state of one card.
//
// The Phase column makes the state machine explicit: long-term fields
// are meaningful in "review"/"relearning", the learning fields in
// "learning"/"relearning", and neither for "new".
type CardStateRecord struct {
	// UserID and CardID identify the card.
	UserID string
	CardID string

	// Phase is one of "new", "learning", "review", "relearning".
	Phase string

	// Stability (days) and Difficulty hold the long-term memory state;
	// both zero until the card first graduates.
	Stability  float64
	Difficulty float64

	// LastReview and NextReview bound the current interval. LastReview
	// is nil before the first review.
	LastReview *time.Time
	NextReview time.Time

	// ShortStabilityMinutes and LearningReviewCount hold the
	// short-term state while the card is in a learning phase.
	ShortStabilityMinutes *float64
	LearningReviewCount   int

	// GraduatedAt is when the card last graduated to the long-term
	// model (nil while still learning).
	GraduatedAt *time.Time

	// CriticalBefore and HighRiskBefore are precomputed risk horizons
	// for O(1) "due and at risk" queries.
	CriticalBefore *time.Time
	HighRiskBefore *time.Time

	// Version is the optimistic concurrency counter, starting at 0 for
	// a card with no persisted state.
	Version int64

	// UpdatedAt is when the row was last written.
	UpdatedAt time.Time
}

// ReviewEventRecord is one immutable audit row per graded review.
type ReviewEventRecord struct {
	// ID is the snowflake event identifier.
	ID int64

	// UserID and CardID identify the card.
	UserID string
	CardID string

	// Rating is the graded recall, 1-4.
	Rating int

	// ReviewedAt is when the review happened.
	ReviewedAt time.Time

	// ReviewState is the state-machine phase the card was in when the
	// review arrived ("new", "learning", "review", "relearning").
	ReviewState string

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

	// Retrievability is the model-predicted recall probability at
	// review time.
	Retrievability float64

	// DurationMillis is how long the learner took to answer, 0 when
	// unknown.
	DurationMillis int64
}

// DayStateRecord holds the short-loop counters for one
// (user, card, calendar day). Rows naturally age out with the day key.
type DayStateRecord struct {
	UserID string
	CardID string

	// Day is the calendar day, formatted "2006-01-02".
	Day string

	Iteration            int
	ReviewsToday         int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int

	UpdatedAt time.Time
}

// UserParamsRecord is the per-user fitted parameter set: the long-term
// weight vector, the short-term parameters and the target retention.
// Replaced wholesale by the optimizer; read fresh at the start of each
// review.
type UserParamsRecord struct {
	UserID string

	// Weights is the flat long-term weight vector (21 entries).
	Weights []float64

	// ShortTermParams is the flat short-term parameter vector.
	ShortTermParams []float64

	// TargetRetention is the per-user target retention in (0, 1).
	TargetRetention float64

	UpdatedAt time.Time
}

// Tx is the transactional scope a review is persisted in. All writes
// made through a Tx commit or roll back together.
type Tx interface {
	// GetCardState loads a card's state, or ErrNotFound for a card
	// that was never reviewed.
	GetCardState(ctx context.Context, userID, cardID string) (*CardStateRecord, error)

	// PutCardState inserts or updates a card's state. expectedVersion
	// must match the stored Version (0 for a new card); on mismatch
	// the call fails with ErrVersionConflict and writes nothing. The
	// stored version is incremented on success.
	PutCardState(ctx context.Context, rec *CardStateRecord, expectedVersion int64) error

	// AppendReviewEvent appends one immutable audit row.
	AppendReviewEvent(ctx context.Context, rec *ReviewEventRecord) error

	// GetDayState loads the short-loop counters for a calendar day, or
	// ErrNotFound when the card has not been reviewed that day.
	GetDayState(ctx context.Context, userID, cardID, day string) (*DayStateRecord, error)

	// UpsertDayState inserts or replaces the day counters.
	UpsertDayState(ctx context.Context, rec *DayStateRecord) error
}

// Store is the persistence backend for the scheduling core.
type Store interface {
	// WithinTx runs fn in a single transaction. If fn returns an
	// error the transaction is rolled back and nothing is applied.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// GetUserParams loads a user's fitted parameters, or ErrNotFound
	// when the user still runs on defaults.
	GetUserParams(ctx context.Context, userID string) (*UserParamsRecord, error)

	// PutUserParams replaces a user's fitted parameters wholesale.
	PutUserParams(ctx context.Context, rec *UserParamsRecord) error

	// ListCardStates returns card states for a user whose next review
	// falls at or before the given instant, ordered by NextReview.
	// limit <= 0 means no limit.
	ListCardStates(ctx context.Context, userID string, dueBefore time.Time, limit int) ([]*CardStateRecord, error)

	// Close closes the store and releases resources.
	Close() error
}
