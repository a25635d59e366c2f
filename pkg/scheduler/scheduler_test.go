package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashdeck/recall-go/pkg/flags"
	"github.com/flashdeck/recall-go/pkg/fsrs"
	"github.com/flashdeck/recall-go/pkg/policy"
	"github.com/flashdeck/recall-go/pkg/scheduler"
	"github.com/flashdeck/recall-go/pkg/storage"
)

// memStore is an in-memory storage.Store test double. Writes apply
// immediately; the tests here never rely on rollback.
type memStore struct {
	mu     sync.Mutex
	cards  map[string]*storage.CardStateRecord
	events []*storage.ReviewEventRecord
	days   map[string]*storage.DayStateRecord
	params map[string]*storage.UserParamsRecord
}

func newMemStore() *memStore {
	return &memStore{
		cards:  make(map[string]*storage.CardStateRecord),
		days:   make(map[string]*storage.DayStateRecord),
		params: make(map[string]*storage.UserParamsRecord),
	}
}

func cardKey(userID, cardID string) string { return userID + "|" + cardID }

func (s *memStore) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn((*memTx)(s))
}

func (s *memStore) GetUserParams(_ context.Context, userID string) (*storage.UserParamsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.params[userID]
	if !ok {
		return nil, fmt.Errorf("GetUserParams: %w", storage.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) PutUserParams(_ context.Context, rec *storage.UserParamsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.params[rec.UserID] = &cp
	return nil
}

func (s *memStore) ListCardStates(_ context.Context, userID string, dueBefore time.Time, limit int) ([]*storage.CardStateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.CardStateRecord
	for _, rec := range s.cards {
		if rec.UserID != userID || rec.NextReview.After(dueBefore) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

type memTx memStore

func (t *memTx) GetCardState(_ context.Context, userID, cardID string) (*storage.CardStateRecord, error) {
	rec, ok := t.cards[cardKey(userID, cardID)]
	if !ok {
		return nil, fmt.Errorf("GetCardState: %w", storage.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (t *memTx) PutCardState(_ context.Context, rec *storage.CardStateRecord, expectedVersion int64) error {
	key := cardKey(rec.UserID, rec.CardID)
	existing, ok := t.cards[key]
	if !ok {
		if expectedVersion != 0 {
			return storage.ErrVersionConflict
		}
	} else if existing.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	cp := *rec
	cp.Version = expectedVersion + 1
	t.cards[key] = &cp
	return nil
}

func (t *memTx) AppendReviewEvent(_ context.Context, rec *storage.ReviewEventRecord) error {
	cp := *rec
	t.events = append(t.events, &cp)
	return nil
}

func (t *memTx) GetDayState(_ context.Context, userID, cardID, day string) (*storage.DayStateRecord, error) {
	rec, ok := t.days[cardKey(userID, cardID)+"|"+day]
	if !ok {
		return nil, fmt.Errorf("GetDayState: %w", storage.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (t *memTx) UpsertDayState(_ context.Context, rec *storage.DayStateRecord) error {
	cp := *rec
	t.days[cardKey(rec.UserID, rec.CardID)+"|"+rec.Day] = &cp
	return nil
}

func newTestScheduler(t *testing.T, store storage.Store, flagProvider flags.Provider, mutate func(cfg *scheduler.Config)) *scheduler.Scheduler {
	t.Helper()
	cfg := scheduler.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	sched, err := scheduler.New(cfg, store, flagProvider)
	require.NoError(t, err)
	return sched
}

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestReviewRejectsBadInput(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), nil, nil)
	ctx := context.Background()

	_, err := sched.Review(ctx, "u1", "c1", fsrs.Rating(0))
	assert.ErrorIs(t, err, scheduler.ErrInvalidRating)

	_, err = sched.Review(ctx, "", "c1", fsrs.RatingGood)
	assert.ErrorIs(t, err, scheduler.ErrInvalidState)
}

func TestNewCardGraduatesImmediatelyWithoutShortLoop(t *testing.T) {
	// With the short-loop flag off the learning loop is bypassed and a
	// first review behaves like the plain long-term model.
	sched := newTestScheduler(t, newMemStore(), nil, nil)

	outcome, err := sched.Review(context.Background(), "u1", "c1", fsrs.RatingGood,
		scheduler.WithNow(testNow))
	require.NoError(t, err)

	assert.Equal(t, scheduler.PhaseReview, outcome.State.Phase)
	require.NotNil(t, outcome.State.LongTerm)
	assert.Greater(t, outcome.State.LongTerm.Stability, 0.0)
	assert.Nil(t, outcome.State.Learning)
	require.NotNil(t, outcome.ShortLoop)
	assert.Equal(t, "feature_disabled", outcome.ShortLoop.Reason)
	assert.NotNil(t, outcome.State.CriticalBefore)
	assert.NotNil(t, outcome.State.HighRiskBefore)
}

func TestNewCardStaysInLearningWithShortLoop(t *testing.T) {
	flagProvider := flags.NewStatic()
	flagProvider.Enable("short_loop")
	store := newMemStore()
	sched := newTestScheduler(t, store, flagProvider, nil)

	outcome, err := sched.Review(context.Background(), "u1", "c1", fsrs.RatingAgain,
		scheduler.WithNow(testNow))
	require.NoError(t, err)

	assert.Equal(t, scheduler.PhaseLearning, outcome.State.Phase)
	require.NotNil(t, outcome.State.Learning)
	assert.Equal(t, 1, outcome.State.Learning.ReviewCount)
	require.NotNil(t, outcome.ShortLoop)
	assert.Equal(t, policy.ActionReinsertToday, outcome.ShortLoop.Action)

	// The re-insertion gap, not the model interval, sets the due time.
	expected := testNow.Add(time.Duration(outcome.ShortLoop.NextGapSeconds) * time.Second)
	assert.Equal(t, expected, outcome.State.NextReview)

	// Day counters were persisted in the same transaction.
	day, ok := store.days["u1|c1|"+policy.DayKey(testNow)]
	require.True(t, ok)
	assert.Equal(t, 1, day.ReviewsToday)
	assert.Equal(t, 1, day.Iteration)
}

func TestDayCountersResetAcrossDays(t *testing.T) {
	flagProvider := flags.NewStatic()
	flagProvider.Enable("short_loop")
	store := newMemStore()
	sched := newTestScheduler(t, store, flagProvider, nil)
	ctx := context.Background()

	_, err := sched.Review(ctx, "u1", "c1", fsrs.RatingAgain, scheduler.WithNow(testNow))
	require.NoError(t, err)

	// The next calendar day starts with fresh counters under a new key.
	nextDay := testNow.Add(24 * time.Hour)
	_, err = sched.Review(ctx, "u1", "c1", fsrs.RatingAgain, scheduler.WithNow(nextDay))
	require.NoError(t, err)

	today, ok := store.days["u1|c1|"+policy.DayKey(nextDay)]
	require.True(t, ok)
	assert.Equal(t, 1, today.ReviewsToday)
	assert.Equal(t, 1, today.Iteration)

	yesterday := store.days["u1|c1|"+policy.DayKey(testNow)]
	require.NotNil(t, yesterday)
	assert.Equal(t, 1, yesterday.ReviewsToday, "old day's counters untouched")
}

func TestLearningGraduatesByAttemptCap(t *testing.T) {
	flagProvider := flags.NewStatic()
	flagProvider.Enable("short_loop")
	sched := newTestScheduler(t, newMemStore(), flagProvider, func(cfg *scheduler.Config) {
		cfg.MaxLearningReviews = 2
	})
	ctx := context.Background()

	now := testNow
	var outcome *scheduler.ReviewOutcome
	var err error
	for i := 0; i < 3; i++ {
		outcome, err = sched.Review(ctx, "u1", "c1", fsrs.RatingAgain,
			scheduler.WithNow(now))
		require.NoError(t, err)
		now = now.Add(90 * time.Second)
		if outcome.State.Phase == scheduler.PhaseReview {
			break
		}
	}

	assert.Equal(t, scheduler.PhaseReview, outcome.State.Phase, "attempt cap forces graduation")
	assert.NotNil(t, outcome.State.GraduatedAt)
	assert.NotNil(t, outcome.State.LongTerm)
}

func TestLapseEntersRelearning(t *testing.T) {
	flagProvider := flags.NewStatic()
	flagProvider.Enable("short_loop")
	store := newMemStore()
	sched := newTestScheduler(t, store, flagProvider, nil)
	ctx := context.Background()

	// Easy reviews move the card through the learning loop quickly.
	now := testNow
	var outcome *scheduler.ReviewOutcome
	var err error
	for i := 0; i < 5; i++ {
		outcome, err = sched.Review(ctx, "u1", "c1", fsrs.RatingEasy, scheduler.WithNow(now))
		require.NoError(t, err)
		if outcome.State.Phase == scheduler.PhaseReview {
			break
		}
		now = outcome.State.NextReview.Add(time.Minute)
	}
	require.Equal(t, scheduler.PhaseReview, outcome.State.Phase)
	stabilityBefore := outcome.State.LongTerm.Stability

	// Forget it days later.
	now = now.Add(10 * 24 * time.Hour)
	outcome, err = sched.Review(ctx, "u1", "c1", fsrs.RatingAgain, scheduler.WithNow(now))
	require.NoError(t, err)

	assert.Equal(t, scheduler.PhaseRelearning, outcome.State.Phase)
	require.NotNil(t, outcome.State.Learning)
	require.NotNil(t, outcome.State.LongTerm)
	assert.LessOrEqual(t, outcome.State.LongTerm.Stability, stabilityBefore,
		"lapse never grows long-term stability")
	assert.Less(t, outcome.Retrievability, 1.0)
}

func TestRelearningDisabledKeepsReviewPhase(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), nil, func(cfg *scheduler.Config) {
		cfg.RelearningEnabled = false
	})
	ctx := context.Background()

	outcome, err := sched.Review(ctx, "u1", "c1", fsrs.RatingGood, scheduler.WithNow(testNow))
	require.NoError(t, err)
	require.Equal(t, scheduler.PhaseReview, outcome.State.Phase)

	later := testNow.Add(10 * 24 * time.Hour)
	outcome, err = sched.Review(ctx, "u1", "c1", fsrs.RatingAgain, scheduler.WithNow(later))
	require.NoError(t, err)

	assert.Equal(t, scheduler.PhaseReview, outcome.State.Phase)
	assert.Nil(t, outcome.State.Learning)
}

func TestReviewAppendsAuditEvent(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(t, store, nil, nil)

	_, err := sched.Review(context.Background(), "u1", "c1", fsrs.RatingGood,
		scheduler.WithNow(testNow),
		scheduler.WithDuration(4*time.Second))
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	event := store.events[0]
	assert.NotZero(t, event.ID)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, 3, event.Rating)
	assert.Equal(t, string(scheduler.PhaseNew), event.ReviewState)
	assert.Equal(t, int64(4000), event.DurationMillis)
	assert.Zero(t, event.StabilityBefore)
	assert.Greater(t, event.StabilityAfter, 0.0)
}

// conflictStore makes every card-state write lose the optimistic
// version check, as if a concurrent review committed first.
type conflictStore struct{ *memStore }

type conflictTx struct{ storage.Tx }

func (conflictTx) PutCardState(context.Context, *storage.CardStateRecord, int64) error {
	return storage.ErrVersionConflict
}

func (s *conflictStore) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.memStore.WithinTx(ctx, func(tx storage.Tx) error {
		return fn(conflictTx{tx})
	})
}

func TestReviewVersionConflict(t *testing.T) {
	sched := newTestScheduler(t, &conflictStore{newMemStore()}, nil, nil)

	_, err := sched.Review(context.Background(), "u1", "c1", fsrs.RatingGood,
		scheduler.WithNow(testNow))
	assert.ErrorIs(t, err, scheduler.ErrConflict)
}

func TestVersionIncrementsPerReview(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), nil, nil)
	ctx := context.Background()

	first, err := sched.Review(ctx, "u1", "c1", fsrs.RatingGood, scheduler.WithNow(testNow))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.State.Version)

	second, err := sched.Review(ctx, "u1", "c1", fsrs.RatingGood,
		scheduler.WithNow(testNow.Add(3*24*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.State.Version)
}

func TestApplyManagementPenalty(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), nil, nil)
	ctx := context.Background()

	outcome, err := sched.Review(ctx, "u1", "c1", fsrs.RatingGood, scheduler.WithNow(testNow))
	require.NoError(t, err)
	dueBefore := outcome.State.NextReview

	// Reveal the answer just before the card comes due.
	revealAt := dueBefore.Add(-time.Hour)
	state, err := sched.ApplyManagementPenalty(ctx, "u1", "c1", 12, revealAt)
	require.NoError(t, err)

	assert.True(t, state.NextReview.After(dueBefore), "penalty pushes the review later")
	assert.Equal(t, outcome.State.LongTerm.Stability, state.LongTerm.Stability)
}

func TestApplyManagementPenaltyShortRevealNoop(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), nil, nil)
	ctx := context.Background()

	outcome, err := sched.Review(ctx, "u1", "c1", fsrs.RatingGood, scheduler.WithNow(testNow))
	require.NoError(t, err)

	state, err := sched.ApplyManagementPenalty(ctx, "u1", "c1", 1, outcome.State.NextReview)
	require.NoError(t, err)
	assert.Equal(t, outcome.State.NextReview, state.NextReview)
	assert.Equal(t, outcome.State.Version, state.Version, "nothing written")
}

func TestHandleContentEditMinorChange(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), nil, nil)
	ctx := context.Background()

	_, err := sched.Review(ctx, "u1", "c1", fsrs.RatingGood, scheduler.WithNow(testNow))
	require.NoError(t, err)

	report, reset, err := sched.HandleContentEdit(ctx, "u1", "c1",
		"The mitochondria is the powerhouse of the cell",
		"The mitochondrion is the powerhouse of the cell",
		testNow)
	require.NoError(t, err)
	assert.False(t, report.ShouldReset)
	assert.Nil(t, reset, "minor edits leave state untouched")
}

func TestHandleContentEditFullRewriteResets(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), nil, nil)
	ctx := context.Background()

	_, err := sched.Review(ctx, "u1", "c1", fsrs.RatingGood, scheduler.WithNow(testNow))
	require.NoError(t, err)

	report, reset, err := sched.HandleContentEdit(ctx, "u1", "c1",
		"What is the capital of France? Paris",
		"Explain the process of photosynthesis in plants.",
		testNow)
	require.NoError(t, err)
	assert.True(t, report.ShouldReset)
	require.NotNil(t, reset)
	assert.Equal(t, scheduler.PhaseNew, reset.Phase)
	assert.Nil(t, reset.LongTerm)
	assert.Nil(t, reset.Learning)

	// The next review starts over from scratch.
	outcome, err := sched.Review(ctx, "u1", "c1", fsrs.RatingGood,
		scheduler.WithNow(testNow.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, string(scheduler.PhaseNew), string(outcome.Event.ReviewState))
}

func TestDueCardsSortedByRisk(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), nil, nil)
	ctx := context.Background()

	_, err := sched.Review(ctx, "u1", "strong", fsrs.RatingEasy, scheduler.WithNow(testNow))
	require.NoError(t, err)
	_, err = sched.Review(ctx, "u1", "weak", fsrs.RatingHard, scheduler.WithNow(testNow))
	require.NoError(t, err)

	due, err := sched.DueCards(ctx, "u1", testNow.Add(60*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "weak", due[0].State.CardID, "most decayed card comes first")
	assert.Less(t, due[0].Retrievability, due[1].Retrievability)
}

func TestRecommendRetentionPersistsTarget(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(t, store, nil, nil)
	ctx := context.Background()

	stats := &policy.RetentionStats{
		ObservedRecallRate:  0.80,
		PredictedRecallRate: 0.90,
		BrierScore:          0.12,
		ReviewCount:         300,
		SessionCount:        15,
	}
	rec, err := sched.RecommendRetention(ctx, "u1", stats)
	require.NoError(t, err)
	assert.Equal(t, "raise", rec.Direction)
	assert.InDelta(t, 0.91, rec.Target, 1e-9)

	stored, err := store.GetUserParams(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.91, stored.TargetRetention, 1e-9)
}

func TestRecommendRetentionLowEvidenceWritesNothing(t *testing.T) {
	store := newMemStore()
	sched := newTestScheduler(t, store, nil, nil)
	ctx := context.Background()

	rec, err := sched.RecommendRetention(ctx, "u1", &policy.RetentionStats{ReviewCount: 5})
	require.NoError(t, err)
	assert.False(t, rec.Confident)

	_, err = store.GetUserParams(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUserParamsOverrideDefaults(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutUserParams(context.Background(), &storage.UserParamsRecord{
		UserID:          "u1",
		TargetRetention: 0.8,
	}))
	sched := newTestScheduler(t, store, nil, nil)

	// A lower target stretches intervals relative to the default.
	low, err := sched.Review(context.Background(), "u1", "c1", fsrs.RatingGood,
		scheduler.WithNow(testNow))
	require.NoError(t, err)

	def, err := sched.Review(context.Background(), "u2", "c1", fsrs.RatingGood,
		scheduler.WithNow(testNow))
	require.NoError(t, err)

	assert.Greater(t, low.IntervalDays, def.IntervalDays)
}

func TestGetCardStateUnknownCard(t *testing.T) {
	sched := newTestScheduler(t, newMemStore(), nil, nil)

	state, err := sched.GetCardState(context.Background(), "u1", "missing")
	require.NoError(t, err)
	assert.Equal(t, scheduler.PhaseNew, state.Phase)
	assert.Zero(t, state.Version)
}
