package fsrs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashdeck/recall-go/pkg/fsrs"
)

func newTestModel(t *testing.T) *fsrs.Model {
	t.Helper()
	m, err := fsrs.NewModel(&fsrs.Config{Weights: fsrs.DefaultWeights()})
	require.NoError(t, err)
	return m
}

func TestNewModelDefaults(t *testing.T) {
	m := newTestModel(t)
	assert.InDelta(t, 0.9, m.TargetRetention(), 1e-9)
}

func TestNewModelRejectsBadConfig(t *testing.T) {
	_, err := fsrs.NewModel(nil)
	assert.ErrorIs(t, err, fsrs.ErrInvalidConfig)

	_, err = fsrs.NewModel(&fsrs.Config{
		Weights:         fsrs.DefaultWeights(),
		TargetRetention: 1.2,
	})
	assert.ErrorIs(t, err, fsrs.ErrInvalidConfig)

	_, err = fsrs.NewModel(&fsrs.Config{Weights: fsrs.Weights{}})
	assert.ErrorIs(t, err, fsrs.ErrInvalidWeights)
}

func TestRetrievabilityAnchor(t *testing.T) {
	m := newTestModel(t)

	// By construction, retrievability is exactly 0.9 one
	// stability-length after a review.
	for _, stability := range []float64{0.5, 1, 10, 100} {
		r := m.Retrievability(stability, stability)
		assert.InDelta(t, 0.9, r, 1e-9, "stability %v", stability)
	}
}

func TestRetrievabilityBounds(t *testing.T) {
	m := newTestModel(t)

	assert.Equal(t, 1.0, m.Retrievability(0, 10))
	assert.Equal(t, 1.0, m.Retrievability(-1, 10))
	assert.Equal(t, 0.0, m.Retrievability(5, 0))
}

func TestRetrievabilityMonotone(t *testing.T) {
	m := newTestModel(t)

	prev := 1.0
	for days := 1.0; days <= 365; days *= 2 {
		r := m.Retrievability(days, 10)
		assert.Less(t, r, prev, "retrievability must decrease at %v days", days)
		prev = r
	}
}

func TestTimeToRetrievabilityInverse(t *testing.T) {
	m := newTestModel(t)

	stability := 12.0
	for _, target := range []float64{0.9, 0.5, 0.1} {
		days := m.TimeToRetrievability(stability, target)
		assert.InDelta(t, target, m.Retrievability(days, stability), 1e-9)
	}
}

func TestInitialStabilityOrdering(t *testing.T) {
	m := newTestModel(t)

	again := m.InitialStability(fsrs.RatingAgain)
	hard := m.InitialStability(fsrs.RatingHard)
	good := m.InitialStability(fsrs.RatingGood)
	easy := m.InitialStability(fsrs.RatingEasy)

	assert.Less(t, again, hard)
	assert.Less(t, hard, good)
	assert.Less(t, good, easy)
}

func TestInitialDifficultyOrdering(t *testing.T) {
	m := newTestModel(t)

	// Easier first impressions produce lower difficulty.
	again := m.InitialDifficulty(fsrs.RatingAgain)
	easy := m.InitialDifficulty(fsrs.RatingEasy)
	assert.Greater(t, again, easy)

	for r := fsrs.RatingAgain; r <= fsrs.RatingEasy; r++ {
		d := m.InitialDifficulty(r)
		assert.GreaterOrEqual(t, d, 1.0)
		assert.LessOrEqual(t, d, 10.0)
	}
}

func TestNextDifficultyDirection(t *testing.T) {
	m := newTestModel(t)

	d := 5.0
	assert.Greater(t, m.NextDifficulty(d, fsrs.RatingAgain), d, "failure raises difficulty")
	assert.Less(t, m.NextDifficulty(d, fsrs.RatingEasy), d, "easy lowers difficulty")
}

func TestNextDifficultyClamped(t *testing.T) {
	m := newTestModel(t)

	for i := 0; i < 50; i++ {
		d := m.NextDifficulty(10, fsrs.RatingAgain)
		assert.LessOrEqual(t, d, 10.0)
		d = m.NextDifficulty(1, fsrs.RatingEasy)
		assert.GreaterOrEqual(t, d, 1.0)
	}
}

func TestIntervalBoundsAndModifiers(t *testing.T) {
	m, err := fsrs.NewModel(&fsrs.Config{
		Weights:         fsrs.DefaultWeights(),
		MinIntervalDays: 1,
		MaxIntervalDays: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.Interval(0.01, fsrs.RatingGood), "tiny stability floors at min")
	assert.Equal(t, 100.0, m.Interval(1e6, fsrs.RatingGood), "huge stability caps at max")

	good := m.Interval(30, fsrs.RatingGood)
	hard := m.Interval(30, fsrs.RatingHard)
	easy := m.Interval(30, fsrs.RatingEasy)
	assert.Less(t, hard, good, "hard shortens the interval")
	assert.Greater(t, easy, good, "easy lengthens the interval")
}

func TestReviewCardInitializesNewCard(t *testing.T) {
	m := newTestModel(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	result, err := m.ReviewCard(nil, fsrs.RatingGood, now)
	require.NoError(t, err)

	assert.InDelta(t, m.InitialStability(fsrs.RatingGood), result.State.Stability, 1e-9)
	assert.InDelta(t, m.InitialDifficulty(fsrs.RatingGood), result.State.Difficulty, 1e-9)
	assert.Equal(t, 1.0, result.Retrievability)
	require.NotNil(t, result.State.LastReview)
	assert.Equal(t, now, *result.State.LastReview)
	assert.True(t, result.State.NextReview.After(now))
}

func TestReviewCardSuccessGrowsStability(t *testing.T) {
	m := newTestModel(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	first, err := m.ReviewCard(nil, fsrs.RatingGood, now)
	require.NoError(t, err)

	later := now.Add(3 * 24 * time.Hour)
	second, err := m.ReviewCard(&first.State, fsrs.RatingGood, later)
	require.NoError(t, err)

	assert.Greater(t, second.State.Stability, first.State.Stability)
	assert.Less(t, second.Retrievability, 1.0)
	assert.Greater(t, second.Retrievability, 0.0)
}

func TestReviewCardFailureNeverGrowsStability(t *testing.T) {
	m := newTestModel(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	state := fsrs.MemoryState{Stability: 40, Difficulty: 5, LastReview: &now}
	later := now.Add(30 * 24 * time.Hour)
	result, err := m.ReviewCard(&state, fsrs.RatingAgain, later)
	require.NoError(t, err)

	assert.LessOrEqual(t, result.State.Stability, state.Stability)
	assert.Greater(t, result.State.Difficulty, state.Difficulty)
}

func TestReviewCardSameDayPassNeverShrinks(t *testing.T) {
	m := newTestModel(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	first, err := m.ReviewCard(nil, fsrs.RatingGood, now)
	require.NoError(t, err)

	// A confirmation two hours later, same calendar day.
	second, err := m.ReviewCard(&first.State, fsrs.RatingGood, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.State.Stability, first.State.Stability)
}

func TestReviewCardRejectsInvalidRating(t *testing.T) {
	m := newTestModel(t)

	_, err := m.ReviewCard(nil, fsrs.Rating(0), time.Now())
	assert.ErrorIs(t, err, fsrs.ErrInvalidRating)

	_, err = m.ReviewCard(nil, fsrs.Rating(9), time.Now())
	assert.ErrorIs(t, err, fsrs.ErrInvalidRating)
}
