package shortterm_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashdeck/recall-go/pkg/fsrs"
	"github.com/flashdeck/recall-go/pkg/shortterm"
)

func newTestModel(t *testing.T) *shortterm.Model {
	t.Helper()
	m, err := shortterm.NewModel(&shortterm.Config{Params: shortterm.DefaultParams()})
	require.NoError(t, err)
	return m
}

func TestParamsSliceRoundTrip(t *testing.T) {
	p := shortterm.DefaultParams()
	vals := p.Slice()
	require.Len(t, vals, shortterm.ParamCount)

	back, err := shortterm.FromSlice(vals)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestParamsValidate(t *testing.T) {
	p := shortterm.DefaultParams()
	assert.NoError(t, p.Validate())

	p.InitialStabilityGood = -1
	assert.Error(t, p.Validate())

	p = shortterm.DefaultParams()
	p.FailureRetention = 1.5
	assert.Error(t, p.Validate())

	p = shortterm.DefaultParams()
	p.GrowthScale = math.NaN()
	assert.Error(t, p.Validate())
}

func TestInitialStabilityPerRating(t *testing.T) {
	m := newTestModel(t)
	p := shortterm.DefaultParams()

	assert.Equal(t, p.InitialStabilityAgain, m.InitialStability(fsrs.RatingAgain))
	assert.Equal(t, p.InitialStabilityHard, m.InitialStability(fsrs.RatingHard))
	assert.Equal(t, p.InitialStabilityGood, m.InitialStability(fsrs.RatingGood))
	assert.Equal(t, p.InitialStabilityEasy, m.InitialStability(fsrs.RatingEasy))
}

func TestRetrievabilityExponential(t *testing.T) {
	m := newTestModel(t)

	// 0.9 after exactly one stability-length.
	assert.InDelta(t, 0.9, m.Retrievability(10, 10), 1e-9)
	assert.Equal(t, 1.0, m.Retrievability(0, 10))
	assert.Equal(t, 0.0, m.Retrievability(5, 0))

	prev := 1.0
	for minutes := 1.0; minutes <= 240; minutes *= 2 {
		r := m.Retrievability(minutes, 10)
		assert.Less(t, r, prev)
		prev = r
	}
}

func TestNextStabilityFailureShrinks(t *testing.T) {
	m := newTestModel(t)
	p := shortterm.DefaultParams()

	next := m.NextStability(20, 10, fsrs.RatingAgain)
	assert.InDelta(t, 20*p.FailureRetention, next, 1e-9)

	// The failure floor: stability never drops under the Again initial.
	next = m.NextStability(1.2, 10, fsrs.RatingAgain)
	assert.Equal(t, p.InitialStabilityAgain, next)
}

func TestNextStabilitySuccessOrdering(t *testing.T) {
	m := newTestModel(t)

	stability, elapsed := 10.0, 15.0
	hard := m.NextStability(stability, elapsed, fsrs.RatingHard)
	good := m.NextStability(stability, elapsed, fsrs.RatingGood)
	easy := m.NextStability(stability, elapsed, fsrs.RatingEasy)

	assert.Greater(t, hard, stability, "any pass grows stability")
	assert.Less(t, hard, good)
	assert.Less(t, good, easy)
}

func TestNextStabilityInitializesFromZero(t *testing.T) {
	m := newTestModel(t)
	p := shortterm.DefaultParams()

	assert.Equal(t, p.InitialStabilityGood, m.NextStability(0, 0, fsrs.RatingGood))
}

func TestIntervalMinutesClamped(t *testing.T) {
	m, err := shortterm.NewModel(&shortterm.Config{
		Params:             shortterm.DefaultParams(),
		MinIntervalMinutes: 2,
		MaxIntervalMinutes: 120,
	})
	require.NoError(t, err)

	assert.Equal(t, 2.0, m.IntervalMinutes(0.1))
	assert.Equal(t, 120.0, m.IntervalMinutes(1e6))

	// With the default 0.9 target the interval equals the stability.
	assert.InDelta(t, 30.0, m.IntervalMinutes(30), 1e-9)
}

func TestShouldGraduateByAttemptCap(t *testing.T) {
	m, err := shortterm.NewModel(&shortterm.Config{
		Params:             shortterm.DefaultParams(),
		MaxLearningReviews: 3,
	})
	require.NoError(t, err)

	assert.False(t, m.ShouldGraduate(10, 3))
	assert.True(t, m.ShouldGraduate(10, 4), "exceeding the attempt cap graduates")
}

func TestShouldGraduateByDayCap(t *testing.T) {
	m, err := shortterm.NewModel(&shortterm.Config{
		Params:            shortterm.DefaultParams(),
		GraduateAfterDays: 1,
	})
	require.NoError(t, err)

	assert.False(t, m.ShouldGraduate(60, 1))
	// Stability above a day's worth of minutes predicts an interval
	// beyond the day cap.
	assert.True(t, m.ShouldGraduate(2000, 1))
}

func TestNewModelRejectsBadParams(t *testing.T) {
	_, err := shortterm.NewModel(nil)
	assert.Error(t, err)

	bad := shortterm.DefaultParams()
	bad.InitialStabilityAgain = 0
	_, err = shortterm.NewModel(&shortterm.Config{Params: bad})
	assert.Error(t, err)
}
