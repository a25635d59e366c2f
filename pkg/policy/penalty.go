package policy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/flashdeck/recall-go/pkg/fsrs"
)

// PenaltyConfig tunes the passive-reveal penalty.
type PenaltyConfig struct {
	// MinRevealSeconds is the minimum reveal duration that counts as a
	// real exposure. Shorter reveals are ignored. Default: 5.
	MinRevealSeconds int

	// DueHorizonHours limits the penalty to cards due within this many
	// hours; cards far from due need no protection. Default: 36.
	DueHorizonHours float64

	// FuzzHoursMin and FuzzHoursMax bound the fuzz window added to the
	// next review time. Defaults: 4 and 24.
	FuzzHoursMin float64
	FuzzHoursMax float64

	// StabilityDampingDays controls how the fuzz shrinks with
	// stability: strong memories need less protection from a passive
	// exposure. Default: 30.
	StabilityDampingDays float64
}

// PenaltyEngine pushes a card's next review forward ("fuzzes" it) when
// the learner passively saw the answer outside a graded review, for
// example while editing the card. Stability and difficulty are never
// touched, and the next review time never moves earlier.
type PenaltyEngine struct {
	cfg PenaltyConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPenaltyEngine creates a penalty engine, filling zero
// configuration fields with defaults. The seed makes the fuzz window
// reproducible; pass time.Now().UnixNano() for production use.
func NewPenaltyEngine(cfg *PenaltyConfig, seed int64) *PenaltyEngine {
	c := PenaltyConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.MinRevealSeconds <= 0 {
		c.MinRevealSeconds = 5
	}
	if c.DueHorizonHours <= 0 {
		c.DueHorizonHours = 36
	}
	if c.FuzzHoursMin <= 0 {
		c.FuzzHoursMin = 4
	}
	if c.FuzzHoursMax <= c.FuzzHoursMin {
		c.FuzzHoursMax = c.FuzzHoursMin + 20
	}
	if c.StabilityDampingDays <= 0 {
		c.StabilityDampingDays = 30
	}
	return &PenaltyEngine{
		cfg: c,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Apply returns the card state after a passive reveal of
// revealedForSeconds. The penalty is skipped entirely (state returned
// unchanged) when the reveal was too short or the card is not due
// within the configured horizon.
func (e *PenaltyEngine) Apply(state *fsrs.MemoryState, revealedForSeconds int, now time.Time) *fsrs.MemoryState {
	if state == nil {
		return nil
	}
	next := *state
	if revealedForSeconds < e.cfg.MinRevealSeconds {
		return &next
	}
	horizon := now.Add(time.Duration(e.cfg.DueHorizonHours * float64(time.Hour)))
	if state.NextReview.After(horizon) {
		return &next
	}

	e.mu.Lock()
	window := e.cfg.FuzzHoursMin + e.rng.Float64()*(e.cfg.FuzzHoursMax-e.cfg.FuzzHoursMin)
	e.mu.Unlock()

	// Strong memories survive a passive exposure; weak ones need the
	// full window.
	damp := e.cfg.StabilityDampingDays
	scale := 1.5 * damp / (damp + state.Stability)
	if scale < 0.25 {
		scale = 0.25
	}
	if scale > 1.5 {
		scale = 1.5
	}
	window *= scale

	next.NextReview = state.NextReview.Add(time.Duration(window * float64(time.Hour)))
	return &next
}
