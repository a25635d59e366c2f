package fsrs

import (
	"sort"
	"time"
)

// CardSnapshot pairs a card identifier with its long-term memory state
// for due-card queries. State may be nil for cards that were never
// reviewed.
type CardSnapshot struct {
	// ID is the card identifier.
	ID string

	// State is the card's long-term memory state.
	State *MemoryState
}

// ScoredCard is a card together with its retrievability at query time.
type ScoredCard struct {
	// ID is the card identifier.
	ID string

	// State is the card's long-term memory state.
	State *MemoryState

	// Retrievability is the recall probability at query time.
	Retrievability float64
}

// DueCards filters cards whose retrievability has decayed to or below
// the model's target retention and sorts them ascending by
// retrievability, so the most at-risk cards come first.
//
// Cards with no state or no recorded review are skipped; they belong
// to the learning phase, not the long-term queue.
func (m *Model) DueCards(cards []CardSnapshot, now time.Time) []ScoredCard {
	due := make([]ScoredCard, 0, len(cards))
	for _, c := range cards {
		if c.State == nil || c.State.LastReview == nil || c.State.Stability <= 0 {
			continue
		}
		elapsedDays := now.Sub(*c.State.LastReview).Hours() / hoursPerDay
		r := m.Retrievability(elapsedDays, c.State.Stability)
		if r > m.targetRetention {
			continue
		}
		due = append(due, ScoredCard{ID: c.ID, State: c.State, Retrievability: r})
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Retrievability < due[j].Retrievability
	})
	return due
}

// RiskHorizons returns the instants at which the card's retrievability
// will fall under the critical (0.1) and high-risk (0.5) levels.
//
// The horizons are recomputed whenever long-term stability changes so
// "due and at risk" queries stay O(1) reads against stored timestamps
// instead of per-card curve evaluations.
func (m *Model) RiskHorizons(state *MemoryState) (criticalBefore, highRiskBefore *time.Time) {
	if state == nil || state.Stability <= 0 || state.LastReview == nil {
		return nil, nil
	}
	critical := state.LastReview.Add(daysToDuration(m.TimeToRetrievability(state.Stability, CriticalRetrievability)))
	highRisk := state.LastReview.Add(daysToDuration(m.TimeToRetrievability(state.Stability, HighRiskRetrievability)))
	return &critical, &highRisk
}
