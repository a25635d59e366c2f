package scheduler

import (
	"time"

	"github.com/flashdeck/recall-go/pkg/fsrs"
	"github.com/flashdeck/recall-go/pkg/policy"
	"github.com/flashdeck/recall-go/pkg/storage"
)

// toRecord flattens a card state for persistence.
func toRecord(state *CardState, now time.Time) *storage.CardStateRecord {
	rec := &storage.CardStateRecord{
		UserID:         state.UserID,
		CardID:         state.CardID,
		Phase:          string(state.Phase),
		LastReview:     state.LastReview,
		NextReview:     state.NextReview,
		GraduatedAt:    state.GraduatedAt,
		CriticalBefore: state.CriticalBefore,
		HighRiskBefore: state.HighRiskBefore,
		Version:        state.Version,
		UpdatedAt:      now,
	}
	if state.LongTerm != nil {
		rec.Stability = state.LongTerm.Stability
		rec.Difficulty = state.LongTerm.Difficulty
	}
	if state.Learning != nil {
		stability := state.Learning.StabilityMinutes
		rec.ShortStabilityMinutes = &stability
		rec.LearningReviewCount = state.Learning.ReviewCount
	}
	return rec
}

// fromRecord rebuilds a card state from its flattened row. The phase
// decides which model fields are reconstructed.
func fromRecord(rec *storage.CardStateRecord) *CardState {
	state := &CardState{
		UserID:         rec.UserID,
		CardID:         rec.CardID,
		Phase:          Phase(rec.Phase),
		LastReview:     rec.LastReview,
		NextReview:     rec.NextReview,
		GraduatedAt:    rec.GraduatedAt,
		CriticalBefore: rec.CriticalBefore,
		HighRiskBefore: rec.HighRiskBefore,
		Version:        rec.Version,
	}
	if state.Phase == PhaseReview || state.Phase == PhaseRelearning {
		state.LongTerm = &fsrs.MemoryState{
			Stability:  rec.Stability,
			Difficulty: rec.Difficulty,
			LastReview: rec.LastReview,
			NextReview: rec.NextReview,
		}
	}
	if state.InLearningLoop() && rec.ShortStabilityMinutes != nil {
		state.Learning = &LearningState{
			StabilityMinutes: *rec.ShortStabilityMinutes,
			ReviewCount:      rec.LearningReviewCount,
		}
	}
	return state
}

// toEventRecord flattens an audit event for persistence.
func toEventRecord(event *ReviewEvent) *storage.ReviewEventRecord {
	return &storage.ReviewEventRecord{
		ID:               event.ID,
		UserID:           event.UserID,
		CardID:           event.CardID,
		Rating:           int(event.Rating),
		ReviewedAt:       event.ReviewedAt,
		ReviewState:      string(event.ReviewState),
		ScheduledDays:    event.ScheduledDays,
		ElapsedDays:      event.ElapsedDays,
		StabilityBefore:  event.StabilityBefore,
		StabilityAfter:   event.StabilityAfter,
		DifficultyBefore: event.DifficultyBefore,
		DifficultyAfter:  event.DifficultyAfter,
		Retrievability:   event.Retrievability,
		DurationMillis:   event.Duration.Milliseconds(),
	}
}

func toDayRecord(day *policy.DayState, now time.Time) *storage.DayStateRecord {
	return &storage.DayStateRecord{
		UserID:               day.UserID,
		CardID:               day.CardID,
		Day:                  day.Day,
		Iteration:            day.Iteration,
		ReviewsToday:         day.ReviewsToday,
		ConsecutiveSuccesses: day.ConsecutiveSuccesses,
		ConsecutiveFailures:  day.ConsecutiveFailures,
		UpdatedAt:            now,
	}
}

func fromDayRecord(rec *storage.DayStateRecord) policy.DayState {
	return policy.DayState{
		UserID:               rec.UserID,
		CardID:               rec.CardID,
		Day:                  rec.Day,
		Iteration:            rec.Iteration,
		ReviewsToday:         rec.ReviewsToday,
		ConsecutiveSuccesses: rec.ConsecutiveSuccesses,
		ConsecutiveFailures:  rec.ConsecutiveFailures,
	}
}
