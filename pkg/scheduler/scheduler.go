package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/flashdeck/recall-go/pkg/content"
	"github.com/flashdeck/recall-go/pkg/flags"
	"github.com/flashdeck/recall-go/pkg/fsrs"
	"github.com/flashdeck/recall-go/pkg/policy"
	"github.com/flashdeck/recall-go/pkg/shortterm"
	"github.com/flashdeck/recall-go/pkg/storage"
)

const minutesPerDay = 24 * 60

// Scheduler is the review orchestrator. It is safe for concurrent use;
// per-card consistency is enforced by the store's transactions and the
// optimistic version check, not by locking in this struct.
type Scheduler struct {
	cfg       *Config
	store     storage.Store
	flags     flags.Provider
	node      *snowflake.Node
	penalty   *policy.PenaltyEngine
	shortLoop *policy.ShortLoop
	retention *policy.Retention
	detector  *content.Detector
}

// New creates a Scheduler on top of a store and a feature-flag
// provider. A nil cfg uses DefaultConfig; a nil flag provider behaves
// as all-flags-disabled.
func New(cfg *Config, store storage.Store, flagProvider flags.Provider) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, NewSchedulerError("New", fmt.Errorf("nil store: %w", ErrInvalidConfig))
	}
	if flagProvider == nil {
		flagProvider = flags.NewStatic()
	}
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, NewSchedulerError("New", fmt.Errorf("%v: %w", err, ErrInvalidConfig))
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		flags:     flagProvider,
		node:      node,
		penalty:   policy.NewPenaltyEngine(&cfg.Penalty, time.Now().UnixNano()),
		shortLoop: policy.NewShortLoop(&cfg.ShortLoop),
		retention: policy.NewRetention(&cfg.Retention),
		detector:  content.NewDetector(),
	}, nil
}

// models builds the per-user model pair from the user's fitted
// parameters, falling back to the configured defaults for users the
// optimizer has never fit. Parameters are read fresh on every call so
// an optimizer commit takes effect on the next review.
func (s *Scheduler) models(ctx context.Context, userID string) (*fsrs.Model, *shortterm.Model, float64, error) {
	weights := s.cfg.Weights
	stParams := s.cfg.ShortTermParams
	target := s.cfg.TargetRetention

	rec, err := s.store.GetUserParams(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, 0, fmt.Errorf("%v: %w", err, ErrStorageOperation)
	}
	if rec != nil {
		if len(rec.Weights) > 0 {
			weights = rec.Weights
		}
		if len(rec.ShortTermParams) > 0 {
			stParams = rec.ShortTermParams
		}
		if rec.TargetRetention > 0 {
			target = rec.TargetRetention
		}
	}

	w, err := fsrs.FromSlice(weights)
	if err != nil {
		return nil, nil, 0, err
	}
	ltm, err := fsrs.NewModel(&fsrs.Config{
		Weights:         w,
		TargetRetention: target,
		MinIntervalDays: s.cfg.MinIntervalDays,
		MaxIntervalDays: s.cfg.MaxIntervalDays,
	})
	if err != nil {
		return nil, nil, 0, err
	}
	p, err := shortterm.FromSlice(stParams)
	if err != nil {
		return nil, nil, 0, err
	}
	stm, err := shortterm.NewModel(&shortterm.Config{
		Params:             p,
		TargetRetention:    target,
		MinIntervalMinutes: s.cfg.MinIntervalMinutes,
		MaxIntervalMinutes: s.cfg.MaxIntervalMinutes,
		GraduateAfterDays:  s.cfg.GraduateAfterDays,
		MaxLearningReviews: s.cfg.MaxLearningReviews,
	})
	if err != nil {
		return nil, nil, 0, err
	}
	return ltm, stm, target, nil
}

// Review applies one graded review to a card and persists the outcome.
//
// The card's state, the audit event and the short-loop day counters are
// written in one transaction. A concurrent review of the same card
// fails with ErrConflict and leaves storage untouched; callers retry
// the whole call.
//
// Example:
//
//	outcome, err := sched.Review(ctx, userID, cardID, fsrs.RatingGood,
//		scheduler.WithDuration(4*time.Second),
//		scheduler.WithStudyMode(policy.ModeIntensive))
func (s *Scheduler) Review(ctx context.Context, userID, cardID string, rating fsrs.Rating, opts ...ReviewOption) (*ReviewOutcome, error) {
	if !rating.Valid() {
		return nil, NewSchedulerError("Review", fmt.Errorf("rating %d: %w", int(rating), ErrInvalidRating))
	}
	if userID == "" || cardID == "" {
		return nil, NewSchedulerError("Review", fmt.Errorf("user and card IDs must be set: %w", ErrInvalidState))
	}
	o := applyReviewOptions(opts)

	ltm, stm, _, err := s.models(ctx, userID)
	if err != nil {
		return nil, NewSchedulerError("Review", err)
	}

	shortLoopEnabled, err := s.flags.IsEnabledForUser(ctx, s.cfg.ShortLoopFlagKey, userID)
	if err != nil {
		// A broken flag backend must not block reviews; fall back to
		// the model schedule.
		shortLoopEnabled = false
	}

	var outcome *ReviewOutcome
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		state, err := s.loadState(ctx, tx, userID, cardID)
		if err != nil {
			return err
		}

		event := &ReviewEvent{
			ID:          s.node.Generate().Int64(),
			UserID:      userID,
			CardID:      cardID,
			Rating:      rating,
			ReviewedAt:  o.now,
			ReviewState: state.Phase,
			Duration:    o.duration,
		}
		if state.LongTerm != nil {
			event.StabilityBefore = state.LongTerm.Stability
			event.DifficultyBefore = state.LongTerm.Difficulty
		}
		if state.LastReview != nil {
			elapsed := o.now.Sub(*state.LastReview)
			if elapsed < 0 {
				elapsed = 0
			}
			event.ElapsedDays = elapsed.Hours() / 24
			event.ScheduledDays = state.NextReview.Sub(*state.LastReview).Hours() / 24
		}

		outcome, err = s.applyReview(state, rating, ltm, stm, &o)
		if err != nil {
			return err
		}
		outcome.Event = event

		if outcome.State.InLearningLoop() {
			if err := s.runShortLoop(ctx, tx, outcome, rating, ltm, &o, shortLoopEnabled); err != nil {
				return err
			}
		}

		event.Retrievability = outcome.Retrievability
		if outcome.State.LongTerm != nil {
			event.StabilityAfter = outcome.State.LongTerm.Stability
			event.DifficultyAfter = outcome.State.LongTerm.Difficulty
		}

		expected := outcome.State.Version
		outcome.State.LastReview = &o.now
		if err := tx.PutCardState(ctx, toRecord(outcome.State, o.now), expected); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				return fmt.Errorf("card %s: %w", cardID, ErrConflict)
			}
			return fmt.Errorf("PutCardState: %v: %w", err, ErrStorageOperation)
		}
		outcome.State.Version = expected + 1

		if err := tx.AppendReviewEvent(ctx, toEventRecord(event)); err != nil {
			return fmt.Errorf("AppendReviewEvent: %v: %w", err, ErrStorageOperation)
		}
		return nil
	})
	if err != nil {
		return nil, NewSchedulerError("Review", err)
	}
	return outcome, nil
}

// applyReview runs the state machine for one rating: initialization for
// new cards, the short-term update with graduation checks for learning
// cards, and the long-term update with lapse re-entry for review cards.
func (s *Scheduler) applyReview(state *CardState, rating fsrs.Rating, ltm *fsrs.Model, stm *shortterm.Model, o *reviewOptions) (*ReviewOutcome, error) {
	switch state.Phase {
	case PhaseNew:
		stability := stm.InitialStability(rating)
		state.Phase = PhaseLearning
		state.Learning = &LearningState{StabilityMinutes: stability, ReviewCount: 1}
		if stm.ShouldGraduate(stability, 1) {
			return s.graduate(state, rating, ltm, o.now, 1)
		}
		return s.scheduleLearning(state, stm, o.now, 1), nil

	case PhaseLearning, PhaseRelearning:
		elapsedMinutes := 0.0
		if state.LastReview != nil {
			if m := o.now.Sub(*state.LastReview).Minutes(); m > 0 {
				elapsedMinutes = m
			}
		}
		retr := stm.Retrievability(elapsedMinutes, state.Learning.StabilityMinutes)
		next := stm.NextStability(state.Learning.StabilityMinutes, elapsedMinutes, rating)
		state.Learning.StabilityMinutes = next
		state.Learning.ReviewCount++
		if stm.ShouldGraduate(next, state.Learning.ReviewCount) {
			return s.graduate(state, rating, ltm, o.now, retr)
		}
		return s.scheduleLearning(state, stm, o.now, retr), nil

	case PhaseReview:
		result, err := ltm.ReviewCard(state.LongTerm, rating, o.now)
		if err != nil {
			return nil, err
		}
		lt := result.State
		state.LongTerm = &lt
		state.CriticalBefore, state.HighRiskBefore = ltm.RiskHorizons(state.LongTerm)

		if rating == fsrs.RatingAgain && s.cfg.RelearningEnabled {
			// The lapse is already applied to the long-term state; the
			// card now relearns on the minute scale and re-graduates
			// later without touching that state again.
			state.Phase = PhaseRelearning
			state.Learning = &LearningState{
				StabilityMinutes: stm.InitialStability(fsrs.RatingAgain),
				ReviewCount:      1,
			}
			return s.scheduleLearning(state, stm, o.now, result.Retrievability), nil
		}

		state.NextReview = state.LongTerm.NextReview
		return &ReviewOutcome{
			State:          state,
			Retrievability: result.Retrievability,
			IntervalDays:   result.IntervalDays,
			Message:        result.Message,
		}, nil

	default:
		return nil, fmt.Errorf("phase %q: %w", state.Phase, ErrInvalidState)
	}
}

// graduate promotes a learning-phase card to the long-term schedule.
// First-time graduations seed the long-term state from the rating;
// relearning cards keep their already-lapsed long-term state.
func (s *Scheduler) graduate(state *CardState, rating fsrs.Rating, ltm *fsrs.Model, now time.Time, retr float64) (*ReviewOutcome, error) {
	outcome := &ReviewOutcome{Retrievability: retr}

	if state.Phase == PhaseRelearning && state.LongTerm != nil {
		// Lapse already applied on loop entry; re-schedule from the
		// retained state.
		interval := ltm.Interval(state.LongTerm.Stability, rating)
		reviewedAt := now
		state.LongTerm.LastReview = &reviewedAt
		state.LongTerm.NextReview = now.Add(time.Duration(interval * 24 * float64(time.Hour)))
		outcome.IntervalDays = interval
		outcome.Message = fmt.Sprintf("relearned, next review in %.0f days", interval)
	} else {
		result, err := ltm.ReviewCard(state.LongTerm, rating, now)
		if err != nil {
			return nil, err
		}
		lt := result.State
		state.LongTerm = &lt
		outcome.IntervalDays = result.IntervalDays
		outcome.Message = result.Message
	}

	graduatedAt := now
	state.Phase = PhaseReview
	state.Learning = nil
	state.GraduatedAt = &graduatedAt
	state.NextReview = state.LongTerm.NextReview
	state.CriticalBefore, state.HighRiskBefore = ltm.RiskHorizons(state.LongTerm)
	outcome.State = state
	return outcome, nil
}

// scheduleLearning sets the next review from the short-term interval.
func (s *Scheduler) scheduleLearning(state *CardState, stm *shortterm.Model, now time.Time, retr float64) *ReviewOutcome {
	minutes := stm.IntervalMinutes(state.Learning.StabilityMinutes)
	state.NextReview = now.Add(time.Duration(minutes * float64(time.Minute)))
	return &ReviewOutcome{
		State:          state,
		Retrievability: retr,
		IntervalDays:   minutes / minutesPerDay,
		Message:        fmt.Sprintf("next review in %.0f minutes", minutes),
	}
}

// runShortLoop applies the same-day loop to a card that is still in a
// learning phase after the model update, persisting the day counters in
// the same transaction.
func (s *Scheduler) runShortLoop(ctx context.Context, tx storage.Tx, outcome *ReviewOutcome, rating fsrs.Rating, ltm *fsrs.Model, o *reviewOptions, enabled bool) error {
	state := outcome.State
	day := policy.DayKey(o.now)

	dayState := policy.DayState{UserID: state.UserID, CardID: state.CardID, Day: day}
	if rec, err := tx.GetDayState(ctx, state.UserID, state.CardID, day); err == nil {
		dayState = fromDayRecord(rec)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("GetDayState: %v: %w", err, ErrStorageOperation)
	}

	card := &policy.CardContext{
		UserID:    state.UserID,
		CardID:    state.CardID,
		Important: o.important,
	}
	if state.LongTerm != nil && state.LongTerm.Stability > 0 {
		card.HasLongTermStability = true
		card.Difficulty = state.LongTerm.Difficulty
	}

	decision, updated := s.shortLoop.Evaluate(card, rating, o.session, dayState, o.mode, enabled)
	outcome.ShortLoop = decision

	switch decision.Action {
	case policy.ActionReinsertToday:
		state.NextReview = o.now.Add(time.Duration(decision.NextGapSeconds) * time.Second)
	case policy.ActionDefer:
		// Keep the model-computed schedule.
	case policy.ActionGraduate:
		g, err := s.graduate(state, rating, ltm, o.now, outcome.Retrievability)
		if err != nil {
			return err
		}
		outcome.IntervalDays = g.IntervalDays
		outcome.Message = g.Message
	}

	if enabled {
		if err := tx.UpsertDayState(ctx, toDayRecord(&updated, o.now)); err != nil {
			return fmt.Errorf("UpsertDayState: %v: %w", err, ErrStorageOperation)
		}
	}
	return nil
}

// DueCard is a due-query result: a card state with its recall
// probability at query time, whichever model governs the card.
type DueCard struct {
	// State is the card's current scheduling state.
	State *CardState

	// Retrievability is the recall probability at query time.
	Retrievability float64
}

// DueCards returns the user's cards due at or before now, most at-risk
// first. limit <= 0 means no limit.
func (s *Scheduler) DueCards(ctx context.Context, userID string, now time.Time, limit int) ([]DueCard, error) {
	ltm, stm, _, err := s.models(ctx, userID)
	if err != nil {
		return nil, NewSchedulerError("DueCards", err)
	}
	recs, err := s.store.ListCardStates(ctx, userID, now, limit)
	if err != nil {
		return nil, NewSchedulerError("DueCards", fmt.Errorf("%v: %w", err, ErrStorageOperation))
	}

	due := make([]DueCard, 0, len(recs))
	for _, rec := range recs {
		state := fromRecord(rec)
		retr := 1.0
		if state.LastReview != nil {
			elapsed := now.Sub(*state.LastReview)
			if state.InLearningLoop() && state.Learning != nil {
				retr = stm.Retrievability(elapsed.Minutes(), state.Learning.StabilityMinutes)
			} else if state.LongTerm != nil {
				retr = ltm.Retrievability(elapsed.Hours()/24, state.LongTerm.Stability)
			}
		}
		due = append(due, DueCard{State: state, Retrievability: retr})
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Retrievability < due[j].Retrievability
	})
	return due, nil
}

// ApplyManagementPenalty pushes a card's next review forward after the
// learner passively saw the answer outside a graded review. Memory
// state is untouched; the update only ever moves the next review later.
// Returns the stored state, unchanged when the penalty did not apply.
func (s *Scheduler) ApplyManagementPenalty(ctx context.Context, userID, cardID string, revealedForSeconds int, now time.Time) (*CardState, error) {
	var state *CardState
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		state, err = s.loadState(ctx, tx, userID, cardID)
		if err != nil {
			return err
		}
		if state.Phase != PhaseReview || state.LongTerm == nil {
			return nil
		}

		fuzzed := s.penalty.Apply(state.LongTerm, revealedForSeconds, now)
		if fuzzed.NextReview.Equal(state.LongTerm.NextReview) {
			return nil
		}
		expected := state.Version
		state.LongTerm = fuzzed
		state.NextReview = fuzzed.NextReview
		if err := tx.PutCardState(ctx, toRecord(state, now), expected); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				return fmt.Errorf("card %s: %w", cardID, ErrConflict)
			}
			return fmt.Errorf("PutCardState: %v: %w", err, ErrStorageOperation)
		}
		state.Version = expected + 1
		return nil
	})
	if err != nil {
		return nil, NewSchedulerError("ApplyManagementPenalty", err)
	}
	return state, nil
}

// HandleContentEdit measures how much a card's text changed and, when
// the change is large enough that the old memory no longer describes
// the material, resets the card to the new phase. The change report is
// always returned; the state is only written on a reset.
func (s *Scheduler) HandleContentEdit(ctx context.Context, userID, cardID, oldText, newText string, now time.Time) (*content.ChangeReport, *CardState, error) {
	report := s.detector.Detect(oldText, newText)
	if !report.ShouldReset {
		return &report, nil, nil
	}

	var state *CardState
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		state, err = s.loadState(ctx, tx, userID, cardID)
		if err != nil {
			return err
		}
		if state.Phase == PhaseNew {
			return nil
		}
		expected := state.Version
		state.Phase = PhaseNew
		state.LongTerm = nil
		state.Learning = nil
		state.LastReview = nil
		state.GraduatedAt = nil
		state.CriticalBefore = nil
		state.HighRiskBefore = nil
		state.NextReview = now
		if err := tx.PutCardState(ctx, toRecord(state, now), expected); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				return fmt.Errorf("card %s: %w", cardID, ErrConflict)
			}
			return fmt.Errorf("PutCardState: %v: %w", err, ErrStorageOperation)
		}
		state.Version = expected + 1
		return nil
	})
	if err != nil {
		return &report, nil, NewSchedulerError("HandleContentEdit", err)
	}
	return &report, state, nil
}

// RecommendRetention evaluates a user's aggregated review statistics
// and, when the recommendation is confident and moves the target,
// persists the new per-user target retention.
func (s *Scheduler) RecommendRetention(ctx context.Context, userID string, stats *policy.RetentionStats) (*policy.RetentionRecommendation, error) {
	current := s.cfg.TargetRetention
	rec, err := s.store.GetUserParams(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, NewSchedulerError("RecommendRetention", fmt.Errorf("%v: %w", err, ErrStorageOperation))
	}
	if rec != nil && rec.TargetRetention > 0 {
		current = rec.TargetRetention
	}

	recommendation := s.retention.Recommend(current, stats)
	if !recommendation.Confident || recommendation.Target == current {
		return recommendation, nil
	}

	params := &storage.UserParamsRecord{UserID: userID}
	if rec != nil {
		params = rec
	}
	params.TargetRetention = recommendation.Target
	if err := s.store.PutUserParams(ctx, params); err != nil {
		return nil, NewSchedulerError("RecommendRetention", fmt.Errorf("PutUserParams: %v: %w", err, ErrStorageOperation))
	}
	return recommendation, nil
}

// GetCardState loads a card's current scheduling state, or a fresh new
// card when it was never reviewed.
func (s *Scheduler) GetCardState(ctx context.Context, userID, cardID string) (*CardState, error) {
	var state *CardState
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		state, err = s.loadState(ctx, tx, userID, cardID)
		return err
	})
	if err != nil {
		return nil, NewSchedulerError("GetCardState", err)
	}
	return state, nil
}

// loadState fetches a card state within a transaction, mapping a
// missing row to a fresh new card.
func (s *Scheduler) loadState(ctx context.Context, tx storage.Tx, userID, cardID string) (*CardState, error) {
	rec, err := tx.GetCardState(ctx, userID, cardID)
	if errors.Is(err, storage.ErrNotFound) {
		return &CardState{UserID: userID, CardID: cardID, Phase: PhaseNew}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetCardState: %v: %w", err, ErrStorageOperation)
	}
	state := fromRecord(rec)
	if err := state.validate(); err != nil {
		return nil, err
	}
	return state, nil
}
