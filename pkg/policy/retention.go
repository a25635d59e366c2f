package policy

// RetentionConfig tunes the adaptive target-retention policy.
type RetentionConfig struct {
	// MinTarget and MaxTarget bound the per-user target retention.
	// Defaults: 0.75 and 0.97.
	MinTarget float64
	MaxTarget float64

	// Step is the fixed increment a single recommendation may move the
	// target by. Default: 0.01.
	Step float64

	// MinReviews and MinSessions are the evidence thresholds; below
	// both, the policy only ever answers "keep, low confidence".
	// Defaults: 200 and 10.
	MinReviews  int
	MinSessions int
}

// RetentionStats aggregates observed-vs-predicted recall over a
// trailing window. Produced out-of-band from the review log.
type RetentionStats struct {
	// ObservedRecallRate is the fraction of reviews actually recalled.
	ObservedRecallRate float64

	// PredictedRecallRate is the mean model-predicted retrievability
	// at review time over the same window.
	PredictedRecallRate float64

	// BrierScore is the calibration error of the predictions, in
	// [0, 1]; lower is better calibrated.
	BrierScore float64

	// ReviewCount and SessionCount size the evidence window.
	ReviewCount  int
	SessionCount int

	// LowReliability marks windows the aggregator could not trust
	// (sparse days, clock skew, imported history).
	LowReliability bool
}

// RetentionRecommendation is the policy output: the recommended new
// target and why.
type RetentionRecommendation struct {
	// Target is the recommended target retention, already clamped to
	// the configured bounds.
	Target float64 `json:"target"`

	// Direction is "raise", "lower" or "keep".
	Direction string `json:"direction"`

	// Reason names the rule that fired.
	Reason string `json:"reason"`

	// Confident is false when the evidence threshold was not met and
	// the recommendation is a no-op placeholder.
	Confident bool `json:"confident"`
}

const (
	// recallGapThreshold is the observed-vs-predicted gap (in recall
	// probability) that triggers an adjustment.
	recallGapThreshold = 0.05

	// brierRaiseThreshold is the calibration error above which the
	// target is raised to be more conservative.
	brierRaiseThreshold = 0.22

	// brierGoodThreshold is the calibration error under which the
	// load-reduction rule may lower the target.
	brierGoodThreshold = 0.15
)

// Retention recommends per-user target-retention adjustments from
// aggregated review statistics. It runs out-of-band, never on the
// review path.
type Retention struct {
	cfg RetentionConfig
}

// NewRetention creates a retention policy, filling zero configuration
// fields with defaults.
func NewRetention(cfg *RetentionConfig) *Retention {
	c := RetentionConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.MinTarget <= 0 {
		c.MinTarget = 0.75
	}
	if c.MaxTarget <= 0 || c.MaxTarget >= 1 {
		c.MaxTarget = 0.97
	}
	if c.Step <= 0 {
		c.Step = 0.01
	}
	if c.MinReviews <= 0 {
		c.MinReviews = 200
	}
	if c.MinSessions <= 0 {
		c.MinSessions = 10
	}
	return &Retention{cfg: c}
}

// Recommend returns the adjustment for a user currently at the given
// target retention.
//
// The rules, in order:
//   - insufficient evidence or low reliability: keep, low confidence
//   - observed recall more than 5pp below predicted: raise
//   - calibration error above 0.22: raise (be conservative)
//   - observed recall more than 5pp above predicted: lower
//   - high volume with good recall and good calibration: lower
//     (reduce load)
//   - otherwise: keep
func (p *Retention) Recommend(current float64, stats *RetentionStats) *RetentionRecommendation {
	if stats == nil ||
		stats.LowReliability ||
		(stats.ReviewCount < p.cfg.MinReviews && stats.SessionCount < p.cfg.MinSessions) {
		return &RetentionRecommendation{
			Target:    p.clampTarget(current),
			Direction: "keep",
			Reason:    "low_confidence",
			Confident: false,
		}
	}

	gap := stats.ObservedRecallRate - stats.PredictedRecallRate

	switch {
	case gap < -recallGapThreshold:
		return p.step(current, +1, "observed_below_predicted")
	case stats.BrierScore > brierRaiseThreshold:
		return p.step(current, +1, "poor_calibration")
	case gap > recallGapThreshold:
		return p.step(current, -1, "observed_above_predicted")
	case stats.ReviewCount >= 3*p.cfg.MinReviews &&
		stats.ObservedRecallRate >= current &&
		stats.BrierScore <= brierGoodThreshold:
		return p.step(current, -1, "reduce_load")
	default:
		return &RetentionRecommendation{
			Target:    p.clampTarget(current),
			Direction: "keep",
			Reason:    "within_band",
			Confident: true,
		}
	}
}

// step moves the target one configured increment in the given
// direction, clamped to the bounds. A step that clamps back to the
// current value degrades to "keep".
func (p *Retention) step(current float64, direction int, reason string) *RetentionRecommendation {
	target := p.clampTarget(current + float64(direction)*p.cfg.Step)
	dir := "raise"
	if direction < 0 {
		dir = "lower"
	}
	if target == p.clampTarget(current) {
		dir = "keep"
		reason = reason + "_at_bound"
	}
	return &RetentionRecommendation{
		Target:    target,
		Direction: dir,
		Reason:    reason,
		Confident: true,
	}
}

func (p *Retention) clampTarget(v float64) float64 {
	if v < p.cfg.MinTarget {
		return p.cfg.MinTarget
	}
	if v > p.cfg.MaxTarget {
		return p.cfg.MaxTarget
	}
	return v
}
