package policy

const (
	// fatigueFailWeight and fatigueSlownessWeight mix the two fatigue
	// signals; they sum to 1.
	fatigueFailWeight     = 0.6
	fatigueSlownessWeight = 0.4

	// baselineResponseMillis is the answer duration considered fully
	// rested; slownessSpanMillis is how much slower counts as fully
	// fatigued.
	baselineResponseMillis = 3000.0
	slownessSpanMillis     = 15000.0
)

// FatigueScore estimates session fatigue in [0, 1] from the trailing
// fail ratio and average response duration. Returns 0 when there is no
// session context.
func FatigueScore(sc *SessionContext) float64 {
	if sc == nil || sc.RecentReviews <= 0 {
		return 0
	}

	failRatio := float64(sc.RecentFailures) / float64(sc.RecentReviews)
	if failRatio < 0 {
		failRatio = 0
	}
	if failRatio > 1 {
		failRatio = 1
	}

	slowness := (sc.AvgResponseMillis - baselineResponseMillis) / slownessSpanMillis
	if slowness < 0 {
		slowness = 0
	}
	if slowness > 1 {
		slowness = 1
	}

	score := fatigueFailWeight*failRatio + fatigueSlownessWeight*slowness
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
