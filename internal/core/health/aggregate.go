package health

import (
	"math"
	"time"
)

// =============================================================================
// Weights and Scores
// =============================================================================

// priorityWeights maps a check's priority to its weight in the overall score.
var priorityWeights = map[Priority]float64{
	PriorityCritical: 20,
	PriorityHigh:     10,
	PriorityMedium:   5,
	PriorityLow:      1,
}

// statusScores maps a check's verdict to its score contribution.
// A skipped check counts as passing - an unreachable capability must not
// drag the score down.
var statusScores = map[CheckStatus]float64{
	CheckPass: 1,
	CheckWarn: 0.5,
	CheckFail: 0,
	CheckSkip: 1,
}

// Weight returns the aggregation weight for a priority.
// Unknown priorities weigh like low.
func Weight(p Priority) float64 {
	if w, ok := priorityWeights[p]; ok {
		return w
	}
	return priorityWeights[PriorityLow]
}

// =============================================================================
// Aggregation
// =============================================================================

// Score computes the weighted 0-100 overall health for a check set.
// overallHealth = round(100 * sum(weight*score) / sum(weight)).
func Score(checks []Check) int {
	if len(checks) == 0 {
		return 0
	}

	var weighted, total float64
	for _, c := range checks {
		w := Weight(c.Priority)
		total += w
		weighted += w * statusScores[c.Status]
	}
	if total == 0 {
		return 0
	}

	score := int(math.Round(100 * weighted / total))
	// Clamp, the invariant is overallHealth in [0,100].
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Aggregate folds a check set into one Status. Tiering rules apply in order:
//
//  1. any critical-priority fail, or score < 30  -> critical
//  2. any high-priority fail, or more than two warnings, or score < 70 -> warning
//  3. score > 90 -> healthy
//  4. otherwise -> warning
//
// Rule 4 means the 70-90 band with zero failures still yields warning:
// healthy requires a score above 90, so a degraded-but-passing system
// stays flagged.
func Aggregate(checks []Check, now time.Time) Status {
	if len(checks) == 0 {
		return Status{Status: StatusUnknown, Timestamp: now, OverallHealth: 0}
	}

	score := Score(checks)

	var criticalFails, highFails, warnings int
	for _, c := range checks {
		switch c.Status {
		case CheckFail:
			switch c.Priority {
			case PriorityCritical:
				criticalFails++
			case PriorityHigh:
				highFails++
			}
		case CheckWarn:
			warnings++
		}
	}

	status := StatusWarning
	switch {
	case criticalFails > 0 || score < 30:
		status = StatusCritical
	case highFails > 0 || warnings > 2 || score < 70:
		status = StatusWarning
	case score > 90:
		status = StatusHealthy
	}

	return Status{
		Status:        status,
		Timestamp:     now,
		Checks:        checks,
		OverallHealth: score,
	}
}
