package priority

import "comms-intel-go/internal/types"

// SentimentCategory is the three-way bucket of a sentiment score.
type SentimentCategory string

const (
	Positive SentimentCategory = "positive"
	Neutral  SentimentCategory = "neutral"
	Negative SentimentCategory = "negative"
)

// Sentiment thresholds are policy constants, not derived values. The
// audio path in the legacy warehouse app used a different frustration
// cutoff than the email path; the email rule is canonical and both
// origin kinds go through these constants now.
const (
	positiveThreshold = 0.1
	negativeThreshold = -0.1
)

// Categorize maps a bounded sentiment score in [-1, 1] to its category.
func Categorize(score float64) SentimentCategory {
	switch {
	case score >= positiveThreshold:
		return Positive
	case score <= negativeThreshold:
		return Negative
	default:
		return Neutral
	}
}

// Decide combines a record's sentiment category with its escalation
// flags into a priority label. Pure and total: every input combination
// yields exactly one of standard, medium, high.
//
// Rule, tie-break order matters:
//   - negative sentiment AND any flag set  -> high
//   - negative sentiment OR  any flag set  -> medium
//   - otherwise                            -> standard
//
// A flag that is absent from the map (for example because the service
// call for it failed) counts as false; priority is always computable
// when sentiment is known.
func Decide(cat SentimentCategory, flags map[string]bool) types.Priority {
	anyFlag := false
	for _, v := range flags {
		if v {
			anyFlag = true
			break
		}
	}

	negative := cat == Negative
	switch {
	case negative && anyFlag:
		return types.PriorityHigh
	case negative || anyFlag:
		return types.PriorityMedium
	default:
		return types.PriorityStandard
	}
}
