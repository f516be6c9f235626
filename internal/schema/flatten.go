package schema

import (
	"strings"

	"comms-intel-go/internal/types"
)

// listSeparator joins list fields into their human-readable column form.
const listSeparator = ", "

// Flatten projects a validated EmailIntelligence into flat relational
// attributes. Scalar and enum fields copy through verbatim; each list
// field becomes a joined string plus an integer count equal to the true
// cardinality of the source list. Sentiment score, priority, and record
// metadata are filled in by the pipeline from the other stages.
func Flatten(intel types.EmailIntelligence) types.FlattenedRecord {
	return types.FlattenedRecord{
		RecordID:            intel.RecordID,
		ExecutiveSummary:    intel.ExecutiveSummary,
		EmailClassification: intel.EmailClassification,
		CustomerSentiment:   intel.CustomerSentiment,
		ResponseUrgency:     intel.ResponseUrgency,
		EscalationNeeded:    intel.EscalationNeeded,
		FollowUpRequired:    intel.FollowUpRequired,
		NextSteps:           intel.NextSteps,
		KeyTopics:           strings.Join(intel.KeyTopicsDiscussed, listSeparator),
		KeyTopicsCount:      len(intel.KeyTopicsDiscussed),
		CompetitiveMentions: strings.Join(intel.CompetitiveMentions, listSeparator),
		CompetitiveCount:    len(intel.CompetitiveMentions),
	}
}
