// Package insights groups enriched records by a predicate and summarizes
// each group through one aggregation call, producing pattern-level
// narratives for reporting.
package insights

import (
	"context"
	"fmt"
	"strings"

	"comms-intel-go/internal/textgen"
	"comms-intel-go/internal/types"
)

// Predicate selects flattened records into a group.
type Predicate func(types.FlattenedRecord) bool

func ByClassification(c string) Predicate {
	return func(r types.FlattenedRecord) bool { return r.EmailClassification == c }
}

func BySentiment(category string) Predicate {
	return func(r types.FlattenedRecord) bool { return r.SentimentCategory == category }
}

func EscalationNeeded() Predicate {
	return func(r types.FlattenedRecord) bool { return r.EscalationNeeded }
}

func HighPriority() Predicate {
	return func(r types.FlattenedRecord) bool { return r.Priority == types.PriorityHigh }
}

func And(ps ...Predicate) Predicate {
	return func(r types.FlattenedRecord) bool {
		for _, p := range ps {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Selector builds aggregate insights over the flattened record set.
type Selector struct {
	svc textgen.Service
}

func NewSelector(svc textgen.Service) *Selector {
	return &Selector{svc: svc}
}

// Build filters records by pred, assembles each member's identifying
// fields and summary into an ordered block list, and issues exactly one
// aggregation call for the group. An empty group is an explicit
// empty-result outcome: no call is made.
func (s *Selector) Build(ctx context.Context, records []types.FlattenedRecord, groupKey string, pred Predicate, instruction string) (types.AggregateInsight, error) {
	var (
		members []string
		blocks  []string
	)
	for _, r := range records {
		if !pred(r) {
			continue
		}
		members = append(members, r.RecordID)
		blocks = append(blocks, memberBlock(r))
	}

	if len(members) == 0 {
		return types.AggregateInsight{GroupKey: groupKey, Empty: true}, nil
	}

	narrative, err := s.svc.Aggregate(ctx, blocks, instruction)
	if err != nil {
		return types.AggregateInsight{}, fmt.Errorf("aggregate %s: %w", groupKey, err)
	}
	return types.AggregateInsight{
		GroupKey:        groupKey,
		MemberRecordIDs: members,
		Narrative:       narrative,
	}, nil
}

func memberBlock(r types.FlattenedRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "record: %s\n", r.RecordID)
	if r.CustomerName != "" {
		fmt.Fprintf(&b, "customer: %s (%s)\n", r.CustomerName, r.CustomerID)
	} else {
		fmt.Fprintf(&b, "customer: %s\n", r.CustomerID)
	}
	fmt.Fprintf(&b, "classification: %s | sentiment: %s | urgency: %s\n",
		r.EmailClassification, r.SentimentCategory, r.ResponseUrgency)
	fmt.Fprintf(&b, "summary: %s", r.ExecutiveSummary)
	return b.String()
}

// Group is a named, pre-canned selection the CLI and API expose.
type Group struct {
	Key         string
	Predicate   Predicate
	Instruction string
}

// NamedGroup resolves the well-known group names.
func NamedGroup(name string) (Group, bool) {
	switch name {
	case "complaints":
		return Group{
			Key:         "complaints",
			Predicate:   And(ByClassification("Complaint"), BySentiment("negative")),
			Instruction: "These are negative-sentiment complaints. Identify the recurring problems, their likely root causes, and the three most impactful fixes for the customer service team.",
		}, true
	case "escalations":
		return Group{
			Key:         "escalations",
			Predicate:   EscalationNeeded(),
			Instruction: "These communications were flagged for escalation. Summarize what is driving escalations and which customers need attention first.",
		}, true
	case "negative":
		return Group{
			Key:         "negative",
			Predicate:   BySentiment("negative"),
			Instruction: "These communications carry negative sentiment. Describe the dominant dissatisfaction themes and any early churn signals.",
		}, true
	case "high-priority":
		return Group{
			Key:         "high-priority",
			Predicate:   HighPriority(),
			Instruction: "These records were rated high priority. Summarize the common threads and recommend immediate actions.",
		}, true
	}
	return Group{}, false
}
