package schema

import (
	"encoding/json"
	"fmt"

	"comms-intel-go/internal/types"
)

// Violation reports an extract() response that does not satisfy the
// contract. The record is excluded from the flattened set, never coerced.
type Violation struct {
	RecordID string
	Field    string
	Reason   string
}

func (v *Violation) Error() string {
	if v.Field == "" {
		return fmt.Sprintf("schema violation for record %s: %s", v.RecordID, v.Reason)
	}
	return fmt.Sprintf("schema violation for record %s: field %s: %s", v.RecordID, v.Field, v.Reason)
}

// Validate decodes a raw extract() response against the contract and
// produces a typed EmailIntelligence. Any malformed encoding, missing
// required field, ill-typed value, or enum value outside the closed set
// fails with *Violation.
func Validate(c Contract, recordID string, raw json.RawMessage) (types.EmailIntelligence, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return types.EmailIntelligence{}, &Violation{
			RecordID: recordID,
			Reason:   fmt.Sprintf("response is not a JSON object: %v", err),
		}
	}

	decoded := make(map[string]any, len(c.Fields))
	for _, f := range c.Fields {
		rawVal, ok := fields[f.Name]
		if !ok || string(rawVal) == "null" {
			return types.EmailIntelligence{}, &Violation{
				RecordID: recordID,
				Field:    f.Name,
				Reason:   "required field missing",
			}
		}
		val, err := decodeValue(f, rawVal)
		if err != nil {
			return types.EmailIntelligence{}, &Violation{
				RecordID: recordID,
				Field:    f.Name,
				Reason:   err.Error(),
			}
		}
		decoded[f.Name] = val
	}

	return types.EmailIntelligence{
		RecordID:            recordID,
		SchemaVersion:       c.Version,
		ExecutiveSummary:    decoded["executive_summary"].(string),
		EmailClassification: decoded["email_classification"].(string),
		CustomerSentiment:   decoded["customer_sentiment"].(string),
		ResponseUrgency:     decoded["response_urgency"].(string),
		EscalationNeeded:    decoded["escalation_needed"].(bool),
		FollowUpRequired:    decoded["follow_up_required"].(bool),
		NextSteps:           decoded["next_steps"].(string),
		KeyTopicsDiscussed:  decoded["key_topics_discussed"].([]string),
		CompetitiveMentions: decoded["competitive_mentions"].([]string),
	}, nil
}
