package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldKind is the type of one contract field.
type FieldKind int

const (
	String FieldKind = iota
	Bool
	Enum
	StringList
)

// Field is one required named field of the extraction contract.
type Field struct {
	Name string
	Kind FieldKind
	// Values is the closed set for Enum fields.
	Values []string
}

// Contract is the machine-checkable schema an extract() response must
// satisfy. Every field is required; there are no optional fields in v1.
type Contract struct {
	Version string
	Fields  []Field
}

// EmailIntelligenceV1 is the structured-intelligence contract. Field
// names match the flattened warehouse columns.
var EmailIntelligenceV1 = Contract{
	Version: "1.0",
	Fields: []Field{
		{Name: "executive_summary", Kind: String},
		{Name: "email_classification", Kind: Enum, Values: []string{
			"Complaint", "Inquiry", "Feedback", "Compliment",
			"Purchase Intent", "Support Request", "Other",
		}},
		{Name: "customer_sentiment", Kind: Enum, Values: []string{
			"positive", "neutral", "negative",
		}},
		{Name: "response_urgency", Kind: Enum, Values: []string{
			"immediate", "within_24_hours", "within_week", "no_response_needed",
		}},
		{Name: "escalation_needed", Kind: Bool},
		{Name: "follow_up_required", Kind: Bool},
		{Name: "next_steps", Kind: String},
		{Name: "key_topics_discussed", Kind: StringList},
		{Name: "competitive_mentions", Kind: StringList},
	},
}

// PromptSkeleton renders the contract as the JSON skeleton embedded in
// the extract instruction, one line per field with its constraint.
func (c Contract) PromptSkeleton() string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, f := range c.Fields {
		b.WriteString(fmt.Sprintf("  %q: ", f.Name))
		switch f.Kind {
		case String:
			b.WriteString(`""`)
		case Bool:
			b.WriteString("false")
		case Enum:
			b.WriteString(fmt.Sprintf(`""  // one of: %s`, strings.Join(f.Values, " | ")))
		case StringList:
			b.WriteString("[]")
		}
		if i < len(c.Fields)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

// decodeValue checks one raw JSON value against a field definition and
// returns the typed value (string, bool, or []string).
func decodeValue(f Field, raw json.RawMessage) (any, error) {
	switch f.Kind {
	case String:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected string")
		}
		return s, nil
	case Bool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("expected boolean")
		}
		return b, nil
	case Enum:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected string")
		}
		for _, v := range f.Values {
			if strings.EqualFold(strings.TrimSpace(s), v) {
				return v, nil
			}
		}
		return nil, fmt.Errorf("%q is not in the closed set %v", s, f.Values)
	case StringList:
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("expected array of strings")
		}
		if list == nil {
			list = []string{}
		}
		return list, nil
	}
	return nil, fmt.Errorf("unknown field kind %d", f.Kind)
}
