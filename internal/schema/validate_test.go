package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() map[string]any {
	return map[string]any{
		"executive_summary":    "Customer reports a dead battery after two weeks.",
		"email_classification": "Complaint",
		"customer_sentiment":   "negative",
		"response_urgency":     "immediate",
		"escalation_needed":    true,
		"follow_up_required":   true,
		"next_steps":           "Arrange a replacement battery.",
		"key_topics_discussed": []string{"battery", "warranty"},
		"competitive_mentions": []string{},
	}
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestValidateSuccess(t *testing.T) {
	intel, err := Validate(EmailIntelligenceV1, "rec-1", marshal(t, validPayload()))
	require.NoError(t, err)

	assert.Equal(t, "rec-1", intel.RecordID)
	assert.Equal(t, "1.0", intel.SchemaVersion)
	assert.Equal(t, "Complaint", intel.EmailClassification)
	assert.Equal(t, "negative", intel.CustomerSentiment)
	assert.True(t, intel.EscalationNeeded)
	assert.Equal(t, []string{"battery", "warranty"}, intel.KeyTopicsDiscussed)
	assert.Empty(t, intel.CompetitiveMentions)
}

func TestValidateEnumCaseInsensitive(t *testing.T) {
	p := validPayload()
	p["email_classification"] = "complaint"
	intel, err := Validate(EmailIntelligenceV1, "rec-1", marshal(t, p))
	require.NoError(t, err)
	// canonical spelling from the contract, not the response
	assert.Equal(t, "Complaint", intel.EmailClassification)
}

func TestValidateMissingRequiredField(t *testing.T) {
	p := validPayload()
	delete(p, "customer_sentiment")

	_, err := Validate(EmailIntelligenceV1, "rec-2", marshal(t, p))
	require.Error(t, err)

	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "rec-2", v.RecordID)
	assert.Equal(t, "customer_sentiment", v.Field)
	assert.Contains(t, v.Reason, "missing")
}

func TestValidateNullField(t *testing.T) {
	p := validPayload()
	p["next_steps"] = nil

	var v *Violation
	_, err := Validate(EmailIntelligenceV1, "rec-3", marshal(t, p))
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "next_steps", v.Field)
}

func TestValidateEnumOutsideClosedSet(t *testing.T) {
	p := validPayload()
	p["response_urgency"] = "whenever"

	var v *Violation
	_, err := Validate(EmailIntelligenceV1, "rec-4", marshal(t, p))
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "response_urgency", v.Field)
}

func TestValidateWrongType(t *testing.T) {
	p := validPayload()
	p["escalation_needed"] = "yes"

	var v *Violation
	_, err := Validate(EmailIntelligenceV1, "rec-5", marshal(t, p))
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "escalation_needed", v.Field)
}

func TestValidateNotAnObject(t *testing.T) {
	var v *Violation
	_, err := Validate(EmailIntelligenceV1, "rec-6", json.RawMessage(`[1, 2, 3]`))
	require.ErrorAs(t, err, &v)
	assert.Empty(t, v.Field)
}
