package types

import "fmt"

// FailureKind classifies why a single record could not be enriched.
type FailureKind string

const (
	// FailServiceUnavailable: the text generation service could not be
	// reached after the retry ceiling.
	FailServiceUnavailable FailureKind = "service_unavailable"
	// FailMalformedResponse: the service answered but the output was not
	// parseable in the expected shape. Not retried.
	FailMalformedResponse FailureKind = "malformed_response"
	// FailSchemaViolation: an extract() response did not validate against
	// the schema contract. Not retried.
	FailSchemaViolation FailureKind = "schema_violation"
	// FailTimeout: a single per-record call timed out. Treated like a
	// per-record failure, never a stage abort.
	FailTimeout FailureKind = "timeout"
)

// RecordFailure records one record that a stage could not produce output
// for. Stages complete with a list of these; they never silently drop
// rows and never abort on them.
type RecordFailure struct {
	RecordID string      `json:"record_id"`
	Stage    string      `json:"stage"`
	Kind     FailureKind `json:"kind"`
	Detail   string      `json:"detail,omitempty"`
}

func (f RecordFailure) Error() string {
	return fmt.Sprintf("%s: record %s: %s (%s)", f.Stage, f.RecordID, f.Kind, f.Detail)
}
