package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"comms-intel-go/internal/schema"
	"comms-intel-go/internal/types"
)

// Service is the external text generation capability. Four call shapes:
// speech-to-text, per-record scalar/label annotation, schema-constrained
// structured extraction, and free-text aggregation over a group.
type Service interface {
	Transcribe(ctx context.Context, audioRef string) (string, error)
	Annotate(ctx context.Context, text, instruction string) (string, error)
	Extract(ctx context.Context, text string, contract schema.Contract) (json.RawMessage, error)
	Aggregate(ctx context.Context, blocks []string, instruction string) (string, error)
}

// CallError classifies a failed service call so the stage runner can
// record the right failure kind for the record.
type CallError struct {
	Kind types.FailureKind
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func unavailable(err error) *CallError {
	return &CallError{Kind: types.FailServiceUnavailable, Err: err}
}

func malformed(err error) *CallError {
	return &CallError{Kind: types.FailMalformedResponse, Err: err}
}

// ClassifyError maps any error from a Service call to a failure kind.
// Unknown errors count as unavailability so they stay retriable on the
// next run.
func ClassifyError(err error) types.FailureKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.FailTimeout
	}
	return types.FailServiceUnavailable
}
