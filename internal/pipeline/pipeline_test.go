package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms-intel-go/internal/schema"
	"comms-intel-go/internal/store"
	"comms-intel-go/internal/textgen"
	"comms-intel-go/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store) {
	t.Helper()
	records := []types.SourceRecord{
		{ID: "a1", OriginKind: types.OriginAudio, RawPayloadRef: "https://calls/a1.mp3",
			CustomerID: "c-1", CustomerName: "Dana Ortiz",
			ReceivedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "e1", OriginKind: types.OriginEmail,
			RawPayloadRef: "Thank you, great service on the delivery.",
			CustomerID:    "c-2", CustomerName: "Lee Park",
			ReceivedAt: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
		{ID: "e2", OriginKind: types.OriginEmail,
			RawPayloadRef: "Could you tell me the price of the new model?",
			CustomerID:    "c-3",
			ReceivedAt: time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, s.UpsertSourceRecords(context.Background(), records))
}

func angryTranscript(string) (string, error) {
	return "The customer is angry and frustrated about a refund and needs help urgently and immediately.", nil
}

func TestRunEndToEnd(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	mock := textgen.NewMock()
	mock.TranscribeFn = angryTranscript

	report, err := New(st, mock, 3).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Sources)
	assert.Equal(t, 1, report.Transcribed)
	assert.Equal(t, 3, report.Extracted)
	assert.Equal(t, 3, report.Flattened)
	assert.Empty(t, report.Failures)
	assert.NotEmpty(t, report.RunID)

	flat, err := st.FlattenedRecords(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, flat, 3)

	byID := map[string]types.FlattenedRecord{}
	for _, f := range flat {
		byID[f.RecordID] = f
	}

	call := byID["a1"]
	assert.Equal(t, "negative", call.SentimentCategory)
	assert.Equal(t, types.PriorityHigh, call.Priority, "negative sentiment plus escalation flags")
	assert.True(t, call.EscalationNeeded)
	assert.Equal(t, "Dana Ortiz", call.CustomerName)
	assert.Equal(t, types.OriginAudio, call.OriginKind)

	praise := byID["e1"]
	assert.Equal(t, "positive", praise.SentimentCategory)
	assert.Equal(t, types.PriorityStandard, praise.Priority)
	assert.Equal(t, 2, praise.KeyTopicsCount)
	assert.Equal(t, "delivery, service", praise.KeyTopics)

	inquiry := byID["e2"]
	assert.Equal(t, "neutral", inquiry.SentimentCategory)
	assert.Equal(t, types.PriorityStandard, inquiry.Priority)

	// every annotation kind materialized for every text unit
	summaries, err := st.Annotations(context.Background(), types.KindSummary)
	require.NoError(t, err)
	assert.Len(t, summaries, 3)
	scores, err := st.Annotations(context.Background(), types.KindSentimentScore)
	require.NoError(t, err)
	assert.Len(t, scores, 3)
	flags, err := st.Annotations(context.Background(), types.FlagKind(types.FlagFrustration))
	require.NoError(t, err)
	assert.Equal(t, "true", flags["a1"].Value)
	assert.Equal(t, "false", flags["e1"].Value)
}

func TestRunIdempotent(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	mock := textgen.NewMock()
	mock.TranscribeFn = angryTranscript
	runner := New(st, mock, 2)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	first, err := st.FlattenedRecords(context.Background(), store.Filter{})
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)
	second, err := st.FlattenedRecords(context.Background(), store.Filter{})
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-running on the same inputs must replace, not append or drift")

	transcripts, err := st.Transcripts(context.Background())
	require.NoError(t, err)
	assert.Len(t, transcripts, 1)
}

func TestRunPartialTranscriptionFailure(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	mock := textgen.NewMock()
	mock.TranscribeFn = func(ref string) (string, error) {
		return "", errors.New("speech service unreachable")
	}

	report, err := New(st, mock, 2).Run(context.Background())
	require.NoError(t, err, "a per-record failure must not abort the run")

	assert.Equal(t, 0, report.Transcribed)
	assert.Equal(t, 2, report.Flattened, "email records are unaffected")
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "a1", report.Failures[0].RecordID)
	assert.Equal(t, "transcribe", report.Failures[0].Stage)
	assert.Equal(t, types.FailServiceUnavailable, report.Failures[0].Kind)

	// failures are enumerable after the run for targeted retries
	recorded, err := st.FailuresForRun(context.Background(), report.RunID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "a1", recorded[0].RecordID)

	flat, err := st.FlattenedRecords(context.Background(), store.Filter{})
	require.NoError(t, err)
	for _, f := range flat {
		assert.NotEqual(t, "a1", f.RecordID)
	}
}

func TestRerunPurgesOutputOfNewlyFailingRecord(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpsertSourceRecords(context.Background(), []types.SourceRecord{
		{ID: "a1", OriginKind: types.OriginAudio, RawPayloadRef: "https://calls/a1.mp3",
			CustomerID: "c-1", ReceivedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "e1", OriginKind: types.OriginEmail, RawPayloadRef: "Thanks, great help.",
			CustomerID: "c-2", ReceivedAt: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
	}))
	mock := textgen.NewMock()
	mock.TranscribeFn = angryTranscript
	runner := New(st, mock, 2)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	flat, err := st.FlattenedRecords(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, flat, 2)

	// the audio record starts failing on the second run
	mock.TranscribeFn = func(string) (string, error) {
		return "", errors.New("speech service unreachable")
	}
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)

	// none of run 1's derived rows for the failed record survive
	transcripts, err := st.Transcripts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transcripts)

	summaries, err := st.Annotations(context.Background(), types.KindSummary)
	require.NoError(t, err)
	assert.NotContains(t, summaries, "a1")
	assert.Contains(t, summaries, "e1")

	intel, err := st.Intelligence(context.Background())
	require.NoError(t, err)
	require.Len(t, intel, 1)
	assert.Equal(t, "e1", intel[0].RecordID)

	flat, err = st.FlattenedRecords(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, flat, 1)
	assert.Equal(t, "e1", flat[0].RecordID)
}

func TestRunSchemaViolationExcludesRecord(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	mock := textgen.NewMock()
	mock.TranscribeFn = angryTranscript
	mock.ExtractFn = func(text string, contract schema.Contract) (json.RawMessage, error) {
		payload := map[string]any{
			"executive_summary":    "summary",
			"email_classification": "Complaint",
			"response_urgency":     "immediate",
			"escalation_needed":    true,
			"follow_up_required":   true,
			"next_steps":           "call back",
			"key_topics_discussed": []string{"refund"},
			"competitive_mentions": []string{},
		}
		if !strings.Contains(text, "price") {
			// only the inquiry gets a complete response
			payload["customer_sentiment"] = "negative"
		} else {
			payload["customer_sentiment"] = "neutral"
		}
		if strings.Contains(text, "Thank you") {
			delete(payload, "customer_sentiment")
		}
		raw, _ := json.Marshal(payload)
		return raw, nil
	}

	report, err := New(st, mock, 2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Extracted)
	assert.Equal(t, 2, report.Flattened)

	var violation *types.RecordFailure
	for i := range report.Failures {
		if report.Failures[i].RecordID == "e1" {
			violation = &report.Failures[i]
		}
	}
	require.NotNil(t, violation, "the record with the incomplete response must be reported")
	assert.Equal(t, "extract", violation.Stage)
	assert.Equal(t, types.FailSchemaViolation, violation.Kind)
	assert.Contains(t, violation.Detail, "customer_sentiment")

	flat, err := st.FlattenedRecords(context.Background(), store.Filter{})
	require.NoError(t, err)
	for _, f := range flat {
		assert.NotEqual(t, "e1", f.RecordID, "violating record must be excluded, not coerced")
	}
}

func TestRunFlagFailureIsNotBlocking(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpsertSourceRecords(context.Background(), []types.SourceRecord{
		{ID: "e1", OriginKind: types.OriginEmail,
			RawPayloadRef: "The delivery was terrible and the package arrived broken.",
			CustomerID:    "c-9",
			ReceivedAt:    time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
	}))

	mock := textgen.NewMock()
	mock.AnnotateFn = func(text, instruction string) (string, error) {
		li := strings.ToLower(instruction)
		switch {
		case strings.Contains(li, "sentiment"):
			return "-0.5", nil
		case strings.Contains(li, "classif"):
			return "Complaint", nil
		case strings.Contains(li, "summar"):
			return "Broken delivery.", nil
		case strings.Contains(li, "frustrat"):
			return "", errors.New("flag service down")
		default:
			return "no", nil
		}
	}

	report, err := New(st, mock, 1).Run(context.Background())
	require.NoError(t, err)

	var flagFailure bool
	for _, f := range report.Failures {
		if f.Stage == "flag_"+types.FlagFrustration {
			flagFailure = true
		}
	}
	assert.True(t, flagFailure, "the failed flag call is recorded")

	flat, err := st.FlattenedRecords(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, flat, 1, "the record still flows through the pipeline")
	// absent frustration flag counts as false: negative sentiment alone is medium
	assert.Equal(t, types.PriorityMedium, flat[0].Priority)
}

func TestParseScore(t *testing.T) {
	score, err := parseScore(" -0.35 ")
	require.NoError(t, err)
	assert.InDelta(t, -0.35, score, 1e-9)

	_, err = parseScore("quite negative")
	require.Error(t, err)
	assert.Equal(t, types.FailMalformedResponse, textgen.ClassifyError(err))

	_, err = parseScore("3.5")
	require.Error(t, err)
}

func TestParseYesNo(t *testing.T) {
	for raw, want := range map[string]bool{
		"yes":       true,
		"Yes.":      true,
		" TRUE ":    true,
		"y":         true,
		"no":        false,
		"No, never": false,
		"":          false,
		"maybe":     false,
	} {
		assert.Equal(t, want, parseYesNo(raw), fmt.Sprintf("parseYesNo(%q)", raw))
	}
}
