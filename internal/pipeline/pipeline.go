// Package pipeline sequences the enrichment stages over the full record
// set: transcribe, summarize, sentiment+classify, escalation flags,
// priority, structured extraction, flatten. Each stage fully
// materializes its output through the record store before the next
// stage reads; per-record failures accumulate into the run report and
// never abort the run. Every derived set is replaced for every record
// that entered the run, so a record that fails a stage keeps no stale
// derived rows from an earlier run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"comms-intel-go/internal/logger"
	"comms-intel-go/internal/priority"
	"comms-intel-go/internal/schema"
	"comms-intel-go/internal/stage"
	"comms-intel-go/internal/store"
	"comms-intel-go/internal/textgen"
	"comms-intel-go/internal/types"
)

// Instructions sent with the per-record annotate calls. The boolean
// questions are phrased for a yes/no answer; each one is asked at most
// once per record per run and the answer is shared between the stored
// annotation and the priority policy.
const (
	summaryInstruction   = "Summarize this customer communication in one or two sentences for an executive readout."
	sentimentInstruction = "Rate the overall customer sentiment of this text as a single number between -1.0 (very negative) and 1.0 (very positive)."
	classifyInstruction  = "Classify this customer communication into exactly one category: Complaint, Inquiry, Feedback, Compliment, Purchase Intent, Support Request, Other. Answer with the category only."

	frustrationInstruction = "Does this text indicate the customer is frustrated? Answer yes or no."
	urgentInstruction      = "Does this text describe an urgent issue that needs immediate attention? Answer yes or no."
)

// Runner executes full enrichment runs.
type Runner struct {
	store       *store.Store
	svc         textgen.Service
	contract    schema.Contract
	concurrency int
	log         *logrus.Entry
}

func New(st *store.Store, svc textgen.Service, concurrency int) *Runner {
	return &Runner{
		store:       st,
		svc:         svc,
		contract:    schema.EmailIntelligenceV1,
		concurrency: concurrency,
		log:         logger.New().WithComponent("pipeline"),
	}
}

// RunReport is what callers get back: counts per stage plus the exact
// record ids that failed and why, so the failed subset can be re-run.
type RunReport struct {
	RunID       string                `json:"run_id"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	Sources     int                   `json:"sources"`
	Transcribed int                   `json:"transcribed"`
	Annotated   int                   `json:"annotated"`
	Extracted   int                   `json:"extracted"`
	Flattened   int                   `json:"flattened"`
	Failures    []types.RecordFailure `json:"failures,omitempty"`
}

// Run enriches every source record currently in the store. Store write
// failures are fatal to the run; per-record service failures are not.
func (r *Runner) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	log := r.log.WithField("run_id", report.RunID)

	sources, err := r.store.SourceRecords(ctx)
	if err != nil {
		return report, fmt.Errorf("load source records: %w", err)
	}
	report.Sources = len(sources)
	log.WithField("sources", len(sources)).Info("pipeline run started")

	byID := make(map[string]types.SourceRecord, len(sources))
	for _, s := range sources {
		byID[s.ID] = s
	}
	allIDs := recordIDs(sources)

	// Stage 1: transcribe audio records.
	units, err := r.transcribe(ctx, sources, &report)
	if err != nil {
		return report, err
	}
	log.WithField("text_units", len(units)).Info("text units resolved")

	// Stage 2: summaries.
	if err := r.summarize(ctx, units, allIDs, &report); err != nil {
		return report, err
	}

	// Stage 3: combined sentiment + classification.
	sentiments, err := r.sentimentClassify(ctx, units, allIDs, &report)
	if err != nil {
		return report, err
	}

	// Stage 4: boolean escalation flags, one call per flag per record.
	flags, err := r.escalationFlags(ctx, units, allIDs, &report)
	if err != nil {
		return report, err
	}

	// Stage 5: priority decisions (pure, no service calls).
	priorities, err := r.decidePriorities(ctx, allIDs, sentiments, flags)
	if err != nil {
		return report, err
	}

	// Stage 6: structured extraction against the schema contract.
	intel, err := r.extract(ctx, units, allIDs, &report)
	if err != nil {
		return report, err
	}

	// Stage 7: flatten into the relational view.
	if err := r.flatten(ctx, units, allIDs, byID, sentiments, priorities, intel, &report); err != nil {
		return report, err
	}

	if err := r.store.RecordRunFailures(ctx, report.RunID, report.Failures); err != nil {
		return report, fmt.Errorf("record failures: %w", err)
	}

	report.FinishedAt = time.Now().UTC()
	log.WithFields(logrus.Fields{
		"flattened": report.Flattened,
		"failures":  len(report.Failures),
	}).Info("pipeline run finished")
	return report, nil
}

// transcribe runs speech-to-text over the audio records and resolves the
// text unit for every record: transcript text for audio, the raw body
// for email. Records whose transcription failed have no text unit and
// drop out of the downstream stages for this run; the downstream
// replaces purge whatever those records produced on earlier runs.
func (r *Runner) transcribe(ctx context.Context, sources []types.SourceRecord, report *RunReport) ([]types.TextUnit, error) {
	var audio []types.SourceRecord
	for _, s := range sources {
		if s.OriginKind == types.OriginAudio {
			audio = append(audio, s)
		}
	}

	res, err := stage.Run(ctx, audio,
		func(s types.SourceRecord) string { return s.ID },
		func(ctx context.Context, s types.SourceRecord) (types.Transcript, error) {
			text, err := r.svc.Transcribe(ctx, s.RawPayloadRef)
			if err != nil {
				return types.Transcript{}, err
			}
			return types.Transcript{RecordID: s.ID, Text: text, ProducedAt: time.Now().UTC()}, nil
		},
		stage.Options{Name: "transcribe", Concurrency: r.concurrency, Classify: textgen.ClassifyError})
	if err != nil {
		return nil, err
	}
	report.Failures = append(report.Failures, res.Failures...)

	rows := make([]types.Transcript, 0, len(res.Outputs))
	for _, t := range res.Outputs {
		rows = append(rows, t)
	}
	if err := r.store.ReplaceTranscripts(ctx, recordIDs(audio), rows); err != nil {
		return nil, fmt.Errorf("materialize transcripts: %w", err)
	}
	report.Transcribed = len(rows)

	units := make([]types.TextUnit, 0, len(sources))
	for _, s := range sources {
		switch s.OriginKind {
		case types.OriginAudio:
			if t, ok := res.Outputs[s.ID]; ok {
				units = append(units, types.TextUnit{RecordID: s.ID, Text: t.Text})
			}
		case types.OriginEmail:
			units = append(units, types.TextUnit{RecordID: s.ID, Text: s.RawPayloadRef})
		}
	}
	return units, nil
}

func (r *Runner) summarize(ctx context.Context, units []types.TextUnit, ids []string, report *RunReport) error {
	res, err := stage.Run(ctx, units, unitID,
		func(ctx context.Context, u types.TextUnit) (types.Annotation, error) {
			value, err := r.svc.Annotate(ctx, u.Text, summaryInstruction)
			if err != nil {
				return types.Annotation{}, err
			}
			return types.Annotation{
				RecordID:   u.RecordID,
				Kind:       types.KindSummary,
				Value:      strings.TrimSpace(value),
				ProducedAt: time.Now().UTC(),
			}, nil
		},
		stage.Options{Name: "summarize", Concurrency: r.concurrency, Classify: textgen.ClassifyError})
	if err != nil {
		return err
	}
	report.Failures = append(report.Failures, res.Failures...)

	rows := make([]types.Annotation, 0, len(res.Outputs))
	for _, a := range res.Outputs {
		rows = append(rows, a)
	}
	if err := r.store.ReplaceAnnotations(ctx, ids,
		[]types.AnnotationKind{types.KindSummary}, rows); err != nil {
		return fmt.Errorf("materialize summaries: %w", err)
	}
	report.Annotated += len(rows)
	return nil
}

// sentiment pairs the bounded score with its threshold category.
type sentiment struct {
	Score    float64
	Category priority.SentimentCategory
}

// sentimentClassify issues two independent annotate calls per record and
// writes both signals as annotations sharing the record id.
func (r *Runner) sentimentClassify(ctx context.Context, units []types.TextUnit, ids []string, report *RunReport) (map[string]sentiment, error) {
	type combined struct {
		score    types.Annotation
		category types.Annotation
		value    sentiment
	}

	res, err := stage.Run(ctx, units, unitID,
		func(ctx context.Context, u types.TextUnit) (combined, error) {
			rawScore, err := r.svc.Annotate(ctx, u.Text, sentimentInstruction)
			if err != nil {
				return combined{}, err
			}
			score, err := parseScore(rawScore)
			if err != nil {
				return combined{}, err
			}

			label, err := r.svc.Annotate(ctx, u.Text, classifyInstruction)
			if err != nil {
				return combined{}, err
			}

			now := time.Now().UTC()
			return combined{
				score: types.Annotation{
					RecordID: u.RecordID, Kind: types.KindSentimentScore,
					Value: strconv.FormatFloat(score, 'f', 2, 64), ProducedAt: now,
				},
				category: types.Annotation{
					RecordID: u.RecordID, Kind: types.KindCategoryLabel,
					Value: strings.TrimSpace(label), ProducedAt: now,
				},
				value: sentiment{Score: score, Category: priority.Categorize(score)},
			}, nil
		},
		stage.Options{Name: "sentiment_classify", Concurrency: r.concurrency, Classify: textgen.ClassifyError})
	if err != nil {
		return nil, err
	}
	report.Failures = append(report.Failures, res.Failures...)

	rows := make([]types.Annotation, 0, 2*len(res.Outputs))
	out := make(map[string]sentiment, len(res.Outputs))
	for id, c := range res.Outputs {
		rows = append(rows, c.score, c.category)
		out[id] = c.value
	}
	if err := r.store.ReplaceAnnotations(ctx, ids,
		[]types.AnnotationKind{types.KindSentimentScore, types.KindCategoryLabel}, rows); err != nil {
		return nil, fmt.Errorf("materialize sentiment annotations: %w", err)
	}
	report.Annotated += len(rows)
	return out, nil
}

// escalationFlags asks each yes/no question once per record. A failed
// flag call is recorded but does not remove the record from the run: the
// priority policy treats the absent value as false.
func (r *Runner) escalationFlags(ctx context.Context, units []types.TextUnit, ids []string, report *RunReport) (map[string]map[string]bool, error) {
	flagInstructions := []struct {
		name        string
		instruction string
	}{
		{types.FlagFrustration, frustrationInstruction},
		{types.FlagUrgent, urgentInstruction},
	}

	flags := make(map[string]map[string]bool, len(units))
	for _, u := range units {
		flags[u.RecordID] = make(map[string]bool, len(flagInstructions))
	}

	var rows []types.Annotation
	var kinds []types.AnnotationKind
	for _, fi := range flagInstructions {
		kinds = append(kinds, types.FlagKind(fi.name))
		res, err := stage.Run(ctx, units, unitID,
			func(ctx context.Context, u types.TextUnit) (types.Annotation, error) {
				answer, err := r.svc.Annotate(ctx, u.Text, fi.instruction)
				if err != nil {
					return types.Annotation{}, err
				}
				return types.Annotation{
					RecordID:   u.RecordID,
					Kind:       types.FlagKind(fi.name),
					Value:      strconv.FormatBool(parseYesNo(answer)),
					ProducedAt: time.Now().UTC(),
				}, nil
			},
			stage.Options{Name: "flag_" + fi.name, Concurrency: r.concurrency, Classify: textgen.ClassifyError})
		if err != nil {
			return nil, err
		}
		report.Failures = append(report.Failures, res.Failures...)

		for id, a := range res.Outputs {
			rows = append(rows, a)
			flags[id][fi.name] = a.Value == "true"
		}
	}

	if err := r.store.ReplaceAnnotations(ctx, ids, kinds, rows); err != nil {
		return nil, fmt.Errorf("materialize flag annotations: %w", err)
	}
	report.Annotated += len(rows)
	return flags, nil
}

// decidePriorities applies the pure policy to every record with a known
// sentiment, reusing the flag answers already computed this run.
func (r *Runner) decidePriorities(ctx context.Context, ids []string, sentiments map[string]sentiment, flags map[string]map[string]bool) (map[string]types.Priority, error) {
	rows := make([]types.PriorityDecision, 0, len(sentiments))
	out := make(map[string]types.Priority, len(sentiments))
	for id, s := range sentiments {
		p := priority.Decide(s.Category, flags[id])
		rows = append(rows, types.PriorityDecision{RecordID: id, Priority: p})
		out[id] = p
	}
	if err := r.store.ReplacePriorityDecisions(ctx, ids, rows); err != nil {
		return nil, fmt.Errorf("materialize priorities: %w", err)
	}
	return out, nil
}

// extract runs the schema-constrained extraction and validates every
// response. A response that fails validation excludes the record from
// the structured set and is surfaced as a schema violation.
func (r *Runner) extract(ctx context.Context, units []types.TextUnit, ids []string, report *RunReport) (map[string]types.EmailIntelligence, error) {
	res, err := stage.Run(ctx, units, unitID,
		func(ctx context.Context, u types.TextUnit) (types.EmailIntelligence, error) {
			raw, err := r.svc.Extract(ctx, u.Text, r.contract)
			if err != nil {
				return types.EmailIntelligence{}, err
			}
			return schema.Validate(r.contract, u.RecordID, raw)
		},
		stage.Options{Name: "extract", Concurrency: r.concurrency, Classify: classifyExtract})
	if err != nil {
		return nil, err
	}
	report.Failures = append(report.Failures, res.Failures...)

	rows := make([]types.EmailIntelligence, 0, len(res.Outputs))
	for _, intel := range res.Outputs {
		rows = append(rows, intel)
	}
	if err := r.store.ReplaceIntelligence(ctx, ids, rows); err != nil {
		return nil, fmt.Errorf("materialize intelligence: %w", err)
	}
	report.Extracted = len(rows)
	return res.Outputs, nil
}

// flatten projects every record that has structured intelligence plus
// the annotation-derived signals into the relational view.
func (r *Runner) flatten(ctx context.Context, units []types.TextUnit, ids []string, sources map[string]types.SourceRecord,
	sentiments map[string]sentiment, priorities map[string]types.Priority,
	intel map[string]types.EmailIntelligence, report *RunReport) error {

	var rows []types.FlattenedRecord
	for _, u := range units {
		in, ok := intel[u.RecordID]
		if !ok {
			continue
		}
		sent, ok := sentiments[u.RecordID]
		if !ok {
			continue
		}

		f := schema.Flatten(in)
		src := sources[u.RecordID]
		f.CustomerID = src.CustomerID
		f.CustomerName = src.CustomerName
		f.OriginKind = src.OriginKind
		f.ReceivedAt = src.ReceivedAt
		f.SentimentScore = sent.Score
		f.SentimentCategory = string(sent.Category)
		f.Priority = priorities[u.RecordID]
		rows = append(rows, f)
	}

	if err := r.store.ReplaceFlattened(ctx, ids, rows); err != nil {
		return fmt.Errorf("materialize flattened records: %w", err)
	}
	report.Flattened = len(rows)
	return nil
}

func classifyExtract(err error) types.FailureKind {
	var v *schema.Violation
	if errors.As(err, &v) {
		return types.FailSchemaViolation
	}
	return textgen.ClassifyError(err)
}

func parseScore(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	score, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &textgen.CallError{
			Kind: types.FailMalformedResponse,
			Err:  fmt.Errorf("sentiment score %q is not a number", raw),
		}
	}
	if score < -1 || score > 1 {
		return 0, &textgen.CallError{
			Kind: types.FailMalformedResponse,
			Err:  fmt.Errorf("sentiment score %v outside [-1, 1]", score),
		}
	}
	return score, nil
}

func parseYesNo(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(s, "yes") || strings.HasPrefix(s, "true") || s == "y"
}

func unitID(u types.TextUnit) string { return u.RecordID }

func recordIDs(records []types.SourceRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
