package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"comms-intel-go/internal/types"
)

// ReplaceTranscripts replaces the transcript set for the given input ids
// in one transaction: previous rows for those ids are removed and the
// new rows inserted. Re-running the transcribe stage therefore overwrites
// instead of appending.
func (s *Store) ReplaceTranscripts(ctx context.Context, ids []string, rows []types.Transcript) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteByIDs(ctx, tx, "transcripts", ids); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO transcripts (record_id, text, produced_at) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, t := range rows {
			if _, err := stmt.ExecContext(ctx, t.RecordID, t.Text,
				t.ProducedAt.UTC().Format(time.RFC3339)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Transcripts returns the transcript per record id.
func (s *Store) Transcripts(ctx context.Context) (map[string]types.Transcript, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record_id, text, produced_at FROM transcripts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]types.Transcript)
	for rows.Next() {
		var t types.Transcript
		var produced string
		if err := rows.Scan(&t.RecordID, &t.Text, &produced); err != nil {
			return nil, err
		}
		t.ProducedAt, _ = time.Parse(time.RFC3339, produced)
		out[t.RecordID] = t
	}
	return out, rows.Err()
}

// ReplaceAnnotations replaces, for the given ids, every annotation whose
// kind is in kinds. Other kinds for the same records are untouched, so
// each stage owns exactly the signals it produces.
func (s *Store) ReplaceAnnotations(ctx context.Context, ids []string, kinds []types.AnnotationKind, rows []types.Annotation) error {
	if len(ids) == 0 || len(kinds) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		args := idArgs(ids)
		for _, k := range kinds {
			args = append(args, string(k))
		}
		q := fmt.Sprintf(`DELETE FROM annotations WHERE record_id IN (%s) AND kind IN (%s)`,
			placeholders(len(ids)), placeholders(len(kinds)))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO annotations (record_id, kind, value, produced_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, a := range rows {
			if _, err := stmt.ExecContext(ctx, a.RecordID, string(a.Kind), a.Value,
				a.ProducedAt.UTC().Format(time.RFC3339)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Annotations returns the annotation of one kind per record id.
func (s *Store) Annotations(ctx context.Context, kind types.AnnotationKind) (map[string]types.Annotation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, kind, value, produced_at FROM annotations WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]types.Annotation)
	for rows.Next() {
		var a types.Annotation
		var k, produced string
		if err := rows.Scan(&a.RecordID, &k, &a.Value, &produced); err != nil {
			return nil, err
		}
		a.Kind = types.AnnotationKind(k)
		a.ProducedAt, _ = time.Parse(time.RFC3339, produced)
		out[a.RecordID] = a
	}
	return out, rows.Err()
}

// ReplacePriorityDecisions replaces the priority set for the given ids.
func (s *Store) ReplacePriorityDecisions(ctx context.Context, ids []string, rows []types.PriorityDecision) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteByIDs(ctx, tx, "priority_decisions", ids); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO priority_decisions (record_id, priority) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range rows {
			if _, err := stmt.ExecContext(ctx, p.RecordID, string(p.Priority)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceIntelligence replaces the structured-intelligence set for the
// given ids. The validated object is stored as JSON alongside its schema
// version.
func (s *Store) ReplaceIntelligence(ctx context.Context, ids []string, rows []types.EmailIntelligence) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteByIDs(ctx, tx, "email_intelligence", ids); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO email_intelligence (record_id, schema_version, payload) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, intel := range rows {
			payload, err := json.Marshal(intel)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, intel.RecordID, intel.SchemaVersion, string(payload)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Intelligence returns every stored structured-intelligence object.
func (s *Store) Intelligence(ctx context.Context) ([]types.EmailIntelligence, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM email_intelligence ORDER BY record_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.EmailIntelligence
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var intel types.EmailIntelligence
		if err := json.Unmarshal([]byte(payload), &intel); err != nil {
			return nil, fmt.Errorf("decode intelligence payload: %w", err)
		}
		out = append(out, intel)
	}
	return out, rows.Err()
}

// ReplaceFlattened replaces the flattened view for the given ids.
func (s *Store) ReplaceFlattened(ctx context.Context, ids []string, rows []types.FlattenedRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteByIDs(ctx, tx, "flattened_records", ids); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO flattened_records
			(record_id, customer_id, customer_name, origin_kind, received_at,
			 executive_summary, email_classification, customer_sentiment,
			 sentiment_score, sentiment_category, response_urgency,
			 escalation_needed, follow_up_required, next_steps,
			 key_topics, key_topics_count, competitive_mentions, competitive_count, priority)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range rows {
			if _, err := stmt.ExecContext(ctx,
				f.RecordID, f.CustomerID, f.CustomerName, string(f.OriginKind),
				f.ReceivedAt.UTC().Format(time.RFC3339),
				f.ExecutiveSummary, f.EmailClassification, f.CustomerSentiment,
				f.SentimentScore, f.SentimentCategory, f.ResponseUrgency,
				boolInt(f.EscalationNeeded), boolInt(f.FollowUpRequired), f.NextSteps,
				f.KeyTopics, f.KeyTopicsCount, f.CompetitiveMentions, f.CompetitiveCount,
				string(f.Priority)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordRunFailures persists the failed-record list for one run so
// callers can enumerate what to retry.
func (s *Store) RecordRunFailures(ctx context.Context, runID string, failures []types.RecordFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO record_failures (run_id, record_id, stage, kind, detail)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range failures {
			if _, err := stmt.ExecContext(ctx, runID, f.RecordID, f.Stage, string(f.Kind), f.Detail); err != nil {
				return err
			}
		}
		return nil
	})
}

// FailuresForRun lists the recorded per-record failures of one run.
func (s *Store) FailuresForRun(ctx context.Context, runID string) ([]types.RecordFailure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, stage, kind, detail FROM record_failures
		WHERE run_id = ? ORDER BY record_id, stage`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.RecordFailure
	for rows.Next() {
		var f types.RecordFailure
		var kind string
		if err := rows.Scan(&f.RecordID, &f.Stage, &kind, &f.Detail); err != nil {
			return nil, err
		}
		f.Kind = types.FailureKind(kind)
		out = append(out, f)
	}
	return out, rows.Err()
}

func deleteByIDs(ctx context.Context, tx *sql.Tx, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE record_id IN (%s)`, table, placeholders(len(ids)))
	_, err := tx.ExecContext(ctx, q, idArgs(ids)...)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
