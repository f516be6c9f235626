package store

import (
	"context"
	"fmt"
	"time"

	"comms-intel-go/internal/types"
)

// Filter narrows the flattened view for the reporting and aggregation
// consumers. Zero values mean "no constraint".
type Filter struct {
	Classification    string
	SentimentCategory string
	EscalationOnly    bool
	CustomerID        string
}

// FlattenedRecords returns the flattened view, newest first.
func (s *Store) FlattenedRecords(ctx context.Context, f Filter) ([]types.FlattenedRecord, error) {
	q := `
		SELECT record_id, customer_id, customer_name, origin_kind, received_at,
		       executive_summary, email_classification, customer_sentiment,
		       sentiment_score, sentiment_category, response_urgency,
		       escalation_needed, follow_up_required, next_steps,
		       key_topics, key_topics_count, competitive_mentions, competitive_count, priority
		FROM flattened_records WHERE 1=1`
	var args []any
	if f.Classification != "" {
		q += ` AND email_classification = ?`
		args = append(args, f.Classification)
	}
	if f.SentimentCategory != "" {
		q += ` AND sentiment_category = ?`
		args = append(args, f.SentimentCategory)
	}
	if f.EscalationOnly {
		q += ` AND escalation_needed = 1`
	}
	if f.CustomerID != "" {
		q += ` AND customer_id = ?`
		args = append(args, f.CustomerID)
	}
	q += ` ORDER BY received_at DESC, record_id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.FlattenedRecord
	for rows.Next() {
		var r types.FlattenedRecord
		var origin, received, priority string
		var escalation, followUp int
		if err := rows.Scan(&r.RecordID, &r.CustomerID, &r.CustomerName, &origin, &received,
			&r.ExecutiveSummary, &r.EmailClassification, &r.CustomerSentiment,
			&r.SentimentScore, &r.SentimentCategory, &r.ResponseUrgency,
			&escalation, &followUp, &r.NextSteps,
			&r.KeyTopics, &r.KeyTopicsCount, &r.CompetitiveMentions, &r.CompetitiveCount,
			&priority); err != nil {
			return nil, err
		}
		r.OriginKind = types.OriginKind(origin)
		r.ReceivedAt, _ = time.Parse(time.RFC3339, received)
		r.EscalationNeeded = escalation == 1
		r.FollowUpRequired = followUp == 1
		r.Priority = types.Priority(priority)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SummaryStats are the executive-dashboard counters over the flattened
// view.
type SummaryStats struct {
	TotalRecords      int     `json:"total_records"`
	TotalCustomers    int     `json:"total_customers"`
	EscalationsNeeded int     `json:"escalations_needed"`
	NegativeSentiment int     `json:"negative_sentiment"`
	PositiveSentiment int     `json:"positive_sentiment"`
	AvgSentimentScore float64 `json:"avg_sentiment_score"`
	HighPriority      int     `json:"high_priority"`
}

// Stats computes the summary counters in one query.
func (s *Store) Stats(ctx context.Context) (SummaryStats, error) {
	var st SummaryStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT customer_id),
		       COALESCE(SUM(CASE WHEN escalation_needed = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sentiment_category = 'negative' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sentiment_category = 'positive' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(sentiment_score), 0),
		       COALESCE(SUM(CASE WHEN priority = 'high' THEN 1 ELSE 0 END), 0)
		FROM flattened_records`).Scan(
		&st.TotalRecords, &st.TotalCustomers, &st.EscalationsNeeded,
		&st.NegativeSentiment, &st.PositiveSentiment, &st.AvgSentimentScore,
		&st.HighPriority)
	if err != nil {
		return SummaryStats{}, fmt.Errorf("summary stats: %w", err)
	}
	return st, nil
}

// ClassificationCounts groups the flattened view by classification, the
// shape the category chart on the dashboard reads.
func (s *Store) ClassificationCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email_classification, COUNT(*) FROM flattened_records
		GROUP BY email_classification`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var c string
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, err
		}
		out[c] = n
	}
	return out, rows.Err()
}
