package types

import "time"

// OriginKind distinguishes how a communication reached us.
type OriginKind string

const (
	OriginAudio OriginKind = "audio"
	OriginEmail OriginKind = "email"
)

// SourceRecord is one raw customer communication. It is the root of the
// record graph: everything else is derived from it and keyed by its ID.
// Immutable after ingestion.
type SourceRecord struct {
	ID            string     `json:"id"`
	OriginKind    OriginKind `json:"origin_kind"`
	RawPayloadRef string     `json:"raw_payload_ref"` // audio URL, or the email body itself
	CustomerID    string     `json:"customer_id"`
	CustomerName  string     `json:"customer_name,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
}

// Transcript is the speech-to-text output for an audio record. One per
// record; a re-run replaces the previous transcript.
type Transcript struct {
	RecordID   string    `json:"record_id"`
	Text       string    `json:"text"`
	ProducedAt time.Time `json:"produced_at"`
}

// TextUnit is the text all downstream stages operate on: the transcript
// for audio records, the raw body for emails.
type TextUnit struct {
	RecordID string `json:"record_id"`
	Text     string `json:"text"`
}

// AnnotationKind names a single derived signal.
type AnnotationKind string

const (
	KindSummary        AnnotationKind = "summary"
	KindSentimentScore AnnotationKind = "sentiment_score"
	KindCategoryLabel  AnnotationKind = "category_label"
)

// Boolean filter annotations answer a fixed yes/no question per record.
const (
	FlagFrustration = "frustration"
	FlagUrgent      = "urgent"
)

// FlagKind returns the annotation kind for a named boolean flag.
func FlagKind(name string) AnnotationKind {
	return AnnotationKind("flag:" + name)
}

// Annotation is one derived signal attached to one record. A record holds
// at most one annotation per kind per run; the latest run's value wins.
type Annotation struct {
	RecordID   string         `json:"record_id"`
	Kind       AnnotationKind `json:"kind"`
	Value      string         `json:"value"`
	ProducedAt time.Time      `json:"produced_at"`
}

// Priority is the three-level urgency label.
type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
)

// PriorityDecision is the deterministic combination of a record's
// sentiment category and boolean flags. Recomputed whenever its inputs
// change; it has no identity beyond the record id.
type PriorityDecision struct {
	RecordID string   `json:"record_id"`
	Priority Priority `json:"priority"`
}

// EmailIntelligence is the schema-validated structured object extracted
// from a text unit in a single call. Field names match the flattened
// warehouse columns the reporting layer reads.
type EmailIntelligence struct {
	RecordID            string   `json:"record_id"`
	SchemaVersion       string   `json:"schema_version"`
	ExecutiveSummary    string   `json:"executive_summary"`
	EmailClassification string   `json:"email_classification"`
	CustomerSentiment   string   `json:"customer_sentiment"`
	ResponseUrgency     string   `json:"response_urgency"`
	EscalationNeeded    bool     `json:"escalation_needed"`
	FollowUpRequired    bool     `json:"follow_up_required"`
	NextSteps           string   `json:"next_steps"`
	KeyTopicsDiscussed  []string `json:"key_topics_discussed"`
	CompetitiveMentions []string `json:"competitive_mentions"`
}

// FlattenedRecord is the relational projection of EmailIntelligence plus
// the per-record annotations: scalars promoted verbatim, list fields
// rendered as a joined string with a parallel integer cardinality.
// Pure projection, recomputed on every run.
type FlattenedRecord struct {
	RecordID            string     `json:"record_id"`
	CustomerID          string     `json:"customer_id"`
	CustomerName        string     `json:"customer_name,omitempty"`
	OriginKind          OriginKind `json:"origin_kind"`
	ReceivedAt          time.Time  `json:"received_at"`
	ExecutiveSummary    string     `json:"executive_summary"`
	EmailClassification string     `json:"email_classification"`
	CustomerSentiment   string     `json:"customer_sentiment"`
	SentimentScore      float64    `json:"sentiment_score"`
	SentimentCategory   string     `json:"sentiment_category"`
	ResponseUrgency     string     `json:"response_urgency"`
	EscalationNeeded    bool       `json:"escalation_needed"`
	FollowUpRequired    bool       `json:"follow_up_required"`
	NextSteps           string     `json:"next_steps"`
	KeyTopics           string     `json:"key_topics_discussed"`
	KeyTopicsCount      int        `json:"key_topics_count"`
	CompetitiveMentions string     `json:"competitive_mentions"`
	CompetitiveCount    int        `json:"competitive_mentions_count"`
	Priority            Priority   `json:"priority"`
}

// AggregateInsight is a narrative summary over a filtered group of
// flattened records. Computed on demand; never persisted.
type AggregateInsight struct {
	GroupKey        string   `json:"group_key"`
	MemberRecordIDs []string `json:"member_record_ids"`
	Narrative       string   `json:"narrative,omitempty"`
	Empty           bool     `json:"empty,omitempty"`
}
