package textgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"comms-intel-go/internal/schema"
)

// Mock is a deterministic offline Service. The same input always yields
// the same output, which is what the idempotence guarantees are tested
// against. Hook fields override individual calls; call counters let
// tests assert how often the external capability was actually hit.
type Mock struct {
	mu sync.Mutex

	TranscribeCalls int
	AnnotateCalls   int
	ExtractCalls    int
	AggregateCalls  int

	TranscribeFn func(audioRef string) (string, error)
	AnnotateFn   func(text, instruction string) (string, error)
	ExtractFn    func(text string, contract schema.Contract) (json.RawMessage, error)
	AggregateFn  func(blocks []string, instruction string) (string, error)
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Transcribe(_ context.Context, audioRef string) (string, error) {
	m.mu.Lock()
	m.TranscribeCalls++
	fn := m.TranscribeFn
	m.mu.Unlock()

	if fn != nil {
		return fn(audioRef)
	}
	return "transcript of " + audioRef, nil
}

func (m *Mock) Annotate(_ context.Context, text, instruction string) (string, error) {
	m.mu.Lock()
	m.AnnotateCalls++
	fn := m.AnnotateFn
	m.mu.Unlock()

	if fn != nil {
		return fn(text, instruction)
	}

	lowerText := strings.ToLower(text)
	lowerInst := strings.ToLower(instruction)
	switch {
	case strings.Contains(lowerInst, "sentiment"):
		return fmt.Sprintf("%.1f", mockScore(lowerText)), nil
	case strings.Contains(lowerInst, "categor") || strings.Contains(lowerInst, "classif"):
		if mockScore(lowerText) < 0 {
			return "Complaint", nil
		}
		return "Inquiry", nil
	case strings.Contains(lowerInst, "summar"):
		words := strings.Fields(text)
		if len(words) > 12 {
			words = words[:12]
		}
		return strings.Join(words, " "), nil
	case strings.Contains(lowerInst, "frustrat"):
		return yesNo(strings.Contains(lowerText, "frustrat") || strings.Contains(lowerText, "angry")), nil
	case strings.Contains(lowerInst, "urgent"):
		return yesNo(strings.Contains(lowerText, "urgent") || strings.Contains(lowerText, "immediately")), nil
	default:
		return "no", nil
	}
}

func (m *Mock) Extract(_ context.Context, text string, contract schema.Contract) (json.RawMessage, error) {
	m.mu.Lock()
	m.ExtractCalls++
	fn := m.ExtractFn
	m.mu.Unlock()

	if fn != nil {
		return fn(text, contract)
	}

	lower := strings.ToLower(text)
	sentiment := "neutral"
	classification := "Inquiry"
	urgency := "within_week"
	escalation := false
	if mockScore(lower) < 0 {
		sentiment = "negative"
		classification = "Complaint"
		urgency = "immediate"
		escalation = true
	} else if mockScore(lower) > 0 {
		sentiment = "positive"
		classification = "Feedback"
	}

	words := strings.Fields(text)
	if len(words) > 10 {
		words = words[:10]
	}
	obj := map[string]any{
		"executive_summary":    strings.Join(words, " "),
		"email_classification": classification,
		"customer_sentiment":   sentiment,
		"response_urgency":     urgency,
		"escalation_needed":    escalation,
		"follow_up_required":   escalation,
		"next_steps":           "Review and respond to the customer.",
		"key_topics_discussed": mockTopics(lower),
		"competitive_mentions": []string{},
	}
	raw, _ := json.Marshal(obj)
	return raw, nil
}

func (m *Mock) Aggregate(_ context.Context, blocks []string, instruction string) (string, error) {
	m.mu.Lock()
	m.AggregateCalls++
	fn := m.AggregateFn
	m.mu.Unlock()

	if fn != nil {
		return fn(blocks, instruction)
	}
	return fmt.Sprintf("Pattern summary across %d records.", len(blocks)), nil
}

// Calls reports the total number of service invocations.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TranscribeCalls + m.AnnotateCalls + m.ExtractCalls + m.AggregateCalls
}

func mockScore(lower string) float64 {
	switch {
	case strings.Contains(lower, "terrible"), strings.Contains(lower, "angry"),
		strings.Contains(lower, "frustrat"), strings.Contains(lower, "refund"):
		return -0.6
	case strings.Contains(lower, "great"), strings.Contains(lower, "thank"),
		strings.Contains(lower, "love"):
		return 0.7
	default:
		return 0.0
	}
}

func mockTopics(lower string) []string {
	topics := []string{}
	for _, t := range []string{"billing", "delivery", "warranty", "pricing", "service"} {
		if strings.Contains(lower, t) {
			topics = append(topics, t)
		}
	}
	return topics
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
