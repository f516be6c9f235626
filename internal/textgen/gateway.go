package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"comms-intel-go/internal/logger"
	"comms-intel-go/internal/schema"
)

// Options configures the Gateway. Built from config in main; the client
// itself reads no environment.
type Options struct {
	GatewayURL    string
	TranscribeURL string
	APIKey        string
	Model         string

	// RequestTimeout bounds one attempt; RetryCeiling bounds the whole
	// backoff loop for one record's call.
	RequestTimeout time.Duration
	RetryCeiling   time.Duration
}

// Gateway talks to an OpenAI-shaped chat completion endpoint plus an
// optional dedicated transcription endpoint. Transient failures are
// retried with exponential backoff up to the ceiling; client errors and
// unparseable output are permanent.
type Gateway struct {
	opts   Options
	client *http.Client
}

func NewGateway(opts Options) *Gateway {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 25 * time.Second
	}
	if opts.RetryCeiling <= 0 {
		opts.RetryCeiling = 45 * time.Second
	}
	return &Gateway{
		opts:   opts,
		client: &http.Client{Timeout: opts.RequestTimeout},
	}
}

func (g *Gateway) Transcribe(ctx context.Context, audioRef string) (string, error) {
	if g.opts.TranscribeURL == "" {
		return "", malformed(fmt.Errorf("transcription endpoint not configured"))
	}
	payload, _ := json.Marshal(map[string]string{"audio_url": audioRef})

	var out struct {
		Text string `json:"text"`
	}
	if err := g.doJSON(ctx, g.opts.TranscribeURL+"/transcribe", payload, &out); err != nil {
		return "", err
	}
	if out.Text == "" {
		return "", malformed(fmt.Errorf("empty transcript for %s", audioRef))
	}
	return out.Text, nil
}

func (g *Gateway) Annotate(ctx context.Context, text, instruction string) (string, error) {
	prompt := fmt.Sprintf("%s\n\nTEXT:\n\"\"\"%s\"\"\"\n\nAnswer with the value only, no commentary.", instruction, text)
	return g.complete(ctx, prompt)
}

func (g *Gateway) Extract(ctx context.Context, text string, contract schema.Contract) (json.RawMessage, error) {
	prompt := fmt.Sprintf(`You are a customer communication intelligence engine.
Analyze the text and fill in every field of the JSON schema below.

SCHEMA v%s (STRICT - RETURN ONLY JSON, every field required):
%s

Enum fields must use exactly one of the listed values.
List fields must be JSON arrays of strings; use [] when nothing applies.
Do not wrap the JSON in backticks and do not add commentary.

TEXT:
"""%s"""
`, contract.Version, contract.PromptSkeleton(), text)

	content, err := g.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	raw := extractJSON(content)
	if raw == "" {
		return nil, malformed(fmt.Errorf("no JSON object in extraction response"))
	}
	return json.RawMessage(raw), nil
}

func (g *Gateway) Aggregate(ctx context.Context, blocks []string, instruction string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(instruction)
	buf.WriteString("\n\nRECORDS:\n")
	for i, b := range blocks {
		fmt.Fprintf(&buf, "--- record %d ---\n%s\n", i+1, b)
	}
	return g.complete(ctx, buf.String())
}

// complete runs one chat completion with retry. 4xx responses and
// unparseable bodies are permanent; network errors and 5xx are retried
// until the ceiling and then surface as unavailability.
func (g *Gateway) complete(ctx context.Context, prompt string) (string, error) {
	log := logger.New().WithComponent("textgen")

	reqBody := map[string]any{
		"model": g.opts.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	data, _ := json.Marshal(reqBody)

	var content string
	var lastErr error
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, g.opts.GatewayURL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.opts.APIKey)

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = err
			log.WithError(err).Warn("gateway request failed")
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("gateway server error: %s", body)
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = malformed(fmt.Errorf("gateway rejected request: %s", body))
			return backoff.Permanent(lastErr)
		}

		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
			lastErr = malformed(fmt.Errorf("unexpected gateway response: %s", body))
			return backoff.Permanent(lastErr)
		}
		content = parsed.Choices[0].Message.Content
		lastErr = nil
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = g.opts.RetryCeiling
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ce, ok := lastErr.(*CallError); ok {
			return "", ce
		}
		if lastErr == nil {
			lastErr = err
		}
		return "", unavailable(lastErr)
	}
	return content, nil
}

// doJSON posts a JSON payload and decodes a JSON response with the same
// retry discipline as complete.
func (g *Gateway) doJSON(ctx context.Context, url string, payload []byte, target any) error {
	var lastErr error
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.opts.APIKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %s", body)
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = malformed(fmt.Errorf("request rejected: %s", body))
			return backoff.Permanent(lastErr)
		}
		if err := json.Unmarshal(body, target); err != nil {
			lastErr = malformed(fmt.Errorf("json decode error: %v body=%s", err, body))
			return backoff.Permanent(lastErr)
		}
		lastErr = nil
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = g.opts.RetryCeiling
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ce, ok := lastErr.(*CallError); ok {
			return ce
		}
		if lastErr == nil {
			lastErr = err
		}
		return unavailable(lastErr)
	}
	return nil
}
