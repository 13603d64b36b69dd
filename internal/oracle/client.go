// Package oracle implements the client for the slow, authoritative intent
// classifier: an OpenAI-compatible chat-completions endpoint instructed to
// answer with a single JSON object. The pipeline treats this collaborator as
// unreliable; every call is bounded by the caller's context deadline and any
// failure surfaces as (nil, error), never as a panic or a hang.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/intale-ai/intentd/internal/intent"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	maxRetries     = 2
	initialBackoff = 250 * time.Millisecond
)

// Config holds the oracle endpoint settings.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	// Labels is the intent taxonomy listed in the prompt.
	Labels []string
}

// Client calls the oracle over HTTP.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	prompt     string
	httpClient *http.Client
}

// New creates a Client. The HTTP client carries no timeout of its own;
// callers bound every request through the context deadline.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		prompt:     buildSystemPrompt(cfg.Labels),
		httpClient: &http.Client{Timeout: 0},
	}
}

// IsAvailable reports whether the client is configured to make calls at all.
func (c *Client) IsAvailable() bool {
	return c.apiKey != ""
}

// Model returns the configured oracle model name.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// resultPayload mirrors the JSON object the oracle is instructed to return.
type resultPayload struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	Safety     []string `json:"safety"`
}

// Analyze classifies text, returning the parsed payload and the wall time
// the call took. reqContext is folded into the user message so the oracle
// can use conversational hints (it is never required to).
func (c *Client) Analyze(ctx context.Context, text string, reqContext map[string]string) (Analysis, error) {
	if !c.IsAvailable() {
		return Analysis{}, fmt.Errorf("oracle not configured (missing API key)")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.prompt},
			{Role: "user", Content: buildUserMessage(text, reqContext)},
		},
		Temperature: 0,
		MaxTokens:   300,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("marshaling request: %w", err)
	}

	start := time.Now()

	var lastErr error
	for attempt := range maxRetries + 1 {
		content, err := c.doChat(ctx, body)
		if err == nil {
			payload, err := parsePayload(content)
			if err != nil {
				return Analysis{}, err
			}
			return Analysis{
				Intent:     payload.Intent,
				Confidence: payload.Confidence,
				Summary:    payload.Summary,
				Tags:       payload.Tags,
				Safety:     payload.Safety,
				Latency:    time.Since(start),
			}, nil
		}
		if !isRateLimit(err) {
			return Analysis{}, err
		}
		lastErr = err
		if attempt < maxRetries {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Analysis{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return Analysis{}, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// Analysis is the parsed oracle answer plus the measured call duration.
// Tags and Safety are never nil.
type Analysis struct {
	Intent     string
	Confidence float64
	Summary    string
	Tags       []string
	Safety     []string
	Latency    time.Duration
}

// Classify runs Analyze and shapes the answer as a pipeline result.
func (c *Client) Classify(ctx context.Context, text string, reqContext map[string]string) (*intent.Result, error) {
	a, err := c.Analyze(ctx, text, reqContext)
	if err != nil {
		return nil, err
	}
	return &intent.Result{
		Intent:         a.Intent,
		Confidence:     a.Confidence,
		Summary:        a.Summary,
		Tags:           a.Tags,
		Safety:         a.Safety,
		Source:         intent.SourceOracle,
		LatencyMs:      a.Latency.Milliseconds(),
		ModelAvailable: true,
	}, nil
}

func (c *Client) doChat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contains no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parsePayload extracts the JSON object from the completion text. Models
// occasionally wrap the object in prose or a code fence, so we cut from the
// first '{' to the last '}' before unmarshaling.
func parsePayload(content string) (resultPayload, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return resultPayload{}, fmt.Errorf("no JSON object in completion: %q", truncate(content, 80))
	}

	var payload resultPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return resultPayload{}, fmt.Errorf("parsing completion JSON: %w", err)
	}
	if payload.Intent == "" {
		return resultPayload{}, fmt.Errorf("completion JSON has no intent field")
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}
	if payload.Tags == nil {
		payload.Tags = []string{}
	}
	if payload.Safety == nil {
		payload.Safety = []string{}
	}
	return payload, nil
}

func buildUserMessage(text string, reqContext map[string]string) string {
	if len(reqContext) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nContext:")
	for k, v := range reqContext {
		fmt.Fprintf(&b, "\n- %s: %s", k, v)
	}
	return b.String()
}

func buildSystemPrompt(labelSet []string) string {
	var b strings.Builder
	b.WriteString(`Analyze the user input and return ONLY valid JSON with this exact structure:
{"intent":"category","confidence":0.0,"summary":"brief description","tags":[],"safety":[]}

Intent categories:
`)
	for _, l := range labelSet {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	b.WriteString(`
Safety flags (add if applicable):
- medical: medical advice disclaimer needed
- legal: legal disclaimer needed
- sensitive: sensitive topic
- self_harm: self-harm risk

Return ONLY the JSON, no explanation.`)
	return b.String()
}

type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
