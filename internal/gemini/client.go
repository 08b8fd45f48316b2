// Package gemini implements the text-completion capability over the
// generativelanguage REST API. The writer ("spin") and reviewer stages are
// the same capability behind different prompts; Writer and ReviewerClient
// adapt one shared Client to the two interfaces.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"pagespin/internal/logging"
	"pagespin/internal/types"
)

// Config holds client settings.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:  apiKey,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:   "gemini-2.5-pro",
		Timeout: 2 * time.Minute,
	}
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	httpClient      *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// New creates a client from config, filling in defaults for empty fields.
func New(cfg Config) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-pro"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		model:           model,
		maxOutputTokens: cfg.MaxOutputTokens,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

const maxRetries = 3

// complete sends a single user turn (with an optional system instruction)
// and returns the first candidate's text. stage labels the resulting
// GenerationError for logs and error handling.
func (c *Client) complete(ctx context.Context, stage, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", &types.GenerationError{Stage: stage, Err: fmt.Errorf("API key not configured")}
	}

	// Auto-apply timeout if the context has no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	// Pace requests so bursts of pipeline stages don't trip rate limits.
	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := Request{
		Contents: []Content{
			{Role: "user", Parts: []Part{{Text: userPrompt}}},
		},
		GenerationConfig: &GenerationConfig{
			Temperature:     1.0,
			MaxOutputTokens: c.maxOutputTokens,
		},
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &Content{Parts: []Part{{Text: systemPrompt}}}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	logging.APIDebug("[gemini] %s: model=%s system_len=%d user_len=%d",
		stage, c.model, len(systemPrompt), len(userPrompt))

	start := time.Now()
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", &types.GenerationError{Stage: stage, Err: ctx.Err()}
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		text, retryable, err := c.do(ctx, url, reqBody)
		if err == nil {
			logging.API("[gemini] %s completed in %v (%d bytes)", stage, time.Since(start), len(text))
			return text, nil
		}
		if !retryable {
			logging.APIError("[gemini] %s failed: %v", stage, err)
			return "", &types.GenerationError{Stage: stage, Err: err}
		}
		lastErr = err
	}
	logging.APIError("[gemini] %s exhausted retries: %v", stage, lastErr)
	return "", &types.GenerationError{Stage: stage, Err: lastErr}
}

// do performs one HTTP round trip. The second return reports whether the
// failure is retryable (transport error or 429).
func (c *Client) do(ctx context.Context, url string, reqBody Request) (string, bool, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, fmt.Errorf("rate limit exceeded (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("API error: %s", parsed.Error.Message)
	}

	text := firstCandidateText(&parsed)
	if strings.TrimSpace(text) == "" {
		return "", false, types.ErrEmptyCompletion
	}
	return text, false, nil
}

func firstCandidateText(resp *Response) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// Writer adapts Client to types.Generator. The prompt rides above the
// input text in a single user turn, matching how the spin stage has always
// addressed the model.
type Writer struct {
	Client *Client
}

// Complete rewrites input under the given prompt.
func (w Writer) Complete(ctx context.Context, prompt, input string) (string, error) {
	return w.Client.complete(ctx, "writer", "", prompt+"\n\n"+input)
}

// ReviewerClient adapts Client to types.Reviewer, sending the reviewer
// instructions as the system turn and the draft as the user turn.
type ReviewerClient struct {
	Client *Client
}

// Complete refines draft under systemPrompt.
func (r ReviewerClient) Complete(ctx context.Context, systemPrompt, draft string) (string, error) {
	return r.Client.complete(ctx, "reviewer", systemPrompt, draft)
}
