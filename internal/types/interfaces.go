// Package types holds the capability interfaces and error taxonomy shared
// across the pipeline, session, and store layers. Concrete implementations
// live in internal/browser, internal/gemini, internal/chat, and
// internal/reward; tests substitute fakes.
package types

import "context"

// Turn is one user or assistant entry in a chat history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Scraper turns a page URL into extracted text plus a screenshot artifact.
// The screenshot ref is an opaque locator; callers store and pass it
// through without interpreting it.
type Scraper interface {
	Fetch(ctx context.Context, url string) (text string, screenshotRef string, err error)
}

// Generator is the text-completion capability used by the writer stage.
type Generator interface {
	Complete(ctx context.Context, prompt, input string) (string, error)
}

// Reviewer refines a draft under a system prompt. It is the same underlying
// capability as Generator, differing only by prompt.
type Reviewer interface {
	Complete(ctx context.Context, systemPrompt, draft string) (string, error)
}

// ChatModel answers a free-form message given page context and prior turns.
type ChatModel interface {
	Reply(ctx context.Context, pageContext string, history []Turn, message string) (string, error)
}

// RewardSink consumes a scalar reward signal. Implementations are
// best-effort: failures are logged by the relay, never surfaced.
type RewardSink interface {
	Submit(ctx context.Context, score int, note string) error
}
