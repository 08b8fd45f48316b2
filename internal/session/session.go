// Package session tracks chat sessions and routes user input to the
// content pipeline. Each session walks a small state machine: it waits for
// a URL, runs the scrape/spin/review pipeline, then accepts edits,
// feedback, chat, and reward signals against the produced draft.
package session

import "time"

// State is a session's position in its lifecycle.
type State string

const (
	StateAwaitingURL State = "awaiting_url"
	StateScraping    State = "scraping"
	StateSpinning    State = "spinning"
	StateReviewing   State = "reviewing"
	StateActive      State = "active"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind classifies assistant messages so the UI can render and the engine
// can locate them.
type Kind string

const (
	KindPlain    Kind = "plain"
	KindLoader   Kind = "loader"
	KindSpun     Kind = "spunContent"
	KindReviewed Kind = "reviewedContent"
)

// Texts shown in the transcript while background work runs or fails.
const (
	WriterLoaderText   = "AI Writer is spinning the content..."
	ReviewerLoaderText = "AI Reviewer is refining the content..."
	ThinkingText       = "Thinking..."
	URLAcceptedText    = "URL accepted."
	InvalidURLText     = "Please insert a URL"
	ScrapeFailedText   = "Failed to scrape the URL."
	WriterFailedText   = "The AI Writer failed to spin the content."
	ReviewerFailedText = "The AI Reviewer failed to refine the content."
)

// Message is one transcript entry.
type Message struct {
	Role    Role
	Kind    Kind
	Content string
}

// Session is the full state of one conversation. Values handed out by the
// manager are copies; mutate through Manager.Update.
type Session struct {
	ID            string
	Name          string
	State         State
	URL           string
	PageText      string
	ScreenshotRef string
	Messages      []Message

	// PendingOp is the index of the in-flight loader message, -1 when no
	// operation is running.
	PendingOp int

	// LastVersionID is the most recently persisted version, the parent for
	// the next append.
	LastVersionID string

	CreatedAt time.Time
}

func (s *Session) clone() Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}

// LastContent returns the most recent spun or reviewed draft message, or
// nil when none exists.
func (s *Session) LastContent() *Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Kind == KindSpun || s.Messages[i].Kind == KindReviewed {
			return &s.Messages[i]
		}
	}
	return nil
}

// lastContentKind reports the kind of the newest draft message.
func (s *Session) lastContentKind() Kind {
	if m := s.LastContent(); m != nil {
		return m.Kind
	}
	return ""
}
