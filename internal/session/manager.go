package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"pagespin/internal/logging"
	"pagespin/internal/types"

	"github.com/google/uuid"
)

// Pipeline runs the scrape/spin/review flow against a session. Implemented
// by the pipeline package; calls are made with the session's gate held.
type Pipeline interface {
	Run(ctx context.Context, sessionID, pageURL string)
	EditAndRerun(ctx context.Context, sessionID, content string, wholesale bool)
	RefineWithFeedback(ctx context.Context, sessionID, feedback string)
}

// Event signals that a session changed and the UI should refresh.
type Event struct {
	SessionID string
}

// Manager owns all sessions. Reads hand out copies; writes go through
// Update so the UI never observes a half-mutated session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	current  string
	gates    map[string]chan struct{}

	pipeline Pipeline
	chat     types.ChatModel
	rewards  types.RewardSink

	events chan Event
}

// NewManager creates an empty manager. The pipeline is attached later via
// SetPipeline because it needs the manager to report progress.
func NewManager(chat types.ChatModel, rewards types.RewardSink) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		gates:    make(map[string]chan struct{}),
		chat:     chat,
		rewards:  rewards,
		events:   make(chan Event, 64),
	}
}

// SetPipeline wires the content pipeline in.
func (m *Manager) SetPipeline(p Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline = p
}

// Events is the refresh stream consumed by the UI.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) emit(id string) {
	select {
	case m.events <- Event{SessionID: id}:
	default:
		// UI is behind; it will catch up on its next refresh.
	}
}

// Create adds a new session awaiting a URL and makes it current.
func (m *Manager) Create(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	if name == "" {
		name = fmt.Sprintf("Session %d", len(m.order)+1)
	}
	m.sessions[id] = &Session{
		ID:        id,
		Name:      name,
		State:     StateAwaitingURL,
		PendingOp: -1,
		CreatedAt: time.Now(),
	}
	m.order = append(m.order, id)
	m.gates[id] = make(chan struct{}, 1)
	m.current = id

	logging.Session("created session %s (%q)", id, name)
	m.emit(id)
	return id
}

// Delete removes a session. The last remaining session cannot be deleted.
// When the current session is removed, the nearest preceding one is
// selected.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return &types.ValidationError{Field: "session", Reason: "unknown session " + id}
	}
	if len(m.order) == 1 {
		return &types.ValidationError{Field: "session", Reason: "cannot delete the last session"}
	}

	idx := 0
	for i, sid := range m.order {
		if sid == id {
			idx = i
			break
		}
	}
	m.order = append(m.order[:idx], m.order[idx+1:]...)
	delete(m.sessions, id)
	delete(m.gates, id)

	if m.current == id {
		if idx > 0 {
			m.current = m.order[idx-1]
		} else {
			m.current = m.order[0]
		}
	}

	logging.Session("deleted session %s", id)
	m.emit(m.current)
	return nil
}

// Select makes id the current session.
func (m *Manager) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return &types.ValidationError{Field: "session", Reason: "unknown session " + id}
	}
	m.current = id
	m.emit(id)
	return nil
}

// Current returns a copy of the selected session.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[m.current]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Snapshot returns a copy of the session with the given id.
func (m *Manager) Snapshot(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// List returns copies of all sessions in creation order.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id].clone())
	}
	return out
}

// Update applies fn to the session under the write lock and notifies the
// UI. It is the only way session state mutates.
func (m *Manager) Update(id string, fn func(*Session)) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	fn(s)
	m.mu.Unlock()
	m.emit(id)
}

// tryAcquire takes the session's gate without blocking. A false return
// means another operation is already running.
func (m *Manager) tryAcquire(id string) bool {
	m.mu.RLock()
	gate, ok := m.gates[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case gate <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Manager) release(id string) {
	m.mu.RLock()
	gate, ok := m.gates[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case <-gate:
	default:
	}
}

// StartLoader appends a loader message and marks the operation pending.
// It returns the loader's transcript index.
func (m *Manager) StartLoader(id, text string) int {
	idx := -1
	m.Update(id, func(s *Session) {
		s.Messages = append(s.Messages, Message{Role: RoleAssistant, Kind: KindLoader, Content: text})
		idx = len(s.Messages) - 1
		s.PendingOp = idx
	})
	return idx
}

// ResolveLoader replaces the pending loader with a finished assistant
// message and clears the pending marker.
func (m *Manager) ResolveLoader(id string, kind Kind, content string) {
	m.Update(id, func(s *Session) {
		if s.PendingOp < 0 || s.PendingOp >= len(s.Messages) {
			return
		}
		s.Messages[s.PendingOp] = Message{Role: RoleAssistant, Kind: kind, Content: content}
		s.PendingOp = -1
	})
}

// FailLoader replaces the pending loader with a plain failure notice.
func (m *Manager) FailLoader(id, text string) {
	m.ResolveLoader(id, KindPlain, text)
}

// SubmitInput routes free-form input. Before a page is loaded the text is
// treated as a URL; afterwards it becomes a chat message about the page.
func (m *Manager) SubmitInput(ctx context.Context, id, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	snap, ok := m.Snapshot(id)
	if !ok {
		return
	}

	if snap.State == StateAwaitingURL {
		m.submitURL(ctx, id, text)
		return
	}
	m.submitChat(ctx, id, text)
}

func (m *Manager) submitURL(ctx context.Context, id, text string) {
	m.Update(id, func(s *Session) {
		s.Messages = append(s.Messages, Message{Role: RoleUser, Kind: KindPlain, Content: text})
	})

	if !isAbsoluteHTTPURL(text) {
		m.Update(id, func(s *Session) {
			s.Messages = append(s.Messages, Message{Role: RoleAssistant, Kind: KindPlain, Content: InvalidURLText})
		})
		return
	}

	if !m.tryAcquire(id) {
		logging.Session("session %s busy, ignoring URL submission", id)
		return
	}

	m.Update(id, func(s *Session) {
		s.URL = text
		s.State = StateScraping
		s.Messages = append(s.Messages, Message{Role: RoleAssistant, Kind: KindPlain, Content: URLAcceptedText})
	})

	go func() {
		defer m.release(id)
		m.pipeline.Run(ctx, id, text)
	}()
}

func (m *Manager) submitChat(ctx context.Context, id, text string) {
	if !m.tryAcquire(id) {
		logging.Session("session %s busy, ignoring chat message", id)
		return
	}

	snap, _ := m.Snapshot(id)
	history := buildHistory(snap.Messages)

	m.Update(id, func(s *Session) {
		s.Messages = append(s.Messages, Message{Role: RoleUser, Kind: KindPlain, Content: text})
	})
	m.StartLoader(id, ThinkingText)

	go func() {
		defer m.release(id)
		reply, err := m.chat.Reply(ctx, snap.PageText, history, text)
		if err != nil {
			logging.SessionDebug("chat reply for %s failed: %v", id, err)
			m.FailLoader(id, "Sorry, I could not come up with a reply.")
			return
		}
		m.ResolveLoader(id, KindPlain, reply)
	}()
}

// EditDraft persists the user's edit and re-runs the reviewer. wholesale
// marks a from-scratch replacement rather than a touch-up.
func (m *Manager) EditDraft(ctx context.Context, id, content string, wholesale bool) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &types.ValidationError{Field: "content", Reason: "edited draft is empty"}
	}
	snap, ok := m.Snapshot(id)
	if !ok {
		return &types.ValidationError{Field: "session", Reason: "unknown session " + id}
	}
	if snap.LastContent() == nil {
		return &types.ValidationError{Field: "session", Reason: "no draft to edit yet"}
	}
	if !m.tryAcquire(id) {
		return &types.ValidationError{Field: "session", Reason: "an operation is already running"}
	}

	go func() {
		defer m.release(id)
		m.pipeline.EditAndRerun(ctx, id, content, wholesale)
	}()
	return nil
}

// SubmitFeedback sends reviewer feedback. Valid only while the newest
// draft is a reviewed one.
func (m *Manager) SubmitFeedback(ctx context.Context, id, feedback string) error {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return &types.ValidationError{Field: "feedback", Reason: "feedback is empty"}
	}
	snap, ok := m.Snapshot(id)
	if !ok {
		return &types.ValidationError{Field: "session", Reason: "unknown session " + id}
	}
	if snap.lastContentKind() != KindReviewed {
		return &types.ValidationError{Field: "session", Reason: "no reviewed draft to refine"}
	}
	if !m.tryAcquire(id) {
		return &types.ValidationError{Field: "session", Reason: "an operation is already running"}
	}

	// Submitting feedback doubles as a positive training signal carrying
	// the feedback text.
	if m.rewards != nil {
		_ = m.rewards.Submit(ctx, 1, feedback)
	}

	go func() {
		defer m.release(id)
		m.pipeline.RefineWithFeedback(ctx, id, feedback)
	}()
	return nil
}

// SubmitReward relays a thumbs-up/down signal. Fire-and-forget.
func (m *Manager) SubmitReward(ctx context.Context, id string, score int, note string) {
	if m.rewards == nil {
		return
	}
	_ = m.rewards.Submit(ctx, score, note)
}

// buildHistory converts the transcript into chat turns, skipping loaders.
func buildHistory(msgs []Message) []types.Turn {
	out := make([]types.Turn, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Kind == KindLoader {
			continue
		}
		role := "user"
		if msg.Role == RoleAssistant {
			role = "assistant"
		}
		out = append(out, types.Turn{Role: role, Content: msg.Content})
	}
	return out
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
