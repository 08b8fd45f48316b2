// Package pipeline sequences a session through scrape, spin, and review.
// Each operation runs with the session's gate held, substitutes its loader
// message with the result or a failure notice, and persists produced
// content as attributed versions. Persistence is best-effort: a store
// failure is logged and the generated content is still shown.
package pipeline

import (
	"context"

	"pagespin/internal/logging"
	"pagespin/internal/session"
	"pagespin/internal/store"
	"pagespin/internal/types"
)

// VersionLog is the slice of the version store the orchestrator writes to.
type VersionLog interface {
	EnsureCollection(ctx context.Context) error
	Append(ctx context.Context, content, parentID string, editor store.Editor) (store.Version, error)
}

// Orchestrator drives the content pipeline for all sessions.
type Orchestrator struct {
	sessions *session.Manager
	scraper  types.Scraper
	writer   types.Generator
	reviewer types.Reviewer
	versions VersionLog

	spinPrompt   string
	reviewPrompt string
}

// New wires the orchestrator. spinPrompt and reviewPrompt drive the writer
// and reviewer stages.
func New(sessions *session.Manager, scraper types.Scraper, writer types.Generator, reviewer types.Reviewer, versions VersionLog, spinPrompt, reviewPrompt string) *Orchestrator {
	return &Orchestrator{
		sessions:     sessions,
		scraper:      scraper,
		writer:       writer,
		reviewer:     reviewer,
		versions:     versions,
		spinPrompt:   spinPrompt,
		reviewPrompt: reviewPrompt,
	}
}

// Run executes the initial scrape and spin for a freshly accepted URL. The
// manager has already appended the acknowledgment message and holds the
// session's gate.
func (o *Orchestrator) Run(ctx context.Context, sessionID, pageURL string) {
	o.sessions.StartLoader(sessionID, session.WriterLoaderText)

	text, screenshotRef, err := o.scraper.Fetch(ctx, pageURL)
	if err != nil {
		logging.PipelineError("scrape %s: %v", pageURL, err)
		o.collapseToScrapeFailure(sessionID)
		return
	}

	o.sessions.Update(sessionID, func(s *session.Session) {
		s.PageText = text
		s.ScreenshotRef = screenshotRef
		s.State = session.StateSpinning
	})

	spun, err := o.writer.Complete(ctx, o.spinPrompt, text)
	if err != nil {
		logging.PipelineError("writer for session %s: %v", sessionID, err)
		o.sessions.FailLoader(sessionID, session.WriterFailedText)
		o.sessions.Update(sessionID, func(s *session.Session) { s.State = session.StateActive })
		return
	}

	o.sessions.ResolveLoader(sessionID, session.KindSpun, spun)
	o.sessions.Update(sessionID, func(s *session.Session) { s.State = session.StateReviewing })
	o.persist(ctx, sessionID, spun, store.EditorAIWriter)

	// Warm pass over the reviewer path. Its output is intentionally not
	// surfaced or persisted; the first reviewed draft the user sees comes
	// from an edit or feedback cycle.
	if _, err := o.reviewer.Complete(ctx, o.reviewPrompt, spun); err != nil {
		logging.Pipeline("initial reviewer pass for session %s failed: %v", sessionID, err)
	}

	o.sessions.Update(sessionID, func(s *session.Session) { s.State = session.StateActive })
	logging.Pipeline("session %s pipeline complete for %s", sessionID, pageURL)
}

// EditAndRerun persists the edited draft, installs it as the live spun
// content, and re-runs the reviewer over it. wholesale attributes the
// version to the writer rather than the user (the draft was replaced, not
// corrected).
func (o *Orchestrator) EditAndRerun(ctx context.Context, sessionID, content string, wholesale bool) {
	editor := store.EditorUser
	if wholesale {
		editor = store.EditorAIWriter
	}
	o.persist(ctx, sessionID, content, editor)

	o.sessions.Update(sessionID, func(s *session.Session) {
		replaceLiveDraft(s, content)
		s.State = session.StateReviewing
	})
	o.sessions.StartLoader(sessionID, session.ReviewerLoaderText)

	reviewed, err := o.reviewer.Complete(ctx, o.reviewPrompt, content)
	if err != nil {
		logging.PipelineError("reviewer for session %s: %v", sessionID, err)
		o.sessions.FailLoader(sessionID, session.ReviewerFailedText)
		o.sessions.Update(sessionID, func(s *session.Session) { s.State = session.StateActive })
		return
	}

	o.sessions.ResolveLoader(sessionID, session.KindReviewed, reviewed)
	o.persist(ctx, sessionID, reviewed, store.EditorAIReviewer)
	o.sessions.Update(sessionID, func(s *session.Session) { s.State = session.StateActive })
}

// RefineWithFeedback reruns the reviewer over the latest reviewed draft
// together with the user's feedback.
func (o *Orchestrator) RefineWithFeedback(ctx context.Context, sessionID, feedback string) {
	snap, ok := o.sessions.Snapshot(sessionID)
	if !ok {
		return
	}
	last := snap.LastContent()
	if last == nil || last.Kind != session.KindReviewed {
		logging.Pipeline("session %s has no reviewed draft, dropping feedback", sessionID)
		return
	}
	prior := last.Content

	o.sessions.Update(sessionID, func(s *session.Session) { s.State = session.StateReviewing })
	o.sessions.StartLoader(sessionID, session.ReviewerLoaderText)

	input := prior + "\n\nUser feedback: " + feedback
	reviewed, err := o.reviewer.Complete(ctx, o.reviewPrompt, input)
	if err != nil {
		logging.PipelineError("feedback reviewer for session %s: %v", sessionID, err)
		o.sessions.FailLoader(sessionID, session.ReviewerFailedText)
		o.sessions.Update(sessionID, func(s *session.Session) { s.State = session.StateActive })
		return
	}

	o.sessions.ResolveLoader(sessionID, session.KindReviewed, reviewed)
	o.persist(ctx, sessionID, reviewed, store.EditorAIReviewer)
	o.sessions.Update(sessionID, func(s *session.Session) { s.State = session.StateActive })
}

// persist appends a version linked to the session's previous one. Store
// failures are logged and swallowed so the transcript still shows the
// content.
func (o *Orchestrator) persist(ctx context.Context, sessionID, content string, editor store.Editor) {
	if err := o.versions.EnsureCollection(ctx); err != nil {
		logging.PipelineError("ensure collection: %v", err)
		return
	}

	snap, ok := o.sessions.Snapshot(sessionID)
	if !ok {
		return
	}
	v, err := o.versions.Append(ctx, content, snap.LastVersionID, editor)
	if err != nil {
		logging.PipelineError("persist %s version for session %s: %v", editor, sessionID, err)
		return
	}
	o.sessions.Update(sessionID, func(s *session.Session) { s.LastVersionID = v.ID })
	logging.Pipeline("persisted version %s (editor=%s, parent=%q)", v.ID, editor, snap.LastVersionID)
}

// collapseToScrapeFailure removes the pending loader and the acknowledgment
// that preceded it, leaving a single failure notice. The session lands in
// the active state so later input is not misparsed as a URL.
func (o *Orchestrator) collapseToScrapeFailure(sessionID string) {
	o.sessions.Update(sessionID, func(s *session.Session) {
		if s.PendingOp >= 0 && s.PendingOp < len(s.Messages) {
			s.Messages = append(s.Messages[:s.PendingOp], s.Messages[s.PendingOp+1:]...)
		}
		s.PendingOp = -1
		if n := len(s.Messages); n > 0 && s.Messages[n-1].Content == session.URLAcceptedText {
			s.Messages = s.Messages[:n-1]
		}
		s.Messages = append(s.Messages, session.Message{
			Role:    session.RoleAssistant,
			Kind:    session.KindPlain,
			Content: session.ScrapeFailedText,
		})
		s.State = session.StateActive
	})
}

// replaceLiveDraft swaps the newest spun message's content and drops any
// reviewed drafts that followed it, since they reviewed the old text.
func replaceLiveDraft(s *session.Session, content string) {
	spunIdx := -1
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Kind == session.KindSpun {
			spunIdx = i
			break
		}
	}
	if spunIdx < 0 {
		s.Messages = append(s.Messages, session.Message{
			Role:    session.RoleAssistant,
			Kind:    session.KindSpun,
			Content: content,
		})
		return
	}

	s.Messages[spunIdx].Content = content
	kept := s.Messages[:spunIdx+1]
	for _, m := range s.Messages[spunIdx+1:] {
		if m.Kind != session.KindReviewed {
			kept = append(kept, m)
		}
	}
	s.Messages = kept
}
