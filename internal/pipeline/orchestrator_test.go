package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pagespin/internal/session"
	"pagespin/internal/store"
	"pagespin/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScraper struct {
	text string
	ref  string
	err  error
}

func (f *fakeScraper) Fetch(ctx context.Context, url string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.text, f.ref, nil
}

type fakeWriter struct {
	out string
	err error
}

func (f *fakeWriter) Complete(ctx context.Context, prompt, input string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

type fakeReviewer struct {
	mu     sync.Mutex
	out    string
	err    error
	inputs []string
}

func (f *fakeReviewer) Complete(ctx context.Context, systemPrompt, draft string) (string, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, draft)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func (f *fakeReviewer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func (f *fakeReviewer) lastInput() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return ""
	}
	return f.inputs[len(f.inputs)-1]
}

type nopChat struct{}

func (nopChat) Reply(ctx context.Context, pageContext string, history []types.Turn, message string) (string, error) {
	return "", errors.New("not used")
}

type nopRewards struct{}

func (nopRewards) Submit(ctx context.Context, score int, note string) error { return nil }

type harness struct {
	manager  *session.Manager
	store    *store.Store
	scraper  *fakeScraper
	writer   *fakeWriter
	reviewer *fakeReviewer
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "pagespin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		manager:  session.NewManager(nopChat{}, nopRewards{}),
		store:    st,
		scraper:  &fakeScraper{text: "Hello world"},
		writer:   &fakeWriter{out: "Hi planet"},
		reviewer: &fakeReviewer{out: "Hi, world!"},
	}
	h.orch = New(h.manager, h.scraper, h.writer, h.reviewer, st, "rewrite it", "review it")
	h.manager.SetPipeline(h.orch)
	return h
}

func (h *harness) waitActive(t *testing.T, id string) session.Session {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, ok := h.manager.Snapshot(id)
		return ok && snap.State == session.StateActive && snap.PendingOp == -1
	}, 3*time.Second, 10*time.Millisecond)
	snap, _ := h.manager.Snapshot(id)
	return snap
}

func (h *harness) versions(t *testing.T) []store.Version {
	t.Helper()
	require.NoError(t, h.store.EnsureCollection(context.Background()))
	vs, err := h.store.List(context.Background())
	require.NoError(t, err)
	return vs
}

func TestRunProducesSpunDraftAndVersion(t *testing.T) {
	h := newHarness(t)
	id := h.manager.Create("")

	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	snap := h.waitActive(t, id)

	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, session.KindSpun, last.Kind)
	assert.Equal(t, "Hi planet", last.Content)
	assert.Equal(t, "Hello world", snap.PageText)

	vs := h.versions(t)
	require.Len(t, vs, 1)
	assert.Equal(t, "Hi planet", vs[0].Content)
	assert.Equal(t, store.EditorAIWriter, vs[0].Editor)
	assert.Empty(t, vs[0].ParentID)
	assert.Equal(t, vs[0].ID, snap.LastVersionID)

	// The warm reviewer pass ran but left no trace in transcript or store.
	assert.Equal(t, 1, h.reviewer.callCount())
}

func TestRunScrapeFailureLeavesSingleNotice(t *testing.T) {
	h := newHarness(t)
	h.scraper.err = &types.FetchError{URL: "https://example.com", Err: errors.New("timeout")}
	id := h.manager.Create("")

	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	snap := h.waitActive(t, id)

	require.Len(t, snap.Messages, 2)
	assert.Equal(t, session.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, session.ScrapeFailedText, snap.Messages[1].Content)
	assert.Equal(t, session.KindPlain, snap.Messages[1].Kind)

	assert.Empty(t, h.versions(t))
	assert.Equal(t, 0, h.reviewer.callCount())
}

func TestRunWriterFailureSubstitutesLoader(t *testing.T) {
	h := newHarness(t)
	h.writer.err = &types.GenerationError{Stage: "writer", Err: types.ErrEmptyCompletion}
	id := h.manager.Create("")

	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	snap := h.waitActive(t, id)

	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, session.WriterFailedText, last.Content)
	assert.Equal(t, session.KindPlain, last.Kind)
	assert.Empty(t, h.versions(t))
}

func TestEditAndRerunPersistsUserThenReviewer(t *testing.T) {
	h := newHarness(t)
	id := h.manager.Create("")
	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	h.waitActive(t, id)

	h.orch.EditAndRerun(context.Background(), id, "Hi world", false)
	snap := h.waitActive(t, id)

	vs := h.versions(t)
	require.Len(t, vs, 3)
	assert.Equal(t, "Hi world", vs[1].Content)
	assert.Equal(t, store.EditorUser, vs[1].Editor)
	assert.Equal(t, "Hi, world!", vs[2].Content)
	assert.Equal(t, store.EditorAIReviewer, vs[2].Editor)

	// Lineage chains each version to its predecessor.
	assert.Empty(t, vs[0].ParentID)
	assert.Equal(t, vs[0].ID, vs[1].ParentID)
	assert.Equal(t, vs[1].ID, vs[2].ParentID)

	var spun, reviewed *session.Message
	for i := range snap.Messages {
		switch snap.Messages[i].Kind {
		case session.KindSpun:
			spun = &snap.Messages[i]
		case session.KindReviewed:
			reviewed = &snap.Messages[i]
		}
	}
	require.NotNil(t, spun)
	require.NotNil(t, reviewed)
	assert.Equal(t, "Hi world", spun.Content)
	assert.Equal(t, "Hi, world!", reviewed.Content)
}

func TestEditWholesaleAttributedToWriter(t *testing.T) {
	h := newHarness(t)
	id := h.manager.Create("")
	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	h.waitActive(t, id)

	h.orch.EditAndRerun(context.Background(), id, "Entirely new draft", true)
	h.waitActive(t, id)

	vs := h.versions(t)
	require.Len(t, vs, 3)
	assert.Equal(t, store.EditorAIWriter, vs[1].Editor)
}

func TestEditDropsStaleReviewedDraft(t *testing.T) {
	h := newHarness(t)
	id := h.manager.Create("")
	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	h.waitActive(t, id)

	h.orch.EditAndRerun(context.Background(), id, "first edit", false)
	h.waitActive(t, id)
	h.reviewer.out = "second review"
	h.orch.EditAndRerun(context.Background(), id, "second edit", false)
	snap := h.waitActive(t, id)

	var reviewed []string
	for _, m := range snap.Messages {
		if m.Kind == session.KindReviewed {
			reviewed = append(reviewed, m.Content)
		}
	}
	require.Len(t, reviewed, 1)
	assert.Equal(t, "second review", reviewed[0])
}

func TestEditReviewerFailureKeepsEdit(t *testing.T) {
	h := newHarness(t)
	id := h.manager.Create("")
	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	h.waitActive(t, id)

	h.reviewer.err = errors.New("reviewer down")
	h.orch.EditAndRerun(context.Background(), id, "Hi world", false)
	snap := h.waitActive(t, id)

	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, session.ReviewerFailedText, last.Content)
	assert.Equal(t, "Hi world", snap.LastContent().Content)

	// The user's edit is persisted even though the review failed.
	vs := h.versions(t)
	require.Len(t, vs, 2)
	assert.Equal(t, store.EditorUser, vs[1].Editor)
}

func TestRefineWithFeedbackSendsPriorDraft(t *testing.T) {
	h := newHarness(t)
	id := h.manager.Create("")
	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	h.waitActive(t, id)
	h.orch.EditAndRerun(context.Background(), id, "Hi world", false)
	h.waitActive(t, id)

	h.reviewer.out = "Hi, world! Refined."
	h.orch.RefineWithFeedback(context.Background(), id, "make it warmer")
	snap := h.waitActive(t, id)

	lastInput := h.reviewer.lastInput()
	assert.Contains(t, lastInput, "Hi, world!")
	assert.Contains(t, lastInput, "User feedback: make it warmer")

	assert.Equal(t, "Hi, world! Refined.", snap.LastContent().Content)
	vs := h.versions(t)
	require.Len(t, vs, 4)
	assert.Equal(t, store.EditorAIReviewer, vs[3].Editor)
	assert.Equal(t, vs[2].ID, vs[3].ParentID)
}

func TestRefineFailurePersistsNothing(t *testing.T) {
	h := newHarness(t)
	id := h.manager.Create("")
	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	h.waitActive(t, id)
	h.orch.EditAndRerun(context.Background(), id, "Hi world", false)
	h.waitActive(t, id)

	before := len(h.versions(t))
	h.reviewer.err = errors.New("reviewer down")
	h.orch.RefineWithFeedback(context.Background(), id, "shorter")
	snap := h.waitActive(t, id)

	assert.Equal(t, session.ReviewerFailedText, snap.Messages[len(snap.Messages)-1].Content)
	assert.Len(t, h.versions(t), before)
}

type failingLog struct{}

func (failingLog) EnsureCollection(ctx context.Context) error { return nil }
func (failingLog) Append(ctx context.Context, content, parentID string, editor store.Editor) (store.Version, error) {
	return store.Version{}, &types.StoreError{Op: "append", Err: errors.New("disk full")}
}

func TestStoreFailureStillShowsContent(t *testing.T) {
	h := newHarness(t)
	h.orch = New(h.manager, h.scraper, h.writer, h.reviewer, failingLog{}, "rewrite it", "review it")
	h.manager.SetPipeline(h.orch)
	id := h.manager.Create("")

	h.manager.SubmitInput(context.Background(), id, "https://example.com")
	snap := h.waitActive(t, id)

	assert.Equal(t, "Hi planet", snap.LastContent().Content)
	assert.Empty(t, snap.LastVersionID)
}
