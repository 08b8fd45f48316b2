package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pagespin/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu       sync.Mutex
	runs     []string
	edits    []string
	refines  []string
	ran      chan struct{}
	blockRun chan struct{}
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{ran: make(chan struct{}, 8)}
}

func (f *fakePipeline) Run(ctx context.Context, sessionID, pageURL string) {
	if f.blockRun != nil {
		<-f.blockRun
	}
	f.mu.Lock()
	f.runs = append(f.runs, pageURL)
	f.mu.Unlock()
	f.ran <- struct{}{}
}

func (f *fakePipeline) EditAndRerun(ctx context.Context, sessionID, content string, wholesale bool) {
	f.mu.Lock()
	f.edits = append(f.edits, content)
	f.mu.Unlock()
	f.ran <- struct{}{}
}

func (f *fakePipeline) RefineWithFeedback(ctx context.Context, sessionID, feedback string) {
	f.mu.Lock()
	f.refines = append(f.refines, feedback)
	f.mu.Unlock()
	f.ran <- struct{}{}
}

type fakeChat struct {
	reply string
	err   error
	turns []types.Turn
}

func (f *fakeChat) Reply(ctx context.Context, pageContext string, history []types.Turn, message string) (string, error) {
	f.turns = history
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type nopRewards struct{ scores []int }

func (n *nopRewards) Submit(ctx context.Context, score int, note string) error {
	n.scores = append(n.scores, score)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakePipeline) {
	t.Helper()
	m := NewManager(&fakeChat{reply: "ok"}, &nopRewards{})
	p := newFakePipeline()
	m.SetPipeline(p)
	return m, p
}

func waitFor(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipeline call")
	}
}

func TestCreateSelectsNewSession(t *testing.T) {
	m, _ := newTestManager(t)

	first := m.Create("one")
	second := m.Create("two")

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, second, cur.ID)
	assert.Equal(t, StateAwaitingURL, cur.State)
	assert.Equal(t, -1, cur.PendingOp)

	sessions := m.List()
	require.Len(t, sessions, 2)
	assert.Equal(t, first, sessions[0].ID)
	assert.Equal(t, second, sessions[1].ID)
}

func TestDeleteLastSessionRefused(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.Create("only")

	err := m.Delete(id)
	require.Error(t, err)

	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
	_, ok := m.Snapshot(id)
	assert.True(t, ok)
}

func TestDeleteReselectsPreceding(t *testing.T) {
	m, _ := newTestManager(t)
	a := m.Create("a")
	b := m.Create("b")
	c := m.Create("c")

	require.NoError(t, m.Select(b))
	require.NoError(t, m.Delete(b))

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, a, cur.ID)

	require.NoError(t, m.Delete(a))
	cur, _ = m.Current()
	assert.Equal(t, c, cur.ID)
}

func TestInvalidURLEchoesPrompt(t *testing.T) {
	m, p := newTestManager(t)
	id := m.Create("")

	m.SubmitInput(context.Background(), id, "not a url")

	snap, _ := m.Snapshot(id)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, RoleUser, snap.Messages[0].Role)
	assert.Equal(t, "not a url", snap.Messages[0].Content)
	assert.Equal(t, InvalidURLText, snap.Messages[1].Content)
	assert.Equal(t, StateAwaitingURL, snap.State)
	assert.Empty(t, p.runs)
}

func TestRelativeURLRejected(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.Create("")

	m.SubmitInput(context.Background(), id, "/relative/path")

	snap, _ := m.Snapshot(id)
	assert.Equal(t, InvalidURLText, snap.Messages[len(snap.Messages)-1].Content)
}

func TestValidURLStartsPipeline(t *testing.T) {
	m, p := newTestManager(t)
	id := m.Create("")

	m.SubmitInput(context.Background(), id, "https://example.com/article")
	waitFor(t, p.ran)

	snap, _ := m.Snapshot(id)
	assert.Equal(t, "https://example.com/article", snap.URL)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, URLAcceptedText, snap.Messages[1].Content)
	assert.Equal(t, []string{"https://example.com/article"}, p.runs)
}

func TestGateSerializesOperations(t *testing.T) {
	m, p := newTestManager(t)
	p.blockRun = make(chan struct{})
	id := m.Create("")

	m.SubmitInput(context.Background(), id, "https://example.com")

	// Pipeline is blocked mid-run; a concurrent edit must be refused.
	m.Update(id, func(s *Session) {
		s.State = StateActive
		s.Messages = append(s.Messages, Message{Role: RoleAssistant, Kind: KindSpun, Content: "draft"})
	})
	err := m.EditDraft(context.Background(), id, "new text", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	close(p.blockRun)
	waitFor(t, p.ran)
}

func TestChatReplyReplacesLoader(t *testing.T) {
	chat := &fakeChat{reply: "It is about lighthouses."}
	m := NewManager(chat, &nopRewards{})
	m.SetPipeline(newFakePipeline())
	id := m.Create("")
	m.Update(id, func(s *Session) {
		s.State = StateActive
		s.PageText = "lighthouse article"
	})

	m.SubmitInput(context.Background(), id, "what is this page about?")

	require.Eventually(t, func() bool {
		snap, _ := m.Snapshot(id)
		return snap.PendingOp == -1 && len(snap.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap, _ := m.Snapshot(id)
	assert.Equal(t, "It is about lighthouses.", snap.Messages[1].Content)
	assert.Equal(t, KindPlain, snap.Messages[1].Kind)
}

func TestChatFailureShowsNotice(t *testing.T) {
	chat := &fakeChat{err: errors.New("model offline")}
	m := NewManager(chat, &nopRewards{})
	m.SetPipeline(newFakePipeline())
	id := m.Create("")
	m.Update(id, func(s *Session) { s.State = StateActive })

	m.SubmitInput(context.Background(), id, "hello?")

	require.Eventually(t, func() bool {
		snap, _ := m.Snapshot(id)
		return snap.PendingOp == -1 && len(snap.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap, _ := m.Snapshot(id)
	assert.Equal(t, KindPlain, snap.Messages[1].Kind)
	assert.NotEqual(t, ThinkingText, snap.Messages[1].Content)
}

func TestEditDraftRequiresExistingDraft(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.Create("")

	err := m.EditDraft(context.Background(), id, "replacement", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no draft")
}

func TestEditDraftDispatchesPipeline(t *testing.T) {
	m, p := newTestManager(t)
	id := m.Create("")
	m.Update(id, func(s *Session) {
		s.State = StateActive
		s.Messages = append(s.Messages, Message{Role: RoleAssistant, Kind: KindSpun, Content: "draft"})
	})

	require.NoError(t, m.EditDraft(context.Background(), id, "my rewrite", true))
	waitFor(t, p.ran)

	assert.Equal(t, []string{"my rewrite"}, p.edits)
}

func TestFeedbackRequiresReviewedDraft(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.Create("")
	m.Update(id, func(s *Session) {
		s.State = StateActive
		s.Messages = append(s.Messages, Message{Role: RoleAssistant, Kind: KindSpun, Content: "draft"})
	})

	err := m.SubmitFeedback(context.Background(), id, "make it shorter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no reviewed draft")
}

func TestFeedbackDispatchesPipeline(t *testing.T) {
	m, p := newTestManager(t)
	id := m.Create("")
	m.Update(id, func(s *Session) {
		s.State = StateActive
		s.Messages = append(s.Messages,
			Message{Role: RoleAssistant, Kind: KindSpun, Content: "draft"},
			Message{Role: RoleAssistant, Kind: KindReviewed, Content: "reviewed draft"},
		)
	})

	require.NoError(t, m.SubmitFeedback(context.Background(), id, "make it shorter"))
	waitFor(t, p.ran)

	assert.Equal(t, []string{"make it shorter"}, p.refines)
}

func TestFeedbackRelaysPositiveReward(t *testing.T) {
	rewards := &nopRewards{}
	m := NewManager(&fakeChat{}, rewards)
	p := newFakePipeline()
	m.SetPipeline(p)
	id := m.Create("")
	m.Update(id, func(s *Session) {
		s.State = StateActive
		s.Messages = append(s.Messages, Message{Role: RoleAssistant, Kind: KindReviewed, Content: "reviewed"})
	})

	require.NoError(t, m.SubmitFeedback(context.Background(), id, "tighter prose"))
	waitFor(t, p.ran)

	assert.Equal(t, []int{1}, rewards.scores)
}

func TestSubmitRewardForwardsScore(t *testing.T) {
	rewards := &nopRewards{}
	m := NewManager(&fakeChat{}, rewards)
	m.SetPipeline(newFakePipeline())
	id := m.Create("")

	m.SubmitReward(context.Background(), id, 1, "nice")
	m.SubmitReward(context.Background(), id, -1, "")

	assert.Equal(t, []int{1, -1}, rewards.scores)
}

func TestLoaderLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.Create("")

	idx := m.StartLoader(id, WriterLoaderText)
	snap, _ := m.Snapshot(id)
	require.Equal(t, idx, snap.PendingOp)
	assert.Equal(t, KindLoader, snap.Messages[idx].Kind)
	assert.Equal(t, WriterLoaderText, snap.Messages[idx].Content)

	m.ResolveLoader(id, KindSpun, "spun text")
	snap, _ = m.Snapshot(id)
	assert.Equal(t, -1, snap.PendingOp)
	assert.Equal(t, KindSpun, snap.Messages[idx].Kind)
	assert.Equal(t, "spun text", snap.Messages[idx].Content)
}

func TestSnapshotIsACopy(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.Create("")
	m.Update(id, func(s *Session) {
		s.Messages = append(s.Messages, Message{Role: RoleUser, Kind: KindPlain, Content: "original"})
	})

	snap, _ := m.Snapshot(id)
	snap.Messages[0].Content = "mutated"

	fresh, _ := m.Snapshot(id)
	assert.Equal(t, "original", fresh.Messages[0].Content)
}
