// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"strings"

	"pagespin/internal/session"
	"pagespin/internal/store"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

type uiMode int

const (
	modeInput uiMode = iota
	modeEdit
	modeFeedback
	modeHistory
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sidebarStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	draftStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
)

type sessionEventMsg session.Event

type historyMsg struct {
	versions []store.Version
	err      error
}

type restoredMsg struct {
	version store.Version
	err     error
}

// chatModel is the main model for the interactive chat interface
type chatModel struct {
	// UI components
	textinput textinput.Model
	editor    textarea.Model
	viewport  viewport.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer

	engine *engine
	ctx    context.Context

	mode    uiMode
	width   int
	height  int
	ready   bool
	status  string
	history []store.Version
	cursor  int
}

func newChatModel(ctx context.Context, eng *engine) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Paste a URL to get started..."
	ti.Focus()
	ti.CharLimit = 4096

	ed := textarea.New()
	ed.Placeholder = "Edit the draft..."
	ed.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)

	return chatModel{
		textinput: ti,
		editor:    ed,
		spinner:   sp,
		renderer:  renderer,
		engine:    eng,
		ctx:       ctx,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForEvent())
}

func (m chatModel) waitForEvent() tea.Cmd {
	events := m.engine.sessions.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return sessionEventMsg(ev)
	}
}

func (m chatModel) fetchHistory() tea.Cmd {
	st := m.engine.store
	ctx := m.ctx
	return func() tea.Msg {
		if err := st.EnsureCollection(ctx); err != nil {
			return historyMsg{err: err}
		}
		versions, err := st.List(ctx)
		return historyMsg{versions: versions, err: err}
	}
}

func (m chatModel) restoreVersion(id string) tea.Cmd {
	st := m.engine.store
	ctx := m.ctx
	return func() tea.Msg {
		v, err := st.Promote(ctx, id)
		return restoredMsg{version: v, err: err}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpWidth := m.width - sidebarWidth - 6
		vpHeight := m.height - 7
		if !m.ready {
			m.viewport = viewport.New(vpWidth, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = vpWidth
			m.viewport.Height = vpHeight
		}
		m.textinput.Width = vpWidth
		m.editor.SetWidth(vpWidth)
		m.editor.SetHeight(vpHeight / 2)
		m.refreshViewport()
		return m, nil

	case sessionEventMsg:
		m.refreshViewport()
		return m, m.waitForEvent()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.busy() {
			m.refreshViewport()
		}
		return m, cmd

	case historyMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("history: " + msg.err.Error())
			m.mode = modeInput
			return m, nil
		}
		m.history = msg.versions
		m.cursor = len(m.history) - 1
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, nil

	case restoredMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("restore: " + msg.err.Error())
		} else {
			m.status = statusStyle.Render("Restored as version " + msg.version.ID)
		}
		m.mode = modeInput
		m.textinput.Focus()
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	switch m.mode {
	case modeInput, modeFeedback:
		var cmd tea.Cmd
		m.textinput, cmd = m.textinput.Update(msg)
		cmds = append(cmds, cmd)
	case modeEdit:
		var cmd tea.Cmd
		m.editor, cmd = m.editor.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *chatModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true

	case "esc":
		if m.mode != modeInput {
			m.mode = modeInput
			m.textinput.Placeholder = "Type a message..."
			m.textinput.Focus()
			m.editor.Blur()
			return nil, true
		}
		return nil, false

	case "enter":
		if m.mode == modeEdit {
			// Let the editor insert the newline.
			return nil, false
		}
		return m.handleEnter(), true

	case "ctrl+s":
		if m.mode == modeEdit {
			m.commitEdit()
			return nil, true
		}
		return nil, false

	case "ctrl+n":
		m.engine.sessions.Create("")
		m.status = ""
		m.refreshViewport()
		return nil, true

	case "ctrl+d":
		if cur, ok := m.engine.sessions.Current(); ok {
			if err := m.engine.sessions.Delete(cur.ID); err != nil {
				m.status = errorStyle.Render(err.Error())
			}
			m.refreshViewport()
		}
		return nil, true

	case "tab", "shift+tab":
		m.cycleSession(msg.String() == "tab")
		return nil, true

	case "ctrl+e":
		if m.mode != modeInput {
			return nil, true
		}
		cur, ok := m.engine.sessions.Current()
		if !ok {
			return nil, true
		}
		draft := cur.LastContent()
		if draft == nil {
			m.status = errorStyle.Render("No draft to edit yet")
			return nil, true
		}
		m.mode = modeEdit
		m.editor.SetValue(draft.Content)
		m.editor.Focus()
		m.textinput.Blur()
		return nil, true

	case "ctrl+f":
		if m.mode != modeInput {
			return nil, true
		}
		m.mode = modeFeedback
		m.textinput.Placeholder = "Feedback for the reviewer..."
		m.textinput.SetValue("")
		return nil, true

	case "ctrl+g":
		if m.mode == modeInput {
			m.mode = modeHistory
			return m.fetchHistory(), true
		}
		return nil, true

	case "ctrl+y":
		m.sendReward(1)
		return nil, true

	case "ctrl+x":
		m.sendReward(-1)
		return nil, true

	case "up", "k":
		if m.mode == modeHistory {
			if m.cursor > 0 {
				m.cursor--
			}
			return nil, true
		}
		return nil, false

	case "down", "j":
		if m.mode == modeHistory {
			if m.cursor < len(m.history)-1 {
				m.cursor++
			}
			return nil, true
		}
		return nil, false
	}
	return nil, false
}

func (m *chatModel) handleEnter() tea.Cmd {
	cur, ok := m.engine.sessions.Current()
	if !ok {
		return nil
	}

	switch m.mode {
	case modeInput:
		text := strings.TrimSpace(m.textinput.Value())
		if text == "" {
			return nil
		}
		m.textinput.SetValue("")
		m.status = ""
		m.engine.sessions.SubmitInput(m.ctx, cur.ID, text)
		if cur.State != session.StateAwaitingURL {
			m.textinput.Placeholder = "Type a message..."
		}
		m.refreshViewport()

	case modeFeedback:
		text := strings.TrimSpace(m.textinput.Value())
		if text == "" {
			return nil
		}
		m.textinput.SetValue("")
		m.mode = modeInput
		m.textinput.Placeholder = "Type a message..."
		if err := m.engine.sessions.SubmitFeedback(m.ctx, cur.ID, text); err != nil {
			m.status = errorStyle.Render(err.Error())
		}
		m.refreshViewport()

	case modeHistory:
		if len(m.history) == 0 {
			m.mode = modeInput
			return nil
		}
		return m.restoreVersion(m.history[m.cursor].ID)
	}
	return nil
}

func (m *chatModel) commitEdit() {
	cur, ok := m.engine.sessions.Current()
	if !ok {
		return
	}
	content := m.editor.Value()
	m.mode = modeInput
	m.editor.Blur()
	m.textinput.Focus()
	if err := m.engine.sessions.EditDraft(m.ctx, cur.ID, content, false); err != nil {
		m.status = errorStyle.Render(err.Error())
	}
	m.refreshViewport()
}

func (m *chatModel) sendReward(score int) {
	cur, ok := m.engine.sessions.Current()
	if !ok {
		return
	}
	if cur.LastContent() == nil {
		m.status = errorStyle.Render("Nothing to rate yet")
		return
	}
	note := ""
	if last := cur.LastContent(); last != nil {
		note = string(last.Kind)
	}
	m.engine.sessions.SubmitReward(m.ctx, cur.ID, score, note)
	if score > 0 {
		m.status = statusStyle.Render("Thumbs up sent")
	} else {
		m.status = statusStyle.Render("Thumbs down sent")
	}
}

func (m *chatModel) cycleSession(forward bool) {
	sessions := m.engine.sessions.List()
	cur, ok := m.engine.sessions.Current()
	if !ok || len(sessions) < 2 {
		return
	}
	idx := 0
	for i, s := range sessions {
		if s.ID == cur.ID {
			idx = i
			break
		}
	}
	if forward {
		idx = (idx + 1) % len(sessions)
	} else {
		idx = (idx - 1 + len(sessions)) % len(sessions)
	}
	_ = m.engine.sessions.Select(sessions[idx].ID)
	m.refreshViewport()
}

func (m *chatModel) busy() bool {
	cur, ok := m.engine.sessions.Current()
	return ok && cur.PendingOp >= 0
}

const sidebarWidth = 24

func (m *chatModel) refreshViewport() {
	if !m.ready {
		return
	}
	cur, ok := m.engine.sessions.Current()
	if !ok {
		m.viewport.SetContent("")
		return
	}

	var b strings.Builder
	for _, msg := range cur.Messages {
		switch {
		case msg.Role == session.RoleUser:
			b.WriteString(userStyle.Render("You: ") + msg.Content + "\n\n")
		case msg.Kind == session.KindLoader:
			b.WriteString(m.spinner.View() + " " + dimStyle.Render(msg.Content) + "\n\n")
		case msg.Kind == session.KindSpun || msg.Kind == session.KindReviewed:
			label := "Spun draft"
			if msg.Kind == session.KindReviewed {
				label = "Reviewed draft"
			}
			rendered := msg.Content
			if m.renderer != nil {
				if out, err := m.renderer.Render(msg.Content); err == nil {
					rendered = strings.TrimSpace(out)
				}
			}
			b.WriteString(draftStyle.Render(titleStyle.Render(label)+"\n"+rendered) + "\n\n")
		default:
			b.WriteString(msg.Content + "\n\n")
		}
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Starting pagespin..."
	}

	sidebar := m.renderSidebar()

	var main string
	switch m.mode {
	case modeEdit:
		main = lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Edit draft")+dimStyle.Render("  (ctrl+s save, esc cancel)"),
			m.editor.View(),
		)
	case modeHistory:
		main = m.renderHistory()
	default:
		main = lipgloss.JoinVertical(lipgloss.Left,
			m.viewport.View(),
			m.textinput.View(),
		)
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", main)

	help := dimStyle.Render("ctrl+n new · ctrl+d delete · tab switch · ctrl+e edit · ctrl+f feedback · ctrl+g history · ctrl+y/x rate · ctrl+c quit")
	footer := help
	if m.status != "" {
		footer = m.status + "  " + help
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

func (m *chatModel) renderSidebar() string {
	sessions := m.engine.sessions.List()
	cur, _ := m.engine.sessions.Current()

	var b strings.Builder
	b.WriteString(titleStyle.Render("Sessions") + "\n")
	for _, s := range sessions {
		name := s.Name
		if s.PendingOp >= 0 {
			name = m.spinner.View() + " " + name
		}
		if s.ID == cur.ID {
			b.WriteString(selectedStyle.Render("> "+name) + "\n")
		} else {
			b.WriteString("  " + name + "\n")
		}
	}
	return sidebarStyle.Width(sidebarWidth).Height(m.height - 4).Render(b.String())
}

func (m *chatModel) renderHistory() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Version history") + dimStyle.Render("  (enter restore, esc close)") + "\n\n")
	if len(m.history) == 0 {
		b.WriteString(dimStyle.Render("No versions yet.") + "\n")
	}
	for i, v := range m.history {
		preview := v.Content
		if len(preview) > 60 {
			preview = preview[:60] + "..."
		}
		preview = strings.ReplaceAll(preview, "\n", " ")
		line := fmt.Sprintf("%-11s  %s", v.Editor, preview)
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}
	return b.String()
}

func runChat() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.close()

	eng.sessions.Create("")

	model := newChatModel(ctx, eng)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}
