package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/normanking/saathi/internal/bus"
	"github.com/normanking/saathi/internal/voice"
)

// Controller is the part of the conversation controller the shell drives
type Controller interface {
	Open() error
	Close() error
	ToggleMinimize() error
	SetDraft(text string) error
	SubmitTypedText(text string) bool
	SubmitQuickAction(text string) bool
	ToggleMicrophone() error
	RequestStopSpeaking() error
	ReplaySpokenMessage(id string) error
	Reset() error
	Snapshot() voice.Snapshot
}

// snapshotMsg carries a controller state change
type snapshotMsg voice.Snapshot

// actionMsg reports the outcome of a controller call
type actionMsg struct {
	action string
	err    error
}

// submitMsg reports whether a submission was accepted
type submitMsg struct {
	accepted bool
}

// Model is the chat shell model
type Model struct {
	ctrl         Controller
	snapshots    <-chan voice.Snapshot
	dictation    chan<- string
	quickActions []string

	input    textinput.Model
	viewport viewport.Model

	snap   voice.Snapshot
	width  int
	height int
	ready  bool
	status string
}

// NewModel creates the shell model. Lines entered while listening are sent to
// dictation when it is non-nil.
func NewModel(ctrl Controller, snapshots <-chan voice.Snapshot, dictation chan<- string, quickActions []string) Model {
	ti := textinput.New()
	ti.Placeholder = "यहाँ लिखें..."
	ti.Prompt = "› "
	ti.CharLimit = 500
	ti.Focus()

	return Model{
		ctrl:         ctrl,
		snapshots:    snapshots,
		dictation:    dictation,
		quickActions: quickActions,
		input:        ti,
		snap:         ctrl.Snapshot(),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.waitSnapshot(),
		m.call("open", m.ctrl.Open),
	)
}

func (m Model) waitSnapshot() tea.Cmd {
	if m.snapshots == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-m.snapshots
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m Model) call(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

func (m Model) submit(text string) tea.Cmd {
	return func() tea.Msg {
		return submitMsg{accepted: m.ctrl.SubmitTypedText(text)}
	}
}

func (m Model) quickAction(text string) tea.Cmd {
	return func() tea.Msg {
		return submitMsg{accepted: m.ctrl.SubmitQuickAction(text)}
	}
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			return m, m.call("minimize", m.ctrl.ToggleMinimize)
		case "ctrl+o":
			if m.snap.Open {
				return m, m.call("close", m.ctrl.Close)
			}
			return m, m.call("open", m.ctrl.Open)
		case "ctrl+l":
			return m, m.call("mic", m.ctrl.ToggleMicrophone)
		case "ctrl+s":
			return m, m.call("stop", m.ctrl.RequestStopSpeaking)
		case "ctrl+n":
			return m, m.call("reset", m.ctrl.Reset)
		case "ctrl+p":
			if id := lastReplayable(m.snap); id != "" {
				return m, m.call("replay", func() error { return m.ctrl.ReplaySpokenMessage(id) })
			}
			return m, nil
		case "enter":
			return m.enter()
		}

		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if after := m.input.Value(); after != before && m.snap.Input != voice.InputListening {
			return m, tea.Batch(cmd, m.call("draft", func() error { return m.ctrl.SetDraft(after) }))
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.viewport = viewport.New(max(msg.Width-4, 10), max(msg.Height-10, 3))
		m.input.Width = max(msg.Width-8, 10)
		m.refresh()
		return m, nil

	case snapshotMsg:
		snap := voice.Snapshot(msg)
		if snap.Version > m.snap.Version {
			prev := m.snap
			m.snap = snap
			// a transcript fills the input the way typing would
			if prev.Input == voice.InputListening && snap.Draft != prev.Draft {
				m.input.SetValue(snap.Draft)
				m.input.CursorEnd()
			}
			m.refresh()
		}
		return m, m.waitSnapshot()

	case actionMsg:
		m.status = ""
		if msg.err != nil {
			m.status = fmt.Sprintf("%s: %v", msg.action, msg.err)
		}
		return m, nil

	case submitMsg:
		m.status = ""
		if !msg.accepted {
			m.status = "उत्तर की प्रतीक्षा करें..."
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) enter() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())

	// while listening the line is the spoken phrase
	if m.snap.Input == voice.InputListening && m.dictation != nil {
		m.input.Reset()
		select {
		case m.dictation <- text:
		default:
			m.status = "mic is not ready"
		}
		return m, nil
	}

	if text == "" {
		return m, nil
	}

	if n, ok := quickActionIndex(text, len(m.quickActions)); ok {
		m.input.Reset()
		return m, m.quickAction(m.quickActions[n])
	}

	m.input.Reset()
	return m, m.submit(text)
}

// quickActionIndex parses "/N" into a zero-based quick action index
func quickActionIndex(text string, n int) (int, bool) {
	if !strings.HasPrefix(text, "/") {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimPrefix(text, "/"))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

func lastReplayable(s voice.Snapshot) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Replayable() {
			return s.Messages[i].ID
		}
	}
	return ""
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) renderMessages() string {
	var b strings.Builder
	width := max(m.viewport.Width-2, 10)
	for _, msg := range m.snap.Messages {
		switch {
		case msg.IsPlaceholder():
			b.WriteString(placeholderStyle.Render(msg.Text))
		case msg.Role == voice.RoleUser:
			label := "आप: "
			if msg.ViaVoice {
				label = "आप 🎤: "
			}
			b.WriteString(userMessageStyle.Render(label))
			b.WriteString(wrap(msg.Text, width))
		default:
			label := "Saathi: "
			if msg.ID == m.snap.SpeakingMessageID {
				label = "Saathi 🔊: "
			}
			b.WriteString(assistantMessageStyle.Render(label))
			b.WriteString(wrap(msg.Text, width))
		}
		b.WriteString("\n\n")
	}
	if len(m.snap.Messages) == 1 && len(m.quickActions) > 0 {
		b.WriteString(dimStyle.Render("Quick actions:"))
		b.WriteString("\n")
		for i, q := range m.quickActions {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  /%d  %s", i+1, q)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func wrap(text string, width int) string {
	return wrapStyle.Width(width).Render(text)
}

// View implements tea.Model
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")

	if !m.snap.Open {
		b.WriteString(dimStyle.Render("Assistant is closed. ctrl+o to open."))
		b.WriteString("\n")
		b.WriteString(m.statusBar())
		return b.String()
	}

	if !m.snap.Minimized {
		b.WriteString(chatBoxStyle.Width(m.width - 2).Render(m.viewport.View()))
		b.WriteString("\n")
	}

	if n := m.snap.Notice; n != nil {
		b.WriteString(noticeStyle.Render("⚠ " + n.Text))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(errorStyle.Render(m.status))
		b.WriteString("\n")
	}

	box := inputStyle
	if m.snap.Input == voice.InputListening {
		box = listeningStyle
	}
	b.WriteString(box.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.statusBar())
	return b.String()
}

func (m Model) header() string {
	parts := []string{titleStyle.Render("Digital Saathi")}
	if m.snap.Phase == voice.PhaseAwaitingReply {
		parts = append(parts, dimStyle.Render("सोच रहा है..."))
	}
	if m.snap.Input == voice.InputListening {
		parts = append(parts, noticeStyle.Render("🎙 सुन रहा है"))
	}
	if m.snap.Output == voice.OutputSpeaking {
		parts = append(parts, noticeStyle.Render("🔊 बोल रहा है"))
	}
	if v := m.snap.Voice.Voice; v != nil {
		parts = append(parts, dimStyle.Render("voice: "+v.Name))
	}
	return strings.Join(parts, "  ")
}

func (m Model) statusBar() string {
	keys := "enter: send • /1-/6: quick action • ctrl+n: reset • esc: minimize • ctrl+c: quit"
	if m.snap.Capabilities.VoiceInput {
		keys = "ctrl+l: mic • " + keys
	}
	if m.snap.Capabilities.VoiceOutput {
		keys = "ctrl+s: stop • ctrl+p: replay • " + keys
	}
	return statusKeyStyle.Render(" CHAT ") + statusValueStyle.Render(" "+keys+" ")
}

// SnapshotFeed forwards controller snapshots from the bus until ctx ends
func SnapshotFeed(ctx context.Context, eventBus *bus.EventBus) <-chan voice.Snapshot {
	ch := make(chan voice.Snapshot, 16)
	eventBus.Subscribe(bus.EventTypeSnapshot, func(ev bus.Event) {
		snap, ok := ev.Data["snapshot"].(voice.Snapshot)
		if !ok {
			return
		}
		select {
		case ch <- snap:
		case <-ctx.Done():
		}
	})
	return ch
}

// Run starts the shell and blocks until it exits
func Run(ctx context.Context, ctrl Controller, snapshots <-chan voice.Snapshot, dictation chan<- string, quickActions []string) error {
	p := tea.NewProgram(NewModel(ctrl, snapshots, dictation, quickActions), tea.WithAltScreen())

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
