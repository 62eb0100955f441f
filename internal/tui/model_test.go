package tui

import (
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/bubbles/cursor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/saathi/internal/voice"
)

type fakeController struct {
	mu       sync.Mutex
	calls    []string
	submits  []string
	drafts   []string
	replayed string
	accept   bool
	snap     voice.Snapshot
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) Open() error           { f.record("open"); return nil }
func (f *fakeController) Close() error          { f.record("close"); return nil }
func (f *fakeController) ToggleMinimize() error { f.record("minimize"); return nil }
func (f *fakeController) ToggleMicrophone() error {
	f.record("mic")
	return nil
}
func (f *fakeController) RequestStopSpeaking() error { f.record("stop"); return nil }
func (f *fakeController) Reset() error               { f.record("reset"); return nil }
func (f *fakeController) Snapshot() voice.Snapshot   { return f.snap }

func (f *fakeController) SetDraft(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, text)
	return nil
}

func (f *fakeController) SubmitTypedText(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, text)
	return f.accept
}

func (f *fakeController) SubmitQuickAction(text string) bool {
	f.record("quick")
	return f.SubmitTypedText(text)
}

func (f *fakeController) ReplaySpokenMessage(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replayed = id
	return nil
}

var testActions = []string{"first", "second", "third"}

func greetingSnapshot(version uint64) voice.Snapshot {
	return voice.Snapshot{
		Version: version,
		Open:    true,
		Messages: []voice.Message{
			{ID: voice.GreetingID, Role: voice.RoleAssistant, Text: "नमस्कार"},
		},
		Capabilities: voice.Capabilities{VoiceInput: true, VoiceOutput: true},
	}
}

func newTestModel(ctrl *fakeController) Model {
	ctrl.snap = greetingSnapshot(1)
	m := NewModel(ctrl, nil, nil, testActions)
	m.input.Cursor.SetMode(cursor.CursorStatic)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return updated.(Model)
}

// runCmd executes cmd and any batched commands
func runCmd(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if batch, ok := cmd().(tea.BatchMsg); ok {
		for _, c := range batch {
			runCmd(c)
		}
	}
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return updated.(Model)
}

func press(m Model, key tea.KeyType) (Model, tea.Cmd) {
	updated, cmd := m.Update(tea.KeyMsg{Type: key})
	return updated.(Model), cmd
}

func TestQuickActionIndex(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"/1", 0, true},
		{"/3", 2, true},
		{"/4", 0, false},
		{"/0", 0, false},
		{"/x", 0, false},
		{"1", 0, false},
	}
	for _, tc := range tests {
		got, ok := quickActionIndex(tc.in, 3)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestModel_SubmitOnEnter(t *testing.T) {
	ctrl := &fakeController{accept: true}
	m := typeText(t, newTestModel(ctrl), "बिजली")

	m, cmd := press(m, tea.KeyEnter)
	require.NotNil(t, cmd)
	assert.Empty(t, m.input.Value())

	msg := cmd()
	assert.Equal(t, submitMsg{accepted: true}, msg)
	assert.Equal(t, []string{"बिजली"}, ctrl.submits)

	updated, _ := m.Update(msg)
	assert.Empty(t, updated.(Model).status)
}

func TestModel_RejectedSubmissionShowsStatus(t *testing.T) {
	m := newTestModel(&fakeController{})
	updated, _ := m.Update(submitMsg{accepted: false})
	assert.NotEmpty(t, updated.(Model).status)
}

func TestModel_BlankEnterIsIgnored(t *testing.T) {
	m := newTestModel(&fakeController{})
	_, cmd := press(m, tea.KeyEnter)
	assert.Nil(t, cmd)
}

func TestModel_QuickActionShortcut(t *testing.T) {
	ctrl := &fakeController{accept: true}
	m := typeText(t, newTestModel(ctrl), "/2")

	_, cmd := press(m, tea.KeyEnter)
	require.NotNil(t, cmd)
	cmd()

	assert.Equal(t, []string{"quick"}, ctrl.calls)
	assert.Equal(t, []string{"second"}, ctrl.submits)
}

func TestModel_TypingUpdatesDraft(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("प")})
	require.NotNil(t, cmd)
	assert.Equal(t, "प", updated.(Model).input.Value())

	runCmd(cmd)
	assert.Equal(t, []string{"प"}, ctrl.drafts)
}

func TestModel_Shortcuts(t *testing.T) {
	tests := []struct {
		key  tea.KeyType
		want string
	}{
		{tea.KeyEsc, "minimize"},
		{tea.KeyCtrlL, "mic"},
		{tea.KeyCtrlS, "stop"},
		{tea.KeyCtrlN, "reset"},
		{tea.KeyCtrlO, "close"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			ctrl := &fakeController{}
			_, cmd := press(newTestModel(ctrl), tc.key)
			require.NotNil(t, cmd)
			assert.Equal(t, actionMsg{action: tc.want}, cmd())
			assert.Equal(t, []string{tc.want}, ctrl.calls)
		})
	}
}

func TestModel_ReplayLastAssistantMessage(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl)

	snap := greetingSnapshot(2)
	snap.Messages = append(snap.Messages,
		voice.Message{ID: "u1", Role: voice.RoleUser, Text: "पानी"},
		voice.Message{ID: "a1", Role: voice.RoleAssistant, Text: "reply"},
		voice.Message{ID: "u2", Role: voice.RoleUser, Text: "फिर"},
		voice.Message{ID: voice.PlaceholderID, Role: voice.RoleAssistant, Text: "..."},
	)
	updated, _ := m.Update(snapshotMsg(snap))
	m = updated.(Model)

	_, cmd := press(m, tea.KeyCtrlP)
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, "a1", ctrl.replayed)
}

func TestModel_IgnoresStaleSnapshots(t *testing.T) {
	m := newTestModel(&fakeController{})

	newer := greetingSnapshot(5)
	newer.Minimized = true
	updated, _ := m.Update(snapshotMsg(newer))
	m = updated.(Model)

	updated, _ = m.Update(snapshotMsg(greetingSnapshot(3)))
	m = updated.(Model)
	assert.Equal(t, uint64(5), m.snap.Version)
	assert.True(t, m.snap.Minimized)
}

func TestModel_DictationWhileListening(t *testing.T) {
	ctrl := &fakeController{}
	ctrl.snap = greetingSnapshot(1)
	lines := make(chan string, 1)
	m := NewModel(ctrl, nil, lines, testActions)
	m.input.Cursor.SetMode(cursor.CursorStatic)

	listening := greetingSnapshot(2)
	listening.Input = voice.InputListening
	updated, _ := m.Update(snapshotMsg(listening))
	m = typeText(t, updated.(Model), "मौसम")

	m, cmd := press(m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.Equal(t, "मौसम", <-lines)
	assert.Empty(t, ctrl.submits)

	// the transcript comes back as the draft
	heard := greetingSnapshot(3)
	heard.Draft = "मौसम"
	updated, _ = m.Update(snapshotMsg(heard))
	assert.Equal(t, "मौसम", updated.(Model).input.Value())
}

func TestModel_View(t *testing.T) {
	ctrl := &fakeController{}
	ctrl.snap = greetingSnapshot(1)
	assert.Equal(t, "Loading...", NewModel(ctrl, nil, nil, testActions).View())

	m := newTestModel(ctrl)
	view := m.View()
	assert.Contains(t, view, "Digital Saathi")
	assert.Contains(t, view, "नमस्कार")
	assert.Contains(t, view, "/2  second")
	assert.Contains(t, view, "ctrl+l: mic")

	speaking := greetingSnapshot(2)
	speaking.Output = voice.OutputSpeaking
	speaking.SpeakingMessageID = voice.GreetingID
	speaking.Notice = &voice.Notice{Text: "माइक उपलब्ध नहीं"}
	updated, _ := m.Update(snapshotMsg(speaking))
	view = updated.(Model).View()
	assert.Contains(t, view, "🔊")
	assert.Contains(t, view, "माइक उपलब्ध नहीं")

	closed := greetingSnapshot(3)
	closed.Open = false
	updated, _ = m.Update(snapshotMsg(closed))
	assert.True(t, strings.Contains(updated.(Model).View(), "ctrl+o"))
}
