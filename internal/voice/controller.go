package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/saathi/internal/bus"
	"github.com/normanking/saathi/internal/intent"
	"github.com/normanking/saathi/internal/metrics"
	"github.com/normanking/saathi/internal/stt"
	"github.com/normanking/saathi/internal/tts"
)

// Controller is the conversation state machine. All state lives on the loop
// goroutine started by Start; public methods post commands and wait for them
// to be applied, platform callbacks and timers post events.
type Controller struct {
	cfg       Config
	responder Responder
	out       *tts.Engine
	in        *stt.Engine
	eventBus  *bus.EventBus
	logger    zerolog.Logger

	inbox    mailbox
	snap     atomic.Pointer[Snapshot]
	started  atomic.Bool
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// loop-owned
	ctx     context.Context
	st      state
	tasks   map[taskKind]*task
	nextID  uint64
	dirty   bool
	pending []bus.Event
}

type state struct {
	messages    []Message
	phase       Phase
	input       InputState
	output      OutputState
	caps        Capabilities
	voice       tts.VoiceProfile
	open        bool
	minimized   bool
	draft       string
	notice      *Notice
	greeted     bool
	utterance   string // active utterance id
	speakingMsg string
	session     string // active recognition session id
	version     uint64
}

type taskKind string

const (
	taskThinking   taskKind = "thinking"
	taskSpeak      taskKind = "speak"
	taskTranscript taskKind = "transcript"
	taskWelcome    taskKind = "welcome"
)

// task is a cancellable scheduled action. A fire whose id no longer matches
// the registered task is stale and ignored.
type task struct {
	id    uint64
	kind  taskKind
	timer *time.Timer

	text      string
	messageID string
	at        time.Time
}

type taskFired struct {
	kind taskKind
	id   uint64
}

type command struct {
	apply func() error
	done  chan error
}

type voiceResolved struct {
	profile tts.VoiceProfile
}

// mailbox is an unbounded FIFO so platform callbacks never block, even when
// they fire on the loop goroutine itself.
type mailbox struct {
	mu    sync.Mutex
	items []any
	wake  chan struct{}
}

func (m *mailbox) put(v any) {
	m.mu.Lock()
	m.items = append(m.items, v)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// NewController creates a controller. out and in may wrap nil platforms, in
// which case the conversation is text-only. eventBus may be nil.
func NewController(cfg Config, responder Responder, out *tts.Engine, in *stt.Engine, eventBus *bus.EventBus, logger zerolog.Logger) *Controller {
	if responder == nil {
		responder = intent.DefaultResponder()
	}
	if out == nil {
		out = tts.NewEngine(nil, nil, logger)
	}
	if in == nil {
		in = stt.NewEngine(nil, "", logger)
	}

	c := &Controller{
		cfg:       cfg,
		responder: responder,
		out:       out,
		in:        in,
		eventBus:  eventBus,
		logger:    logger.With().Str("component", "voice").Logger(),
		inbox:     mailbox{wake: make(chan struct{}, 1)},
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		tasks:     make(map[taskKind]*task),
	}
	c.st = c.initialState()
	c.st.caps = Capabilities{VoiceInput: in.Available(), VoiceOutput: out.Available()}
	c.publishSnapshot()
	return c
}

func (c *Controller) initialState() state {
	return state{
		messages: []Message{{
			ID:        GreetingID,
			Role:      RoleAssistant,
			Text:      c.cfg.Greeting,
			CreatedAt: time.Now(),
		}},
		phase:  PhaseIdle,
		input:  InputIdle,
		output: OutputIdle,
	}
}

// Start launches the loop and begins voice discovery. The controller stops
// when ctx is canceled or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.ctx = ctx

	c.out.SetEventSink(func(ev tts.Event) { c.inbox.put(ev) })
	c.out.SetProfileSink(func(p tts.VoiceProfile) { c.inbox.put(voiceResolved{profile: p}) })
	c.in.SetEventSink(func(ev stt.Event) { c.inbox.put(ev) })

	c.logger.Info().
		Bool("voiceInput", c.st.caps.VoiceInput).
		Bool("voiceOutput", c.st.caps.VoiceOutput).
		Str("tts", c.out.Name()).
		Str("stt", c.in.Name()).
		Msg("Conversation controller started")

	watch := c.st.caps.VoiceOutput
	go c.run(ctx)

	if watch {
		go c.out.Watch(ctx)
	}
}

// Stop shuts the loop down, canceling scheduled tasks and speech sessions.
func (c *Controller) Stop() {
	if !c.started.Load() {
		return
	}
	c.stopOnce.Do(func() { close(c.quit) })
	<-c.stopped
}

// Done is closed once the loop has exited
func (c *Controller) Done() <-chan struct{} {
	return c.stopped
}

// Snapshot returns the latest state view
func (c *Controller) Snapshot() Snapshot {
	return *c.snap.Load()
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-c.quit:
			c.shutdown()
			return
		case <-c.inbox.wake:
			for _, item := range c.inbox.drain() {
				c.handle(item)
				c.flush()
			}
		}
	}
}

func (c *Controller) shutdown() {
	for kind := range c.tasks {
		c.cancelTask(kind)
	}
	c.in.Stop()
	c.out.Stop()
	for _, item := range c.inbox.drain() {
		if cmd, ok := item.(command); ok {
			cmd.done <- ErrStopped
		}
	}
	c.logger.Info().Int("messages", len(c.st.messages)).Msg("Conversation controller stopped")
}

func (c *Controller) handle(item any) {
	switch v := item.(type) {
	case command:
		err := v.apply()
		c.flush() // publish before replying
		v.done <- err
	case taskFired:
		c.onTask(v)
	case tts.Event:
		c.onSpeechEvent(v)
	case stt.Event:
		c.onRecognitionEvent(v)
	case voiceResolved:
		if sameProfile(c.st.voice, v.profile) {
			return
		}
		c.st.voice = v.profile
		c.changed(bus.EventTypeVoiceResolved, map[string]any{"matched": v.profile.Matched})
	}
}

func sameProfile(a, b tts.VoiceProfile) bool {
	if a.Matched != b.Matched || (a.Voice == nil) != (b.Voice == nil) {
		return false
	}
	return a.Voice == nil || *a.Voice == *b.Voice
}

// do runs fn on the loop and waits for it
func (c *Controller) do(fn func() error) error {
	if !c.started.Load() {
		return ErrStopped
	}
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}

	cmd := command{apply: fn, done: make(chan error, 1)}
	c.inbox.put(cmd)
	select {
	case err := <-cmd.done:
		return err
	case <-c.stopped:
		return ErrStopped
	}
}

// changed marks the state dirty and queues a bus event for the next flush
func (c *Controller) changed(t bus.EventType, data map[string]any) {
	c.dirty = true
	if t != "" {
		c.pending = append(c.pending, bus.Event{Type: t, Data: data})
	}
}

func (c *Controller) flush() {
	if !c.dirty {
		return
	}
	c.dirty = false
	snap := c.publishSnapshot()

	if c.eventBus == nil {
		c.pending = nil
		return
	}
	for _, ev := range c.pending {
		c.eventBus.Publish(ev)
	}
	c.pending = nil
	c.eventBus.Publish(bus.Event{
		Type: bus.EventTypeSnapshot,
		Data: map[string]any{"snapshot": snap, "version": snap.Version},
	})
}

func (c *Controller) publishSnapshot() Snapshot {
	c.st.version++
	var notice *Notice
	if c.st.notice != nil {
		n := *c.st.notice
		notice = &n
	}
	snap := &Snapshot{
		Version:           c.st.version,
		Messages:          append([]Message(nil), c.st.messages...),
		Phase:             c.st.phase,
		Input:             c.st.input,
		Output:            c.st.output,
		Capabilities:      c.st.caps,
		Voice:             c.st.voice,
		Open:              c.st.open,
		Minimized:         c.st.minimized,
		Draft:             c.st.draft,
		Notice:            notice,
		SpeakingMessageID: c.st.speakingMsg,
	}
	if snap.Voice.Voice != nil {
		v := *snap.Voice.Voice
		snap.Voice.Voice = &v
	}
	c.snap.Store(snap)
	return *snap
}

// ---- actions ----

// Open shows the assistant. The first open of a conversation that holds only
// the greeting schedules the spoken welcome.
func (c *Controller) Open() error {
	return c.do(func() error {
		if c.st.open {
			return nil
		}
		c.st.open = true
		c.st.minimized = false
		c.changed("", nil)
		c.maybeWelcome()
		return nil
	})
}

// Close hides the assistant, silencing it and stopping capture. A reply that
// is already being prepared still lands in the log but is not spoken.
func (c *Controller) Close() error {
	return c.do(func() error {
		if !c.st.open {
			return nil
		}
		c.st.open = false
		c.cancelTask(taskWelcome)
		c.cancelTask(taskSpeak)
		c.cancelTask(taskTranscript)
		c.stopSpeaking("closed")
		c.stopListening()
		c.changed("", nil)
		return nil
	})
}

// ToggleMinimize collapses or expands the conversation view
func (c *Controller) ToggleMinimize() error {
	return c.do(func() error {
		c.st.minimized = !c.st.minimized
		c.changed("", nil)
		return nil
	})
}

// SetDraft replaces the pending input buffer
func (c *Controller) SetDraft(text string) error {
	return c.do(func() error {
		if c.st.draft == text {
			return nil
		}
		c.st.draft = text
		c.changed("", nil)
		return nil
	})
}

// SubmitTypedText submits text as a user message. It reports false when the
// text is blank, a reply is still pending, or the controller is stopped.
func (c *Controller) SubmitTypedText(text string) bool {
	accepted := false
	err := c.do(func() error {
		accepted = c.submit(text, false)
		return nil
	})
	return err == nil && accepted
}

// SubmitQuickAction submits a preset prompt exactly like typed text
func (c *Controller) SubmitQuickAction(text string) bool {
	return c.SubmitTypedText(text)
}

// ToggleMicrophone starts a recognition session, or stops the active one.
// Failures leave input idle and raise a notice.
func (c *Controller) ToggleMicrophone() error {
	return c.do(func() error {
		if c.st.input == InputListening {
			c.stopListening()
			return nil
		}

		if !c.st.caps.VoiceInput {
			c.raise(NoticeCapabilityUnavailable, "", stt.CapabilityUnavailableMessage)
			metrics.RecognitionSessions.WithLabelValues("unavailable").Inc()
			return stt.ErrCapabilityUnavailable
		}

		id, err := c.in.Start(c.ctx)
		if err != nil {
			c.st.input = InputIdle
			c.st.session = ""
			c.raise(NoticeStartFailed, "", stt.StartFailedMessage)
			metrics.RecognitionSessions.WithLabelValues("start_failed").Inc()
			return err
		}

		c.st.session = id
		c.st.input = InputListening
		c.changed(bus.EventTypeListeningStarted, map[string]any{"session": id})
		return nil
	})
}

// RequestStopSpeaking cancels the active utterance and any reply about to be
// spoken. No-op when silent.
func (c *Controller) RequestStopSpeaking() error {
	return c.do(func() error {
		c.cancelTask(taskSpeak)
		c.stopSpeaking("stopped")
		return nil
	})
}

// ReplaySpokenMessage speaks an assistant message again
func (c *Controller) ReplaySpokenMessage(id string) error {
	return c.do(func() error {
		for _, m := range c.st.messages {
			if m.ID != id {
				continue
			}
			if !m.Replayable() {
				return ErrNotReplayable
			}
			c.speak(m.Text, m.ID)
			return nil
		}
		return ErrMessageNotFound
	})
}

// Reset clears the conversation back to the greeting. The welcome is spoken
// again on the next open, or right away when already open.
func (c *Controller) Reset() error {
	return c.do(func() error {
		for kind := range c.tasks {
			c.cancelTask(kind)
		}
		c.stopSpeaking("reset")
		c.stopListening()

		fresh := c.initialState()
		fresh.caps = c.st.caps
		fresh.voice = c.st.voice
		fresh.open = c.st.open
		fresh.minimized = c.st.minimized
		fresh.version = c.st.version
		c.st = fresh

		c.changed(bus.EventTypeReset, nil)
		c.maybeWelcome()
		return nil
	})
}

// ---- loop internals ----

func (c *Controller) submit(text string, viaVoice bool) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.SubmissionsRejected.WithLabelValues("empty").Inc()
		return false
	}
	if c.st.phase == PhaseAwaitingReply {
		metrics.SubmissionsRejected.WithLabelValues("busy").Inc()
		c.logger.Debug().Bool("viaVoice", viaVoice).Msg("Submission ignored, reply pending")
		return false
	}

	now := time.Now()
	user := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Text:      text,
		CreatedAt: now,
		ViaVoice:  viaVoice,
	}
	placeholder := Message{
		ID:        PlaceholderID,
		Role:      RoleAssistant,
		Text:      c.cfg.Placeholder,
		CreatedAt: now,
	}

	c.st.messages = append(c.st.messages, user, placeholder)
	c.st.phase = PhaseAwaitingReply
	c.st.draft = ""

	via := "text"
	if viaVoice {
		via = "voice"
	}
	metrics.MessagesTotal.WithLabelValues(string(RoleUser), via).Inc()

	c.changed(bus.EventTypeMessageAppended, map[string]any{"message": user})
	c.changed(bus.EventTypeMessageAppended, map[string]any{"message": placeholder})
	c.changed(bus.EventTypePhaseChanged, map[string]any{"phase": string(PhaseAwaitingReply)})

	t := c.schedule(taskThinking, c.cfg.Timing.Thinking)
	t.text = text
	t.at = now

	c.logger.Debug().Str("message", user.ID).Bool("viaVoice", viaVoice).Msg("Message submitted")
	return true
}

// resolve replaces the placeholder with the real reply. Readers never see
// both at once because both edits land in the same snapshot.
func (c *Controller) resolve(t *task) {
	kept := c.st.messages[:0]
	for _, m := range c.st.messages {
		if !m.IsPlaceholder() {
			kept = append(kept, m)
		}
	}
	c.st.messages = kept

	reply := c.responder.Respond(t.text)
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Text:      reply,
		CreatedAt: time.Now(),
	}
	c.st.messages = append(c.st.messages, msg)
	c.st.phase = PhaseIdle

	topic := "fallback"
	if m, ok := c.responder.(interface {
		Match(string) (intent.Topic, bool)
	}); ok {
		if tp, hit := m.Match(t.text); hit {
			topic = tp.Name
		}
	}
	metrics.IntentMatches.WithLabelValues(topic).Inc()
	metrics.MessagesTotal.WithLabelValues(string(RoleAssistant), "text").Inc()
	metrics.ReplyLatency.Observe(time.Since(t.at).Seconds())

	c.changed(bus.EventTypeMessageRemoved, map[string]any{"id": PlaceholderID})
	c.changed(bus.EventTypeMessageAppended, map[string]any{"message": msg})
	c.changed(bus.EventTypePhaseChanged, map[string]any{"phase": string(PhaseIdle)})

	c.logger.Debug().Str("topic", topic).Str("message", msg.ID).Msg("Reply resolved")

	if c.st.open && c.st.caps.VoiceOutput {
		s := c.schedule(taskSpeak, c.cfg.Timing.Speak)
		s.text = reply
		s.messageID = msg.ID
	}
}

func (c *Controller) maybeWelcome() {
	if !c.st.open || c.st.greeted || c.tasks[taskWelcome] != nil {
		return
	}
	if len(c.st.messages) != 1 || c.st.messages[0].ID != GreetingID {
		return
	}
	c.schedule(taskWelcome, c.cfg.Timing.Welcome)
}

func (c *Controller) speak(text, messageID string) {
	if !c.st.caps.VoiceOutput {
		return
	}
	id, err := c.out.Speak(c.ctx, text)
	if err != nil {
		// synthesis failures are absorbed; the text stays in the log
		c.st.output = OutputIdle
		c.st.utterance = ""
		c.st.speakingMsg = ""
		metrics.Utterances.WithLabelValues("failed").Inc()
		c.changed(bus.EventTypeSpeakingStopped, map[string]any{"reason": "failed"})
		return
	}
	c.st.utterance = id
	c.st.speakingMsg = messageID
	c.st.output = OutputSpeaking
	c.changed(bus.EventTypeSpeakingStarted, map[string]any{"utterance": id, "message": messageID})
}

func (c *Controller) stopSpeaking(reason string) {
	if c.st.output == OutputIdle && c.st.utterance == "" {
		return
	}
	c.out.Stop()
	c.st.output = OutputIdle
	c.st.utterance = ""
	c.st.speakingMsg = ""
	metrics.Utterances.WithLabelValues(reason).Inc()
	c.changed(bus.EventTypeSpeakingStopped, map[string]any{"reason": reason})
}

func (c *Controller) stopListening() {
	if c.st.input == InputIdle {
		// a session that already delivered its result may still be winding down
		if c.st.session != "" {
			c.in.Stop()
			c.st.session = ""
		}
		return
	}
	c.in.Stop()
	c.st.input = InputIdle
	c.st.session = ""
	metrics.RecognitionSessions.WithLabelValues("stopped").Inc()
	c.changed(bus.EventTypeListeningStopped, map[string]any{"reason": "stopped"})
}

func (c *Controller) raise(kind NoticeKind, code, text string) {
	c.st.notice = &Notice{Kind: kind, Code: code, Text: text, At: time.Now()}
	c.changed(bus.EventTypeNotice, map[string]any{"kind": string(kind), "code": code, "text": text})
}

func (c *Controller) onSpeechEvent(ev tts.Event) {
	if ev.UtteranceID == "" || ev.UtteranceID != c.st.utterance {
		return
	}
	switch ev.Kind {
	case tts.EventStarted:
		if c.st.output != OutputSpeaking {
			c.st.output = OutputSpeaking
			c.changed("", nil)
		}
	case tts.EventEnded, tts.EventFailed:
		outcome := "completed"
		if ev.Kind == tts.EventFailed {
			outcome = "failed"
			if errors.Is(ev.Err, tts.ErrCanceled) {
				outcome = "canceled"
			}
		}
		c.st.output = OutputIdle
		c.st.utterance = ""
		c.st.speakingMsg = ""
		metrics.Utterances.WithLabelValues(outcome).Inc()
		c.changed(bus.EventTypeSpeakingStopped, map[string]any{"reason": outcome})
	}
}

func (c *Controller) onRecognitionEvent(ev stt.Event) {
	if ev.SessionID == "" || ev.SessionID != c.st.session {
		return
	}
	switch ev.Kind {
	case stt.EventStart:
		if c.st.input != InputListening {
			c.st.input = InputListening
			c.changed("", nil)
		}
	case stt.EventTranscript:
		c.st.input = InputIdle
		c.st.draft = ev.Text
		metrics.RecognitionSessions.WithLabelValues("transcript").Inc()
		c.changed(bus.EventTypeTranscript, map[string]any{"text": ev.Text})
		t := c.schedule(taskTranscript, c.cfg.Timing.Transcript)
		t.text = ev.Text
	case stt.EventError:
		c.st.input = InputIdle
		kind, msg := stt.ErrorUnknown, ""
		if ev.Err != nil {
			kind, msg = ev.Err.Kind, ev.Err.Message
		}
		metrics.RecognitionSessions.WithLabelValues(string(kind)).Inc()
		c.raise(NoticeRecognitionError, string(kind), msg)
	case stt.EventEnd:
		c.st.session = ""
		c.st.input = InputIdle
		c.changed(bus.EventTypeListeningStopped, map[string]any{"reason": "ended"})
	}
}

func (c *Controller) onTask(f taskFired) {
	t := c.tasks[f.kind]
	if t == nil || t.id != f.id {
		return
	}
	delete(c.tasks, f.kind)

	switch f.kind {
	case taskThinking:
		c.resolve(t)
	case taskSpeak:
		c.speak(t.text, t.messageID)
	case taskTranscript:
		c.submit(t.text, true)
	case taskWelcome:
		c.st.greeted = true
		if len(c.st.messages) == 1 && c.st.messages[0].ID == GreetingID {
			c.speak(c.st.messages[0].Text, GreetingID)
		}
		c.changed("", nil)
	}
}

// schedule registers a task of kind, replacing any pending one
func (c *Controller) schedule(kind taskKind, d time.Duration) *task {
	c.cancelTask(kind)
	c.nextID++
	t := &task{id: c.nextID, kind: kind}
	fired := taskFired{kind: kind, id: t.id}
	t.timer = time.AfterFunc(d, func() { c.inbox.put(fired) })
	c.tasks[kind] = t
	return t
}

func (c *Controller) cancelTask(kind taskKind) {
	if t := c.tasks[kind]; t != nil {
		t.timer.Stop()
		delete(c.tasks, kind)
	}
}
