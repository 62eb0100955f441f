package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/saathi/internal/bridge"
	"github.com/normanking/saathi/internal/logging"
	"github.com/normanking/saathi/internal/metrics"
	"github.com/normanking/saathi/internal/voice"
)

var (
	errSessionClosed      = errors.New("session closed")
	errRejected           = errors.New("submission rejected")
	errUnknownQuickAction = errors.New("unknown quick action")
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

type outbound struct {
	frame   bridge.Frame
	version uint64 // snapshot version, zero for other frames
}

// Session is one connected browser shell with its own controller
type Session struct {
	ID        string
	CreatedAt time.Time

	conn         *websocket.Conn
	browser      *bridge.Browser
	ctrl         *voice.Controller
	quickActions []string
	logger       zerolog.Logger
	logs         *logging.Logger

	out       chan outbound
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, quickActions []string, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		conn:         conn,
		quickActions: quickActions,
		logger:       logger.With().Str("session", id).Logger(),
		out:          make(chan outbound, sendBuffer),
		closed:       make(chan struct{}),
	}
	s.browser = bridge.NewBrowser(s, s.logger)
	return s
}

// Send queues a frame for the browser. It blocks while the queue is full.
func (s *Session) Send(f bridge.Frame) error {
	return s.enqueue(outbound{frame: f})
}

func (s *Session) enqueue(o outbound) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	select {
	case s.out <- o:
		return nil
	case <-s.closed:
		return errSessionClosed
	}
}

func (s *Session) sendSnapshot(snap voice.Snapshot) {
	f, err := bridge.NewFrame(FrameSnapshot, snap)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}
	_ = s.enqueue(outbound{frame: f, version: snap.Version})
}

func (s *Session) send(t string, v any) {
	f, err := bridge.NewFrame(t, v)
	if err != nil {
		s.logger.Error().Err(err).Str("type", t).Msg("Failed to encode frame")
		return
	}
	_ = s.Send(f)
}

// writeLoop is the only writer of the connection. Snapshots older than one
// already written are dropped, so the browser never renders stale state.
func (s *Session) writeLoop() {
	var last uint64
	for {
		select {
		case o := <-s.out:
			if o.version != 0 {
				if o.version <= last {
					continue
				}
				last = o.version
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(o.frame); err != nil {
				s.logger.Debug().Err(err).Msg("Write failed")
				s.Close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// readLoop dispatches frames until the connection fails
func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	for {
		var f bridge.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Connection lost")
			}
			return
		}
		s.handle(f)
	}
}

func (s *Session) handle(f bridge.Frame) {
	switch f.Type {
	case bridge.FrameHello:
		s.logger.Warn().Msg("Ignoring repeated hello")
		return
	case bridge.FrameTTSVoices, bridge.FrameTTSEvent, bridge.FrameSTTEvent:
		if err := s.browser.HandleFrame(f); err != nil {
			s.logger.Warn().Err(err).Str("type", f.Type).Msg("Bad platform frame")
		}
		return
	case FrameLog:
		s.shellLog(f)
		return
	}

	err := s.command(f)
	res := ResultPayload{Command: f.Type, OK: err == nil}
	if err != nil {
		res.Error = err.Error()
		s.logger.Debug().Err(err).Str("command", f.Type).Msg("Command failed")
	}
	s.send(FrameResult, res)
}

// shellLog records a browser log line under a "shell." component
func (s *Session) shellLog(f bridge.Frame) {
	if s.logs == nil {
		return
	}
	var p LogPayload
	if err := f.Decode(&p); err != nil {
		s.logger.Debug().Err(err).Msg("Bad log frame")
		return
	}
	component := "shell"
	if p.Component != "" {
		component += "." + p.Component
	}
	data := map[string]interface{}{"session": s.ID}
	for k, v := range p.Data {
		data[k] = v
	}

	switch p.Level {
	case "debug":
		s.logs.Debug(component, p.Message, data)
	case "warn":
		s.logs.Warn(component, p.Message, data)
	case "error":
		s.logs.Error(component, p.Message, nil, data)
	default:
		s.logs.Info(component, p.Message, data)
	}
}

func (s *Session) command(f bridge.Frame) error {
	switch f.Type {
	case CmdOpen:
		return s.ctrl.Open()
	case CmdClose:
		return s.ctrl.Close()
	case CmdMinimize:
		return s.ctrl.ToggleMinimize()
	case CmdMic:
		return s.ctrl.ToggleMicrophone()
	case CmdStopSpeaking:
		return s.ctrl.RequestStopSpeaking()
	case CmdReset:
		return s.ctrl.Reset()

	case CmdDraft:
		var p TextPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		return s.ctrl.SetDraft(p.Text)

	case CmdSubmit:
		var p TextPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		if !s.ctrl.SubmitTypedText(p.Text) {
			return errRejected
		}
		return nil

	case CmdQuickAction:
		var p QuickActionPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		text := p.Text
		if p.Index != nil {
			if *p.Index < 0 || *p.Index >= len(s.quickActions) {
				return fmt.Errorf("%w: %d", errUnknownQuickAction, *p.Index)
			}
			text = s.quickActions[*p.Index]
		}
		if !s.ctrl.SubmitQuickAction(text) {
			return errRejected
		}
		return nil

	case CmdReplay:
		var p ReplayPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		return s.ctrl.ReplaySpokenMessage(p.MessageID)
	}
	return fmt.Errorf("%w: %q", bridge.ErrUnknownFrame, f.Type)
}

// Close tears down the connection. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// Manager tracks connected sessions
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Add registers a session
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return
	}
	m.sessions[s.ID] = s
	metrics.ActiveSessions.Inc()
}

// Remove unregisters a session
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	metrics.ActiveSessions.Dec()
}

// Get returns a session by id
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of connected sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every connection. Hijacked connections are not closed by
// http.Server.Shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}
