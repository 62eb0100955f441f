package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the speech input engine. It runs at most one session, forwards
// only that session's events and lets at most one terminal event (transcript
// or error) through per session.
type Engine struct {
	rec      Recognizer
	language string
	logger   zerolog.Logger

	mu       sync.Mutex
	session  string
	terminal bool
	sink     func(Event)
}

// NewEngine creates an engine. A nil recognizer yields an engine that is
// never available.
func NewEngine(rec Recognizer, language string, logger zerolog.Logger) *Engine {
	return &Engine{
		rec:      rec,
		language: language,
		logger:   logger.With().Str("component", "stt").Logger(),
	}
}

// Name returns the recognizer name, or "none"
func (e *Engine) Name() string {
	if e.rec == nil {
		return "none"
	}
	return e.rec.Name()
}

// Available reports whether voice input is supported
func (e *Engine) Available() bool {
	if e.rec == nil {
		return false
	}
	if c, ok := e.rec.(availabilityChecker); ok {
		return c.Available()
	}
	return true
}

// SetEventSink registers the receiver of session events
func (e *Engine) SetEventSink(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = fn
}

// Session returns the id of the active session, if any
func (e *Engine) Session() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Start opens a new single-shot, final-results-only session. Any previous
// session is stopped first.
func (e *Engine) Start(ctx context.Context) (string, error) {
	if !e.Available() {
		return "", ErrCapabilityUnavailable
	}

	e.Stop()

	id := uuid.NewString()
	e.mu.Lock()
	e.session = id
	e.terminal = false
	e.mu.Unlock()

	opts := Options{Language: e.language}
	if err := e.rec.Start(ctx, id, opts, e.forward); err != nil {
		e.mu.Lock()
		if e.session == id {
			e.session = ""
		}
		e.mu.Unlock()
		e.logger.Error().Err(err).Str("session", id).Msg("Failed to start recognition")
		return "", fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	e.logger.Debug().Str("session", id).Str("lang", opts.Language).Msg("Recognition started")
	return id, nil
}

// Stop aborts the active session. Events it still produces are dropped.
func (e *Engine) Stop() {
	e.mu.Lock()
	id := e.session
	e.session = ""
	e.mu.Unlock()

	if id == "" || e.rec == nil {
		return
	}
	e.rec.Stop()
	e.logger.Debug().Str("session", id).Msg("Recognition stopped")
}

func (e *Engine) forward(ev Event) {
	e.mu.Lock()
	if ev.SessionID == "" || ev.SessionID != e.session {
		e.mu.Unlock()
		e.logger.Debug().
			Str("session", ev.SessionID).
			Str("kind", string(ev.Kind)).
			Msg("Dropping event from inactive session")
		return
	}

	switch ev.Kind {
	case EventTranscript, EventError:
		if e.terminal {
			e.mu.Unlock()
			return
		}
		e.terminal = true
		if ev.Kind == EventTranscript {
			ev.Text = strings.TrimSpace(ev.Text)
			if ev.Text == "" {
				ev = Event{Kind: EventError, SessionID: ev.SessionID, Err: ClassifyError(CodeNoSpeech)}
			}
		}
		if ev.Kind == EventError && ev.Err == nil {
			ev.Err = ClassifyError("")
		}
	case EventEnd:
		e.session = ""
	}
	sink := e.sink
	e.mu.Unlock()

	if ev.Kind == EventError {
		e.logger.Warn().
			Str("session", ev.SessionID).
			Str("kind", string(ev.Err.Kind)).
			Str("code", ev.Err.Code).
			Msg("Recognition error")
	}

	if sink != nil {
		sink(ev)
	}
}
