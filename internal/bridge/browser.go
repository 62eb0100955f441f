package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/saathi/internal/stt"
	"github.com/normanking/saathi/internal/tts"
)

// Sender delivers frames to the browser
type Sender interface {
	Send(f Frame) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(Frame) error

func (fn SenderFunc) Send(f Frame) error { return fn(f) }

// Browser is the platform boundary for one connected browser. Speech and
// Recognition return its synthesizer and recognizer halves.
type Browser struct {
	sender Sender
	logger zerolog.Logger

	mu            sync.Mutex
	hello         Hello
	voices        []tts.Voice
	voicesChanged func()
	ttsNotify     func(tts.Event)
	ttsActive     string
	sttNotify     func(stt.Event)
	sttSession    string
}

// NewBrowser creates a browser platform sending through sender
func NewBrowser(sender Sender, logger zerolog.Logger) *Browser {
	return &Browser{
		sender: sender,
		logger: logger.With().Str("component", "browser-bridge").Logger(),
	}
}

// SetHello records the capabilities announced by the browser
func (b *Browser) SetHello(h Hello) {
	b.mu.Lock()
	b.hello = h
	b.voices = append([]tts.Voice(nil), h.Voices...)
	b.mu.Unlock()

	b.logger.Info().
		Bool("speechSynthesis", h.SpeechSynthesis).
		Bool("speechRecognition", h.SpeechRecognition).
		Int("voices", len(h.Voices)).
		Msg("Browser capabilities")
}

// Speech returns the text-to-speech half
func (b *Browser) Speech() *BrowserSynthesizer {
	return &BrowserSynthesizer{b: b}
}

// Recognition returns the speech-to-text half
func (b *Browser) Recognition() *BrowserRecognizer {
	return &BrowserRecognizer{b: b}
}

// HandleFrame routes a platform event frame from the browser
func (b *Browser) HandleFrame(f Frame) error {
	switch f.Type {
	case FrameHello:
		var h Hello
		if err := f.Decode(&h); err != nil {
			return err
		}
		b.SetHello(h)
		return nil

	case FrameTTSVoices:
		var p VoicesPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		b.mu.Lock()
		b.voices = append([]tts.Voice(nil), p.Voices...)
		fn := b.voicesChanged
		b.mu.Unlock()
		if fn != nil {
			fn()
		}
		return nil

	case FrameTTSEvent:
		var ev SpeechEvent
		if err := f.Decode(&ev); err != nil {
			return err
		}
		b.onSpeechEvent(ev)
		return nil

	case FrameSTTEvent:
		var ev RecognitionEvent
		if err := f.Decode(&ev); err != nil {
			return err
		}
		b.onRecognitionEvent(ev)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
}

func (b *Browser) send(t string, v any) error {
	f, err := NewFrame(t, v)
	if err != nil {
		return err
	}
	return b.sender.Send(f)
}

func (b *Browser) onSpeechEvent(ev SpeechEvent) {
	var out tts.Event
	switch ev.Kind {
	case "start":
		out = tts.Event{Kind: tts.EventStarted, UtteranceID: ev.Utterance}
	case "end":
		out = tts.Event{Kind: tts.EventEnded, UtteranceID: ev.Utterance}
	case "error":
		err := fmt.Errorf("speech synthesis: %s", ev.Error)
		if ev.Error == "canceled" || ev.Error == "interrupted" {
			err = tts.ErrCanceled
		}
		out = tts.Event{Kind: tts.EventFailed, UtteranceID: ev.Utterance, Err: err}
	default:
		b.logger.Warn().Str("kind", ev.Kind).Msg("Unknown speech event")
		return
	}

	b.mu.Lock()
	if out.Terminal() && b.ttsActive == ev.Utterance {
		b.ttsActive = ""
	}
	notify := b.ttsNotify
	b.mu.Unlock()

	if notify != nil {
		notify(out)
	}
}

func (b *Browser) onRecognitionEvent(ev RecognitionEvent) {
	var out stt.Event
	switch ev.Kind {
	case "start":
		out = stt.Event{Kind: stt.EventStart, SessionID: ev.Session}
	case "result":
		out = stt.Event{Kind: stt.EventTranscript, SessionID: ev.Session, Text: ev.Transcript}
	case "error":
		out = stt.Event{Kind: stt.EventError, SessionID: ev.Session, Err: stt.ClassifyError(ev.Error)}
	case "end":
		out = stt.Event{Kind: stt.EventEnd, SessionID: ev.Session}
	default:
		b.logger.Warn().Str("kind", ev.Kind).Msg("Unknown recognition event")
		return
	}

	b.mu.Lock()
	if out.Kind == stt.EventEnd && b.sttSession == ev.Session {
		b.sttSession = ""
	}
	notify := b.sttNotify
	b.mu.Unlock()

	if notify != nil {
		notify(out)
	}
}

// BrowserSynthesizer drives window.speechSynthesis
type BrowserSynthesizer struct {
	b *Browser
}

func (s *BrowserSynthesizer) Name() string { return "browser" }

// Available reports whether the browser announced speech synthesis
func (s *BrowserSynthesizer) Available() bool {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.hello.SpeechSynthesis
}

// Voices returns the last voice list reported by the browser
func (s *BrowserSynthesizer) Voices(ctx context.Context) ([]tts.Voice, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return append([]tts.Voice(nil), s.b.voices...), nil
}

// OnVoicesChanged registers fn for voiceschanged notifications
func (s *BrowserSynthesizer) OnVoicesChanged(fn func()) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.voicesChanged = fn
}

// Speak sends the utterance to the browser
func (s *BrowserSynthesizer) Speak(ctx context.Context, u tts.Utterance, notify func(tts.Event)) error {
	s.b.mu.Lock()
	s.b.ttsNotify = notify
	s.b.ttsActive = u.ID
	s.b.mu.Unlock()

	if err := s.b.send(FrameTTSSpeak, u); err != nil {
		s.b.mu.Lock()
		if s.b.ttsActive == u.ID {
			s.b.ttsActive = ""
		}
		s.b.mu.Unlock()
		return err
	}
	return nil
}

// Cancel asks the browser to cancel the active utterance
func (s *BrowserSynthesizer) Cancel() {
	s.b.mu.Lock()
	active := s.b.ttsActive
	s.b.ttsActive = ""
	s.b.mu.Unlock()

	if active == "" {
		return
	}
	if err := s.b.send(FrameTTSCancel, nil); err != nil {
		s.b.logger.Debug().Err(err).Msg("Failed to send speech cancel")
	}
}

// BrowserRecognizer drives the browser's SpeechRecognition
type BrowserRecognizer struct {
	b *Browser
}

func (r *BrowserRecognizer) Name() string { return "browser" }

// Available reports whether the browser announced speech recognition
func (r *BrowserRecognizer) Available() bool {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return r.b.hello.SpeechRecognition
}

// Start asks the browser to begin a session
func (r *BrowserRecognizer) Start(ctx context.Context, sessionID string, opts stt.Options, notify func(stt.Event)) error {
	r.b.mu.Lock()
	r.b.sttNotify = notify
	r.b.sttSession = sessionID
	r.b.mu.Unlock()

	err := r.b.send(FrameSTTStart, RecognitionStart{
		Session:        sessionID,
		Language:       opts.Language,
		Continuous:     opts.Continuous,
		InterimResults: opts.InterimResults,
	})
	if err != nil {
		r.b.mu.Lock()
		if r.b.sttSession == sessionID {
			r.b.sttSession = ""
		}
		r.b.mu.Unlock()
		return err
	}
	return nil
}

// Stop asks the browser to stop the active session
func (r *BrowserRecognizer) Stop() {
	r.b.mu.Lock()
	session := r.b.sttSession
	r.b.sttSession = ""
	r.b.mu.Unlock()

	if session == "" {
		return
	}
	if err := r.b.send(FrameSTTStop, RecognitionStop{Session: session}); err != nil {
		r.b.logger.Debug().Err(err).Msg("Failed to send recognition stop")
	}
}
