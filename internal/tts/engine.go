package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the speech output engine. It keeps at most one utterance active
// and forwards lifecycle events to a single sink.
type Engine struct {
	synth  Synthesizer
	config *Config
	logger zerolog.Logger

	mu      sync.Mutex
	profile VoiceProfile
	active  string
	sink    func(Event)
	onVoice func(VoiceProfile)
}

// NewEngine creates an engine. A nil synthesizer yields a text-only engine.
func NewEngine(synth Synthesizer, config *Config, logger zerolog.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		synth:  synth,
		config: config,
		logger: logger.With().Str("component", "tts").Logger(),
	}
}

// Name returns the synthesizer name, or "none"
func (e *Engine) Name() string {
	if e.synth == nil {
		return "none"
	}
	return e.synth.Name()
}

// Available reports whether speech output is supported at all
func (e *Engine) Available() bool {
	if e.synth == nil {
		return false
	}
	if c, ok := e.synth.(availabilityChecker); ok {
		return c.Available()
	}
	return true
}

// SetEventSink registers the receiver of utterance events
func (e *Engine) SetEventSink(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = fn
}

// SetProfileSink registers a callback run after every voice resolution
func (e *Engine) SetProfileSink(fn func(VoiceProfile)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onVoice = fn
}

// Watch resolves the voice now and again whenever the platform reports a
// changed voice list.
func (e *Engine) Watch(ctx context.Context) VoiceProfile {
	if w, ok := e.synth.(VoiceWatcher); ok {
		w.OnVoicesChanged(func() {
			if ctx.Err() != nil {
				return
			}
			e.ResolveVoice(ctx)
		})
	}
	return e.ResolveVoice(ctx)
}

// ResolveVoice scans the platform voices for the configured language and
// caches the result. The first matching voice wins.
func (e *Engine) ResolveVoice(ctx context.Context) VoiceProfile {
	if !e.Available() {
		return VoiceProfile{}
	}

	voices, err := e.synth.Voices(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to list voices")
	}

	profile := VoiceProfile{}
	if v, ok := MatchVoice(voices, e.config.MatchCodes); ok {
		profile = VoiceProfile{Matched: true, Voice: &v}
		e.logger.Info().
			Str("voice", v.Name).
			Str("lang", v.Language).
			Msg("Voice resolved")
	} else {
		e.logger.Warn().
			Int("available", len(voices)).
			Str("lang", e.config.Language).
			Msg("No matching voice, using platform default")
	}

	e.mu.Lock()
	e.profile = profile
	onVoice := e.onVoice
	e.mu.Unlock()

	if onVoice != nil {
		onVoice(profile)
	}
	return profile
}

// Profile returns the cached voice profile
func (e *Engine) Profile() VoiceProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.profile
	if p.Voice != nil {
		v := *p.Voice
		p.Voice = &v
	}
	return p
}

// Active returns the id of the utterance in progress, if any
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Speak cancels whatever is playing and starts text. It returns the new
// utterance id.
func (e *Engine) Speak(ctx context.Context, text string) (string, error) {
	if !e.Available() {
		return "", ErrProviderUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}

	e.synth.Cancel()

	profile := e.Profile()
	u := Utterance{
		ID:       uuid.NewString(),
		Text:     text,
		Language: e.config.Language,
		Voice:    profile.Voice,
		Rate:     e.config.Rate,
		Pitch:    e.config.Pitch,
		Volume:   e.config.Volume,
	}

	e.mu.Lock()
	e.active = u.ID
	e.mu.Unlock()

	if err := e.synth.Speak(ctx, u, e.forward); err != nil {
		e.mu.Lock()
		if e.active == u.ID {
			e.active = ""
		}
		e.mu.Unlock()
		e.logger.Warn().Err(err).Str("utterance", u.ID).Msg("Speech synthesis failed to start")
		return "", fmt.Errorf("speak: %w", err)
	}

	e.logger.Debug().
		Str("utterance", u.ID).
		Bool("matchedVoice", profile.Matched).
		Int("textLen", len(text)).
		Msg("Utterance started")

	return u.ID, nil
}

// Stop cancels the active utterance unconditionally
func (e *Engine) Stop() {
	if e.synth == nil {
		return
	}
	e.mu.Lock()
	e.active = ""
	e.mu.Unlock()
	e.synth.Cancel()
}

func (e *Engine) forward(ev Event) {
	if ev.Kind == EventFailed {
		if errors.Is(ev.Err, ErrCanceled) {
			e.logger.Debug().Str("utterance", ev.UtteranceID).Msg("Utterance canceled")
		} else {
			e.logger.Error().Err(ev.Err).Str("utterance", ev.UtteranceID).Msg("Speech synthesis error")
		}
	}

	e.mu.Lock()
	if ev.Terminal() && e.active == ev.UtteranceID {
		e.active = ""
	}
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}
