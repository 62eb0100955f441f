// Package tts provides the speech output engine for Saathi: voice selection,
// one-utterance-at-a-time playback and synthesizer platform adapters.
package tts

import (
	"context"
	"errors"
	"strings"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrEmptyText           = errors.New("nothing to speak")
	ErrCanceled            = errors.New("utterance canceled")
)

// Synthesizer is the platform text-to-speech boundary. Speak must return
// quickly; playback progress is reported through notify.
type Synthesizer interface {
	// Name returns the provider identifier (e.g., "espeak-ng", "browser")
	Name() string

	// Voices returns the voices the platform currently knows about
	Voices(ctx context.Context) ([]Voice, error)

	// Speak starts playback of u and reports started/ended/failed events
	Speak(ctx context.Context, u Utterance, notify func(Event)) error

	// Cancel stops any active utterance. It must be safe to call when idle.
	Cancel()
}

// VoiceWatcher is implemented by platforms that populate their voice list
// asynchronously.
type VoiceWatcher interface {
	OnVoicesChanged(fn func())
}

type availabilityChecker interface {
	Available() bool
}

// Voice represents a platform voice
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Default  bool   `json:"default,omitempty"`
}

// Utterance is a single playback request
type Utterance struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Language string  `json:"lang"`
	Voice    *Voice  `json:"voice,omitempty"` // nil selects the platform default for Language
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
}

// EventKind tags utterance lifecycle events
type EventKind string

const (
	EventStarted EventKind = "started"
	EventEnded   EventKind = "ended"
	EventFailed  EventKind = "failed"
)

// Event is an utterance lifecycle notification
type Event struct {
	Kind        EventKind
	UtteranceID string
	Err         error
}

// Terminal reports whether the utterance is over.
func (e Event) Terminal() bool {
	return e.Kind == EventEnded || e.Kind == EventFailed
}

// VoiceProfile is the cached voice selection for the target language
type VoiceProfile struct {
	Matched bool   `json:"matched"`
	Voice   *Voice `json:"voice,omitempty"`
}

// Config holds speech output configuration
type Config struct {
	Language   string   `json:"language"`    // tag set on every utterance
	MatchCodes []string `json:"match_codes"` // a voice matches if its tag contains any of these
	Rate       float64  `json:"rate"`
	Pitch      float64  `json:"pitch"`
	Volume     float64  `json:"volume"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Language:   "hi-IN",
		MatchCodes: []string{"hi", "IN"},
		Rate:       0.8,
		Pitch:      1.0,
		Volume:     1.0,
	}
}

// MatchVoice returns the first voice whose language tag contains any of codes.
func MatchVoice(voices []Voice, codes []string) (Voice, bool) {
	for _, v := range voices {
		for _, code := range codes {
			if code != "" && strings.Contains(v.Language, code) {
				return v, true
			}
		}
	}
	return Voice{}, false
}

// primaryLanguage returns the language subtag of a BCP-47 tag ("hi-IN" -> "hi").
func primaryLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return tag[:i]
	}
	return tag
}
