package tts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrUnknownProvider is returned for unrecognized provider names
var ErrUnknownProvider = errors.New("unknown speech provider")

// NewSynthesizer resolves a configured provider name. "auto" detects a local
// binary; "none" and an undetectable auto yield a nil synthesizer, which
// makes the engine text-only.
func NewSynthesizer(provider string, logger zerolog.Logger) (Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "auto":
		if s := DetectCommandSynthesizer(logger); s != nil {
			return s, nil
		}
		return nil, nil
	case "none", "off":
		return nil, nil
	case string(FlavorEspeak), "espeak":
		return NewCommandSynthesizer(FlavorEspeak, logger), nil
	case string(FlavorSay):
		return NewCommandSynthesizer(FlavorSay, logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}
