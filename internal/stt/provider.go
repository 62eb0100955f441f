package stt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownProvider is returned for unrecognized provider names
var ErrUnknownProvider = errors.New("unknown recognition provider")

// NewRecognizer resolves a configured provider name for terminal shells.
// lines feeds the line provider; "none" yields a nil recognizer, which makes
// voice input unavailable.
func NewRecognizer(provider string, command []string, lines <-chan string, timeout time.Duration, logger zerolog.Logger) (Recognizer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "line":
		if lines == nil {
			return nil, nil
		}
		return NewLineRecognizer(lines, timeout), nil
	case "command":
		if len(command) == 0 {
			return nil, fmt.Errorf("%w: command provider needs recognition.command", ErrUnknownProvider)
		}
		return NewCommandRecognizer(command, logger), nil
	case "none", "off":
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}
