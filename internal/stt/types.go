// Package stt provides the speech input engine for Saathi: single-shot,
// final-results-only recognition sessions in the target language.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrCapabilityUnavailable = errors.New("voice recognition unavailable")
	ErrStartFailed           = errors.New("voice recognition failed to start")
)

// User-facing notices for the two start-time failures.
const (
	CapabilityUnavailableMessage = "आपका browser voice recognition support नहीं करता। कृपया Chrome, Firefox या Edge का उपयोग करें।"
	StartFailedMessage           = "Voice recognition start करने में समस्या है। कृपया microphone की permission check करें।"
)

// Recognizer is the platform speech-to-text boundary. Start must return once
// capture has begun (or failed to); session progress is reported through
// notify, tagged with sessionID.
type Recognizer interface {
	// Name returns the provider identifier (e.g., "line", "browser")
	Name() string

	// Start begins one capture session
	Start(ctx context.Context, sessionID string, opts Options, notify func(Event)) error

	// Stop aborts the active session. It must be safe to call when idle.
	Stop()
}

type availabilityChecker interface {
	Available() bool
}

// Options configures a recognition session
type Options struct {
	Language       string `json:"lang"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
}

// EventKind tags recognition lifecycle events
type EventKind string

const (
	EventStart      EventKind = "start"
	EventTranscript EventKind = "transcript"
	EventError      EventKind = "error"
	EventEnd        EventKind = "end"
)

// Event is a recognition lifecycle notification
type Event struct {
	Kind      EventKind
	SessionID string
	Text      string            // set for EventTranscript
	Err       *RecognitionError // set for EventError
}

// ErrorKind is the recognition error taxonomy
type ErrorKind string

const (
	ErrorNoSpeech          ErrorKind = "no-speech"
	ErrorAccessDenied      ErrorKind = "access-denied"
	ErrorDeviceUnavailable ErrorKind = "device-unavailable"
	ErrorUnknown           ErrorKind = "unknown"
)

// RecognitionError is a classified platform recognition failure
type RecognitionError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`    // raw platform code
	Message string    `json:"message"` // localized notice
}

func (e *RecognitionError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("recognition error: %s", e.Kind)
	}
	return fmt.Sprintf("recognition error: %s (%s)", e.Kind, e.Code)
}

var errorMessages = map[ErrorKind]string{
	ErrorNoSpeech:          "कोई आवाज़ नहीं सुनाई दी। कृपया फिर से कोशिश करें।",
	ErrorDeviceUnavailable: "माइक्रोफोन की अनुमति दें और फिर कोशिश करें।",
	ErrorAccessDenied:      "माइक्रोफोन की अनुमति दें। Settings में जाकर microphone को allow करें।",
	ErrorUnknown:           "Voice recognition में समस्या है। कृपया फिर कोशिश करें।",
}

// Platform error codes
const (
	CodeNoSpeech          = "no-speech"
	CodeAudioCapture      = "audio-capture"
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
)

// ClassifyError maps a platform error code onto the taxonomy
func ClassifyError(code string) *RecognitionError {
	kind := ErrorUnknown
	switch code {
	case CodeNoSpeech:
		kind = ErrorNoSpeech
	case CodeAudioCapture:
		kind = ErrorDeviceUnavailable
	case CodeNotAllowed, CodeServiceNotAllowed:
		kind = ErrorAccessDenied
	}
	return &RecognitionError{Kind: kind, Code: code, Message: errorMessages[kind]}
}
