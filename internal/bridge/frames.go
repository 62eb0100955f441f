// Package bridge connects the speech engines to a browser shell. Audio I/O
// happens in the browser (speechSynthesis and SpeechRecognition); this side
// issues commands as JSON frames and turns the browser's callbacks back into
// engine events.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/normanking/saathi/internal/tts"
)

// ErrUnknownFrame is returned for frame types the bridge does not route
var ErrUnknownFrame = errors.New("unknown frame type")

// Frame is the websocket envelope shared by shell commands, platform
// commands and platform events.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Platform frame types
const (
	// server -> browser
	FrameTTSSpeak  = "tts.speak"
	FrameTTSCancel = "tts.cancel"
	FrameSTTStart  = "stt.start"
	FrameSTTStop   = "stt.stop"

	// browser -> server
	FrameHello     = "hello"
	FrameTTSVoices = "tts.voices"
	FrameTTSEvent  = "tts.event"
	FrameSTTEvent  = "stt.event"
)

// NewFrame encodes v as the data of a frame of type t
func NewFrame(t string, v any) (Frame, error) {
	if v == nil {
		return Frame{Type: t}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", t, err)
	}
	return Frame{Type: t, Data: data}, nil
}

// Decode unmarshals the frame data into v
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s: missing data", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return nil
}

// Hello is the first frame a browser sends, announcing its capabilities
type Hello struct {
	SpeechSynthesis   bool        `json:"speech_synthesis"`
	SpeechRecognition bool        `json:"speech_recognition"`
	Voices            []tts.Voice `json:"voices,omitempty"`
	UserAgent         string      `json:"user_agent,omitempty"`
}

// VoicesPayload carries the browser's current voice list
type VoicesPayload struct {
	Voices []tts.Voice `json:"voices"`
}

// SpeechEvent mirrors SpeechSynthesisUtterance callbacks
type SpeechEvent struct {
	Utterance string `json:"utterance"`
	Kind      string `json:"kind"`            // start | end | error
	Error     string `json:"error,omitempty"` // SpeechSynthesisErrorEvent.error
}

// RecognitionStart asks the browser to begin a recognition session
type RecognitionStart struct {
	Session        string `json:"session"`
	Language       string `json:"lang"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
}

// RecognitionStop asks the browser to stop a recognition session
type RecognitionStop struct {
	Session string `json:"session"`
}

// RecognitionEvent mirrors SpeechRecognition callbacks
type RecognitionEvent struct {
	Session    string `json:"session"`
	Kind       string `json:"kind"` // start | result | error | end
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"` // SpeechRecognitionErrorEvent.error
}
