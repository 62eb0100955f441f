// Package voice provides the conversation state machine for Saathi. A single
// controller goroutine owns the message log and the input/output session
// flags; everything else talks to it through actions and read-only snapshots.
package voice

import (
	"errors"
	"time"

	"github.com/normanking/saathi/internal/tts"
)

// Common errors
var (
	ErrStopped         = errors.New("controller is not running")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotReplayable   = errors.New("message cannot be replayed")
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Well-known message ids
const (
	GreetingID    = "greeting"
	PlaceholderID = "typing"
)

// Message is one entry of the conversation log
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	ViaVoice  bool      `json:"via_voice,omitempty"`
}

// IsPlaceholder reports whether m is the transient "typing" indicator
func (m Message) IsPlaceholder() bool {
	return m.ID == PlaceholderID
}

// Replayable reports whether m can be spoken again on request
func (m Message) Replayable() bool {
	return m.Role == RoleAssistant && !m.IsPlaceholder()
}

// Phase of the request/response cycle
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseAwaitingReply Phase = "awaiting_reply"
)

// InputState is the speech input session flag
type InputState string

const (
	InputIdle      InputState = "idle"
	InputListening InputState = "listening"
)

// OutputState is the speech output session flag
type OutputState string

const (
	OutputIdle     OutputState = "idle"
	OutputSpeaking OutputState = "speaking"
)

// Capabilities reports which voice features the platform supports
type Capabilities struct {
	VoiceInput  bool `json:"voice_input"`
	VoiceOutput bool `json:"voice_output"`
}

// NoticeKind classifies user-facing notices
type NoticeKind string

const (
	NoticeCapabilityUnavailable NoticeKind = "capability_unavailable"
	NoticeStartFailed           NoticeKind = "start_failed"
	NoticeRecognitionError      NoticeKind = "recognition_error"
)

// Notice is a localized message the shell should surface
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Code string     `json:"code,omitempty"` // recognition error kind
	Text string     `json:"text"`
	At   time.Time  `json:"at"`
}

// Snapshot is an immutable view of the controller state. Version increases
// with every change.
type Snapshot struct {
	Version           uint64           `json:"version"`
	Messages          []Message        `json:"messages"`
	Phase             Phase            `json:"phase"`
	Input             InputState       `json:"input"`
	Output            OutputState      `json:"output"`
	Capabilities      Capabilities     `json:"capabilities"`
	Voice             tts.VoiceProfile `json:"voice"`
	Open              bool             `json:"open"`
	Minimized         bool             `json:"minimized"`
	Draft             string           `json:"draft"`
	Notice            *Notice          `json:"notice,omitempty"`
	SpeakingMessageID string           `json:"speaking_message_id,omitempty"`
}

// Responder produces the assistant reply for user text
type Responder interface {
	Respond(text string) string
}

// Timing holds the fixed delays of the conversation
type Timing struct {
	Thinking   time.Duration // submission to reply
	Speak      time.Duration // reply to speech
	Transcript time.Duration // transcript to auto-submission
	Welcome    time.Duration // first open to greeting speech
}

// Config configures a Controller
type Config struct {
	Greeting    string
	Placeholder string
	Timing      Timing
}

// DefaultConfig returns the stock Hindi configuration
func DefaultConfig() Config {
	return Config{
		Greeting:    "नमस्कार! मैं आपका Digital Saathi हूं। आपको किस चीज़ में मदद चाहिए? आप बोल सकते हैं या लिख सकते हैं।",
		Placeholder: "टाइप कर रहा है...",
		Timing: Timing{
			Thinking:   1500 * time.Millisecond,
			Speak:      500 * time.Millisecond,
			Transcript: 500 * time.Millisecond,
			Welcome:    1000 * time.Millisecond,
		},
	}
}
