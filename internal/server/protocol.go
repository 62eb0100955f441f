package server

import "github.com/normanking/saathi/internal/logging"

// Shell frame types. Platform frames (tts.*, stt.*, hello) are defined by the
// bridge package.
const (
	// browser -> server
	CmdOpen         = "open"
	CmdClose        = "close"
	CmdMinimize     = "minimize"
	CmdDraft        = "draft"
	CmdSubmit       = "submit"
	CmdQuickAction  = "quick_action"
	CmdMic          = "mic"
	CmdStopSpeaking = "stop_speaking"
	CmdReplay       = "replay"
	CmdReset        = "reset"

	// browser -> server, not answered
	FrameLog = "log"

	// server -> browser
	FrameWelcome  = "welcome"
	FrameSnapshot = "snapshot"
	FrameResult   = "result"
)

// TextPayload carries draft and submit text
type TextPayload struct {
	Text string `json:"text"`
}

// QuickActionPayload selects a preset prompt by index, or submits its text
type QuickActionPayload struct {
	Index *int   `json:"index,omitempty"`
	Text  string `json:"text,omitempty"`
}

// ReplayPayload names the message to speak again
type ReplayPayload struct {
	MessageID string `json:"message_id"`
}

// WelcomePayload is sent once the hello has been accepted
type WelcomePayload struct {
	Session      string   `json:"session"`
	Version      string   `json:"version"`
	QuickActions []string `json:"quick_actions"`
}

// LogPayload is a log line written by the browser shell
type LogPayload struct {
	Level     string                 `json:"level"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// LogsResponse lists recent log entries
type LogsResponse struct {
	Entries []logging.LogEntry `json:"entries"`
}

// ResultPayload reports the outcome of a command
type ResultPayload struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}
