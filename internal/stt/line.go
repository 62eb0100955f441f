package stt

import (
	"context"
	"strings"
	"sync"
	"time"
)

// LineRecognizer treats the next line read from a channel as the spoken
// transcript. It is the dictation source for terminal shells and tests.
type LineRecognizer struct {
	lines   <-chan string
	timeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewLineRecognizer creates a recognizer reading lines. A blank line, or no
// line within timeout, ends the session with no-speech. timeout <= 0 waits
// until stopped.
func NewLineRecognizer(lines <-chan string, timeout time.Duration) *LineRecognizer {
	return &LineRecognizer{lines: lines, timeout: timeout}
}

func (r *LineRecognizer) Name() string { return "line" }

// Start begins listening for one line
func (r *LineRecognizer) Start(ctx context.Context, sessionID string, _ Options, notify func(Event)) error {
	r.Stop()

	cctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		defer cancel()
		notify(Event{Kind: EventStart, SessionID: sessionID})
		defer notify(Event{Kind: EventEnd, SessionID: sessionID})

		var deadline <-chan time.Time
		if r.timeout > 0 {
			t := time.NewTimer(r.timeout)
			defer t.Stop()
			deadline = t.C
		}

		select {
		case <-cctx.Done():
		case <-deadline:
			notify(Event{Kind: EventError, SessionID: sessionID, Err: ClassifyError(CodeNoSpeech)})
		case line, ok := <-r.lines:
			switch text := strings.TrimSpace(line); {
			case !ok:
				notify(Event{Kind: EventError, SessionID: sessionID, Err: ClassifyError(CodeAudioCapture)})
			case text == "":
				notify(Event{Kind: EventError, SessionID: sessionID, Err: ClassifyError(CodeNoSpeech)})
			default:
				notify(Event{Kind: EventTranscript, SessionID: sessionID, Text: text})
			}
		}
	}()

	return nil
}

// Stop aborts the session waiting for a line
func (r *LineRecognizer) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
