package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LanguagePlaceholder in a command argument is replaced by the session
// language tag.
const LanguagePlaceholder = "{lang}"

// CommandRecognizer runs an external capture-and-transcribe command (for
// example a whisper.cpp wrapper) once per session. The first non-empty final
// line on stdout is the transcript; on failure stderr is classified into a
// platform error code.
type CommandRecognizer struct {
	command []string
	logger  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCommandRecognizer creates a recognizer for command (binary plus args)
func NewCommandRecognizer(command []string, logger zerolog.Logger) *CommandRecognizer {
	return &CommandRecognizer{
		command: append([]string(nil), command...),
		logger:  logger.With().Str("provider", "command-stt").Logger(),
	}
}

func (r *CommandRecognizer) Name() string { return "command" }

// Available checks that the binary exists on PATH
func (r *CommandRecognizer) Available() bool {
	if len(r.command) == 0 || strings.TrimSpace(r.command[0]) == "" {
		return false
	}
	_, err := exec.LookPath(r.command[0])
	return err == nil
}

// Args returns the command line for opts
func (r *CommandRecognizer) Args(opts Options) []string {
	args := make([]string, len(r.command))
	for i, a := range r.command {
		args[i] = strings.ReplaceAll(a, LanguagePlaceholder, opts.Language)
	}
	return args
}

// Start launches the command
func (r *CommandRecognizer) Start(ctx context.Context, sessionID string, opts Options, notify func(Event)) error {
	if len(r.command) == 0 {
		return fmt.Errorf("no recognition command configured")
	}

	r.Stop()

	args := r.Args(opts)
	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", args[0], err)
	}

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.logger.Debug().Strs("args", args).Str("session", sessionID).Msg("Recognition command started")

	go func() {
		defer cancel()
		notify(Event{Kind: EventStart, SessionID: sessionID})
		defer notify(Event{Kind: EventEnd, SessionID: sessionID})

		err := cmd.Wait()
		if cctx.Err() != nil {
			return
		}
		if err != nil {
			code := classifyOutput(stderr.String())
			r.logger.Warn().
				Err(err).
				Str("stderr", strings.TrimSpace(stderr.String())).
				Str("code", code).
				Msg("Recognition command failed")
			notify(Event{Kind: EventError, SessionID: sessionID, Err: ClassifyError(code)})
			return
		}

		text := parseTranscript(stdout.Bytes())
		if text == "" {
			notify(Event{Kind: EventError, SessionID: sessionID, Err: ClassifyError(CodeNoSpeech)})
			return
		}
		notify(Event{Kind: EventTranscript, SessionID: sessionID, Text: text})
	}()

	return nil
}

// Stop kills the running command, if any
func (r *CommandRecognizer) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

type transcriptLine struct {
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Final      *bool  `json:"final"`
}

// parseTranscript returns the first final transcript in out. Lines may be
// plain text or JSON objects carrying text/transcript and an optional final
// flag; partial results are skipped.
func parseTranscript(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") {
			var tl transcriptLine
			if err := json.Unmarshal([]byte(line), &tl); err == nil {
				if tl.Final != nil && !*tl.Final {
					continue
				}
				text := strings.TrimSpace(tl.Text)
				if text == "" {
					text = strings.TrimSpace(tl.Transcript)
				}
				if text != "" {
					return text
				}
				continue
			}
		}
		return line
	}
	return ""
}

// classifyOutput guesses a platform error code from a command's stderr.
func classifyOutput(stderr string) string {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, CodeServiceNotAllowed):
		return CodeServiceNotAllowed
	case strings.Contains(s, CodeNotAllowed), strings.Contains(s, "permission denied"), strings.Contains(s, "access denied"):
		return CodeNotAllowed
	case strings.Contains(s, CodeAudioCapture), strings.Contains(s, "no such device"), strings.Contains(s, "device busy"),
		strings.Contains(s, "no input device"):
		return CodeAudioCapture
	case strings.Contains(s, CodeNoSpeech), strings.Contains(s, "silence"):
		return CodeNoSpeech
	}
	return ""
}
