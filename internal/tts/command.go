package tts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// CommandFlavor selects the local speech binary
type CommandFlavor string

const (
	FlavorEspeak CommandFlavor = "espeak-ng"
	FlavorSay    CommandFlavor = "say"
)

const baseWordsPerMinute = 175

// CommandSynthesizer speaks through a local binary (espeak-ng or macOS say).
// Text is written to the process stdin so it is never parsed as a flag.
type CommandSynthesizer struct {
	flavor CommandFlavor
	binary string
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCommandSynthesizer creates a synthesizer for flavor
func NewCommandSynthesizer(flavor CommandFlavor, logger zerolog.Logger) *CommandSynthesizer {
	return &CommandSynthesizer{
		flavor: flavor,
		binary: string(flavor),
		logger: logger.With().Str("provider", string(flavor)).Logger(),
	}
}

// DetectCommandSynthesizer picks say on macOS and espeak-ng elsewhere.
// It returns nil when neither binary is installed.
func DetectCommandSynthesizer(logger zerolog.Logger) *CommandSynthesizer {
	order := []CommandFlavor{FlavorEspeak, FlavorSay}
	if runtime.GOOS == "darwin" {
		order = []CommandFlavor{FlavorSay, FlavorEspeak}
	}
	for _, f := range order {
		s := NewCommandSynthesizer(f, logger)
		if s.Available() {
			return s
		}
	}
	return nil
}

// Name returns the provider identifier
func (s *CommandSynthesizer) Name() string {
	return string(s.flavor)
}

// Available checks that the binary exists on PATH
func (s *CommandSynthesizer) Available() bool {
	if s.flavor == FlavorSay && runtime.GOOS != "darwin" {
		return false
	}
	_, err := exec.LookPath(s.binary)
	return err == nil
}

// Voices lists installed voices
func (s *CommandSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	var args []string
	switch s.flavor {
	case FlavorSay:
		args = []string{"-v", "?"}
	default:
		args = []string{"--voices"}
	}

	out, err := exec.CommandContext(ctx, s.binary, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("list %s voices: %w", s.binary, err)
	}

	if s.flavor == FlavorSay {
		return parseSayVoices(out), nil
	}
	return parseEspeakVoices(out), nil
}

// Args builds the command line for u
func (s *CommandSynthesizer) Args(u Utterance) []string {
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	wpm := strconv.Itoa(int(math.Round(baseWordsPerMinute * rate)))

	switch s.flavor {
	case FlavorSay:
		var args []string
		if u.Voice != nil {
			args = append(args, "-v", u.Voice.Name)
		}
		return append(args, "-r", wpm)

	default:
		voice := primaryLanguage(u.Language)
		if u.Voice != nil {
			voice = u.Voice.ID
		}
		pitch := clamp(int(math.Round(50*u.Pitch)), 0, 99)
		amp := clamp(int(math.Round(100*u.Volume)), 0, 200)
		args := []string{"--stdin", "-s", wpm, "-p", strconv.Itoa(pitch), "-a", strconv.Itoa(amp)}
		if voice != "" {
			args = append([]string{"-v", voice}, args...)
		}
		return args
	}
}

// Speak starts the binary and returns once it is running
func (s *CommandSynthesizer) Speak(ctx context.Context, u Utterance, notify func(Event)) error {
	if !s.Available() {
		return ErrProviderUnavailable
	}

	s.Cancel()

	cctx, cancel := context.WithCancel(ctx)
	args := s.Args(u)
	cmd := exec.CommandContext(cctx, s.binary, args...)
	cmd.Stdin = strings.NewReader(u.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", s.binary, err)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Debug().
		Strs("args", args).
		Int("textLen", len(u.Text)).
		Msg("Speaking")

	go func() {
		notify(Event{Kind: EventStarted, UtteranceID: u.ID})
		err := cmd.Wait()
		canceled := cctx.Err() != nil
		cancel()

		switch {
		case canceled:
			notify(Event{Kind: EventFailed, UtteranceID: u.ID, Err: ErrCanceled})
		case err != nil:
			notify(Event{Kind: EventFailed, UtteranceID: u.ID,
				Err: fmt.Errorf("%s: %w: %s", s.binary, err, strings.TrimSpace(stderr.String()))})
		default:
			notify(Event{Kind: EventEnded, UtteranceID: u.ID})
		}
	}()

	return nil
}

// Cancel kills the running process, if any
func (s *CommandSynthesizer) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// parseEspeakVoices reads `espeak-ng --voices` output:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  hi              --/M      Hindi              inc/hi
func parseEspeakVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, Voice{
			ID:       fields[4],
			Name:     fields[3],
			Language: fields[1],
		})
	}
	return voices
}

var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

// parseSayVoices reads `say -v ?` output:
//
//	Lekha               hi_IN    # नमस्ते, मेरा नाम लेखा है।
func parseSayVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := sayVoiceLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		voices = append(voices, Voice{
			ID:       name,
			Name:     name,
			Language: strings.ReplaceAll(m[2], "_", "-"),
		})
	}
	return voices
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
