package voice

import (
	"github.com/normanking/saathi/internal/config"
	"github.com/normanking/saathi/internal/tts"
)

// ConfigFrom derives controller settings from the application config
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.Assistant.Greeting != "" {
		out.Greeting = cfg.Assistant.Greeting
	}
	if cfg.Assistant.Placeholder != "" {
		out.Placeholder = cfg.Assistant.Placeholder
	}
	t := cfg.Timing
	if t.ThinkingDelay > 0 {
		out.Timing.Thinking = t.ThinkingDelay
	}
	if t.SpeakDelay > 0 {
		out.Timing.Speak = t.SpeakDelay
	}
	if t.TranscriptDelay > 0 {
		out.Timing.Transcript = t.TranscriptDelay
	}
	if t.WelcomeDelay > 0 {
		out.Timing.Welcome = t.WelcomeDelay
	}
	return out
}

// SpeechConfigFrom derives speech output settings from the application config
func SpeechConfigFrom(cfg *config.Config) *tts.Config {
	out := tts.DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.Assistant.Language != "" {
		out.Language = cfg.Assistant.Language
	}
	if len(cfg.Speech.MatchCodes) > 0 {
		out.MatchCodes = append([]string(nil), cfg.Speech.MatchCodes...)
	}
	// a rate of zero is unset; pitch and volume of zero are real settings
	if cfg.Speech.Rate > 0 {
		out.Rate = clamp(cfg.Speech.Rate, 0.1, 10)
	}
	out.Pitch = clamp(cfg.Speech.Pitch, 0, 2)
	out.Volume = clamp(cfg.Speech.Volume, 0, 1)
	return out
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

// Language returns the recognition language from the application config
func Language(cfg *config.Config) string {
	if cfg == nil || cfg.Assistant.Language == "" {
		return tts.DefaultConfig().Language
	}
	return cfg.Assistant.Language
}
