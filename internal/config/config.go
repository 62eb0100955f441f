// Package config provides configuration management for Saathi
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Assistant   AssistantConfig   `mapstructure:"assistant"`
	Timing      TimingConfig      `mapstructure:"timing"`
	Speech      SpeechConfig      `mapstructure:"speech"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// AssistantConfig holds the conversation texts
type AssistantConfig struct {
	Name        string `mapstructure:"name"`
	Language    string `mapstructure:"language"` // BCP-47 tag used for speech in and out
	Greeting    string `mapstructure:"greeting"`
	Placeholder string `mapstructure:"placeholder"`
}

// TimingConfig holds the fixed delays of the request/response cycle
type TimingConfig struct {
	ThinkingDelay   time.Duration `mapstructure:"thinking_delay"`
	SpeakDelay      time.Duration `mapstructure:"speak_delay"`
	TranscriptDelay time.Duration `mapstructure:"transcript_delay"`
	WelcomeDelay    time.Duration `mapstructure:"welcome_delay"`
}

// SpeechConfig configures text-to-speech
type SpeechConfig struct {
	Provider   string   `mapstructure:"provider"` // auto, espeak-ng, say, none
	MatchCodes []string `mapstructure:"match_codes"`
	Rate       float64  `mapstructure:"rate"`
	Pitch      float64  `mapstructure:"pitch"`
	Volume     float64  `mapstructure:"volume"`
}

// RecognitionConfig configures speech-to-text for the terminal shell.
// Browser shells use the browser's own recognizer.
type RecognitionConfig struct {
	Provider        string        `mapstructure:"provider"` // line, command, none
	Command         []string      `mapstructure:"command"`  // argv, "{lang}" is substituted
	NoSpeechTimeout time.Duration `mapstructure:"no_speech_timeout"`
}

// ServerConfig configures the HTTP/websocket gateway
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	HelloTimeout   time.Duration `mapstructure:"hello_timeout"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Assistant: AssistantConfig{
			Name:        "Digital Saathi",
			Language:    "hi-IN",
			Greeting:    "नमस्कार! मैं आपका Digital Saathi हूं। आपको किस चीज़ में मदद चाहिए? आप बोल सकते हैं या लिख सकते हैं।",
			Placeholder: "टाइप कर रहा है...",
		},
		Timing: TimingConfig{
			ThinkingDelay:   1500 * time.Millisecond,
			SpeakDelay:      500 * time.Millisecond,
			TranscriptDelay: 500 * time.Millisecond,
			WelcomeDelay:    1 * time.Second,
		},
		Speech: SpeechConfig{
			Provider:   "auto",
			MatchCodes: []string{"hi", "IN"},
			Rate:       0.8,
			Pitch:      1.0,
			Volume:     1.0,
		},
		Recognition: RecognitionConfig{
			Provider:        "line",
			NoSpeechTimeout: 15 * time.Second,
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8790,
			AllowedOrigins: []string{"*"},
			HelloTimeout:   5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Dir:     "",
			Console: true,
			File:    true,
		},
	}
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".saathi"), nil
}

// Loader reads configuration from file and environment and can watch the
// file for changes.
type Loader struct {
	v    *viper.Viper
	path string

	mu  sync.RWMutex
	cfg *Config
}

// NewLoader creates a loader. An empty path searches ~/.saathi and the
// working directory for config.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SAATHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	return &Loader{v: v, path: path}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("assistant.name", cfg.Assistant.Name)
	v.SetDefault("assistant.language", cfg.Assistant.Language)
	v.SetDefault("assistant.greeting", cfg.Assistant.Greeting)
	v.SetDefault("assistant.placeholder", cfg.Assistant.Placeholder)

	v.SetDefault("timing.thinking_delay", cfg.Timing.ThinkingDelay)
	v.SetDefault("timing.speak_delay", cfg.Timing.SpeakDelay)
	v.SetDefault("timing.transcript_delay", cfg.Timing.TranscriptDelay)
	v.SetDefault("timing.welcome_delay", cfg.Timing.WelcomeDelay)

	v.SetDefault("speech.provider", cfg.Speech.Provider)
	v.SetDefault("speech.match_codes", cfg.Speech.MatchCodes)
	v.SetDefault("speech.rate", cfg.Speech.Rate)
	v.SetDefault("speech.pitch", cfg.Speech.Pitch)
	v.SetDefault("speech.volume", cfg.Speech.Volume)

	v.SetDefault("recognition.provider", cfg.Recognition.Provider)
	v.SetDefault("recognition.command", cfg.Recognition.Command)
	v.SetDefault("recognition.no_speech_timeout", cfg.Recognition.NoSpeechTimeout)

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("server.hello_timeout", cfg.Server.HelloTimeout)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.dir", cfg.Logging.Dir)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.file", cfg.Logging.File)
}

// Load reads the config file (if any) and environment overrides.
// A missing file is not an error when no explicit path was given.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	return cfg, nil
}

// Current returns the most recently loaded configuration
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// ConfigFile returns the file in use, empty when running on defaults
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the configuration whenever the file changes and passes the
// new value to fn. Reload failures are passed to onErr and keep the old value.
func (l *Loader) Watch(fn func(*Config), onErr func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := &Config{}
		if err := l.v.Unmarshal(cfg); err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("decode config %s: %w", e.Name, err))
			}
			return
		}
		l.mu.Lock()
		l.cfg = cfg
		l.mu.Unlock()
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Save writes the configuration to path as YAML
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	v.Set("assistant", map[string]any{
		"name":        cfg.Assistant.Name,
		"language":    cfg.Assistant.Language,
		"greeting":    cfg.Assistant.Greeting,
		"placeholder": cfg.Assistant.Placeholder,
	})
	v.Set("timing", map[string]any{
		"thinking_delay":   cfg.Timing.ThinkingDelay.String(),
		"speak_delay":      cfg.Timing.SpeakDelay.String(),
		"transcript_delay": cfg.Timing.TranscriptDelay.String(),
		"welcome_delay":    cfg.Timing.WelcomeDelay.String(),
	})
	v.Set("speech", map[string]any{
		"provider":    cfg.Speech.Provider,
		"match_codes": cfg.Speech.MatchCodes,
		"rate":        cfg.Speech.Rate,
		"pitch":       cfg.Speech.Pitch,
		"volume":      cfg.Speech.Volume,
	})
	v.Set("recognition", map[string]any{
		"provider":          cfg.Recognition.Provider,
		"command":           cfg.Recognition.Command,
		"no_speech_timeout": cfg.Recognition.NoSpeechTimeout.String(),
	})
	v.Set("server", map[string]any{
		"host":            cfg.Server.Host,
		"port":            cfg.Server.Port,
		"allowed_origins": cfg.Server.AllowedOrigins,
		"hello_timeout":   cfg.Server.HelloTimeout.String(),
	})
	v.Set("logging", map[string]any{
		"level":   cfg.Logging.Level,
		"dir":     cfg.Logging.Dir,
		"console": cfg.Logging.Console,
		"file":    cfg.Logging.File,
	})

	return v.WriteConfigAs(path)
}
