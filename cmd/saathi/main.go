// Package main is the entry point for the Saathi CLI.
// Saathi is a bilingual voice-and-text assistant served to browsers over a
// websocket gateway or run directly in the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/saathi/internal/config"
	"github.com/normanking/saathi/internal/intent"
	"github.com/normanking/saathi/internal/logging"
	"github.com/normanking/saathi/internal/server"
	"github.com/normanking/saathi/internal/tts"
	"github.com/normanking/saathi/internal/voice"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool

	loader *config.Loader
	cfg    *config.Config
	log    *logging.Logger
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1F7A4D"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Width(16)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "saathi",
		Short: "Saathi - voice and text assistant",
		Long: `Saathi is a bilingual (Hindi/English) assistant that answers by text
and by voice.

Serve the browser shell:  saathi serve
Chat in the terminal:     saathi chat
One-shot reply:           saathi ask बिजली बिल
Configuration:            saathi config show`,
		PersistentPreRunE: initRuntime,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Close()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.saathi/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Saathi v%s\n", version)
		},
	})

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(voicesCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initRuntime loads environment files, configuration and the logger
func initRuntime(cmd *cobra.Command, args []string) error {
	loadEnvFiles()

	loader = config.NewLoader(cfgPath)
	c, err := loader.Load()
	if err != nil {
		return err
	}
	cfg = c

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Dir != "" {
		logCfg.LogDir = cfg.Logging.Dir
	}
	logCfg.Level = logging.ParseLevel(cfg.Logging.Level)
	if verbose {
		logCfg.Level = logging.LevelDebug
	}
	logCfg.File = cfg.Logging.File
	// the chat shell owns the terminal
	logCfg.Console = cfg.Logging.Console && cmd.Name() != "chat"

	log, err = logging.New(logCfg)
	if err != nil {
		return err
	}

	log.Debug("main", "Saathi started", map[string]interface{}{
		"command": cmd.Name(),
		"config":  loader.ConfigFile(),
		"logFile": log.GetLogPath(),
	})
	return nil
}

// loadEnvFiles loads SAATHI_* overrides from ~/.saathi/.env and ./.env.
// Variables already in the environment win.
func loadEnvFiles() {
	if dir, err := config.GetConfigDir(); err == nil {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
	_ = godotenv.Load()
}

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser shell and websocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			srv := server.New(cfg, intent.DefaultResponder(), version, log.Zerolog())
			srv.AttachLogs(log)

			loader.Watch(func(next *config.Config) {
				next.Server = cfg.Server
				srv.UpdateConfig(next)
				log.Info("serve", "Configuration reloaded", map[string]interface{}{"file": loader.ConfigFile()})
			}, func(err error) {
				log.Warn("serve", "Configuration reload failed", map[string]interface{}{"error": err.Error()})
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			fmt.Printf("%s listening on http://%s\n", titleStyle.Render("Saathi"), cfg.Server.Addr())

			log.Info("serve", "Listening", map[string]interface{}{"addr": cfg.Server.Addr(), "version": version})

			select {
			case err := <-errCh:
				if err != nil {
					log.Error("serve", "Server failed", err, nil)
				}
				return err
			case <-ctx.Done():
			}

			log.Info("serve", "Shutting down", nil)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func askCmd() *cobra.Command {
	var speak bool

	cmd := &cobra.Command{
		Use:   "ask [text]",
		Short: "Print the assistant's reply to a single message",
		Long: `Print the reply the assistant would give to one message.

Examples:
  saathi ask "बिजली बिल कैसे भरें"
  saathi ask --speak pension`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply := intent.DefaultResponder().Respond(strings.Join(args, " "))
			fmt.Println(reply)

			if !speak {
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return speakAndWait(ctx, reply, log.Component("ask"))
		},
	}

	cmd.Flags().BoolVarP(&speak, "speak", "s", false, "also speak the reply")
	return cmd
}

// speakAndWait plays text on the configured synthesizer and blocks until
// the utterance is over.
func speakAndWait(ctx context.Context, text string, logger zerolog.Logger) error {
	synth, err := tts.NewSynthesizer(cfg.Speech.Provider, logger)
	if err != nil {
		return err
	}
	engine := tts.NewEngine(synth, voice.SpeechConfigFrom(cfg), logger)
	if !engine.Available() {
		return tts.ErrProviderUnavailable
	}

	done := make(chan error, 1)
	engine.SetEventSink(func(ev tts.Event) {
		if !ev.Terminal() {
			return
		}
		select {
		case done <- ev.Err:
		default:
		}
	})
	engine.ResolveVoice(ctx)

	if _, err := engine.Speak(ctx, text); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		engine.Stop()
		return nil
	}
}

func voicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the speech voices and the one chosen for the assistant language",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.Component("voices")
			synth, err := tts.NewSynthesizer(cfg.Speech.Provider, logger)
			if err != nil {
				return err
			}
			if synth == nil {
				fmt.Println(warnStyle.Render("No speech synthesizer available; replies will be text-only."))
				return nil
			}

			voices, err := synth.Voices(cmd.Context())
			if err != nil {
				return fmt.Errorf("list voices: %w", err)
			}

			fmt.Println(titleStyle.Render(fmt.Sprintf("Voices (%s)", synth.Name())))
			for _, v := range voices {
				fmt.Printf("  %s %s\n", labelStyle.Render(v.Language), v.Name)
			}

			fmt.Println()
			if v, ok := tts.MatchVoice(voices, voice.SpeechConfigFrom(cfg).MatchCodes); ok {
				fmt.Println(successStyle.Render(fmt.Sprintf("✓ %s voice: %s (%s)", voice.Language(cfg), v.Name, v.Language)))
			} else {
				fmt.Println(warnStyle.Render(fmt.Sprintf("⚠ no %s voice, the platform default is used", voice.Language(cfg))))
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			file := loader.ConfigFile()
			if file == "" {
				file = "(defaults)"
			}

			fmt.Println(titleStyle.Render("Saathi Configuration"))
			fmt.Println("─────────────────────")
			row := func(label, value string) {
				fmt.Printf("%s %s\n", labelStyle.Render(label), value)
			}
			row("Config file", file)
			row("Assistant", cfg.Assistant.Name)
			row("Language", cfg.Assistant.Language)
			row("Speech", cfg.Speech.Provider)
			row("Voice codes", strings.Join(cfg.Speech.MatchCodes, ", "))
			row("Recognition", cfg.Recognition.Provider)
			row("Listen", cfg.Server.Addr())
			row("Origins", strings.Join(cfg.Server.AllowedOrigins, ", "))
			row("Thinking", cfg.Timing.ThinkingDelay.String())
			row("Log level", cfg.Logging.Level)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to ~/.saathi/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := defaultConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Println(successStyle.Render("✓ wrote " + path))
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file := loader.ConfigFile(); file != "" {
				fmt.Println(file)
				return nil
			}
			path, err := defaultConfigPath()
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	})

	return cmd
}

func defaultConfigPath() (string, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
