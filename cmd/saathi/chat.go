package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normanking/saathi/internal/bus"
	"github.com/normanking/saathi/internal/intent"
	"github.com/normanking/saathi/internal/stt"
	"github.com/normanking/saathi/internal/tts"
	"github.com/normanking/saathi/internal/tui"
	"github.com/normanking/saathi/internal/voice"
)

func chatCmd() *cobra.Command {
	var textOnly bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Open the assistant in the terminal.

Replies are spoken through the configured synthesizer when one is
available. With the line recognizer, ctrl+l starts listening and the next
line typed is taken as the spoken phrase.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.Zerolog()

			var synth tts.Synthesizer
			var rec stt.Recognizer
			lines := make(chan string)

			if !textOnly {
				s, err := tts.NewSynthesizer(cfg.Speech.Provider, logger)
				if err != nil {
					return err
				}
				synth = s

				r, err := stt.NewRecognizer(cfg.Recognition.Provider, cfg.Recognition.Command, lines, cfg.Recognition.NoSpeechTimeout, logger)
				if err != nil {
					return err
				}
				rec = r
			}

			eventBus := bus.NewEventBus()
			ctrl := voice.NewController(
				voice.ConfigFrom(cfg),
				intent.DefaultResponder(),
				tts.NewEngine(synth, voice.SpeechConfigFrom(cfg), logger),
				stt.NewEngine(rec, voice.Language(cfg), logger),
				eventBus,
				logger,
			)

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			feed := tui.SnapshotFeed(runCtx, eventBus)
			ctrl.Start(runCtx)
			defer ctrl.Stop()

			return tui.Run(runCtx, ctrl, feed, lines, intent.QuickActions())
		},
	}

	cmd.Flags().BoolVar(&textOnly, "text", false, "disable speech in and out")
	return cmd
}
