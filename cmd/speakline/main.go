// Command speakline is the entry point for the Speakline transcription
// service and its model tooling.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakline/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// logLevel is shared by every subcommand and adjusted on config reload.
var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "speakline",
	Short: "Streaming speech segmentation and transcription",
	Long: "Speakline segments live audio into utterances with an adaptive energy detector,\n" +
		"transcribes them with whisper.cpp or a remote backend and quantizes ggml models.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		lvl, _ := cmd.Flags().GetString("log-level")
		level := config.LogLevel(lvl)
		if !level.IsValid() {
			return fmt.Errorf("invalid --log-level %q", lvl)
		}
		logLevel.Set(level.Level())
		slog.SetDefault(newLogger(logLevel))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", string(config.LogInfo), "log verbosity: debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, quantizeCmd, inspectCmd, listenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "speakline: %v\n", err)
		os.Exit(1)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger writes text logs to stderr so stdout stays free for command
// output.
func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
