package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MrWong99/speakline/internal/config"
)

// styles used by the human readable command output.
var (
	accent     = lipgloss.Color("#00ff9f")
	dim        = lipgloss.Color("#6e7681")
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle = lipgloss.NewStyle().Foreground(dim).Width(18)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

// kv is one labelled line of a summary box.
type kv struct {
	label string
	value string
}

// renderBox renders title and rows inside a rounded border.
func renderBox(title string, rows []kv) string {
	lines := []string{titleStyle.Render(title), ""}
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r.label)+r.value)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func printStartupSummary(cmd *cobra.Command, cfg *config.Config) {
	rows := []kv{
		{"STT", providerLabel(cfg.Providers.STT)},
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		rows = append(rows, kv{fmt.Sprintf("STT fallback %d", i+1), providerLabel(fb)})
	}
	rows = append(rows,
		kv{"VAD", cfg.VAD.Engine},
		kv{"Audio", fmt.Sprintf("%s %d Hz x%d, %d ms frames", cfg.Audio.Encoding, cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.FrameMs)},
	)
	if cfg.Model.Path != "" {
		model := cfg.Model.Path
		if cfg.Model.Quantize != "" {
			model += " → " + cfg.Model.Quantize
		}
		rows = append(rows, kv{"Model", model})
	}
	store := "memory"
	if cfg.Transcripts.PostgresDSN != "" {
		store += " + postgres"
	}
	rows = append(rows,
		kv{"Transcripts", store},
		kv{"Hotwords", fmt.Sprintf("%d (min similarity %.2f)", len(cfg.Hotwords.Words), cfg.Hotwords.MinSimilarity)},
		kv{"Max streams", fmt.Sprint(cfg.Server.MaxStreams)},
		kv{"Listen addr", cfg.Server.ListenAddr},
	)
	printBox(cmd.OutOrStdout(), "Speakline startup summary", rows)
}

func printBox(w io.Writer, title string, rows []kv) {
	fmt.Fprintln(w, renderBox(title, rows))
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}
