package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/speakline/internal/app"
	"github.com/MrWong99/speakline/internal/config"
	"github.com/MrWong99/speakline/pkg/audio"
)

// readChunk is the number of bytes read from the input per conversion.
const readChunk = 16 << 10

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Segment and transcribe a file or stdin, printing JSON events",
	Long: "Listen runs one stream through the same pipeline as the server and prints one\n" +
		"JSON event per line. WAV input is detected from its header; raw input uses the\n" +
		"--encoding, --rate and --channels flags. Without a config file only speech\n" +
		"boundaries are reported.",
	Example: "  arecord -f S16_LE -r 16000 | speakline listen --encoding pcm16 -c config.yaml\n" +
		"  speakline listen --input meeting.wav -c config.yaml",
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	f := listenCmd.Flags()
	f.StringP("input", "i", "-", "audio file, or - for stdin")
	f.StringP("config", "c", "", "YAML configuration (providers, vad, hotwords)")
	f.String("encoding", "", "raw input encoding: f32 or pcm16 (default from config)")
	f.Int("rate", 0, "raw input sample rate in Hz (default from config)")
	f.Int("channels", 0, "raw input channel count (default from config)")
}

func runListen(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	input, _ := flags.GetString("input")
	configPath, _ := flags.GetString("config")

	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		config.ApplyDefaults(cfg)
	}

	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	br := bufio.NewReaderSize(r, readChunk)

	format, err := inputFormat(cmd, cfg, br)
	if err != nil {
		return err
	}
	conv, err := audio.NewConverter(format, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.WithLogLevel(logLevel))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	streamID := uuid.NewString()
	p, err := application.NewPipeline(streamID)
	if err != nil {
		return err
	}
	slog.Info("listening", "stream", streamID, "input", input, "format", format.String())

	// feedCtx stops the reader when the pipeline ends early.
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()
	frames := make(chan []float32, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		readErr <- feed(feedCtx, br, conv, audio.NewFramer(cfg.Audio.FrameDuration()), frames)
	}()

	enc := json.NewEncoder(cmd.OutOrStdout())
	var encErr error
	for ev := range p.Run(ctx, frames) {
		if encErr == nil {
			encErr = enc.Encode(ev)
		}
	}
	cancelFeed()
	if encErr != nil {
		return encErr
	}
	if err := <-readErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// inputFormat returns the WAV header format when br starts with one, and
// the flag or config defaults otherwise.
func inputFormat(cmd *cobra.Command, cfg *config.Config, br *bufio.Reader) (audio.Format, error) {
	if magic, err := br.Peek(4); err == nil && string(magic) == "RIFF" {
		format, err := audio.ReadWAVHeader(br)
		if err != nil {
			return audio.Format{}, err
		}
		slog.Debug("wav input", "format", format.String())
		return format, nil
	}

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	encoding := cfg.Audio.Encoding
	if s, _ := cmd.Flags().GetString("encoding"); s != "" {
		encoding = s
	}
	enc, err := audio.ParseEncoding(encoding)
	if err != nil {
		return audio.Format{}, err
	}
	if enc == audio.EncodingOpus {
		return audio.Format{}, errors.New("opus input is only accepted over the websocket API")
	}
	format.Encoding = enc
	if n, _ := cmd.Flags().GetInt("rate"); n > 0 {
		format.SampleRate = n
	}
	if n, _ := cmd.Flags().GetInt("channels"); n > 0 {
		format.Channels = n
	}
	return format, format.Validate()
}

// feed converts r into frames until EOF. A trailing partial frame is sent
// short.
func feed(ctx context.Context, r io.Reader, conv *audio.Converter, framer *audio.Framer, frames chan<- []float32) error {
	buf := make([]byte, readChunk)
	send := func(samples []float32) error {
		select {
		case frames <- samples:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	start := time.Now()
	for {
		n, err := r.Read(buf)
		if n > 0 {
			samples, cerr := conv.Convert(buf[:n])
			if cerr != nil {
				return cerr
			}
			for _, f := range framer.Push(samples) {
				if err := send(f.Samples); err != nil {
					return err
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if f, ok := framer.Flush(); ok {
		if err := send(f.Samples); err != nil {
			return err
		}
	}
	slog.Debug("input consumed", "samples", conv.Delivered(), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
