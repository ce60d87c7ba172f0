// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/speakline/pkg/audio"
	"github.com/MrWong99/speakline/pkg/provider/stt"
)

// Compile-time assertions that Native satisfies the stt interfaces.
var (
	_ stt.Transcriber = (*Native)(nil)
	_ stt.Closer      = (*Native)(nil)
)

// errClosed is returned by Transcribe after Close.
var errClosed = errors.New("whisper: model is closed")

// Native implements stt.Transcriber using whisper.cpp Go bindings, with no
// HTTP hop. The model is loaded once and shared by all streams.
//
// Every context the bindings hand out runs on the model's single
// whisper_state, so inference is serialised: one Transcribe call decodes at a
// time and the others queue on busy.
type Native struct {
	modelPath string
	language  string
	threads   uint

	busy *semaphore.Weighted

	mu     sync.RWMutex
	model  whisperlib.Model
	closed bool
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithNativeThreads sets the number of CPU threads per inference. Zero keeps
// the whisper.cpp default.
func WithNativeThreads(threads uint) NativeOption {
	return func(n *Native) { n.threads = threads }
}

// NewNative loads the whisper.cpp model at modelPath. Quantized models
// (q4_0 … q8_0) load the same way as full-precision ones. The caller must
// call Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		modelPath: modelPath,
		model:     model,
		language:  defaultLanguage,
		busy:      semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(n)
	}
	slog.Info("whisper model loaded", "path", modelPath, "multilingual", model.IsMultilingual())
	return n, nil
}

// Name returns "whisper-native".
func (n *Native) Name() string { return "whisper-native" }

// ModelPath returns the path the model was loaded from.
func (n *Native) ModelPath() string { return n.modelPath }

// Close releases the whisper model. Calling Close more than once is safe.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference on samples and returns the
// concatenated segment text. A call waits for any inference in progress;
// ctx bounds that wait. whisper.cpp cannot be interrupted mid-inference, so
// after that ctx is only checked between segments.
func (n *Native) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if err := n.busy.Acquire(ctx, 1); err != nil {
		return stt.Transcript{}, err
	}
	defer n.busy.Release(1)

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return stt.Transcript{}, errClosed
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = n.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts []string
		segs  []stt.TextSegment
	)
	for {
		if err := ctx.Err(); err != nil {
			return stt.Transcript{}, err
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		segs = append(segs, stt.TextSegment{Text: text, Start: segment.Start, End: segment.End})
	}

	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: wctx.Language(),
		Segments: segs,
		Provider: n.Name(),
		Duration: audio.Frame{Samples: samples}.Duration(),
	}, nil
}
