package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakline/pkg/provider/stt"
	"github.com/MrWong99/speakline/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func newNative(t *testing.T, opts ...whisper.NativeOption) *whisper.Native {
	t.Helper()
	n, err := whisper.NewNative(testModelPath(t), opts...)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNative_Name(t *testing.T) {
	n := newNative(t, whisper.WithNativeLanguage("en"), whisper.WithNativeThreads(2))
	if n.Name() != "whisper-native" {
		t.Errorf("Name() = %q", n.Name())
	}
}

func TestNative_EmptySamples(t *testing.T) {
	n := newNative(t)
	if _, err := n.Transcribe(context.Background(), nil, stt.Options{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestNative_CancelledContext(t *testing.T) {
	n := newNative(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := n.Transcribe(ctx, makeSpeech(16000), stt.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNative_TranscribesTone(t *testing.T) {
	n := newNative(t)
	tr, err := n.Transcribe(context.Background(), makeSpeech(16000), stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Provider != "whisper-native" {
		t.Errorf("Provider = %q", tr.Provider)
	}
}

func TestNative_CloseIdempotentAndRejectsCalls(t *testing.T) {
	n, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := n.Transcribe(context.Background(), makeSpeech(160), stt.Options{}); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestNative_ConcurrentCallsAreSerialised(t *testing.T) {
	n := newNative(t, whisper.WithNativeThreads(2))
	samples := makeSpeech(3 * 16000)

	want, err := n.Transcribe(context.Background(), samples, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	const streams = 4
	got := make([]stt.Transcript, streams)
	var g errgroup.Group
	for i := range streams {
		g.Go(func() error {
			tr, err := n.Transcribe(context.Background(), samples, stt.Options{})
			got[i] = tr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Transcribe: %v", err)
	}
	for i, tr := range got {
		if tr.Text != want.Text || len(tr.Segments) != len(want.Segments) {
			t.Errorf("stream %d: text %q with %d segments, want %q with %d",
				i, tr.Text, len(tr.Segments), want.Text, len(want.Segments))
		}
	}
}
