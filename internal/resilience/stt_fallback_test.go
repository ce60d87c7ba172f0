package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/speakline/pkg/provider/stt"
	sttmock "github.com/MrWong99/speakline/pkg/provider/stt/mock"
)

var speech = []float32{0.1, -0.1, 0.2}

func TestTranscriberFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Transcriber{ProviderName: "primary", Default: stt.Transcript{Text: "hello"}}
	secondary := &sttmock.Transcriber{ProviderName: "secondary"}

	fb := NewTranscriberFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	tr, err := fb.Transcribe(context.Background(), speech, stt.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello" || tr.Provider != "primary" {
		t.Fatalf("transcript = %+v, want hello from primary", tr)
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestTranscriberFallback_Failover(t *testing.T) {
	primary := &sttmock.Transcriber{ProviderName: "primary", Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{ProviderName: "secondary", Default: stt.Transcript{Text: "rescued"}}

	fb := NewTranscriberFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	tr, err := fb.Transcribe(context.Background(), speech, stt.Options{Language: "de"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Provider != "secondary" {
		t.Fatalf("Provider = %q, want secondary", tr.Provider)
	}
	if secondary.Calls[0].Opts.Language != "de" {
		t.Errorf("options not forwarded: %+v", secondary.Calls[0].Opts)
	}
}

func TestTranscriberFallback_AllFail(t *testing.T) {
	primary := &sttmock.Transcriber{ProviderName: "primary", Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{ProviderName: "secondary", Err: errors.New("secondary down")}

	fb := NewTranscriberFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	_, err := fb.Transcribe(context.Background(), speech, stt.Options{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTranscriberFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &sttmock.Transcriber{ProviderName: "primary", Err: errors.New("down")}
	secondary := &sttmock.Transcriber{ProviderName: "secondary"}

	fb := NewTranscriberFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	fb.AddFallback(secondary)

	for range 4 {
		if _, err := fb.Transcribe(context.Background(), speech, stt.Options{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if primary.CallCount() != 2 {
		t.Fatalf("primary called %d times, want 2 before the breaker opened", primary.CallCount())
	}
	if st := fb.Status()[0].State; st != StateOpen {
		t.Fatalf("primary breaker = %s, want open", st)
	}
}

func TestTranscriberFallback_EmptyAudioDoesNotFailOver(t *testing.T) {
	primary := &sttmock.Transcriber{ProviderName: "primary"}
	secondary := &sttmock.Transcriber{ProviderName: "secondary"}
	fb := NewTranscriberFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	if _, err := fb.Transcribe(context.Background(), nil, stt.Options{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if primary.CallCount()+secondary.CallCount() != 0 {
		t.Fatal("backends called for empty audio")
	}
}

func TestTranscriberFallback_CancelledContext(t *testing.T) {
	block := make(chan struct{})
	primary := &sttmock.Transcriber{ProviderName: "primary", Block: block}
	secondary := &sttmock.Transcriber{ProviderName: "secondary"}
	fb := NewTranscriberFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fb.Transcribe(ctx, speech, stt.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if secondary.CallCount() != 0 {
		t.Fatal("cancelled request failed over")
	}
}

func TestTranscriberFallback_NameAndClose(t *testing.T) {
	primary := &sttmock.Transcriber{ProviderName: "whisper-native"}
	secondary := &sttmock.Transcriber{ProviderName: "openai"}
	fb := NewTranscriberFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	if fb.Name() != "whisper-native>openai" {
		t.Errorf("Name() = %q", fb.Name())
	}
	if err := fb.Close(); err != nil {
		t.Fatal(err)
	}
	if primary.CloseCallCount != 1 || secondary.CloseCallCount != 1 {
		t.Errorf("close counts = %d/%d, want 1/1", primary.CloseCallCount, secondary.CloseCallCount)
	}
}
