package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/speakline/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple STT backends. Each backend has its own circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertions.
var (
	_ stt.Transcriber = (*TranscriberFallback)(nil)
	_ stt.Closer      = (*TranscriberFallback)(nil)
)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend. The breaker for each entry is named after its
// transcriber.
func NewTranscriberFallback(primary stt.Transcriber, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(t stt.Transcriber) {
	f.group.AddFallback(t.Name(), t)
}

// Name joins the names of all entries, e.g. "whisper-native>openai".
func (f *TranscriberFallback) Name() string {
	names := make([]string, 0, f.group.Len())
	for _, s := range f.group.Status() {
		names = append(names, s.Name)
	}
	return strings.Join(names, ">")
}

// Status reports the breaker state of every backend.
func (f *TranscriberFallback) Status() []EntryStatus { return f.group.Status() }

// Transcribe sends samples to the first healthy backend. Empty audio and
// context cancellation are returned without failover.
func (f *TranscriberFallback) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (stt.Transcript, error) {
		tr, err := t.Transcribe(ctx, samples, opts)
		if errors.Is(err, stt.ErrEmptyAudio) {
			return tr, Permanent(err)
		}
		return tr, err
	})
}

// Close closes every backend that implements [stt.Closer].
func (f *TranscriberFallback) Close() error {
	var errs []error
	for i := range f.group.entries {
		if c, ok := f.group.entries[i].value.(stt.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
