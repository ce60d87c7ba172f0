// Package mock provides a test double for the stt.Transcriber interface.
//
// Script the responses with Results (consumed in order) or Default, and
// inspect which segments were submitted via Calls.
//
// Example:
//
//	tr := &mock.Transcriber{Results: []stt.Transcript{{Text: "hello"}}}
//	got, _ := tr.Transcribe(ctx, samples, stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakline/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the samples passed to Transcribe.
	Samples []float32
	// Opts is the Options value passed to Transcribe.
	Opts stt.Options
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Results are returned one per call, in order. Once exhausted, Default is
	// returned.
	Results []stt.Transcript

	// Default is returned after Results runs out.
	Default stt.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Block, if non-nil, makes Transcribe wait until it is closed or the
	// context is cancelled.
	Block chan struct{}

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns the next scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Transcript, error) {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	m.Calls = append(m.Calls, TranscribeCall{Samples: cp, Opts: opts})
	if m.Err != nil {
		return stt.Transcript{}, m.Err
	}
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	res := m.Default
	if len(m.Results) > 0 {
		res = m.Results[0]
		m.Results = m.Results[1:]
	}
	if res.Provider == "" {
		res.Provider = m.name()
	}
	return res, nil
}

// Name returns ProviderName or "mock".
func (m *Transcriber) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name()
}

func (m *Transcriber) name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Close records the call.
func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var (
	_ stt.Transcriber = (*Transcriber)(nil)
	_ stt.Closer      = (*Transcriber)(nil)
)
