// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber turns one approved speech segment (16 kHz mono float32
// samples, as produced by a vad session) into text. Segmentation happens
// upstream, so backends are plain request/response calls: a local whisper.cpp
// model, a whisper-server over HTTP, or a hosted API.
//
// Implementations must be safe for concurrent use. Multiple segments from
// different streams may be transcribed simultaneously.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when Transcribe is called without samples.
var ErrEmptyAudio = errors.New("stt: no audio samples")

// Options carries per-call recognition hints.
type Options struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string selects the transcriber's configured default.
	Language string

	// Prompt is free text used to bias recognition towards expected
	// vocabulary. Backends that do not support prompting ignore it.
	Prompt string
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe recognises samples, which must be 16 kHz mono float32 in
	// [-1, 1]. Returns ErrEmptyAudio for an empty slice. The caller keeps
	// ownership of samples.
	Transcribe(ctx context.Context, samples []float32, opts Options) (Transcript, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Closer is implemented by transcribers that hold resources such as a loaded
// model.
type Closer interface {
	Close() error
}
