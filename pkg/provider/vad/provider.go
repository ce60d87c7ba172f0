// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session owns its noise statistics,
// counters and segment buffer, so multiple concurrent audio streams can be
// processed independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection result
// and, when a speech segment has just been approved and closed, the segment
// itself. This makes it suitable for the low-latency pipeline stage that gates
// transcription input.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// SampleRate is the only sample rate sessions accept: 16 kHz mono float32.
const SampleRate = 16000

// Config holds the parameters for a VAD session. Counts are in frames, not
// individual samples; a frame is whatever the caller passes to one
// ProcessFrame call. Zero values select the engine's defaults.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must be 16000 when set.
	SampleRate int

	// Patience is the number of consecutive non-voice frames after which an
	// in-progress segment is closed.
	Patience int

	// MinimumSamples is the number of consecutive voice frames a segment needs
	// before it is approved for emission. Zero approves every segment; nil
	// keeps the engine default.
	MinimumSamples *int

	// Beta is the exponential smoothing coefficient for noise statistics.
	// Range: [0, 1). Higher values average over more frames; zero tracks the
	// last frame only. Nil keeps the engine default.
	Beta *float64

	// ThresholdCoefficient is k in the "deviation" threshold mode
	// (mean + k·MAD). Ignored by the default "tail" mode. Nil keeps the
	// engine default.
	ThresholdCoefficient *float64

	// AdjustSamples is the number of leading frames used purely for noise
	// calibration.
	AdjustSamples int

	// ThresholdMode selects how the voice threshold is derived from the noise
	// statistics: "tail" (default) or "deviation".
	ThresholdMode string
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of 16 kHz mono samples and returns the
	// detection result. Frames may have any length, including zero. When the
	// event closes an approved segment, Event.Segment carries it.
	//
	// This method is called synchronously in the audio pipeline loop; it must
	// not block.
	ProcessFrame(frame []float32) (Event, error)

	// Reset aborts any in-progress segment without emitting it and restores all
	// counters and noise statistics to their initial state.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns an error. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
