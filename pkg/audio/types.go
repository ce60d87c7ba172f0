// Package audio converts captured audio into the frames the voice activity
// detector consumes: 16 kHz mono float32 samples in [-1, 1].
//
// A [Converter] chains three steps per delivered payload:
//
//   - a [Decoder] turns wire bytes (float32 LE, int16 LE, or Opus packets via
//     the audio/opus package) into interleaved float32 samples,
//   - the channels are averaged down to mono,
//   - a [Resampler] converts the capture rate to [TargetSampleRate].
//
// A [Framer] then cuts the resulting stream into fixed-length frames so the
// detector sees a steady cadence regardless of how the transport chunked it.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// TargetSampleRate is the sample rate the detector and transcribers expect.
const TargetSampleRate = 16000

// Encoding names the sample encoding of an ingest stream.
type Encoding string

const (
	// EncodingF32 is interleaved 32-bit IEEE float little-endian samples.
	EncodingF32 Encoding = "f32"

	// EncodingPCM16 is interleaved 16-bit signed little-endian samples.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingOpus is one Opus packet per payload.
	EncodingOpus Encoding = "opus"
)

// ParseEncoding parses an encoding name. The empty string selects EncodingF32.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingF32:
		return EncodingF32, nil
	case EncodingPCM16, EncodingOpus:
		return Encoding(s), nil
	}
	return "", fmt.Errorf("audio: unknown encoding %q", s)
}

// Format describes the sample rate, channel count and encoding of a capture
// stream.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// Validate reports whether f describes a stream this package can convert.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate))
	}
	if f.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio: channels must be positive, got %d", f.Channels))
	}
	if _, err := ParseEncoding(string(f.Encoding)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// String returns a human-readable description, e.g. "48000Hz stereo pcm16".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s %s", f.SampleRate, ch, f.Encoding)
}

// Frame is a run of 16 kHz mono samples flowing through the pipeline.
type Frame struct {
	// Samples are normalised to [-1, 1].
	Samples []float32

	// Timestamp marks the first sample relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return time.Duration(len(f.Samples)) * time.Second / TargetSampleRate
}
