package vad

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session is closed")

// Event represents a voice activity detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Energy is the mean squared sample value of the frame.
	Energy float64

	// Threshold is the voice threshold the frame was compared against. Zero
	// while calibrating.
	Threshold float64

	// Segment is set only on EventSpeechEnd for an approved segment.
	Segment *Segment
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// EventCalibrating indicates the frame was consumed as background noise.
	EventCalibrating EventType = iota

	// EventSilence indicates no speech detected.
	EventSilence

	// EventSpeechStart indicates speech has just begun.
	EventSpeechStart

	// EventSpeechContinue indicates ongoing speech, including the trailing
	// quiet frames that patience tolerates.
	EventSpeechContinue

	// EventSpeechEnd indicates an approved segment was closed and emitted.
	EventSpeechEnd

	// EventSpeechDiscarded indicates a segment closed without reaching the
	// minimum number of voice frames.
	EventSpeechDiscarded
)

// String returns the snake_case name used in logs and wire events.
func (t EventType) String() string {
	switch t {
	case EventCalibrating:
		return "calibrating"
	case EventSilence:
		return "silence"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechContinue:
		return "speech_continue"
	case EventSpeechEnd:
		return "speech_end"
	case EventSpeechDiscarded:
		return "speech_discarded"
	default:
		return "unknown"
	}
}

// Segment is an approved run of speech.
type Segment struct {
	// ID uniquely identifies the segment.
	ID string

	// Samples holds 16 kHz mono audio: every frame fed while voice was in
	// progress, in order. The slice is owned by the receiver.
	Samples []float32

	// Start is the stream offset of the first sample, counted from session
	// creation.
	Start time.Duration
}

// NewSegment copies samples into a new Segment with a fresh ID.
func NewSegment(samples []float32, start time.Duration) Segment {
	cp := make([]float32, len(samples))
	copy(cp, samples)
	return Segment{ID: uuid.NewString(), Samples: cp, Start: start}
}

// Duration returns the audio length of the segment.
func (s Segment) Duration() time.Duration {
	return SamplesDuration(len(s.Samples))
}

// SamplesDuration converts a sample count at SampleRate to a duration.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
