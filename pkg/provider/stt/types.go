package stt

import "time"

// Transcript represents a speech-to-text result for one segment.
type Transcript struct {
	// SegmentID is the ID of the vad.Segment that was transcribed. Set by the
	// caller; transcribers leave it empty.
	SegmentID string

	// Text is the transcribed speech content.
	Text string

	// Language is the detected or requested language, when known.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// backend does not report confidence.
	Confidence float64

	// Segments contains timed sub-segments when available (whisper.cpp).
	// May be nil for backends that only return text.
	Segments []TextSegment

	// Provider is the name of the backend that produced the transcript.
	Provider string

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// TextSegment is a timed piece of a transcript.
type TextSegment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// IsEmpty reports whether the transcript carries no recognised text.
func (t Transcript) IsEmpty() bool { return t.Text == "" }
