package pipeline

import (
	"time"

	"github.com/MrWong99/speakline/internal/transcript"
)

// EventType names a pipeline event on the wire.
type EventType string

const (
	// EventSpeechStart marks the first voice frame of a candidate segment.
	EventSpeechStart EventType = "speech_start"

	// EventSpeechEnd marks an approved segment that was queued for
	// transcription.
	EventSpeechEnd EventType = "speech_end"

	// EventSpeechDiscarded marks a candidate segment that closed before it was
	// approved.
	EventSpeechDiscarded EventType = "speech_discarded"

	// EventTranscript carries a finished transcript.
	EventTranscript EventType = "transcript"

	// EventError reports a failed or dropped segment, or a fatal stream error
	// when SegmentID is empty.
	EventError EventType = "error"
)

// Event is one message of a stream's event feed. It is serialised as JSON by
// the websocket ingest and the listen command.
type Event struct {
	Type      EventType `json:"type"`
	StreamID  string    `json:"stream_id,omitempty"`
	SegmentID string    `json:"segment_id,omitempty"`

	// Offset is the stream position in milliseconds.
	Offset int64 `json:"offset_ms"`

	// Duration is the segment length in milliseconds.
	Duration int64 `json:"duration_ms,omitempty"`

	Transcript *transcript.Record `json:"transcript,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Millis converts d to whole milliseconds.
func Millis(d time.Duration) int64 { return d.Milliseconds() }
