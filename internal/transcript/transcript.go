// Package transcript post-processes transcriber output and stores it.
//
// Raw speech-to-text output is rarely right for domain vocabulary: product
// names, people and project code names are frequently misheard. The
// [Corrector] rewrites transcript n-grams that sound like a configured
// hotword, using a [PhoneticMatcher] that runs in-process with no network
// calls.
//
// Finished transcripts are handed to a [Sink] as a [Record]. [MemoryStore]
// keeps the most recent records for the HTTP API; the postgres subpackage
// persists them.
package transcript

import (
	"context"
	"time"
)

// Correction captures a single substitution made by the [Corrector].
type Correction struct {
	// Original is the text as produced by the transcriber.
	Original string `json:"original"`

	// Corrected is the hotword that replaced it.
	Corrected string `json:"corrected"`

	// Confidence is the matcher's similarity score (0.0–1.0).
	Confidence float64 `json:"confidence"`
}

// PhoneticMatcher resolves a word or phrase to a known hotword based on
// pronunciation similarity.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match attempts to find the hotword from entities that is most
	// phonetically similar to word.
	//
	// When matched is false, corrected must equal word unchanged and
	// confidence must be 0.
	Match(word string, entities []string) (corrected string, confidence float64, matched bool)
}

// Record is a finished, corrected transcript of one speech segment.
type Record struct {
	// ID is the segment ID.
	ID string `json:"id"`

	// StreamID identifies the ingest stream the segment came from.
	StreamID string `json:"stream_id"`

	// Text is the corrected transcript.
	Text string `json:"text"`

	// RawText is the transcriber output before correction.
	RawText string `json:"raw_text,omitempty"`

	Language   string  `json:"language,omitempty"`
	Provider   string  `json:"provider"`
	Confidence float64 `json:"confidence,omitempty"`

	// Offset is where the segment starts relative to the stream start.
	Offset time.Duration `json:"offset"`

	// Duration is the audio length of the segment.
	Duration time.Duration `json:"duration"`

	// CreatedAt is the wall-clock time the record was produced.
	CreatedAt time.Time `json:"created_at"`

	Corrections []Correction `json:"corrections,omitempty"`
}

// Query filters [Reader.List] results. Zero fields do not filter.
type Query struct {
	// StreamID restricts results to one stream.
	StreamID string

	// Text restricts results to records containing the given words.
	Text string

	// Since drops records created before it.
	Since time.Time

	// Limit caps the number of results, keeping the newest.
	Limit int
}

// Sink receives finished transcripts. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Write stores rec.
	Write(ctx context.Context, rec Record) error
}

// Reader lists stored transcripts oldest first.
type Reader interface {
	List(ctx context.Context, q Query) ([]Record, error)
}
