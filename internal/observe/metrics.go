// Package observe provides application-wide observability primitives for
// Speakline: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Speakline metrics.
const meterName = "github.com/MrWong99/speakline"

// Segment outcomes recorded by [Metrics.RecordSegment].
const (
	OutcomeApproved  = "approved"
	OutcomeDiscarded = "discarded"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks transcription latency. Use with attribute:
	//   attribute.String("provider", ...)
	STTDuration metric.Float64Histogram

	// TranscodeDuration tracks how long a model quantization took.
	TranscodeDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of emitted speech segments.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// VADFrames counts frames fed to voice activity detection.
	VADFrames metric.Int64Counter

	// Segments counts finished candidate segments. Use with attribute:
	//   attribute.String("outcome", "approved"|"discarded")
	Segments metric.Int64Counter

	// Transcripts counts transcripts delivered to sinks. Use with attribute:
	//   attribute.String("sink", ...)
	Transcripts metric.Int64Counter

	// HotwordCorrections counts words replaced by the hotword corrector.
	HotwordCorrections metric.Int64Counter

	// TranscodeTensors counts processed tensors. Use with attribute:
	//   attribute.String("action", "quantized"|"copied")
	TranscodeTensors metric.Int64Counter

	// TranscodeBytes counts bytes moved by the transcoder. Use with attribute:
	//   attribute.String("direction", "in"|"out")
	TranscodeBytes metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of live ingest streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets covers utterance lengths from a short word to a long
// monologue, in seconds.
var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("speakline.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscodeDuration, err = m.Float64Histogram("speakline.transcode.duration",
		metric.WithDescription("Wall time of model quantization runs."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("speakline.segment.duration",
		metric.WithDescription("Audio length of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.VADFrames, err = m.Int64Counter("speakline.vad.frames",
		metric.WithDescription("Total frames fed to voice activity detection."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("speakline.vad.segments",
		metric.WithDescription("Total candidate segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("speakline.transcripts",
		metric.WithDescription("Total transcripts delivered by sink."),
	); err != nil {
		return nil, err
	}
	if met.HotwordCorrections, err = m.Int64Counter("speakline.hotword.corrections",
		metric.WithDescription("Total transcript words replaced by a hotword."),
	); err != nil {
		return nil, err
	}
	if met.TranscodeTensors, err = m.Int64Counter("speakline.transcode.tensors",
		metric.WithDescription("Total tensors processed by action."),
	); err != nil {
		return nil, err
	}
	if met.TranscodeBytes, err = m.Int64Counter("speakline.transcode.bytes",
		metric.WithDescription("Total bytes read and written by the transcoder."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("speakline.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("speakline.provider.breaker_transitions",
		metric.WithDescription("Total circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("speakline.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("speakline.active_streams",
		metric.WithDescription("Number of live ingest streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts a circuit breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

// RecordSegment counts a finished candidate segment. seconds is recorded to
// [Metrics.SegmentDuration] for approved segments only.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string, seconds float64) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == OutcomeApproved {
		m.SegmentDuration.Record(ctx, seconds)
	}
}

// RecordTranscript counts a transcript delivered to sink.
func (m *Metrics) RecordTranscript(ctx context.Context, sink string) {
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordTensor counts one transcoded tensor and its byte traffic.
func (m *Metrics) RecordTensor(ctx context.Context, action string, inBytes, outBytes int64) {
	m.TranscodeTensors.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	m.TranscodeBytes.Add(ctx, inBytes, metric.WithAttributes(attribute.String("direction", "in")))
	m.TranscodeBytes.Add(ctx, outBytes, metric.WithAttributes(attribute.String("direction", "out")))
}
