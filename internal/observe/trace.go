package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every speakline span.
const tracerName = "github.com/MrWong99/speakline"

// Span names.
const (
	SpanQuantize   = "model.quantize"
	SpanTranscribe = "pipeline.transcribe"
)

// Span attribute keys shared by the quantizer and the pipeline.
const (
	KeyModelPath        = attribute.Key("model.path")
	KeyModelScheme      = attribute.Key("model.scheme")
	KeyTensorsQuantized = attribute.Key("model.tensors.quantized")
	KeyTensorsCopied    = attribute.Key("model.tensors.copied")
	KeyBytesOut         = attribute.Key("model.bytes.out")

	KeyStreamID       = attribute.Key("stream.id")
	KeySegmentID      = attribute.Key("segment.id")
	KeySTTProvider    = attribute.Key("stt.provider")
	KeySegmentSeconds = attribute.Key("segment.seconds")
	KeyCorrections    = attribute.Key("hotword.corrections")
)

// Tracer returns the speakline tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartQuantizeSpan starts the span covering one model transcode.
func StartQuantizeSpan(ctx context.Context, modelPath, scheme string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanQuantize, trace.WithAttributes(
		KeyModelPath.String(modelPath),
		KeyModelScheme.String(scheme),
	))
}

// SegmentSpan describes the segment a transcription span covers.
type SegmentSpan struct {
	StreamID  string
	SegmentID string
	Provider  string
	Seconds   float64
}

// StartTranscribeSpan starts the span covering one segment transcription.
func StartTranscribeSpan(ctx context.Context, s SegmentSpan) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanTranscribe, trace.WithAttributes(
		KeyStreamID.String(s.StreamID),
		KeySegmentID.String(s.SegmentID),
		KeySTTProvider.String(s.Provider),
		KeySegmentSeconds.Float64(s.Seconds),
	))
}

// Fail records err on span and marks it failed. A nil err is a no-op.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// [Middleware] returns it in the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id of the span in
// ctx. Without a span it is [slog.Default] unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
