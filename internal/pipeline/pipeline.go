// Package pipeline turns one live audio stream into transcripts.
//
// A [Pipeline] runs two stages connected by a bounded segment queue:
//
//	frames → VAD session → segment queue → transcriber → corrector → sink
//
// The detection stage never waits for transcription. When the queue is full
// the newest segment is dropped and reported as an [EventError], so a slow
// backend costs transcripts, not audio.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakline/internal/observe"
	"github.com/MrWong99/speakline/internal/transcript"
	"github.com/MrWong99/speakline/pkg/provider/stt"
	"github.com/MrWong99/speakline/pkg/provider/vad"
)

// DefaultQueueSize is the number of approved segments that may wait for
// transcription before new ones are dropped.
const DefaultQueueSize = 8

// eventBuffer is the capacity of the channel returned by Run.
const eventBuffer = 32

// ErrBacklogFull is reported when a segment is dropped because the
// transcription queue is full.
var ErrBacklogFull = errors.New("pipeline: transcription backlog full")

// Config assembles the collaborators of a [Pipeline].
type Config struct {
	// StreamID is stamped on every event and record.
	StreamID string

	// Engine creates the VAD session. Required.
	Engine vad.Engine

	// VAD tunes the session.
	VAD vad.Config

	// Transcriber turns approved segments into text. When nil, segments are
	// detected and announced but not transcribed.
	Transcriber stt.Transcriber

	// Options are passed to every Transcribe call.
	Options stt.Options

	// Corrector rewrites transcripts towards the hotword list. Optional.
	Corrector *transcript.Corrector

	// Sink receives every non-empty transcript. Optional.
	Sink transcript.Sink

	// Metrics records pipeline instruments. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// QueueSize bounds the segment queue. Default: [DefaultQueueSize].
	QueueSize int

	// FlushFrames is the number of silent frames of FlushFrameSize samples fed
	// after the input ends, so a segment still in progress can close on its
	// own patience instead of being discarded.
	FlushFrames    int
	FlushFrameSize int
}

// Pipeline processes a single stream. Create one per stream with [New] and
// start it with [Pipeline.Run]; a Pipeline cannot be run twice.
type Pipeline struct {
	cfg     Config
	sess    vad.SessionHandle
	started atomic.Bool

	// samples counts the 16 kHz samples fed to the session so far. Owned by
	// the detection stage.
	samples int64
}

// New validates cfg and opens the VAD session.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, errors.New("pipeline: vad engine is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	sess, err := cfg.Engine.NewSession(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open vad session: %w", err)
	}
	return &Pipeline{cfg: cfg, sess: sess}, nil
}

// Run consumes 16 kHz mono frames until frames is closed or ctx is done and
// delivers events on the returned channel. The channel is closed after every
// queued segment has been transcribed, or immediately on cancellation. The
// VAD session is closed when Run finishes.
func (p *Pipeline) Run(ctx context.Context, frames <-chan []float32) <-chan Event {
	out := make(chan Event, eventBuffer)
	if !p.started.CompareAndSwap(false, true) {
		out <- p.errorEvent("", errors.New("pipeline: already started"))
		close(out)
		return out
	}

	go func() {
		defer close(out)
		defer p.sess.Close()

		queue := make(chan vad.Segment, p.cfg.QueueSize)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer close(queue)
			return p.detect(gctx, frames, queue, out)
		})
		g.Go(func() error {
			return p.transcribe(gctx, queue, out)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("pipeline stopped", "stream", p.cfg.StreamID, "err", err)
			select {
			case out <- p.errorEvent("", err):
			default:
			}
		}
	}()
	return out
}

// detect feeds frames to the VAD session and queues approved segments.
func (p *Pipeline) detect(ctx context.Context, frames <-chan []float32, queue chan<- vad.Segment, out chan<- Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return p.flush(ctx, queue, out)
			}
			if err := p.process(ctx, frame, queue, out); err != nil {
				return err
			}
		}
	}
}

// flush feeds the configured silent tail.
func (p *Pipeline) flush(ctx context.Context, queue chan<- vad.Segment, out chan<- Event) error {
	if p.cfg.FlushFrames <= 0 || p.cfg.FlushFrameSize <= 0 {
		return nil
	}
	silence := make([]float32, p.cfg.FlushFrameSize)
	for range p.cfg.FlushFrames {
		if err := p.process(ctx, silence, queue, out); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, frame []float32, queue chan<- vad.Segment, out chan<- Event) error {
	offset := vad.SamplesDuration(int(p.samples))
	ev, err := p.sess.ProcessFrame(frame)
	if err != nil {
		return fmt.Errorf("pipeline: vad: %w", err)
	}
	p.samples += int64(len(frame))
	p.cfg.Metrics.VADFrames.Add(ctx, 1)

	switch ev.Type {
	case vad.EventSpeechStart:
		return p.emit(ctx, out, Event{Type: EventSpeechStart, StreamID: p.cfg.StreamID, Offset: Millis(offset)})

	case vad.EventSpeechDiscarded:
		p.cfg.Metrics.RecordSegment(ctx, observe.OutcomeDiscarded, 0)
		return p.emit(ctx, out, Event{Type: EventSpeechDiscarded, StreamID: p.cfg.StreamID, Offset: Millis(offset)})

	case vad.EventSpeechEnd:
		if ev.Segment == nil {
			return nil
		}
		seg := *ev.Segment
		p.cfg.Metrics.RecordSegment(ctx, observe.OutcomeApproved, seg.Duration().Seconds())
		if err := p.emit(ctx, out, Event{
			Type:      EventSpeechEnd,
			StreamID:  p.cfg.StreamID,
			SegmentID: seg.ID,
			Offset:    Millis(seg.Start),
			Duration:  Millis(seg.Duration()),
		}); err != nil {
			return err
		}
		if p.cfg.Transcriber == nil {
			return nil
		}
		select {
		case queue <- seg:
		default:
			slog.Warn("dropping segment, transcription backlog full",
				"stream", p.cfg.StreamID,
				"segment", seg.ID,
				"queue", p.cfg.QueueSize,
			)
			return p.emit(ctx, out, p.errorEvent(seg.ID, ErrBacklogFull))
		}
	}
	return nil
}

// transcribe drains queue until it is closed.
func (p *Pipeline) transcribe(ctx context.Context, queue <-chan vad.Segment, out chan<- Event) error {
	for seg := range queue {
		if err := p.transcribeSegment(ctx, seg, out); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) transcribeSegment(ctx context.Context, seg vad.Segment, out chan<- Event) error {
	tr := p.cfg.Transcriber
	ctx, span := observe.StartTranscribeSpan(ctx, observe.SegmentSpan{
		StreamID:  p.cfg.StreamID,
		SegmentID: seg.ID,
		Provider:  tr.Name(),
		Seconds:   seg.Duration().Seconds(),
	})
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	result, err := tr.Transcribe(ctx, seg.Samples, p.cfg.Options)
	p.cfg.Metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", tr.Name())))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		observe.Fail(span, err)
		p.cfg.Metrics.RecordProviderRequest(ctx, tr.Name(), "stt", "error")
		p.cfg.Metrics.RecordProviderError(ctx, tr.Name(), "stt")
		log.Warn("transcription failed", "stream", p.cfg.StreamID, "segment", seg.ID, "err", err)
		return p.emit(ctx, out, p.errorEvent(seg.ID, err))
	}
	p.cfg.Metrics.RecordProviderRequest(ctx, tr.Name(), "stt", "ok")

	result.SegmentID = seg.ID
	result.Timestamp = seg.Start
	result.Duration = seg.Duration()
	if result.IsEmpty() {
		log.Debug("empty transcript", "stream", p.cfg.StreamID, "segment", seg.ID)
		return nil
	}

	rec := p.record(result)
	if p.cfg.Corrector != nil {
		if text, corrections := p.cfg.Corrector.Correct(rec.Text); len(corrections) > 0 {
			rec.Text = text
			rec.Corrections = corrections
			p.cfg.Metrics.HotwordCorrections.Add(ctx, int64(len(corrections)))
			span.SetAttributes(observe.KeyCorrections.Int(len(corrections)))
		}
	}

	if p.cfg.Sink != nil {
		if err := p.cfg.Sink.Write(ctx, rec); err != nil {
			log.Warn("transcript sink failed", "sink", p.cfg.Sink.Name(), "segment", seg.ID, "err", err)
			if err := p.emit(ctx, out, p.errorEvent(seg.ID, err)); err != nil {
				return err
			}
		} else {
			p.cfg.Metrics.RecordTranscript(ctx, p.cfg.Sink.Name())
		}
	}

	return p.emit(ctx, out, Event{
		Type:       EventTranscript,
		StreamID:   p.cfg.StreamID,
		SegmentID:  seg.ID,
		Offset:     Millis(seg.Start),
		Duration:   Millis(seg.Duration()),
		Transcript: &rec,
	})
}

func (p *Pipeline) record(t stt.Transcript) transcript.Record {
	return transcript.Record{
		ID:         t.SegmentID,
		StreamID:   p.cfg.StreamID,
		Text:       t.Text,
		RawText:    t.Text,
		Language:   t.Language,
		Provider:   t.Provider,
		Confidence: t.Confidence,
		Offset:     t.Timestamp,
		Duration:   t.Duration,
		CreatedAt:  time.Now().UTC(),
	}
}

func (p *Pipeline) emit(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) errorEvent(segmentID string, err error) Event {
	return Event{Type: EventError, StreamID: p.cfg.StreamID, SegmentID: segmentID, Error: err.Error()}
}
