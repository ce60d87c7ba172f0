// Package ingest exposes live transcription over a websocket.
//
// A client opens GET /v1/listen, streams binary audio messages in the format
// named by the query string and receives the stream's pipeline events as
// JSON text messages:
//
//	GET /v1/listen?encoding=pcm16&rate=48000&channels=2
//
//	→ binary  audio payload (f32 LE, pcm16 LE, or one Opus packet)
//	→ text    {"type":"end"} finishes the input; pending segments are still
//	          transcribed before the server closes the connection
//	← text    {"type":"ready","stream_id":"..."}
//	← text    {"type":"speech_start", ...}, {"type":"transcript", ...}
//
// Finished transcripts can be listed with GET /v1/transcripts.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/speakline/internal/observe"
	"github.com/MrWong99/speakline/internal/pipeline"
	"github.com/MrWong99/speakline/internal/transcript"
	"github.com/MrWong99/speakline/pkg/audio"
	"github.com/MrWong99/speakline/pkg/audio/opus"
)

const (
	// readLimit caps one websocket message. A second of 48 kHz stereo f32 is
	// 384 KiB.
	readLimit = 1 << 20

	// frameBuffer is the number of frames queued between the socket reader
	// and the pipeline.
	frameBuffer = 64

	// writeTimeout bounds a single event write.
	writeTimeout = 10 * time.Second

	eventReady pipeline.EventType = "ready"
)

// PipelineFunc creates the pipeline for a new stream.
type PipelineFunc func(streamID string) (*pipeline.Pipeline, error)

// Config configures a [Server].
type Config struct {
	// NewPipeline builds the pipeline of each accepted stream. Required.
	NewPipeline PipelineFunc

	// Defaults is the capture format used for query parameters the client
	// omits.
	Defaults audio.Format

	// FrameDuration is the frame length fed to the pipeline. Default:
	// [audio.DefaultFrameDuration].
	FrameDuration time.Duration

	// MaxStreams caps concurrent streams. Zero means unlimited.
	MaxStreams int

	// Transcripts serves GET /v1/transcripts. Optional.
	Transcripts transcript.Reader

	// OriginPatterns are passed to the websocket handshake. Empty allows
	// same-origin clients only.
	OriginPatterns []string

	// Metrics records stream gauges. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Server handles websocket ingest streams. It is safe for concurrent use.
type Server struct {
	cfg   Config
	slots chan struct{}

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]StreamInfo
}

// StreamInfo describes a live stream.
type StreamInfo struct {
	ID        string       `json:"id"`
	Remote    string       `json:"remote"`
	Format    audio.Format `json:"format"`
	StartedAt time.Time    `json:"started_at"`
}

// New returns a Server for cfg.
func New(cfg Config) (*Server, error) {
	if cfg.NewPipeline == nil {
		return nil, errors.New("ingest: pipeline factory is required")
	}
	if cfg.Defaults.SampleRate == 0 {
		cfg.Defaults.SampleRate = audio.TargetSampleRate
	}
	if cfg.Defaults.Channels == 0 {
		cfg.Defaults.Channels = 1
	}
	if cfg.Defaults.Encoding == "" {
		cfg.Defaults.Encoding = audio.EncodingF32
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = audio.DefaultFrameDuration
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg, active: make(map[string]StreamInfo)}
	if cfg.MaxStreams > 0 {
		s.slots = make(chan struct{}, cfg.MaxStreams)
	}
	s.root, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Register mounts the ingest routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/listen", s.Listen)
	mux.HandleFunc("GET /v1/transcripts", s.Transcripts)
	mux.HandleFunc("GET /v1/streams", s.Streams)
}

// Active returns the live streams.
func (s *Server) Active() []StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamInfo, 0, len(s.active))
	for _, info := range s.active {
		out = append(out, info)
	}
	return out
}

// Shutdown cancels every live stream and waits for their handlers to return
// or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen upgrades the request to a websocket and runs one stream.
func (s *Server) Listen(w http.ResponseWriter, r *http.Request) {
	format, err := s.parseFormat(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conv, err := newConverter(format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		default:
			http.Error(w, "ingest: too many streams", http.StatusServiceUnavailable)
			return
		}
	}
	if s.root.Err() != nil {
		http.Error(w, "ingest: shutting down", http.StatusServiceUnavailable)
		return
	}

	info := StreamInfo{
		ID:        uuid.NewString(),
		Remote:    r.RemoteAddr,
		Format:    format,
		StartedAt: time.Now().UTC(),
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		slog.Warn("ingest: websocket accept", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	// The pipeline owns a VAD session that only Run releases, so it is built
	// once the stream is certain to run.
	p, err := s.cfg.NewPipeline(info.ID)
	if err != nil {
		slog.Error("ingest: create pipeline", "stream", info.ID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "pipeline unavailable")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.track(info)
	defer s.untrack(info.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.root, cancel)
	defer stop()

	s.serve(ctx, cancel, conn, p, conv, info)
}

func (s *Server) track(info StreamInfo) {
	s.mu.Lock()
	s.active[info.ID] = info
	s.mu.Unlock()
	s.cfg.Metrics.ActiveStreams.Add(context.Background(), 1)
	slog.Info("stream opened", "stream", info.ID, "remote", info.Remote, "format", info.Format.String())
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
	s.cfg.Metrics.ActiveStreams.Add(context.Background(), -1)
	slog.Info("stream closed", "stream", id)
}

// serve pumps audio from conn into p and events from p back to conn.
func (s *Server) serve(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, p *pipeline.Pipeline, conv *audio.Converter, info StreamInfo) {
	frames := make(chan []float32, frameBuffer)
	events := p.Run(ctx, frames)

	written := make(chan error, 1)
	go func() {
		written <- writeEvents(ctx, conn, info.ID, events)
	}()

	readErr := readAudio(ctx, conn, conv, audio.NewFramer(s.cfg.FrameDuration), frames)
	close(frames)
	if readErr != nil {
		// The client is gone or misbehaved; nothing left to deliver to.
		cancel()
	}

	writeErr := <-written
	switch {
	case readErr != nil:
		if st := websocket.CloseStatus(readErr); st != websocket.StatusNormalClosure && st != websocket.StatusGoingAway && !errors.Is(readErr, context.Canceled) {
			slog.Warn("ingest: read", "stream", info.ID, "err", readErr)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	case writeErr != nil:
		slog.Warn("ingest: write", "stream", info.ID, "err", writeErr)
		_ = conn.Close(websocket.StatusInternalError, "event delivery failed")
	default:
		_ = conn.Close(websocket.StatusNormalClosure, "stream complete")
	}
}

// controlMessage is a text message sent by the client.
type controlMessage struct {
	Type string `json:"type"`
}

// readAudio reads messages until the client ends the input. It returns nil
// after an "end" message and the read error otherwise.
func readAudio(ctx context.Context, conn *websocket.Conn, conv *audio.Converter, framer *audio.Framer, frames chan<- []float32) error {
	push := func(fs []audio.Frame) error {
		for _, f := range fs {
			select {
			case frames <- f.Samples:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			samples, err := conv.Convert(data)
			if err != nil {
				return fmt.Errorf("ingest: decode audio: %w", err)
			}
			if err := push(framer.Push(samples)); err != nil {
				return err
			}
		case websocket.MessageText:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("ingest: control message: %w", err)
			}
			if msg.Type != "end" {
				return fmt.Errorf("ingest: unknown control message %q", msg.Type)
			}
			if last, ok := framer.Flush(); ok {
				return push([]audio.Frame{last})
			}
			return nil
		}
	}
}

// writeEvents announces the stream and forwards events until the pipeline
// closes the channel.
func writeEvents(ctx context.Context, conn *websocket.Conn, streamID string, events <-chan pipeline.Event) error {
	write := func(ev pipeline.Event) error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, ev)
	}

	var err error
	if err = write(pipeline.Event{Type: eventReady, StreamID: streamID}); err != nil {
		audio.Drain(events)
		return err
	}
	for ev := range events {
		if err = write(ev); err != nil {
			audio.Drain(events)
			return err
		}
	}
	return nil
}

// parseFormat overlays the encoding, rate and channels query parameters on
// the configured defaults.
func (s *Server) parseFormat(r *http.Request) (audio.Format, error) {
	f := s.cfg.Defaults
	q := r.URL.Query()
	if v := q.Get("encoding"); v != "" {
		enc, err := audio.ParseEncoding(v)
		if err != nil {
			return audio.Format{}, err
		}
		f.Encoding = enc
	}
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return audio.Format{}, fmt.Errorf("ingest: rate: %w", err)
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return audio.Format{}, fmt.Errorf("ingest: channels: %w", err)
		}
		f.Channels = n
	}
	return f, f.Validate()
}

// newConverter builds the decoding chain for format.
func newConverter(format audio.Format) (*audio.Converter, error) {
	var dec audio.Decoder
	if format.Encoding == audio.EncodingOpus {
		od, err := opus.NewDecoder(format.SampleRate, format.Channels)
		if err != nil {
			return nil, err
		}
		dec = od
	}
	return audio.NewConverter(format, dec)
}
