// Package app wires all Speakline subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithTranscriber, WithVADEngine, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/speakline/internal/config"
	"github.com/MrWong99/speakline/internal/health"
	"github.com/MrWong99/speakline/internal/ingest"
	"github.com/MrWong99/speakline/internal/observe"
	"github.com/MrWong99/speakline/internal/pipeline"
	"github.com/MrWong99/speakline/internal/resilience"
	"github.com/MrWong99/speakline/internal/transcript"
	"github.com/MrWong99/speakline/internal/transcript/phonetic"
	"github.com/MrWong99/speakline/internal/transcript/postgres"
	"github.com/MrWong99/speakline/pkg/audio"
	"github.com/MrWong99/speakline/pkg/provider/stt"
	"github.com/MrWong99/speakline/pkg/provider/vad"
	"github.com/MrWong99/speakline/pkg/provider/vad/energy"
)

// MemoryCapacity is the number of transcripts kept in memory for
// GET /v1/transcripts.
const MemoryCapacity = 1000

// readHeaderTimeout bounds the request header read of the HTTP server.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the Speakline HTTP API.
type App struct {
	cfg      *config.Config
	reg      *config.Registry
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	model       config.ModelConfig
	transcriber stt.Transcriber
	engine      vad.Engine
	memory      *transcript.MemoryStore
	postgres    *postgres.Store
	sink        transcript.Sink
	ingest      *ingest.Server
	health      *health.Handler
	handler     http.Handler

	// Hot-reloadable state read by NewPipeline.
	vadCfg    atomic.Pointer[vad.Config]
	corrector atomic.Pointer[transcript.Corrector]

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriber injects a transcriber instead of building one from the
// providers section. The App closes it on Shutdown if it implements
// [stt.Closer].
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithVADEngine injects a VAD engine instead of creating one from the
// registry.
func WithVADEngine(e vad.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithRegistry replaces the provider registry. The default registry holds
// the built-in providers.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithMetrics records instruments on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: model preparation,
// the transcriber chain, the VAD engine, hotword correction, transcript sinks,
// the websocket ingest server and the HTTP handler tree.
//
// On error every resource created so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterBuiltinProviders(a.reg)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Model ─────────────────────────────────────────────────────────
	model, err := PrepareModel(ctx, a.cfg.Model, a.metrics)
	if err != nil {
		return err
	}
	a.model = model

	// ── 2. Transcriber ───────────────────────────────────────────────────
	if a.transcriber == nil {
		t, err := BuildTranscriber(a.cfg, a.model, a.reg, a.metrics)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.transcriber = t
	}
	if a.transcriber != nil {
		t := a.transcriber
		a.closers = append(a.closers, func() error { return closeTranscriber(t) })
	} else {
		slog.Warn("no stt provider configured, streams are segmented but not transcribed")
	}

	// ── 3. VAD engine ────────────────────────────────────────────────────
	if a.engine == nil {
		e, err := a.reg.CreateVAD(a.cfg.VAD)
		if err != nil {
			return fmt.Errorf("app: create vad engine %q: %w", a.cfg.VAD.Engine, err)
		}
		a.engine = e
	}
	vcfg := a.cfg.VAD.SessionConfig()
	a.vadCfg.Store(&vcfg)

	// ── 4. Hotword corrector ─────────────────────────────────────────────
	a.corrector.Store(newCorrector(a.cfg.Hotwords))

	// ── 5. Transcript sinks ──────────────────────────────────────────────
	if err := a.initSinks(ctx); err != nil {
		return err
	}

	// ── 6. Ingest server ─────────────────────────────────────────────────
	enc, err := audio.ParseEncoding(a.cfg.Audio.Encoding)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.ingest, err = ingest.New(ingest.Config{
		NewPipeline: a.NewPipeline,
		Defaults: audio.Format{
			SampleRate: a.cfg.Audio.SampleRate,
			Channels:   a.cfg.Audio.Channels,
			Encoding:   enc,
		},
		FrameDuration: a.cfg.Audio.FrameDuration(),
		MaxStreams:    a.cfg.Server.MaxStreams,
		Transcripts:   a.memory,
		Metrics:       a.metrics,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	// ── 7. HTTP handlers ─────────────────────────────────────────────────
	a.health = health.New(a.healthCheckers()...)
	mux := http.NewServeMux()
	a.ingest.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)
	return nil
}

// initSinks creates the in-memory store and, when configured, the
// PostgreSQL store. Every transcript is written to both.
func (a *App) initSinks(ctx context.Context) error {
	a.memory = transcript.NewMemoryStore(MemoryCapacity)
	sinks := transcript.MultiSink{a.memory}

	if dsn := a.cfg.Transcripts.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return fmt.Errorf("app: init transcripts: %w", err)
		}
		a.postgres = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		sinks = append(sinks, store)
		slog.Info("transcript store connected", "sink", store.Name())
	}

	if len(sinks) == 1 {
		a.sink = a.memory
	} else {
		a.sink = sinks
	}
	return nil
}

func (a *App) healthCheckers() []health.Checker {
	var checks []health.Checker
	if a.postgres != nil {
		checks = append(checks, health.PingChecker("transcripts", a.postgres))
	}
	if a.model.Path != "" && usesLocalModel(a.cfg.Providers) {
		checks = append(checks, health.FileChecker("model", a.model.Path))
	}
	if fb, ok := a.transcriber.(*resilience.TranscriberFallback); ok {
		checks = append(checks, health.BackendsChecker("providers", func() []health.BackendState {
			status := fb.Status()
			states := make([]health.BackendState, len(status))
			for i, s := range status {
				states[i] = health.BackendState{Name: s.Name, Open: s.State == resilience.StateOpen}
			}
			return states
		}))
	}
	return checks
}

// usesLocalModel reports whether any configured transcriber loads the
// top-level model file.
func usesLocalModel(p config.ProvidersConfig) bool {
	entries := append([]config.ProviderEntry{p.STT}, p.STTFallbacks...)
	for _, e := range entries {
		if e.Name == "whisper-native" && e.Model == "" {
			return true
		}
	}
	return false
}

// newCorrector builds a corrector for the hotword section. Phonetic
// candidates must reach MinSimilarity; spellings that share no phonetic code
// need at least 0.95.
func newCorrector(h config.HotwordsConfig) *transcript.Corrector {
	m := phonetic.New(
		phonetic.WithPhoneticThreshold(h.MinSimilarity),
		phonetic.WithFuzzyThreshold(max(h.MinSimilarity, 0.95)),
	)
	return transcript.NewCorrector(m, h.Words)
}

// ─── Pipelines ───────────────────────────────────────────────────────────────

// NewPipeline builds the pipeline of one ingest stream from the current VAD
// tuning and hotword list. Streams already running keep the settings they
// started with.
func (a *App) NewPipeline(streamID string) (*pipeline.Pipeline, error) {
	vcfg := *a.vadCfg.Load()
	return pipeline.New(pipeline.Config{
		StreamID:    streamID,
		Engine:      a.engine,
		VAD:         vcfg,
		Transcriber: a.transcriber,
		Options:     stt.Options{Prompt: a.cfg.Transcripts.Prompt},
		Corrector:   a.corrector.Load(),
		Sink:        a.sink,
		Metrics:     a.metrics,
		// One frame past patience so a segment still open at end of input
		// closes normally.
		FlushFrames:    flushFrames(vcfg),
		FlushFrameSize: audio.NewFramer(a.cfg.Audio.FrameDuration()).FrameSize(),
	})
}

func flushFrames(cfg vad.Config) int {
	patience := cfg.Patience
	if patience <= 0 {
		patience = energy.DefaultParams().Patience
	}
	return patience + 1
}

// Handler returns the root HTTP handler: ingest routes, health probes and
// /metrics behind the observability middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Transcripts returns the in-memory transcript store.
func (a *App) Transcripts() *transcript.MemoryStore { return a.memory }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves the HTTP API until ctx is
// cancelled, then returns ctx.Err(). Call [App.Shutdown] afterwards to drain
// streams and release resources.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	a.mu.Lock()
	a.server = srv
	a.addr = ln.Addr()
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
		"stt", transcriberName(a.transcriber),
		"max_streams", a.cfg.Server.MaxStreams,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Addr returns the address Run is listening on, or nil before Run.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

func transcriberName(t stt.Transcriber) string {
	if t == nil {
		return "none"
	}
	return t.Name()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// log level, VAD tuning and hotwords. It is meant as the [config.Watcher]
// callback. Changes that need a restart are logged and ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	diff := config.Diff(old, new)
	if !diff.Changed() {
		return
	}

	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}

	if diff.VADChanged {
		vcfg := new.VAD.SessionConfig()
		// Probe the engine so a bad tuning is rejected here and not on the
		// next stream.
		sess, err := a.engine.NewSession(vcfg)
		if err != nil {
			slog.Warn("ignoring vad change", "err", err)
		} else {
			sess.Close()
			a.vadCfg.Store(&vcfg)
			slog.Info("vad tuning changed", "patience", vcfg.Patience, "mode", vcfg.ThresholdMode)
		}
	}

	if diff.HotwordsChanged {
		a.corrector.Store(newCorrector(new.Hotwords))
		slog.Info("hotwords changed", "words", len(new.Hotwords.Words), "min_similarity", new.Hotwords.MinSimilarity)
	}

	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the service as draining, ends all live streams, stops the
// HTTP server and then releases providers and stores. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "streams", len(a.ingest.Active()), "closers", len(a.closers))
		a.health.SetDraining(true)

		if err := a.ingest.Shutdown(ctx); err != nil {
			slog.Warn("ingest shutdown incomplete", "err", err)
			shutdownErr = err
		}

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown incomplete", "err", err)
				shutdownErr = err
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs every closer, used when New fails halfway.
func (a *App) close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
