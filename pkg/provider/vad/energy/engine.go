package energy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/speakline/pkg/provider/vad"
)

// Compile-time assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Threshold modes accepted in vad.Config.ThresholdMode.
const (
	ModeTail      = "tail"
	ModeDeviation = "deviation"
)

// Engine creates energy detector sessions. The zero value is ready to use.
type Engine struct{}

// NewEngine returns an Engine.
func NewEngine() *Engine { return &Engine{} }

// ParamsFromConfig overlays the set fields of cfg on DefaultParams. Counts
// that must be positive are set when non-zero; the rest when non-nil.
func ParamsFromConfig(cfg vad.Config) (Params, error) {
	if cfg.SampleRate != 0 && cfg.SampleRate != vad.SampleRate {
		return Params{}, fmt.Errorf("energy: sample rate must be %d, got %d", vad.SampleRate, cfg.SampleRate)
	}
	p := DefaultParams()
	if cfg.Patience != 0 {
		p.Patience = cfg.Patience
	}
	if cfg.MinimumSamples != nil {
		p.MinimumSamples = *cfg.MinimumSamples
	}
	if cfg.Beta != nil {
		p.Beta = *cfg.Beta
	}
	if cfg.ThresholdCoefficient != nil {
		p.ThresholdCoefficient = *cfg.ThresholdCoefficient
	}
	if cfg.AdjustSamples != 0 {
		p.AdjustSamples = cfg.AdjustSamples
	}
	switch strings.ToLower(cfg.ThresholdMode) {
	case "", ModeTail:
		p.Threshold = TailThreshold
	case ModeDeviation:
		p.Threshold = DeviationThreshold
	default:
		return Params{}, fmt.Errorf("energy: unknown threshold mode %q", cfg.ThresholdMode)
	}
	return p, p.Validate()
}

// NewSession creates a session backed by a fresh Detector.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	p, err := ParamsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	d, err := New(p)
	if err != nil {
		return nil, err
	}
	return &session{det: d}, nil
}

// session adapts a Detector to vad.SessionHandle. The mutex only guards
// against Close racing ProcessFrame; frames are still expected from one
// goroutine.
type session struct {
	mu     sync.Mutex
	det    *Detector
	closed bool
}

func (s *session) ProcessFrame(frame []float32) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, vad.ErrSessionClosed
	}

	before := s.det.State()
	threshold := s.det.Threshold()
	seg, ok := s.det.FeedSamples(frame)
	after := s.det.State()

	ev := vad.Event{Energy: s.det.LastEnergy(), Threshold: threshold}
	switch {
	case ok:
		ev.Type = vad.EventSpeechEnd
		ev.Segment = &seg
	case before == StateCalibrating:
		ev.Type = vad.EventCalibrating
		ev.Threshold = 0
	case before == StateVoiceInProgress && after != StateVoiceInProgress:
		ev.Type = vad.EventSpeechDiscarded
	case after == StateVoiceInProgress && before != StateVoiceInProgress:
		ev.Type = vad.EventSpeechStart
	case after == StateVoiceInProgress:
		ev.Type = vad.EventSpeechContinue
	default:
		ev.Type = vad.EventSilence
	}
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.det.Reset()
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
