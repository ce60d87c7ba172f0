// Package energy implements an adaptive, energy-based voice activity
// segmenter.
//
// A [Detector] spends its first frames learning the background noise level
// (exponentially smoothed mean frame energy and its mean absolute deviation).
// After that every frame whose energy exceeds the derived threshold counts as
// voice. A segment opens on the first voice frame, is approved once enough
// consecutive voice frames were seen, and closes after a run of quiet frames
// exhausts the patience budget. Closing always resets the detector, so the
// noise level is relearned before the next segment.
package energy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/speakline/pkg/provider/vad"
)

// State is the coarse detector state.
type State int

const (
	// StateCalibrating means noise statistics are still being collected.
	StateCalibrating State = iota
	// StateListening means the detector is waiting for voice.
	StateListening
	// StateVoiceInProgress means a segment is being accumulated.
	StateVoiceInProgress
)

func (s State) String() string {
	switch s {
	case StateCalibrating:
		return "calibrating"
	case StateListening:
		return "listening"
	case StateVoiceInProgress:
		return "voice_in_progress"
	default:
		return "unknown"
	}
}

// NoiseStats are the smoothed background statistics.
type NoiseStats struct {
	// Mean is the smoothed mean frame energy.
	Mean float64
	// MAD is the smoothed mean absolute deviation of frame energy.
	MAD float64
	// Frames is the number of frames folded into the statistics.
	Frames int
}

// Params configure a Detector. Counts are in frames.
type Params struct {
	// Patience is the number of consecutive quiet frames that close a segment.
	Patience int
	// MinimumSamples is the number of consecutive voice frames that approve a
	// segment. A segment is approved on the frame that pushes the count past
	// this value.
	MinimumSamples int
	// Beta is the smoothing coefficient, in [0, 1).
	Beta float64
	// ThresholdCoefficient is k for [DeviationThreshold].
	ThresholdCoefficient float64
	// AdjustSamples is the length of the calibration window.
	AdjustSamples int
	// Threshold derives the voice threshold from the noise statistics.
	// Defaults to [TailThreshold].
	Threshold ThresholdFunc
}

// DefaultParams returns parameters tuned for frames of 20 to 100 ms.
func DefaultParams() Params {
	return Params{
		Patience:             10,
		MinimumSamples:       3,
		Beta:                 0.9,
		ThresholdCoefficient: 3,
		AdjustSamples:        10,
		Threshold:            TailThreshold,
	}
}

// Validate reports every out-of-range parameter.
func (p Params) Validate() error {
	var errs []error
	if p.Patience < 1 {
		errs = append(errs, fmt.Errorf("energy: patience must be at least 1, got %d", p.Patience))
	}
	if p.MinimumSamples < 0 {
		errs = append(errs, fmt.Errorf("energy: minimum_samples must not be negative, got %d", p.MinimumSamples))
	}
	if p.Beta < 0 || p.Beta >= 1 || math.IsNaN(p.Beta) {
		errs = append(errs, fmt.Errorf("energy: beta must be in [0, 1), got %g", p.Beta))
	}
	if p.ThresholdCoefficient < 0 || math.IsNaN(p.ThresholdCoefficient) {
		errs = append(errs, fmt.Errorf("energy: threshold_coefficient must not be negative, got %g", p.ThresholdCoefficient))
	}
	if p.AdjustSamples < 1 {
		errs = append(errs, fmt.Errorf("energy: adjust_samples must be at least 1, got %d", p.AdjustSamples))
	}
	return errors.Join(errs...)
}

// ThresholdFunc maps noise statistics to a voice threshold.
type ThresholdFunc func(stats NoiseStats, coefficient float64) float64

// tailFactor is ln(100): an exponential background with unit mean exceeds it
// with 1% probability.
var tailFactor = 2 * math.Ln10

// TailThreshold models background energy as exponentially distributed and
// cuts at a fixed tail probability: 2·ln(10)·mean. The coefficient is unused.
func TailThreshold(stats NoiseStats, _ float64) float64 {
	return tailFactor * stats.Mean
}

// DeviationThreshold returns mean + k·MAD.
func DeviationThreshold(stats NoiseStats, k float64) float64 {
	return stats.Mean + k*stats.MAD
}

// Detector segments a 16 kHz mono stream. It is not safe for concurrent use;
// each stream gets its own Detector.
type Detector struct {
	params Params

	stats     NoiseStats
	threshold float64

	patience int
	detected int
	inVoice  bool
	approved bool

	// buf is reused between segments; emitted segments get a copy.
	buf []float32

	// position counts every sample fed since construction.
	position   int
	voiceStart int

	lastEnergy float64
}

// New returns a Detector. Invalid params are rejected.
func New(p Params) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Threshold == nil {
		p.Threshold = TailThreshold
	}
	d := &Detector{params: p}
	d.Reset()
	return d, nil
}

// Params returns the detector's parameters.
func (d *Detector) Params() Params { return d.params }

// State returns the current coarse state.
func (d *Detector) State() State {
	switch {
	case d.stats.Frames < d.params.AdjustSamples:
		return StateCalibrating
	case d.inVoice:
		return StateVoiceInProgress
	default:
		return StateListening
	}
}

// Threshold returns the current voice threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// NoiseStats returns the current background statistics.
func (d *Detector) NoiseStats() NoiseStats { return d.stats }

// LastEnergy returns the energy of the most recent frame.
func (d *Detector) LastEnergy() float64 { return d.lastEnergy }

// Position returns the number of samples fed since construction.
func (d *Detector) Position() int { return d.position }

// Adjust folds frame into the noise statistics as known background noise,
// whether or not the calibration window has elapsed.
func (d *Detector) Adjust(frame []float32) {
	d.calibrate(Energy(frame))
}

func (d *Detector) calibrate(e float64) {
	if d.stats.Frames == 0 {
		d.stats.Mean = e
		d.stats.MAD = 0
	} else {
		b := d.params.Beta
		d.stats.Mean = b*d.stats.Mean + (1-b)*e
		d.stats.MAD = b*d.stats.MAD + (1-b)*math.Abs(e-d.stats.Mean)
	}
	d.stats.Frames++
	d.threshold = d.params.Threshold(d.stats, d.params.ThresholdCoefficient)
}

// FeedSamples consumes one frame. When the frame closes an approved segment
// the segment is returned with ok set. Zero-length and non-finite frames are
// treated as silence.
func (d *Detector) FeedSamples(frame []float32) (seg vad.Segment, ok bool) {
	e := Energy(frame)
	d.lastEnergy = e
	start := d.position
	d.position += len(frame)

	if d.stats.Frames < d.params.AdjustSamples {
		d.calibrate(e)
		return vad.Segment{}, false
	}

	if e > d.threshold {
		d.patience = d.params.Patience
		if !d.inVoice {
			d.inVoice = true
			d.voiceStart = start
		}
		d.detected--
		if d.detected < 0 {
			d.approved = true
		}
	} else {
		d.patience = max(d.patience-1, 0)
		d.detected = d.params.MinimumSamples
	}

	if d.inVoice {
		d.buf = append(d.buf, frame...)
	}

	if d.patience <= 0 && d.inVoice {
		if d.approved {
			seg = vad.NewSegment(d.buf, vad.SamplesDuration(d.voiceStart))
			ok = true
		}
		d.Reset()
	}
	return seg, ok
}

// Approved reports whether the in-progress segment has met the minimum
// voice run.
func (d *Detector) Approved() bool { return d.approved }

// Buffered returns the duration of audio held for the in-progress segment.
func (d *Detector) Buffered() time.Duration { return vad.SamplesDuration(len(d.buf)) }

// Reset aborts any in-progress segment without emitting it and returns every
// counter and the noise statistics to their initial values. The sample
// position keeps counting.
func (d *Detector) Reset() {
	d.buf = d.buf[:0]
	d.inVoice = false
	d.approved = false
	d.patience = d.params.Patience
	d.detected = d.params.MinimumSamples
	d.stats = NoiseStats{}
	d.threshold = 0
}

// Energy returns the mean squared sample value of frame. Empty frames and
// non-finite results yield 0.
func Energy(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	e := sum / float64(len(frame))
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return 0
	}
	return e
}
