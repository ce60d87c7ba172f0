package audio

import "time"

// DefaultFrameDuration is the frame length used when none is configured.
const DefaultFrameDuration = 20 * time.Millisecond

// Framer cuts a stream of 16 kHz samples into frames of a fixed length.
// Not safe for concurrent use.
type Framer struct {
	size    int
	pending []float32
	emitted int64
}

// NewFramer returns a Framer emitting frames of d (rounded down to whole
// samples, at least one). A non-positive d selects DefaultFrameDuration.
func NewFramer(d time.Duration) *Framer {
	if d <= 0 {
		d = DefaultFrameDuration
	}
	size := int(int64(d) * TargetSampleRate / int64(time.Second))
	if size < 1 {
		size = 1
	}
	return &Framer{size: size}
}

// FrameSize returns the number of samples per frame.
func (f *Framer) FrameSize() int { return f.size }

// Push appends samples and returns every complete frame. Frames own their
// sample slices.
func (f *Framer) Push(samples []float32) []Frame {
	f.pending = append(f.pending, samples...)
	var frames []Frame
	for len(f.pending) >= f.size {
		fr := make([]float32, f.size)
		copy(fr, f.pending[:f.size])
		frames = append(frames, Frame{Samples: fr, Timestamp: f.timestamp()})
		f.emitted += int64(f.size)
		f.pending = f.pending[f.size:]
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

// Flush returns the remaining samples as a short frame, or false when nothing
// is pending.
func (f *Framer) Flush() (Frame, bool) {
	if len(f.pending) == 0 {
		return Frame{}, false
	}
	fr := Frame{Samples: append([]float32(nil), f.pending...), Timestamp: f.timestamp()}
	f.emitted += int64(len(f.pending))
	f.pending = nil
	return fr, true
}

func (f *Framer) timestamp() time.Duration {
	return time.Duration(f.emitted) * time.Second / TargetSampleRate
}
