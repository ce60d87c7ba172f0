package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts a mono float32 stream from one sample rate to another.
// It keeps filter state between calls, so a stream must use one Resampler for
// its whole lifetime. Not safe for concurrent use.
type Resampler struct {
	srcRate int
	dstRate int
	r       resampling.Resampler
	buf     []float64
}

// NewResampler creates a Resampler from srcRate to dstRate. When the rates are
// equal, Process returns its input unchanged.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", srcRate, dstRate)
	}
	rs := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate == dstRate {
		return rs, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	rs.r = r
	return rs, nil
}

// Passthrough reports whether the resampler leaves samples untouched.
func (rs *Resampler) Passthrough() bool { return rs.r == nil }

// Process resamples one chunk of mono samples. The output length follows the
// rate ratio on average; individual chunks may be shorter while the filter
// fills.
func (rs *Resampler) Process(samples []float32) ([]float32, error) {
	if rs.r == nil || len(samples) == 0 {
		return samples, nil
	}
	rs.buf = rs.buf[:0]
	for _, s := range samples {
		rs.buf = append(rs.buf, float64(s))
	}
	out, err := rs.r.Process(rs.buf)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d -> %d: %w", rs.srcRate, rs.dstRate, err)
	}
	res := make([]float32, len(out))
	for i, v := range out {
		res[i] = float32(v)
	}
	return res, nil
}
