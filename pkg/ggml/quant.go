package ggml

import (
	"encoding/binary"
	"fmt"
	"math"
)

// HistogramBins is the number of buckets a quantization histogram holds.
const HistogramBins = 16

// QuantizeFunc quantizes n float32 values from src into dst, treating src as
// consecutive rows of k values. k must be a multiple of BlockSize and n a
// multiple of k. dst must hold at least n/BlockSize blocks. When hist is
// non-nil it must have HistogramBins entries and receives one count per
// quantized value. The return value is the number of bytes written.
//
// The signature matches ggml_quantize_q*(src, dst, n, k, hist).
type QuantizeFunc func(src []float32, dst []byte, n, k int, hist []int64) int

var quantizers = map[Type]QuantizeFunc{
	TypeQ4_0: QuantizeQ4_0,
	TypeQ4_1: QuantizeQ4_1,
	TypeQ5_0: QuantizeQ5_0,
	TypeQ5_1: QuantizeQ5_1,
	TypeQ8_0: QuantizeQ8_0,
}

// Quantizer returns the reference quantizer for t, or nil when t has none.
func Quantizer(t Type) QuantizeFunc { return quantizers[t] }

// Quantize validates the shape arguments and runs the reference quantizer
// for t. It is the checked counterpart of calling Quantizer(t) directly.
func Quantize(t Type, src []float32, dst []byte, n, k int, hist []int64) (int, error) {
	q := Quantizer(t)
	if q == nil {
		return 0, fmt.Errorf("ggml: no quantizer for %s", t)
	}
	switch {
	case k <= 0 || k%BlockSize != 0:
		return 0, fmt.Errorf("ggml: row length %d is not a multiple of %d", k, BlockSize)
	case n < 0 || n%k != 0:
		return 0, fmt.Errorf("ggml: element count %d is not a multiple of row length %d", n, k)
	case len(src) < n:
		return 0, fmt.Errorf("ggml: source holds %d values, need %d", len(src), n)
	case len(dst) < t.RowSize(n):
		return 0, fmt.Errorf("ggml: destination holds %d bytes, need %d", len(dst), t.RowSize(n))
	case hist != nil && len(hist) < HistogramBins:
		return 0, fmt.Errorf("ggml: histogram needs %d bins, got %d", HistogramBins, len(hist))
	}
	return q(src, dst, n, k, hist), nil
}

// absMax returns the largest magnitude in x together with the signed value
// that has it. Ties keep the first occurrence.
func absMax(x []float32) (amax, signed float32) {
	for _, v := range x {
		a := float32(math.Abs(float64(v)))
		if amax < a {
			amax = a
			signed = v
		}
	}
	return amax, signed
}

func minMax(x []float32) (lo, hi float32) {
	lo, hi = math.MaxFloat32, -math.MaxFloat32
	for _, v := range x {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func inverse(d float32) float32 {
	if d == 0 {
		return 0
	}
	return 1 / d
}

// ---- Q4_0 -------------------------------------------------------------------

func quantizeBlockQ4_0(x []float32, y []byte) {
	_, vmax := absMax(x)
	d := vmax / -8
	id := inverse(d)
	putFP16(y, d)
	qs := y[2:]
	for j := range BlockSize / 2 {
		xi0 := uint8(min(15, int8(float32(x[j]*id)+8.5)))
		xi1 := uint8(min(15, int8(float32(x[j+BlockSize/2]*id)+8.5)))
		qs[j] = xi0 | xi1<<4
	}
}

// QuantizeQ4_0 is the reference Q4_0 quantizer.
func QuantizeQ4_0(src []float32, dst []byte, n, k int, hist []int64) int {
	const size = 2 + BlockSize/2
	nb := k / BlockSize
	for b := 0; b < n; b += k {
		row := dst[b/BlockSize*size:]
		for i := range nb {
			y := row[i*size : (i+1)*size]
			quantizeBlockQ4_0(src[b+i*BlockSize:b+(i+1)*BlockSize], y)
			nibbleHist(hist, y[2:])
		}
	}
	return n / BlockSize * size
}

// ---- Q4_1 -------------------------------------------------------------------

func quantizeBlockQ4_1(x []float32, y []byte) {
	lo, hi := minMax(x)
	d := (hi - lo) / 15
	id := inverse(d)
	putFP16(y, d)
	putFP16(y[2:], lo)
	qs := y[4:]
	for j := range BlockSize / 2 {
		xi0 := uint8(min(15, int8(float32((x[j]-lo)*id)+0.5)))
		xi1 := uint8(min(15, int8(float32((x[j+BlockSize/2]-lo)*id)+0.5)))
		qs[j] = xi0 | xi1<<4
	}
}

// QuantizeQ4_1 is the reference Q4_1 quantizer.
func QuantizeQ4_1(src []float32, dst []byte, n, k int, hist []int64) int {
	const size = 2 + 2 + BlockSize/2
	nb := k / BlockSize
	for b := 0; b < n; b += k {
		row := dst[b/BlockSize*size:]
		for i := range nb {
			y := row[i*size : (i+1)*size]
			quantizeBlockQ4_1(src[b+i*BlockSize:b+(i+1)*BlockSize], y)
			nibbleHist(hist, y[4:])
		}
	}
	return n / BlockSize * size
}

func nibbleHist(hist []int64, qs []byte) {
	if hist == nil {
		return
	}
	for _, q := range qs[:BlockSize/2] {
		hist[q&0x0f]++
		hist[q>>4]++
	}
}

// ---- Q5_0 -------------------------------------------------------------------

func quantizeBlockQ5_0(x []float32, y []byte) {
	_, vmax := absMax(x)
	d := vmax / -16
	id := inverse(d)
	putFP16(y, d)
	qs := y[6:]
	var qh uint32
	for j := range BlockSize / 2 {
		xi0 := uint8(min(31, int8(float32(x[j]*id)+16.5)))
		xi1 := uint8(min(31, int8(float32(x[j+BlockSize/2]*id)+16.5)))
		qs[j] = xi0&0x0f | (xi1&0x0f)<<4
		qh |= uint32(xi0&0x10) >> 4 << j
		qh |= uint32(xi1&0x10) >> 4 << (j + BlockSize/2)
	}
	binary.LittleEndian.PutUint32(y[2:], qh)
}

// QuantizeQ5_0 is the reference Q5_0 quantizer.
func QuantizeQ5_0(src []float32, dst []byte, n, k int, hist []int64) int {
	const size = 2 + 4 + BlockSize/2
	nb := k / BlockSize
	for b := 0; b < n; b += k {
		row := dst[b/BlockSize*size:]
		for i := range nb {
			y := row[i*size : (i+1)*size]
			quantizeBlockQ5_0(src[b+i*BlockSize:b+(i+1)*BlockSize], y)
			fiveBitHist(hist, binary.LittleEndian.Uint32(y[2:]), y[6:])
		}
	}
	return n / BlockSize * size
}

// ---- Q5_1 -------------------------------------------------------------------

func quantizeBlockQ5_1(x []float32, y []byte) {
	lo, hi := minMax(x)
	d := (hi - lo) / 31
	id := inverse(d)
	putFP16(y, d)
	putFP16(y[2:], lo)
	qs := y[8:]
	var qh uint32
	for j := range BlockSize / 2 {
		xi0 := uint8(float32((x[j]-lo)*id) + 0.5)
		xi1 := uint8(float32((x[j+BlockSize/2]-lo)*id) + 0.5)
		qs[j] = xi0&0x0f | (xi1&0x0f)<<4
		qh |= uint32(xi0&0x10) >> 4 << j
		qh |= uint32(xi1&0x10) >> 4 << (j + BlockSize/2)
	}
	binary.LittleEndian.PutUint32(y[4:], qh)
}

// QuantizeQ5_1 is the reference Q5_1 quantizer.
func QuantizeQ5_1(src []float32, dst []byte, n, k int, hist []int64) int {
	const size = 2 + 2 + 4 + BlockSize/2
	nb := k / BlockSize
	for b := 0; b < n; b += k {
		row := dst[b/BlockSize*size:]
		for i := range nb {
			y := row[i*size : (i+1)*size]
			quantizeBlockQ5_1(src[b+i*BlockSize:b+(i+1)*BlockSize], y)
			fiveBitHist(hist, binary.LittleEndian.Uint32(y[4:]), y[8:])
		}
	}
	return n / BlockSize * size
}

// fiveBitHist folds 5-bit values into 16 bins. The pairing of qh bits with
// nibbles is ggml's own: bit j goes with the low nibble of qs[j/2] and bit
// j+16 with its high nibble, for even j. Bits shifted past 31 read as zero.
func fiveBitHist(hist []int64, qh uint32, qs []byte) {
	if hist == nil {
		return
	}
	for j := 0; j < BlockSize; j += 2 {
		vh0 := uint8(qh&(1<<j)>>j) << 4
		vh1 := uint8(qh & (1 << (j + 16)) >> (j + 12))
		vi0 := (qs[j/2]&0x0f | vh0) / 2
		vi1 := (qs[j/2]>>4 | vh1) / 2
		hist[vi0]++
		hist[vi1]++
	}
}

// ---- Q8_0 -------------------------------------------------------------------

func quantizeBlockQ8_0(x []float32, y []byte) {
	amax, _ := absMax(x)
	d := amax / 127
	id := inverse(d)
	putFP16(y, d)
	qs := y[2:]
	for j := range BlockSize {
		x0 := float32(x[j] * id)
		qs[j] = byte(int8(math.Round(float64(x0))))
	}
}

// QuantizeQ8_0 is the reference Q8_0 quantizer.
func QuantizeQ8_0(src []float32, dst []byte, n, k int, hist []int64) int {
	const size = 2 + BlockSize
	nb := k / BlockSize
	for b := 0; b < n; b += k {
		row := dst[b/BlockSize*size:]
		for i := range nb {
			y := row[i*size : (i+1)*size]
			quantizeBlockQ8_0(src[b+i*BlockSize:b+(i+1)*BlockSize], y)
			if hist != nil {
				for _, q := range y[2:] {
					hist[int(int8(q))/16+8]++
				}
			}
		}
	}
	return n / BlockSize * size
}
