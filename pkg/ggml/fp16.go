package ggml

import (
	"encoding/binary"

	"github.com/x448/float16"
)

// FP32ToFP16 converts v to IEEE 754 half precision with round-to-nearest-even,
// the same rounding ggml applies via F16C or its software fallback.
func FP32ToFP16(v float32) uint16 {
	return uint16(float16.Fromfloat32(v))
}

// FP16ToFP32 widens a half precision value. The conversion is exact.
func FP16ToFP32(h uint16) float32 {
	return float16.Frombits(h).Float32()
}

// putFP16 stores v as little-endian half precision at b[0:2].
func putFP16(b []byte, v float32) {
	binary.LittleEndian.PutUint16(b, FP32ToFP16(v))
}

// DecodeF16 widens a little-endian F16 payload into dst, which must hold
// len(src)/2 values.
func DecodeF16(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = FP16ToFP32(binary.LittleEndian.Uint16(src[2*i:]))
	}
}
