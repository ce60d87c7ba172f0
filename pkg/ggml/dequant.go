package ggml

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dequantize expands len(dst) values of type t from src. len(dst) must be a
// multiple of t's block size and src must hold t.RowSize(len(dst)) bytes.
// F32 and F16 payloads are accepted as well.
func Dequantize(t Type, src []byte, dst []float32) error {
	if !t.Valid() {
		return fmt.Errorf("ggml: cannot dequantize %s", t)
	}
	n := len(dst)
	if n%t.BlockSize() != 0 {
		return fmt.Errorf("ggml: %d values do not fill whole %s blocks", n, t)
	}
	if len(src) < t.RowSize(n) {
		return fmt.Errorf("ggml: %s payload holds %d bytes, need %d", t, len(src), t.RowSize(n))
	}

	switch t {
	case TypeF32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
		}
		return nil
	case TypeF16:
		DecodeF16(dst, src)
		return nil
	}

	size := t.TypeSize()
	for i := 0; i < n/BlockSize; i++ {
		blk := src[i*size : (i+1)*size]
		out := dst[i*BlockSize : (i+1)*BlockSize]
		d := FP16ToFP32(binary.LittleEndian.Uint16(blk))
		switch t {
		case TypeQ4_0:
			for j, q := range blk[2 : 2+BlockSize/2] {
				out[j] = float32(int(q&0x0f)-8) * d
				out[j+BlockSize/2] = float32(int(q>>4)-8) * d
			}
		case TypeQ4_1:
			m := FP16ToFP32(binary.LittleEndian.Uint16(blk[2:]))
			for j, q := range blk[4 : 4+BlockSize/2] {
				out[j] = float32(q&0x0f)*d + m
				out[j+BlockSize/2] = float32(q>>4)*d + m
			}
		case TypeQ5_0:
			qh := binary.LittleEndian.Uint32(blk[2:])
			for j, q := range blk[6 : 6+BlockSize/2] {
				hi0 := uint8(qh>>j&1) << 4
				hi1 := uint8(qh>>(j+BlockSize/2)&1) << 4
				out[j] = float32(int(q&0x0f|hi0)-16) * d
				out[j+BlockSize/2] = float32(int(q>>4|hi1)-16) * d
			}
		case TypeQ5_1:
			m := FP16ToFP32(binary.LittleEndian.Uint16(blk[2:]))
			qh := binary.LittleEndian.Uint32(blk[4:])
			for j, q := range blk[8 : 8+BlockSize/2] {
				hi0 := uint8(qh>>j&1) << 4
				hi1 := uint8(qh>>(j+BlockSize/2)&1) << 4
				out[j] = float32(q&0x0f|hi0)*d + m
				out[j+BlockSize/2] = float32(q>>4|hi1)*d + m
			}
		case TypeQ8_0:
			for j, q := range blk[2 : 2+BlockSize] {
				out[j] = float32(int8(q)) * d
			}
		}
	}
	return nil
}
