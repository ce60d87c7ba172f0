package ggml_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/speakline/pkg/ggml"
)

// fp16One is 1.0 in little-endian IEEE half precision.
var fp16One = []byte{0x00, 0x3c}

func ramp(n int, f func(j int) float32) []float32 {
	out := make([]float32, n)
	for j := range out {
		out[j] = f(j)
	}
	return out
}

func quantize(t *testing.T, typ ggml.Type, src []float32, k int) ([]byte, []int64) {
	t.Helper()
	dst := make([]byte, typ.RowSize(len(src)))
	hist := make([]int64, ggml.HistogramBins)
	n, err := ggml.Quantize(typ, src, dst, len(src), k, hist)
	if err != nil {
		t.Fatalf("Quantize(%s): %v", typ, err)
	}
	if n != len(dst) {
		t.Fatalf("Quantize(%s) returned %d bytes, want %d", typ, n, len(dst))
	}
	return dst, hist
}

func histTotal(hist []int64) int64 {
	var total int64
	for _, h := range hist {
		total += h
	}
	return total
}

func TestQuantizeQ4_0_UnitScale(t *testing.T) {
	// -8 is the first largest magnitude so d = -8 / -8 = 1.
	src := ramp(32, func(j int) float32 { return float32(j%16 - 8) })
	got, hist := quantize(t, ggml.TypeQ4_0, src, 32)

	want := append([]byte{}, fp16One...)
	for j := range 16 {
		want = append(want, byte(j*17))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("block = % x\nwant    % x", got, want)
	}
	for v, h := range hist {
		if h != 2 {
			t.Errorf("hist[%d] = %d, want 2", v, h)
		}
	}
}

func TestQuantizeQ4_0_ZeroBlock(t *testing.T) {
	got, hist := quantize(t, ggml.TypeQ4_0, make([]float32, 32), 32)
	// 0 / -8 is negative zero.
	if got[0] != 0x00 || got[1] != 0x80 {
		t.Errorf("scale = % x, want 00 80", got[:2])
	}
	for j, q := range got[2:] {
		if q != 0x88 {
			t.Fatalf("qs[%d] = %#x, want 0x88", j, q)
		}
	}
	if hist[8] != 32 {
		t.Errorf("hist[8] = %d, want 32", hist[8])
	}
}

func TestQuantizeQ4_1_UnitScale(t *testing.T) {
	src := ramp(32, func(j int) float32 { return float32(j % 16) })
	got, _ := quantize(t, ggml.TypeQ4_1, src, 32)

	want := append([]byte{}, fp16One...)
	want = append(want, 0x00, 0x00) // m = 0
	for j := range 16 {
		want = append(want, byte(j*17))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("block = % x\nwant    % x", got, want)
	}
}

func TestQuantizeQ5_0_UnitScale(t *testing.T) {
	src := ramp(32, func(j int) float32 { return float32(j - 16) })
	got, hist := quantize(t, ggml.TypeQ5_0, src, 32)

	want := append([]byte{}, fp16One...)
	want = append(want, 0x00, 0x00, 0xff, 0xff) // high bit set for the upper half
	for j := range 16 {
		want = append(want, byte(j*17))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("block = % x\nwant    % x", got, want)
	}
	if total := histTotal(hist); total != 32 {
		t.Errorf("hist total = %d, want 32", total)
	}
}

func TestQuantizeQ5_0_ZeroBlock(t *testing.T) {
	got, _ := quantize(t, ggml.TypeQ5_0, make([]float32, 32), 32)
	// Every value lands on 16: low nibble 0, high bit set.
	if !bytes.Equal(got[2:6], []byte{0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("qh = % x, want ff ff ff ff", got[2:6])
	}
	for j, q := range got[6:] {
		if q != 0 {
			t.Fatalf("qs[%d] = %#x, want 0", j, q)
		}
	}
}

func TestQuantizeQ5_1_UnitScale(t *testing.T) {
	src := ramp(32, func(j int) float32 { return float32(j) })
	got, _ := quantize(t, ggml.TypeQ5_1, src, 32)

	want := append([]byte{}, fp16One...)
	want = append(want, 0x00, 0x00)             // m = 0
	want = append(want, 0x00, 0x00, 0xff, 0xff) // qh
	for j := range 16 {
		want = append(want, byte(j*17))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("block = % x\nwant    % x", got, want)
	}
}

func TestQuantizeQ8_0_UnitScale(t *testing.T) {
	src := ramp(32, func(j int) float32 { return float32(j*8 - 127) })
	got, hist := quantize(t, ggml.TypeQ8_0, src, 32)

	if !bytes.Equal(got[:2], fp16One) {
		t.Fatalf("scale = % x, want % x", got[:2], fp16One)
	}
	for j, q := range got[2:] {
		if int8(q) != int8(j*8-127) {
			t.Errorf("qs[%d] = %d, want %d", j, int8(q), j*8-127)
		}
	}
	if total := histTotal(hist); total != 32 {
		t.Errorf("hist total = %d, want 32", total)
	}
	// -127/16 + 8 = 1 in C integer division.
	if hist[1] == 0 {
		t.Error("hist[1] is empty, want the -127 sample counted")
	}
}

func TestQuantize_MultipleRows(t *testing.T) {
	src := ramp(128, func(j int) float32 { return float32(j%32) - 16 })
	for _, typ := range []ggml.Type{ggml.TypeQ4_0, ggml.TypeQ4_1, ggml.TypeQ5_0, ggml.TypeQ5_1, ggml.TypeQ8_0} {
		t.Run(typ.String(), func(t *testing.T) {
			got, hist := quantize(t, typ, src, 64)
			if len(got) != 4*typ.TypeSize() {
				t.Fatalf("len = %d, want %d", len(got), 4*typ.TypeSize())
			}
			// Every 32-value block is identical, so every block encodes identically.
			first := got[:typ.TypeSize()]
			for b := 1; b < 4; b++ {
				blk := got[b*typ.TypeSize() : (b+1)*typ.TypeSize()]
				if !bytes.Equal(blk, first) {
					t.Errorf("block %d differs from block 0", b)
				}
			}
			if total := histTotal(hist); total != 128 {
				t.Errorf("hist total = %d, want 128", total)
			}
		})
	}
}

func TestQuantize_Deterministic(t *testing.T) {
	src := ramp(256, func(j int) float32 { return float32(j*j%97)/13 - 3.7 })
	for _, typ := range []ggml.Type{ggml.TypeQ4_0, ggml.TypeQ4_1, ggml.TypeQ5_0, ggml.TypeQ5_1, ggml.TypeQ8_0} {
		a, ha := quantize(t, typ, src, 128)
		b, hb := quantize(t, typ, src, 128)
		if !bytes.Equal(a, b) {
			t.Errorf("%s: output differs between runs", typ)
		}
		for i := range ha {
			if ha[i] != hb[i] {
				t.Errorf("%s: hist[%d] differs between runs", typ, i)
			}
		}
	}
}

func TestQuantize_NilHistogram(t *testing.T) {
	src := ramp(32, func(j int) float32 { return float32(j) })
	dst := make([]byte, ggml.TypeQ8_0.RowSize(32))
	if _, err := ggml.Quantize(ggml.TypeQ8_0, src, dst, 32, 32, nil); err != nil {
		t.Fatalf("Quantize: %v", err)
	}
}

func TestQuantize_RejectsBadShapes(t *testing.T) {
	src := make([]float32, 64)
	dst := make([]byte, 1024)
	tests := []struct {
		name string
		typ  ggml.Type
		n, k int
		hist []int64
	}{
		{name: "row not block aligned", typ: ggml.TypeQ8_0, n: 48, k: 48},
		{name: "n not multiple of k", typ: ggml.TypeQ8_0, n: 48, k: 32},
		{name: "source too short", typ: ggml.TypeQ8_0, n: 96, k: 32},
		{name: "short histogram", typ: ggml.TypeQ4_0, n: 32, k: 32, hist: make([]int64, 4)},
		{name: "no quantizer", typ: ggml.TypeF16, n: 32, k: 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ggml.Quantize(tt.typ, src, dst, tt.n, tt.k, tt.hist); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestDequantize_InvertsUnitScaleBlocks(t *testing.T) {
	tests := []struct {
		typ ggml.Type
		src []float32
	}{
		{ggml.TypeQ4_0, ramp(32, func(j int) float32 { return float32(j%16 - 8) })},
		{ggml.TypeQ4_1, ramp(32, func(j int) float32 { return float32(j % 16) })},
		{ggml.TypeQ5_0, ramp(32, func(j int) float32 { return float32(j - 16) })},
		{ggml.TypeQ5_1, ramp(32, func(j int) float32 { return float32(j) })},
		{ggml.TypeQ8_0, ramp(32, func(j int) float32 { return float32(j*8 - 127) })},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			q, _ := quantize(t, tt.typ, tt.src, 32)
			out := make([]float32, 32)
			if err := ggml.Dequantize(tt.typ, q, out); err != nil {
				t.Fatalf("Dequantize: %v", err)
			}
			for j := range out {
				if out[j] != tt.src[j] {
					t.Fatalf("value %d = %v, want %v", j, out[j], tt.src[j])
				}
			}
		})
	}
}

func TestFP16_RoundsToNearestEven(t *testing.T) {
	tests := []struct {
		in   float32
		want uint16
	}{
		{1, 0x3c00},
		{-2, 0xc000},
		{65504, 0x7bff},
		{1 + 1.0/2048, 0x3c00}, // tie, rounds to even mantissa
		{1 + 3.0/2048, 0x3c02}, // tie, rounds up to even mantissa
	}
	for _, tt := range tests {
		if got := ggml.FP32ToFP16(tt.in); got != tt.want {
			t.Errorf("FP32ToFP16(%v) = %#04x, want %#04x", tt.in, got, tt.want)
		}
	}
	if got := ggml.FP16ToFP32(0x3c00); got != 1 {
		t.Errorf("FP16ToFP32(0x3c00) = %v, want 1", got)
	}
}
