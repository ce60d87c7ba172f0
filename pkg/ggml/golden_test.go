package ggml_test

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"os"
	"testing"

	"github.com/MrWong99/speakline/pkg/ggml"
)

// referenceBlock is one 32-value block and its encoding under every scheme,
// as produced by ggml's quantize_row_q*_reference built with
// -ffp-contract=off. Values are float32 bit patterns.
type referenceBlock struct {
	Name   string   `json:"name"`
	Values []uint32 `json:"values"`
	Q4_0   string   `json:"q4_0"`
	Q4_1   string   `json:"q4_1"`
	Q5_0   string   `json:"q5_0"`
	Q5_1   string   `json:"q5_1"`
	Q8_0   string   `json:"q8_0"`
}

func (b referenceBlock) floats() []float32 {
	out := make([]float32, len(b.Values))
	for i, v := range b.Values {
		out[i] = math.Float32frombits(v)
	}
	return out
}

func (b referenceBlock) want(t *testing.T, typ ggml.Type) []byte {
	t.Helper()
	var s string
	switch typ {
	case ggml.TypeQ4_0:
		s = b.Q4_0
	case ggml.TypeQ4_1:
		s = b.Q4_1
	case ggml.TypeQ5_0:
		s = b.Q5_0
	case ggml.TypeQ5_1:
		s = b.Q5_1
	case ggml.TypeQ8_0:
		s = b.Q8_0
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("%s %s: bad hex: %v", b.Name, typ, err)
	}
	return out
}

func loadReferenceBlocks(t *testing.T) []referenceBlock {
	t.Helper()
	data, err := os.ReadFile("testdata/reference_blocks.json")
	if err != nil {
		t.Fatalf("read reference blocks: %v", err)
	}
	var blocks []referenceBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		t.Fatalf("decode reference blocks: %v", err)
	}
	if len(blocks) == 0 {
		t.Fatal("no reference blocks")
	}
	return blocks
}

var quantTypes = []ggml.Type{ggml.TypeQ4_0, ggml.TypeQ4_1, ggml.TypeQ5_0, ggml.TypeQ5_1, ggml.TypeQ8_0}

func TestQuantize_MatchesReferenceBlocks(t *testing.T) {
	blocks := loadReferenceBlocks(t)
	for _, typ := range quantTypes {
		t.Run(typ.String(), func(t *testing.T) {
			for _, b := range blocks {
				got, _ := quantize(t, typ, b.floats(), ggml.BlockSize)
				if want := b.want(t, typ); string(got) != string(want) {
					t.Errorf("%s:\n got  %x\n want %x", b.Name, got, want)
				}
			}
		})
	}
}

func TestQuantize_ReferenceRows(t *testing.T) {
	blocks := loadReferenceBlocks(t)
	const perRow = 7
	if len(blocks)%perRow != 0 {
		t.Fatalf("%d reference blocks do not split into rows of %d", len(blocks), perRow)
	}

	var src []float32
	for _, b := range blocks {
		src = append(src, b.floats()...)
	}
	for _, typ := range quantTypes {
		t.Run(typ.String(), func(t *testing.T) {
			var want []byte
			for _, b := range blocks {
				want = append(want, b.want(t, typ)...)
			}
			got, hist := quantize(t, typ, src, perRow*ggml.BlockSize)
			if string(got) != string(want) {
				t.Fatalf("row-wise output differs from the per-block reference")
			}
			if total := histTotal(hist); total != int64(len(src)) {
				t.Errorf("histogram counts %d values, want %d", total, len(src))
			}
		})
	}
}

// A block's dequantized values stay within one quantization step of the
// input. This pins the decoder against the reference encodings.
func TestDequantize_ReferenceBlocks(t *testing.T) {
	blocks := loadReferenceBlocks(t)
	for _, typ := range quantTypes {
		for _, b := range blocks {
			src := b.want(t, typ)
			out := make([]float32, ggml.BlockSize)
			if err := ggml.Dequantize(typ, src, out); err != nil {
				t.Fatalf("%s %s: Dequantize: %v", typ, b.Name, err)
			}
			d := math.Abs(float64(ggml.FP16ToFP32(uint16(src[0]) | uint16(src[1])<<8)))
			for j, x := range b.floats() {
				// One step, with slack for the fp16 rounding of d and m.
				tol := 1.25*d + 1e-3*math.Abs(float64(x)) + 1e-6
				if diff := math.Abs(float64(out[j]) - float64(x)); diff > tol {
					t.Errorf("%s %s[%d]: decoded %g from %g, off by %g > %g", typ, b.Name, j, out[j], x, diff, tol)
					break
				}
			}
		}
	}
}
