// Package ggml holds the ggml tensor type catalogue and the reference block
// quantizers used to shrink whisper model weights.
//
// The quantizers reproduce ggml's quantize_row_*_reference routines bit for
// bit: every block of 32 float32 values maps to exactly the bytes the C
// implementation produces, and histograms are accumulated identically. Output
// of this package can therefore be byte-compared against files quantized by
// upstream tooling.
package ggml

import (
	"fmt"
	"strings"
)

// Model file framing shared by all ggml whisper files.
const (
	// FileMagic is the little-endian magic at offset 0 ("ggml").
	FileMagic uint32 = 0x67676d6c

	// QntVersion is the quantization format version stamped into the ftype
	// word of a quantized model.
	QntVersion = 2

	// QntVersionFactor separates the quantization version from the ftype in
	// the stored ftype word: stored = QntVersion*QntVersionFactor + ftype.
	QntVersionFactor = 1000

	// BlockSize is the number of values per quantization block for every
	// block type supported here.
	BlockSize = 32
)

// Type is a ggml tensor element type code as stored in tensor headers.
type Type int32

// Tensor element types. Values are the on-disk codes.
const (
	TypeF32  Type = 0
	TypeF16  Type = 1
	TypeQ4_0 Type = 2
	TypeQ4_1 Type = 3
	TypeQ5_0 Type = 6
	TypeQ5_1 Type = 7
	TypeQ8_0 Type = 8
)

type typeTraits struct {
	name      string
	blockSize int
	typeSize  int
}

var traits = map[Type]typeTraits{
	TypeF32:  {"f32", 1, 4},
	TypeF16:  {"f16", 1, 2},
	TypeQ4_0: {"q4_0", BlockSize, 2 + BlockSize/2},
	TypeQ4_1: {"q4_1", BlockSize, 2 + 2 + BlockSize/2},
	TypeQ5_0: {"q5_0", BlockSize, 2 + 4 + BlockSize/2},
	TypeQ5_1: {"q5_1", BlockSize, 2 + 2 + 4 + BlockSize/2},
	TypeQ8_0: {"q8_0", BlockSize, 2 + BlockSize},
}

// Valid reports whether t is a type code this package understands.
func (t Type) Valid() bool {
	_, ok := traits[t]
	return ok
}

// String returns the lowercase ggml name of the type, or "type(N)" for an
// unknown code.
func (t Type) String() string {
	if tr, ok := traits[t]; ok {
		return tr.name
	}
	return fmt.Sprintf("type(%d)", int32(t))
}

// BlockSize returns the number of elements per storage block. Plain float
// types have a block size of 1. Returns 0 for unknown types.
func (t Type) BlockSize() int { return traits[t].blockSize }

// TypeSize returns the number of bytes per storage block. Returns 0 for
// unknown types.
func (t Type) TypeSize() int { return traits[t].typeSize }

// IsQuantized reports whether t is a block-quantized type.
func (t Type) IsQuantized() bool { return t.BlockSize() > 1 }

// RowSize returns the number of bytes needed to store n elements of type t.
// n must be a multiple of the block size for quantized types; the remainder
// is truncated otherwise, mirroring ggml_row_size.
func (t Type) RowSize(n int) int {
	bs := t.BlockSize()
	if bs == 0 {
		return 0
	}
	return n / bs * t.TypeSize()
}

// FType is the model-wide file type recorded in the hparams block. It names
// the dominant storage scheme of the weight tensors.
type FType int32

// File types. Values are the on-disk codes (llama/whisper numbering).
const (
	FTypeAllF32            FType = 0
	FTypeMostlyF16         FType = 1
	FTypeMostlyQ4_0        FType = 2
	FTypeMostlyQ4_1        FType = 3
	FTypeMostlyQ4_1SomeF16 FType = 4
	FTypeMostlyQ8_0        FType = 7
	FTypeMostlyQ5_0        FType = 8
	FTypeMostlyQ5_1        FType = 9
)

var ftypeNames = map[FType]string{
	FTypeAllF32:            "f32",
	FTypeMostlyF16:         "f16",
	FTypeMostlyQ4_0:        "q4_0",
	FTypeMostlyQ4_1:        "q4_1",
	FTypeMostlyQ4_1SomeF16: "q4_1_some_f16",
	FTypeMostlyQ8_0:        "q8_0",
	FTypeMostlyQ5_0:        "q5_0",
	FTypeMostlyQ5_1:        "q5_1",
}

var ftypeDescriptions = map[FType]string{
	FTypeAllF32:            "32-bit float",
	FTypeMostlyF16:         "mostly 16-bit float (except 1d tensors)",
	FTypeMostlyQ4_0:        "(Q4_0) 16-bit blocks of 4-bit quantized weights (16-bit float multiplier)",
	FTypeMostlyQ4_1:        "(Q4_1) 16-bit blocks of 4-bit quantized weights (16-bit float multiplier and offset)",
	FTypeMostlyQ4_1SomeF16: "(Q4_1) 16-bit blocks of 4-bit quantized weights (16-bit float multiplier and offset)",
	FTypeMostlyQ8_0:        "(Q8_0) 32-bit blocks of 8-bit quantized weights (32-bit float multiplier)",
	FTypeMostlyQ5_0:        "(Q5_0) blocks of 32 5-bit quantized weights (16-bit float multiplier)",
	FTypeMostlyQ5_1:        "(Q5_1) blocks of 32 5-bit quantized weights (16-bit float multiplier and offset)",
}

// quantTargets maps each quantization target to the tensor type its
// weights are rewritten to.
var quantTargets = map[FType]Type{
	FTypeMostlyQ4_0: TypeQ4_0,
	FTypeMostlyQ4_1: TypeQ4_1,
	FTypeMostlyQ5_0: TypeQ5_0,
	FTypeMostlyQ5_1: TypeQ5_1,
	FTypeMostlyQ8_0: TypeQ8_0,
}

// String returns the short lowercase name, e.g. "q5_0".
func (f FType) String() string {
	if n, ok := ftypeNames[f]; ok {
		return n
	}
	return fmt.Sprintf("ftype(%d)", int32(f))
}

// Description returns a human readable description of the storage scheme.
func (f FType) Description() string {
	if d, ok := ftypeDescriptions[f]; ok {
		return d
	}
	return "Unknown float type"
}

// QuantType returns the tensor type produced when quantizing to f. The
// boolean is false when f is not a supported quantization target.
func (f FType) QuantType() (Type, bool) {
	t, ok := quantTargets[f]
	return t, ok
}

// Targets returns every supported quantization target in ascending code
// order.
func Targets() []FType {
	return []FType{FTypeMostlyQ4_0, FTypeMostlyQ4_1, FTypeMostlyQ8_0, FTypeMostlyQ5_0, FTypeMostlyQ5_1}
}

// ParseFType parses a scheme name such as "q5_0" or "Q8_0". Only names are
// accepted; numeric codes are rejected to keep configuration readable.
func ParseFType(s string) (FType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for f, name := range ftypeNames {
		if name == want {
			return f, nil
		}
	}
	return 0, fmt.Errorf("ggml: unknown file type %q", s)
}

// SplitFTypeWord splits a stored ftype word into its quantization version
// and file type.
func SplitFTypeWord(word int32) (qntVersion int32, ftype FType) {
	return word / QntVersionFactor, FType(word % QntVersionFactor)
}

// FTypeWord returns the stored ftype word for a model quantized to f.
func FTypeWord(f FType) int32 {
	return QntVersion*QntVersionFactor + int32(f)
}
