// Package modelfile reads and rewrites whisper ggml model files.
//
// The layout is a magic word, eleven int32 hyperparameters, the mel filter
// bank, the vocabulary and then a stream of tensors until end of file. All
// integers are little endian. [Transcoder] rewrites that stream in a single
// forward pass, quantizing eligible weight tensors and copying everything
// else byte for byte. [Inspect] reads the same layout without decoding
// tensor payloads.
package modelfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/MrWong99/speakline/pkg/ggml"
)

const (
	// maxDims is GGML_MAX_DIMS.
	maxDims = 4

	// maxNameLen bounds tensor name allocation on corrupt input.
	maxNameLen = 1 << 12
)

// Hparams is the fixed hyperparameter block that follows the magic.
type Hparams struct {
	NVocab      int32
	NAudioCtx   int32
	NAudioState int32
	NAudioHead  int32
	NAudioLayer int32
	NTextCtx    int32
	NTextState  int32
	NTextHead   int32
	NTextLayer  int32
	NMels       int32
	FTypeWord   int32
}

// FType returns the file type encoded in FTypeWord, dropping the
// quantization version.
func (h Hparams) FType() ggml.FType {
	_, f := ggml.SplitFTypeWord(h.FTypeWord)
	return f
}

// QntVersion returns the quantization version encoded in FTypeWord.
func (h Hparams) QntVersion() int32 {
	v, _ := ggml.SplitFTypeWord(h.FTypeWord)
	return v
}

func readHparams(r io.Reader) (Hparams, error) {
	var h Hparams
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("modelfile: read hparams: %w", noEOF(err))
	}
	return h, nil
}

func writeHparams(w io.Writer, h Hparams) error {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("modelfile: write hparams: %w", err)
	}
	return nil
}

// TensorHeader precedes every tensor payload.
type TensorHeader struct {
	Type ggml.Type
	// Dims lists the extent of each dimension, innermost first. Dims[0] is
	// the row length.
	Dims []int32
	Name string
}

// Rank returns the number of dimensions.
func (h *TensorHeader) Rank() int { return len(h.Dims) }

// Elements returns the product of all dimensions.
func (h *TensorHeader) Elements() int64 {
	n := int64(1)
	for _, d := range h.Dims {
		n *= int64(d)
	}
	return n
}

// PayloadSize returns the number of payload bytes that follow the header,
// derived from the element type. Unknown type codes yield
// ErrUnsupportedTensorElementType.
func (h *TensorHeader) PayloadSize() (int64, error) {
	if !h.Type.Valid() {
		return 0, fmt.Errorf("%w: code %d", ErrUnsupportedTensorElementType, int32(h.Type))
	}
	n := h.Elements()
	bs := int64(h.Type.BlockSize())
	if n%bs != 0 {
		return 0, fmt.Errorf("%w: %d elements do not fill whole %s blocks", ErrMalformedTensor, n, h.Type)
	}
	return n / bs * int64(h.Type.TypeSize()), nil
}

// readTensorHeader reads one header. The first read returning io.EOF is
// passed through unwrapped so callers can detect a clean end of stream.
func readTensorHeader(r io.Reader) (*TensorHeader, error) {
	var fixed [3]int32
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("modelfile: read tensor header: %w", err)
	}
	nDims, nameLen := fixed[0], fixed[1]
	if nDims < 1 || nDims > maxDims {
		return nil, fmt.Errorf("%w: rank %d", ErrMalformedTensor, nDims)
	}
	if nameLen < 0 || nameLen > maxNameLen {
		return nil, fmt.Errorf("%w: name length %d", ErrMalformedTensor, nameLen)
	}

	h := &TensorHeader{Type: ggml.Type(fixed[2]), Dims: make([]int32, nDims)}
	if err := binary.Read(r, binary.LittleEndian, h.Dims); err != nil {
		return nil, fmt.Errorf("modelfile: read tensor dims: %w", noEOF(err))
	}
	for i, d := range h.Dims {
		if d < 1 {
			return nil, fmt.Errorf("%w: dimension %d is %d", ErrMalformedTensor, i, d)
		}
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("modelfile: read tensor name: %w", noEOF(err))
	}
	h.Name = string(name)
	return h, nil
}

func writeTensorHeader(w io.Writer, h *TensorHeader) error {
	fixed := [3]int32{int32(len(h.Dims)), int32(len(h.Name)), int32(h.Type)}
	if err := binary.Write(w, binary.LittleEndian, fixed); err != nil {
		return fmt.Errorf("modelfile: write tensor header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.Dims); err != nil {
		return fmt.Errorf("modelfile: write tensor dims: %w", err)
	}
	if _, err := io.WriteString(w, h.Name); err != nil {
		return fmt.Errorf("modelfile: write tensor name: %w", err)
	}
	return nil
}

// noEOF turns a bare io.EOF inside a structure into io.ErrUnexpectedEOF.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
