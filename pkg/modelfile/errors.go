package modelfile

import (
	"errors"
	"fmt"

	"github.com/MrWong99/speakline/pkg/ggml"
)

// Transcoder failures. Any of these means the output stream is partial and
// must be discarded.
var (
	// ErrInvalidMagic is returned when the input does not start with the ggml
	// file magic.
	ErrInvalidMagic = errors.New("modelfile: invalid magic")

	// ErrInvalidQuantizationTarget is returned when the requested file type is
	// not one of the five block-quantized schemes.
	ErrInvalidQuantizationTarget = errors.New("modelfile: invalid quantization target")

	// ErrUnsupportedTensorElementType is returned for a tensor whose element
	// type code cannot be decoded or sized.
	ErrUnsupportedTensorElementType = errors.New("modelfile: unsupported tensor element type")

	// ErrUnsupportedQuantizerForType is returned when no quantizer is
	// registered for the tensor type a target maps to.
	ErrUnsupportedQuantizerForType = errors.New("modelfile: no quantizer for type")

	// ErrMalformedTensor is returned for tensor headers with impossible
	// shapes. It is not one of the numbered codes.
	ErrMalformedTensor = errors.New("modelfile: malformed tensor")
)

// Code is the numeric result of a transcode, compatible with the integer
// codes reported by upstream tooling.
type Code int

const (
	CodeOK                           Code = 0
	CodeInvalidMagic                 Code = 1
	CodeInvalidQuantizationTarget    Code = 2
	CodeUnsupportedTensorElementType Code = 3
	CodeUnsupportedQuantizerForType  Code = 4
	CodeOther                        Code = -1
)

// String returns a short identifier for c.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidMagic:
		return "invalid_magic"
	case CodeInvalidQuantizationTarget:
		return "invalid_quantization_target"
	case CodeUnsupportedTensorElementType:
		return "unsupported_tensor_element_type"
	case CodeUnsupportedQuantizerForType:
		return "unsupported_quantizer_for_type"
	default:
		return "other"
	}
}

// CodeOf maps err to its numeric code. nil maps to CodeOK, and errors that
// are not one of the four numbered failures (I/O, cancellation, malformed
// shapes) map to CodeOther.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidMagic):
		return CodeInvalidMagic
	case errors.Is(err, ErrInvalidQuantizationTarget):
		return CodeInvalidQuantizationTarget
	case errors.Is(err, ErrUnsupportedTensorElementType):
		return CodeUnsupportedTensorElementType
	case errors.Is(err, ErrUnsupportedQuantizerForType):
		return CodeUnsupportedQuantizerForType
	default:
		return CodeOther
	}
}

// TensorError attaches the tensor being processed to a failure.
type TensorError struct {
	Name string
	Type ggml.Type
	Err  error
}

func (e *TensorError) Error() string {
	return fmt.Sprintf("tensor %q (%s): %v", e.Name, e.Type, e.Err)
}

func (e *TensorError) Unwrap() error { return e.Err }
