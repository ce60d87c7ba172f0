package modelfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/MrWong99/speakline/pkg/ggml"
)

// ModelType is the whisper size class, derived from the encoder depth.
type ModelType int

const (
	ModelUnknown ModelType = iota
	ModelTiny
	ModelBase
	ModelSmall
	ModelMedium
	ModelLarge
)

// String returns a short description such as "Base model".
func (m ModelType) String() string {
	switch m {
	case ModelTiny:
		return "Tiny model"
	case ModelBase:
		return "Base model"
	case ModelSmall:
		return "Small model"
	case ModelMedium:
		return "Medium model"
	case ModelLarge:
		return "Large model"
	default:
		return "Unknown model"
	}
}

func modelTypeFor(audioLayers int32) ModelType {
	switch audioLayers {
	case 4:
		return ModelTiny
	case 6:
		return ModelBase
	case 12:
		return ModelSmall
	case 24:
		return ModelMedium
	case 32:
		return ModelLarge
	default:
		return ModelUnknown
	}
}

// TensorInfo describes one tensor without its payload.
type TensorInfo struct {
	Name  string
	Type  ggml.Type
	Dims  []int32
	Bytes int64
	// Stats is set when Inspect ran with [WithTensorStats].
	Stats *TensorStats
}

// TensorStats summarises the decoded values of one tensor. Comparing them
// before and after quantization shows how much a scheme distorts a weight.
type TensorStats struct {
	RMS    float64
	MaxAbs float64
}

// InspectOption configures [Inspect].
type InspectOption func(*inspectConfig)

type inspectConfig struct {
	stats bool
}

// WithTensorStats makes Inspect decode every payload and fill
// [TensorInfo.Stats]. Without it payloads are skipped unread.
func WithTensorStats() InspectOption {
	return func(c *inspectConfig) { c.stats = true }
}

// ModelInfo is the decoded header and tensor directory of a model file.
type ModelInfo struct {
	Hparams    Hparams
	ModelType  ModelType
	FType      ggml.FType
	QntVersion int32
	NMel       int32
	NFFT       int32
	VocabSize  int32
	Tensors    []TensorInfo
	// TensorBytes is the summed payload size of all tensors.
	TensorBytes int64
}

// Quantized reports whether the file type is one of the block-quantized
// schemes.
func (mi *ModelInfo) Quantized() bool {
	_, ok := mi.FType.QuantType()
	return ok
}

// Inspect reads a whole model stream, decoding headers and skipping
// payloads.
func Inspect(r io.Reader, opts ...InspectOption) (*ModelInfo, error) {
	var cfg inspectConfig
	for _, o := range opts {
		o(&cfg)
	}

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMagic, noEOF(err))
	}
	if magic != ggml.FileMagic {
		return nil, fmt.Errorf("%w: got %#08x", ErrInvalidMagic, magic)
	}
	br := bufio.NewReaderSize(r, ioBufferSize)

	hp, err := readHparams(br)
	if err != nil {
		return nil, err
	}
	info := &ModelInfo{
		Hparams:    hp,
		ModelType:  modelTypeFor(hp.NAudioLayer),
		FType:      hp.FType(),
		QntVersion: hp.QntVersion(),
	}

	var mel [2]int32
	if err := binary.Read(br, binary.LittleEndian, &mel); err != nil {
		return nil, fmt.Errorf("modelfile: read mel header: %w", noEOF(err))
	}
	info.NMel, info.NFFT = mel[0], mel[1]
	if err := copyExact(io.Discard, br, int64(mel[0])*int64(mel[1])*4); err != nil {
		return nil, fmt.Errorf("modelfile: skip mel filters: %w", err)
	}

	if err := binary.Read(br, binary.LittleEndian, &info.VocabSize); err != nil {
		return nil, fmt.Errorf("modelfile: read vocab size: %w", noEOF(err))
	}
	for i := range info.VocabSize {
		var l uint32
		if err := binary.Read(br, binary.LittleEndian, &l); err != nil {
			return nil, fmt.Errorf("modelfile: read vocab entry %d: %w", i, noEOF(err))
		}
		if err := copyExact(io.Discard, br, int64(l)); err != nil {
			return nil, fmt.Errorf("modelfile: skip vocab entry %d: %w", i, err)
		}
	}

	scratch := &statsScratch{}
	for {
		h, err := readTensorHeader(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		size, err := h.PayloadSize()
		if err != nil {
			return nil, &TensorError{Name: h.Name, Type: h.Type, Err: err}
		}
		ti := TensorInfo{Name: h.Name, Type: h.Type, Dims: h.Dims, Bytes: size}
		if cfg.stats {
			if ti.Stats, err = tensorStats(br, h, scratch); err != nil {
				return nil, &TensorError{Name: h.Name, Type: h.Type, Err: err}
			}
		} else if err := copyExact(io.Discard, br, size); err != nil {
			return nil, &TensorError{Name: h.Name, Type: h.Type, Err: fmt.Errorf("skip payload: %w", err)}
		}
		info.Tensors = append(info.Tensors, ti)
		info.TensorBytes += size
	}
	return info, nil
}

// statsChunk is the number of values decoded at a time. It is a multiple of
// every block size.
const statsChunk = 1 << 16

type statsScratch struct {
	raw    []byte
	values []float32
}

// tensorStats decodes the payload of h from r chunk by chunk. h has passed
// PayloadSize, so its element count fills whole blocks.
func tensorStats(r io.Reader, h *TensorHeader, ts *statsScratch) (*TensorStats, error) {
	n := h.Elements()
	ts.raw = grow(ts.raw, h.Type.RowSize(statsChunk))
	ts.values = grow(ts.values, statsChunk)

	var sum float64
	st := &TensorStats{}
	for done := int64(0); done < n; {
		m := int(min(n-done, statsChunk))
		raw := ts.raw[:h.Type.RowSize(m)]
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("read payload: %w", noEOF(err))
		}
		vals := ts.values[:m]
		if err := ggml.Dequantize(h.Type, raw, vals); err != nil {
			return nil, err
		}
		for _, v := range vals {
			f := float64(v)
			sum += f * f
			st.MaxAbs = max(st.MaxAbs, math.Abs(f))
		}
		done += int64(m)
	}
	if n > 0 {
		st.RMS = math.Sqrt(sum / float64(n))
	}
	return st, nil
}
