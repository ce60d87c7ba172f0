package modelfile

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"

	"github.com/MrWong99/speakline/pkg/ggml"
)

const ioBufferSize = 1 << 16

// DefaultSkipPatterns match tensors that stay at full precision: the
// convolution biases and both positional embeddings.
var DefaultSkipPatterns = []*regexp.Regexp{
	regexp.MustCompile("encoder.conv1.bias"),
	regexp.MustCompile("encoder.conv2.bias"),
	regexp.MustCompile("encoder.positional_embedding"),
	regexp.MustCompile("decoder.positional_embedding"),
}

// Action records what the transcoder did with a tensor.
type Action string

const (
	ActionQuantized Action = "quantized"
	ActionCopied    Action = "copied"
)

// TensorResult describes one processed tensor.
type TensorResult struct {
	Name     string
	Dims     []int32
	InType   ggml.Type
	OutType  ggml.Type
	Action   Action
	InBytes  int64
	OutBytes int64
	// Hist is the quantization histogram. Nil for copied tensors.
	Hist []int64
}

// Report summarises a completed transcode.
type Report struct {
	Hparams   Hparams
	Target    ggml.FType
	Tensors   int
	Quantized int
	Copied    int
	// BytesIn and BytesOut count every byte read from and written to the
	// streams, framing included.
	BytesIn  int64
	BytesOut int64
	// Hist sums the histograms of all quantized tensors.
	Hist [ggml.HistogramBins]int64
}

// Ratio returns BytesOut/BytesIn, or 0 when nothing was read.
func (r *Report) Ratio() float64 {
	if r.BytesIn == 0 {
		return 0
	}
	return float64(r.BytesOut) / float64(r.BytesIn)
}

// Transcoder rewrites ggml model streams to a quantized file type. A
// Transcoder holds no per-stream state and is safe for concurrent use.
type Transcoder struct {
	skip       []*regexp.Regexp
	quantizers map[ggml.Type]ggml.QuantizeFunc
	logger     *slog.Logger
	onTensor   func(TensorResult)
}

// Option is a functional option for configuring a Transcoder.
type Option func(*Transcoder)

// WithSkipPatterns replaces the tensor name exclusion set. A tensor whose
// name matches any pattern (unanchored) is copied unchanged.
func WithSkipPatterns(patterns ...*regexp.Regexp) Option {
	return func(t *Transcoder) { t.skip = patterns }
}

// WithQuantizer registers q for tensor type typ, replacing the reference
// quantizer. A nil q removes the registration.
func WithQuantizer(typ ggml.Type, q ggml.QuantizeFunc) Option {
	return func(t *Transcoder) {
		if q == nil {
			delete(t.quantizers, typ)
			return
		}
		t.quantizers[typ] = q
	}
}

// WithLogger sets the logger used for per-tensor debug output. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcoder) { t.logger = l }
}

// WithTensorHook registers fn to be called synchronously after each tensor
// has been written.
func WithTensorHook(fn func(TensorResult)) Option {
	return func(t *Transcoder) { t.onTensor = fn }
}

// NewTranscoder returns a Transcoder using the reference quantizers and
// [DefaultSkipPatterns].
func NewTranscoder(opts ...Option) *Transcoder {
	t := &Transcoder{
		skip:       DefaultSkipPatterns,
		quantizers: make(map[ggml.Type]ggml.QuantizeFunc),
		logger:     slog.Default(),
	}
	for _, typ := range []ggml.Type{ggml.TypeQ4_0, ggml.TypeQ4_1, ggml.TypeQ5_0, ggml.TypeQ5_1, ggml.TypeQ8_0} {
		t.quantizers[typ] = ggml.Quantizer(typ)
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Transcode rewrites r to w with a default Transcoder.
func Transcode(ctx context.Context, r io.Reader, w io.Writer, target ggml.FType) (*Report, error) {
	return NewTranscoder().Transcode(ctx, r, w, target)
}

// Transcode reads a ggml model from r and writes it to w with every eligible
// tensor quantized to target. A tensor is eligible when it is two
// dimensional, stored as F32 or F16, and not matched by a skip pattern.
//
// The magic is checked before anything else is read, and target is checked
// before anything is written. ctx is observed between tensors. On error the
// bytes already written to w are not a valid model.
func (t *Transcoder) Transcode(ctx context.Context, r io.Reader, w io.Writer, target ggml.FType) (*Report, error) {
	cr := &countingReader{r: r}
	cw := &countingWriter{w: w}

	// The magic is read unbuffered so a foreign stream is left positioned
	// right after it.
	var magic uint32
	if err := binary.Read(cr, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMagic, noEOF(err))
	}
	if magic != ggml.FileMagic {
		return nil, fmt.Errorf("%w: got %#08x", ErrInvalidMagic, magic)
	}

	qtype, ok := target.QuantType()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuantizationTarget, target)
	}

	br := bufio.NewReaderSize(cr, ioBufferSize)
	bw := bufio.NewWriterSize(cw, ioBufferSize)
	rep := &Report{Target: target}
	if err := binary.Write(bw, binary.LittleEndian, magic); err != nil {
		return nil, fmt.Errorf("modelfile: write magic: %w", err)
	}

	hp, err := readHparams(br)
	if err != nil {
		return nil, err
	}
	rep.Hparams = hp
	hp.FTypeWord = ggml.FTypeWord(target)
	if err := writeHparams(bw, hp); err != nil {
		return nil, err
	}

	if err := copyMel(br, bw); err != nil {
		return nil, err
	}
	if err := copyVocab(br, bw); err != nil {
		return nil, err
	}

	ts := &tensorScratch{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("modelfile: transcode cancelled: %w", err)
		}
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("modelfile: read tensor: %w", err)
		}
		h, err := readTensorHeader(br)
		if err != nil {
			return nil, noEOF(err)
		}

		res, err := t.transcodeTensor(br, bw, h, qtype, ts)
		if err != nil {
			return nil, &TensorError{Name: h.Name, Type: h.Type, Err: err}
		}

		rep.Tensors++
		if res.Action == ActionQuantized {
			rep.Quantized++
			for i, c := range res.Hist {
				rep.Hist[i] += c
			}
		} else {
			rep.Copied++
		}
		t.logger.Debug("modelfile: tensor done",
			"name", res.Name,
			"dims", res.Dims,
			"action", res.Action,
			"in_type", res.InType,
			"out_type", res.OutType,
			"in_bytes", res.InBytes,
			"out_bytes", res.OutBytes,
		)
		if t.onTensor != nil {
			t.onTensor(res)
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("modelfile: flush output: %w", err)
	}
	rep.BytesIn = cr.n
	rep.BytesOut = cw.n
	return rep, nil
}

func (t *Transcoder) eligible(h *TensorHeader) bool {
	if h.Rank() != 2 {
		return false
	}
	if h.Type != ggml.TypeF32 && h.Type != ggml.TypeF16 {
		return false
	}
	for _, re := range t.skip {
		if re.MatchString(h.Name) {
			return false
		}
	}
	return true
}

// tensorScratch holds buffers reused across tensors of one stream.
type tensorScratch struct {
	raw    []byte
	values []float32
	out    []byte
}

func grow[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}

func (t *Transcoder) transcodeTensor(br *bufio.Reader, bw *bufio.Writer, h *TensorHeader, qtype ggml.Type, ts *tensorScratch) (TensorResult, error) {
	res := TensorResult{
		Name:    h.Name,
		Dims:    h.Dims,
		InType:  h.Type,
		OutType: h.Type,
		Action:  ActionCopied,
	}

	if !t.eligible(h) {
		size, err := h.PayloadSize()
		if err != nil {
			return res, err
		}
		if err := writeTensorHeader(bw, h); err != nil {
			return res, err
		}
		if err := copyExact(bw, br, size); err != nil {
			return res, fmt.Errorf("copy payload: %w", err)
		}
		res.InBytes, res.OutBytes = size, size
		return res, nil
	}

	n64 := h.Elements()
	if n64 > math.MaxInt32 {
		return res, fmt.Errorf("%w: %d elements", ErrMalformedTensor, n64)
	}
	n := int(n64)

	// Decode to float32.
	elem := h.Type.TypeSize()
	ts.raw = grow(ts.raw, n*elem)
	if _, err := io.ReadFull(br, ts.raw); err != nil {
		return res, fmt.Errorf("read payload: %w", noEOF(err))
	}
	ts.values = grow(ts.values, n)
	switch h.Type {
	case ggml.TypeF16:
		ggml.DecodeF16(ts.values, ts.raw)
	case ggml.TypeF32:
		for i := range ts.values {
			ts.values[i] = math.Float32frombits(binary.LittleEndian.Uint32(ts.raw[4*i:]))
		}
	default:
		return res, fmt.Errorf("%w: %s", ErrUnsupportedTensorElementType, h.Type)
	}

	q := t.quantizers[qtype]
	if q == nil {
		return res, fmt.Errorf("%w: %s", ErrUnsupportedQuantizerForType, qtype)
	}

	// Whisper rows are always block aligned. Tensors whose rows are not are
	// quantized as one flat row when the element count allows it.
	rowLen := int(h.Dims[0])
	if rowLen%ggml.BlockSize != 0 {
		if n%ggml.BlockSize != 0 {
			return res, fmt.Errorf("%w: %d elements cannot be split into %d-value blocks", ErrMalformedTensor, n, ggml.BlockSize)
		}
		t.logger.Debug("modelfile: row not block aligned, quantizing flat", "name", h.Name, "row", rowLen)
		rowLen = n
	}

	ts.out = grow(ts.out, qtype.RowSize(n))
	hist := make([]int64, ggml.HistogramBins)
	written := q(ts.values, ts.out, n, rowLen, hist)

	out := &TensorHeader{Type: qtype, Dims: h.Dims, Name: h.Name}
	if err := writeTensorHeader(bw, out); err != nil {
		return res, err
	}
	if _, err := bw.Write(ts.out[:written]); err != nil {
		return res, fmt.Errorf("write payload: %w", err)
	}

	res.OutType = qtype
	res.Action = ActionQuantized
	res.InBytes = int64(len(ts.raw))
	res.OutBytes = int64(written)
	res.Hist = hist
	return res, nil
}

func copyMel(r io.Reader, w io.Writer) error {
	var dims [2]int32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return fmt.Errorf("modelfile: read mel header: %w", noEOF(err))
	}
	if dims[0] < 0 || dims[1] < 0 {
		return fmt.Errorf("modelfile: invalid mel filter shape %dx%d", dims[0], dims[1])
	}
	if err := binary.Write(w, binary.LittleEndian, dims); err != nil {
		return fmt.Errorf("modelfile: write mel header: %w", err)
	}
	if err := copyExact(w, r, int64(dims[0])*int64(dims[1])*4); err != nil {
		return fmt.Errorf("modelfile: copy mel filters: %w", err)
	}
	return nil
}

func copyVocab(r io.Reader, w io.Writer) error {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("modelfile: read vocab size: %w", noEOF(err))
	}
	if n < 0 {
		return fmt.Errorf("modelfile: invalid vocab size %d", n)
	}
	if err := binary.Write(w, binary.LittleEndian, n); err != nil {
		return fmt.Errorf("modelfile: write vocab size: %w", err)
	}
	for i := range n {
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return fmt.Errorf("modelfile: read vocab entry %d: %w", i, noEOF(err))
		}
		if err := binary.Write(w, binary.LittleEndian, l); err != nil {
			return fmt.Errorf("modelfile: write vocab entry %d: %w", i, err)
		}
		if err := copyExact(w, r, int64(l)); err != nil {
			return fmt.Errorf("modelfile: copy vocab entry %d: %w", i, err)
		}
	}
	return nil
}

// copyExact copies exactly n bytes, reporting a short source as
// io.ErrUnexpectedEOF.
func copyExact(w io.Writer, r io.Reader, n int64) error {
	copied, err := io.CopyN(w, r, n)
	if err == io.EOF || (err == nil && copied < n) {
		return io.ErrUnexpectedEOF
	}
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
