package modelfile_test

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/MrWong99/speakline/pkg/ggml"
	"github.com/MrWong99/speakline/pkg/modelfile"
)

func TestInspect_QuantizedModel(t *testing.T) {
	in := buildModel(t, []string{"a", "bc"},
		f32Tensor("encoder.conv1.bias", []int32{10}, seq(10, 1)),
		f16Tensor("decoder.blocks.0.mlp.0.weight", []int32{64, 2}, seq(128, 0.01)),
	)
	out, _ := transcode(t, in, ggml.FTypeMostlyQ5_0)

	info, err := modelfile.Inspect(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.ModelType != modelfile.ModelBase {
		t.Errorf("ModelType = %s, want Base model", info.ModelType)
	}
	if info.FType != ggml.FTypeMostlyQ5_0 || info.QntVersion != 2 || !info.Quantized() {
		t.Errorf("FType = %s, QntVersion = %d", info.FType, info.QntVersion)
	}
	if info.NMel != 2 || info.NFFT != 3 || info.VocabSize != 2 {
		t.Errorf("mel = %dx%d, vocab = %d", info.NMel, info.NFFT, info.VocabSize)
	}
	if len(info.Tensors) != 2 {
		t.Fatalf("got %d tensors, want 2", len(info.Tensors))
	}
	w := info.Tensors[1]
	if w.Type != ggml.TypeQ5_0 || w.Bytes != int64(4*ggml.TypeQ5_0.TypeSize()) {
		t.Errorf("weight = %+v", w)
	}
	if info.TensorBytes != 40+w.Bytes {
		t.Errorf("TensorBytes = %d, want %d", info.TensorBytes, 40+w.Bytes)
	}
}

func TestInspect_UnquantizedModel(t *testing.T) {
	info, err := modelfile.Inspect(bytes.NewReader(buildModel(t, nil)))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Quantized() || info.FType != ggml.FTypeAllF32 {
		t.Errorf("FType = %s, want f32", info.FType)
	}
	if len(info.Tensors) != 0 {
		t.Errorf("got %d tensors, want 0", len(info.Tensors))
	}
}

func TestInspect_InvalidMagic(t *testing.T) {
	_, err := modelfile.Inspect(bytes.NewReader([]byte("RIFF....")))
	if !errors.Is(err, modelfile.ErrInvalidMagic) {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestCodeOf(t *testing.T) {
	if modelfile.CodeOf(nil) != modelfile.CodeOK {
		t.Error("CodeOf(nil) != CodeOK")
	}
	wrapped := &modelfile.TensorError{Name: "x", Err: modelfile.ErrUnsupportedQuantizerForType}
	if modelfile.CodeOf(wrapped) != modelfile.CodeUnsupportedQuantizerForType {
		t.Error("TensorError does not unwrap to its code")
	}
	if modelfile.CodeOf(errors.New("disk full")) != modelfile.CodeOther {
		t.Error("plain error should map to CodeOther")
	}
}

func TestInspect_TensorStats(t *testing.T) {
	weights := seq(128, 0.01)
	in := buildModel(t, nil,
		f32Tensor("encoder.conv1.bias", []int32{10}, seq(10, 1)),
		f32Tensor("decoder.blocks.0.mlp.0.weight", []int32{64, 2}, weights),
	)
	out, _ := transcode(t, in, ggml.FTypeMostlyQ8_0)

	plain, err := modelfile.Inspect(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if plain.Tensors[0].Stats != nil {
		t.Error("stats filled without WithTensorStats")
	}

	info, err := modelfile.Inspect(bytes.NewReader(out), modelfile.WithTensorStats())
	if err != nil {
		t.Fatalf("Inspect with stats: %v", err)
	}
	bias := info.Tensors[0].Stats
	if bias == nil || math.Abs(bias.RMS-math.Sqrt(8.5)) > 1e-9 || bias.MaxAbs != 5 {
		t.Errorf("bias stats = %+v, want rms sqrt(8.5), max 5", bias)
	}

	var sum, maxAbs float64
	for _, v := range weights {
		sum += float64(v) * float64(v)
		maxAbs = max(maxAbs, math.Abs(float64(v)))
	}
	wantRMS := math.Sqrt(sum / float64(len(weights)))
	w := info.Tensors[1].Stats
	if w == nil {
		t.Fatal("weight stats missing")
	}
	if math.Abs(w.RMS-wantRMS) > 0.01*wantRMS || math.Abs(w.MaxAbs-maxAbs) > 0.01*maxAbs {
		t.Errorf("q8_0 weight stats = %+v, want about rms %.4f max %.4f", w, wantRMS, maxAbs)
	}
	if info.TensorBytes != plain.TensorBytes {
		t.Errorf("TensorBytes = %d with stats, %d without", info.TensorBytes, plain.TensorBytes)
	}
}

func TestInspect_TensorStatsTruncated(t *testing.T) {
	in := buildModel(t, nil, f32Tensor("w", []int32{32, 2}, seq(64, 1)))
	_, err := modelfile.Inspect(bytes.NewReader(in[:len(in)-8]), modelfile.WithTensorStats())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}
