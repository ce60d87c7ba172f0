package app_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/speakline/internal/app"
	"github.com/MrWong99/speakline/internal/config"
	"github.com/MrWong99/speakline/pkg/ggml"
	"github.com/MrWong99/speakline/pkg/modelfile"
)

// writeTinyModel writes a model with one quantizable weight and one bias to
// dir and returns its path.
func writeTinyModel(t *testing.T, dir string) string {
	t.Helper()
	var buf bytes.Buffer
	put := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
	}
	put(ggml.FileMagic)
	put(modelfile.Hparams{
		NAudioCtx: 1500, NAudioState: 64, NAudioHead: 1, NAudioLayer: 1,
		NTextCtx: 448, NTextState: 64, NTextHead: 1, NTextLayer: 1,
		NMels: 80, FTypeWord: int32(ggml.FTypeAllF32),
	})
	put([2]int32{1, 2})
	put([]float32{0.5, 0.25})
	put(int32(0))

	tensor := func(name string, dims []int32, n int) {
		put(int32(len(dims)))
		put(int32(len(name)))
		put(int32(ggml.TypeF32))
		put(dims)
		buf.WriteString(name)
		for i := range n {
			put(math.Float32bits(float32(i-n/2) * 0.1))
		}
	}
	tensor("encoder.conv1.bias", []int32{4}, 4)
	tensor("decoder.blocks.0.mlp.0.weight", []int32{32, 2}, 64)

	path := filepath.Join(dir, "ggml-tiny.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestPrepareModel_NoQuantize(t *testing.T) {
	t.Parallel()

	in := config.ModelConfig{Path: "/models/ggml-base.bin"}
	got, err := app.PrepareModel(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("PrepareModel: %v", err)
	}
	if got != in {
		t.Errorf("PrepareModel = %+v, want %+v unchanged", got, in)
	}
}

func TestPrepareModel_QuantizesOnceAndCaches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeTinyModel(t, dir)
	cache := filepath.Join(dir, "cache")
	cfg := config.ModelConfig{Path: src, Quantize: "Q8_0", CacheDir: cache}

	got, err := app.PrepareModel(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("PrepareModel: %v", err)
	}
	want := filepath.Join(cache, "ggml-tiny-q8_0.bin")
	if got.Path != want {
		t.Fatalf("Path = %q, want %q", got.Path, want)
	}

	f, err := os.Open(got.Path)
	if err != nil {
		t.Fatalf("open quantized model: %v", err)
	}
	info, err := modelfile.Inspect(f)
	f.Close()
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(info.Tensors) != 2 {
		t.Errorf("tensors = %d, want 2", len(info.Tensors))
	}

	entries, err := os.ReadDir(cache)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("cache dir holds %d files, want the model and its stamp", len(entries))
	}

	// A second call reuses the cached file even if the source is gone.
	if err := os.Remove(src); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	again, err := app.PrepareModel(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("second PrepareModel: %v", err)
	}
	if again.Path != want {
		t.Errorf("second Path = %q, want %q", again.Path, want)
	}
}

func TestPrepareModel_RebuildsWhenSourceChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeTinyModel(t, dir)
	cfg := config.ModelConfig{Path: src, Quantize: "q4_0", CacheDir: filepath.Join(dir, "cache")}

	got, err := app.PrepareModel(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("PrepareModel: %v", err)
	}
	first, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatal(err)
	}

	// Replace the cached output with junk. An unchanged source keeps it.
	if err := os.WriteFile(got.Path, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := app.PrepareModel(context.Background(), cfg, nil); err != nil {
		t.Fatalf("cached PrepareModel: %v", err)
	}
	if b, _ := os.ReadFile(got.Path); string(b) != "junk" {
		t.Fatal("unchanged source triggered a rebuild")
	}

	// Touching the source invalidates the cache.
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, later, later); err != nil {
		t.Fatal(err)
	}
	if _, err := app.PrepareModel(context.Background(), cfg, nil); err != nil {
		t.Fatalf("rebuild PrepareModel: %v", err)
	}
	rebuilt, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rebuilt, first) {
		t.Error("rebuilt model differs from the first build")
	}
}

func TestPrepareModel_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.ModelConfig
	}{
		{"unknown scheme", config.ModelConfig{Path: writeTinyModel(t, dir), Quantize: "q3_k"}},
		{"missing source", config.ModelConfig{Path: filepath.Join(dir, "nope.bin"), Quantize: "q5_0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.PrepareModel(context.Background(), tt.cfg, nil); err == nil {
				t.Fatal("PrepareModel succeeded, want error")
			}
		})
	}

	// A failed transcode leaves no partial output behind.
	bad := filepath.Join(dir, "bad.bin")
	if err := os.WriteFile(bad, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	cache := filepath.Join(dir, "badcache")
	if _, err := app.PrepareModel(context.Background(), config.ModelConfig{Path: bad, Quantize: "q4_0", CacheDir: cache}, nil); err == nil {
		t.Fatal("PrepareModel of garbage succeeded")
	}
	entries, _ := os.ReadDir(cache)
	if len(entries) != 0 {
		t.Errorf("cache dir holds %d files after failure, want 0", len(entries))
	}
}

func TestQuantizedPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  config.ModelConfig
		want string
	}{
		{config.ModelConfig{Path: "/m/ggml-base.en.bin", Quantize: "q5_1"}, "/m/ggml-base.en-q5_1.bin"},
		{config.ModelConfig{Path: "/m/model.bin", Quantize: "Q4_0", CacheDir: "/c"}, "/c/model-q4_0.bin"},
	}
	for _, tt := range tests {
		if got := app.QuantizedPath(tt.cfg); got != tt.want {
			t.Errorf("QuantizedPath(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}
