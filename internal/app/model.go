package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/speakline/internal/config"
	"github.com/MrWong99/speakline/internal/observe"
	"github.com/MrWong99/speakline/pkg/ggml"
	"github.com/MrWong99/speakline/pkg/modelfile"
)

// QuantizedPath returns where PrepareModel caches the quantized copy of
// model.Path: <cache_dir>/<base>-<scheme>.bin, with cache_dir defaulting to
// the directory of the source model.
func QuantizedPath(model config.ModelConfig) string {
	dir := model.CacheDir
	if dir == "" {
		dir = filepath.Dir(model.Path)
	}
	base := strings.TrimSuffix(filepath.Base(model.Path), filepath.Ext(model.Path))
	return filepath.Join(dir, fmt.Sprintf("%s-%s.bin", base, strings.ToLower(model.Quantize)))
}

// PrepareModel returns the model config local backends should load. Without
// a quantize scheme it returns model unchanged. Otherwise the source model is
// transcoded once into [QuantizedPath] and the returned config points there;
// an existing cached file is reused. The output is written to a temporary
// file and renamed into place, so a failed run never leaves a truncated
// model behind.
func PrepareModel(ctx context.Context, model config.ModelConfig, metrics *observe.Metrics) (config.ModelConfig, error) {
	if model.Quantize == "" {
		return model, nil
	}
	target, err := ggml.ParseFType(model.Quantize)
	if err != nil {
		return model, fmt.Errorf("app: prepare model: %w", err)
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	dst := QuantizedPath(model)
	prepared := model
	prepared.Path = dst
	stamp, stampErr := sourceStamp(model.Path)
	if cacheFresh(dst, stamp, stampErr) {
		slog.Info("using cached quantized model", "path", dst, "scheme", target.String())
		return prepared, nil
	}

	ctx, span := observe.StartQuantizeSpan(ctx, model.Path, target.String())
	defer span.End()

	start := time.Now()
	report, err := QuantizeFile(ctx, model.Path, dst, target, metrics)
	metrics.TranscodeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.Fail(span, err)
		return model, fmt.Errorf("app: quantize %s to %s (code %d): %w",
			model.Path, target.String(), modelfile.CodeOf(err), err)
	}

	span.SetAttributes(
		observe.KeyTensorsQuantized.Int(report.Quantized),
		observe.KeyTensorsCopied.Int(report.Copied),
		observe.KeyBytesOut.Int64(report.BytesOut),
	)
	if stampErr == nil {
		if err := os.WriteFile(StampPath(dst), []byte(stamp), 0o644); err != nil {
			slog.Warn("cannot record quantized model source", "path", dst, "err", err)
		}
	}
	slog.Info("model quantized",
		"src", model.Path,
		"dst", dst,
		"scheme", target.String(),
		"tensors", report.Tensors,
		"quantized", report.Quantized,
		"ratio", fmt.Sprintf("%.2f", report.Ratio()),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return prepared, nil
}

// StampPath returns the file next to a cached quantized model that records
// which revision of the source it was built from.
func StampPath(dst string) string { return dst + ".source" }

// sourceStamp identifies the current revision of the source model by size and
// modification time.
func sourceStamp(src string) (string, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d\n", fi.Size(), fi.ModTime().UnixNano()), nil
}

// cacheFresh reports whether dst can be used as is. A cache without a
// matching stamp is rebuilt. When the source cannot be stat'ed the cache is
// trusted, so a deployment may ship only the quantized file.
func cacheFresh(dst, stamp string, stampErr error) bool {
	fi, err := os.Stat(dst)
	if err != nil || fi.Size() == 0 {
		return false
	}
	if stampErr != nil {
		return true
	}
	recorded, err := os.ReadFile(StampPath(dst))
	if err != nil || string(recorded) != stamp {
		slog.Info("quantized model is stale, rebuilding", "path", dst)
		return false
	}
	return true
}

// QuantizeFile transcodes the model at src to target and writes it to dst
// through a temporary file in dst's directory. Every tensor is recorded on
// metrics. opts are applied after the metrics hook, so a WithTensorHook in
// opts replaces it.
func QuantizeFile(ctx context.Context, src, dst string, target ggml.FType, metrics *observe.Metrics, opts ...modelfile.Option) (*modelfile.Report, error) {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	opts = append([]modelfile.Option{modelfile.WithTensorHook(func(r modelfile.TensorResult) {
		metrics.RecordTensor(ctx, string(r.Action), r.InBytes, r.OutBytes)
	})}, opts...)
	tc := modelfile.NewTranscoder(opts...)
	report, err := tc.Transcode(ctx, in, tmp, target)
	if err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Join(err, os.Remove(tmp.Name()))
	}
	committed = true
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, errors.Join(err, os.Remove(tmp.Name()))
	}
	return report, nil
}
