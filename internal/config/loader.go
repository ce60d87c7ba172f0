package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/speakline/pkg/audio"
	"github.com/MrWong99/speakline/pkg/ggml"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxStreams < 0 {
		errs = append(errs, fmt.Errorf("server.max_streams must not be negative, got %d", cfg.Server.MaxStreams))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	enc, err := audio.ParseEncoding(cfg.Audio.Encoding)
	if err != nil {
		errs = append(errs, fmt.Errorf("audio.encoding: %w", err))
	} else if err := (audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels, Encoding: enc}).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.FrameMs < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms must not be negative, got %d", cfg.Audio.FrameMs))
	}

	// VAD
	v := cfg.VAD
	if v.Patience < 0 || v.AdjustSamples < 0 || (v.MinimumSamples != nil && *v.MinimumSamples < 0) {
		errs = append(errs, errors.New("vad: patience, minimum_samples and adjust_samples must not be negative"))
	}
	if v.Beta != nil && (*v.Beta < 0 || *v.Beta >= 1) {
		errs = append(errs, fmt.Errorf("vad.beta %.3f is out of range [0, 1)", *v.Beta))
	}
	if v.ThresholdCoefficient != nil && *v.ThresholdCoefficient < 0 {
		errs = append(errs, fmt.Errorf("vad.threshold_coefficient %.3f must not be negative", *v.ThresholdCoefficient))
	}
	if v.ThresholdMode != "" && v.ThresholdMode != "tail" && v.ThresholdMode != "deviation" {
		errs = append(errs, fmt.Errorf("vad.threshold_mode %q is invalid; valid values: tail, deviation", v.ThresholdMode))
	}
	validateProviderName("vad", v.Engine)

	// Providers
	if cfg.Providers.STT.Name == "" {
		if len(cfg.Providers.STTFallbacks) > 0 {
			errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
		} else {
			slog.Warn("no STT provider configured; segments will be detected but not transcribed")
		}
	}
	entries := append([]ProviderEntry{cfg.Providers.STT}, cfg.Providers.STTFallbacks...)
	for i, e := range entries {
		prefix := "providers.stt"
		if i > 0 {
			prefix = fmt.Sprintf("providers.stt_fallbacks[%d]", i-1)
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
				continue
			}
		}
		validateProviderName("stt", e.Name)
		switch e.Name {
		case "whisper":
			if e.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s: whisper requires base_url", prefix))
			}
		case "openai", "deepgram":
			if e.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s: %s requires api_key", prefix, e.Name))
			}
		case "whisper-native":
			if e.Model == "" && cfg.Model.Path == "" {
				errs = append(errs, fmt.Errorf("%s: whisper-native requires model or model.path", prefix))
			}
		}
	}
	if r := cfg.Providers.Resilience; r.MaxFailures < 0 || r.HalfOpenMax < 0 || r.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.resilience values must not be negative"))
	}

	// Model
	if cfg.Model.Quantize != "" {
		ft, err := ggml.ParseFType(cfg.Model.Quantize)
		if err != nil {
			errs = append(errs, fmt.Errorf("model.quantize: %w", err))
		} else if _, ok := ft.QuantType(); !ok {
			errs = append(errs, fmt.Errorf("model.quantize %q is not a quantization target", cfg.Model.Quantize))
		}
		if cfg.Model.Path == "" {
			errs = append(errs, errors.New("model.quantize requires model.path"))
		}
	}
	if cfg.Model.Path != "" && cfg.Model.CacheDir == "" && cfg.Model.Quantize != "" {
		slog.Debug("model.cache_dir not set; quantized model goes next to the source",
			"dir", filepath.Dir(cfg.Model.Path))
	}

	// Transcripts
	if cfg.Transcripts.PostgresDSN == "" {
		slog.Debug("transcripts.postgres_dsn is empty; transcripts are kept in memory only")
	}

	// Hotwords
	if s := cfg.Hotwords.MinSimilarity; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("hotwords.min_similarity %.2f is out of range [0, 1]", s))
	}
	seen := make(map[string]int, len(cfg.Hotwords.Words))
	for i, w := range cfg.Hotwords.Words {
		if w == "" {
			errs = append(errs, fmt.Errorf("hotwords.words[%d] is empty", i))
			continue
		}
		if prev, ok := seen[w]; ok {
			errs = append(errs, fmt.Errorf("hotwords.words[%d] %q is a duplicate of hotwords.words[%d]", i, w, prev))
		}
		seen[w] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
