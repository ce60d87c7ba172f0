package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/speakline/internal/config"
	"github.com/MrWong99/speakline/internal/observe"
	"github.com/MrWong99/speakline/internal/resilience"
	"github.com/MrWong99/speakline/pkg/provider/stt"
	"github.com/MrWong99/speakline/pkg/provider/stt/deepgram"
	"github.com/MrWong99/speakline/pkg/provider/stt/openai"
	"github.com/MrWong99/speakline/pkg/provider/stt/whisper"
	"github.com/MrWong99/speakline/pkg/provider/vad"
	"github.com/MrWong99/speakline/pkg/provider/vad/energy"
)

// RegisterBuiltinProviders wires all built-in provider factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry, _ config.ModelConfig) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, model config.ModelConfig) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = model.Path
		}
		var opts []whisper.NativeOption
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		if threads := optInt(entry.Options, "threads"); threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(threads)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry, _ config.ModelConfig) (stt.Transcriber, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, openai.WithLanguage(entry.Language))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry, _ config.ModelConfig) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if words := optStrings(entry.Options, "keywords"); len(words) > 0 {
			boost := optFloat(entry.Options, "boost")
			if boost == 0 {
				boost = 1
			}
			opts = append(opts, deepgram.WithKeywords(words, boost))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(cfg config.VADConfig) (vad.Engine, error) {
		// Reject bad tuning at startup rather than on the first stream.
		if _, err := energy.ParamsFromConfig(cfg.SessionConfig()); err != nil {
			return nil, err
		}
		return energy.NewEngine(), nil
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// BuildTranscriber instantiates the configured primary transcriber and its
// fallbacks. With fallbacks, the result is a [resilience.TranscriberFallback]
// with one circuit breaker per backend. Returns nil, nil when no transcriber
// is configured. model is passed to local backends and may point at a
// prepared (quantized) model. Breaker transitions are counted in metrics.
func BuildTranscriber(cfg *config.Config, model config.ModelConfig, reg *config.Registry, metrics *observe.Metrics) (stt.Transcriber, error) {
	primaryEntry := cfg.Providers.STT
	if primaryEntry.Name == "" {
		return nil, nil
	}

	primary, err := reg.CreateSTT(primaryEntry, model)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", primaryEntry.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", primaryEntry.Name)
	if len(cfg.Providers.STTFallbacks) == 0 {
		return primary, nil
	}

	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	r := cfg.Providers.Resilience
	fb := resilience.NewTranscriberFallback(primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  r.MaxFailures,
			ResetTimeout: r.ResetTimeout,
			HalfOpenMax:  r.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	for _, entry := range cfg.Providers.STTFallbacks {
		t, err := reg.CreateSTT(entry, model)
		if err != nil {
			closeTranscriber(fb)
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(t)
		slog.Info("provider created", "kind", "stt-fallback", "name", entry.Name)
	}
	return fb, nil
}

// closeTranscriber releases t if it holds resources.
func closeTranscriber(t stt.Transcriber) error {
	if c, ok := t.(stt.Closer); ok {
		return c.Close()
	}
	return nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optFloat extracts a number. Whole numbers decode as int.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// optStrings extracts a list of strings. Non-string items are skipped.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// optDuration extracts a duration written as a Go duration string ("30s").
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
