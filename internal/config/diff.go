package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is true when any segmenter tuning changed. New streams use
	// the new values; running streams keep theirs.
	VADChanged bool

	// HotwordsChanged is true when the hotword list or similarity changed.
	HotwordsChanged bool

	// RestartRequired names sections that changed but are only read at
	// startup (e.g. "providers", "model", "server.listen_addr").
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VADChanged || d.HotwordsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// VAD tuning. Switching the engine needs a new registry lookup.
	if old.VAD.Engine != new.VAD.Engine {
		d.RestartRequired = append(d.RestartRequired, "vad.engine")
	} else if !vadEqual(old.VAD, new.VAD) {
		d.VADChanged = true
	}

	// Hotwords
	if !slices.Equal(old.Hotwords.Words, new.Hotwords.Words) ||
		old.Hotwords.MinSimilarity != new.Hotwords.MinSimilarity {
		d.HotwordsChanged = true
	}

	// Startup-only sections.
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.MaxStreams != new.Server.MaxStreams ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Model != new.Model {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	if old.Transcripts != new.Transcripts {
		d.RestartRequired = append(d.RestartRequired, "transcripts")
	}

	return d
}

// vadEqual compares two VAD sections by value. Unset and set-to-default
// tunables differ: only the former follows a future default change.
func vadEqual(a, b VADConfig) bool {
	return a.Engine == b.Engine &&
		a.Patience == b.Patience &&
		a.AdjustSamples == b.AdjustSamples &&
		a.ThresholdMode == b.ThresholdMode &&
		ptrEqual(a.MinimumSamples, b.MinimumSamples) &&
		ptrEqual(a.Beta, b.Beta) &&
		ptrEqual(a.ThresholdCoefficient, b.ThresholdCoefficient)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	if a.Resilience != b.Resilience || !entryEqual(a.STT, b.STT) {
		return false
	}
	return slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	return reflect.DeepEqual(a, b)
}
