package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/speakline/internal/config"
)

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "speakline.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.STT.Name != "whisper-native" {
		t.Errorf("providers.stt.name: got %q", cfg.Providers.STT.Name)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if got := len(cfg.Providers.STTFallbacks); got != 1 {
		t.Errorf("stt_fallbacks: got %d entries, want 1", got)
	}
	if cfg.Model.Quantize != "q5_0" {
		t.Errorf("model.quantize: got %q", cfg.Model.Quantize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Errorf("error should mention open, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
hotwords:
  words: [Speakline, Speakline]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_DirectCall(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
	beta := -0.1
	cfg.VAD.Beta = &beta
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for negative beta")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	sttNames := config.ValidProviderNames["stt"]
	for _, want := range []string{"whisper", "whisper-native", "openai", "deepgram"} {
		if !slices.Contains(sttNames, want) {
			t.Errorf("ValidProviderNames[\"stt\"] should contain %q", want)
		}
	}
	if !slices.Contains(config.ValidProviderNames["vad"], config.DefaultVADEngine) {
		t.Errorf("ValidProviderNames[\"vad\"] should contain %q", config.DefaultVADEngine)
	}
}
