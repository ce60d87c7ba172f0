package opus_test

import (
	"testing"

	"layeh.com/gopus"

	"github.com/MrWong99/speakline/pkg/audio/opus"
)

func TestDecoder_RoundTrip(t *testing.T) {
	const (
		rate      = 16000
		frameSize = 320 // 20 ms
	)
	enc, err := gopus.NewEncoder(rate, 1, gopus.Voip)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	pcm := make([]int16, frameSize)
	for i := range pcm {
		pcm[i] = int16((i % 40) * 200)
	}
	packet, err := enc.Encode(pcm, frameSize, 4000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec, err := opus.NewDecoder(rate, 1)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	samples, err := dec.Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(samples) != frameSize {
		t.Fatalf("decoded %d samples, want %d", len(samples), frameSize)
	}
	for i, s := range samples {
		if s < -1 || s > 1 {
			t.Fatalf("sample %d = %g out of range", i, s)
		}
	}
}

func TestNewDecoder_RejectsBadRate(t *testing.T) {
	if _, err := opus.NewDecoder(44100, 1); err == nil {
		t.Fatal("expected error for unsupported rate")
	}
}
