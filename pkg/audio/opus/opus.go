// Package opus decodes Opus packets for the audio ingest path.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/speakline/pkg/audio"
)

// maxFrameMs is the longest Opus frame duration.
const maxFrameMs = 120

// Decoder wraps a gopus decoder for a single stream. Each stream needs its
// own decoder to keep decoder state correct across consecutive packets.
type Decoder struct {
	dec       *gopus.Decoder
	rate      int
	channels  int
	frameSize int
}

// NewDecoder creates a decoder producing interleaved samples at rate with
// the given channel count. Opus supports 8, 12, 16, 24 and 48 kHz output.
func NewDecoder(rate, channels int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder (%d Hz, %d ch): %w", rate, channels, err)
	}
	return &Decoder{
		dec:       dec,
		rate:      rate,
		channels:  channels,
		frameSize: rate * maxFrameMs / 1000,
	}, nil
}

// Decode decodes one Opus packet into interleaved float32 samples.
func (d *Decoder) Decode(packet []byte) ([]float32, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Int16ToFloat32(pcm), nil
}

var _ audio.Decoder = (*Decoder)(nil)
