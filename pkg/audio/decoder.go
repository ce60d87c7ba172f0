package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Decoder turns one transport payload into interleaved float32 samples.
// Decoders may carry state between payloads and are not safe for concurrent
// use.
type Decoder interface {
	Decode(payload []byte) ([]float32, error)
}

// RawDecoder decodes uncompressed PCM payloads. Bytes that do not complete a
// sample are held back and prefixed to the next payload, so transports may
// split samples across messages.
type RawDecoder struct {
	encoding Encoding
	width    int
	carry    []byte
}

// NewRawDecoder returns a decoder for EncodingF32 or EncodingPCM16.
func NewRawDecoder(enc Encoding) (*RawDecoder, error) {
	switch enc {
	case EncodingF32, "":
		return &RawDecoder{encoding: EncodingF32, width: 4}, nil
	case EncodingPCM16:
		return &RawDecoder{encoding: EncodingPCM16, width: 2}, nil
	}
	return nil, fmt.Errorf("audio: %q is not a raw encoding", enc)
}

// Decode converts payload, keeping any partial trailing sample for the next
// call.
func (d *RawDecoder) Decode(payload []byte) ([]float32, error) {
	data := payload
	if len(d.carry) > 0 {
		data = append(d.carry, payload...)
		d.carry = nil
	}
	whole := len(data) - len(data)%d.width
	if whole < len(data) {
		d.carry = append([]byte(nil), data[whole:]...)
	}
	switch d.encoding {
	case EncodingPCM16:
		return PCM16ToFloat32(data[:whole]), nil
	default:
		return F32LEToFloat32(data[:whole]), nil
	}
}

// Pending returns the number of buffered bytes awaiting a full sample.
func (d *RawDecoder) Pending() int { return len(d.carry) }

var _ Decoder = (*RawDecoder)(nil)

// Converter normalises decoded payloads to 16 kHz mono. Create one per
// stream; it is not designed for shared use across goroutines.
type Converter struct {
	format    Format
	dec       Decoder
	rs        *Resampler
	warnOnce  sync.Once
	delivered int64
}

// NewConverter creates a Converter for a stream in the given format. dec
// decodes the wire encoding; pass nil for raw encodings to use a RawDecoder.
func NewConverter(format Format, dec Decoder) (*Converter, error) {
	if format.Encoding == "" {
		format.Encoding = EncodingF32
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if dec == nil {
		raw, err := NewRawDecoder(format.Encoding)
		if err != nil {
			return nil, err
		}
		dec = raw
	}
	rs, err := NewResampler(format.SampleRate, TargetSampleRate)
	if err != nil {
		return nil, err
	}
	return &Converter{format: format, dec: dec, rs: rs}, nil
}

// Format returns the source format.
func (c *Converter) Format() Format { return c.format }

// Convert decodes payload and returns 16 kHz mono samples. The result may be
// empty when the payload held only a partial sample or the resampler is
// still filling.
func (c *Converter) Convert(payload []byte) ([]float32, error) {
	samples, err := c.dec.Decode(payload)
	if err != nil {
		return nil, err
	}
	if c.format.Channels > 1 || !c.rs.Passthrough() {
		c.warnOnce.Do(func() {
			slog.Debug("audio: converting capture format",
				"from", c.format.String(),
				"to", fmt.Sprintf("%dHz mono", TargetSampleRate),
			)
		})
	}
	mono := Downmix(samples, c.format.Channels)
	out, err := c.rs.Process(mono)
	if err != nil {
		return nil, err
	}
	c.delivered += int64(len(out))
	return out, nil
}

// Delivered returns the number of 16 kHz samples produced so far.
func (c *Converter) Delivered() int64 { return c.delivered }
