package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/speakline/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// floatsToBytes converts float32 samples to little-endian IEEE bytes.
func floatsToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

func equalFloats(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %g, want %g", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32(t *testing.T) {
	got := audio.PCM16ToFloat32(append(samplesToBytes([]int16{0, 16384, -32768, 32767}), 0x7f))
	equalFloats(t, got, []float32{0, 0.5, -1, 32767.0 / 32768.0})
}

func TestF32LEToFloat32(t *testing.T) {
	in := []float32{0.25, -0.75, 1}
	got := audio.F32LEToFloat32(append(floatsToBytes(in), 1, 2))
	equalFloats(t, got, in)
}

func TestFloat32ToPCM16_Clamps(t *testing.T) {
	pcm := audio.Float32ToPCM16([]float32{0, 1, -1, 2, -2, float32(math.NaN())})
	want := []int16{0, 32767, -32767, 32767, -32768, 0}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(pcm[i*2:])); got != w {
			t.Errorf("sample %d: got %d, want %d", i, got, w)
		}
	}
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		in       []float32
		channels int
		want     []float32
	}{
		{"mono passthrough", []float32{0.1, 0.2}, 1, []float32{0.1, 0.2}},
		{"stereo", []float32{0.5, 0.25, -1, 0}, 2, []float32{0.375, -0.5}},
		{"drops partial frame", []float32{1, 1, 1}, 2, []float32{1}},
		{"three channels", []float32{0.3, 0.3, 0.3}, 3, []float32{0.3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.Downmix(tt.in, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("sample %d: got %g, want %g", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRawDecoder_CarriesPartialSamples(t *testing.T) {
	dec, err := audio.NewRawDecoder(audio.EncodingF32)
	if err != nil {
		t.Fatal(err)
	}
	b := floatsToBytes([]float32{0.5, -0.5})

	first, err := dec.Decode(b[:3])
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 0 || dec.Pending() != 3 {
		t.Fatalf("first = %v, pending = %d; want nothing decoded and 3 pending", first, dec.Pending())
	}
	second, err := dec.Decode(b[3:])
	if err != nil {
		t.Fatal(err)
	}
	equalFloats(t, second, []float32{0.5, -0.5})
	if dec.Pending() != 0 {
		t.Errorf("pending = %d, want 0", dec.Pending())
	}
}

func TestRawDecoder_RejectsOpus(t *testing.T) {
	if _, err := audio.NewRawDecoder(audio.EncodingOpus); err == nil {
		t.Fatal("expected error")
	}
}

func TestConverter_MonoTargetRateIsLossless(t *testing.T) {
	c, err := audio.NewConverter(audio.Format{SampleRate: audio.TargetSampleRate, Channels: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	in := []float32{0.1, 0.2, 0.3}
	got, err := c.Convert(floatsToBytes(in))
	if err != nil {
		t.Fatal(err)
	}
	equalFloats(t, got, in)
	if c.Delivered() != 3 {
		t.Errorf("Delivered = %d, want 3", c.Delivered())
	}
}

func TestConverter_StereoPCM16(t *testing.T) {
	c, err := audio.NewConverter(audio.Format{SampleRate: audio.TargetSampleRate, Channels: 2, Encoding: audio.EncodingPCM16}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Convert(samplesToBytes([]int16{16384, 0, -16384, -16384}))
	if err != nil {
		t.Fatal(err)
	}
	equalFloats(t, got, []float32{0.25, -0.5})
}

func TestConverter_ResamplesToTarget(t *testing.T) {
	c, err := audio.NewConverter(audio.Format{SampleRate: 48000, Channels: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	in := make([]float32, 48000)
	for i := range in {
		in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	got, err := c.Convert(floatsToBytes(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < 14000 || len(got) > 16100 {
		t.Fatalf("resampled 1s of 48 kHz audio to %d samples, want about 16000", len(got))
	}
}

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name    string
		f       audio.Format
		wantErr bool
	}{
		{"ok", audio.Format{SampleRate: 48000, Channels: 2, Encoding: audio.EncodingOpus}, false},
		{"zero rate", audio.Format{Channels: 1, Encoding: audio.EncodingF32}, true},
		{"zero channels", audio.Format{SampleRate: 16000, Encoding: audio.EncodingF32}, true},
		{"bad encoding", audio.Format{SampleRate: 16000, Channels: 1, Encoding: "mp3"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.f.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]audio.Encoding{"": audio.EncodingF32, "f32": audio.EncodingF32, "pcm16": audio.EncodingPCM16, "opus": audio.EncodingOpus} {
		got, err := audio.ParseEncoding(in)
		if err != nil || got != want {
			t.Errorf("ParseEncoding(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := audio.ParseEncoding("wav"); err == nil {
		t.Error("ParseEncoding(wav) succeeded")
	}
}

func TestFramer(t *testing.T) {
	f := audio.NewFramer(10 * time.Millisecond)
	if f.FrameSize() != 160 {
		t.Fatalf("FrameSize = %d, want 160", f.FrameSize())
	}
	frames := f.Push(make([]float32, 100))
	if len(frames) != 0 {
		t.Fatalf("got %d frames from a partial push", len(frames))
	}
	frames = f.Push(make([]float32, 250))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[1].Timestamp != 10*time.Millisecond {
		t.Errorf("second frame at %v, want 10ms", frames[1].Timestamp)
	}
	if frames[0].Duration() != 10*time.Millisecond {
		t.Errorf("frame duration = %v, want 10ms", frames[0].Duration())
	}
	rest, ok := f.Flush()
	if !ok || len(rest.Samples) != 30 || rest.Timestamp != 20*time.Millisecond {
		t.Errorf("Flush = %d samples at %v (ok=%v), want 30 at 20ms", len(rest.Samples), rest.Timestamp, ok)
	}
	if _, ok := f.Flush(); ok {
		t.Error("second Flush returned a frame")
	}
}

func TestDrain(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	close(ch)
	audio.Drain(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not drained")
	}
}
