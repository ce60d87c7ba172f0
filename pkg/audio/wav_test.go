package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/MrWong99/speakline/pkg/audio"
)

func TestEncodeWAV_HeaderRoundTrip(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav := audio.EncodeWAV(pcm, 22050, 2)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}

	r := bytes.NewReader(wav)
	f, err := audio.ReadWAVHeader(r)
	if err != nil {
		t.Fatalf("ReadWAVHeader: %v", err)
	}
	want := audio.Format{SampleRate: 22050, Channels: 2, Encoding: audio.EncodingPCM16}
	if f != want {
		t.Errorf("format = %+v, want %+v", f, want)
	}
	rest, _ := io.ReadAll(r)
	if !bytes.Equal(rest, pcm) {
		t.Errorf("payload after header = %v, want %v", rest, pcm)
	}
}

func TestReadWAVHeader_SkipsUnknownChunks(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	b.WriteString("WAVE")

	b.WriteString("LIST")
	_ = binary.Write(&b, binary.LittleEndian, uint32(3))
	b.Write([]byte{1, 2, 3, 0}) // odd chunk plus pad byte

	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(18))
	_ = binary.Write(&b, binary.LittleEndian, []uint16{3, 1})
	_ = binary.Write(&b, binary.LittleEndian, []uint32{48000, 192000})
	_ = binary.Write(&b, binary.LittleEndian, []uint16{4, 32, 0})

	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(4))
	b.Write(floatsToBytes([]float32{0.5}))

	f, err := audio.ReadWAVHeader(&b)
	if err != nil {
		t.Fatalf("ReadWAVHeader: %v", err)
	}
	want := audio.Format{SampleRate: 48000, Channels: 1, Encoding: audio.EncodingF32}
	if f != want {
		t.Errorf("format = %+v, want %+v", f, want)
	}
	if b.Len() != 4 {
		t.Errorf("%d bytes left, want the 4 data bytes", b.Len())
	}
}

func TestReadWAVHeader_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not riff", []byte("RIFX\x00\x00\x00\x00WAVE")},
		{"truncated", []byte("RIFF")},
		{"8-bit", func() []byte {
			wav := audio.EncodeWAV(nil, 8000, 1)
			binary.LittleEndian.PutUint16(wav[34:36], 8)
			return wav
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := audio.ReadWAVHeader(bytes.NewReader(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := audio.ReadWAVHeader(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00AVI "))); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}
