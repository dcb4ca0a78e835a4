package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := Encode([]float32{0, 0.5, -0.5}, 24000).Data
	wav, err := EncodeWAV(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected chunk ids: %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Fatalf("sample rate = %d, want 24000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Fatalf("data size = %d, want %d", size, len(pcm))
	}
}

func TestReadWAVRoundTrip(t *testing.T) {
	pcm := Encode([]float32{0.1, -0.2, 0.3, -0.4}, 16000).Data
	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	got, format, err := ReadWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}
	if format.SampleRate != 16000 || format.Channels != 1 {
		t.Fatalf("format = %+v", format)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadWAVRejectsOtherData(t *testing.T) {
	_, _, err := ReadWAV(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00AVI LIST")))
	if !errors.Is(err, ErrNotWAV) {
		t.Fatalf("ReadWAV() error = %v, want ErrNotWAV", err)
	}
}
