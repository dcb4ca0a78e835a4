package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned when a PCM16 payload does not hold a whole number of samples.
var ErrOddLength = errors.New("pcm16 payload has odd length")

// Blob is an encoded media payload tagged with its MIME type.
type Blob struct {
	Data     []byte
	MIMEType string
}

// MIMEType returns the transport tag for mono 16-bit little-endian PCM at sampleRate.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Encode converts float samples into 16-bit little-endian PCM.
// Samples outside [-1, 1] are clamped.
func Encode(samples []float32, sampleRate int) Blob {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return Blob{Data: out, MIMEType: MIMEType(sampleRate)}
}

// Decode converts 16-bit little-endian PCM into float samples in [-1, 1).
func Decode(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("decode pcm16 (%d bytes): %w", len(data), ErrOddLength)
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out, nil
}

// DecodeToBuffer builds a playable buffer from interleaved PCM16 at the given rate.
// No resampling is performed; a trailing partial frame is ignored.
func DecodeToBuffer(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		channels = 1
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("decode pcm16: invalid sample rate %d", sampleRate)
	}
	samples, err := Decode(data)
	if err != nil {
		return nil, err
	}
	frames := len(samples) / channels
	buf := NewBuffer(sampleRate, channels, frames)
	for ch := 0; ch < channels; ch++ {
		dst := buf.Channel(ch)
		for i := 0; i < frames; i++ {
			dst[i] = samples[i*channels+ch]
		}
	}
	return buf, nil
}

func quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	q := math.Round(v * 32768)
	if q > math.MaxInt16 {
		q = math.MaxInt16
	}
	return int16(q)
}
