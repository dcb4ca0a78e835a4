package audio

import "time"

// Buffer holds de-interleaved float samples for playback.
type Buffer struct {
	sampleRate int
	channels   [][]float32
}

func NewBuffer(sampleRate, channels, frames int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	data := make([][]float32, channels)
	for i := range data {
		data[i] = make([]float32, frames)
	}
	return &Buffer{sampleRate: sampleRate, channels: data}
}

// BufferFromSamples wraps mono samples without copying.
func BufferFromSamples(sampleRate int, samples []float32) *Buffer {
	return &Buffer{sampleRate: sampleRate, channels: [][]float32{samples}}
}

func (b *Buffer) SampleRate() int { return b.sampleRate }

func (b *Buffer) NumberOfChannels() int { return len(b.channels) }

func (b *Buffer) Channel(i int) []float32 { return b.channels[i] }

// Frames returns the number of sample frames per channel.
func (b *Buffer) Frames() int {
	if len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

func (b *Buffer) Duration() time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	return FramesToDuration(int64(b.Frames()), b.sampleRate)
}

// MixDown returns the buffer averaged into a single channel.
func (b *Buffer) MixDown() []float32 {
	out := make([]float32, b.Frames())
	for i := range out {
		out[i] = b.mono(i)
	}
	return out
}

// mono returns the frame at i mixed down to a single channel.
func (b *Buffer) mono(i int) float32 {
	if len(b.channels) == 1 {
		return b.channels[0][i]
	}
	var sum float32
	for _, ch := range b.channels {
		sum += ch[i]
	}
	return sum / float32(len(b.channels))
}

// FramesToDuration converts a frame count at sampleRate into a duration.
func FramesToDuration(frames int64, sampleRate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// DurationToFrames converts a duration into the nearest frame index at sampleRate.
func DurationToFrames(d time.Duration, sampleRate int) int64 {
	return (int64(d)*int64(sampleRate) + int64(time.Second)/2) / int64(time.Second)
}
