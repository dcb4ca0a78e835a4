package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/receptionist/internal/audio"
)

const fileChunk = 20 * time.Millisecond

// FileProvider runs without sound hardware: capture replays an optional WAV
// file in real time followed by silence, playback records to a WAV file.
type FileProvider struct {
	inputPath  string
	outputPath string
}

func NewFileProvider(inputPath, outputPath string) *FileProvider {
	return &FileProvider{inputPath: strings.TrimSpace(inputPath), outputPath: strings.TrimSpace(outputPath)}
}

func (p *FileProvider) OpenCapture(ctx context.Context, sampleRate int) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var samples []float32
	if p.inputPath != "" {
		f, err := os.Open(p.inputPath)
		if err != nil {
			return nil, fmt.Errorf("%w: open capture file: %v", ErrUnavailable, err)
		}
		defer f.Close()
		pcm, format, err := audio.ReadWAV(f)
		if err != nil {
			return nil, fmt.Errorf("%w: read capture file %s: %v", ErrUnavailable, p.inputPath, err)
		}
		if format.SampleRate != sampleRate {
			return nil, fmt.Errorf("%w: capture file is %d Hz, want %d Hz", ErrUnavailable, format.SampleRate, sampleRate)
		}
		buf, err := audio.DecodeToBuffer(pcm, format.SampleRate, format.Channels)
		if err != nil {
			return nil, fmt.Errorf("%w: decode capture file: %v", ErrUnavailable, err)
		}
		samples = buf.MixDown()
	}
	return newPacedSource(samples, sampleRate, fileChunk), nil
}

func (p *FileProvider) OpenPlayback(ctx context.Context, sampleRate int) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.outputPath == "" {
		return discardSink{}, nil
	}
	f, err := os.Create(p.outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: create playback file: %v", ErrUnavailable, err)
	}
	return &wavSink{file: f, sampleRate: sampleRate}, nil
}

// pacedSource yields float32 samples no faster than real time.
type pacedSource struct {
	samples []float32
	chunk   int
	ticker  *time.Ticker

	mu      sync.Mutex
	pending []byte
	stop    chan struct{}
	once    sync.Once
}

func newPacedSource(samples []float32, sampleRate int, every time.Duration) *pacedSource {
	return &pacedSource{
		samples: samples,
		chunk:   int(audio.DurationToFrames(every, sampleRate)),
		ticker:  time.NewTicker(every),
		stop:    make(chan struct{}),
	}
}

func (s *pacedSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		select {
		case <-s.stop:
			return 0, io.EOF
		case <-s.ticker.C:
		}
		frame := make([]float32, s.chunk)
		n := copy(frame, s.samples)
		s.samples = s.samples[n:]
		s.pending = audio.EncodeFloat32(frame)
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *pacedSource) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.ticker.Stop()
	})
	return nil
}

// wavSink buffers PCM16 and writes a WAV file when closed.
type wavSink struct {
	mu         sync.Mutex
	file       *os.File
	sampleRate int
	pcm        bytes.Buffer
	closed     bool
}

func (w *wavSink) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.pcm.Write(p)
}

func (w *wavSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := audio.WriteWAV(w.file, w.pcm.Bytes(), w.sampleRate); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("write playback wav: %w", err)
	}
	return w.file.Close()
}

type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (discardSink) Close() error                { return nil }
