package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

// ErrCaptureEnded is reported when the capture source stops producing frames.
var ErrCaptureEnded = errors.New("capture source ended")

// TapFunc receives one captured frame. It runs on the capture goroutine and must not block.
type TapFunc func(frame []float32)

// InputContext reads fixed-size frames of 32-bit float little-endian mono samples
// from a capture source. Every frame feeds the analyser and each registered tap.
type InputContext struct {
	src        io.Reader
	sampleRate int
	frameSize  int
	analyser   *Analyser

	mu      sync.Mutex
	taps    map[uint64]TapFunc
	nextTap uint64
	err     error

	startOnce sync.Once
	done      chan struct{}
}

func NewInputContext(src io.Reader, sampleRate, frameSize int) *InputContext {
	if frameSize <= 0 {
		frameSize = 4096
	}
	return &InputContext{
		src:        src,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		analyser:   NewAnalyser(DefaultFFTSize),
		taps:       make(map[uint64]TapFunc),
		done:       make(chan struct{}),
	}
}

func (c *InputContext) SampleRate() int { return c.sampleRate }

func (c *InputContext) FrameSize() int { return c.frameSize }

func (c *InputContext) Analyser() *Analyser { return c.analyser }

// Tap registers fn for every subsequent frame and returns a function that removes it.
func (c *InputContext) Tap(fn TapFunc) (untap func()) {
	c.mu.Lock()
	id := c.nextTap
	c.nextTap++
	c.taps[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.taps, id)
		c.mu.Unlock()
	}
}

// Start begins reading frames on a dedicated goroutine.
func (c *InputContext) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Done is closed when the read loop exits.
func (c *InputContext) Done() <-chan struct{} { return c.done }

// Err reports why the read loop exited.
func (c *InputContext) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *InputContext) run() {
	defer close(c.done)
	raw := make([]byte, c.frameSize*4)
	for {
		if _, err := io.ReadFull(c.src, raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrCaptureEnded
			}
			c.mu.Lock()
			c.err = fmt.Errorf("read capture frame: %w", err)
			c.mu.Unlock()
			return
		}
		frame := make([]float32, c.frameSize)
		for i := range frame {
			frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		c.analyser.Write(frame)

		c.mu.Lock()
		taps := make([]TapFunc, 0, len(c.taps))
		for _, fn := range c.taps {
			taps = append(taps, fn)
		}
		c.mu.Unlock()
		for _, fn := range taps {
			fn(frame)
		}
	}
}

// EncodeFloat32 serialises samples as 32-bit float little-endian, the capture wire layout.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
