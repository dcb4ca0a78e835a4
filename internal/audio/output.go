package audio

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrContextClosed is returned when scheduling on a closed output context.
var ErrContextClosed = errors.New("audio context closed")

const defaultRenderInterval = 20 * time.Millisecond

type voiceState int

const (
	voiceScheduled voiceState = iota
	voicePlaying
	voiceEnded
	voiceStopped
)

// OutputContext is a mono playback graph. Every scheduled voice feeds one shared
// gain node; the mix is rendered against a sample clock that only advances when
// frames are rendered.
type OutputContext struct {
	sampleRate int
	sink       io.Writer

	mu       sync.Mutex
	gain     float64
	position int64
	voices   []*Voice
	closed   bool
	err      error

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewOutputContext(sampleRate int, sink io.Writer) *OutputContext {
	return &OutputContext{
		sampleRate: sampleRate,
		sink:       sink,
		gain:       1,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (c *OutputContext) SampleRate() int { return c.sampleRate }

// CurrentTime is the output clock: the duration of audio rendered so far.
func (c *OutputContext) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FramesToDuration(c.position, c.sampleRate)
}

func (c *OutputContext) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	c.mu.Lock()
	c.gain = gain
	c.mu.Unlock()
}

func (c *OutputContext) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// Schedule starts buf at the absolute output time at. onEnded runs once the voice
// finishes naturally; it is not called for stopped voices.
func (c *OutputContext) Schedule(buf *Buffer, at time.Duration, onEnded func()) (*Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	if at < 0 {
		at = 0
	}
	v := &Voice{
		ctx:        c,
		buf:        buf,
		start:      at,
		startFrame: DurationToFrames(at, c.sampleRate),
		onEnded:    onEnded,
	}
	c.voices = append(c.voices, v)
	return v, nil
}

// Active returns the number of voices that are scheduled or playing.
func (c *OutputContext) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.voices)
}

// Render mixes the next frames of output, advances the clock and returns the
// mixed samples after the gain node.
func (c *OutputContext) Render(frames int) []float32 {
	if frames <= 0 {
		return nil
	}
	out := make([]float32, frames)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return out
	}
	from := c.position
	to := from + int64(frames)

	var finished []func()
	kept := c.voices[:0]
	for _, v := range c.voices {
		vEnd := v.startFrame + int64(v.buf.Frames())
		lo := max(from, v.startFrame)
		hi := min(to, vEnd)
		for f := lo; f < hi; f++ {
			out[f-from] += v.buf.mono(int(f - v.startFrame))
		}
		if vEnd <= to {
			v.state = voiceEnded
			if v.onEnded != nil {
				finished = append(finished, v.onEnded)
			}
			continue
		}
		if v.startFrame < to {
			v.state = voicePlaying
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(c.voices); i++ {
		c.voices[i] = nil
	}
	c.voices = kept

	if c.gain != 1 {
		g := float32(c.gain)
		for i := range out {
			out[i] *= g
		}
	}
	c.position = to
	c.mu.Unlock()

	for _, fn := range finished {
		fn()
	}
	return out
}

// Start runs the real-time render loop, writing PCM16 to the sink every interval.
func (c *OutputContext) Start(interval time.Duration) {
	if interval <= 0 {
		interval = defaultRenderInterval
	}
	c.startOnce.Do(func() {
		go c.run(interval)
	})
}

func (c *OutputContext) run(interval time.Duration) {
	defer close(c.done)
	frames := int(DurationToFrames(interval, c.sampleRate))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			mixed := c.Render(frames)
			if c.sink == nil {
				continue
			}
			if _, err := c.sink.Write(Encode(mixed, c.sampleRate).Data); err != nil {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				return
			}
		}
	}
}

// Done is closed when the render loop exits.
func (c *OutputContext) Done() <-chan struct{} { return c.done }

// Err reports the sink error that stopped the render loop, if any.
func (c *OutputContext) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the render loop and every voice. It is safe to call repeatedly.
func (c *OutputContext) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		started := true
		c.startOnce.Do(func() {
			started = false
			close(c.done)
		})
		if started {
			<-c.done
		}
		c.mu.Lock()
		for _, v := range c.voices {
			v.state = voiceStopped
		}
		c.voices = nil
		c.closed = true
		c.mu.Unlock()
	})
	return nil
}

// Voice is one buffer scheduled on an OutputContext.
type Voice struct {
	ctx        *OutputContext
	buf        *Buffer
	start      time.Duration
	startFrame int64
	onEnded    func()
	state      voiceState
}

func (v *Voice) Start() time.Duration { return v.start }

func (v *Voice) Duration() time.Duration { return v.buf.Duration() }

// Stop silences the voice immediately. Stopping a finished voice is a no-op.
func (v *Voice) Stop() {
	c := v.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.state == voiceEnded || v.state == voiceStopped {
		return
	}
	v.state = voiceStopped
	for i, other := range c.voices {
		if other == v {
			c.voices = append(c.voices[:i], c.voices[i+1:]...)
			break
		}
	}
}

func (v *Voice) Stopped() bool {
	v.ctx.mu.Lock()
	defer v.ctx.mu.Unlock()
	return v.state == voiceStopped
}

func (v *Voice) Ended() bool {
	v.ctx.mu.Lock()
	defer v.ctx.mu.Unlock()
	return v.state == voiceEnded
}
