package capture

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/receptionist/internal/audio"
	"github.com/ent0n29/receptionist/internal/observability"
)

// Source delivers captured frames to registered taps.
type Source interface {
	Tap(fn audio.TapFunc) (untap func())
}

// Sender forwards encoded audio to the model.
type Sender interface {
	SendRealtimeInput(ctx context.Context, blob audio.Blob) error
}

type Options struct {
	SampleRate int
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Pipeline streams captured microphone frames to an open channel. Frames are
// encoded on the capture goroutine and sent, in order, by a single sender
// goroutine. The outbox is unbounded, so the capture side never blocks and no
// frame captured after Open is lost to a slow send.
type Pipeline struct {
	src        Source
	sampleRate int
	logger     *zap.Logger
	metrics    *observability.Metrics

	mu     sync.Mutex
	untap  func()
	cancel context.CancelFunc
	done   chan struct{}
	sent   int64
}

func New(src Source, opts Options) *Pipeline {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		src:        src,
		sampleRate: opts.SampleRate,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Open starts forwarding frames to sender until ctx ends or Close is called.
// Frames captured before Open are never sent. Calling Open on a running
// pipeline is a no-op.
func (p *Pipeline) Open(ctx context.Context, sender Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.untap != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	box := newOutbox()
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.drain(ctx, sender, box, done)

	p.untap = p.src.Tap(func(frame []float32) {
		if ctx.Err() != nil {
			p.metrics.CaptureDropped("closed")
			return
		}
		box.push(audio.Encode(frame, p.sampleRate))
	})
}

func (p *Pipeline) drain(ctx context.Context, sender Sender, box *outbox, done chan<- struct{}) {
	defer close(done)
	for {
		blob, ok := box.pop(ctx)
		if !ok {
			return
		}
		if err := sender.SendRealtimeInput(ctx, blob); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.metrics.CaptureDropped("send_error")
			p.logger.Debug("capture frame send failed", zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.sent++
		p.mu.Unlock()
		p.metrics.TransportMessage("out", "audio")
	}
}

// Close stops forwarding and waits for the sender goroutine. It is idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	untap, cancel, done := p.untap, p.cancel, p.done
	p.untap, p.cancel, p.done = nil, nil, nil
	p.mu.Unlock()

	if untap == nil {
		return
	}
	untap()
	cancel()
	<-done
}

// Sent returns the number of frames delivered to the sender.
func (p *Pipeline) Sent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// outbox is an unbounded FIFO of encoded frames with a single consumer.
type outbox struct {
	mu    sync.Mutex
	items []audio.Blob
	wake  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (o *outbox) push(blob audio.Blob) {
	o.mu.Lock()
	o.items = append(o.items, blob)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// pop waits for the oldest frame. It reports false once ctx is done.
func (o *outbox) pop(ctx context.Context) (audio.Blob, bool) {
	for {
		if ctx.Err() != nil {
			return audio.Blob{}, false
		}
		o.mu.Lock()
		if len(o.items) > 0 {
			blob := o.items[0]
			o.items[0] = audio.Blob{}
			o.items = o.items[1:]
			o.mu.Unlock()
			return blob, true
		}
		o.mu.Unlock()
		select {
		case <-ctx.Done():
			return audio.Blob{}, false
		case <-o.wake:
		}
	}
}
