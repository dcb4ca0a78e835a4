package audio

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

func constantBuffer(rate, frames int, v float32) *Buffer {
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = v
	}
	return BufferFromSamples(rate, samples)
}

func TestOutputContextRenderAdvancesClock(t *testing.T) {
	ctx := NewOutputContext(1000, nil)
	if ctx.CurrentTime() != 0 {
		t.Fatalf("CurrentTime = %v, want 0", ctx.CurrentTime())
	}
	ctx.Render(250)
	if got := ctx.CurrentTime(); got != 250*time.Millisecond {
		t.Fatalf("CurrentTime = %v, want 250ms", got)
	}
}

func TestOutputContextScheduleAndEnd(t *testing.T) {
	ctx := NewOutputContext(1000, nil)
	ended := 0
	v, err := ctx.Schedule(constantBuffer(1000, 10, 0.5), 5*time.Millisecond, func() { ended++ })
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	out := ctx.Render(8)
	if out[4] != 0 || out[5] != 0.5 || out[7] != 0.5 {
		t.Fatalf("unexpected first render: %v", out)
	}
	if ended != 0 || ctx.Active() != 1 {
		t.Fatalf("ended=%d active=%d, want 0/1", ended, ctx.Active())
	}

	out = ctx.Render(10)
	if out[6] != 0.5 || out[7] != 0 {
		t.Fatalf("unexpected second render: %v", out)
	}
	if ended != 1 {
		t.Fatalf("ended = %d, want 1", ended)
	}
	if !v.Ended() || ctx.Active() != 0 {
		t.Fatalf("voice should have ended and been removed")
	}
}

func TestOutputContextGain(t *testing.T) {
	ctx := NewOutputContext(1000, nil)
	ctx.SetGain(0.5)
	if _, err := ctx.Schedule(constantBuffer(1000, 4, 0.8), 0, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	out := ctx.Render(4)
	if out[0] != 0.4 {
		t.Fatalf("out[0] = %v, want 0.4", out[0])
	}
}

func TestVoiceStopIsIdempotentAndSilent(t *testing.T) {
	ctx := NewOutputContext(1000, nil)
	ended := false
	v, err := ctx.Schedule(constantBuffer(1000, 100, 1), 0, func() { ended = true })
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	ctx.Render(10)
	v.Stop()
	v.Stop()

	out := ctx.Render(10)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("out[%d] = %v after stop, want 0", i, s)
		}
	}
	if ended {
		t.Fatalf("stopped voice must not fire its ended callback")
	}
	if !v.Stopped() || ctx.Active() != 0 {
		t.Fatalf("stopped=%v active=%d", v.Stopped(), ctx.Active())
	}
}

func TestOutputContextCloseRejectsSchedule(t *testing.T) {
	ctx := NewOutputContext(1000, nil)
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := ctx.Schedule(constantBuffer(1000, 1, 0), 0, nil); !errors.Is(err, ErrContextClosed) {
		t.Fatalf("Schedule() error = %v, want ErrContextClosed", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("Done should be closed after Close on an unstarted context")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestOutputContextStartWritesToSink(t *testing.T) {
	sink := &lockedBuffer{}
	ctx := NewOutputContext(24000, sink)
	ctx.Start(5 * time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for sink.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = ctx.Close()
	if sink.Len() == 0 {
		t.Fatalf("render loop wrote nothing to the sink")
	}
	if sink.Len()%2 != 0 {
		t.Fatalf("sink received %d bytes, want whole PCM16 samples", sink.Len())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("device gone") }

func TestOutputContextSinkErrorStopsLoop(t *testing.T) {
	ctx := NewOutputContext(24000, failingWriter{})
	ctx.Start(2 * time.Millisecond)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("render loop did not stop on sink error")
	}
	if ctx.Err() == nil {
		t.Fatalf("Err() = nil, want sink error")
	}
	_ = ctx.Close()
}
