package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/receptionist/internal/audio"
)

type fakeSource struct {
	mu   sync.Mutex
	taps map[int]audio.TapFunc
	next int
}

func (s *fakeSource) Tap(fn audio.TapFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taps == nil {
		s.taps = make(map[int]audio.TapFunc)
	}
	id := s.next
	s.next++
	s.taps[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.taps, id)
		s.mu.Unlock()
	}
}

func (s *fakeSource) push(frame []float32) {
	s.mu.Lock()
	taps := make([]audio.TapFunc, 0, len(s.taps))
	for _, fn := range s.taps {
		taps = append(taps, fn)
	}
	s.mu.Unlock()
	for _, fn := range taps {
		fn(frame)
	}
}

func (s *fakeSource) tapCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.taps)
}

type fakeSender struct {
	mu    sync.Mutex
	blobs []audio.Blob
	gate  chan struct{}
	delay time.Duration
	err   error
}

func (s *fakeSender) SendRealtimeInput(ctx context.Context, blob audio.Blob) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.blobs = append(s.blobs, blob)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPipelineSendsFramesInOrderAfterOpen(t *testing.T) {
	src := &fakeSource{}
	p := New(src, Options{SampleRate: 16000})

	src.push([]float32{0.9}) // before open: dropped
	sender := &fakeSender{}
	p.Open(context.Background(), sender)
	for i := 1; i <= 5; i++ {
		src.push([]float32{float32(i) / 10})
	}
	waitUntil(t, func() bool { return sender.count() == 5 })
	p.Close()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	for i, blob := range sender.blobs {
		if blob.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("MIMEType = %q", blob.MIMEType)
		}
		got, err := audio.Decode(blob.Data)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		want := float32(i+1) / 10
		if d := got[0] - want; d > 1.0/32768 || d < -1.0/32768 {
			t.Fatalf("frame %d = %v, want %v", i, got[0], want)
		}
	}
	if p.Sent() != 5 {
		t.Fatalf("Sent = %d, want 5", p.Sent())
	}
}

func TestPipelineKeepsEveryFrameWhenSendsLag(t *testing.T) {
	const frames = 200
	src := &fakeSource{}
	p := New(src, Options{})
	sender := &fakeSender{delay: 3 * time.Millisecond}
	p.Open(context.Background(), sender)

	done := make(chan struct{})
	go func() {
		for i := 0; i < frames; i++ {
			src.push([]float32{float32(i%100) / 100})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("capture tap blocked on a slow sender")
	}

	deadline := time.Now().Add(5 * time.Second)
	for sender.count() < frames && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Close()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.blobs) != frames {
		t.Fatalf("sent %d frames, want %d", len(sender.blobs), frames)
	}
	for i, blob := range sender.blobs {
		got, err := audio.Decode(blob.Data)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		want := float32(i%100) / 100
		if d := got[0] - want; d > 1.0/32768 || d < -1.0/32768 {
			t.Fatalf("frame %d = %v, want %v", i, got[0], want)
		}
	}
}

func TestPipelineCloseStopsDelivery(t *testing.T) {
	src := &fakeSource{}
	p := New(src, Options{})
	sender := &fakeSender{}
	p.Open(context.Background(), sender)
	p.Close()
	p.Close()

	if src.tapCount() != 0 {
		t.Fatalf("tap still registered after Close")
	}
	src.push([]float32{0.5})
	time.Sleep(10 * time.Millisecond)
	if sender.count() != 0 {
		t.Fatalf("frame delivered after Close")
	}
}

func TestPipelineSendErrorDoesNotStopCapture(t *testing.T) {
	src := &fakeSource{}
	p := New(src, Options{})
	sender := &fakeSender{err: errors.New("transient")}
	p.Open(context.Background(), sender)
	src.push([]float32{0.1})
	time.Sleep(10 * time.Millisecond)

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	src.push([]float32{0.2})
	waitUntil(t, func() bool { return sender.count() == 1 })
	p.Close()
}
