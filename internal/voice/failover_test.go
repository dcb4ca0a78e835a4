package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/ent0n29/receptionist/internal/audio"
)

type stubConn struct{}

func (stubConn) SendRealtimeInput(context.Context, audio.Blob) error  { return nil }
func (stubConn) SendToolResponse(context.Context, ToolResponse) error { return nil }
func (stubConn) Close() error                                         { return nil }

type stubDialer struct {
	err    error
	calls  int
	models []string
}

func (d *stubDialer) Connect(_ context.Context, model string, _ Callbacks, _ SessionConfig) (Conn, error) {
	d.calls++
	d.models = append(d.models, model)
	if d.err != nil {
		return nil, d.err
	}
	return stubConn{}, nil
}

func TestFailoverDialerSwitchesToFallbackAndSticks(t *testing.T) {
	ctx := context.Background()
	primary := &stubDialer{err: errors.New("primary unavailable")}
	fallback := &stubDialer{}
	d := NewFailoverDialer(primary, fallback, "")

	for i := 0; i < 2; i++ {
		if _, err := d.Connect(ctx, "model-a", Callbacks{}, SessionConfig{}); err != nil {
			t.Fatalf("Connect() #%d error = %v", i, err)
		}
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
	if !d.FallbackActive() {
		t.Fatalf("fallback should stay active")
	}
}

func TestFailoverDialerMapsFallbackModel(t *testing.T) {
	primary := &stubDialer{err: errors.New("quota exceeded")}
	fallback := &stubDialer{}
	d := NewFailoverDialer(primary, fallback, " model-b ")

	if _, err := d.Connect(context.Background(), "model-a", Callbacks{}, SessionConfig{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if primary.models[0] != "model-a" || fallback.models[0] != "model-b" {
		t.Fatalf("models primary=%v fallback=%v", primary.models, fallback.models)
	}
}

func TestFailoverDialerReturnsToPrimary(t *testing.T) {
	primary := &stubDialer{err: errors.New("down")}
	fallback := &stubDialer{}
	d := NewFailoverDialer(primary, fallback, "")
	if _, err := d.Connect(context.Background(), "m", Callbacks{}, SessionConfig{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	primary.err = nil
	fallback.err = errors.New("fallback down")
	if _, err := d.Connect(context.Background(), "m", Callbacks{}, SessionConfig{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if d.FallbackActive() {
		t.Fatalf("primary should be preferred again")
	}
}

func TestFailoverDialerBothFail(t *testing.T) {
	fbErr := errors.New("fallback down")
	d := NewFailoverDialer(&stubDialer{err: errors.New("primary down")}, &stubDialer{err: fbErr}, "")
	_, err := d.Connect(context.Background(), "m", Callbacks{}, SessionConfig{})
	if !errors.Is(err, fbErr) {
		t.Fatalf("Connect() error = %v, want wrapped fallback error", err)
	}
	if d.FallbackActive() {
		t.Fatalf("fallback must not activate when it failed")
	}
}

func TestFailoverDialerDoesNotFallBackOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fallback := &stubDialer{}
	d := NewFailoverDialer(&stubDialer{err: context.Canceled}, fallback, "")
	if _, err := d.Connect(ctx, "m", Callbacks{}, SessionConfig{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect() error = %v, want context.Canceled", err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback calls = %d, want 0", fallback.calls)
	}
}
