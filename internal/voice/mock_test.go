package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/receptionist/internal/audio"
	"github.com/ent0n29/receptionist/internal/tools"
)

type recorder struct {
	mu     sync.Mutex
	opened int
	msgs   []*ServerMessage
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnOpen: func() {
			r.mu.Lock()
			r.opened++
			r.mu.Unlock()
		},
		OnMessage: func(m *ServerMessage) {
			r.mu.Lock()
			r.msgs = append(r.msgs, m)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		ok := cond()
		r.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestMockDialerScriptedBooking(t *testing.T) {
	decls, err := tools.Declarations()
	if err != nil {
		t.Fatalf("Declarations() error = %v", err)
	}
	d := NewMockDialer(MockConfig{BookAfterFrames: 3, BargeInLevel: -1})
	rec := &recorder{}
	conn, err := d.Connect(context.Background(), "", rec.callbacks(), SessionConfig{Tools: decls})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	rec.waitFor(t, func() bool { return rec.opened == 1 && len(rec.msgs) == 1 })
	rec.mu.Lock()
	greeting := rec.msgs[0]
	rec.mu.Unlock()
	if len(greeting.Audio) == 0 || !greeting.TurnComplete {
		t.Fatalf("greeting = %+v, want audio + turn complete", greeting)
	}

	silence := audio.Encode(make([]float32, 512), 16000)
	for i := 0; i < 3; i++ {
		if err := conn.SendRealtimeInput(context.Background(), silence); err != nil {
			t.Fatalf("SendRealtimeInput() error = %v", err)
		}
	}
	rec.waitFor(t, func() bool { return len(rec.msgs) == 2 })
	rec.mu.Lock()
	call := rec.msgs[1].ToolCalls
	rec.mu.Unlock()
	if len(call) != 1 || call[0].Name != tools.CreateAppointment || call[0].Args["customerName"] != "Иван Иванов" {
		t.Fatalf("tool call = %+v", call)
	}

	if err := conn.SendToolResponse(context.Background(), ToolResponse{ID: call[0].ID, Name: call[0].Name, Response: tools.SuccessResponse()}); err != nil {
		t.Fatalf("SendToolResponse() error = %v", err)
	}
	rec.waitFor(t, func() bool { return len(rec.msgs) == 3 })
}

func TestMockConnClosedRejectsSends(t *testing.T) {
	conn, err := NewMockDialer(MockConfig{}).Connect(context.Background(), "", Callbacks{}, SessionConfig{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = conn.Close()
	_ = conn.Close()
	if err := conn.SendRealtimeInput(context.Background(), audio.Encode([]float32{0}, 16000)); err != ErrConnClosed {
		t.Fatalf("SendRealtimeInput() error = %v, want ErrConnClosed", err)
	}
}
