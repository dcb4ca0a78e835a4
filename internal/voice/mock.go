package voice

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ent0n29/receptionist/internal/audio"
	"github.com/ent0n29/receptionist/internal/tools"
)

// MockConfig scripts the local conversation played by MockDialer.
type MockConfig struct {
	// OutputSampleRate is the rate of the synthesized replies.
	OutputSampleRate int
	// BookAfterFrames is how many captured frames pass before the canned booking.
	BookAfterFrames int
	// BargeInLevel is the RMS above which caller audio interrupts a reply; zero disables it.
	BargeInLevel float64
	// Appointment is the argument set of the canned create_appointment call.
	Appointment map[string]any
}

func DefaultMockConfig() MockConfig {
	return MockConfig{
		OutputSampleRate: 24000,
		BookAfterFrames:  40,
		BargeInLevel:     0.3,
		Appointment: map[string]any{
			"customerName": "Иван Иванов",
			"date":         "утре",
			"time":         "14:30",
			"procedure":    "профилактичен преглед",
			"phone":        "0888123456",
		},
	}
}

// MockDialer is a local stand-in for a realtime model, used when no API key is configured.
// It greets with a tone, books one appointment after enough caller audio and
// confirms with a second tone once the tool response arrives.
type MockDialer struct {
	cfg MockConfig
}

func NewMockDialer(cfg MockConfig) *MockDialer {
	def := DefaultMockConfig()
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = def.OutputSampleRate
	}
	if cfg.BookAfterFrames <= 0 {
		cfg.BookAfterFrames = def.BookAfterFrames
	}
	if cfg.Appointment == nil {
		cfg.Appointment = def.Appointment
	}
	return &MockDialer{cfg: cfg}
}

func (d *MockDialer) Connect(ctx context.Context, _ string, cb Callbacks, cfg SessionConfig) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	booking := false
	for _, decl := range cfg.Tools {
		if decl.Name == tools.CreateAppointment {
			booking = true
		}
	}
	c := &mockConn{
		cfg:     d.cfg,
		cb:      cb,
		booking: booking,
		events:  make(chan func(), 64),
		stop:    make(chan struct{}),
	}
	go c.run()
	c.emit(func() {
		c.cb.open()
		c.reply(660, 400*time.Millisecond)
	})
	return c, nil
}

type mockConn struct {
	cfg     MockConfig
	cb      Callbacks
	booking bool

	mu        sync.Mutex
	frames    int
	booked    bool
	replyEnds time.Time
	callSeq   int
	closed    bool

	events    chan func()
	stop      chan struct{}
	closeOnce sync.Once
}

func (c *mockConn) SendRealtimeInput(ctx context.Context, blob audio.Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples, err := audio.Decode(blob.Data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.frames++
	bargeIn := c.cfg.BargeInLevel > 0 && time.Now().Before(c.replyEnds) && rms(samples) > c.cfg.BargeInLevel
	if bargeIn {
		c.replyEnds = time.Time{}
	}
	book := c.booking && !c.booked && c.frames >= c.cfg.BookAfterFrames
	if book {
		c.booked = true
		c.callSeq++
	}
	callID := fmt.Sprintf("mock-call-%d", c.callSeq)
	c.mu.Unlock()

	if bargeIn {
		c.emit(func() { c.cb.message(&ServerMessage{Interrupted: true}) })
	}
	if book {
		args := make(map[string]any, len(c.cfg.Appointment))
		for k, v := range c.cfg.Appointment {
			args[k] = v
		}
		c.emit(func() {
			c.cb.message(&ServerMessage{ToolCalls: []FunctionCall{{ID: callID, Name: tools.CreateAppointment, Args: args}}})
		})
	}
	return nil
}

func (c *mockConn) SendToolResponse(ctx context.Context, resp ToolResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	freq := 880.0
	if _, failed := resp.Response["error"]; failed {
		freq = 220
	}
	c.emit(func() { c.reply(freq, 600*time.Millisecond) })
	return nil
}

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stop)
	})
	return nil
}

func (c *mockConn) emit(fn func()) {
	select {
	case c.events <- fn:
	case <-c.stop:
	}
}

func (c *mockConn) run() {
	for {
		select {
		case <-c.stop:
			return
		case fn := <-c.events:
			fn()
		}
	}
}

// reply synthesizes a tone in 100ms chunks followed by a turn-complete marker.
func (c *mockConn) reply(freq float64, d time.Duration) {
	rate := c.cfg.OutputSampleRate
	c.mu.Lock()
	c.replyEnds = time.Now().Add(d)
	c.mu.Unlock()

	chunk := int(audio.DurationToFrames(100*time.Millisecond, rate))
	total := int(audio.DurationToFrames(d, rate))
	msg := &ServerMessage{TurnComplete: true}
	for start := 0; start < total; start += chunk {
		n := min(chunk, total-start)
		samples := make([]float32, n)
		for i := range samples {
			t := float64(start+i) / float64(rate)
			samples[i] = float32(0.2 * math.Sin(2*math.Pi*freq*t))
		}
		msg.Audio = append(msg.Audio, audio.Encode(samples, rate).Data)
	}
	c.cb.message(msg)
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
