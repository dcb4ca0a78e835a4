package voice

import (
	"context"

	"github.com/ent0n29/receptionist/internal/audio"
	"github.com/ent0n29/receptionist/internal/tools"
)

// SessionConfig is everything the model needs to run one conversation.
type SessionConfig struct {
	Instructions string
	VoiceName    string
	Tools        []tools.Declaration
	// Transcribe asks the provider for input and output transcripts.
	Transcribe bool
}

type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// ServerMessage is one inbound event from the model. A single message may carry
// tool calls, audio and an interruption together.
type ServerMessage struct {
	ToolCalls    []FunctionCall
	Audio        [][]byte
	Interrupted  bool
	TurnComplete bool

	InputTranscript  string
	OutputTranscript string
}

// Empty reports whether the message carries nothing a session reacts to.
func (m *ServerMessage) Empty() bool {
	return m == nil || (len(m.ToolCalls) == 0 && len(m.Audio) == 0 && !m.Interrupted && !m.TurnComplete &&
		m.InputTranscript == "" && m.OutputTranscript == "")
}

// Callbacks receive channel lifecycle events. They may be invoked from the
// provider's read goroutine, possibly before Connect returns.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(*ServerMessage)
	OnError   func(error)
	OnClose   func()
}

func (cb Callbacks) open() {
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
}

func (cb Callbacks) message(msg *ServerMessage) {
	if cb.OnMessage != nil {
		cb.OnMessage(msg)
	}
}

func (cb Callbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (cb Callbacks) closed() {
	if cb.OnClose != nil {
		cb.OnClose()
	}
}

// Conn is an open bidirectional channel to the model.
type Conn interface {
	SendRealtimeInput(ctx context.Context, blob audio.Blob) error
	SendToolResponse(ctx context.Context, resp ToolResponse) error
	Close() error
}

// Dialer opens channels to a realtime voice model.
type Dialer interface {
	Connect(ctx context.Context, model string, cb Callbacks, cfg SessionConfig) (Conn, error)
}
