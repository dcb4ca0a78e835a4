package session

import (
	"errors"
	"time"

	"github.com/ent0n29/receptionist/internal/tools"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// FailureHint is the only failure text shown to callers; causes go to the logs.
const FailureHint = "Грешка при свързване. Моля, проверете микрофона си."

var (
	// ErrChannelOpen wraps failures to establish the model channel.
	ErrChannelOpen = errors.New("voice channel could not be opened")
	// ErrTransport wraps mid-session channel failures.
	ErrTransport = errors.New("voice channel failed")
	// ErrCaptureLost is reported when the microphone stops mid-session.
	ErrCaptureLost = errors.New("capture device stopped")
	// ErrConnectCanceled is returned when a connect is superseded before it completes.
	ErrConnectCanceled = errors.New("connect canceled")
	// ErrIdle is recorded when the janitor ends a silent session.
	ErrIdle = errors.New("session idle")
)

// Observer receives every outward notification of the controller. Nil slots
// are skipped. Callbacks run on a dedicated goroutine, in the order the
// controller produced them, and may call back into the controller.
type Observer struct {
	OnStatusChange       func(Status)
	OnVolumeChange       func(level float64)
	OnReservationCreated func(tools.Appointment)
}

// Snapshot is a point-in-time view of the controller for status endpoints and logs.
type Snapshot struct {
	Status      Status     `json:"status"`
	SessionID   string     `json:"session_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	// LastError is the operational cause of the last failure. It is not meant for end users.
	LastError string `json:"-"`
	Hint      string `json:"hint,omitempty"`
}
