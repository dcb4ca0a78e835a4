package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/receptionist/internal/reservations"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl      MessageType = "client_control"
	TypeStatusEvent        MessageType = "status_event"
	TypeVolumeEvent        MessageType = "volume_event"
	TypeReservationCreated MessageType = "reservation_created"
	TypeErrorEvent         MessageType = "error_event"
)

// Client control actions.
const (
	ActionToggle     = "toggle"
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	TSMs   int64       `json:"ts_ms,omitempty"`
}

type StatusEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Status    string      `json:"status"`
	Hint      string      `json:"hint,omitempty"`
	TSMs      int64       `json:"ts_ms"`
}

type VolumeEvent struct {
	Type  MessageType `json:"type"`
	Level float64     `json:"level"`
	TSMs  int64       `json:"ts_ms"`
}

type ReservationCreated struct {
	Type        MessageType              `json:"type"`
	Reservation reservations.Reservation `json:"reservation"`
	TSMs        int64                    `json:"ts_ms"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionToggle, ActionConnect, ActionDisconnect:
			return msg, nil
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
	default:
		return nil, ErrUnsupportedType
	}
}
