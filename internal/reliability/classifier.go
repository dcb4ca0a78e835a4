package reliability

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// CloseKind labels how a realtime channel ended.
type CloseKind string

const (
	CloseNormal   CloseKind = "normal"
	CloseLocal    CloseKind = "local"
	CloseAbnormal CloseKind = "abnormal"
)

// ClassifyClose decides whether a read error from a realtime channel is an
// orderly shutdown or a transport failure.
func ClassifyClose(err error) CloseKind {
	switch {
	case err == nil:
		return CloseNormal
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return CloseNormal
	case errors.Is(err, net.ErrClosed):
		return CloseLocal
	case errors.Is(err, io.EOF):
		return CloseNormal
	default:
		return CloseAbnormal
	}
}

// IsNormalClose reports whether err ends a channel without indicating a failure.
func IsNormalClose(err error) bool {
	return ClassifyClose(err) != CloseAbnormal
}
