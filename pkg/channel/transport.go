package channel

import (
	"context"
	"fmt"
)

// Close codes used by the channel
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseAbnormal         = 1006
	closeReasonDisconnect = "client disconnect"
)

// Conn is one established socket
type Conn interface {
	// ReadMessage blocks until the next text frame arrives. A closed
	// socket is reported as a *CloseError.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one text frame. Callers serialize writes.
	WriteMessage(data []byte) error

	// Close sends a close frame with code and reason and releases the socket
	Close(code int, reason string) error
}

// Dialer opens sockets
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseError reports how a socket was closed
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed (%d)", e.Code)
	}
	return fmt.Sprintf("connection closed (%d): %s", e.Code, e.Reason)
}

// normalClose reports whether code ends a connection without reconnecting
func normalClose(code int) bool {
	return code == CloseNormal || code == CloseGoingAway
}
