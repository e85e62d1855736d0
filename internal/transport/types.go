package transport

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no heart-beat)")
	ErrHandshakeTimeout = errors.New("stomp handshake timeout")
	ErrClosed           = errors.New("connection closed")
	ErrClosedByServer   = errors.New("connection closed by server")
)

// ServerError is a STOMP ERROR frame received from the broker.
type ServerError struct {
	Message string // "message" header
	Body    string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stomp error: %s", e.Message)
	}
	return fmt.Sprintf("stomp error: %s: %s", e.Message, e.Body)
}

// Mode selects how STOMP frames are carried over the websocket.
type Mode string

const (
	ModeWebSocket Mode = "websocket" // One STOMP frame per websocket message
	ModeSockJS    Mode = "sockjs"    // SockJS websocket transport framing
)

// Config configures a Dialer.
type Config struct {
	URL              string        // ws(s):// endpoint, or the http(s):// SockJS base URL
	Mode             Mode          // Framing mode
	Host             string        // STOMP host header (empty = URL host)
	HandshakeTimeout time.Duration // Bound on websocket upgrade plus CONNECTED
	WriteTimeout     time.Duration // Write deadline for sends
	HeartbeatOut     time.Duration // Interval we offer to send heart-beats (0 = none)
	HeartbeatIn      time.Duration // Interval we want to receive heart-beats (0 = none)
	UserAgent        string        // Sent on the websocket upgrade if set
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeWebSocket,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		HeartbeatOut:     10 * time.Second,
		HeartbeatIn:      10 * time.Second,
	}
}
