package collab

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrDisconnected = errors.New("client disconnected")
)

// State is the lifecycle state of the client's connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Conn is a live, handshaken connection to the collaboration server.
//
// Implementations deliver inbound bodies from their own goroutine and must not
// call back into the Client synchronously from Subscribe, Send or Close.
type Conn interface {
	// Subscribe binds deliver to topic and returns the capability to unbind it.
	Subscribe(topic string, deliver func(body []byte)) (unsubscribe func() error, err error)

	// Send writes body to topic.
	Send(topic string, body []byte) error

	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}

	// Err reports why Done was closed.
	Err() error

	// Close tears the connection down.
	Close() error
}

// Dialer opens a connection and performs the handshake, presenting credential
// as connection metadata. An empty credential means anonymous.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, credential string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, credential string) (Conn, error) {
	return f(ctx, credential)
}

// Handler receives messages for a subscribed topic.
//
// Registrations are deduplicated on (topic, handler) when the handler value is
// comparable, e.g. a pointer. HandlerFunc values are never deduplicated.
type Handler interface {
	HandleMessage(Message)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(Message)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(m Message) {
	f(m)
}

// Message is an inbound frame body delivered to a Handler.
type Message struct {
	Topic      string
	Data       json.RawMessage // JSON body, or a FallbackEnvelope when Fallback is set
	Fallback   bool            // True if the body was not valid JSON
	ReceivedAt time.Time
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// FallbackEnvelope wraps a body that could not be parsed as JSON.
type FallbackEnvelope struct {
	Raw string `json:"raw"`
}

// Config configures a Client.
type Config struct {
	// ReconnectDelay is the fixed wait before each automatic reconnect attempt.
	// Zero or negative disables automatic reconnect.
	ReconnectDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 5 * time.Second,
	}
}

// Stats is a point-in-time view of the client.
type Stats struct {
	State         State
	Subscriptions int // Registered records
	Bound         int // Records bound to the current connection
	Reconnects    int // Successful automatic reconnects
}
