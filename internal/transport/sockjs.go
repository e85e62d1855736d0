package transport

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SockJS frame types on the websocket transport.
const (
	sockjsOpen      = 'o'
	sockjsHeartbeat = 'h'
	sockjsArray     = 'a'
	sockjsMessage   = 'm'
	sockjsClose     = 'c'
)

// sockjsURL builds {base}/{server-id}/{session-id}/websocket with ws(s) scheme.
func sockjsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse sockjs url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported sockjs scheme %q", u.Scheme)
	}

	serverID := strconv.Itoa(rand.IntN(1000))
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + serverID + "/" + sessionID + "/websocket"
	return u.String(), nil
}

// sockjsFramer speaks the SockJS websocket transport framing.
type sockjsFramer struct{}

// wrap encodes payload as a one-element JSON array of strings.
func (sockjsFramer) wrap(payload []byte) ([]byte, error) {
	return json.Marshal([]string{string(payload)})
}

// unwrap returns the payloads in an inbound SockJS frame. Open and heart-beat
// frames carry none; a close frame is an error.
func (sockjsFramer) unwrap(msg []byte) ([][]byte, error) {
	if len(msg) == 0 {
		return nil, nil
	}

	switch msg[0] {
	case sockjsOpen, sockjsHeartbeat:
		return nil, nil

	case sockjsArray:
		var items []string
		if err := json.Unmarshal(msg[1:], &items); err != nil {
			return nil, fmt.Errorf("decode sockjs array: %w", err)
		}
		payloads := make([][]byte, len(items))
		for i, item := range items {
			payloads[i] = []byte(item)
		}
		return payloads, nil

	case sockjsMessage:
		var item string
		if err := json.Unmarshal(msg[1:], &item); err != nil {
			return nil, fmt.Errorf("decode sockjs message: %w", err)
		}
		return [][]byte{[]byte(item)}, nil

	case sockjsClose:
		var reason []any
		json.Unmarshal(msg[1:], &reason)
		return nil, fmt.Errorf("%w: %v", ErrClosedByServer, reason)
	}

	return nil, fmt.Errorf("unknown sockjs frame type %q", msg[0])
}
