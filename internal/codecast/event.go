package codecast

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rickgao/codecast/internal/collab"
)

// EventType identifies a room event.
type EventType string

const (
	EventCodeUpdate EventType = "code_update"
	EventCursorMove EventType = "cursor_move"
	EventJoin       EventType = "join"
	EventLeave      EventType = "leave"
	EventChat       EventType = "chat"
	EventUnknown    EventType = "unknown" // Unrecognized type or non-JSON body
)

// Known reports whether t is one of the defined event types.
func (t EventType) Known() bool {
	switch t {
	case EventCodeUpdate, EventCursorMove, EventJoin, EventLeave, EventChat:
		return true
	}
	return false
}

// Cursor is a zero-based editor position.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Event is one message exchanged in a room.
type Event struct {
	Type     EventType `json:"type"`
	Room     string    `json:"room,omitempty"`
	Sender   string    `json:"sender,omitempty"`
	Code     string    `json:"code,omitempty"`
	Language string    `json:"language,omitempty"`
	Cursor   *Cursor   `json:"cursor,omitempty"`
	Text     string    `json:"text,omitempty"`
	SentAt   int64     `json:"sent_at,omitempty"` // Unix milliseconds

	// Raw is the body as received. Not serialized.
	Raw json.RawMessage `json:"-"`
}

// ParseEvent classifies an inbound message. It never fails: bodies that are
// not JSON, lack a known type, or do not decode come back as EventUnknown.
func ParseEvent(msg collab.Message) Event {
	unknown := Event{Type: EventUnknown, Raw: msg.Data}
	if msg.Fallback {
		return unknown
	}

	typ := EventType(gjson.GetBytes(msg.Data, "type").String())
	if !typ.Known() {
		return unknown
	}

	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return unknown
	}
	ev.Raw = msg.Data
	return ev
}

// Topics derives destinations from a broadcast and a send prefix.
type Topics struct {
	Broadcast string // Subscribed destination prefix
	Send      string // Published destination prefix
}

// DefaultTopics returns the standard codecast prefixes.
func DefaultTopics() Topics {
	return Topics{
		Broadcast: "/topic/codecast",
		Send:      "/app/codecast",
	}
}

// BroadcastTopic returns the destination carrying room's events.
func (t Topics) BroadcastTopic(room string) string {
	return strings.TrimSuffix(t.Broadcast, "/") + "/" + room
}

// SendTopic returns the destination clients publish room events to.
func (t Topics) SendTopic(room string) string {
	return strings.TrimSuffix(t.Send, "/") + "/" + room
}

// RoomOf extracts the room from a broadcast destination.
func (t Topics) RoomOf(topic string) (string, bool) {
	prefix := strings.TrimSuffix(t.Broadcast, "/") + "/"
	room, ok := strings.CutPrefix(topic, prefix)
	if !ok || room == "" || strings.Contains(room, "/") {
		return "", false
	}
	return room, true
}
