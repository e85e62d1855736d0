package codecast

import (
	"errors"
	"sync"
	"time"

	"github.com/rickgao/codecast/internal/collab"
)

// Errors
var (
	ErrRoomClosed  = errors.New("room closed")
	ErrInvalidRoom = errors.New("room id is required")
)

// Client is the part of collab.Client a Room needs.
type Client interface {
	Subscribe(topic string, handler collab.Handler) (dispose func())
	Publish(topic string, payload any)
}

var _ Client = (*collab.Client)(nil)

// EventHandler receives room events.
type EventHandler interface {
	HandleEvent(Event)
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(Event)

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ev Event) {
	f(ev)
}

// RoomConfig configures a Room.
type RoomConfig struct {
	Topics   Topics
	Sender   string // Stamped on outbound events
	EchoSelf bool   // Deliver events whose sender is Sender
}

// Room is a joined codecast room.
type Room struct {
	id      string
	cfg     RoomConfig
	client  Client
	handler EventHandler
	now     func() time.Time

	mu      sync.Mutex
	dispose func()
	closed  bool
}

// Join subscribes to the room's broadcast topic and announces the sender.
// The subscription outlives connection drops; it ends with Leave.
func Join(client Client, roomID string, cfg RoomConfig, handler EventHandler) (*Room, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	if cfg.Topics == (Topics{}) {
		cfg.Topics = DefaultTopics()
	}

	r := &Room{
		id:      roomID,
		cfg:     cfg,
		client:  client,
		handler: handler,
		now:     time.Now,
	}
	r.dispose = client.Subscribe(cfg.Topics.BroadcastTopic(roomID), r)

	r.send(Event{Type: EventJoin})
	return r, nil
}

// ID returns the room id.
func (r *Room) ID() string {
	return r.id
}

// HandleMessage implements collab.Handler.
func (r *Room) HandleMessage(msg collab.Message) {
	ev := ParseEvent(msg)
	if ev.Room == "" {
		ev.Room = r.id
	}

	if !r.cfg.EchoSelf && ev.Type != EventUnknown && r.cfg.Sender != "" && ev.Sender == r.cfg.Sender {
		return
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed || r.handler == nil {
		return
	}

	r.handler.HandleEvent(ev)
}

// PublishCode broadcasts the full contents of the shared buffer.
func (r *Room) PublishCode(code, language string) error {
	return r.publish(Event{Type: EventCodeUpdate, Code: code, Language: language})
}

// MoveCursor broadcasts the sender's cursor position.
func (r *Room) MoveCursor(line, column int) error {
	return r.publish(Event{Type: EventCursorMove, Cursor: &Cursor{Line: line, Column: column}})
}

// Say broadcasts a chat line.
func (r *Room) Say(text string) error {
	return r.publish(Event{Type: EventChat, Text: text})
}

// Leave announces departure and ends the subscription. Safe to call twice.
func (r *Room) Leave() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	dispose := r.dispose
	r.mu.Unlock()

	r.send(Event{Type: EventLeave})
	if dispose != nil {
		dispose()
	}
	return nil
}

func (r *Room) publish(ev Event) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRoomClosed
	}
	r.send(ev)
	return nil
}

// send stamps ev with the room, sender and time and publishes it.
func (r *Room) send(ev Event) {
	ev.Room = r.id
	ev.Sender = r.cfg.Sender
	ev.SentAt = r.now().UnixMilli()

	r.client.Publish(r.cfg.Topics.SendTopic(r.id), ev)
}
