package collab

import (
	"log/slog"
	"time"
)

// EventKind identifies a condition reported through an Observer.
type EventKind int

const (
	EventStateChanged EventKind = iota + 1
	EventConnectFailed
	EventConnectionLost
	EventReconnectScheduled
	EventPublishDropped
	EventPublishFailed
	EventSubscribeFailed
	EventUnsubscribeFailed
	EventUndecodable
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventConnectFailed:
		return "connect_failed"
	case EventConnectionLost:
		return "connection_lost"
	case EventReconnectScheduled:
		return "reconnect_scheduled"
	case EventPublishDropped:
		return "publish_dropped"
	case EventPublishFailed:
		return "publish_failed"
	case EventSubscribeFailed:
		return "subscribe_failed"
	case EventUnsubscribeFailed:
		return "unsubscribe_failed"
	case EventUndecodable:
		return "undecodable"
	}
	return "unknown"
}

// Event is a side-channel report from the Client. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind    EventKind
	Topic   string
	Err     error
	From    State         // EventStateChanged
	To      State         // EventStateChanged
	Attempt int           // EventReconnectScheduled
	Delay   time.Duration // EventReconnectScheduled
}

// Observer receives side-channel events. Observe must not block and must not
// call back into the Client.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

// Observers fans an event out to every observer in order.
type Observers []Observer

// Observe forwards ev to each non-nil observer.
func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}

// LogObserver reports events through a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger uses slog.Default().
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// Observe logs ev at a level matching its severity.
func (o *LogObserver) Observe(ev Event) {
	switch ev.Kind {
	case EventStateChanged:
		o.logger.Info("connection state changed", "from", ev.From, "to", ev.To)
	case EventReconnectScheduled:
		o.logger.Info("reconnect scheduled", "attempt", ev.Attempt, "delay", ev.Delay)
	case EventPublishDropped:
		o.logger.Debug("publish dropped", "topic", ev.Topic, "error", ev.Err)
	case EventUndecodable:
		o.logger.Debug("message is not json, delivering fallback", "topic", ev.Topic, "error", ev.Err)
	default:
		o.logger.Warn(ev.Kind.String(), "topic", ev.Topic, "error", ev.Err)
	}
}
