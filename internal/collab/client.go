package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// attempt is one shared handshake. Every Connect issued while it is in flight
// waits on the same done channel.
type attempt struct {
	done chan struct{}
	err  error
}

func (a *attempt) finish(err error) {
	a.err = err
	close(a.done)
}

// Client is the collaboration socket client. It is safe for concurrent use.
type Client struct {
	cfg      Config
	dialer   Dialer
	observer Observer

	mu          sync.Mutex
	state       State
	conn        Conn
	attempt     *attempt
	credential  string
	established bool   // A connection succeeded since the last Disconnect
	gen         uint64 // Bumped by Disconnect; stale goroutines compare against it
	reconnects  int
	subs        *registry

	// Lifetime of handshakes and reconnect loops; replaced by Disconnect.
	ctx    context.Context
	cancel context.CancelFunc

	// Events queued under mu, emitted after unlock. emitMu keeps them in
	// the order they were queued.
	queued []Event
	emitMu sync.Mutex

	now func() time.Time
}

// New creates a Client. A nil observer logs through slog.Default().
func New(cfg Config, dialer Dialer, observer Observer) *Client {
	if observer == nil {
		observer = NewLogObserver(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		dialer:   dialer,
		observer: observer,
		state:    StateIdle,
		subs:     newRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Connect establishes the connection, or joins the attempt already in flight.
// It returns once every registered subscription is bound.
//
// Automatic reconnect covers only connections that were established and then
// lost. A failed first attempt is returned and not retried in the background.
//
// ctx bounds only this caller's wait; the shared handshake keeps running until
// the transport resolves it or Disconnect is called.
func (c *Client) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.unlockAndEmit()
		return nil
	}
	a := c.attempt
	if a == nil {
		c.credential = credential
		a = c.startAttemptLocked()
	}
	c.unlockAndEmit()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect unbinds every subscription, closes the connection and discards
// all bookkeeping. It is safe to call in any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())

	conn := c.conn
	c.conn = nil
	c.attempt = nil
	c.established = false

	type binding struct {
		topic  string
		unbind func() error
	}
	var bindings []binding
	for _, rec := range c.subs.reset() {
		if rec.unbind != nil {
			bindings = append(bindings, binding{rec.topic, rec.unbind})
		}
		rec.unbind = nil
		rec.boundTo = nil
	}
	c.setStateLocked(StateIdle)
	c.unlockAndEmit()

	for _, b := range bindings {
		c.safeUnbind(b.topic, b.unbind)
	}
	if conn != nil {
		conn.Close()
	}
}

// Subscribe registers handler for topic and binds it immediately when
// connected. Otherwise the registration is bound on the next successful
// connect. The returned disposer releases this registration; extra calls are
// no-ops.
func (c *Client) Subscribe(topic string, handler Handler) (dispose func()) {
	if handler == nil {
		return func() {}
	}

	c.mu.Lock()
	rec, created := c.subs.add(topic, handler)
	if created && c.state == StateConnected && c.conn != nil {
		c.bindLocked(c.conn, rec)
	}
	c.unlockAndEmit()

	var once sync.Once
	return func() {
		once.Do(func() { c.release(rec) })
	}
}

// Publish sends payload to topic as JSON. A nil payload is sent as {}.
// While not connected the call is dropped and reported to the observer.
func (c *Client) Publish(topic string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.observer.Observe(Event{Kind: EventPublishDropped, Topic: topic, Err: ErrNotConnected})
		return
	}

	body, err := encodePayload(payload)
	if err != nil {
		c.observer.Observe(Event{Kind: EventPublishFailed, Topic: topic, Err: err})
		return
	}
	if err := conn.Send(topic, body); err != nil {
		c.observer.Observe(Event{Kind: EventPublishFailed, Topic: topic, Err: err})
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the client holds a live connection.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Stats returns current statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	bound := 0
	for _, rec := range c.subs.all() {
		if rec.unbind != nil && c.conn != nil && rec.boundTo == c.conn {
			bound++
		}
	}
	return Stats{
		State:         c.state,
		Subscriptions: c.subs.len(),
		Bound:         bound,
		Reconnects:    c.reconnects,
	}
}

// startAttemptLocked begins a handshake in the background.
func (c *Client) startAttemptLocked() *attempt {
	a := &attempt{done: make(chan struct{})}
	c.attempt = a
	c.setStateLocked(StateConnecting)
	go c.handshake(c.ctx, a, c.gen, c.credential)
	return a
}

// handshake dials, rebinds, and settles a.
func (c *Client) handshake(ctx context.Context, a *attempt, gen uint64, credential string) {
	conn, err := c.dialer.Dial(ctx, credential)

	c.mu.Lock()
	if gen != c.gen {
		c.unlockAndEmit()
		if err == nil {
			conn.Close()
		}
		a.finish(ErrDisconnected)
		return
	}

	c.attempt = nil
	if err != nil {
		c.setStateLocked(StateDisconnected)
		c.queueLocked(Event{Kind: EventConnectFailed, Err: err})
		c.unlockAndEmit()
		a.finish(fmt.Errorf("connect: %w", err))
		return
	}

	if c.established {
		c.reconnects++
	}
	c.established = true
	c.conn = conn
	c.rebindLocked(conn)
	c.setStateLocked(StateConnected)
	c.unlockAndEmit()

	go c.watch(conn, gen)
	a.finish(nil)
}

// watch waits for conn to drop and schedules the reconnect.
func (c *Client) watch(conn Conn, gen uint64) {
	<-conn.Done()

	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	for _, rec := range c.subs.all() {
		if rec.boundTo == conn {
			rec.unbind = nil
			rec.boundTo = nil
		}
	}
	c.setStateLocked(StateDisconnected)
	c.queueLocked(Event{Kind: EventConnectionLost, Err: conn.Err()})

	if c.cfg.ReconnectDelay > 0 {
		go c.reconnect(c.ctx, gen, c.cfg.ReconnectDelay)
	}
	c.unlockAndEmit()
}

// reconnect retries with a fixed delay until a connection is established or
// the client is disconnected.
func (c *Client) reconnect(ctx context.Context, gen uint64, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for n := 1; ; n++ {
		c.observer.Observe(Event{Kind: EventReconnectScheduled, Attempt: n, Delay: delay})

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if gen != c.gen || c.state == StateConnected {
			c.unlockAndEmit()
			return
		}
		a := c.attempt
		if a == nil {
			a = c.startAttemptLocked()
		}
		c.unlockAndEmit()

		select {
		case <-ctx.Done():
			return
		case <-a.done:
		}
		if a.err == nil {
			return
		}
		timer.Reset(delay)
	}
}

// rebindLocked replaces every record's binding with one against conn.
func (c *Client) rebindLocked(conn Conn) {
	for _, rec := range c.subs.all() {
		if rec.unbind != nil {
			c.safeUnbindLocked(rec.topic, rec.unbind)
			rec.unbind = nil
			rec.boundTo = nil
		}
		c.bindLocked(conn, rec)
	}
}

// bindLocked creates a live binding for rec. On failure the record stays
// pending and is retried on the next rebind.
func (c *Client) bindLocked(conn Conn, rec *record) {
	topic, handler := rec.topic, rec.handler
	unbind, err := conn.Subscribe(topic, func(body []byte) {
		handler.HandleMessage(c.decode(topic, body))
	})
	if err != nil {
		c.queueLocked(Event{Kind: EventSubscribeFailed, Topic: topic, Err: err})
		return
	}
	rec.unbind = unbind
	rec.boundTo = conn
}

// release drops one reference to rec, unbinding it when none remain.
func (c *Client) release(rec *record) {
	c.mu.Lock()
	if !c.subs.contains(rec) {
		c.mu.Unlock()
		return
	}
	rec.refs--
	if rec.refs > 0 {
		c.mu.Unlock()
		return
	}
	c.subs.remove(rec)
	unbind := rec.unbind
	rec.unbind = nil
	rec.boundTo = nil
	c.unlockAndEmit()

	if unbind != nil {
		c.safeUnbind(rec.topic, unbind)
	}
}

// safeUnbind runs unbind, reporting errors and panics instead of propagating.
func (c *Client) safeUnbind(topic string, unbind func() error) {
	if err := callUnbind(unbind); err != nil {
		c.observer.Observe(Event{Kind: EventUnsubscribeFailed, Topic: topic, Err: err})
	}
}

func (c *Client) safeUnbindLocked(topic string, unbind func() error) {
	if err := callUnbind(unbind); err != nil {
		c.queueLocked(Event{Kind: EventUnsubscribeFailed, Topic: topic, Err: err})
	}
}

func callUnbind(unbind func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unsubscribe panic: %v", r)
		}
	}()
	return unbind()
}

// decode wraps body as a Message, falling back to an envelope for non-JSON.
func (c *Client) decode(topic string, body []byte) Message {
	msg := Message{Topic: topic, ReceivedAt: c.now()}
	if gjson.ValidBytes(body) {
		msg.Data = json.RawMessage(body)
		return msg
	}

	c.observer.Observe(Event{Kind: EventUndecodable, Topic: topic, Err: fmt.Errorf("invalid json body (%d bytes)", len(body))})
	data, _ := json.Marshal(FallbackEnvelope{Raw: string(body)})
	msg.Data = data
	msg.Fallback = true
	return msg
}

func (c *Client) setStateLocked(to State) {
	if c.state == to {
		return
	}
	from := c.state
	c.state = to
	c.queueLocked(Event{Kind: EventStateChanged, From: from, To: to})
}

func (c *Client) queueLocked(ev Event) {
	c.queued = append(c.queued, ev)
}

// unlockAndEmit releases mu and delivers queued events outside the lock.
func (c *Client) unlockAndEmit() {
	events := c.queued
	c.queued = nil
	if len(events) == 0 {
		c.mu.Unlock()
		return
	}

	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	for _, ev := range events {
		c.observer.Observe(ev)
	}
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return body, nil
}
