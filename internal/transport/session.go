package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/rickgao/codecast/internal/collab"
)

var _ collab.Conn = (*session)(nil)

// subscription is a live SUBSCRIBE on a session.
type subscription struct {
	topic   string
	deliver func([]byte)
}

// session is one handshaken STOMP connection.
type session struct {
	cfg    Config
	logger *slog.Logger
	conn   *websocket.Conn
	framer framer

	// Write serialization
	writeMu sync.Mutex

	// State
	mu       sync.Mutex
	subs     map[string]*subscription // subscription id → binding
	lastRead time.Time
	err      error
	version  string

	// Negotiated heart-beats
	sendEvery   time.Duration
	expectEvery time.Duration

	nextSub atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(cfg Config, conn *websocket.Conn, fr framer, logger *slog.Logger) *session {
	return &session{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		framer: fr,
		subs:   make(map[string]*subscription),
		done:   make(chan struct{}),
	}
}

// handshake exchanges CONNECT/CONNECTED, bounded by ctx.
func (s *session) handshake(ctx context.Context, credential, host string) error {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
	}

	// Unblock the pending read if ctx ends first.
	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			s.conn.SetReadDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()

	err := s.exchangeConnect(credential, host)
	close(stop)
	<-exited

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrHandshakeTimeout, ctxErr)
		}
		return ctxErr
	}
	if err != nil {
		// The read deadline can fire before ctx reports it.
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
		}
		return err
	}

	s.conn.SetReadDeadline(time.Time{})
	return nil
}

func (s *session) exchangeConnect(credential, host string) error {
	if _, ok := s.framer.(sockjsFramer); ok {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read sockjs open: %w", err)
		}
		if len(data) == 0 || data[0] != sockjsOpen {
			return fmt.Errorf("expected sockjs open frame, got %q", data)
		}
	}

	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1,1.0",
		frame.Host, host,
		frame.HeartBeat, formatHeartBeat(s.cfg.HeartbeatOut, s.cfg.HeartbeatIn),
	)
	if credential != "" {
		connect.Header.Add("Authorization", "Bearer "+credential)
	}
	if err := s.writeFrame(connect); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read connected: %w", err)
		}
		payloads, err := s.framer.unwrap(data)
		if err != nil {
			return err
		}

		for _, p := range payloads {
			frames, err := decodeFrames(p)
			if err != nil {
				return err
			}
			for _, f := range frames {
				switch f.Command {
				case frame.CONNECTED:
					sx, sy, err := parseHeartBeat(f.Header.Get(frame.HeartBeat))
					if err != nil {
						return err
					}
					s.sendEvery, s.expectEvery = negotiate(s.cfg.HeartbeatOut, s.cfg.HeartbeatIn, sx, sy)
					s.version = f.Header.Get(frame.Version)
					return nil
				case frame.ERROR:
					return serverError(f)
				}
			}
		}
	}
}

// start launches the read and heart-beat goroutines.
func (s *session) start() {
	s.mu.Lock()
	s.lastRead = time.Now()
	s.mu.Unlock()

	go s.readLoop()
	if s.sendEvery > 0 || s.expectEvery > 0 {
		go s.heartbeatLoop()
	}

	s.logger.Debug("stomp session established",
		"version", s.version,
		"send_heartbeat", s.sendEvery,
		"expect_heartbeat", s.expectEvery,
	)
}

// Subscribe sends SUBSCRIBE and routes matching MESSAGE frames to deliver.
func (s *session) Subscribe(topic string, deliver func([]byte)) (func() error, error) {
	if !s.alive() {
		return nil, ErrNotConnected
	}

	id := "sub-" + strconv.FormatInt(s.nextSub.Add(1)-1, 10)

	s.mu.Lock()
	s.subs[id] = &subscription{topic: topic, deliver: deliver}
	s.mu.Unlock()

	sub := frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, topic,
		frame.Ack, "auto",
	)
	if err := s.writeFrame(sub); err != nil {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	return func() error {
		s.mu.Lock()
		_, ok := s.subs[id]
		delete(s.subs, id)
		s.mu.Unlock()
		// A dead session holds no server-side subscriptions
		if !ok || !s.alive() {
			return nil
		}
		return s.writeFrame(frame.New(frame.UNSUBSCRIBE, frame.Id, id))
	}, nil
}

// Send writes a JSON SEND frame to topic.
func (s *session) Send(topic string, body []byte) error {
	send := frame.New(frame.SEND,
		frame.Destination, topic,
		frame.ContentType, "application/json",
		frame.ContentLength, strconv.Itoa(len(body)),
	)
	send.Body = body
	return s.writeFrame(send)
}

// Done is closed once the session is lost or closed.
func (s *session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is alive.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends DISCONNECT and closes the websocket.
func (s *session) Close() error {
	if !s.alive() {
		return nil
	}

	if err := s.writeFrame(frame.New(frame.DISCONNECT)); err != nil {
		s.logger.Debug("failed to send disconnect", "error", err)
	}
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.fail(ErrClosed)
	return nil
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// fail ends the session with err. Only the first call has effect.
func (s *session) fail(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		close(s.done)
		s.conn.Close()
	})
}

// readLoop reads websocket messages and dispatches the frames they carry.
func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}

		s.mu.Lock()
		s.lastRead = time.Now()
		s.mu.Unlock()

		payloads, err := s.framer.unwrap(data)
		if err != nil {
			s.fail(err)
			return
		}

		for _, p := range payloads {
			frames, err := decodeFrames(p)
			if err != nil {
				s.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			for _, f := range frames {
				if err := s.dispatch(f); err != nil {
					s.fail(err)
					return
				}
			}
		}
	}
}

// dispatch handles one inbound frame. A returned error ends the session.
func (s *session) dispatch(f *frame.Frame) error {
	switch f.Command {
	case frame.MESSAGE:
		id := f.Header.Get(frame.Subscription)
		s.mu.Lock()
		sub := s.subs[id]
		s.mu.Unlock()

		if sub == nil {
			s.logger.Debug("message for unknown subscription", "subscription", id)
			return nil
		}
		sub.deliver(f.Body)
		return nil

	case frame.ERROR:
		return serverError(f)

	case frame.RECEIPT:
		return nil
	}

	s.logger.Debug("ignoring frame", "command", f.Command)
	return nil
}

// heartbeatLoop sends heart-beats and watches for a silent server.
func (s *session) heartbeatLoop() {
	var sendC, checkC <-chan time.Time
	if s.sendEvery > 0 {
		t := time.NewTicker(s.sendEvery)
		defer t.Stop()
		sendC = t.C
	}
	if s.expectEvery > 0 {
		t := time.NewTicker(s.expectEvery)
		defer t.Stop()
		checkC = t.C
	}

	for {
		select {
		case <-s.done:
			return

		case <-sendC:
			if err := s.writePayload(heartbeat); err != nil {
				s.logger.Debug("failed to send heart-beat", "error", err)
			}

		case <-checkC:
			s.mu.Lock()
			lastRead := s.lastRead
			s.mu.Unlock()

			if time.Since(lastRead) > 2*s.expectEvery {
				s.logger.Warn("no heart-beat received, connection stale",
					"last_read", lastRead,
					"expected_every", s.expectEvery,
				)
				s.fail(ErrStaleConnection)
				return
			}
		}
	}
}

func (s *session) writeFrame(f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return s.writePayload(data)
}

// writePayload frames and writes one STOMP payload.
func (s *session) writePayload(payload []byte) error {
	if !s.alive() {
		return ErrNotConnected
	}
	msg, err := s.framer.wrap(payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func serverError(f *frame.Frame) *ServerError {
	return &ServerError{
		Message: f.Header.Get(frame.Message),
		Body:    string(f.Body),
	}
}
