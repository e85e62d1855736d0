package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

// stompPeer is the server side of one test connection.
type stompPeer struct {
	conn   *websocket.Conn
	req    *http.Request
	sockjs bool
}

// read returns the next non heart-beat frame.
func (p *stompPeer) read() (*frame.Frame, error) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		payloads := [][]byte{data}
		if p.sockjs {
			// Client messages are bare JSON arrays
			if payloads, err = (sockjsFramer{}).unwrap(append([]byte{'a'}, data...)); err != nil {
				return nil, err
			}
		}

		for _, payload := range payloads {
			frames, err := decodeFrames(payload)
			if err != nil {
				return nil, err
			}
			if len(frames) > 0 {
				return frames[0], nil
			}
		}
	}
}

func (p *stompPeer) write(f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	if p.sockjs {
		wrapped, err := (sockjsFramer{}).wrap(data)
		if err != nil {
			return err
		}
		data = append([]byte{'a'}, wrapped...)
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// accept reads CONNECT and answers CONNECTED with the given heart-beat.
func (p *stompPeer) accept(heartBeat string) (*frame.Frame, error) {
	connect, err := p.read()
	if err != nil {
		return nil, err
	}
	err = p.write(frame.New(frame.CONNECTED,
		frame.Version, "1.2",
		frame.HeartBeat, heartBeat,
	))
	return connect, err
}

// drain blocks until the client goes away.
func (p *stompPeer) drain() {
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// mockStompServer creates a test STOMP server.
func mockStompServer(t *testing.T, sockjs bool, handler func(*stompPeer)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return true },
		Subprotocols: []string{"v12.stomp"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		if sockjs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte("o")); err != nil {
				return
			}
		}
		handler(&stompPeer{conn: conn, req: r, sockjs: sockjs})
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.HeartbeatOut = 0
	cfg.HeartbeatIn = 0
	return cfg
}

func dial(t *testing.T, cfg Config, credential string) *session {
	t.Helper()
	conn, err := NewDialer(cfg, nil).Dial(context.Background(), credential)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn.(*session)
}

func waitDone(t *testing.T, s *session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestDial_ConnectHandshake(t *testing.T) {
	connects := make(chan *frame.Frame, 1)
	upgradeAuth := make(chan string, 1)

	server := mockStompServer(t, false, func(p *stompPeer) {
		upgradeAuth <- p.req.Header.Get("Authorization") + "|" + p.req.Header.Get("User-Agent")
		connect, err := p.accept("0,0")
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		connects <- connect
		p.drain()
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HeartbeatOut = 15 * time.Second
	cfg.HeartbeatIn = 20 * time.Second
	cfg.UserAgent = "codecast/test"
	s := dial(t, cfg, "tok-123")

	connect := <-connects
	if connect.Command != frame.CONNECT {
		t.Errorf("expected CONNECT, got %s", connect.Command)
	}
	if got := connect.Header.Get(frame.AcceptVersion); !strings.Contains(got, "1.2") {
		t.Errorf("accept-version = %q, want 1.2 offered", got)
	}
	if got := connect.Header.Get("Authorization"); got != "Bearer tok-123" {
		t.Errorf("Authorization = %q", got)
	}
	if got := connect.Header.Get(frame.Host); got != "127.0.0.1" {
		t.Errorf("host = %q, want 127.0.0.1", got)
	}
	if got := connect.Header.Get(frame.HeartBeat); got != "15000,20000" {
		t.Errorf("heart-beat = %q, want 15000,20000", got)
	}
	if got := <-upgradeAuth; got != "Bearer tok-123|codecast/test" {
		t.Errorf("upgrade headers = %q", got)
	}

	if s.version != "1.2" {
		t.Errorf("version = %q, want 1.2", s.version)
	}
	if s.sendEvery != 0 || s.expectEvery != 0 {
		t.Errorf("expected heart-beats disabled, got send=%v expect=%v", s.sendEvery, s.expectEvery)
	}
	if s.Err() != nil {
		t.Errorf("expected nil Err on live session, got %v", s.Err())
	}
}

func TestDial_NoCredential(t *testing.T) {
	connects := make(chan *frame.Frame, 1)

	server := mockStompServer(t, false, func(p *stompPeer) {
		connect, err := p.accept("0,0")
		if err != nil {
			return
		}
		connects <- connect
		p.drain()
	})
	defer server.Close()

	dial(t, testConfig(wsURL(server)), "")

	connect := <-connects
	if _, ok := connect.Header.Contains("Authorization"); ok {
		t.Error("expected no Authorization header without a credential")
	}
}

func TestDial_ServerError(t *testing.T) {
	server := mockStompServer(t, false, func(p *stompPeer) {
		if _, err := p.read(); err != nil {
			return
		}
		errFrame := frame.New(frame.ERROR, frame.Message, "bad credentials")
		errFrame.Body = []byte("token expired")
		p.write(errFrame)
		p.drain()
	})
	defer server.Close()

	_, err := NewDialer(testConfig(wsURL(server)), nil).Dial(context.Background(), "stale")
	if err == nil {
		t.Fatal("expected error")
	}

	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *ServerError, got %T: %v", err, err)
	}
	if serverErr.Message != "bad credentials" {
		t.Errorf("Message = %q", serverErr.Message)
	}
	if serverErr.Body != "token expired" {
		t.Errorf("Body = %q", serverErr.Body)
	}
}

func TestDial_HandshakeTimeout(t *testing.T) {
	server := mockStompServer(t, false, func(p *stompPeer) {
		p.drain()
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HandshakeTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := NewDialer(cfg, nil).Dial(context.Background(), "")
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("handshake took %v, expected ~50ms", elapsed)
	}
}

func TestHandshake_ReadDeadlineFiresFirst(t *testing.T) {
	server := mockStompServer(t, false, func(p *stompPeer) {
		p.drain()
	})
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// The socket deadline expires while ctx is still live
	s := newSession(testConfig(wsURL(server)), conn, rawFramer{}, slog.Default())
	conn.SetReadDeadline(time.Now().Add(30 * time.Millisecond))

	err = s.handshake(context.Background(), "", "localhost")
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
}

func TestDial_ContextCanceled(t *testing.T) {
	server := mockStompServer(t, false, func(p *stompPeer) {
		p.drain()
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HandshakeTimeout = 0

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := NewDialer(cfg, nil).Dial(ctx, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDial_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	_, err := NewDialer(testConfig(url), nil).Dial(context.Background(), "")
	if err == nil {
		t.Fatal("expected error dialing closed server")
	}
}

func TestSession_SubscribeAndDeliver(t *testing.T) {
	unsubscribed := make(chan string, 1)
	var subID string

	server := mockStompServer(t, false, func(p *stompPeer) {
		if _, err := p.accept("0,0"); err != nil {
			return
		}

		sub, err := p.read()
		if err != nil {
			return
		}
		if sub.Command != frame.SUBSCRIBE {
			t.Errorf("expected SUBSCRIBE, got %s", sub.Command)
			return
		}
		if got := sub.Header.Get(frame.Destination); got != "/topic/codecast/r1" {
			t.Errorf("destination = %q", got)
		}
		subID = sub.Header.Get(frame.Id)

		msg := frame.New(frame.MESSAGE,
			frame.Destination, "/topic/codecast/r1",
			frame.Subscription, subID,
			frame.MessageId, "m-1",
		)
		msg.Body = []byte(`{"type":"chat","text":"hi"}`)
		p.write(msg)

		// Unknown subscriptions are ignored
		stray := frame.New(frame.MESSAGE, frame.Subscription, "sub-99")
		stray.Body = []byte(`{}`)
		p.write(stray)

		unsub, err := p.read()
		if err != nil {
			return
		}
		if unsub.Command != frame.UNSUBSCRIBE {
			t.Errorf("expected UNSUBSCRIBE, got %s", unsub.Command)
		}
		unsubscribed <- unsub.Header.Get(frame.Id)
		p.drain()
	})
	defer server.Close()

	s := dial(t, testConfig(wsURL(server)), "")

	bodies := make(chan []byte, 4)
	unsubscribe, err := s.Subscribe("/topic/codecast/r1", func(body []byte) {
		bodies <- body
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case body := <-bodies:
		if string(body) != `{"type":"chat","text":"hi"}` {
			t.Errorf("body = %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := unsubscribe(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if err := unsubscribe(); err != nil {
		t.Errorf("second unsubscribe should be a no-op, got %v", err)
	}

	select {
	case id := <-unsubscribed:
		if id != subID {
			t.Errorf("unsubscribed id %q, subscribed %q", id, subID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for UNSUBSCRIBE")
	}

	select {
	case body := <-bodies:
		t.Errorf("unexpected delivery %s", body)
	default:
	}
}

func TestSession_SubscriptionIDsUnique(t *testing.T) {
	ids := make(chan string, 3)

	server := mockStompServer(t, false, func(p *stompPeer) {
		if _, err := p.accept("0,0"); err != nil {
			return
		}
		for i := 0; i < 3; i++ {
			sub, err := p.read()
			if err != nil {
				return
			}
			ids <- sub.Header.Get(frame.Id)
		}
		p.drain()
	})
	defer server.Close()

	s := dial(t, testConfig(wsURL(server)), "")
	for _, topic := range []string{"/topic/a", "/topic/b", "/topic/a"} {
		if _, err := s.Subscribe(topic, func([]byte) {}); err != nil {
			t.Fatalf("Subscribe %s: %v", topic, err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case id := <-ids:
			if seen[id] {
				t.Errorf("duplicate subscription id %q", id)
			}
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for SUBSCRIBE")
		}
	}
}

func TestSession_Send(t *testing.T) {
	sends := make(chan *frame.Frame, 1)

	server := mockStompServer(t, false, func(p *stompPeer) {
		if _, err := p.accept("0,0"); err != nil {
			return
		}
		f, err := p.read()
		if err != nil {
			return
		}
		sends <- f
		p.drain()
	})
	defer server.Close()

	s := dial(t, testConfig(wsURL(server)), "")

	body := []byte(`{"type":"code_update","code":"x := 1"}`)
	if err := s.Send("/app/codecast/r1", body); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case f := <-sends:
		if f.Command != frame.SEND {
			t.Errorf("expected SEND, got %s", f.Command)
		}
		if got := f.Header.Get(frame.Destination); got != "/app/codecast/r1" {
			t.Errorf("destination = %q", got)
		}
		if got := f.Header.Get(frame.ContentType); got != "application/json" {
			t.Errorf("content-type = %q", got)
		}
		if string(f.Body) != string(body) {
			t.Errorf("body = %s", f.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for SEND")
	}
}

func TestSession_ServerDrop(t *testing.T) {
	server := mockStompServer(t, false, func(p *stompPeer) {
		p.accept("0,0")
		// Returning closes the connection
	})
	defer server.Close()

	s := dial(t, testConfig(wsURL(server)), "")
	waitDone(t, s)

	if s.Err() == nil {
		t.Error("expected non-nil Err after drop")
	}
	if err := s.Send("/app/x", []byte(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after drop, got %v", err)
	}
	if _, err := s.Subscribe("/topic/x", func([]byte) {}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected subscribing after drop, got %v", err)
	}
}

func TestSession_UnsubscribeAfterDrop(t *testing.T) {
	subscribed := make(chan struct{})
	server := mockStompServer(t, false, func(p *stompPeer) {
		if _, err := p.accept("0,0"); err != nil {
			return
		}
		if _, err := p.read(); err != nil {
			return
		}
		close(subscribed)
		// Returning closes the connection
	})
	defer server.Close()

	s := dial(t, testConfig(wsURL(server)), "")
	unsubscribe, err := s.Subscribe("/topic/x", func([]byte) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	<-subscribed
	waitDone(t, s)

	if err := unsubscribe(); err != nil {
		t.Errorf("unsubscribe on dropped session = %v, want nil", err)
	}
}

func TestSession_ErrorFrameEndsSession(t *testing.T) {
	server := mockStompServer(t, false, func(p *stompPeer) {
		if _, err := p.accept("0,0"); err != nil {
			return
		}
		p.write(frame.New(frame.ERROR, frame.Message, "broker shutting down"))
		p.drain()
	})
	defer server.Close()

	s := dial(t, testConfig(wsURL(server)), "")
	waitDone(t, s)

	var serverErr *ServerError
	if !errors.As(s.Err(), &serverErr) {
		t.Fatalf("expected *ServerError, got %v", s.Err())
	}
	if serverErr.Message != "broker shutting down" {
		t.Errorf("Message = %q", serverErr.Message)
	}
}

func TestSession_Close(t *testing.T) {
	received := make(chan string, 1)

	server := mockStompServer(t, false, func(p *stompPeer) {
		if _, err := p.accept("0,0"); err != nil {
			return
		}
		f, err := p.read()
		if err != nil {
			return
		}
		received <- f.Command
		p.drain()
	})
	defer server.Close()

	s := dial(t, testConfig(wsURL(server)), "")

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitDone(t, s)

	if !errors.Is(s.Err(), ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", s.Err())
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	select {
	case cmd := <-received:
		if cmd != frame.DISCONNECT {
			t.Errorf("expected DISCONNECT, got %s", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for DISCONNECT")
	}
}

func TestSession_StaleHeartbeat(t *testing.T) {
	server := mockStompServer(t, false, func(p *stompPeer) {
		// Promise heart-beats every 20ms, then go silent
		if _, err := p.accept("20,0"); err != nil {
			return
		}
		p.drain()
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HeartbeatIn = 20 * time.Millisecond

	s := dial(t, cfg, "")
	if s.expectEvery != 20*time.Millisecond {
		t.Fatalf("expectEvery = %v, want 20ms", s.expectEvery)
	}
	waitDone(t, s)

	if !errors.Is(s.Err(), ErrStaleConnection) {
		t.Errorf("expected ErrStaleConnection, got %v", s.Err())
	}
}

func TestSession_HeartbeatsKeepAlive(t *testing.T) {
	server := mockStompServer(t, false, func(p *stompPeer) {
		if _, err := p.accept("20,0"); err != nil {
			return
		}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if err := p.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HeartbeatIn = 20 * time.Millisecond

	s := dial(t, cfg, "")

	select {
	case <-s.Done():
		t.Fatalf("session ended despite heart-beats: %v", s.Err())
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSession_SendsHeartbeats(t *testing.T) {
	var mu sync.Mutex
	beats := 0

	server := mockStompServer(t, false, func(p *stompPeer) {
		if _, err := p.accept("0,20"); err != nil {
			return
		}
		for {
			_, data, err := p.conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "\n" {
				mu.Lock()
				beats++
				mu.Unlock()
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HeartbeatOut = 10 * time.Millisecond

	s := dial(t, cfg, "")
	if s.sendEvery != 20*time.Millisecond {
		t.Fatalf("sendEvery = %v, want 20ms", s.sendEvery)
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if beats < 2 {
		t.Errorf("expected at least 2 heart-beats, got %d", beats)
	}
}

func TestDial_SockJS(t *testing.T) {
	paths := make(chan string, 1)
	bodies := make(chan []byte, 1)

	server := mockStompServer(t, true, func(p *stompPeer) {
		paths <- p.req.URL.Path
		if _, err := p.accept("0,0"); err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		// SockJS heart-beats carry no STOMP payload
		p.conn.WriteMessage(websocket.TextMessage, []byte("h"))

		sub, err := p.read()
		if err != nil {
			return
		}
		msg := frame.New(frame.MESSAGE,
			frame.Subscription, sub.Header.Get(frame.Id),
			frame.Destination, sub.Header.Get(frame.Destination),
		)
		msg.Body = []byte(`{"type":"join","user":"ada"}`)
		p.write(msg)
		p.drain()
	})
	defer server.Close()

	cfg := testConfig(server.URL + "/ws")
	cfg.Mode = ModeSockJS

	s := dial(t, cfg, "tok")

	path := <-paths
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) != 4 || segments[0] != "ws" || segments[3] != "websocket" {
		t.Errorf("unexpected sockjs path %q", path)
	}

	if _, err := s.Subscribe("/topic/codecast/r1", func(body []byte) { bodies <- body }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case body := <-bodies:
		if string(body) != `{"type":"join","user":"ada"}` {
			t.Errorf("body = %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sockjs message")
	}
}

func TestDial_SockJSServerClose(t *testing.T) {
	server := mockStompServer(t, true, func(p *stompPeer) {
		if _, err := p.accept("0,0"); err != nil {
			return
		}
		p.conn.WriteMessage(websocket.TextMessage, []byte(`c[3000,"Go away!"]`))
		p.drain()
	})
	defer server.Close()

	cfg := testConfig(server.URL + "/ws")
	cfg.Mode = ModeSockJS

	s := dial(t, cfg, "")
	waitDone(t, s)

	if !errors.Is(s.Err(), ErrClosedByServer) {
		t.Errorf("expected ErrClosedByServer, got %v", s.Err())
	}
}
