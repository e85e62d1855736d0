package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/rickgao/codecast/internal/collab"
)

var _ collab.Dialer = (*Dialer)(nil)

// stompSubprotocols are offered on raw websocket connections.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// Dialer opens STOMP sessions to one endpoint.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer creates a Dialer.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial connects, performs the STOMP handshake presenting credential as a
// bearer token, and starts the session goroutines.
func (d *Dialer) Dial(ctx context.Context, credential string) (collab.Conn, error) {
	target := d.cfg.URL
	var fr framer = rawFramer{}
	subprotocols := stompSubprotocols

	if d.cfg.Mode == ModeSockJS {
		u, err := sockjsURL(d.cfg.URL)
		if err != nil {
			return nil, err
		}
		target = u
		fr = sockjsFramer{}
		subprotocols = nil
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	host := d.cfg.Host
	if host == "" {
		host = parsed.Hostname()
	}

	if d.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
		defer cancel()
	}

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	if d.cfg.UserAgent != "" {
		header.Set("User-Agent", d.cfg.UserAgent)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		Subprotocols:     subprotocols,
	}

	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}

	s := newSession(d.cfg, conn, fr, d.logger.With("url", d.cfg.URL))
	if err := s.handshake(ctx, credential, host); err != nil {
		conn.Close()
		return nil, err
	}
	s.start()

	return s, nil
}
