package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/codecast/internal/auth"
	"github.com/rickgao/codecast/internal/codecast"
	"github.com/rickgao/codecast/internal/collab"
	"github.com/rickgao/codecast/internal/config"
	"github.com/rickgao/codecast/internal/transport"
	"github.com/rickgao/codecast/internal/version"
)

// session is a configured, not yet connected collab client.
type session struct {
	cfg    *config.Config
	creds  *auth.Credentials
	client *collab.Client
	topics codecast.Topics
	logger *slog.Logger
}

// newSession builds a client from cfg. Extra observers receive client events
// alongside the log observer.
func newSession(cfg *config.Config, logger *slog.Logger, observers ...collab.Observer) (*session, error) {
	creds, err := auth.LoadCredentials(cfg.Auth.Token, cfg.Auth.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if err := creds.Check(time.Now()); err != nil {
		return nil, err
	}

	attrs := []any{"anonymous", creds.Anonymous()}
	if creds.Subject != "" {
		attrs = append(attrs, "subject", creds.Subject)
	}
	if !creds.ExpiresAt.IsZero() {
		attrs = append(attrs, "expires_at", creds.ExpiresAt)
	}
	logger.Info("credentials loaded", attrs...)

	dialer := transport.NewDialer(transportConfig(cfg.Server), logger)
	observer := collab.Observers(append([]collab.Observer{collab.NewLogObserver(logger)}, observers...))

	return &session{
		cfg:    cfg,
		creds:  creds,
		client: collab.New(collabConfig(cfg.Server), dialer, observer),
		topics: topicsConfig(cfg.Codecast),
		logger: logger,
	}, nil
}

// connect opens the connection, presenting the loaded token.
func (s *session) connect(ctx context.Context) error {
	s.logger.Info("connecting", "url", s.cfg.Server.URL, "mode", s.cfg.Server.Mode)
	if err := s.client.Connect(ctx, s.creds.Token); err != nil {
		return err
	}
	s.logger.Info("connected", "url", s.cfg.Server.URL)
	return nil
}

// roomConfig returns the room settings from config.
func (s *session) roomConfig() codecast.RoomConfig {
	return codecast.RoomConfig{
		Topics:   s.topics,
		Sender:   s.sender(),
		EchoSelf: s.cfg.Codecast.EchoSelf,
	}
}

// sender prefers the configured name, then the token subject.
func (s *session) sender() string {
	if s.cfg.Codecast.Sender != "" {
		return s.cfg.Codecast.Sender
	}
	return s.creds.Subject
}

func transportConfig(sc config.ServerConfig) transport.Config {
	return transport.Config{
		URL:              sc.URL,
		Mode:             transport.Mode(sc.Mode),
		Host:             sc.Host,
		HandshakeTimeout: sc.HandshakeTimeout,
		WriteTimeout:     sc.WriteTimeout,
		HeartbeatOut:     max(sc.HeartbeatOut, 0),
		HeartbeatIn:      max(sc.HeartbeatIn, 0),
		UserAgent:        version.UserAgent(),
	}
}

func collabConfig(sc config.ServerConfig) collab.Config {
	return collab.Config{ReconnectDelay: sc.ReconnectDelay}
}

func topicsConfig(cc config.CodecastConfig) codecast.Topics {
	return codecast.Topics{
		Broadcast: cc.TopicPrefix,
		Send:      cc.AppPrefix,
	}
}
