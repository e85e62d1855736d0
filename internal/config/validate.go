package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the settings every subcommand needs.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is invalid: %w", err)
	}

	switch c.Server.Mode {
	case "websocket":
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("server.url must be ws:// or wss:// in websocket mode, got %q", u.Scheme)
		}
	case "sockjs":
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("server.url has unsupported scheme %q", u.Scheme)
		}
	default:
		return fmt.Errorf("server.mode must be websocket or sockjs, got %q", c.Server.Mode)
	}

	if c.Server.HandshakeTimeout < 0 {
		return errors.New("server.handshake_timeout must be >= 0")
	}

	if c.Codecast.TopicPrefix == "" {
		return errors.New("codecast.topic_prefix is required")
	}
	if c.Codecast.AppPrefix == "" {
		return errors.New("codecast.app_prefix is required")
	}

	return nil
}

// ValidateRecorder checks the additional settings `codecast record` needs.
func (c *Config) ValidateRecorder() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if len(c.Codecast.Rooms) == 0 {
		return errors.New("codecast.rooms must list at least one room")
	}
	for i, room := range c.Codecast.Rooms {
		if room == "" {
			return fmt.Errorf("codecast.rooms[%d] is empty", i)
		}
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Recorder.BatchSize < 1 {
		return errors.New("recorder.batch_size must be >= 1")
	}
	if c.Recorder.QueueCapacity < 1 {
		return errors.New("recorder.queue_capacity must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
