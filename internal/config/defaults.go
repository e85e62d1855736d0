package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMode             = "websocket"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHeartbeat        = 10 * time.Second
	DefaultReconnectDelay   = 5 * time.Second
	DefaultTopicPrefix      = "/topic/codecast"
	DefaultAppPrefix        = "/app/codecast"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultBatchSize        = 100
	DefaultFlushInterval    = 1 * time.Second
	DefaultQueueCapacity    = 256
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
)

// ApplyDefaults fills unset fields. It is idempotent.
func (c *Config) ApplyDefaults() {
	// Server defaults
	if c.Server.Mode == "" {
		c.Server.Mode = DefaultMode
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.HeartbeatOut == 0 {
		c.Server.HeartbeatOut = DefaultHeartbeat
	}
	if c.Server.HeartbeatIn == 0 {
		c.Server.HeartbeatIn = DefaultHeartbeat
	}
	if c.Server.ReconnectDelay == 0 {
		c.Server.ReconnectDelay = DefaultReconnectDelay
	}

	// Codecast defaults
	if c.Codecast.TopicPrefix == "" {
		c.Codecast.TopicPrefix = DefaultTopicPrefix
	}
	if c.Codecast.AppPrefix == "" {
		c.Codecast.AppPrefix = DefaultAppPrefix
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.QueueCapacity == 0 {
		c.Recorder.QueueCapacity = DefaultQueueCapacity
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
