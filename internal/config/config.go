package config

import "time"

// Config is the root configuration for the codecast CLI.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Codecast CodecastConfig `yaml:"codecast"`
	Database DBConfig       `yaml:"database"`
	Recorder RecorderConfig `yaml:"recorder"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds collaboration server connection settings.
type ServerConfig struct {
	URL              string        `yaml:"url"`  // ws(s):// endpoint, or http(s):// SockJS base
	Mode             string        `yaml:"mode"` // "websocket" or "sockjs"
	Host             string        `yaml:"host"` // STOMP host header, defaults to the URL host
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HeartbeatOut     time.Duration `yaml:"heartbeat_out"`   // Negative disables
	HeartbeatIn      time.Duration `yaml:"heartbeat_in"`    // Negative disables
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"` // Negative disables automatic reconnect
}

// AuthConfig holds the bearer credential. Token wins over TokenFile.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// CodecastConfig holds room settings.
type CodecastConfig struct {
	TopicPrefix string   `yaml:"topic_prefix"` // Broadcast destinations
	AppPrefix   string   `yaml:"app_prefix"`   // Send destinations
	Sender      string   `yaml:"sender"`
	Rooms       []string `yaml:"rooms"` // Rooms recorded by `codecast record`
	EchoSelf    bool     `yaml:"echo_self"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds event writer settings.
type RecorderConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	QueueCapacity int           `yaml:"queue_capacity"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
