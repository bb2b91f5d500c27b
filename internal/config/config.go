package config

import "time"

// Config is the root configuration for a hub instance.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Client    ClientConfig    `yaml:"client"`
	Database  DBConfig        `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the listener and per-connection limits.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadLimit    int64         `yaml:"read_limit"` // max inbound message bytes
	HistoryLimit int           `yaml:"history_limit"`
}

// HeartbeatConfig holds the liveness sweep settings.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ClientConfig holds reconnecting-client settings (used by hubclient).
type ClientConfig struct {
	URL                  string        `yaml:"url"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// DBConfig holds the chat store connection. An empty host means the
// in-memory store is used instead of Postgres.
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

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
