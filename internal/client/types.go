package client

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrInvalidState = errors.New("invalid state for connect")
)

// State is the client connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateListener observes state transitions.
type StateListener func(old, new State)

// Config configures a reconnecting client.
type Config struct {
	URL                  string        // WebSocket URL (e.g. ws://localhost:8080/ws)
	HandshakeTimeout     time.Duration // Dial timeout
	WriteTimeout         time.Duration // Write deadline for sends
	HeartbeatInterval    time.Duration // Period of client-side ping envelopes
	ReconnectInterval    time.Duration // Fixed wait between reconnect attempts
	MaxReconnectAttempts int           // Retry ceiling before giving up
	AutoReconnect        bool          // Schedule retries on drop
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 5,
		AutoReconnect:        true,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = def.ReconnectInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
}
