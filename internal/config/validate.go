package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for inconsistencies. Defaults are
// expected to have been applied first.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Heartbeat.Interval <= 0 {
		return errors.New("heartbeat.interval must be positive")
	}
	if c.Client.ReconnectInterval <= 0 {
		return errors.New("client.reconnect_interval must be positive")
	}
	if c.Client.MaxReconnectAttempts < 0 {
		return errors.New("client.max_reconnect_attempts must not be negative")
	}

	// Database is optional; when a host is set the rest must be usable.
	if c.Database.Host != "" {
		if c.Database.Name == "" {
			return errors.New("database.name required when database.host is set")
		}
		if c.Database.User == "" {
			return errors.New("database.user required when database.host is set")
		}
		if c.Database.MinConns > c.Database.MaxConns {
			return fmt.Errorf("database.min_conns %d exceeds max_conns %d",
				c.Database.MinConns, c.Database.MaxConns)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown", c.Log.Level)
	}

	return nil
}
