package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost                 = "0.0.0.0"
	DefaultPort                 = 8080
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReadLimit            = 1 << 20 // 1 MiB
	DefaultHistoryLimit         = 50
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultClientHeartbeat      = 30 * time.Second
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultLogLevel             = "info"
)

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Server.HistoryLimit == 0 {
		c.Server.HistoryLimit = DefaultHistoryLimit
	}

	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}

	if c.Client.HeartbeatInterval == 0 {
		c.Client.HeartbeatInterval = DefaultClientHeartbeat
	}
	if c.Client.ReconnectInterval == 0 {
		c.Client.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Client.MaxReconnectAttempts == 0 {
		c.Client.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	if c.Database.Host != "" {
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
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
