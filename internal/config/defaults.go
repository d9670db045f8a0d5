package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout          = 30 * time.Second
	DefaultMaxRetries          = 3
	DefaultAPIRetryBackoff     = 1 * time.Second
	DefaultLivePath            = "/ws"
	DefaultMaxAttempts         = 5
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 30 * time.Second
	DefaultReconnectMultiplier = 2.0
	DefaultHandshakeTimeout    = 10 * time.Second
	DefaultPingInterval        = 30 * time.Second
	DefaultPingTimeout         = 60 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultQueueSize           = 256
	DefaultInvalidateTimeout   = 5 * time.Second
	DefaultFlagsBackend        = "file"
	DefaultFlagsPath           = "livesync-flags.yaml"
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 4
	DefaultMinConns            = 1
	DefaultCacheBackend        = "memory"
	DefaultCacheKeyPrefix      = "console:cache:"
	DefaultCacheTTL            = 10 * time.Minute
	DefaultFetchTimeout        = 10 * time.Second
	DefaultPollInterval        = 60 * time.Second
	DefaultMetricsPort         = 9090
	DefaultMetricsPath         = "/metrics"
	DefaultLogLevel            = "info"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Live defaults
	if c.Live.Path == "" {
		c.Live.Path = DefaultLivePath
	}
	if c.Live.MaxAttempts == 0 {
		c.Live.MaxAttempts = DefaultMaxAttempts
	}
	if c.Live.ReconnectBaseDelay == 0 {
		c.Live.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Live.ReconnectMaxDelay == 0 {
		c.Live.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Live.ReconnectMultiplier == 0 {
		c.Live.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if c.Live.HandshakeTimeout == 0 {
		c.Live.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Live.PingInterval == 0 {
		c.Live.PingInterval = DefaultPingInterval
	}
	if c.Live.PingTimeout == 0 {
		c.Live.PingTimeout = DefaultPingTimeout
	}
	if c.Live.WriteTimeout == 0 {
		c.Live.WriteTimeout = DefaultWriteTimeout
	}
	if c.Live.QueueSize == 0 {
		c.Live.QueueSize = DefaultQueueSize
	}

	if c.Invalidation.Timeout == 0 {
		c.Invalidation.Timeout = DefaultInvalidateTimeout
	}

	// Flag store defaults
	if c.Flags.Backend == "" {
		c.Flags.Backend = DefaultFlagsBackend
	}
	if c.Flags.Path == "" {
		c.Flags.Path = DefaultFlagsPath
	}
	if c.Flags.Scope == "" {
		c.Flags.Scope = c.Instance.ID
	}

	applyDBDefaults(&c.Database)

	// Cache defaults
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.FetchTimeout == 0 {
		c.Cache.FetchTimeout = DefaultFetchTimeout
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
