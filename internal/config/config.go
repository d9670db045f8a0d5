package config

import "time"

// Config is the root configuration for a livesync instance.
type Config struct {
	Instance     InstanceConfig     `yaml:"instance"`
	API          APIConfig          `yaml:"api"`
	Live         LiveConfig         `yaml:"live"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Flags        FlagsConfig        `yaml:"flags"`
	Database     DBConfig           `yaml:"database"`
	Cache        CacheConfig        `yaml:"cache"`
	Poller       PollerConfig       `yaml:"poller"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
}

// InstanceConfig identifies this console backend.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds console REST settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"` // Derived from rest_url and live.path when empty
	Token      string        `yaml:"token"`  // Session bearer token
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// LiveConfig holds push connection settings.
type LiveConfig struct {
	Enabled             *bool         `yaml:"enabled"` // Feature toggle. Default: true
	Path                string        `yaml:"path"`
	MaxAttempts         int           `yaml:"max_attempts"` // Negative: retry forever
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMultiplier float64       `yaml:"reconnect_multiplier"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	PingInterval        time.Duration `yaml:"ping_interval"`
	PingTimeout         time.Duration `yaml:"ping_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	QueueSize           int           `yaml:"queue_size"`
}

// IsEnabled reports whether live updates are switched on.
func (l LiveConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// InvalidationConfig holds router settings.
type InvalidationConfig struct {
	Timeout time.Duration       `yaml:"timeout"`
	Rules   map[string][]string `yaml:"rules"` // topic -> cache prefixes; replaces the defaults
}

// FlagsConfig selects where the "live updates disabled" flag is persisted.
type FlagsConfig struct {
	Backend string `yaml:"backend"` // file | postgres
	Path    string `yaml:"path"`    // file backend
	Scope   string `yaml:"scope"`   // postgres row key. Default: instance.id
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

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Backend      string        `yaml:"backend"` // memory | redis
	RedisURL     string        `yaml:"redis_url"`
	KeyPrefix    string        `yaml:"key_prefix"`
	Channel      string        `yaml:"channel"` // Optional invalidation pub/sub channel
	TTL          time.Duration `yaml:"ttl"`     // redis backend only
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// PollerConfig holds fallback poller settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig holds the health and Prometheus HTTP server settings.
type MetricsConfig struct {
	Port          int    `yaml:"port"`
	Path          string `yaml:"path"`
	SessionSecret string `yaml:"session_secret"` // Required by /login and /logout. Empty: loopback callers only
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}
