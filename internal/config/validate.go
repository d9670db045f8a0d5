package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if _, err := c.LiveURL(); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Live.ReconnectBaseDelay <= 0 {
		return errors.New("live.reconnect_base_delay must be > 0")
	}
	if c.Live.ReconnectMaxDelay < c.Live.ReconnectBaseDelay {
		return fmt.Errorf("live.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			c.Live.ReconnectMaxDelay, c.Live.ReconnectBaseDelay)
	}
	if c.Live.ReconnectMultiplier < 1 {
		return errors.New("live.reconnect_multiplier must be >= 1")
	}
	if c.Live.QueueSize < 1 {
		return errors.New("live.queue_size must be >= 1")
	}

	switch c.Flags.Backend {
	case "file":
		if c.Flags.Path == "" {
			return errors.New("flags.path is required")
		}
	case "postgres":
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("flags.backend must be file or postgres, got %q", c.Flags.Backend)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url is required")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
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

// LiveURL returns the push endpoint. An explicit api.ws_url wins; otherwise
// the scheme of api.rest_url is swapped (http→ws, https→wss) and live.path
// replaces its path.
func (c *Config) LiveURL() (string, error) {
	if c.API.WSURL != "" {
		u, err := url.Parse(c.API.WSURL)
		if err != nil {
			return "", fmt.Errorf("api.ws_url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("api.ws_url must use ws or wss, got %q", u.Scheme)
		}
		return c.API.WSURL, nil
	}

	u, err := url.Parse(c.API.RestURL)
	if err != nil {
		return "", fmt.Errorf("api.rest_url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("api.rest_url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("api.rest_url has no host")
	}

	u.Path = c.Live.Path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
