package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	URL       string // redis://[password@]host:port[/db]
	KeyPrefix string // Namespace prepended to every cache key, e.g. "console:cache:"
	Channel   string // Optional pub/sub channel announcing invalidations
	ScanCount int64  // SCAN batch hint. Default: 100
}

// InvalidationNotice is published on RedisConfig.Channel after each
// invalidation. Readers on every console instance receive it through
// Subscribe and refresh the keys they observe.
type InvalidationNotice struct {
	Prefix  string    `json:"prefix"`
	Exact   bool      `json:"exact"`
	Removed int       `json:"removed"`
	At      time.Time `json:"at"`
}

// Redis stores responses in Redis. Invalidation removes matching keys, so
// the next read refetches and removing an absent key is a no-op.
type Redis struct {
	cfg    RedisConfig
	client *redis.Client
	logger *slog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("connected to redis cache", "addr", opts.Addr, "key_prefix", cfg.KeyPrefix)

	return &Redis{
		cfg:    cfg,
		client: client,
		logger: logger,
	}, nil
}

// Get returns the cached value for key, or redis.Nil when absent.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	return r.client.Get(ctx, r.cfg.KeyPrefix+key).Bytes()
}

// Set stores value under key with the given time to live (0 = no expiry).
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.cfg.KeyPrefix+key, value, ttl).Err()
}

// Invalidate removes every key matching prefix.
func (r *Redis) Invalidate(ctx context.Context, prefix string, opts InvalidateOptions) error {
	var removed int

	if opts.Exact {
		n, err := r.client.Unlink(ctx, r.cfg.KeyPrefix+prefix).Result()
		if err != nil {
			return fmt.Errorf("unlink %q: %w", prefix, err)
		}
		removed = int(n)
	} else {
		pattern := scanPattern(r.cfg.KeyPrefix, prefix)
		iter := r.client.Scan(ctx, 0, pattern, r.cfg.ScanCount).Iterator()

		batch := make([]string, 0, r.cfg.ScanCount)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if int64(len(batch)) >= r.cfg.ScanCount {
				n, err := r.client.Unlink(ctx, batch...).Result()
				if err != nil {
					return fmt.Errorf("unlink prefix %q: %w", prefix, err)
				}
				removed += int(n)
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan prefix %q: %w", prefix, err)
		}
		if len(batch) > 0 {
			n, err := r.client.Unlink(ctx, batch...).Result()
			if err != nil {
				return fmt.Errorf("unlink prefix %q: %w", prefix, err)
			}
			removed += int(n)
		}
	}

	r.logger.Debug("invalidated redis keys", "prefix", prefix, "exact", opts.Exact, "removed", removed)

	if r.cfg.Channel != "" {
		notice, _ := json.Marshal(InvalidationNotice{
			Prefix:  prefix,
			Exact:   opts.Exact,
			Removed: removed,
			At:      time.Now().UTC(),
		})
		if err := r.client.Publish(ctx, r.cfg.Channel, notice).Err(); err != nil {
			r.logger.Warn("failed to publish invalidation", "channel", r.cfg.Channel, "error", err)
		}
	}

	return nil
}

// Subscribe delivers invalidation notices published on the configured
// channel until ctx is done. The returned channel is closed on exit.
func (r *Redis) Subscribe(ctx context.Context) (<-chan InvalidationNotice, error) {
	if r.cfg.Channel == "" {
		return nil, ErrNoChannel
	}

	pubsub := r.client.Subscribe(ctx, r.cfg.Channel)

	// Wait for subscription to be ready
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %q: %w", r.cfg.Channel, err)
	}

	out := make(chan InvalidationNotice, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgCh := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var notice InvalidationNotice
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					r.logger.Debug("dropping malformed invalidation notice", "error", err)
					continue
				}
				select {
				case out <- notice:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	r.logger.Info("subscribed to invalidation notices", "channel", r.cfg.Channel)
	return out, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// scanPattern builds a SCAN MATCH pattern for keys starting with
// namespace+prefix, escaping glob metacharacters.
func scanPattern(namespace, prefix string) string {
	return escapeGlob(namespace+prefix) + "*"
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
