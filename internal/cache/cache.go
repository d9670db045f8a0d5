package cache

import (
	"context"
	"errors"
	"strings"
)

// Errors
var (
	ErrNoFetcher = errors.New("no fetcher configured")
	ErrEmptyKey  = errors.New("empty cache key")
	ErrNoChannel = errors.New("no invalidation channel configured")
)

// InvalidateOptions controls key matching.
type InvalidateOptions struct {
	// Exact matches only the key equal to the prefix. When false every key
	// starting with the prefix is invalidated.
	Exact bool
}

// Invalidator marks cached entries stale. Invalidating an already-stale
// entry must be a no-op.
type Invalidator interface {
	Invalidate(ctx context.Context, prefix string, opts InvalidateOptions) error
}

// Reader returns the current value for a key, fetching it when the cached
// copy is missing or stale.
type Reader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Observer keeps keys fresh for readers that display them continuously.
// The returned function releases the observation.
type Observer interface {
	Observe(key string) func()
}

// Fetcher loads the current value for a cache key.
type Fetcher func(ctx context.Context, key string) ([]byte, error)

// Matches reports whether key is covered by prefix under opts.
func Matches(key, prefix string, opts InvalidateOptions) bool {
	if opts.Exact {
		return key == prefix
	}
	return strings.HasPrefix(key, prefix)
}
