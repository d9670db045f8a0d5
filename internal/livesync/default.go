package livesync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loyaltyconsole/livesync/internal/config"
)

var (
	defaultMu      sync.Mutex
	defaultService *Service
)

// Init creates the process-wide Service on first call and returns the
// existing one afterwards. A failed Init leaves no instance behind.
func Init(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultService != nil {
		return defaultService, nil
	}

	s, err := New(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	defaultService = s
	return s, nil
}

// Default returns the process-wide Service, or nil before Init.
func Default() *Service {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultService
}

// ResetDefault stops and forgets the process-wide Service. The next Init
// builds a fresh one.
func ResetDefault(ctx context.Context) error {
	defaultMu.Lock()
	s := defaultService
	defaultService = nil
	defaultMu.Unlock()

	if s == nil {
		return nil
	}
	return s.Stop(ctx)
}
