package flagstore

import "context"

// Store reads and writes the persisted disable flag.
type Store interface {
	// Disabled reports whether live updates were disabled by a previous run.
	Disabled(ctx context.Context) (bool, error)

	// SetDisabled records the flag.
	SetDisabled(ctx context.Context, disabled bool) error
}
