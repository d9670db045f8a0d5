package flagstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool used by PostgresStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS livesync_flags (
		scope      TEXT PRIMARY KEY,
		disabled   BOOLEAN NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// PostgresStore keeps one flag row per scope, so instances sharing a
// database do not disable each other.
type PostgresStore struct {
	db    Querier
	scope string
}

// NewPostgresStore creates a store for scope.
func NewPostgresStore(db Querier, scope string) *PostgresStore {
	return &PostgresStore{db: db, scope: scope}
}

// EnsureSchema creates the flags table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create livesync_flags: %w", err)
	}
	return nil
}

// Disabled reads the flag. A missing row means not disabled.
func (s *PostgresStore) Disabled(ctx context.Context) (bool, error) {
	var disabled bool
	err := s.db.QueryRow(ctx,
		`SELECT disabled FROM livesync_flags WHERE scope = $1`,
		s.scope,
	).Scan(&disabled)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query flag: %w", err)
	}
	return disabled, nil
}

// SetDisabled upserts the flag row.
func (s *PostgresStore) SetDisabled(ctx context.Context, disabled bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO livesync_flags (scope, disabled, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (scope) DO UPDATE
		SET disabled = EXCLUDED.disabled, updated_at = EXCLUDED.updated_at
	`, s.scope, disabled)
	if err != nil {
		return fmt.Errorf("upsert flag: %w", err)
	}
	return nil
}
