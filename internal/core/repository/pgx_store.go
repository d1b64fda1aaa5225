package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

// Schema creates the single table PgxStore needs.
const Schema = `
CREATE TABLE IF NOT EXISTS storefront_kv (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// PgxStore implements domain.KVStore using pgxpool.
type PgxStore struct {
	pool *pgxpool.Pool
}

// NewPgxStore creates a new PgxStore.
func NewPgxStore(pool *pgxpool.Pool) *PgxStore {
	return &PgxStore{pool: pool}
}

// Migrate creates the backing table when it does not exist yet.
func (s *PgxStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Get returns the value stored under key.
// Returns domain.ErrNotFound when the key does not exist.
func (s *PgxStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM storefront_kv WHERE key = $1`

	var value []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select %q: %w", key, err)
	}

	return value, nil
}

// Set upserts the value stored under key.
func (s *PgxStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO storefront_kv (key, value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert %q: %w", key, err)
	}
	return nil
}

// Delete removes key; a missing key is not an error.
func (s *PgxStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM storefront_kv WHERE key = $1`
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Close releases the pool.
func (s *PgxStore) Close() error {
	s.pool.Close()
	return nil
}
