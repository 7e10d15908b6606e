package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrtrail/scanhistory/pkg/storage"
)

type Slot struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Call EnsureSchema before using it.
func New(pool *pgxpool.Pool) *Slot {
	return &Slot{pool: pool}
}

// EnsureSchema creates the kv_slots table if it is missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := `
CREATE TABLE IF NOT EXISTS kv_slots (
  key TEXT PRIMARY KEY,
  value BYTEA NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ERROR creating kv_slots table: %w", err)
	}
	return nil
}

func (s *Slot) Read(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_slots WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read slot %q: %w", key, err)
	}
	return value, nil
}

func (s *Slot) Write(ctx context.Context, key string, value []byte) error {
	if err := upsert(ctx, s.pool, key, value); err != nil {
		return fmt.Errorf("write slot %q: %w", key, err)
	}
	return nil
}

func (s *Slot) Remove(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_slots WHERE key = $1`, key); err != nil {
		return fmt.Errorf("remove slot %q: %w", key, err)
	}
	return nil
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
// When the row does not exist yet, a placeholder is inserted first so the
// lock has something to hold.
func (s *Slot) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update %q: %w", key, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `INSERT INTO kv_slots (key, value) VALUES ($1, ''::bytea) ON CONFLICT (key) DO NOTHING`, key)
	if err != nil {
		return fmt.Errorf("reserve slot %q: %w", key, err)
	}

	var cur []byte
	if err := tx.QueryRow(ctx, `SELECT value FROM kv_slots WHERE key = $1 FOR UPDATE`, key).Scan(&cur); err != nil {
		return fmt.Errorf("lock slot %q: %w", key, err)
	}
	if len(cur) == 0 {
		cur = nil
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if err := upsert(ctx, tx, key, next); err != nil {
		return fmt.Errorf("update slot %q: %w", key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit slot %q: %w", key, err)
	}
	return nil
}

// Close helps when wiring Slot to a lifecycle manager.
func (s *Slot) Close() {
	s.pool.Close()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsert(ctx context.Context, db execer, key string, value []byte) error {
	const query = `
INSERT INTO kv_slots (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key)
DO UPDATE SET
  value = EXCLUDED.value,
  updated_at = EXCLUDED.updated_at;
`
	_, err := db.Exec(ctx, query, key, value, time.Now().UTC())
	return err
}

// NewDB opens a pgx pool with tuned defaults.
func NewDB(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	// One hot key; a small pool is plenty.
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping db: %v", storage.ErrUnavailable, err)
	}
	return pool, nil
}
