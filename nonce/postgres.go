package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postgresPurgeBatch    = 100
	postgresPurgeInterval = time.Second
)

// Schema creates the nonce table used by PostgresStore.
const Schema = `CREATE TABLE IF NOT EXISTS obauth_nonces (
	hash       TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS obauth_nonces_expires_at_idx ON obauth_nonces (expires_at)`

// The conflict branch only fires for an expired row, reclaiming it in the
// same statement; a live row leaves zero affected rows.
const insertNonceSQL = `INSERT INTO obauth_nonces (hash, expires_at) VALUES ($1, $2)
ON CONFLICT (hash) DO UPDATE SET expires_at = EXCLUDED.expires_at
WHERE obauth_nonces.expires_at <= $3`

const purgeNoncesSQL = `DELETE FROM obauth_nonces WHERE hash IN (
	SELECT hash FROM obauth_nonces WHERE expires_at <= $1 LIMIT $2
)`

// DB is the subset of a pgx pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a Guard backed by a PostgreSQL unique key.
type PostgresStore struct {
	db  DB
	now func() time.Time

	mu        sync.Mutex
	lastPurge time.Time
}

// NewPostgresStore creates a PostgresStore. A nil now uses time.Now.
func NewPostgresStore(db DB, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}

	return &PostgresStore{db: db, now: now}
}

// EnsureSchema creates the nonce table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("nonce: create schema: %w", err)
	}

	return nil
}

func (s *PostgresStore) CheckAndRecord(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if err := validate(nonce, ttl); err != nil {
		return false, err
	}

	now := s.now().UTC()

	s.purge(ctx, now)

	tag, err := s.db.Exec(ctx, insertNonceSQL, Key(nonce), now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("nonce: insert: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// purge deletes one batch of expired rows, at most once per interval.
// Failures are ignored; the next call retries.
func (s *PostgresStore) purge(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if now.Sub(s.lastPurge) < postgresPurgeInterval {
		s.mu.Unlock()
		return
	}
	s.lastPurge = now
	s.mu.Unlock()

	_, _ = s.db.Exec(ctx, purgeNoncesSQL, now, postgresPurgeBatch)
}

// NewPostgresPool opens a pgx connection pool for dsn and checks
// connectivity.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("nonce: open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("nonce: postgres ping: %w", err)
	}

	return pool, nil
}
