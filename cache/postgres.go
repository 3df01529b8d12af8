package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the shared-deployment cache backend. It accepts an
// externally-owned *pgxpool.Pool via constructor injection; the caller
// creates and closes the pool.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

var _ Cache = (*Postgres)(nil)

// NewPostgres creates a cache over an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, table: "deepsearch_cache"}
}

// Init creates the cache table.
func (p *Postgres) Init(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		expires_at BIGINT NOT NULL
	)`, p.table))
	if err != nil {
		return fmt.Errorf("postgres cache: create table: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT value, expires_at FROM %s WHERE key = $1`, p.table), key).
		Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres cache: get: %w", err)
	}
	if expiresAt > 0 && time.Now().Unix() >= expiresAt {
		_, _ = p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, p.table), key)
		return nil, false, nil
	}
	return value, true, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		p.table), key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres cache: put: %w", err)
	}
	return nil
}

// Purge removes all expired entries.
func (p *Postgres) Purge(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE expires_at > 0 AND expires_at <= $1`, p.table), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("postgres cache: purge: %w", err)
	}
	return nil
}

// Close is a no-op: the pool is caller-owned.
func (p *Postgres) Close() error { return nil }
