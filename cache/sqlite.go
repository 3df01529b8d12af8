package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteOption configures a SQLite cache.
type SQLiteOption func(*SQLite)

// WithLogger sets a structured logger. Without one the cache is
// silent.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLite) { s.logger = l }
}

// SQLite is the default cache backend: a local SQLite file (or
// ":memory:"). A single shared connection serializes all writers,
// eliminating SQLITE_BUSY errors from concurrent tool calls.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ Cache = (*SQLite)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// NewSQLite opens the cache at dbPath. Call Init before first use.
func NewSQLite(dbPath string, opts ...SQLiteOption) *SQLite {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with
		// the blank import above that never happens.
		panic(fmt.Sprintf("sqlite cache: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db, logger: nopLogger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the blobs table.
func (s *SQLite) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite cache: create table: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM blobs WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite cache: get: %w", err)
	}
	if expiresAt > 0 && s.now().Unix() >= expiresAt {
		// Lazy expiry; Purge sweeps the rest.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key)
		return nil, false, nil
	}
	s.logger.Debug("cache hit", "key", key, "bytes", len(value))
	return value, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO blobs (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("sqlite cache: put: %w", err)
	}
	return nil
}

// Purge removes all expired entries.
func (s *SQLite) Purge(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM blobs WHERE expires_at > 0 AND expires_at <= ?`, s.now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite cache: purge: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("cache purged", "rows", n)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
