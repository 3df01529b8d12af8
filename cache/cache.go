// Package cache provides the small keyed blob cache the content tools
// use to avoid re-fetching identical URLs and queries within a
// deployment. Keys are content addresses; eviction is by TTL, not LRU.
// This is not session persistence.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache is a TTL-bounded blob store. Implementations are safe for
// concurrent use.
type Cache interface {
	// Get returns the cached value for key when present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores value under key, replacing any previous entry.
	// ttl <= 0 means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Nop stores nothing. Used when caching is disabled.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Nop) Put(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Close() error                                             { return nil }

var _ Cache = Nop{}

// Key derives a stable content address from parts, e.g.
// Key("read_url", url).
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
