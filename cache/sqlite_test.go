package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *SQLite {
	t.Helper()
	c := NewSQLite(":memory:")
	if err := c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQLiteRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}
	if err := c.Put(ctx, "k", []byte("page body"), time.Hour); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, []byte("page body")) {
		t.Fatalf("get = %q ok=%v err=%v", got, ok, err)
	}
}

func TestSQLitePutReplaces(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "k", []byte("v1"), time.Hour)
	c.Put(ctx, "k", []byte("v2"), time.Hour)
	got, ok, _ := c.Get(ctx, "k")
	if !ok || string(got) != "v2" {
		t.Fatalf("get = %q ok=%v", got, ok)
	}
}

func TestSQLiteTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }
	if err := c.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expired entry served: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteZeroTTLNeverExpires(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put(ctx, "k", []byte("v"), 0)

	c.now = func() time.Time { return now.Add(1000 * time.Hour) }
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("no-expiry entry evicted")
	}
}

func TestSQLitePurge(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put(ctx, "old", []byte("v"), time.Minute)
	c.Put(ctx, "keep", []byte("v"), time.Hour)

	c.now = func() time.Time { return now.Add(10 * time.Minute) }
	if err := c.Purge(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "old"); ok {
		t.Error("purged entry still present")
	}
	if _, ok, _ := c.Get(ctx, "keep"); !ok {
		t.Error("live entry purged")
	}
}

func TestKeyIsStable(t *testing.T) {
	a := Key("read_url", "https://go.dev")
	b := Key("read_url", "https://go.dev")
	if a != b {
		t.Fatalf("key not stable: %s vs %s", a, b)
	}
	if a == Key("read_url", "https://go.dev/doc") {
		t.Fatal("distinct inputs collided")
	}
	// Separator keeps ("ab","c") and ("a","bc") apart.
	if Key("ab", "c") == Key("a", "bc") {
		t.Fatal("part boundaries ignored")
	}
}

func TestNopCache(t *testing.T) {
	var c Cache = Nop{}
	ctx := context.Background()
	if err := c.Put(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("nop cache stored a value")
	}
}
