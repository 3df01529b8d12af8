package readurl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/deepsearch-ai/deepsearch/cache"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Go Concurrency Patterns</title></head>
<body>
<article>
<h1>Go Concurrency Patterns</h1>
<p>Goroutines are cheap, so you can create many of them. Channels let
goroutines communicate without explicit locks. The select statement
multiplexes over channels, which is the heart of most Go servers.</p>
<p>Pipelines connect stages with channels. Each stage runs its own
goroutines, receives upstream values, and sends downstream results.</p>
</article>
</body></html>`

func TestReadHTMLArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); !strings.Contains(got, "DeepSearchBot") {
			t.Errorf("user agent = %q", got)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	out, err := New().Invoke(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	content := m["content"].(string)
	if !strings.Contains(content, "Goroutines are cheap") {
		t.Errorf("content = %q", content)
	}
	if !strings.Contains(content, "# Go Concurrency Patterns") {
		t.Errorf("missing title heading: %q", content)
	}
}

func TestReadURLRejectsRelative(t *testing.T) {
	tool := New()
	for _, bad := range []string{"", "ftp://x", "not a url", "/relative/path"} {
		if _, err := tool.Invoke(context.Background(), map[string]any{"url": bad}); err == nil {
			t.Errorf("accepted %q", bad)
		}
	}
}

func TestReadURLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New().Invoke(context.Background(), map[string]any{"url": srv.URL})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
}

func TestReadURLServesFromCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	c := cache.NewSQLite(":memory:")
	if err := c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	tool := New(WithCache(c))
	args := map[string]any{"url": srv.URL}
	if _, err := tool.Invoke(context.Background(), args); err != nil {
		t.Fatal(err)
	}
	out, err := tool.Invoke(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("upstream fetches = %d, want 1", calls)
	}
	if cached, _ := out.(map[string]any)["cached"].(bool); !cached {
		t.Error("second read not served from cache")
	}
}

func TestStripTags(t *testing.T) {
	got := stripTags("<div><p>hello <b>world</b></p></div>")
	if got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestClip(t *testing.T) {
	long := strings.Repeat("a", maxContent+100)
	got := clip(long)
	if !strings.HasSuffix(got, "... (truncated)") {
		t.Error("long content not truncated")
	}
	if clip("short") != "short" {
		t.Error("short content modified")
	}
}
