package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRerankTexts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer jina-key" {
			t.Errorf("auth = %q", got)
		}
		var req struct {
			Query     string   `json:"query"`
			Documents []string `json:"documents"`
			TopN      int      `json:"top_n"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Query != "go channels" || len(req.Documents) != 3 || req.TopN != 2 {
			t.Errorf("req = %+v", req)
		}
		fmt.Fprint(w, `{"results":[
			{"index":2,"relevance_score":0.92},
			{"index":0,"relevance_score":0.41}
		]}`)
	}))
	defer srv.Close()

	tool := New("jina-key", WithBaseURL(srv.URL))
	out, err := tool.Invoke(context.Background(), map[string]any{
		"query": "go channels",
		"texts": []any{"goroutines", "python asyncio", "channel select"},
		"top_n": 2.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	results := out.(map[string]any)["results"].([]Ranked)
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	if results[0].Text != "channel select" || results[0].Score != 0.92 {
		t.Errorf("top result = %+v", results[0])
	}
	if results[1].Index != 0 {
		t.Errorf("second result = %+v", results[1])
	}
}

func TestRerankValidation(t *testing.T) {
	tool := New("jina-key")
	cases := []map[string]any{
		{"query": "", "texts": []any{"a"}},
		{"query": "q", "texts": []any{}},
		{"query": "q", "texts": 42},
	}
	for _, args := range cases {
		if _, err := tool.Invoke(context.Background(), args); err == nil {
			t.Errorf("accepted %v", args)
		}
	}
}

func TestRerankClampsTopN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TopN int `json:"top_n"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.TopN != 2 {
			t.Errorf("top_n = %d, want clamped to 2", req.TopN)
		}
		fmt.Fprint(w, `{"results":[{"index":0,"relevance_score":1}]}`)
	}))
	defer srv.Close()

	_, err := New("jina-key", WithBaseURL(srv.URL)).Invoke(context.Background(), map[string]any{
		"query": "q", "texts": []any{"a", "b"}, "top_n": 99,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRerankAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New("bad", WithBaseURL(srv.URL)).Rerank(context.Background(), "q", []string{"a"}, 1)
	if err == nil {
		t.Fatal("401 accepted")
	}
}
