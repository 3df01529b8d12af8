// Package search provides the web search tools: search_links and
// search_fast over the Serper.dev Google API, and xcom over xAI Live
// Search when an XAI_API_KEY is configured.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepsearch-ai/deepsearch"
	"github.com/deepsearch-ai/deepsearch/cache"
)

const (
	defaultSerperURL = "https://google.serper.dev/search"
	defaultResults   = 10
	cacheTTL         = 6 * time.Hour
)

// Option configures the search tools.
type Option func(*settings)

type settings struct {
	client    *http.Client
	serperURL string
	xaiURL    string
	cache     cache.Cache
	ttl       time.Duration
}

func defaultSettings() settings {
	return settings{
		client:    &http.Client{Timeout: 15 * time.Second},
		serperURL: defaultSerperURL,
		xaiURL:    defaultXAIURL,
		cache:     cache.Nop{},
		ttl:       cacheTTL,
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithBaseURL points the tool at a different Serper-compatible
// endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(s *settings) { s.serperURL = u }
}

// WithCache enables query-result caching.
func WithCache(c cache.Cache) Option {
	return func(s *settings) { s.cache = c }
}

// WithCacheTTL replaces the default 6h result lifetime.
func WithCacheTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// Serper is the search_links tool: Google results via Serper.dev.
type Serper struct {
	apiKey string
	name   string
	desc   string
	set    settings
}

var _ deepsearch.Tool = (*Serper)(nil)

// NewSerper creates the search_links tool. apiKey is the Serper.dev
// key (SERPER_API_KEY).
func NewSerper(apiKey string, opts ...Option) *Serper {
	set := defaultSettings()
	for _, o := range opts {
		o(&set)
	}
	return &Serper{
		apiKey: apiKey,
		name:   "search_links",
		desc:   "Search the web (Google) and return ranked result links with snippets. Use for finding sources on any topic.",
		set:    set,
	}
}

// NewFast creates the search_fast alias: the same provider tuned for
// fewer results, kept as a separate registry entry so prompts can
// steer the model to the cheaper call.
func NewFast(apiKey string, opts ...Option) *Serper {
	s := NewSerper(apiKey, opts...)
	s.name = "search_fast"
	s.desc = "Fast web search returning a handful of top links. Prefer this for quick fact checks."
	return s
}

func (s *Serper) Descriptor() deepsearch.ToolDescriptor {
	return deepsearch.ToolDescriptor{
		Name:        s.name,
		Description: s.desc,
		Inputs: map[string]deepsearch.ParamSpec{
			"query": {Type: deepsearch.TypeString, Required: true,
				Description: "Search query optimized for search engines"},
			"num_results": {Type: deepsearch.TypeInt, Default: defaultResults,
				Description: "Number of results to return"},
		},
		OutputType: "object",
	}
}

// SearchResult is one entry of the search_links result list.
type SearchResult struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

func (s *Serper) Invoke(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	num := defaultResults
	if n, ok := args["num_results"].(int); ok && n > 0 {
		num = n
	} else if f, ok := args["num_results"].(float64); ok && f > 0 {
		num = int(f)
	}
	if s.name == "search_fast" && num > 5 {
		num = 5
	}

	key := cache.Key(s.name, query, fmt.Sprint(num))
	if blob, ok, _ := s.set.cache.Get(ctx, key); ok {
		var cached []SearchResult
		if json.Unmarshal(blob, &cached) == nil {
			return map[string]any{"query": query, "results": cached, "cached": true}, nil
		}
	}

	results, err := s.search(ctx, query, num)
	if err != nil {
		return nil, err
	}
	if blob, err := json.Marshal(results); err == nil {
		_ = s.set.cache.Put(ctx, key, blob, s.set.ttl)
	}
	return map[string]any{"query": query, "results": results}, nil
}

func (s *Serper) search(ctx context.Context, query string, num int) ([]SearchResult, error) {
	payload, _ := json.Marshal(map[string]any{"q": query, "num": num})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.set.serperURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.set.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("serper API %d: %s", resp.StatusCode, body)
	}

	var data struct {
		Organic []struct {
			Title    string `json:"title"`
			Link     string `json:"link"`
			Snippet  string `json:"snippet"`
			Position int    `json:"position"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("serper parse: %w", err)
	}

	results := make([]SearchResult, 0, len(data.Organic))
	for _, r := range data.Organic {
		results = append(results, SearchResult{
			Title: r.Title, URL: r.Link, Snippet: r.Snippet, Position: r.Position,
		})
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no results for %q", query)
	}
	return results, nil
}
