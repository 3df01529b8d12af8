// Package rerank provides the rerank_texts tool over the Jina
// reranker API.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deepsearch-ai/deepsearch"
)

const (
	defaultBaseURL = "https://api.jina.ai/v1/rerank"
	defaultModel   = "jina-reranker-v2-base-multilingual"
	defaultTopN    = 5
	maxDocuments   = 256
)

// Option configures the rerank tool.
type Option func(*Tool)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// WithBaseURL points the tool at a different endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(t *Tool) { t.baseURL = u }
}

// WithModel overrides the reranker model id.
func WithModel(m string) Option {
	return func(t *Tool) { t.model = m }
}

// Tool implements rerank_texts.
type Tool struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

var _ deepsearch.Tool = (*Tool)(nil)

// New creates the rerank_texts tool. apiKey is the Jina key
// (JINA_API_KEY).
func New(apiKey string, opts ...Option) *Tool {
	t := &Tool{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Descriptor() deepsearch.ToolDescriptor {
	return deepsearch.ToolDescriptor{
		Name:        "rerank_texts",
		Description: "Rank a list of texts by relevance to a query. Returns the top matches with scores.",
		Inputs: map[string]deepsearch.ParamSpec{
			"query": {Type: deepsearch.TypeString, Required: true,
				Description: "Query to rank against"},
			"texts": {Type: deepsearch.TypeList, Elem: deepsearch.TypeString, Required: true,
				Description: "Candidate texts"},
			"top_n": {Type: deepsearch.TypeInt, Default: defaultTopN,
				Description: "Number of top results to return"},
		},
		OutputType: "object",
	}
}

// Ranked is one reranked document.
type Ranked struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	texts, err := stringList(args["texts"])
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts must not be empty")
	}
	if len(texts) > maxDocuments {
		return nil, fmt.Errorf("too many texts: %d > %d", len(texts), maxDocuments)
	}
	topN := intArg(args, "top_n", defaultTopN)
	if topN <= 0 || topN > len(texts) {
		topN = len(texts)
	}

	ranked, err := t.Rerank(ctx, query, texts, topN)
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": query, "results": ranked}, nil
}

// Rerank returns the topN most relevant texts, best first.
func (t *Tool) Rerank(ctx context.Context, query string, texts []string, topN int) ([]Ranked, error) {
	payload, _ := json.Marshal(map[string]any{
		"model":     t.model,
		"query":     query,
		"documents": texts,
		"top_n":     topN,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jina request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("jina API %d: %s", resp.StatusCode, body)
	}

	var data struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("jina parse: %w", err)
	}

	ranked := make([]Ranked, 0, len(data.Results))
	for _, r := range data.Results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("jina returned out-of-range index %d", r.Index)
		}
		ranked = append(ranked, Ranked{Index: r.Index, Text: texts[r.Index], Score: r.RelevanceScore})
	}
	return ranked, nil
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("texts must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("texts must be a list, got %T", v)
	}
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
