// Package embed provides the embed_texts tool over the Jina
// embeddings API.
package embed

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
	defaultBaseURL = "https://api.jina.ai/v1/embeddings"
	defaultModel   = "jina-embeddings-v3"
	maxBatch       = 128
)

// Option configures the embed tool.
type Option func(*Tool)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// WithBaseURL points the tool at a different endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(t *Tool) { t.baseURL = u }
}

// WithModel overrides the embedding model id.
func WithModel(m string) Option {
	return func(t *Tool) { t.model = m }
}

// Tool implements embed_texts.
type Tool struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

var _ deepsearch.Tool = (*Tool)(nil)

// New creates the embed_texts tool. apiKey is the Jina key
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
		Name:        "embed_texts",
		Description: "Embed a list of texts into vectors for similarity comparison.",
		Inputs: map[string]deepsearch.ParamSpec{
			"texts": {Type: deepsearch.TypeList, Elem: deepsearch.TypeString, Required: true,
				Description: "Texts to embed"},
		},
		OutputType: "object",
	}
}

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	texts, err := stringList(args["texts"])
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts must not be empty")
	}
	if len(texts) > maxBatch {
		return nil, fmt.Errorf("too many texts: %d > %d", len(texts), maxBatch)
	}

	vectors, err := t.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"embeddings": vectors, "model": t.model}, nil
}

// Embed returns one vector per input text, in order.
func (t *Tool) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	payload, _ := json.Marshal(map[string]any{
		"model": t.model,
		"input": texts,
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
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("jina parse: %w", err)
	}
	if len(data.Data) != len(texts) {
		return nil, fmt.Errorf("jina returned %d vectors for %d texts", len(data.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for _, d := range data.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("jina returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
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
