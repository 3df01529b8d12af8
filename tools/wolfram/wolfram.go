// Package wolfram provides the wolfram tool over the WolframAlpha
// LLM API, which returns plain text tuned for model consumption.
package wolfram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deepsearch-ai/deepsearch"
)

const (
	defaultBaseURL = "https://www.wolframalpha.com/api/v1/llm-api"
	maxAnswerBytes = 32 * 1024
)

// Option configures the wolfram tool.
type Option func(*Tool)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// WithBaseURL points the tool at a different endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(t *Tool) { t.baseURL = u }
}

// Tool implements wolfram.
type Tool struct {
	appID   string
	baseURL string
	client  *http.Client
}

var _ deepsearch.Tool = (*Tool)(nil)

// New creates the wolfram tool. appID is the WolframAlpha app id
// (WOLFRAM_ALPHA_APP_ID).
func New(appID string, opts ...Option) *Tool {
	t := &Tool{
		appID:   appID,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Descriptor() deepsearch.ToolDescriptor {
	return deepsearch.ToolDescriptor{
		Name:        "wolfram",
		Description: "Query WolframAlpha for math, science, unit conversion, and factual computation.",
		Inputs: map[string]deepsearch.ParamSpec{
			"query": {Type: deepsearch.TypeString, Required: true,
				Description: "Natural language or mathematical query"},
		},
		OutputType: "object",
	}
}

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	answer, err := t.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": query, "answer": answer}, nil
}

// Query sends the input to the LLM API and returns the plain-text
// answer.
func (t *Tool) Query(ctx context.Context, input string) (string, error) {
	params := url.Values{}
	params.Set("input", input)
	params.Set("appid", t.appID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wolfram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return "", fmt.Errorf("wolfram read: %w", err)
	}
	answer := strings.TrimSpace(string(body))

	// 501 means the input could not be interpreted; the body still
	// carries a usable explanation.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotImplemented {
		return "", fmt.Errorf("wolfram API %d: %s", resp.StatusCode, answer)
	}
	if answer == "" {
		return "", fmt.Errorf("wolfram returned an empty answer")
	}
	return answer, nil
}
