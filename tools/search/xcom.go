package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/deepsearch-ai/deepsearch"
)

const defaultXAIURL = "https://api.x.ai/v1/chat/completions"

// XCom is the xcom tool: X/Twitter search via xAI Live Search. The
// model answers from live posts; sources come back as citations.
type XCom struct {
	apiKey string
	model  string
	set    settings
}

var _ deepsearch.Tool = (*XCom)(nil)

// NewXCom creates the xcom tool. apiKey is the xAI key (XAI_API_KEY).
func NewXCom(apiKey string, opts ...Option) *XCom {
	set := defaultSettings()
	for _, o := range opts {
		o(&set)
	}
	return &XCom{apiKey: apiKey, model: "grok-4-fast", set: set}
}

// WithXAIBaseURL points the tool at a different endpoint. Used by
// tests.
func WithXAIBaseURL(u string) Option {
	return func(s *settings) { s.xaiURL = u }
}

func (x *XCom) Descriptor() deepsearch.ToolDescriptor {
	return deepsearch.ToolDescriptor{
		Name:        "xcom",
		Description: "Search X (Twitter) posts via xAI Live Search. Use for breaking news, sentiment and first-hand accounts.",
		Inputs: map[string]deepsearch.ParamSpec{
			"query": {Type: deepsearch.TypeString, Required: true,
				Description: "What to look for on X"},
		},
		OutputType: "object",
	}
}

func (x *XCom) Invoke(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	payload, _ := json.Marshal(map[string]any{
		"model": x.model,
		"messages": []map[string]string{
			{"role": "user", "content": query},
		},
		"search_parameters": map[string]any{
			"mode":    "on",
			"sources": []map[string]string{{"type": "x"}},
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.set.xaiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.apiKey)

	resp, err := x.set.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("xai API %d: %s", resp.StatusCode, body)
	}

	var data struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Citations []string `json:"citations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("xai parse: %w", err)
	}
	if len(data.Choices) == 0 {
		return nil, fmt.Errorf("xai returned no choices")
	}
	return map[string]any{
		"query":     query,
		"answer":    data.Choices[0].Message.Content,
		"citations": data.Citations,
	}, nil
}
