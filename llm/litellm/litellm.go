package litellm

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

// Client is one model handle behind a LiteLLM proxy. Build two of them
// (search and orchestrator ids) and hand them to a ModelRouter.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, e.g. to set a
// transport-level timeout or proxy.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Client) {
		if c != nil {
			l.client = c
		}
	}
}

// New creates a handle for one model id. baseURL is the proxy root
// (e.g. "http://localhost:4000"); /chat/completions is appended.
func New(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ID() string { return c.model }

// Generate sends a non-streaming chat request.
func (c *Client) Generate(ctx context.Context, req deepsearch.ChatRequest) (deepsearch.ChatResponse, error) {
	resp, err := c.send(ctx, c.buildBody(req, false))
	if err != nil {
		return deepsearch.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return deepsearch.ChatResponse{}, c.httpErr(resp)
	}
	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return deepsearch.ChatResponse{}, &deepsearch.ModelError{
			Kind: deepsearch.ModelErrProvider, Provider: c.model,
			Message: fmt.Sprintf("decode response: %v", err), Cause: err,
		}
	}
	return parseResponse(wire)
}

// GenerateStream streams deltas into ch and returns the accumulated
// response. ch stays open; the caller owns it.
func (c *Client) GenerateStream(ctx context.Context, req deepsearch.ChatRequest, ch chan<- deepsearch.Delta) (deepsearch.ChatResponse, error) {
	body := c.buildBody(req, true)
	resp, err := c.send(ctx, body)
	if err != nil {
		return deepsearch.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return deepsearch.ChatResponse{}, c.httpErr(resp)
	}
	return streamSSE(ctx, resp.Body, ch)
}

func (c *Client) buildBody(req deepsearch.ChatRequest, stream bool) chatRequest {
	body := chatRequest{
		Model:       c.model,
		Messages:    toWireMessages(req.Messages),
		Tools:       toWireTools(req.Tools),
		Stop:        req.Stop,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.JSONOutput {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return body
}

func (c *Client) send(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &deepsearch.ModelError{
			Kind: deepsearch.ModelErrProvider, Provider: c.model,
			Message: fmt.Sprintf("marshal request: %v", err), Cause: err,
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &deepsearch.ModelError{
			Kind: deepsearch.ModelErrProvider, Provider: c.model,
			Message: fmt.Sprintf("create request: %v", err), Cause: err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &deepsearch.ModelError{
				Kind: deepsearch.ModelErrCanceled, Provider: c.model,
				Message: ctx.Err().Error(), Cause: ctx.Err(),
			}
		}
		return nil, &deepsearch.ModelError{
			Kind: deepsearch.ModelErrNetwork, Provider: c.model,
			Message: err.Error(), Cause: err,
		}
	}
	return resp, nil
}

// httpErr returns the raw ErrHTTP so retry middleware can see the
// status code.
func (c *Client) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &deepsearch.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
}

func toWireMessages(msgs []deepsearch.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: m.Role, ToolCallID: m.ToolCallID}
		if len(m.Images) > 0 {
			blocks := make([]contentBlock, 0, len(m.Images)+1)
			if m.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
			}
			for _, img := range m.Images {
				blocks = append(blocks, contentBlock{
					Type:     "image_url",
					ImageURL: &imageURL{URL: "data:" + img.MimeType + ";base64," + img.Base64},
				})
			}
			wm.Content = blocks
		} else {
			wm.Content = m.Content
		}
		for i, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				Index: i,
				ID:    tc.ID,
				Type:  "function",
				Function: functionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(defs []deepsearch.ToolDefinition) []wireTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func parseResponse(wire chatResponse) (deepsearch.ChatResponse, error) {
	var out deepsearch.ChatResponse
	if wire.Usage != nil {
		out.Usage = deepsearch.Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		}
	}
	if len(wire.Choices) == 0 {
		return out, nil
	}
	msg := wire.Choices[0].Message
	if msg == nil {
		return out, nil
	}
	out.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, deepsearch.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out, nil
}

var _ deepsearch.Model = (*Client)(nil)
