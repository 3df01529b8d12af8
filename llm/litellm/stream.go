package litellm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/deepsearch-ai/deepsearch"
)

// streamSSE reads an OpenAI-style SSE body, publishing content deltas
// into ch while accumulating the full response. Tool calls arrive as
// indexed argument fragments and are assembled before returning.
//
//	data: {"id":"...","choices":[...]}
//	data: [DONE]
func streamSSE(ctx context.Context, body io.Reader, ch chan<- deepsearch.Delta) (deepsearch.ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var content strings.Builder
	var usage deepsearch.Usage

	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	var calls []partialCall

	send := func(d deepsearch.Delta) error {
		select {
		case ch <- d:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed chunks are skipped, not fatal.
			continue
		}
		if chunk.Usage != nil {
			usage = deepsearch.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			content.WriteString(delta.Content)
			if err := send(deepsearch.Delta{Content: delta.Content}); err != nil {
				return deepsearch.ChatResponse{}, err
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(calls) <= idx {
				calls = append(calls, partialCall{})
			}
			if tc.ID != "" {
				calls[idx].id = tc.ID
			}
			if tc.Function.Name != "" {
				calls[idx].name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				calls[idx].args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return deepsearch.ChatResponse{}, err
	}

	var toolCalls []deepsearch.ToolCall
	for _, pc := range calls {
		args := json.RawMessage(pc.args.String())
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		toolCalls = append(toolCalls, deepsearch.ToolCall{ID: pc.id, Name: pc.name, Args: args})
	}
	resp := deepsearch.ChatResponse{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
	}
	if err := send(deepsearch.Delta{Usage: &usage, Finished: true}); err != nil {
		return deepsearch.ChatResponse{}, err
	}
	return resp, nil
}
