// Package chunk provides the chunk_text tool: a recursive character
// splitter (paragraph → sentence → word) with overlap, used to cut
// fetched pages into rankable pieces.
package chunk

import (
	"context"
	"fmt"

	"github.com/deepsearch-ai/deepsearch"
)

// Tool implements chunk_text.
type Tool struct {
	maxChars     int
	overlapChars int
}

var _ deepsearch.Tool = (*Tool)(nil)

// Option configures the splitter defaults.
type Option func(*Tool)

// WithMaxChars sets the default chunk size in characters.
func WithMaxChars(n int) Option {
	return func(t *Tool) { t.maxChars = n }
}

// WithOverlapChars sets the default overlap between chunks.
func WithOverlapChars(n int) Option {
	return func(t *Tool) { t.overlapChars = n }
}

func New(opts ...Option) *Tool {
	t := &Tool{maxChars: 2000, overlapChars: 200}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Descriptor() deepsearch.ToolDescriptor {
	return deepsearch.ToolDescriptor{
		Name:        "chunk_text",
		Description: "Split long text into overlapping chunks along paragraph and sentence boundaries. Use before embedding or reranking.",
		Inputs: map[string]deepsearch.ParamSpec{
			"text": {Type: deepsearch.TypeString, Required: true,
				Description: "Text to split"},
			"chunk_size": {Type: deepsearch.TypeInt, Default: 2000,
				Description: "Maximum characters per chunk"},
			"overlap": {Type: deepsearch.TypeInt, Default: 200,
				Description: "Characters of overlap between adjacent chunks"},
		},
		OutputType: "object",
	}
}

func (t *Tool) Invoke(_ context.Context, args map[string]any) (any, error) {
	text, _ := args["text"].(string)
	if text == "" {
		return nil, fmt.Errorf("text must not be empty")
	}
	maxChars := intArg(args, "chunk_size", t.maxChars)
	overlap := intArg(args, "overlap", t.overlapChars)
	if maxChars <= 0 {
		return nil, fmt.Errorf("chunk_size must be positive")
	}
	if overlap >= maxChars {
		overlap = maxChars / 4
	}

	chunks := Split(text, maxChars, overlap)
	return map[string]any{"chunks": chunks, "count": len(chunks)}, nil
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
