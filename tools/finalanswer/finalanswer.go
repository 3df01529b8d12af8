// Package finalanswer provides the terminal final_answer tool. It
// validates the answer payload and normalizes the content so it always
// carries a "## Sources" section mirroring the sources list.
package finalanswer

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/deepsearch-ai/deepsearch"
)

// Tool implements final_answer. The agent loops treat the call as
// terminal; Invoke is reached when the sandbox shim or a dispatcher
// routes the call like any other tool.
type Tool struct{}

var _ deepsearch.Tool = (*Tool)(nil)

func New() *Tool { return &Tool{} }

func (t *Tool) Descriptor() deepsearch.ToolDescriptor {
	return deepsearch.ToolDescriptor{
		Name:        "final_answer",
		Description: "Deliver the final answer and finish the task. Requires title, content (markdown), and the list of source URLs.",
		Inputs: map[string]deepsearch.ParamSpec{
			"title": {Type: deepsearch.TypeString, Required: true,
				Description: "Short answer title"},
			"content": {Type: deepsearch.TypeString, Required: true,
				Description: "Full answer in markdown"},
			"sources": {Type: deepsearch.TypeList, Elem: deepsearch.TypeString, Required: true,
				Description: "URLs the answer is based on"},
		},
		OutputType: "object",
	}
}

func (t *Tool) Invoke(_ context.Context, args map[string]any) (any, error) {
	fa, err := deepsearch.ParseFinalAnswer(args)
	if err != nil {
		return nil, err
	}
	norm := Normalize(fa)
	return map[string]any{"answer": map[string]any{
		"title":   norm.Title,
		"content": norm.Content,
		"sources": norm.Sources,
	}}, nil
}

// Normalize returns the payload with its content guaranteed to end in
// a "## Sources" section when sources are present. Content that
// already carries one is left untouched.
func Normalize(fa deepsearch.FinalAnswer) deepsearch.FinalAnswer {
	if len(fa.Sources) == 0 || hasSourcesSection(fa.Content) {
		return fa
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(fa.Content, "\n"))
	b.WriteString("\n\n## Sources\n\n")
	for _, src := range fa.Sources {
		fmt.Fprintf(&b, "- %s\n", src)
	}
	fa.Content = b.String()
	return fa
}

// hasSourcesSection walks the markdown AST looking for a heading whose
// text is "Sources" (any level, case-insensitive).
func hasSourcesSection(content string) bool {
	source := []byte(content)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	found := false
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if strings.EqualFold(strings.TrimSpace(headingText(h, source)), "sources") {
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkSkipChildren, nil
	})
	return found
}

func headingText(h *ast.Heading, source []byte) string {
	var b strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return b.String()
}
