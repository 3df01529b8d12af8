package deepsearch

import (
	"context"
	"errors"
	"testing"
)

func TestRouterPicksByLatestRoutableMessage(t *testing.T) {
	search := &scriptedModel{id: "search-model", responses: []ChatResponse{{Content: "from search"}}}
	orch := &scriptedModel{id: "orch-model", responses: []ChatResponse{{Content: "from orch"}}}
	r := NewModelRouter(search, orch)

	// Planning prompt routes to the orchestrator.
	resp, err := r.Generate(context.Background(), ChatRequest{Messages: []ChatMessage{
		SystemMessage("system"),
		UserMessage("Write a facts survey and a plan for the question"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "from orch" {
		t.Errorf("plan prompt served by %q", resp.Content)
	}

	// Ordinary research chatter routes to the search model. The trailing
	// tool message never drives routing.
	resp, err = r.Generate(context.Background(), ChatRequest{Messages: []ChatMessage{
		UserMessage("What is the population of Lima?"),
		ToolResultMessage("1", "final answer mention inside a tool result"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "from search" {
		t.Errorf("research prompt served by %q", resp.Content)
	}
}

func TestRouterTokenCountsSnapshot(t *testing.T) {
	search := &scriptedModel{responses: []ChatResponse{
		{Content: "a", Usage: Usage{InputTokens: 11, OutputTokens: 7}},
	}}
	r := NewModelRouter(search, &scriptedModel{})

	if _, err := r.Generate(context.Background(), ChatRequest{Messages: []ChatMessage{UserMessage("hi")}}); err != nil {
		t.Fatal(err)
	}
	in, out := r.TokenCounts()
	if in != 11 || out != 7 {
		t.Errorf("TokenCounts() = (%d, %d), want (11, 7)", in, out)
	}
}

func TestRouterIDAndModelInfo(t *testing.T) {
	r := NewModelRouter(&scriptedModel{id: "s"}, &scriptedModel{id: "o"})
	if r.ID() != "s+o" {
		t.Errorf("ID() = %q", r.ID())
	}
	info := r.ModelInfo()
	if info["search"] != "s" || info["orchestrator"] != "o" {
		t.Errorf("ModelInfo() = %v", info)
	}
}

func TestRouterWrapsErrorsInModelError(t *testing.T) {
	search := &scriptedModel{id: "s", errs: []error{errors.New("boom")}}
	r := NewModelRouter(search, &scriptedModel{id: "o"})

	_, err := r.Generate(context.Background(), ChatRequest{Messages: []ChatMessage{UserMessage("q")}})
	var merr *ModelError
	if !errors.As(err, &merr) {
		t.Fatalf("err = %T, want *ModelError", err)
	}
	if merr.Kind != ModelErrProvider || merr.Provider != "s" {
		t.Errorf("merr = %+v", merr)
	}
}

func TestRouterMapsCancellation(t *testing.T) {
	search := &scriptedModel{errs: []error{context.Canceled}}
	r := NewModelRouter(search, &scriptedModel{})

	_, err := r.Generate(context.Background(), ChatRequest{Messages: []ChatMessage{UserMessage("q")}})
	var merr *ModelError
	if !errors.As(err, &merr) || merr.Kind != ModelErrCanceled {
		t.Fatalf("err = %v, want canceled model error", err)
	}
}
