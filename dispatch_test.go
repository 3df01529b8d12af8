package deepsearch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func call(id, name, args string) ToolCall {
	return ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
}

// Sibling calls must run concurrently: every tool blocks until all have
// started. Sequential execution deadlocks and the timeout catches it.
func TestInvokeManyRunsSiblingsInParallel(t *testing.T) {
	const n = 3
	release := make(chan struct{})
	started := make(chan struct{}, n)

	reg := testRegistry(
		blockingTool("tool_0", started, release),
		blockingTool("tool_1", started, release),
		blockingTool("tool_2", started, release),
	)
	d := NewDispatcher(reg, WithMaxParallel(n))

	done := make(chan []Observation, 1)
	go func() {
		done <- d.InvokeMany(context.Background(), []ToolCall{
			call("1", "tool_0", `{}`),
			call("2", "tool_1", `{}`),
			call("3", "tool_2", `{}`),
		})
	}()

	for i := 0; i < n; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("tool did not start; siblings likely running sequentially")
		}
	}
	close(release)

	select {
	case obs := <-done:
		for i, o := range obs {
			if o.Failed() {
				t.Errorf("slot %d failed: %s", i, o.ErrText)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not finish")
	}
}

func TestInvokeManyPreservesCallOrder(t *testing.T) {
	reg := testRegistry(echoTool("alpha"), echoTool("beta"), echoTool("gamma"))
	d := NewDispatcher(reg, WithMaxParallel(2))

	calls := []ToolCall{
		call("1", "gamma", `{"query": "g"}`),
		call("2", "alpha", `{"query": "a"}`),
		call("3", "beta", `{"query": "b"}`),
	}
	obs := d.InvokeMany(context.Background(), calls)
	if len(obs) != len(calls) {
		t.Fatalf("got %d observations, want %d", len(obs), len(calls))
	}
	for i, o := range obs {
		if o.Tool != calls[i].Name {
			t.Errorf("slot %d: tool = %q, want %q", i, o.Tool, calls[i].Name)
		}
		if o.CallID != calls[i].ID {
			t.Errorf("slot %d: call id = %q, want %q", i, o.CallID, calls[i].ID)
		}
	}
}

// One failing sibling never poisons the others: each slot carries its
// own result or error.
func TestInvokeManyIsolatesPerSlotErrors(t *testing.T) {
	reg := testRegistry(echoTool("good"), failTool("bad"))
	d := NewDispatcher(reg)

	obs := d.InvokeMany(context.Background(), []ToolCall{
		call("1", "good", `{"query": "x"}`),
		call("2", "bad", `{}`),
		call("3", "good", `{"query": "y"}`),
	})

	if obs[0].Failed() || obs[2].Failed() {
		t.Fatalf("healthy slots failed: %q / %q", obs[0].ErrText, obs[2].ErrText)
	}
	if !obs[1].Failed() {
		t.Fatal("failing slot reported success")
	}
	if obs[1].Err.Kind != ErrKindToolError {
		t.Errorf("error kind = %q, want %q", obs[1].Err.Kind, ErrKindToolError)
	}
}

func TestInvokeSchemaViolation(t *testing.T) {
	reg := testRegistry(echoTool("echo"))
	d := NewDispatcher(reg)

	obs := d.Invoke(context.Background(), call("1", "echo", `{}`))
	if !obs.Failed() {
		t.Fatal("missing required parameter accepted")
	}
	if obs.Err.Kind != ErrKindSchema {
		t.Errorf("kind = %q, want %q", obs.Err.Kind, ErrKindSchema)
	}
	if !strings.Contains(obs.ErrText, "query") {
		t.Errorf("error %q does not name the missing parameter", obs.ErrText)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	d := NewDispatcher(testRegistry())
	obs := d.Invoke(context.Background(), call("1", "ghost", `{}`))
	if obs.Err == nil || obs.Err.Kind != ErrKindNotFound {
		t.Fatalf("kind = %v, want %q", obs.Err, ErrKindNotFound)
	}
}

func TestInvokeRecoversToolPanic(t *testing.T) {
	panicky := ToolFunc{
		Desc: ToolDescriptor{Name: "boom", Description: "panics"},
		Fn: func(_ context.Context, _ map[string]any) (any, error) {
			panic("kaboom")
		},
	}
	d := NewDispatcher(testRegistry(panicky))
	obs := d.Invoke(context.Background(), call("1", "boom", `{}`))
	if obs.Err == nil || obs.Err.Kind != ErrKindToolError {
		t.Fatalf("panic not mapped to tool_error: %v", obs.Err)
	}
	if !strings.Contains(obs.ErrText, "kaboom") {
		t.Errorf("error %q lost the panic payload", obs.ErrText)
	}
}

func TestInvokeManyCancelFillsPendingSlots(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	defer close(release)

	reg := testRegistry(blockingTool("slow", started, release))
	d := NewDispatcher(reg, WithMaxParallel(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []Observation, 1)
	go func() {
		done <- d.InvokeMany(ctx, []ToolCall{
			call("1", "slow", `{}`),
			call("2", "slow", `{}`),
		})
	}()

	<-started
	cancel()

	var obs []Observation
	select {
	case obs = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not unblock dispatch")
	}
	for i, o := range obs {
		if !o.Failed() {
			t.Fatalf("slot %d succeeded after cancel", i)
		}
		if o.Err.Kind != ErrKindCanceled {
			t.Errorf("slot %d: kind = %q, want %q", i, o.Err.Kind, ErrKindCanceled)
		}
	}
}

func TestInvokeTimeoutKind(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	defer close(release)

	reg := testRegistry(blockingTool("slow", started, release))
	d := NewDispatcher(reg, WithCallTimeout(20*time.Millisecond))

	go func() { <-started }()
	obs := d.Invoke(context.Background(), call("1", "slow", `{}`))
	if obs.Err == nil || obs.Err.Kind != ErrKindTimeout {
		t.Fatalf("kind = %v, want %q", obs.Err, ErrKindTimeout)
	}
}

func TestObservationText(t *testing.T) {
	plain := Observation{Value: "already text"}
	if got := plain.Text(); got != "already text" {
		t.Errorf("Text() = %q", got)
	}
	structured := Observation{Value: map[string]any{"k": "v"}}
	if got := structured.Text(); got != `{"k":"v"}` {
		t.Errorf("Text() = %q", got)
	}
	failed := Observation{Err: &ToolError{Kind: ErrKindTimeout, Tool: "slow", Message: "deadline"}}
	if got := failed.Text(); !strings.HasPrefix(got, "Error: ") {
		t.Errorf("Text() = %q, want Error prefix", got)
	}
}
