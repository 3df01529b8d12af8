package deepsearch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func reactFactory(reg *Registry, script func() *scriptedModel) AgentFactory {
	return func(sessionID string) (Agent, error) {
		return NewReactAgent(script(), reg, WithName("react-"+sessionID)), nil
	}
}

func answerScript() *scriptedModel {
	return &scriptedModel{responses: []ChatResponse{
		planResp("plan"),
		finalAnswerResp("Answer"),
	}}
}

func TestRuntimeRun(t *testing.T) {
	reg := testRegistry(finalAnswerTool())
	rt := NewRuntime(reg)
	if err := rt.Register(AgentReact, reactFactory(reg, answerScript)); err != nil {
		t.Fatal(err)
	}

	res, err := rt.Run(context.Background(), "question", AgentReact, RunOptions{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success() {
		t.Fatalf("run failed: %s", res.Error)
	}
	if !strings.Contains(res.FinalAnswer, "Answer") {
		t.Errorf("final answer = %q", res.FinalAnswer)
	}
}

func TestRuntimeUnknownKind(t *testing.T) {
	rt := NewRuntime(NewRegistry())
	if err := rt.Register(AgentKind("surreal"), func(string) (Agent, error) { return nil, nil }); err == nil {
		t.Error("unknown kind registered")
	}
	if _, err := rt.Run(context.Background(), "q", AgentReact, RunOptions{}); err == nil {
		t.Error("run on unregistered kind succeeded")
	}
}

func TestRuntimeAgentPerSessionIdempotent(t *testing.T) {
	reg := testRegistry(finalAnswerTool())
	rt := NewRuntime(reg)
	var built int
	if err := rt.Register(AgentReact, func(sessionID string) (Agent, error) {
		built++
		return NewReactAgent(answerScript(), reg), nil
	}); err != nil {
		t.Fatal(err)
	}

	a1, _ := rt.GetOrCreateAgent(AgentReact, "s1")
	a2, _ := rt.GetOrCreateAgent(AgentReact, "s1")
	a3, _ := rt.GetOrCreateAgent(AgentReact, "s2")
	if a1 != a2 {
		t.Error("same session returned distinct agents")
	}
	if a1 == a3 {
		t.Error("sessions share an agent instance")
	}
	if built != 2 {
		t.Errorf("factory ran %d times, want 2", built)
	}
}

func TestRuntimeResetDropsSession(t *testing.T) {
	reg := testRegistry(finalAnswerTool())
	rt := NewRuntime(reg)
	if err := rt.Register(AgentReact, reactFactory(reg, answerScript)); err != nil {
		t.Fatal(err)
	}

	before, _ := rt.GetOrCreateAgent(AgentReact, "s1")
	if err := rt.Reset(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	after, _ := rt.GetOrCreateAgent(AgentReact, "s1")
	if before == after {
		t.Error("reset kept the old agent instance")
	}
}

func TestRuntimeRunStreamClosesAfterFinal(t *testing.T) {
	reg := testRegistry(finalAnswerTool())
	rt := NewRuntime(reg)
	if err := rt.Register(AgentReact, reactFactory(reg, answerScript)); err != nil {
		t.Fatal(err)
	}

	events, future, err := rt.RunStream(context.Background(), "q", AgentReact, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var sawFinal bool
	var afterFinal int
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if !sawFinal {
					t.Fatal("channel closed without a final event")
				}
				res := future.Wait()
				if !res.Success() {
					t.Fatalf("run failed: %s", res.Error)
				}
				if afterFinal != 0 {
					t.Errorf("%d events after final", afterFinal)
				}
				return
			}
			if sawFinal {
				afterFinal++
			}
			if ev.Type == EventFinal {
				sawFinal = true
				if ev.Result == nil {
					t.Error("final event without result")
				}
			}
		case <-deadline:
			t.Fatal("stream never closed")
		}
	}
}

func TestRuntimeMissingAPIKeys(t *testing.T) {
	rt := NewRuntime(NewRegistry(), WithMissingAPIKeys([]string{"serper", "jina"}))
	if rt.ValidAPIKeys() {
		t.Error("ValidAPIKeys() true despite missing providers")
	}
	if got := rt.MissingAPIKeys(); len(got) != 2 || got[0] != "serper" {
		t.Errorf("MissingAPIKeys() = %v", got)
	}

	clean := NewRuntime(NewRegistry())
	if !clean.ValidAPIKeys() {
		t.Error("ValidAPIKeys() false with nothing missing")
	}
}

func TestRuntimeFactoryError(t *testing.T) {
	rt := NewRuntime(NewRegistry())
	boom := errors.New("no model")
	if err := rt.Register(AgentCodact, func(string) (Agent, error) { return nil, boom }); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.GetOrCreateAgent(AgentCodact, "s"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped factory error", err)
	}
}
