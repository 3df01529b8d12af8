package deepsearch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// stubAgent is a canned AgentHandle team member.
type stubAgent struct {
	name   string
	desc   string
	answer string
	err    error

	invocations []string
	depths      []int
}

func (s *stubAgent) Name() string        { return s.name }
func (s *stubAgent) Description() string { return s.desc }

func (s *stubAgent) Invoke(ctx context.Context, task string) (string, error) {
	s.invocations = append(s.invocations, task)
	s.depths = append(s.depths, DelegationDepthFrom(ctx))
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func delegateResp(agent, task string) ChatResponse {
	return toolCallResp("d1", agent, `{"task": "`+task+`"}`)
}

func TestManagerDelegatesAndSynthesizes(t *testing.T) {
	web := &stubAgent{name: "web_researcher", desc: "searches the web", answer: "population is 10M"}
	model := &scriptedModel{responses: []ChatResponse{
		planResp("delegate then answer"),
		delegateResp("web_researcher", "find the population of Lima"),
		finalAnswerResp("Population of Lima"),
	}}
	m, err := NewManager(model, testRegistry(finalAnswerTool()), []AgentHandle{web})
	if err != nil {
		t.Fatal(err)
	}

	res := m.Execute(context.Background(), "How many people live in Lima?")
	if !res.Success() {
		t.Fatalf("run failed: %s", res.Error)
	}
	if res.AgentKind != AgentManager {
		t.Errorf("kind = %q", res.AgentKind)
	}
	if len(web.invocations) != 1 || web.invocations[0] != "find the population of Lima" {
		t.Errorf("sub-agent invocations = %v", web.invocations)
	}
	if web.depths[0] != 1 {
		t.Errorf("sub-agent ran at depth %d, want 1", web.depths[0])
	}

	// Delegation recorded in state history.
	history, _ := m.Memory().State()[StateDelegationHistory].([]any)
	if len(history) != 1 {
		t.Fatalf("delegation_history = %v", history)
	}
	entry := history[0].(map[string]any)
	if entry["agent"] != "web_researcher" || entry["outcome"] != "ok" {
		t.Errorf("history entry = %v", entry)
	}
}

func TestManagerEnforcesDelegationDepth(t *testing.T) {
	web := &stubAgent{name: "web_researcher", desc: "searches", answer: "unreachable"}
	model := &scriptedModel{responses: []ChatResponse{
		planResp("plan"),
		delegateResp("web_researcher", "sub-task"),
		finalAnswerResp("Done without delegation"),
	}}
	m, err := NewManager(model, nil, []AgentHandle{web},
		WithMaxDelegationDepth(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.registry.Register(finalAnswerTool()); err != nil {
		t.Fatal(err)
	}

	// The run itself already starts at depth 1, as if an outer manager
	// delegated to this one.
	res := m.ExecuteStream(WithDelegationDepth(context.Background(), 1), "task", nil)
	if !res.Success() {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(web.invocations) != 0 {
		t.Fatal("sub-agent ran past the delegation bound")
	}

	var capped bool
	for _, step := range m.Memory().Steps() {
		if a, ok := step.(*ActionStep); ok {
			for _, obs := range a.Observations {
				if s, _ := obs.Value.(string); strings.Contains(s, "Maximum delegation depth reached") {
					capped = true
				}
			}
		}
	}
	if !capped {
		t.Error("depth overflow not reported to the model")
	}
}

// A failing sub-agent is an observation, never a fatal error.
func TestManagerSubAgentFailureIsObservation(t *testing.T) {
	flaky := &stubAgent{name: "flaky", desc: "fails", err: errors.New("sub-agent crashed")}
	model := &scriptedModel{responses: []ChatResponse{
		planResp("plan"),
		delegateResp("flaky", "do something"),
		finalAnswerResp("Recovered"),
	}}
	m, err := NewManager(model, testRegistry(finalAnswerTool()), []AgentHandle{flaky})
	if err != nil {
		t.Fatal(err)
	}

	res := m.Execute(context.Background(), "task")
	if !res.Success() {
		t.Fatalf("run failed: %s", res.Error)
	}

	var reported bool
	for _, step := range m.Memory().Steps() {
		if a, ok := step.(*ActionStep); ok {
			for _, obs := range a.Observations {
				if s, _ := obs.Value.(string); strings.Contains(s, "Error executing sub-agent flaky") {
					reported = true
				}
			}
		}
	}
	if !reported {
		t.Error("sub-agent failure not surfaced as an observation")
	}

	history, _ := m.Memory().State()[StateDelegationHistory].([]any)
	if len(history) != 1 || history[0].(map[string]any)["outcome"] == "ok" {
		t.Errorf("delegation_history = %v", history)
	}
}

func TestManagerPromptCarriesTeamAndHints(t *testing.T) {
	web := &stubAgent{name: "web_researcher", desc: "searches the web"}
	model := &scriptedModel{responses: []ChatResponse{
		planResp("plan"),
		finalAnswerResp("A"),
	}}
	m, err := NewManager(model, testRegistry(finalAnswerTool()), []AgentHandle{web})
	if err != nil {
		t.Fatal(err)
	}
	if res := m.Execute(context.Background(), "search for the latest figures"); !res.Success() {
		t.Fatal(res.Error)
	}

	system := model.request(0).Messages[0].Content
	if !strings.Contains(system, "web_researcher") {
		t.Error("team roster missing from system prompt")
	}
	if !strings.Contains(system, "web search: true") {
		t.Error("task hints missing from system prompt")
	}
}

// Two delegations in one acting stage run on dispatcher goroutines;
// both must land in the history without touching the loop's State from
// the workers.
func TestManagerParallelDelegations(t *testing.T) {
	alpha := &stubAgent{name: "alpha", desc: "first", answer: "from alpha"}
	beta := &stubAgent{name: "beta", desc: "second", answer: "from beta"}
	model := &scriptedModel{responses: []ChatResponse{
		planResp("fan out"),
		{ToolCalls: []ToolCall{
			{ID: "d1", Name: "alpha", Args: json.RawMessage(`{"task": "part one"}`)},
			{ID: "d2", Name: "beta", Args: json.RawMessage(`{"task": "part two"}`)},
		}},
		finalAnswerResp("Combined"),
	}}
	m, err := NewManager(model, testRegistry(finalAnswerTool()), []AgentHandle{alpha, beta})
	if err != nil {
		t.Fatal(err)
	}

	res := m.Execute(context.Background(), "split the work")
	if !res.Success() {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(alpha.invocations) != 1 || len(beta.invocations) != 1 {
		t.Errorf("invocations = %v / %v", alpha.invocations, beta.invocations)
	}

	history, _ := m.Memory().State()[StateDelegationHistory].([]any)
	if len(history) != 2 {
		t.Fatalf("delegation_history has %d entries, want 2: %v", len(history), history)
	}
	agents := map[any]bool{}
	for _, e := range history {
		agents[e.(map[string]any)["agent"]] = true
	}
	if !agents["alpha"] || !agents["beta"] {
		t.Errorf("history agents = %v", agents)
	}
}

// A second Execute must carry the new task's hints, not replay the
// system prompt retained from the first run.
func TestManagerRebindsHintsBetweenRuns(t *testing.T) {
	web := &stubAgent{name: "web_researcher", desc: "searches the web"}
	model := &scriptedModel{responses: []ChatResponse{
		planResp("plan"),
		finalAnswerResp("A"),
		planResp("plan again"),
		finalAnswerResp("B"),
	}}
	m, err := NewManager(model, testRegistry(finalAnswerTool()), []AgentHandle{web})
	if err != nil {
		t.Fatal(err)
	}

	if res := m.Execute(context.Background(), "calculate the compound interest"); !res.Success() {
		t.Fatal(res.Error)
	}
	if res := m.Execute(context.Background(), "find the latest news about Go"); !res.Success() {
		t.Fatal(res.Error)
	}

	// First run made two model requests; index 2 opens the second run.
	system := model.request(2).Messages[0].Content
	if !strings.Contains(system, "web search: true") {
		t.Errorf("second run kept stale hints, system prompt has %q", hintLineOf(system))
	}
	if !strings.Contains(system, "computation: false") {
		t.Errorf("second run kept stale hints, system prompt has %q", hintLineOf(system))
	}
}

func hintLineOf(system string) string {
	for _, line := range strings.Split(system, "\n") {
		if strings.Contains(line, "web search:") {
			return line
		}
	}
	return ""
}

func TestManagerSharedRegistryUntouched(t *testing.T) {
	shared := testRegistry(echoTool("search_links"))
	web := &stubAgent{name: "web_researcher", desc: "searches"}
	if _, err := NewManager(&scriptedModel{}, shared, []AgentHandle{web}); err != nil {
		t.Fatal(err)
	}
	if _, ok := shared.Get("web_researcher"); ok {
		t.Error("delegation shim leaked into the shared registry")
	}
}
