package deepsearch

import (
	"context"
	"encoding/json"
	"strings"
)

// ReactAgent is the tool-calling loop: the model announces structured
// tool calls, the dispatcher fans them out, and the aligned
// observations feed the next tick.
type ReactAgent struct {
	core       loopCore
	dispatcher *Dispatcher
	registry   *Registry
	name       string
	desc       string
}

// NewReactAgent builds a ReAct loop over the given model (usually a
// *ModelRouter) and tool registry.
func NewReactAgent(model Model, registry *Registry, opts ...AgentOption) *ReactAgent {
	cfg := buildAgentConfig(opts)
	if cfg.name == "" {
		cfg.name = "react"
	}
	a := &ReactAgent{
		dispatcher: NewDispatcher(registry,
			WithMaxParallel(cfg.maxToolThreads),
			WithDispatcherLogger(cfg.logger),
			WithDispatcherTracer(cfg.tracer)),
		registry: registry,
		name:     cfg.name,
		desc:     cfg.description,
	}
	a.core = loopCore{
		name:             cfg.name,
		kind:             AgentReact,
		router:           model,
		modelInfo:        modelInfoOf(model),
		memory:           NewMemory(cfg.initialState),
		prompts:          BindPrompts(AgentReact, registry, PromptOptions{}),
		maxSteps:         cfg.maxSteps,
		planningInterval: cfg.planningInterval,
		toolDefs:         registry.Definitions(),
		act:              a.act,
		logger:           cfg.logger,
		tracer:           cfg.tracer,
	}
	return a
}

func (a *ReactAgent) Kind() AgentKind    { return AgentReact }
func (a *ReactAgent) Name() string       { return a.name }
func (a *ReactAgent) Description() string { return a.desc }

// Memory exposes the step log for inspection; callers must not mutate
// it concurrently with a run.
func (a *ReactAgent) Memory() *Memory { return a.core.memory }

// Execute runs the task to completion. Each call starts a fresh run:
// leftover memory from an earlier run is reset first.
func (a *ReactAgent) Execute(ctx context.Context, task string) *RunResult {
	return a.execute(ctx, task, nil)
}

// ExecuteStream is Execute with live events: Delta* StepSummary per
// step, then Final exactly once.
func (a *ReactAgent) ExecuteStream(ctx context.Context, task string, events chan<- Event) *RunResult {
	return a.execute(ctx, task, events)
}

func (a *ReactAgent) execute(ctx context.Context, task string, events chan<- Event) *RunResult {
	if a.core.memory.Len() > 0 {
		if err := a.Reset(ctx); err != nil {
			return ErrResult(err.Error(), "", Usage{}, nil)
		}
	}
	a.registry.Freeze()
	return a.core.run(ctx, task, events)
}

// Reset rebuilds memory from the initial state template.
func (a *ReactAgent) Reset(ctx context.Context) error {
	a.core.memory.Reset()
	return nil
}

// Invoke satisfies AgentHandle so a manager can expose this agent as a
// tool. The run is non-streaming with a fresh memory; the final answer
// payload is returned as its JSON text.
func (a *ReactAgent) Invoke(ctx context.Context, task string) (string, error) {
	res := a.Execute(ctx, task)
	if !res.Success() {
		return "", &ToolError{Kind: ErrKindToolError, Tool: a.name, Message: res.Error}
	}
	return res.FinalAnswer, nil
}

// act is the ReAct acting stage: partition out final_answer, fan the
// rest through the dispatcher, and keep observations aligned with the
// originating calls.
func (a *ReactAgent) act(ctx context.Context, step *ActionStep, resp ChatResponse) (*FinalAnswer, error) {
	calls := resp.ToolCalls
	if len(calls) == 0 {
		calls = ParseToolCallBlob(resp.Content)
	}
	if len(calls) == 0 {
		// Plain text: a continued thought, logged but no action.
		return nil, nil
	}
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = NewID()
		}
	}
	step.ToolCalls = calls

	observations := make([]Observation, len(calls))
	var regular []ToolCall
	var regularIdx []int
	var final *FinalAnswer

	for i, call := range calls {
		if call.Name != "final_answer" {
			regular = append(regular, call)
			regularIdx = append(regularIdx, i)
			continue
		}
		fa, err := finalAnswerFromCall(call)
		if err != nil {
			terr := &ToolError{Kind: ErrKindToolError, Tool: "final_answer",
				Message: "final_answer requires title, content, sources"}
			observations[i] = Observation{CallID: call.ID, Tool: call.Name, Err: terr, ErrText: terr.Error()}
			continue
		}
		observations[i] = Observation{CallID: call.ID, Tool: call.Name, Value: fa.JSON()}
		if final == nil {
			final = &fa
		}
	}

	if len(regular) > 0 {
		results := a.dispatcher.InvokeMany(ctx, regular)
		for j, idx := range regularIdx {
			observations[idx] = results[j]
		}
	}
	step.Observations = observations
	a.recordState(calls, observations)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return final, nil
}

// recordState mirrors tool activity into the reserved state keys so
// prompts and sub-agents can see research progress.
func (a *ReactAgent) recordState(calls []ToolCall, observations []Observation) {
	state := a.core.memory.State()
	for i, call := range calls {
		if observations[i].Failed() {
			continue
		}
		args, err := call.ArgsMap()
		if err != nil {
			continue
		}
		switch call.Name {
		case "search_links", "search_fast", "xcom":
			if q, ok := args["query"].(string); ok && q != "" {
				queries, _ := state[StateSearchQueries].([]string)
				state[StateSearchQueries] = append(queries, q)
			}
		case "read_url":
			if u, ok := args["url"].(string); ok && u != "" {
				state.VisitedURLs().Add(u)
			}
		}
	}
}

// finalAnswerFromCall decodes and validates a final_answer call.
func finalAnswerFromCall(call ToolCall) (FinalAnswer, error) {
	args, err := call.ArgsMap()
	if err != nil {
		return FinalAnswer{}, err
	}
	return ParseFinalAnswer(args)
}

// ParseToolCallBlob extracts tool calls from assistant text carrying
// the JSON wire form {"name": "...", "arguments": {...}}, a JSON array
// of such blobs, or a fenced ```json block around either.
func ParseToolCallBlob(content string) []ToolCall {
	text := strings.TrimSpace(content)
	if fenced := extractFence(text, "```json"); fenced != "" {
		text = fenced
	}
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return nil
	}
	text = text[start:]
	end := strings.LastIndexAny(text, "]}")
	if end < 0 {
		return nil
	}
	text = text[:end+1]

	type blob struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	decode := func(b blob) (ToolCall, bool) {
		if b.Name == "" {
			return ToolCall{}, false
		}
		args := b.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return ToolCall{ID: NewID(), Name: b.Name, Args: args}, true
	}

	if strings.HasPrefix(text, "[") {
		var blobs []blob
		if err := json.Unmarshal([]byte(text), &blobs); err != nil {
			return nil
		}
		var calls []ToolCall
		for _, b := range blobs {
			if call, ok := decode(b); ok {
				calls = append(calls, call)
			}
		}
		return calls
	}

	var b blob
	if err := json.Unmarshal([]byte(text), &b); err != nil {
		return nil
	}
	if call, ok := decode(b); ok {
		return []ToolCall{call}
	}
	return nil
}

// extractFence returns the body of the first fenced block opened by
// marker, or "" when absent.
func extractFence(text, marker string) string {
	i := strings.Index(text, marker)
	if i < 0 {
		return ""
	}
	rest := text[i+len(marker):]
	j := strings.Index(rest, "```")
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:j])
}

var (
	_ Agent       = (*ReactAgent)(nil)
	_ AgentHandle = (*ReactAgent)(nil)
)
