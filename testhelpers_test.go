package deepsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// --- Model mocks ---

// scriptedModel replays a fixed response sequence. GenerateStream chops
// the scripted content into word-sized deltas so aggregator paths get
// exercised too.
type scriptedModel struct {
	id        string
	responses []ChatResponse
	errs      []error

	mu    sync.Mutex
	calls []ChatRequest
}

func (m *scriptedModel) ID() string {
	if m.id == "" {
		return "scripted"
	}
	return m.id
}

func (m *scriptedModel) next(req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.calls)
	m.calls = append(m.calls, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return ChatResponse{}, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return ChatResponse{Content: "out of script"}, nil
}

func (m *scriptedModel) Generate(_ context.Context, req ChatRequest) (ChatResponse, error) {
	return m.next(req)
}

func (m *scriptedModel) GenerateStream(ctx context.Context, req ChatRequest, ch chan<- Delta) (ChatResponse, error) {
	resp, err := m.next(req)
	if err != nil {
		return ChatResponse{}, err
	}
	for _, word := range strings.SplitAfter(resp.Content, " ") {
		select {
		case ch <- Delta{Content: word}:
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		}
	}
	select {
	case ch <- Delta{Usage: &resp.Usage, Finished: true}:
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	}
	return resp, nil
}

// callCount returns how many requests the model has served.
func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *scriptedModel) request(i int) ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

// toolCallResp builds a response announcing one structured tool call.
func toolCallResp(id, name, args string) ChatResponse {
	return ChatResponse{
		ToolCalls: []ToolCall{{ID: id, Name: name, Args: json.RawMessage(args)}},
		Usage:     Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// finalAnswerResp builds a valid final_answer call response.
func finalAnswerResp(title string) ChatResponse {
	args := fmt.Sprintf(`{"answer": {"title": %q, "content": "body\n\n## Sources\n- https://example.com", "sources": ["https://example.com"]}}`, title)
	return toolCallResp("fa-1", "final_answer", args)
}

// planResp is a plain-text planning response.
func planResp(text string) ChatResponse {
	return ChatResponse{Content: text, Usage: Usage{InputTokens: 10, OutputTokens: 5}}
}

// --- Tool mocks ---

// echoTool answers with a fixed or derived string.
func echoTool(name string) Tool {
	return ToolFunc{
		Desc: ToolDescriptor{
			Name:        name,
			Description: "echoes its input",
			Inputs: map[string]ParamSpec{
				"query": {Type: TypeString, Required: true},
			},
			OutputType: "string",
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			q, _ := args["query"].(string)
			return "echo(" + q + ") from " + name, nil
		},
	}
}

// failTool always errors.
func failTool(name string) Tool {
	return ToolFunc{
		Desc: ToolDescriptor{Name: name, Description: "always fails", OutputType: "string"},
		Fn: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("tool broken")
		},
	}
}

// blockingTool waits on release; started signals each invocation.
func blockingTool(name string, started chan<- struct{}, release <-chan struct{}) Tool {
	return ToolFunc{
		Desc: ToolDescriptor{Name: name, Description: "blocks until released", OutputType: "string"},
		Fn: func(ctx context.Context, _ map[string]any) (any, error) {
			started <- struct{}{}
			select {
			case <-release:
				return "done from " + name, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

func testRegistry(tools ...Tool) *Registry {
	reg := NewRegistry()
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			panic(err)
		}
	}
	return reg
}

// finalAnswerTool is the registry entry CodeAct namespaces expose; the
// loop intercepts it, so the body should never run in ReAct tests.
func finalAnswerTool() Tool {
	return ToolFunc{
		Desc: ToolDescriptor{
			Name:        "final_answer",
			Description: "deliver the final answer",
			Inputs: map[string]ParamSpec{
				"answer": {Type: TypeAny, Required: true},
			},
			OutputType: "string",
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

// --- Sandbox mock ---

// fakeSandbox replays scripted executions and records calls.
type fakeSandbox struct {
	mu         sync.Mutex
	prepared   int
	prepareErr error
	executions []*Execution
	execErrs   []error
	codes      []string
	closed     bool
}

func (s *fakeSandbox) Prepare(_ context.Context, _ map[string]Tool, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepareErr != nil {
		return s.prepareErr
	}
	s.prepared++
	return nil
}

func (s *fakeSandbox) Execute(_ context.Context, code string, _ map[string]any) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.codes)
	s.codes = append(s.codes, code)
	if i < len(s.execErrs) && s.execErrs[i] != nil {
		return nil, s.execErrs[i]
	}
	if i < len(s.executions) {
		return s.executions[i], nil
	}
	return &Execution{Stdout: "ok"}, nil
}

func (s *fakeSandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// codeResp wraps python code in the <code> envelope the loop extracts.
func codeResp(code string) ChatResponse {
	return ChatResponse{
		Content: "Thinking.\n<code>\n" + code + "\n</code>",
		Usage:   Usage{InputTokens: 10, OutputTokens: 5},
	}
}
