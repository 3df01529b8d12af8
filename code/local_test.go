package code

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/deepsearch-ai/deepsearch"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func preparedLocalSandbox(t *testing.T) *LocalSandbox {
	t.Helper()
	requirePython(t)
	sb := NewLocalSandbox(WithTimeout(10 * time.Second))
	t.Cleanup(func() { sb.Close() })

	tools := map[string]deepsearch.Tool{
		"final_answer": deepsearch.ToolFunc{
			Desc: deepsearch.ToolDescriptor{Name: "final_answer"},
			Fn: func(_ context.Context, _ map[string]any) (any, error) {
				return "accepted", nil
			},
		},
	}
	if err := sb.Prepare(context.Background(), tools, []string{"json"}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return sb
}

// The system prompt tells the model to finish with
// final_answer(json.dumps({...}, ensure_ascii=False)); the shim must
// accept that positional form, not just keyword arguments.
func TestLocalSandboxFinalAnswerPositionalJSON(t *testing.T) {
	sb := preparedLocalSandbox(t)

	code := `import json
final_answer(json.dumps({"title": "Go SSA", "content": "answer body", "sources": ["https://go.dev"]}, ensure_ascii=False))
`
	res, err := sb.Execute(context.Background(), code, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("execution error: %s", res.Error)
	}
	args, ok := res.FinalAnswerArgs()
	if !ok {
		t.Fatalf("no final_answer call recorded, tool calls = %+v", res.ToolCalls)
	}
	answer, err := deepsearch.ParseFinalAnswer(args)
	if err != nil {
		t.Fatalf("ParseFinalAnswer: %v", err)
	}
	if answer.Title != "Go SSA" || len(answer.Sources) != 1 {
		t.Errorf("answer = %+v", answer)
	}
}

func TestLocalSandboxFinalAnswerKeywordForm(t *testing.T) {
	sb := preparedLocalSandbox(t)

	code := `final_answer(title="T", content="C", sources=["https://x"])`
	res, err := sb.Execute(context.Background(), code, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("execution error: %s", res.Error)
	}
	args, ok := res.FinalAnswerArgs()
	if !ok || args["title"] != "T" {
		t.Errorf("args = %+v, ok = %v", args, ok)
	}
}

func TestLocalSandboxFinalAnswerStopsBlock(t *testing.T) {
	sb := preparedLocalSandbox(t)

	// Nothing after final_answer should run.
	code := `import json
final_answer(json.dumps({"title": "T", "content": "C", "sources": []}))
print("unreachable")
`
	res, err := sb.Execute(context.Background(), code, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Stdout != "" {
		t.Errorf("stdout = %q, want empty after final_answer", res.Stdout)
	}
	if _, ok := res.FinalAnswerArgs(); !ok {
		t.Error("final_answer call not recorded")
	}
}
