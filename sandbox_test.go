package deepsearch

import (
	"strings"
	"testing"
)

func TestCodeValidatorRejectsUnsafePatterns(t *testing.T) {
	v := NewCodeValidator()
	bad := []string{
		`eval("1+1")`,
		`exec(payload)`,
		`__import__("os")`,
		`open("/etc/passwd")`,
		`import os` + "\n" + `os.system("ls")`,
		`from subprocess import run`,
		`result = os.popen("id").read()`,
	}
	for _, code := range bad {
		serr := v.Validate(code)
		if serr == nil {
			t.Errorf("Validate(%q) passed, want unsafe_code", code)
			continue
		}
		if serr.Kind != ErrKindUnsafeCode {
			t.Errorf("Validate(%q) kind = %q", code, serr.Kind)
		}
	}
}

func TestCodeValidatorAcceptsOrdinaryCode(t *testing.T) {
	v := NewCodeValidator()
	ok := []string{
		`import json` + "\n" + `print(json.dumps({"a": 1}))`,
		`results = search_links(query="go generics")`,
		// Identifiers merely containing the banned names are fine.
		`exposure = evaluate(opening)`,
		`import ossify_helpers`,
	}
	for _, code := range ok {
		if serr := v.Validate(code); serr != nil {
			t.Errorf("Validate(%q) = %v, want nil", code, serr)
		}
	}
}

func TestSanitizeImports(t *testing.T) {
	got := SanitizeImports([]string{"numpy", "os", "sys", "", "math"})
	joined := "," + strings.Join(got, ",") + ","
	for _, banned := range []string{"os", "sys", "subprocess", "socket", "shutil"} {
		if strings.Contains(joined, ","+banned+",") {
			t.Errorf("dangerous module %q survived: %v", banned, got)
		}
	}
	if !strings.Contains(joined, ",numpy,") || !strings.Contains(joined, ",math,") {
		t.Errorf("additions lost: %v", got)
	}
	// Sorted for stable prompt rendering.
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("not sorted: %v", got)
		}
	}
}

func TestExecutionFinalAnswerArgs(t *testing.T) {
	exec := &Execution{ToolCalls: []SandboxToolCall{
		{Name: "search_links", Args: map[string]any{"query": "x"}},
		{Name: "final_answer", Args: map[string]any{"title": "bad"}, Err: "invalid"},
		{Name: "final_answer", Args: map[string]any{"title": "good"}},
	}}
	args, ok := exec.FinalAnswerArgs()
	if !ok || args["title"] != "good" {
		t.Fatalf("FinalAnswerArgs() = %v, %v", args, ok)
	}

	none := &Execution{ToolCalls: []SandboxToolCall{{Name: "read_url"}}}
	if _, ok := none.FinalAnswerArgs(); ok {
		t.Error("final answer reported where none succeeded")
	}
}
