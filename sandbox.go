package deepsearch

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// SandboxGateway is the contract between the code-acting loop and a
// Python executor backend. Implementations live under code/ (local
// subprocess, docker, e2b); the loop treats them as black boxes.
type SandboxGateway interface {
	// Prepare installs tool names as Python-callable shims and the
	// curated import allow-list. Called once per run, and again on
	// Reset.
	Prepare(ctx context.Context, tools map[string]Tool, authorizedImports []string) error
	// Execute runs code in the persistent interpreter. state is echoed
	// in and out so run state survives across ticks.
	Execute(ctx context.Context, code string, state map[string]any) (*Execution, error)
	// Close tears the backend down. Must be safe to call on every exit
	// path, including after a failed Prepare.
	Close() error
}

// SandboxToolCall is one entry of the tool-call log a backend records
// while executing code.
type SandboxToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	Err  string         `json:"error,omitempty"`
}

// Execution is the outcome of one Sandbox Execute.
type Execution struct {
	Stdout       string            `json:"stdout"`
	Stderr       string            `json:"stderr"`
	ReturnValue  any               `json:"return_value,omitempty"`
	UpdatedState map[string]any    `json:"updated_state,omitempty"`
	ToolCalls    []SandboxToolCall `json:"tool_calls,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// FinalAnswerArgs returns the arguments of the last successful
// final_answer call recorded during execution, if any.
func (e *Execution) FinalAnswerArgs() (map[string]any, bool) {
	for i := len(e.ToolCalls) - 1; i >= 0; i-- {
		call := e.ToolCalls[i]
		if call.Name == "final_answer" && call.Err == "" {
			return call.Args, true
		}
	}
	return nil, false
}

// --- Code validator ---

// unsafePatterns statically reject code before it ever reaches a
// backend. The list is deliberately blunt: builtins that escape the
// sandbox, shell access, and imports of process/network modules.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`__import__\s*\(`),
	regexp.MustCompile(`\bopen\s*\(`),
	regexp.MustCompile(`os\.system`),
	regexp.MustCompile(`subprocess\.`),
	regexp.MustCompile(`os\.popen`),
	regexp.MustCompile(`(?m)^\s*import\s+(os|sys|subprocess|socket|shutil)\b`),
	regexp.MustCompile(`(?m)^\s*from\s+(os|sys|subprocess|socket|shutil)\b`),
}

// CodeValidator statically screens generated code on the host side.
// Rejection never contacts the backend.
type CodeValidator struct {
	patterns []*regexp.Regexp
}

func NewCodeValidator() *CodeValidator {
	return &CodeValidator{patterns: unsafePatterns}
}

// Validate returns an unsafe_code error naming the first matched
// pattern, or nil when the code passes.
func (v *CodeValidator) Validate(code string) *SandboxError {
	for _, pat := range v.patterns {
		if loc := pat.FindString(code); loc != "" {
			return &SandboxError{
				Kind:    ErrKindUnsafeCode,
				Message: fmt.Sprintf("code contains prohibited pattern %q", loc),
			}
		}
	}
	return nil
}

// --- Authorized imports ---

// DefaultAuthorizedImports is the curated module allow-list installed
// into every sandbox namespace.
var DefaultAuthorizedImports = []string{
	"json", "re", "collections", "datetime", "time", "math",
	"itertools", "copy", "requests", "bs4", "urllib", "html",
	"io", "aiohttp", "asyncio", "dotenv",
}

// dangerousImports are stripped from any allow-list union, caller
// supplied or not.
var dangerousImports = map[string]bool{
	"os": true, "sys": true, "subprocess": true, "socket": true, "shutil": true,
}

// SanitizeImports unions the default allow-list with the caller's
// additions, removes the dangerous names and returns a sorted list.
func SanitizeImports(additional []string) []string {
	set := make(map[string]bool, len(DefaultAuthorizedImports)+len(additional))
	for _, name := range DefaultAuthorizedImports {
		set[name] = true
	}
	for _, name := range additional {
		if name != "" {
			set[name] = true
		}
	}
	for name := range dangerousImports {
		delete(set, name)
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
