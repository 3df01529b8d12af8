package deepsearch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AgentKind names a loop variant.
type AgentKind string

const (
	AgentReact   AgentKind = "react"
	AgentCodact  AgentKind = "codact"
	AgentManager AgentKind = "manager"
)

// ValidAgentKind reports whether kind names a known loop variant.
func ValidAgentKind(kind AgentKind) bool {
	switch kind {
	case AgentReact, AgentCodact, AgentManager:
		return true
	}
	return false
}

// StepSummary is the exported projection of one step: type plus a
// one-line content preview. Full Memory is never exported.
type StepSummary struct {
	Kind     StepKind      `json:"kind"`
	Content  string        `json:"content"`
	Duration time.Duration `json:"duration"`
	Usage    *Usage        `json:"usage,omitempty"`
}

// SummarizeStep projects a step onto its summary line.
func SummarizeStep(step Step) StepSummary {
	s := StepSummary{
		Kind:     step.Kind(),
		Duration: step.Meta().Duration(),
		Usage:    step.Meta().Usage,
	}
	switch v := step.(type) {
	case *SystemPromptStep:
		s.Content = oneLine(v.Text, 120)
	case *TaskStep:
		s.Content = oneLine(v.Text, 120)
	case *PlanningStep:
		label := "plan"
		if v.IsUpdate {
			label = "plan update"
		}
		s.Content = label + ": " + oneLine(v.Plan, 120)
	case *ActionStep:
		if v.Error != "" {
			s.Content = "error: " + oneLine(v.Error, 120)
		} else if len(v.ToolCalls) > 0 {
			names := make([]string, len(v.ToolCalls))
			for i, c := range v.ToolCalls {
				names[i] = c.Name
			}
			s.Content = strings.Join(names, ", ")
		} else {
			s.Content = oneLine(v.ModelOutput, 120)
		}
	case *FinalAnswerStep:
		s.Content = oneLine(v.Payload.Title, 120)
	}
	return s
}

// SummarizeSteps projects a step log onto its summary list.
func SummarizeSteps(steps []Step) []StepSummary {
	out := make([]StepSummary, len(steps))
	for i, step := range steps {
		out[i] = SummarizeStep(step)
	}
	return out
}

// RunResult aggregates one run: the final answer, the step projection,
// token and time accounting, and the error when the run did not finish
// cleanly.
type RunResult struct {
	FinalAnswer   string            `json:"final_answer"`
	Steps         []StepSummary     `json:"steps"`
	TokenUsage    Usage             `json:"token_usage"`
	ExecutionTime time.Duration     `json:"execution_time"`
	Error         string            `json:"error,omitempty"`
	AgentKind     AgentKind         `json:"agent_kind"`
	ModelInfo     map[string]string `json:"model_info,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// OkResult builds a successful result.
func OkResult(final string, usage Usage, steps []StepSummary) *RunResult {
	return &RunResult{
		FinalAnswer: final,
		Steps:       steps,
		TokenUsage:  usage,
		Timestamp:   time.Now(),
	}
}

// ErrResult builds a failed result carrying whatever partial progress
// was made. final may hold a best-effort answer (e.g. the last
// assistant text when max_steps ran out).
func ErrResult(message, final string, usage Usage, steps []StepSummary) *RunResult {
	r := OkResult(final, usage, steps)
	r.Error = message
	return r
}

// Success reports whether the run finished without error.
func (r *RunResult) Success() bool { return r.Error == "" }

// JSON serialises the result.
func (r *RunResult) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Summary renders a short human-readable report.
func (r *RunResult) Summary() string {
	var b strings.Builder
	status := "ok"
	if !r.Success() {
		status = "error: " + r.Error
	}
	fmt.Fprintf(&b, "run[%s] %s (%d steps, %d tokens, %s)\n",
		r.AgentKind, status, len(r.Steps), r.TokenUsage.Total(), r.ExecutionTime.Round(time.Millisecond))
	for i, s := range r.Steps {
		fmt.Fprintf(&b, "  %2d. %-13s %s\n", i+1, s.Kind, s.Content)
	}
	if r.FinalAnswer != "" {
		fmt.Fprintf(&b, "answer: %s\n", oneLine(r.FinalAnswer, 200))
	}
	return b.String()
}

// oneLine collapses text to a single truncated line.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
