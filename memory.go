package deepsearch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// --- String set ---

// StringSet is a deduplicated string collection that marshals as a
// sorted JSON array so it round-trips through the sandbox state echo.
type StringSet map[string]struct{}

func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s StringSet) Add(v string)      { s[v] = struct{}{} }
func (s StringSet) Has(v string) bool { _, ok := s[v]; return ok }
func (s StringSet) Len() int          { return len(s) }

// Values returns the members in sorted order.
func (s StringSet) Values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) Clone() StringSet {
	out := make(StringSet, len(s))
	for v := range s {
		out[v] = struct{}{}
	}
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewStringSet(values...)
	return nil
}

// --- State ---

// Reserved state keys. Loops and tools read and write these; everything
// else in the map is free-form scratch space.
const (
	StateVisitedURLs       = "visited_urls"
	StateSearchQueries     = "search_queries"
	StateKeyFindings       = "key_findings"
	StateSearchDepth       = "search_depth"
	StateRerankingHistory  = "reranking_history"
	StateContentQuality    = "content_quality"
	StateDelegationDepth   = "delegation_depth"
	StateDelegationHistory = "delegation_history"
)

// State is the per-run keyed scratchpad. Not safe for concurrent use;
// each run owns its own copy.
type State map[string]any

// NewInitialState returns a state template with every reserved key at
// its zero value.
func NewInitialState() State {
	return State{
		StateVisitedURLs:       NewStringSet(),
		StateSearchQueries:     []string{},
		StateKeyFindings:       map[string]any{},
		StateSearchDepth:       0,
		StateRerankingHistory:  []any{},
		StateContentQuality:    map[string]float64{},
		StateDelegationDepth:   0,
		StateDelegationHistory: []any{},
	}
}

// Clone deep-copies the state: sets stay sets, lists and maps are
// copied one level deep per value via the JSON round-trip, which is
// the same shape the sandbox echo produces.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case StringSet:
		return val.Clone()
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case map[string]float64:
		out := make(map[string]float64, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	default:
		return val
	}
}

// Normalize coerces reserved keys back to their canonical shapes after
// external code (sandboxed python, tools) re-assigned them: a
// visited_urls list becomes a set again, numeric JSON floats become
// ints where the key is integral.
func (s State) Normalize() {
	switch v := s[StateVisitedURLs].(type) {
	case StringSet:
		// already canonical
	case []string:
		s[StateVisitedURLs] = NewStringSet(v...)
	case []any:
		set := NewStringSet()
		for _, item := range v {
			if str, ok := item.(string); ok {
				set.Add(str)
			}
		}
		s[StateVisitedURLs] = set
	case nil:
		s[StateVisitedURLs] = NewStringSet()
	}

	for _, key := range []string{StateSearchDepth, StateDelegationDepth} {
		if f, ok := s[key].(float64); ok {
			s[key] = int(f)
		}
		if s[key] == nil {
			s[key] = 0
		}
	}
}

// VisitedURLs returns the canonical visited_urls set, normalizing on
// the way when external code replaced it with a list.
func (s State) VisitedURLs() StringSet {
	s.Normalize()
	return s[StateVisitedURLs].(StringSet)
}

// DelegationDepth returns the current nesting depth of sub-agent calls.
func (s State) DelegationDepth() int {
	s.Normalize()
	d, _ := s[StateDelegationDepth].(int)
	return d
}

// Merge copies the entries of other into s. Reserved keys are
// normalized afterwards so a sandbox echo can't break the set
// invariant.
func (s State) Merge(other map[string]any) {
	for k, v := range other {
		s[k] = v
	}
	s.Normalize()
}

// --- Memory ---

// Memory is the append-only step log plus the per-run state. Loops own
// their Memory exclusively; it is not safe for concurrent use.
type Memory struct {
	steps        []Step
	state        State
	initialState State
	systemPrompt string
}

// NewMemory creates a memory seeded from the given initial state. The
// template is cloned; later Resets clone it again.
func NewMemory(initial State) *Memory {
	if initial == nil {
		initial = NewInitialState()
	}
	return &Memory{
		initialState: initial,
		state:        initial.Clone(),
	}
}

// Append adds a step, enforcing the log ordering invariants: one
// SystemPrompt first, one Task second, at most one FinalAnswer and
// nothing after it. Violations are programmer errors.
func (m *Memory) Append(step Step) error {
	n := len(m.steps)
	switch step.Kind() {
	case StepSystemPrompt:
		if n != 0 {
			return fmt.Errorf("memory: system prompt must be the first step")
		}
		m.systemPrompt = step.(*SystemPromptStep).Text
	case StepTask:
		if n != 1 {
			return fmt.Errorf("memory: task must immediately follow the system prompt")
		}
	default:
		if n < 2 {
			return fmt.Errorf("memory: %s before system prompt and task", step.Kind())
		}
	}
	if n > 0 && m.steps[n-1].Kind() == StepFinalAnswer {
		return fmt.Errorf("memory: append after final answer")
	}
	m.steps = append(m.steps, step)
	return nil
}

// Steps returns a copy of the step slice; the steps themselves are
// shared references.
func (m *Memory) Steps() []Step {
	out := make([]Step, len(m.steps))
	copy(out, m.steps)
	return out
}

// Snapshot returns an immutable view of the log for observers: the
// step slice copy plus a deep clone of the state.
func (m *Memory) Snapshot() ([]Step, State) {
	return m.Steps(), m.state.Clone()
}

// Len returns the number of logged steps.
func (m *Memory) Len() int { return len(m.steps) }

// Last returns the most recent step, or nil when empty.
func (m *Memory) Last() Step {
	if len(m.steps) == 0 {
		return nil
	}
	return m.steps[len(m.steps)-1]
}

// State returns the mutable per-run state map.
func (m *Memory) State() State { return m.state }

// SystemPrompt returns the retained system prompt text.
func (m *Memory) SystemPrompt() string { return m.systemPrompt }

// SetSystemPrompt replaces the retained system prompt, so the next
// Reset re-seeds the log with the new text. If the log already starts
// with a system prompt step, that step is updated in place.
func (m *Memory) SetSystemPrompt(text string) {
	m.systemPrompt = text
	if len(m.steps) > 0 {
		if sp, ok := m.steps[0].(*SystemPromptStep); ok {
			sp.Text = text
		}
	}
}

// Reset clears the log back to the retained system prompt and restores
// the state from the initial template.
func (m *Memory) Reset() {
	m.steps = m.steps[:0]
	m.state = m.initialState.Clone()
	if m.systemPrompt != "" {
		sp := &SystemPromptStep{Text: m.systemPrompt}
		sp.Start = time.Now()
		sp.End = sp.Start
		m.steps = append(m.steps, sp)
	}
}

// MemorySummary is the derived observability projection of a log.
type MemorySummary struct {
	Steps        int              `json:"steps"`
	ByKind       map[StepKind]int `json:"by_kind"`
	ToolsUsed    []string         `json:"tools_used"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
}

// Summary walks the log once and aggregates counts, tool names and
// token totals.
func (m *Memory) Summary() MemorySummary {
	s := MemorySummary{ByKind: make(map[StepKind]int)}
	tools := NewStringSet()
	for _, step := range m.steps {
		s.Steps++
		s.ByKind[step.Kind()]++
		if usage := step.Meta().Usage; usage != nil {
			s.InputTokens += usage.InputTokens
			s.OutputTokens += usage.OutputTokens
		}
		if action, ok := step.(*ActionStep); ok {
			for _, call := range action.ToolCalls {
				tools.Add(call.Name)
			}
		}
	}
	s.ToolsUsed = tools.Values()
	return s
}

// TotalUsage sums token usage across all steps.
func (m *Memory) TotalUsage() Usage {
	var total Usage
	for _, step := range m.steps {
		if usage := step.Meta().Usage; usage != nil {
			total.Add(*usage)
		}
	}
	return total
}
