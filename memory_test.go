package deepsearch

import (
	"strings"
	"testing"
)

func mustAppend(t *testing.T, m *Memory, steps ...Step) {
	t.Helper()
	for _, s := range steps {
		if err := m.Append(s); err != nil {
			t.Fatalf("Append(%s): %v", s.Kind(), err)
		}
	}
}

func TestMemoryOrderingInvariants(t *testing.T) {
	m := NewMemory(nil)

	if err := m.Append(&TaskStep{Text: "too early"}); err == nil {
		t.Error("task accepted before system prompt")
	}
	mustAppend(t, m, &SystemPromptStep{Text: "sys"})
	if err := m.Append(&SystemPromptStep{Text: "again"}); err == nil {
		t.Error("second system prompt accepted")
	}
	if err := m.Append(&ActionStep{}); err == nil {
		t.Error("action accepted before task")
	}
	mustAppend(t, m, &TaskStep{Text: "question"},
		&PlanningStep{Plan: "plan"},
		&ActionStep{ModelOutput: "thinking"},
		&FinalAnswerStep{Payload: FinalAnswer{Title: "t", Content: "c", Sources: []string{}}})

	if err := m.Append(&ActionStep{}); err == nil {
		t.Error("append after final answer accepted")
	}
	if m.Len() != 5 {
		t.Errorf("Len() = %d, want 5", m.Len())
	}
}

func TestMemoryResetKeepsSystemPrompt(t *testing.T) {
	m := NewMemory(nil)
	mustAppend(t, m, &SystemPromptStep{Text: "sys"}, &TaskStep{Text: "q"})
	m.State()[StateSearchDepth] = 3

	m.Reset()
	if m.Len() != 1 || m.Steps()[0].Kind() != StepSystemPrompt {
		t.Fatalf("reset log = %d steps, first %v", m.Len(), m.Last())
	}
	if d := m.State()[StateSearchDepth]; d != 0 {
		t.Errorf("search_depth after reset = %v, want 0", d)
	}
	// A fresh task slots straight back in.
	mustAppend(t, m, &TaskStep{Text: "next"})
}

func TestMemorySetSystemPromptRefreshesRetained(t *testing.T) {
	m := NewMemory(nil)
	mustAppend(t, m, &SystemPromptStep{Text: "first"}, &TaskStep{Text: "q"})

	m.SetSystemPrompt("second")
	if sp := m.Steps()[0].(*SystemPromptStep); sp.Text != "second" {
		t.Errorf("in-place step text = %q, want %q", sp.Text, "second")
	}

	m.Reset()
	if sp := m.Steps()[0].(*SystemPromptStep); sp.Text != "second" {
		t.Errorf("reset re-seeded %q, want %q", sp.Text, "second")
	}
}

func TestInitialStateIsolatedPerRun(t *testing.T) {
	tmpl := NewInitialState()
	m1 := NewMemory(tmpl)
	m2 := NewMemory(tmpl)

	m1.State().VisitedURLs().Add("https://a.example")
	if m2.State().VisitedURLs().Has("https://a.example") {
		t.Error("state leaked between memories sharing a template")
	}
	if tmpl[StateVisitedURLs].(StringSet).Len() != 0 {
		t.Error("template mutated by a run")
	}
}

// The sandbox echoes visited_urls back as a JSON list; Merge must
// restore the set shape and integer keys.
func TestStateMergeCoercesReservedKeys(t *testing.T) {
	s := NewInitialState()
	s.VisitedURLs().Add("https://kept.example")

	s.Merge(map[string]any{
		StateVisitedURLs:   []any{"https://kept.example", "https://new.example"},
		StateSearchDepth:   float64(2),
		"scratch":          "anything",
	})

	urls := s.VisitedURLs()
	if !urls.Has("https://kept.example") || !urls.Has("https://new.example") || urls.Len() != 2 {
		t.Errorf("visited_urls = %v", urls.Values())
	}
	if d, ok := s[StateSearchDepth].(int); !ok || d != 2 {
		t.Errorf("search_depth = %#v, want int 2", s[StateSearchDepth])
	}
	if s["scratch"] != "anything" {
		t.Error("free-form key dropped")
	}
}

func TestStringSetJSONRoundTrip(t *testing.T) {
	set := NewStringSet("b", "a", "a")
	b, err := set.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `["a","b"]` {
		t.Errorf("marshal = %s, want sorted array", b)
	}
	var back StringSet
	if err := back.UnmarshalJSON(b); err != nil {
		t.Fatal(err)
	}
	if back.Len() != 2 || !back.Has("a") {
		t.Errorf("round trip = %v", back.Values())
	}
}

func TestMemoryTotalUsageAndSummary(t *testing.T) {
	m := NewMemory(nil)
	a1 := &ActionStep{ModelOutput: "x", ToolCalls: []ToolCall{{Name: "search_links"}}}
	a1.Usage = &Usage{InputTokens: 10, OutputTokens: 5}
	a2 := &ActionStep{ModelOutput: "y", ToolCalls: []ToolCall{{Name: "read_url"}, {Name: "search_links"}}}
	a2.Usage = &Usage{InputTokens: 20, OutputTokens: 7}
	mustAppend(t, m, &SystemPromptStep{Text: "sys"}, &TaskStep{Text: "q"}, a1, a2)

	total := m.TotalUsage()
	if total.InputTokens != 30 || total.OutputTokens != 12 {
		t.Errorf("TotalUsage() = %+v", total)
	}

	sum := m.Summary()
	if sum.Steps != 4 || sum.ByKind[StepAction] != 2 {
		t.Errorf("Summary() = %+v", sum)
	}
	if strings.Join(sum.ToolsUsed, ",") != "read_url,search_links" {
		t.Errorf("ToolsUsed = %v", sum.ToolsUsed)
	}
	if sum.InputTokens != 30 || sum.OutputTokens != 12 {
		t.Errorf("summary tokens = %d/%d", sum.InputTokens, sum.OutputTokens)
	}
}

func TestMemorySnapshotIsDetached(t *testing.T) {
	m := NewMemory(nil)
	mustAppend(t, m, &SystemPromptStep{Text: "sys"}, &TaskStep{Text: "q"})

	steps, state := m.Snapshot()
	state.VisitedURLs().Add("https://mutation.example")
	if m.State().VisitedURLs().Has("https://mutation.example") {
		t.Error("snapshot state shares storage with live state")
	}
	if len(steps) != 2 {
		t.Errorf("snapshot steps = %d", len(steps))
	}
}
