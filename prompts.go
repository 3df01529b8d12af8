package deepsearch

import (
	"fmt"
	"strings"
	"time"
)

// --- Base templates ---

const reactSystemTemplate = `You are a deep-research agent. Answer the user's question by iterating:
think about what you know, call tools to gather evidence, observe the
results, and repeat until you can give a complete, cited answer.

Current time: %s

Available tools:
%s

To call a tool, respond with a JSON blob of the form
{"name": "<tool>", "arguments": {...}}. You may issue several tool
calls in one turn when they are independent; never repeat an identical
call. When you have enough evidence, call final_answer with
{"answer": {"title": "...", "content": "...", "sources": ["..."]}}.
All three fields are required; content is Markdown and must end with a
"## Sources" section listing the same URLs as sources.`

const codactSystemTemplate = `You are a deep-research agent that acts by writing Python. Each turn,
reason briefly, then emit exactly one code block:

<code>
# python
...
</code>

Current time: %s

Tools are plain Python callables in your namespace:
%s

Authorized imports: %s. Nothing else may be imported. Variables in the
` + "`state`" + ` dict persist across turns (state["visited_urls"],
state["search_queries"], state["key_findings"], ...). Finish by calling
final_answer(json.dumps({"title": "...", "content": "...",
"sources": [...]}, ensure_ascii=False)); content must end with a
"## Sources" section.`

const managerExtensionTemplate = `

You lead a team of research agents. Each team member is exposed as a
tool taking {"task": "<sub-task>"}; delegate focused sub-tasks and
synthesize their answers yourself.

Team:
%s

Task analysis (advisory):
%s`

const initialPlanTemplate = `Write a facts survey and a plan for answering the question below. First
list (1) facts given in the task, (2) facts to look up, (3) facts to
derive. Then give a short numbered plan of tool steps.

Question: %s`

const updatePlanTemplate = `Write an updated facts survey and plan given everything learned so
far. Keep what is confirmed, drop dead ends, and list the remaining
steps to reach the final answer.`

// --- Binding ---

// toolIcons decorate the tool roster in system prompts.
var toolIcons = map[string]string{
	"search_links": "🔍",
	"search_fast":  "⚡",
	"xcom":         "𝕏",
	"read_url":     "📄",
	"chunk_text":   "✂️",
	"embed_texts":  "🧭",
	"rerank_texts": "🏅",
	"wolfram":      "🐺",
	"final_answer": "✅",
}

// BoundPrompts is the template set after merging with the tool roster,
// planning interval and current time.
type BoundPrompts struct {
	System      string
	InitialPlan string
	UpdatePlan  string
}

// PromptOptions carries the dynamic pieces merged into the templates.
type PromptOptions struct {
	Now               time.Time
	AuthorizedImports []string
	Team              []AgentHandle
	Hints             *TaskHints
}

// BindPrompts merges the base templates for the given variant with the
// registry's tool roster and the options. Pure data, no I/O.
func BindPrompts(kind AgentKind, reg *Registry, opts PromptOptions) BoundPrompts {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	ts := now.UTC().Format("2006-01-02 15:04 UTC")
	roster := toolRoster(reg)

	var system string
	switch kind {
	case AgentCodact:
		system = fmt.Sprintf(codactSystemTemplate, ts, roster, strings.Join(opts.AuthorizedImports, ", "))
	default:
		system = fmt.Sprintf(reactSystemTemplate, ts, roster)
	}
	if kind == AgentManager {
		system += fmt.Sprintf(managerExtensionTemplate, teamRoster(opts.Team), hintLines(opts.Hints))
	}

	return BoundPrompts{
		System:      system,
		InitialPlan: initialPlanTemplate,
		UpdatePlan:  updatePlanTemplate,
	}
}

// InitialPlanPrompt fills the task into the initial planning template.
func (p BoundPrompts) InitialPlanPrompt(task string) string {
	return fmt.Sprintf(p.InitialPlan, task)
}

func toolRoster(reg *Registry) string {
	if reg == nil || reg.Len() == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, d := range reg.Descriptors() {
		icon := toolIcons[d.Name]
		if icon == "" {
			icon = "🔧"
		}
		fmt.Fprintf(&b, "- %s %s: %s\n", icon, d.Name, d.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func teamRoster(team []AgentHandle) string {
	if len(team) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, a := range team {
		fmt.Fprintf(&b, "- 🤖 %s: %s\n", a.Name(), a.Description())
	}
	return strings.TrimRight(b.String(), "\n")
}

func hintLines(h *TaskHints) string {
	if h == nil {
		return "(none)"
	}
	return fmt.Sprintf("web search: %v, computation: %v, synthesis: %v, recommended: %s",
		h.RequiresWebSearch, h.RequiresComputation, h.RequiresSynthesis,
		strings.Join(h.RecommendedAgents, ", "))
}
