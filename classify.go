package deepsearch

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Route names the model a message should be served by.
type Route string

const (
	RouteSearch       Route = "search"
	RouteOrchestrator Route = "orchestrator"
)

// orchestratorPhrases mark planning and synthesis traffic. All phrases
// are stored lowercase for case-insensitive matching. "plan" is broad
// on purpose: a user question containing the word routes to the
// orchestrator, matching how the planning templates address it.
var orchestratorPhrases = []string{
	"facts survey",
	"updated facts survey",
	"plan",
	"final answer",
	"final answer to the original question",
}

// classifierRule maps a phrase list to a route. Rules are evaluated in
// order; the first match wins.
type classifierRule struct {
	phrases []string
	route   Route
}

// MessageClassifier decides which model handles a message by matching
// case-folded phrases against its content. Safe for concurrent use
// after construction.
type MessageClassifier struct {
	rules    []classifierRule
	fallback Route
}

// NewMessageClassifier builds the default routing table: orchestrator
// phrases first, search as the fallback.
func NewMessageClassifier() *MessageClassifier {
	return &MessageClassifier{
		rules: []classifierRule{
			{phrases: orchestratorPhrases, route: RouteOrchestrator},
		},
		fallback: RouteSearch,
	}
}

// Classify returns the route for a message content string.
func (c *MessageClassifier) Classify(content string) Route {
	lower := normalizeText(content)
	for _, rule := range c.rules {
		for _, phrase := range rule.phrases {
			if strings.Contains(lower, phrase) {
				return rule.route
			}
		}
	}
	return c.fallback
}

// normalizeText folds content for matching: NFKC handles fullwidth
// Latin, ligatures and mathematical alphanumerics, then lowercase.
func normalizeText(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// --- Task complexity hints ---

// TaskHints is the advisory output of the task keyword classifier. The
// manager injects it into its planning prompt; it never binds routing.
type TaskHints struct {
	RequiresWebSearch   bool     `json:"requires_web_search"`
	RequiresComputation bool     `json:"requires_computation"`
	RequiresSynthesis   bool     `json:"requires_synthesis"`
	RecommendedAgents   []string `json:"recommended_agents"`
}

var (
	webSearchKeywords = []string{
		"search", "find", "latest", "news", "current", "today",
		"recent", "website", "lookup", "look up", "who is", "what is",
	}
	computationKeywords = []string{
		"calculate", "compute", "solve", "equation", "math",
		"formula", "sum", "average", "percentage", "statistics",
	}
	synthesisKeywords = []string{
		"summarize", "summarise", "compare", "analyze", "analyse",
		"synthesize", "report", "explain", "overview", "evaluate",
	}
)

// AnalyzeTask classifies a task string into capability flags and a
// recommended agent list drawn from the given roster. Agents whose
// kind matches a detected capability come first; an empty roster
// yields kind names instead.
func AnalyzeTask(task string, roster map[string]AgentKind) TaskHints {
	lower := normalizeText(task)
	hints := TaskHints{
		RequiresWebSearch:   containsAny(lower, webSearchKeywords),
		RequiresComputation: containsAny(lower, computationKeywords),
		RequiresSynthesis:   containsAny(lower, synthesisKeywords),
	}

	wantKinds := make(map[AgentKind]bool, 2)
	if hints.RequiresWebSearch {
		wantKinds[AgentReact] = true
	}
	if hints.RequiresComputation || hints.RequiresSynthesis {
		wantKinds[AgentCodact] = true
	}

	if len(roster) == 0 {
		for kind := range wantKinds {
			hints.RecommendedAgents = append(hints.RecommendedAgents, string(kind))
		}
	} else {
		for name, kind := range roster {
			if wantKinds[kind] {
				hints.RecommendedAgents = append(hints.RecommendedAgents, name)
			}
		}
	}
	sort.Strings(hints.RecommendedAgents)
	return hints
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
