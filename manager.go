package deepsearch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxDelegationDepth bounds nested sub-agent calls from a root
// task.
const DefaultMaxDelegationDepth = 3

// delegationDepthKey carries the current delegation depth through the
// context instead of back-pointers between agents, so nested managers
// enforce the bound across the whole ancestry chain.
type delegationDepthKey struct{}

// WithDelegationDepth returns a context recording the delegation depth
// a sub-agent run starts at.
func WithDelegationDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, delegationDepthKey{}, depth)
}

// DelegationDepthFrom reads the delegation depth from ctx; zero for a
// root task.
func DelegationDepthFrom(ctx context.Context) int {
	d, _ := ctx.Value(delegationDepthKey{}).(int)
	return d
}

// Manager is a ReAct loop whose tool roster also carries its team:
// each managed agent appears as a tool taking a task string. The
// manager plans, delegates focused sub-tasks, and synthesizes the
// final answer itself.
type Manager struct {
	*ReactAgent
	team     []AgentHandle
	maxDepth int

	// Delegation shims run on dispatcher goroutines; records buffer
	// here and flush into the loop-owned State between acting stages.
	mu      sync.Mutex
	pending []map[string]any
}

// NewManager builds a manager over the shared tool registry plus one
// agent-as-tool entry per team member. The shared registry is read by
// reference; the manager registers its delegation shims into its own
// registry copy so sibling agents never see them.
func NewManager(model Model, registry *Registry, team []AgentHandle, opts ...AgentOption) (*Manager, error) {
	cfg := buildAgentConfig(opts)
	if cfg.name == "" {
		cfg.name = "manager"
		opts = append(opts, WithName(cfg.name))
	}

	m := &Manager{team: team, maxDepth: cfg.maxDelegationDepth}

	merged := NewRegistry()
	if registry != nil {
		for _, name := range registry.Names() {
			tool, _ := registry.Get(name)
			if err := merged.Register(tool); err != nil {
				return nil, err
			}
		}
	}
	for _, sub := range team {
		if err := merged.Register(m.agentTool(sub)); err != nil {
			return nil, fmt.Errorf("register sub-agent %s: %w", sub.Name(), err)
		}
	}

	m.ReactAgent = NewReactAgent(model, merged, opts...)
	m.ReactAgent.core.kind = AgentManager

	// The acting stage may dispatch several delegations in parallel;
	// their history records land in State only here, on the loop
	// goroutine, after the dispatcher has joined.
	inner := m.ReactAgent.core.act
	m.ReactAgent.core.act = func(ctx context.Context, step *ActionStep, resp ChatResponse) (*FinalAnswer, error) {
		final, err := inner(ctx, step, resp)
		m.flushDelegations()
		return final, err
	}
	return m, nil
}

func (m *Manager) Kind() AgentKind { return AgentManager }

// Team returns the managed agent handles.
func (m *Manager) Team() []AgentHandle { return m.team }

// Execute plans with task-complexity hints before running the ReAct
// loop over tools and team.
func (m *Manager) Execute(ctx context.Context, task string) *RunResult {
	return m.execute(ctx, task, nil)
}

func (m *Manager) ExecuteStream(ctx context.Context, task string, events chan<- Event) *RunResult {
	return m.execute(ctx, task, events)
}

func (m *Manager) execute(ctx context.Context, task string, events chan<- Event) *RunResult {
	// Rebind prompts with the advisory hint classification for this
	// task; hints inform planning, never routing.
	hints := AnalyzeTask(task, m.roster())
	m.ReactAgent.core.prompts = BindPrompts(AgentManager, m.ReactAgent.registry, PromptOptions{
		Team:  m.team,
		Hints: &hints,
	})
	// Memory retains the system prompt across Resets; refresh it so a
	// later run does not replay the previous task's hints.
	m.ReactAgent.core.memory.SetSystemPrompt(m.ReactAgent.core.prompts.System)
	return m.ReactAgent.execute(ctx, task, events)
}

// flushDelegations moves buffered delegation records into the run's
// delegation_history. Runs on the loop goroutine, which owns State.
func (m *Manager) flushDelegations() {
	m.mu.Lock()
	records := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(records) == 0 {
		return
	}
	state := m.ReactAgent.core.memory.State()
	history, _ := state[StateDelegationHistory].([]any)
	for _, r := range records {
		history = append(history, r)
	}
	state[StateDelegationHistory] = history
}

func (m *Manager) roster() map[string]AgentKind {
	out := make(map[string]AgentKind, len(m.team))
	for _, sub := range m.team {
		kind := AgentReact
		if k, ok := sub.(interface{ Kind() AgentKind }); ok {
			kind = k.Kind()
		}
		out[sub.Name()] = kind
	}
	return out
}

// agentTool wraps a team member as a registry entry. The shim enforces
// the delegation-depth bound before the sub-agent ever runs; overflow
// and sub-agent failures come back as result strings, never as fatal
// errors.
func (m *Manager) agentTool(sub AgentHandle) Tool {
	return ToolFunc{
		Desc: ToolDescriptor{
			Name:        sub.Name(),
			Description: "Delegate a sub-task to team member: " + sub.Description(),
			Inputs: map[string]ParamSpec{
				"task":               {Type: TypeString, Required: true, Description: "The sub-task to work on"},
				"additional_context": {Type: TypeAny, Description: "Optional extra context for the sub-agent"},
			},
			OutputType: "string",
		},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			task, _ := args["task"].(string)
			// Depth comes from ctx alone; the shim may run on a
			// dispatcher goroutine and must not touch the loop's State.
			depth := DelegationDepthFrom(ctx)
			if depth+1 > m.maxDepth {
				return "Maximum delegation depth reached", nil
			}

			if extra, ok := args["additional_context"].(map[string]any); ok && len(extra) > 0 {
				task = task + "\n\nAdditional context:\n" + fmt.Sprint(extra)
			}

			start := time.Now()
			answer, err := sub.Invoke(WithDelegationDepth(ctx, depth+1), task)
			outcome := "ok"
			if err != nil {
				outcome = err.Error()
			}
			m.mu.Lock()
			m.pending = append(m.pending, map[string]any{
				"agent":    sub.Name(),
				"task":     task,
				"outcome":  outcome,
				"duration": time.Since(start).String(),
			})
			m.mu.Unlock()
			if err != nil {
				return fmt.Sprintf("Error executing sub-agent %s: %v", sub.Name(), err), nil
			}
			return answer, nil
		},
	}
}

var _ Agent = (*Manager)(nil)
