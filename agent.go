package deepsearch

import "log/slog"

// agentConfig collects everything the loop variants share at
// construction time. Variant-specific knobs live here too so one
// option type serves all three constructors.
type agentConfig struct {
	name             string
	description      string
	maxSteps         int
	planningInterval int
	maxToolThreads   int
	initialState     State
	logger           *slog.Logger
	tracer           Tracer

	// CodeAct.
	authorizedImports []string
	structuredOutputs bool
	rerankerType      string
	verbosityLevel    int

	// Manager.
	maxDelegationDepth int
}

// AgentOption configures an agent at construction.
type AgentOption func(*agentConfig)

func defaultAgentConfig() agentConfig {
	return agentConfig{
		maxSteps:           DefaultMaxSteps,
		planningInterval:   DefaultPlanningInterval,
		maxToolThreads:     DefaultMaxParallel,
		maxDelegationDepth: DefaultMaxDelegationDepth,
		logger:             nopLogger,
	}
}

// WithName sets the agent's name, used in logs and as the tool name
// when the agent joins a manager's team.
func WithName(name string) AgentOption {
	return func(c *agentConfig) { c.name = name }
}

// WithDescription sets the description a manager's model sees.
func WithDescription(desc string) AgentOption {
	return func(c *agentConfig) { c.description = desc }
}

// WithMaxSteps bounds the number of loop ticks per run.
func WithMaxSteps(n int) AgentOption {
	return func(c *agentConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithPlanningInterval emits a planning step every n ticks. Zero keeps
// only the initial plan.
func WithPlanningInterval(n int) AgentOption {
	return func(c *agentConfig) {
		if n >= 0 {
			c.planningInterval = n
		}
	}
}

// WithMaxToolThreads bounds parallel tool fan-out within one acting
// stage.
func WithMaxToolThreads(n int) AgentOption {
	return func(c *agentConfig) {
		if n > 0 {
			c.maxToolThreads = n
		}
	}
}

// WithInitialState sets the template cloned into each run's state.
func WithInitialState(s State) AgentOption {
	return func(c *agentConfig) { c.initialState = s }
}

// WithLogger sets the structured logger; nil keeps the nop default.
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *agentConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer enables span creation through the given tracer.
func WithTracer(t Tracer) AgentOption {
	return func(c *agentConfig) { c.tracer = t }
}

// WithAuthorizedImports adds modules to the sandbox allow-list on top
// of the defaults. Dangerous names are stripped regardless.
func WithAuthorizedImports(imports ...string) AgentOption {
	return func(c *agentConfig) { c.authorizedImports = append(c.authorizedImports, imports...) }
}

// WithStructuredOutputs asks the orchestrator for JSON-shaped thought
// objects. Mutually exclusive with grammar mode: when a reranker is
// configured, grammar wins and this flag is ignored.
func WithStructuredOutputs(on bool) AgentOption {
	return func(c *agentConfig) { c.structuredOutputs = on }
}

// WithRerankerType records the configured reranker; a non-empty value
// enables grammar mode and disables structured outputs.
func WithRerankerType(t string) AgentOption {
	return func(c *agentConfig) { c.rerankerType = t }
}

// WithVerbosityLevel controls how much execution detail the code-acting
// loop logs.
func WithVerbosityLevel(n int) AgentOption {
	return func(c *agentConfig) { c.verbosityLevel = n }
}

// WithMaxDelegationDepth bounds nested sub-agent calls from a root
// task.
func WithMaxDelegationDepth(n int) AgentOption {
	return func(c *agentConfig) {
		if n > 0 {
			c.maxDelegationDepth = n
		}
	}
}

func buildAgentConfig(opts []AgentOption) agentConfig {
	cfg := defaultAgentConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// modelInfoOf extracts the role→id map when the model is a router;
// plain handles report themselves under "model".
func modelInfoOf(m Model) map[string]string {
	if r, ok := m.(interface{ ModelInfo() map[string]string }); ok {
		return r.ModelInfo()
	}
	return map[string]string{"model": m.ID()}
}
