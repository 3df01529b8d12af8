package deepsearch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// AgentFactory builds one agent instance for a session. Factories run
// under the runtime's lock; they must not call back into the runtime.
type AgentFactory func(sessionID string) (Agent, error)

// RunOptions tune one Run call.
type RunOptions struct {
	// SessionID selects the per-session agent instance; empty uses the
	// default session.
	SessionID string
	// EventBuffer sizes the streaming event channel (RunStream only).
	EventBuffer int
}

// DefaultEventBuffer sizes streaming event channels unless overridden.
const DefaultEventBuffer = 128

// Runtime is the factory and registry for agent instances. It owns the
// tool registry, the model handles behind the factories, and the
// initial-state template; each Run gets a fresh Memory cloned from
// that template by its agent. Construct one per process and pass it
// explicitly; there is no process-wide singleton.
type Runtime struct {
	registry  *Registry
	factories map[AgentKind]AgentFactory
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]map[AgentKind]Agent

	validAPIKeys bool
	missingKeys  []string
}

type RuntimeOption func(*Runtime)

func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(rt *Runtime) {
		if l != nil {
			rt.logger = l
		}
	}
}

// WithMissingAPIKeys records tool providers that were skipped at
// assembly time because their mandatory key was absent. A non-empty
// list clears ValidAPIKeys; loops touching a skipped tool fail fast
// with not_found.
func WithMissingAPIKeys(providers []string) RuntimeOption {
	return func(rt *Runtime) {
		rt.missingKeys = providers
		rt.validAPIKeys = len(providers) == 0
	}
}

// NewRuntime creates a runtime over the shared tool registry.
func NewRuntime(registry *Registry, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		registry:     registry,
		factories:    make(map[AgentKind]AgentFactory),
		sessions:     make(map[string]map[AgentKind]Agent),
		logger:       nopLogger,
		validAPIKeys: true,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Registry returns the shared tool registry.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// ValidAPIKeys reports whether every mandatory tool provider had its
// key at assembly time.
func (rt *Runtime) ValidAPIKeys() bool { return rt.validAPIKeys }

// MissingAPIKeys names the providers skipped for lack of a key.
func (rt *Runtime) MissingAPIKeys() []string { return rt.missingKeys }

// Register installs the factory for a loop variant. Registering a kind
// twice replaces the factory but leaves existing session agents alone.
func (rt *Runtime) Register(kind AgentKind, factory AgentFactory) error {
	if !ValidAgentKind(kind) {
		return fmt.Errorf("runtime: unknown agent kind %q", kind)
	}
	if factory == nil {
		return fmt.Errorf("runtime: nil factory for %q", kind)
	}
	rt.mu.Lock()
	rt.factories[kind] = factory
	rt.mu.Unlock()
	return nil
}

// GetOrCreateAgent returns the session's agent for kind, building it
// on first use. Idempotent per (kind, session).
func (rt *Runtime) GetOrCreateAgent(kind AgentKind, sessionID string) (Agent, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	factory, ok := rt.factories[kind]
	if !ok {
		return nil, fmt.Errorf("runtime: agent kind %q not registered", kind)
	}
	session := rt.sessions[sessionID]
	if session == nil {
		session = make(map[AgentKind]Agent)
		rt.sessions[sessionID] = session
	}
	if agent, ok := session[kind]; ok {
		return agent, nil
	}
	agent, err := factory(sessionID)
	if err != nil {
		return nil, fmt.Errorf("runtime: build %s agent: %w", kind, err)
	}
	session[kind] = agent
	rt.logger.Debug("agent created", "kind", kind, "session", sessionID)
	return agent, nil
}

// Reset clears a session: every agent's memory is rebuilt and the
// session's instances are dropped.
func (rt *Runtime) Reset(ctx context.Context, sessionID string) error {
	rt.mu.Lock()
	session := rt.sessions[sessionID]
	delete(rt.sessions, sessionID)
	rt.mu.Unlock()

	var firstErr error
	for _, agent := range session {
		if err := agent.Reset(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run executes a task on the given loop variant, blocking until the
// RunResult is ready. The only Go errors are programmer errors
// (unregistered kind, factory failure); run failures travel inside the
// result.
func (rt *Runtime) Run(ctx context.Context, task string, kind AgentKind, opts RunOptions) (*RunResult, error) {
	agent, err := rt.GetOrCreateAgent(kind, opts.SessionID)
	if err != nil {
		return nil, err
	}
	rt.registry.Freeze()
	return agent.Execute(ctx, task), nil
}

// ResultFuture resolves to the RunResult of a streaming run.
type ResultFuture struct {
	ch chan *RunResult
}

// Wait blocks until the run finishes and returns its result.
func (f *ResultFuture) Wait() *RunResult { return <-f.ch }

// RunStream executes a task on a dedicated goroutine and returns the
// event channel plus a future for the result. The channel closes after
// the Final event; a consumer sees Delta* StepSummary per step, then
// Final exactly once.
func (rt *Runtime) RunStream(ctx context.Context, task string, kind AgentKind, opts RunOptions) (<-chan Event, *ResultFuture, error) {
	agent, err := rt.GetOrCreateAgent(kind, opts.SessionID)
	if err != nil {
		return nil, nil, err
	}
	rt.registry.Freeze()

	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	events := make(chan Event, buffer)
	future := &ResultFuture{ch: make(chan *RunResult, 1)}

	go func() {
		defer close(events)
		res := agent.ExecuteStream(ctx, task, events)
		future.ch <- res
	}()
	return events, future, nil
}
