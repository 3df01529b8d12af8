package deepsearch

import (
	"context"
	"fmt"
	"sync"
)

// Tool is a named capability with a typed input schema exposed to the
// model. Implementations live under tools/; agents may also register
// other agents as tools (see Manager).
type Tool interface {
	// Descriptor returns the tool's name, description and input schema.
	Descriptor() ToolDescriptor
	// Invoke runs the tool. The returned value must be JSON-serialisable
	// because its JSON form is echoed back to the model as the
	// observation. Failures belong in the error; loops record them as
	// observation errors and continue.
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// ToolDescriptor describes a tool to the registry and, via Definition,
// to the model.
type ToolDescriptor struct {
	Name        string
	Description string
	Inputs      map[string]ParamSpec
	OutputType  string
}

// Definition renders the descriptor as a model-facing tool definition
// with a JSON Schema parameters object.
func (d ToolDescriptor) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  buildJSONSchema(d.Inputs),
	}
}

// --- Registry ---

// Registry holds tool descriptors keyed by unique name. Registration is
// open until the first Run starts; Freeze makes it read-only so
// concurrent Runs share it without locking on the hot path.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]Tool
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its descriptor name. Replacing an existing
// name is allowed until the registry is frozen.
func (r *Registry) Register(t Tool) error {
	name := t.Descriptor().Name
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register tool %s: registry is frozen", name)
	}
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
	return nil
}

// Freeze makes the registry read-only. Called by the runtime when the
// first Run starts. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns model-facing definitions in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Descriptor().Definition())
	}
	return defs
}

// Descriptors returns descriptors in registration order.
func (r *Registry) Descriptors() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

// --- Function tool adapter ---

// ToolFunc adapts a plain function into a Tool. Used by tests and by
// tool shims that close over other components.
type ToolFunc struct {
	Desc ToolDescriptor
	Fn   func(ctx context.Context, args map[string]any) (any, error)
}

func (t ToolFunc) Descriptor() ToolDescriptor { return t.Desc }

func (t ToolFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.Fn(ctx, args)
}

var _ Tool = ToolFunc{}
