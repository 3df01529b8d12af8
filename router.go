package deepsearch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Model abstracts one LLM handle. llm/litellm provides the production
// implementation; tests use scripted fakes.
type Model interface {
	// Generate sends a request and returns the complete response.
	Generate(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// GenerateStream streams deltas into ch as they arrive, then
	// returns the final response with usage stats. The callee never
	// closes ch; the caller owns it.
	GenerateStream(ctx context.Context, req ChatRequest, ch chan<- Delta) (ChatResponse, error)
	// ID returns the model identifier (e.g. "openai/gpt-5.1").
	ID() string
}

// ModelRouter serves each request from one of two underlying handles:
// planning and synthesis traffic goes to the orchestrator model,
// everything else to the search model. The router itself satisfies
// Model so loops stay agnostic of the split.
type ModelRouter struct {
	search       Model
	orchestrator Model
	classifier   *MessageClassifier
	logger       *slog.Logger

	mu         sync.Mutex
	lastInput  int
	lastOutput int
}

type RouterOption func(*ModelRouter)

func WithRouterClassifier(c *MessageClassifier) RouterOption {
	return func(r *ModelRouter) {
		if c != nil {
			r.classifier = c
		}
	}
}

func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *ModelRouter) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewModelRouter(search, orchestrator Model, opts ...RouterOption) *ModelRouter {
	r := &ModelRouter{
		search:       search,
		orchestrator: orchestrator,
		classifier:   NewMessageClassifier(),
		logger:       nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID joins both handle identifiers.
func (r *ModelRouter) ID() string {
	return r.search.ID() + "+" + r.orchestrator.ID()
}

// TokenCounts returns the usage snapshot of the most recent call.
func (r *ModelRouter) TokenCounts() (input, output int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastInput, r.lastOutput
}

// ModelInfo reports the handle ids keyed by role, for RunResult.
func (r *ModelRouter) ModelInfo() map[string]string {
	return map[string]string{
		"search":       r.search.ID(),
		"orchestrator": r.orchestrator.ID(),
	}
}

// Route resolves the handle the given messages would be served by.
func (r *ModelRouter) Route(messages []ChatMessage) Route {
	return r.classifier.Classify(latestRoutableContent(messages))
}

func (r *ModelRouter) pick(messages []ChatMessage) Model {
	route := r.Route(messages)
	if route == RouteOrchestrator {
		return r.orchestrator
	}
	return r.search
}

func (r *ModelRouter) Generate(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	handle := r.pick(req.Messages)
	r.logger.Debug("routing generate", "model", handle.ID())
	resp, err := handle.Generate(ctx, req)
	if err != nil {
		return ChatResponse{}, asModelError(handle.ID(), err)
	}
	r.snapshot(resp.Usage)
	return resp, nil
}

func (r *ModelRouter) GenerateStream(ctx context.Context, req ChatRequest, ch chan<- Delta) (ChatResponse, error) {
	handle := r.pick(req.Messages)
	r.logger.Debug("routing stream", "model", handle.ID())
	resp, err := handle.GenerateStream(ctx, req, ch)
	if err != nil {
		return ChatResponse{}, asModelError(handle.ID(), err)
	}
	r.snapshot(resp.Usage)
	return resp, nil
}

// snapshot records the most recent call's usage. Late updates from
// concurrent calls may overwrite each other; the counters are
// observability hints, not an accounting source of truth.
func (r *ModelRouter) snapshot(u Usage) {
	r.mu.Lock()
	r.lastInput = u.InputTokens
	r.lastOutput = u.OutputTokens
	r.mu.Unlock()
}

// latestRoutableContent returns the content of the newest user or
// assistant message. Tool and system messages never drive routing.
func latestRoutableContent(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if (m.Role == "user" || m.Role == "assistant") && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

// asModelError coerces any error into the model taxonomy, keeping an
// existing *ModelError untouched so provider detail survives.
func asModelError(provider string, err error) *ModelError {
	var merr *ModelError
	if errors.As(err, &merr) {
		return merr
	}
	kind := ModelErrProvider
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = ModelErrCanceled
	}
	return &ModelError{Kind: kind, Provider: provider, Message: err.Error(), Cause: err}
}

var _ Model = (*ModelRouter)(nil)
