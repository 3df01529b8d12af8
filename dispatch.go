package deepsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxParallel caps concurrent tool executions within one acting
// stage unless configured otherwise (agents.react.max_tool_threads).
const DefaultMaxParallel = 4

// Observation is the outcome of one tool call, aligned by position with
// the call that produced it.
type Observation struct {
	CallID   string        `json:"call_id"`
	Tool     string        `json:"tool"`
	Value    any           `json:"value,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      *ToolError    `json:"-"`
	ErrText  string        `json:"error,omitempty"`
}

// Text renders the observation for the model: the JSON form of the
// value on success, an error line on failure.
func (o Observation) Text() string {
	if o.Err != nil {
		return "Error: " + o.Err.Error()
	}
	if s, ok := o.Value.(string); ok {
		return s
	}
	b, err := json.Marshal(o.Value)
	if err != nil {
		return fmt.Sprintf("%v", o.Value)
	}
	return string(b)
}

// Failed reports whether the call produced an error instead of a value.
func (o Observation) Failed() bool { return o.Err != nil }

// --- Dispatcher ---

// Dispatcher validates and executes tool calls against a registry. It
// never retries; retry is a tool-internal concern.
type Dispatcher struct {
	reg         *Registry
	maxParallel int
	callTimeout time.Duration
	logger      *slog.Logger
	tracer      Tracer
}

type DispatcherOption func(*Dispatcher)

// WithMaxParallel bounds the fan-out worker pool. Values below 1 are
// treated as 1.
func WithMaxParallel(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n < 1 {
			n = 1
		}
		d.maxParallel = n
	}
}

// WithCallTimeout applies a deadline to every Invoke. Zero disables the
// per-call deadline; the caller's ctx still governs.
func WithCallTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.callTimeout = timeout }
}

func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithDispatcherTracer(t Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:         reg,
		maxParallel: DefaultMaxParallel,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Invoke validates args against the tool's schema and runs it,
// mapping failures into the tagged error taxonomy. The returned
// Observation always carries the call's ID and tool name.
func (d *Dispatcher) Invoke(ctx context.Context, call ToolCall) Observation {
	start := time.Now()
	obs := Observation{CallID: call.ID, Tool: call.Name}

	tool, ok := d.reg.Get(call.Name)
	if !ok {
		obs.Err = &ToolError{Kind: ErrKindNotFound, Tool: call.Name, Message: "tool not registered"}
		obs.ErrText = obs.Err.Error()
		obs.Duration = time.Since(start)
		return obs
	}

	args, err := call.ArgsMap()
	if err != nil {
		obs.Err = &ToolError{Kind: ErrKindSchema, Tool: call.Name, Message: err.Error(), Cause: err}
		obs.ErrText = obs.Err.Error()
		obs.Duration = time.Since(start)
		return obs
	}

	normalized, terr := ValidateArgs(tool.Descriptor(), args)
	if terr != nil {
		obs.Err = terr
		obs.ErrText = terr.Error()
		obs.Duration = time.Since(start)
		return obs
	}

	callCtx := ctx
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}

	if d.tracer != nil {
		var span Span
		callCtx, span = d.tracer.Start(callCtx, "tool.invoke", StringAttr("tool", call.Name))
		defer span.End()
	}

	value, invokeErr := d.safeInvoke(callCtx, tool, normalized)
	obs.Duration = time.Since(start)
	if invokeErr != nil {
		obs.Err = d.classifyInvokeError(callCtx, call.Name, invokeErr)
		obs.ErrText = obs.Err.Error()
		d.logger.Debug("tool call failed", "tool", call.Name, "kind", obs.Err.Kind, "err", invokeErr)
		return obs
	}
	obs.Value = value
	d.logger.Debug("tool call ok", "tool", call.Name, "duration", obs.Duration)
	return obs
}

// safeInvoke shields the loop from panicking tools.
func (d *Dispatcher) safeInvoke(ctx context.Context, tool Tool, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Invoke(ctx, args)
}

func (d *Dispatcher) classifyInvokeError(ctx context.Context, name string, err error) *ToolError {
	var terr *ToolError
	if errors.As(err, &terr) {
		return terr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ToolError{Kind: ErrKindTimeout, Tool: name, Message: "call deadline exceeded", Cause: err}
	case errors.Is(err, context.Canceled):
		return &ToolError{Kind: ErrKindCanceled, Tool: name, Message: "call canceled", Cause: err}
	}
	// A tool that returned after its ctx expired still counts as timed
	// out or canceled, whichever the ctx reports.
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return &ToolError{Kind: ErrKindTimeout, Tool: name, Message: err.Error(), Cause: err}
	case context.Canceled:
		return &ToolError{Kind: ErrKindCanceled, Tool: name, Message: err.Error(), Cause: err}
	}
	return &ToolError{Kind: ErrKindToolError, Tool: name, Message: err.Error(), Cause: err}
}

// InvokeMany executes sibling tool calls from one acting stage through a
// bounded worker pool and returns observations in input order. Each
// slot carries its own result or error; one failing call never aborts
// its siblings. Cancelling ctx cancels all pending work and fills the
// not-yet-finished slots with canceled errors.
func (d *Dispatcher) InvokeMany(ctx context.Context, calls []ToolCall) []Observation {
	if len(calls) == 0 {
		return nil
	}
	// Fast path: single call, no goroutine needed.
	if len(calls) == 1 {
		return []Observation{d.Invoke(ctx, calls[0])}
	}

	type indexed struct {
		idx int
		obs Observation
	}
	type workItem struct {
		idx  int
		call ToolCall
	}

	resultCh := make(chan indexed, len(calls))
	workCh := make(chan workItem, len(calls))
	for i, call := range calls {
		workCh <- workItem{idx: i, call: call}
	}
	close(workCh)

	workers := min(len(calls), d.maxParallel)
	for range workers {
		go func() {
			for w := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexed{w.idx, d.canceledObservation(ctx, w.call)}
					continue
				}
				resultCh <- indexed{w.idx, d.Invoke(ctx, w.call)}
			}
		}()
	}

	results := make([]Observation, len(calls))
	seen := make([]bool, len(calls))
	for received := 0; received < len(calls); received++ {
		select {
		case r := <-resultCh:
			results[r.idx] = r.obs
			seen[r.idx] = true
		case <-ctx.Done():
			// In-flight workers see the same ctx and unwind on their
			// own; report the slots that never finished.
			for i := range results {
				if !seen[i] {
					results[i] = d.canceledObservation(ctx, calls[i])
				}
			}
			return results
		}
	}
	return results
}

func (d *Dispatcher) canceledObservation(ctx context.Context, call ToolCall) Observation {
	kind := ErrKindCanceled
	msg := "call canceled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = ErrKindTimeout
		msg = "call deadline exceeded"
	}
	terr := &ToolError{Kind: kind, Tool: call.Name, Message: msg, Cause: ctx.Err()}
	return Observation{CallID: call.ID, Tool: call.Name, Err: terr, ErrText: terr.Error()}
}
