package deepsearch

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Agent is the execution surface every loop variant exposes. Execute
// always returns a RunResult; failures travel in RunResult.Error, not
// as Go errors (only programmer errors escape, at construction time).
type Agent interface {
	Kind() AgentKind
	// Execute runs the task to completion, blocking.
	Execute(ctx context.Context, task string) *RunResult
	// ExecuteStream runs the task while publishing events into events:
	// per step zero or more deltas then one step summary, and exactly
	// one final event. The caller owns the channel; it is not closed.
	ExecuteStream(ctx context.Context, task string, events chan<- Event) *RunResult
	// Reset clears the agent's memory back to its initial state. For
	// code-acting agents it also re-prepares the sandbox namespace.
	Reset(ctx context.Context) error
}

// AgentHandle is the agent-as-tool surface the Manager consumes: a
// name, a description, and a synchronous task entry returning the
// final answer text.
type AgentHandle interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, task string) (string, error)
}

// --- Loop defaults ---

const (
	DefaultMaxSteps         = 25
	DefaultPlanningInterval = 5
	// maxConsecutiveModelErrors aborts the run when the router fails
	// this many ticks in a row.
	maxConsecutiveModelErrors = 2
	// maxConsecutiveSandboxErrors aborts a code-acting run when the
	// backend fails this many executions in a row.
	maxConsecutiveSandboxErrors = 3
)

// Run error codes surfaced through RunResult.Error.
const (
	ErrRunCanceled           = "canceled"
	ErrRunMaxSteps           = "max_steps"
	ErrRunModelError         = "model_error"
	ErrRunSandboxUnavailable = "sandbox_unavailable"
)

// fatalLoopError aborts the run; code becomes RunResult.Error.
type fatalLoopError struct {
	code  string
	cause error
}

func (e *fatalLoopError) Error() string { return e.code }
func (e *fatalLoopError) Unwrap() error { return e.cause }

// actFunc is the variant-specific Acting stage: it fills step with
// tool calls and observations, and returns a non-nil payload when the
// tick produced a valid terminal final answer. Errors are fatal; all
// recoverable failures are recorded inside step.
type actFunc func(ctx context.Context, step *ActionStep, resp ChatResponse) (*FinalAnswer, error)

// loopCore is the shared Plan→Think→Act→Observe machine. The ReAct and
// CodeAct variants differ only in their actFunc and request shaping.
type loopCore struct {
	name             string
	kind             AgentKind
	router           Model
	modelInfo        map[string]string
	memory           *Memory
	prompts          BoundPrompts
	maxSteps         int
	planningInterval int
	toolDefs         []ToolDefinition // attached to thinking requests (ReAct)
	jsonOutput       bool             // structured-outputs mode (CodeAct)
	act              actFunc
	logger           *slog.Logger
	tracer           Tracer
}

// run executes the loop for one task. When events is non-nil the run
// streams; the channel stays open for the caller.
func (c *loopCore) run(ctx context.Context, task string, events chan<- Event) *RunResult {
	start := time.Now()

	finish := func(final, errCode string) *RunResult {
		res := &RunResult{
			FinalAnswer:   final,
			Steps:         SummarizeSteps(c.memory.Steps()),
			TokenUsage:    c.memory.TotalUsage(),
			ExecutionTime: time.Since(start),
			Error:         errCode,
			AgentKind:     c.kind,
			ModelInfo:     c.modelInfo,
			Timestamp:     time.Now(),
		}
		c.emit(ctx, events, Event{Type: EventFinal, Result: res})
		return res
	}

	var span Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "agent.run",
			StringAttr("agent", c.name), StringAttr("kind", string(c.kind)))
		defer span.End()
	}

	if c.memory.Len() == 0 {
		c.appendStep(ctx, events, timedStep(&SystemPromptStep{Text: c.prompts.System}))
	}
	if d := DelegationDepthFrom(ctx); d > 0 {
		c.memory.State()[StateDelegationDepth] = d
	}
	c.appendStep(ctx, events, timedStep(&TaskStep{Text: task}))

	modelErrs := 0
	for tick := 0; tick < c.maxSteps; tick++ {
		if ctx.Err() != nil {
			return finish("", ErrRunCanceled)
		}

		if c.shouldPlan(tick) {
			if err := c.planningTick(ctx, task, tick, events); err != nil {
				if canceledErr(ctx, err) {
					return finish("", ErrRunCanceled)
				}
				modelErrs++
				c.logger.Error("planning failed", "agent", c.name, "tick", tick, "err", err)
				if modelErrs >= maxConsecutiveModelErrors {
					return finish("", ErrRunModelError)
				}
				continue
			}
		}

		step := &ActionStep{}
		step.Start = time.Now()
		resp, err := c.callModel(ctx, ChatRequest{
			Messages:   c.messages(),
			Tools:      c.toolDefs,
			JSONOutput: c.jsonOutput,
		}, events)
		if err != nil {
			if canceledErr(ctx, err) {
				return finish("", ErrRunCanceled)
			}
			modelErrs++
			step.Error = err.Error()
			step.End = time.Now()
			c.appendStep(ctx, events, step)
			c.logger.Error("model call failed", "agent", c.name, "tick", tick, "err", err)
			if modelErrs >= maxConsecutiveModelErrors {
				return finish("", ErrRunModelError)
			}
			continue
		}
		modelErrs = 0
		step.ModelOutput = resp.Content
		step.Usage = &Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}

		final, actErr := c.act(ctx, step, resp)
		step.End = time.Now()
		c.appendStep(ctx, events, step)

		if actErr != nil {
			if canceledErr(ctx, actErr) {
				return finish("", ErrRunCanceled)
			}
			var fatal *fatalLoopError
			if errors.As(actErr, &fatal) {
				c.logger.Error("run aborted", "agent", c.name, "tick", tick, "code", fatal.code)
				return finish("", fatal.code)
			}
			// Non-fatal act errors are already recorded in the step.
			c.logger.Debug("acting error", "agent", c.name, "tick", tick, "err", actErr)
		}
		if final != nil {
			fa := &FinalAnswerStep{Payload: *final}
			fa.Start = step.Start
			fa.End = time.Now()
			c.appendStep(ctx, events, fa)
			return finish(final.JSON(), "")
		}
	}

	c.logger.Warn("max steps reached", "agent", c.name, "max_steps", c.maxSteps)
	return finish(c.lastAssistantText(), ErrRunMaxSteps)
}

// shouldPlan reports whether this tick opens with a planning step:
// always on the first tick, then every planning_interval ticks when
// the interval is positive.
func (c *loopCore) shouldPlan(tick int) bool {
	if tick == 0 {
		return true
	}
	return c.planningInterval > 0 && tick%c.planningInterval == 0
}

func (c *loopCore) planningTick(ctx context.Context, task string, tick int, events chan<- Event) error {
	step := &PlanningStep{IsUpdate: tick > 0}
	step.Start = time.Now()

	prompt := c.prompts.InitialPlanPrompt(task)
	if step.IsUpdate {
		prompt = c.prompts.UpdatePlan
	}
	msgs := append(c.messages(), UserMessage(prompt))

	resp, err := c.callModel(ctx, ChatRequest{Messages: msgs}, events)
	if err != nil {
		return err
	}
	step.Plan = resp.Content
	step.Usage = &Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	step.End = time.Now()
	c.appendStep(ctx, events, step)
	return nil
}

// callModel performs one router call. Streaming runs when events is
// non-nil: deltas fan out to the event channel while the aggregator
// materialises the full message for memory.
func (c *loopCore) callModel(ctx context.Context, req ChatRequest, events chan<- Event) (ChatResponse, error) {
	if events == nil {
		return c.router.Generate(ctx, req)
	}

	sink := make(chan Delta, streamBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range sink {
			delta := d
			c.emit(ctx, events, Event{Type: EventDelta, Delta: &delta})
		}
	}()

	agg := NewStreamAggregator(sink)
	resp, err := streamCall(ctx, c.router, req, agg)
	close(sink)
	<-done
	if err != nil {
		return ChatResponse{}, err
	}
	if resp.Content == "" {
		resp.Content = agg.Content()
	}
	if resp.Usage.Total() == 0 {
		resp.Usage = agg.Usage()
	}
	return resp, nil
}

// messages serialises the step log into the chat form the router
// consumes. Observations of tool-call actions ride as role=tool
// messages keyed by tool_call_id; code observations ride as user
// messages since no structured calls were announced to the model.
func (c *loopCore) messages() []ChatMessage {
	msgs := make([]ChatMessage, 0, c.memory.Len()*2)
	for _, step := range c.memory.Steps() {
		switch v := step.(type) {
		case *SystemPromptStep:
			msgs = append(msgs, SystemMessage(v.Text))
		case *TaskStep:
			m := UserMessage(v.Text)
			m.Images = v.Images
			msgs = append(msgs, m)
		case *PlanningStep:
			msgs = append(msgs, AssistantMessage(v.Plan))
		case *ActionStep:
			switch {
			case v.Error != "":
				if v.ModelOutput != "" {
					msgs = append(msgs, AssistantMessage(v.ModelOutput))
				}
				msgs = append(msgs, UserMessage("The previous step failed: "+v.Error+"\nAdjust your approach and continue."))
			case len(v.ToolCalls) > 0:
				msgs = append(msgs, ChatMessage{Role: "assistant", Content: v.ModelOutput, ToolCalls: v.ToolCalls})
				for _, obs := range v.Observations {
					msgs = append(msgs, ToolResultMessage(obs.CallID, obs.Text()))
				}
			case len(v.Observations) > 0:
				msgs = append(msgs, AssistantMessage(v.ModelOutput))
				for _, obs := range v.Observations {
					msgs = append(msgs, UserMessage("Observation:\n"+obs.Text()))
				}
			default:
				msgs = append(msgs, AssistantMessage(v.ModelOutput))
			}
		case *FinalAnswerStep:
			msgs = append(msgs, AssistantMessage(v.Payload.JSON()))
		}
	}
	return msgs
}

// lastAssistantText returns the newest non-empty model output, the
// best-effort answer when the step budget runs out.
func (c *loopCore) lastAssistantText() string {
	steps := c.memory.Steps()
	for i := len(steps) - 1; i >= 0; i-- {
		if action, ok := steps[i].(*ActionStep); ok && action.ModelOutput != "" {
			return action.ModelOutput
		}
	}
	return ""
}

func (c *loopCore) appendStep(ctx context.Context, events chan<- Event, step Step) {
	if err := c.memory.Append(step); err != nil {
		// Ordering violations are programmer errors; surface loudly.
		c.logger.Error("memory append rejected", "agent", c.name, "err", err)
		return
	}
	summary := SummarizeStep(step)
	c.emit(ctx, events, Event{Type: EventStep, Step: &summary})
}

func (c *loopCore) emit(ctx context.Context, events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// timedStep stamps a zero-duration step with the current time.
func timedStep[S Step](step S) S {
	meta := step.Meta()
	meta.Start = time.Now()
	meta.End = meta.Start
	return step
}

// canceledErr reports whether err (or the surrounding ctx) means the
// run was cooperatively canceled rather than failed.
func canceledErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var merr *ModelError
	return errors.As(err, &merr) && merr.Kind == ModelErrCanceled
}
