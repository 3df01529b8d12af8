package observer

import (
	"context"
	"time"

	deepsearch "github.com/deepsearch-ai/deepsearch"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedAgent wraps any Agent to emit OTEL lifecycle spans, metrics,
// and logs. The wrapper creates a parent span for each Execute call
// that contains all inner operations (model calls, tool invocations,
// sandbox executions) as child spans via context propagation.
type ObservedAgent struct {
	inner deepsearch.Agent
	inst  *Instruments
}

// WrapAgent returns an instrumented Agent that emits lifecycle telemetry.
func WrapAgent(inner deepsearch.Agent, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, inst: inst}
}

func (o *ObservedAgent) Kind() deepsearch.AgentKind { return o.inner.Kind() }

func (o *ObservedAgent) Reset(ctx context.Context) error { return o.inner.Reset(ctx) }

// Execute wraps the inner agent's Execute, emitting an agent.run span
// that serves as the parent for all inner operations.
func (o *ObservedAgent) Execute(ctx context.Context, task string) *deepsearch.RunResult {
	return o.run(ctx, func(ctx context.Context) *deepsearch.RunResult {
		return o.inner.Execute(ctx, task)
	})
}

func (o *ObservedAgent) ExecuteStream(ctx context.Context, task string, events chan<- deepsearch.Event) *deepsearch.RunResult {
	return o.run(ctx, func(ctx context.Context) *deepsearch.RunResult {
		return o.inner.ExecuteStream(ctx, task, events)
	})
}

func (o *ObservedAgent) run(ctx context.Context, fn func(context.Context) *deepsearch.RunResult) *deepsearch.RunResult {
	kind := string(o.inner.Kind())

	ctx, span := o.inst.Tracer.Start(ctx, "agent.run", trace.WithAttributes(
		AttrAgentKind.String(kind),
	))
	defer span.End()
	start := time.Now()

	span.AddEvent("run.started")

	result := fn(ctx)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"

	switch {
	case result.Error == deepsearch.ErrRunCanceled:
		status = "cancelled"
		span.AddEvent("run.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	case result.Error != "":
		status = "error"
		span.AddEvent("run.failed", trace.WithAttributes(
			attribute.String("error", result.Error),
		))
		span.SetStatus(codes.Error, result.Error)
	default:
		span.AddEvent("run.completed")
	}

	span.SetAttributes(
		AttrAgentStatus.String(status),
		AttrRunSteps.Int(len(result.Steps)),
		AttrTokensInput.Int(result.TokenUsage.InputTokens),
		AttrTokensOutput.Int(result.TokenUsage.OutputTokens),
	)

	// Metrics
	attrs := metric.WithAttributes(
		AttrAgentKind.String(kind),
		attribute.String("status", status),
	)
	o.inst.Runs.Add(ctx, 1, attrs)
	o.inst.Steps.Add(ctx, int64(len(result.Steps)), metric.WithAttributes(
		AttrAgentKind.String(kind),
	))
	o.inst.RunDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrAgentKind.String(kind),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("agent run completed"))
	rec.AddAttributes(
		otellog.String("agent.kind", kind),
		otellog.String("agent.status", status),
		otellog.Int("agent.steps", len(result.Steps)),
		otellog.Int("tokens.input", result.TokenUsage.InputTokens),
		otellog.Int("tokens.output", result.TokenUsage.OutputTokens),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result
}

// compile-time check
var _ deepsearch.Agent = (*ObservedAgent)(nil)
