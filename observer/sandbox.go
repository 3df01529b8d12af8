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

// ObservedSandbox wraps a deepsearch.SandboxGateway with OTEL
// instrumentation.
type ObservedSandbox struct {
	inner deepsearch.SandboxGateway
	inst  *Instruments
}

// WrapSandbox returns an instrumented sandbox gateway.
func WrapSandbox(inner deepsearch.SandboxGateway, inst *Instruments) *ObservedSandbox {
	return &ObservedSandbox{inner: inner, inst: inst}
}

func (o *ObservedSandbox) Prepare(ctx context.Context, tools map[string]deepsearch.Tool, authorizedImports []string) error {
	ctx, span := o.inst.Tracer.Start(ctx, "sandbox.prepare", trace.WithAttributes(
		AttrToolCount.Int(len(tools)),
	))
	defer span.End()

	err := o.inner.Prepare(ctx, tools, authorizedImports)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *ObservedSandbox) Execute(ctx context.Context, code string, state map[string]any) (*deepsearch.Execution, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "sandbox.execute", trace.WithAttributes(
		AttrCodeLength.Int(len(code)),
	))
	defer span.End()
	start := time.Now()

	exec, err := o.inner.Execute(ctx, code, state)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	toolCalls := 0
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case exec.Error != "":
		status = "code_error"
		toolCalls = len(exec.ToolCalls)
	default:
		toolCalls = len(exec.ToolCalls)
	}

	span.SetAttributes(
		AttrSandboxStatus.String(status),
		AttrSandboxTools.Int(toolCalls),
	)

	o.inst.SandboxExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
	o.inst.SandboxDuration.Record(ctx, durationMs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("sandbox execution completed"))
	rec.AddAttributes(
		otellog.String("sandbox.status", status),
		otellog.Int("sandbox.tool_calls", toolCalls),
		otellog.Float64("sandbox.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return exec, err
}

func (o *ObservedSandbox) Close() error { return o.inner.Close() }

// compile-time check
var _ deepsearch.SandboxGateway = (*ObservedSandbox)(nil)
