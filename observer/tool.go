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

// ObservedTool wraps a deepsearch.Tool with OTEL instrumentation.
// Wrap tools before registering them so every Invoke through the
// dispatcher is traced.
type ObservedTool struct {
	inner deepsearch.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner deepsearch.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Descriptor() deepsearch.ToolDescriptor {
	return o.inner.Descriptor()
}

func (o *ObservedTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	name := o.inner.Descriptor().Name
	ctx, span := o.inst.Tracer.Start(ctx, "tool.invoke", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Invoke(ctx, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(AttrToolStatus.String(status))

	o.inst.ToolInvocations.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool invoked"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

// compile-time check
var _ deepsearch.Tool = (*ObservedTool)(nil)
