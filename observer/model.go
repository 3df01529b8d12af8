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

// ObservedModel wraps a deepsearch.Model with OTEL instrumentation.
// Wrapping the individual handles before they enter the router keeps
// the per-model split visible in the telemetry.
type ObservedModel struct {
	inner deepsearch.Model
	inst  *Instruments
}

// WrapModel returns an instrumented model that emits traces, metrics, and logs.
func WrapModel(inner deepsearch.Model, inst *Instruments) *ObservedModel {
	return &ObservedModel{inner: inner, inst: inst}
}

func (o *ObservedModel) ID() string { return o.inner.ID() }

func (o *ObservedModel) Generate(ctx context.Context, req deepsearch.ChatRequest) (deepsearch.ChatResponse, error) {
	spanAttrs := []trace.SpanStartOption{
		trace.WithAttributes(AttrLLMModel.String(o.inner.ID())),
	}
	spanName := "llm.generate"
	method := "generate"
	if len(req.Tools) > 0 {
		toolNames := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			toolNames[i] = t.Name
		}
		spanAttrs = append(spanAttrs, trace.WithAttributes(
			AttrToolCount.Int(len(req.Tools)),
			AttrToolNames.StringSlice(toolNames),
		))
		spanName = "llm.generate_with_tools"
		method = "generate_with_tools"
	}

	ctx, span := o.inst.Tracer.Start(ctx, spanName, spanAttrs...)
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Generate(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.record(ctx, span, method, status, durationMs, resp.Usage)
	return resp, err
}

func (o *ObservedModel) GenerateStream(ctx context.Context, req deepsearch.ChatRequest, ch chan<- deepsearch.Delta) (deepsearch.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.generate_stream", trace.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
	))
	defer span.End()
	start := time.Now()

	// Wrap the channel to count deltas. Buffer generously so the inner
	// model never blocks on send while the forwarder is mid-handoff.
	bufSize := max(cap(ch), 64)
	wrapped := make(chan deepsearch.Delta, bufSize)
	chunks := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range wrapped {
			chunks++
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	resp, err := o.inner.GenerateStream(ctx, req, wrapped)
	close(wrapped)
	<-done // wait for the forwarder before reading chunks

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(AttrStreamChunks.Int(chunks))
	o.record(ctx, span, "generate_stream", status, durationMs, resp.Usage)
	return resp, err
}

func (o *ObservedModel) record(ctx context.Context, span trace.Span, method, status string, durationMs float64, usage deepsearch.Usage) {
	cost := o.inst.Cost.Calculate(o.inner.ID(), usage.InputTokens, usage.OutputTokens)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
		AttrLLMMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.ModelRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.ModelDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("model call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.inner.ID()),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

// compile-time check
var _ deepsearch.Model = (*ObservedModel)(nil)
