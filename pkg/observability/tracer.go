package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InitTracer builds the tracer provider and registers it globally.
// Span export is left to processors installed by the embedding process;
// the provider here gives every component consistent span creation and
// sampling.
func InitTracer(ctx context.Context, cfg TracingConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// GetTracer returns a named tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartToolSpan starts a span for one tool invocation.
func StartToolSpan(ctx context.Context, tool, operation string) (context.Context, trace.Span) {
	return GetTracer("aexs.tools").Start(ctx, "tool.invoke",
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("tool.operation", operation),
		))
}

// StartNodeSpan starts a span for one workflow node.
func StartNodeSpan(ctx context.Context, nodeID, nodeType string) (context.Context, trace.Span) {
	return GetTracer("aexs.workflow").Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("node.id", nodeID),
			attribute.String("node.type", nodeType),
		))
}

// StartAgentSpan starts a span for one agent task.
func StartAgentSpan(ctx context.Context, agentID, taskID string) (context.Context, trace.Span) {
	return GetTracer("aexs.agent").Start(ctx, "agent.execute",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("task.id", taskID),
		))
}
