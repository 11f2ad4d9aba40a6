package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics Metrics = noopMetrics{}
	metricsMu     sync.RWMutex
)

// Metrics records the platform's operational signals. All implementations
// must be safe for concurrent use.
type Metrics interface {
	RecordToolInvocation(ctx context.Context, tool string, success, cached bool, duration time.Duration)
	RecordLLMTokens(ctx context.Context, model string, inputTokens, outputTokens int)
	RecordWorkflowNode(ctx context.Context, nodeType, status string, duration time.Duration)
	RecordCacheAccess(ctx context.Context, hit bool)
}

// GetGlobalMetrics returns the process-wide recorder, a no-op until
// SetGlobalMetrics installs a real one.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m == nil {
		m = noopMetrics{}
	}
	globalMetrics = m
}

// PrometheusMetrics records through OTel instruments backed by the
// Prometheus exporter.
type PrometheusMetrics struct {
	toolDuration   metric.Float64Histogram
	toolCallsTotal metric.Int64Counter
	toolErrors     metric.Int64Counter
	toolCacheHits  metric.Int64Counter

	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter

	nodeDuration   metric.Float64Histogram
	nodeTotal      metric.Int64Counter
	cacheHitsTotal metric.Int64Counter
	cacheMissTotal metric.Int64Counter
}

// InitMetrics builds the exporter, meter provider, and instruments.
// When disabled it returns a recorder that drops everything.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return noopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("aexs")

	m := &PrometheusMetrics{}

	if m.toolDuration, err = meter.Float64Histogram(
		"aexs_tool_invocation_duration_seconds",
		metric.WithDescription("Tool invocation duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}
	if m.toolCallsTotal, err = meter.Int64Counter(
		"aexs_tool_invocations_total",
		metric.WithDescription("Total tool invocations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}
	if m.toolErrors, err = meter.Int64Counter(
		"aexs_tool_errors_total",
		metric.WithDescription("Total failed tool invocations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}
	if m.toolCacheHits, err = meter.Int64Counter(
		"aexs_tool_cache_hits_total",
		metric.WithDescription("Tool invocations served from the result cache"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool cache hits counter: %w", err)
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"aexs_llm_input_tokens_total",
		metric.WithDescription("Total input tokens sent to LLM providers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"aexs_llm_output_tokens_total",
		metric.WithDescription("Total output tokens received from LLM providers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}
	if m.nodeDuration, err = meter.Float64Histogram(
		"aexs_workflow_node_duration_seconds",
		metric.WithDescription("Workflow node execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create node duration histogram: %w", err)
	}
	if m.nodeTotal, err = meter.Int64Counter(
		"aexs_workflow_nodes_total",
		metric.WithDescription("Total workflow nodes executed"),
	); err != nil {
		return nil, fmt.Errorf("failed to create node counter: %w", err)
	}
	if m.cacheHitsTotal, err = meter.Int64Counter(
		"aexs_result_cache_hits_total",
		metric.WithDescription("Result cache hits"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}
	if m.cacheMissTotal, err = meter.Int64Counter(
		"aexs_result_cache_misses_total",
		metric.WithDescription("Result cache misses"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordToolInvocation(ctx context.Context, tool string, success, cached bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	)
	m.toolCallsTotal.Add(ctx, 1, attrs)
	if cached {
		m.toolCacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
		return
	}
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if !success {
		m.toolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

func (m *PrometheusMetrics) RecordLLMTokens(ctx context.Context, model string, inputTokens, outputTokens int) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
}

func (m *PrometheusMetrics) RecordWorkflowNode(ctx context.Context, nodeType, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("node_type", nodeType),
		attribute.String("status", status),
	)
	m.nodeTotal.Add(ctx, 1, attrs)
	m.nodeDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *PrometheusMetrics) RecordCacheAccess(ctx context.Context, hit bool) {
	if hit {
		m.cacheHitsTotal.Add(ctx, 1)
	} else {
		m.cacheMissTotal.Add(ctx, 1)
	}
}
