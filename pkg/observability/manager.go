package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Manager owns the process-wide observability stack: the metrics recorder,
// the /metrics endpoint, and the tracer provider.
type Manager struct {
	metrics        Metrics
	tracerProvider trace.TracerProvider
	httpServer     *http.Server
}

// NewManager initializes metrics and tracing per cfg and installs the
// metrics recorder globally.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	cfg.SetDefaults()

	metrics, err := InitMetrics(ctx, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	SetGlobalMetrics(metrics)

	tp, err := InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}

	m := &Manager{metrics: metrics, tracerProvider: tp}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		m.httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics endpoint failed", "error", err)
			}
		}()
		slog.Info("Metrics endpoint started", "port", cfg.Metrics.Port)
	}

	return m, nil
}

// NoopManager returns a manager with everything disabled.
func NoopManager() *Manager {
	return &Manager{metrics: noopMetrics{}}
}

// Metrics returns the recorder owned by this manager.
func (m *Manager) Metrics() Metrics {
	if m.metrics == nil {
		return noopMetrics{}
	}
	return m.metrics
}

// Shutdown stops the metrics endpoint and flushes the tracer provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var firstErr error
	if m.httpServer != nil {
		if err := m.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if tp, ok := m.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
