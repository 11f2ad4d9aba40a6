package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/observability"
)

// ============================================================================
// EXECUTOR - THE INVOCATION PIPELINE
// resolve → validate → cache lookup → rate limit → run → observe → cache
// ============================================================================

// TTLStrategy computes a result-dependent cache TTL. When set it wins over
// the fixed default TTL.
type TTLStrategy func(result ToolResult, req InvokeRequest) time.Duration

// InvokeRequest describes one tool invocation.
type InvokeRequest struct {
	Tool      string
	Operation string
	Params    map[string]any
	UserID    string
	TaskID    string
}

// Outcome is the full record of one invocation.
type Outcome struct {
	Result      ToolResult
	Observation *Observation
	Cached      bool
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	CacheEnabled     bool
	DefaultTTL       time.Duration
	MaxCacheSize     int
	CleanupThreshold float64
	CleanupInterval  time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
}

// DefaultExecutorConfig returns the documented defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CacheEnabled:     true,
		DefaultTTL:       60 * time.Second,
		MaxCacheSize:     1000,
		CleanupThreshold: 0.8,
		CleanupInterval:  30 * time.Second,
		RateLimitRPS:     5,
		RateLimitBurst:   5,
	}
}

// Executor runs tool operations through the full invocation pipeline.
// Each agent owns one executor; the registry behind it is shared.
type Executor struct {
	registry    *ToolRegistry
	cache       *ResultCache
	limiter     *Limiter
	ttlStrategy TTLStrategy
	cfg         ExecutorConfig
}

// NewExecutor creates an executor over a registry.
func NewExecutor(registry *ToolRegistry, cfg ExecutorConfig) (*Executor, error) {
	if registry == nil {
		return nil, fmt.Errorf("tool registry cannot be nil")
	}

	var cache *ResultCache
	if cfg.CacheEnabled {
		var err error
		cache, err = NewResultCache(CacheConfig{
			MaxSize:          cfg.MaxCacheSize,
			DefaultTTL:       cfg.DefaultTTL,
			CleanupThreshold: cfg.CleanupThreshold,
			CleanupInterval:  cfg.CleanupInterval,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Executor{
		registry: registry,
		cache:    cache,
		limiter:  NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		cfg:      cfg,
	}, nil
}

// SetTTLStrategy installs a result-dependent TTL function.
func (e *Executor) SetTTLStrategy(strategy TTLStrategy) {
	e.ttlStrategy = strategy
}

// Registry returns the underlying tool registry.
func (e *Executor) Registry() *ToolRegistry {
	return e.registry
}

// Cache returns the result cache, nil when caching is disabled.
func (e *Executor) Cache() *ResultCache {
	return e.cache
}

// Invoke runs one tool operation through the pipeline. An Outcome with an
// Observation is returned for every attempt that reaches the cache or the
// tool; resolution and validation failures return only the error.
func (e *Executor) Invoke(ctx context.Context, req InvokeRequest) (*Outcome, error) {
	tool, err := e.registry.GetTool(req.Tool)
	if err != nil {
		return nil, err
	}

	info := tool.GetInfo()
	if req.Operation == "" {
		req.Operation = info.DefaultOperation
	}
	if !operationSupported(info, req.Operation) {
		return nil, execution.NewError(execution.CodeOperationNotFound, "Executor", "Invoke",
			fmt.Sprintf("tool %s has no operation %q (supported: %s)", req.Tool, req.Operation, describeOperations(info)), nil)
	}

	if err := tool.ValidateParams(req.Operation, req.Params); err != nil {
		if _, ok := err.(*execution.Error); ok {
			return nil, err
		}
		return nil, execution.NewError(execution.CodeValidation, "Executor", "Invoke",
			fmt.Sprintf("invalid parameters for %s.%s: %v", req.Tool, req.Operation, err), err)
	}

	var key string
	if e.cache != nil {
		key = CacheKey(req.Tool, req.Operation, req.Params, req.UserID, req.TaskID)
		cached, ok := e.cache.Get(key)
		observability.GetGlobalMetrics().RecordCacheAccess(ctx, ok)
		if ok {
			obs := NewObservation(req.Tool, req.Operation, req.Params)
			obs.Observe(cached.Output, nil, 0)
			obs.Cached = true
			observability.GetGlobalMetrics().RecordToolInvocation(ctx, req.Tool, true, true, 0)
			return &Outcome{Result: cached, Observation: obs, Cached: true}, nil
		}
	}

	if err := e.limiter.Wait(ctx, req.UserID, req.Tool); err != nil {
		return nil, err
	}

	obs := NewObservation(req.Tool, req.Operation, req.Params)
	start := time.Now()
	result, runErr := tool.Execute(ctx, req.Operation, req.Params)
	elapsed := time.Since(start)

	result.ToolName = req.Tool
	result.Operation = req.Operation
	result.ExecutionTime = elapsed

	if runErr == nil && !result.Success && result.Error != "" {
		runErr = execution.NewError(execution.CodeExecution, "Executor", "Invoke", result.Error, nil)
	}

	obs.Observe(result.Output, runErr, elapsed)
	observability.GetGlobalMetrics().RecordToolInvocation(ctx, req.Tool, runErr == nil, false, elapsed)

	if runErr != nil {
		slog.Debug("Tool invocation failed",
			"tool", req.Tool, "operation", req.Operation, "error", runErr)
		code, _ := execution.Classify(runErr)
		if code == execution.CodeExecution {
			runErr = execution.NewError(execution.CodeExecution, "Executor", "Invoke",
				fmt.Sprintf("tool %s.%s failed", req.Tool, req.Operation), runErr)
		}
		return &Outcome{Result: result, Observation: obs}, runErr
	}

	if e.cache != nil {
		ttl := e.cfg.DefaultTTL
		if e.ttlStrategy != nil {
			ttl = e.ttlStrategy(result, req)
		}
		e.cache.Put(key, result, ttl)
	}

	return &Outcome{Result: result, Observation: obs}, nil
}
