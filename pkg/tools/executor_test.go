package tools

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

// stubTool counts executions and can be forced to fail.
type stubTool struct {
	name     string
	fail     bool
	failErr  error
	delay    time.Duration
	executed atomic.Int64
}

func (s *stubTool) GetName() string        { return s.name }
func (s *stubTool) GetDescription() string { return "stub" }

func (s *stubTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        s.name,
		Description: "stub",
		Operations: []OperationInfo{
			{Name: "run", Parameters: map[string]ParameterSpec{
				"input": {Type: "string", Required: true, Description: "input value"},
			}},
		},
		DefaultOperation: "run",
	}
}

func (s *stubTool) ValidateParams(operation string, params map[string]any) error {
	if _, ok := params["input"].(string); !ok {
		return execution.NewError(execution.CodeValidation, s.name, operation,
			"parameter 'input' is required; pass a string value", nil)
	}
	return nil
}

func (s *stubTool) Execute(ctx context.Context, operation string, params map[string]any) (ToolResult, error) {
	s.executed.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return errorResult(s.name, operation, ctx.Err().Error(), 0), ctx.Err()
		}
	}
	if s.fail {
		if s.failErr != nil {
			return errorResult(s.name, operation, s.failErr.Error(), 0), s.failErr
		}
		return errorResult(s.name, operation, "stub failure", 0), nil
	}
	input, _ := params["input"].(string)
	return successResult(s.name, operation, "ok: "+input, input, 0), nil
}

func newTestExecutor(t *testing.T, toolList ...Tool) *Executor {
	t.Helper()
	reg := NewToolRegistry()
	for _, tool := range toolList {
		require.NoError(t, reg.RegisterTool(tool))
	}
	cfg := DefaultExecutorConfig()
	cfg.RateLimitRPS = 10000
	cfg.RateLimitBurst = 10000
	exec, err := NewExecutor(reg, cfg)
	require.NoError(t, err)
	return exec
}

func TestExecutorInvokeSuccess(t *testing.T) {
	stub := &stubTool{name: "stub"}
	exec := newTestExecutor(t, stub)

	outcome, err := exec.Invoke(context.Background(), InvokeRequest{
		Tool: "stub", Operation: "run", Params: map[string]any{"input": "hello"},
	})
	require.NoError(t, err)

	assert.True(t, outcome.Result.Success)
	assert.Equal(t, "hello", outcome.Result.Output)
	assert.Equal(t, "stub", outcome.Result.ToolName)
	assert.Equal(t, "run", outcome.Result.Operation)
	assert.False(t, outcome.Cached)

	require.NotNil(t, outcome.Observation)
	assert.True(t, outcome.Observation.Success)
	assert.Equal(t, "stub", outcome.Observation.ToolName)
	assert.False(t, outcome.Observation.Cached)
}

func TestExecutorFillsDefaultOperation(t *testing.T) {
	stub := &stubTool{name: "stub"}
	exec := newTestExecutor(t, stub)

	outcome, err := exec.Invoke(context.Background(), InvokeRequest{
		Tool: "stub", Params: map[string]any{"input": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "run", outcome.Result.Operation)
}

func TestExecutorToolNotFound(t *testing.T) {
	exec := newTestExecutor(t)

	_, err := exec.Invoke(context.Background(), InvokeRequest{Tool: "ghost"})
	require.Error(t, err)
	assert.Equal(t, execution.CodeToolNotFound, errorCode(t, err))
}

func TestExecutorOperationNotFound(t *testing.T) {
	exec := newTestExecutor(t, &stubTool{name: "stub"})

	_, err := exec.Invoke(context.Background(), InvokeRequest{
		Tool: "stub", Operation: "walk", Params: map[string]any{"input": "x"},
	})
	require.Error(t, err)
	assert.Equal(t, execution.CodeOperationNotFound, errorCode(t, err))
}

func TestExecutorValidationError(t *testing.T) {
	stub := &stubTool{name: "stub"}
	exec := newTestExecutor(t, stub)

	_, err := exec.Invoke(context.Background(), InvokeRequest{
		Tool: "stub", Operation: "run", Params: map[string]any{},
	})
	require.Error(t, err)
	assert.Equal(t, execution.CodeValidation, errorCode(t, err))
	assert.Equal(t, int64(0), stub.executed.Load(), "tool must not run on validation failure")
}

func TestExecutorCacheHitSkipsExecution(t *testing.T) {
	stub := &stubTool{name: "stub"}
	exec := newTestExecutor(t, stub)

	req := InvokeRequest{Tool: "stub", Operation: "run", Params: map[string]any{"input": "hello"}, UserID: "u1"}

	first, err := exec.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := exec.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.True(t, second.Observation.Cached)
	assert.Equal(t, first.Result.Output, second.Result.Output)

	assert.Equal(t, int64(1), stub.executed.Load(), "second invocation must come from cache")

	stats := exec.Cache().Stats()
	assert.Equal(t, int64(1), stats.Hits)
}

func TestExecutorDifferentParamsMissCache(t *testing.T) {
	stub := &stubTool{name: "stub"}
	exec := newTestExecutor(t, stub)

	for _, input := range []string{"a", "b"} {
		_, err := exec.Invoke(context.Background(), InvokeRequest{
			Tool: "stub", Operation: "run", Params: map[string]any{"input": input},
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), stub.executed.Load())
}

func TestExecutorFailureNotCached(t *testing.T) {
	stub := &stubTool{name: "stub", fail: true}
	exec := newTestExecutor(t, stub)

	req := InvokeRequest{Tool: "stub", Operation: "run", Params: map[string]any{"input": "x"}}

	outcome, err := exec.Invoke(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, execution.CodeExecution, errorCode(t, err))
	require.NotNil(t, outcome)
	assert.False(t, outcome.Result.Success)
	require.NotNil(t, outcome.Observation)
	assert.False(t, outcome.Observation.Success)
	assert.NotEmpty(t, outcome.Observation.Error)

	_, err = exec.Invoke(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int64(2), stub.executed.Load(), "failures must not populate the cache")
}

func TestExecutorTTLStrategyOverridesDefault(t *testing.T) {
	stub := &stubTool{name: "stub"}
	exec := newTestExecutor(t, stub)
	exec.SetTTLStrategy(func(result ToolResult, req InvokeRequest) time.Duration {
		return time.Millisecond
	})

	req := InvokeRequest{Tool: "stub", Operation: "run", Params: map[string]any{"input": "x"}}

	_, err := exec.Invoke(context.Background(), req)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	outcome, err := exec.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, outcome.Cached, "strategy TTL should have expired the entry")
	assert.Equal(t, int64(2), stub.executed.Load())
}

func TestExecutorCacheDisabled(t *testing.T) {
	stub := &stubTool{name: "stub"}
	reg := NewToolRegistry()
	require.NoError(t, reg.RegisterTool(stub))

	cfg := DefaultExecutorConfig()
	cfg.CacheEnabled = false
	cfg.RateLimitRPS = 10000
	exec, err := NewExecutor(reg, cfg)
	require.NoError(t, err)
	assert.Nil(t, exec.Cache())

	req := InvokeRequest{Tool: "stub", Operation: "run", Params: map[string]any{"input": "x"}}
	for i := 0; i < 2; i++ {
		_, err := exec.Invoke(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), stub.executed.Load())
}

func TestExecutorContextCancellation(t *testing.T) {
	stub := &stubTool{name: "stub", delay: time.Second}
	exec := newTestExecutor(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := exec.Invoke(ctx, InvokeRequest{
		Tool: "stub", Operation: "run", Params: map[string]any{"input": "x"},
	})
	require.Error(t, err)
	code, _ := execution.Classify(err)
	assert.Equal(t, execution.CodeTimeout, code)
}

func TestExecutorRateLimiterBlocks(t *testing.T) {
	stub := &stubTool{name: "stub"}
	reg := NewToolRegistry()
	require.NoError(t, reg.RegisterTool(stub))

	cfg := DefaultExecutorConfig()
	cfg.CacheEnabled = false
	cfg.RateLimitRPS = 50
	cfg.RateLimitBurst = 1
	exec, err := NewExecutor(reg, cfg)
	require.NoError(t, err)

	req := InvokeRequest{Tool: "stub", Operation: "run", Params: map[string]any{"input": "x"}, UserID: "u1"}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := exec.Invoke(context.Background(), req)
		require.NoError(t, err)
	}
	// Burst of 1 at 50 req/s: the 2nd and 3rd calls wait ~20ms each.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestExecutorRequiresRegistry(t *testing.T) {
	_, err := NewExecutor(nil, DefaultExecutorConfig())
	assert.Error(t, err)
}

func TestLimiterAllow(t *testing.T) {
	limiter := NewLimiter(1, 1)

	assert.True(t, limiter.Allow("u1", "calculator"))
	assert.False(t, limiter.Allow("u1", "calculator"))

	// Separate (user, tool) pairs have separate buckets.
	assert.True(t, limiter.Allow("u2", "calculator"))
	assert.True(t, limiter.Allow("u1", "search"))
}

func TestLimiterWaitDeadlineTooShort(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	require.NoError(t, limiter.Wait(context.Background(), "u1", "t"))

	// The next slot is ~10s away; a 5ms deadline cannot cover it, so the
	// wait is refused as resource exhaustion rather than blocking.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, "u1", "t")
	require.Error(t, err)
	assert.Equal(t, execution.CodeResourceExhausted, errorCode(t, err))
}

func TestLimiterWaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	require.NoError(t, limiter.Wait(context.Background(), "u1", "t"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := limiter.Wait(ctx, "u1", "t")
	require.Error(t, err)
	assert.Equal(t, execution.CodeCancelled, errorCode(t, err))
}
