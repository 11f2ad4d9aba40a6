package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/tools"
)

// probeTool counts executions and optionally delays or fails, so tests can
// observe caching, concurrency, and cancellation.
type probeTool struct {
	calls atomic.Int64
	delay time.Duration
	fail  bool
}

func (p *probeTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        "probe",
		Description: "echoes its key parameter",
		Operations: []tools.OperationInfo{{
			Name:        "run",
			Description: "Echo the key",
			Parameters: map[string]tools.ParameterSpec{
				"key": {Type: "string", Description: "value to echo"},
			},
		}},
		DefaultOperation: "run",
	}
}

func (p *probeTool) GetName() string        { return "probe" }
func (p *probeTool) GetDescription() string { return "echoes its key parameter" }

func (p *probeTool) ValidateParams(operation string, params map[string]any) error {
	return nil
}

func (p *probeTool) Execute(ctx context.Context, operation string, params map[string]any) (tools.ToolResult, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return tools.ToolResult{ToolName: "probe"}, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.fail {
		return tools.ToolResult{Success: false, Error: "probe failure", ToolName: "probe"}, nil
	}
	return tools.ToolResult{Success: true, Output: params["key"], ToolName: "probe"}, nil
}

// newAgentExecutor builds an executor over the builtin tools plus a probe.
func newAgentExecutor(t *testing.T, probe *probeTool) *tools.Executor {
	t.Helper()
	reg := tools.NewToolRegistry()
	require.NoError(t, reg.RegisterSource(context.Background(), tools.NewBuiltinToolSource(nil)))
	if probe != nil {
		require.NoError(t, reg.RegisterTool(probe))
	}
	cfg := tools.DefaultExecutorConfig()
	cfg.RateLimitRPS = 10000
	cfg.RateLimitBurst = 10000
	executor, err := tools.NewExecutor(reg, cfg)
	require.NoError(t, err)
	return executor
}

func activeAgent(t *testing.T, base *BaseAgent) {
	t.Helper()
	require.NoError(t, base.Initialize(context.Background()))
}

func TestBaseAgentLifecycle(t *testing.T) {
	base := NewBaseAgent(Config{Name: "lifecycle"})
	assert.Equal(t, StateCreated, base.State())

	require.NoError(t, base.Initialize(context.Background()))
	assert.Equal(t, StateActive, base.State())

	require.NoError(t, base.Pause())
	assert.Equal(t, StatePaused, base.State())
	require.NoError(t, base.Resume())
	assert.Equal(t, StateActive, base.State())

	require.NoError(t, base.Shutdown(context.Background()))
	assert.Equal(t, StateTerminated, base.State())
}

func TestBaseAgentRejectsInvalidTransitions(t *testing.T) {
	base := NewBaseAgent(Config{Name: "invalid"})

	err := base.Pause()
	require.Error(t, err, "CREATED cannot pause")

	require.NoError(t, base.Initialize(context.Background()))
	require.NoError(t, base.Shutdown(context.Background()))
	assert.Error(t, base.Initialize(context.Background()), "TERMINATED is final")
}

func TestBaseAgentRejectsTasksWhenNotActive(t *testing.T) {
	agent, err := NewToolAgent(Config{Name: "paused"}, newAgentExecutor(t, nil), nil)
	require.NoError(t, err)
	activeAgent(t, agent.BaseAgent)
	require.NoError(t, agent.Pause())

	task := execution.Task{TaskID: "t1", Tool: "calculator", Operation: "add", Parameters: map[string]any{"a": 1, "b": 2}}
	_, err = agent.ExecuteTask(context.Background(), task, nil)
	require.Error(t, err)

	var execErr *execution.Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, execution.CodeValidation, execErr.Code)
}

func TestBaseAgentResourceGate(t *testing.T) {
	cfg := Config{Name: "gated"}
	cfg.Limits.EnforceLimits = true
	cfg.Limits.MaxConcurrentTasks = 1

	agent, err := NewToolAgent(cfg, newAgentExecutor(t, nil), nil)
	require.NoError(t, err)
	activeAgent(t, agent.BaseAgent)

	agent.Governor().TaskStarted() // occupy the only slot

	task := execution.Task{TaskID: "t1", Tool: "calculator", Operation: "add", Parameters: map[string]any{"a": 1, "b": 2}}
	_, err = agent.ExecuteTask(context.Background(), task, nil)
	require.Error(t, err)

	var execErr *execution.Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, execution.CodeResourceExhausted, execErr.Code)
}

func TestBaseAgentHooksRunAndFailuresAreSwallowed(t *testing.T) {
	probe := &probeTool{}
	agent, err := NewToolAgent(Config{Name: "hooked"}, newAgentExecutor(t, probe), nil)
	require.NoError(t, err)
	activeAgent(t, agent.BaseAgent)

	var pre, post, onError atomic.Int64
	agent.RegisterHook(HookPreExecution, func(ctx context.Context, task execution.Task, result *execution.Result) error {
		pre.Add(1)
		return errors.New("hook boom")
	})
	agent.RegisterHook(HookPostExecution, func(ctx context.Context, task execution.Task, result *execution.Result) error {
		post.Add(1)
		return nil
	})
	agent.RegisterHook(HookOnError, func(ctx context.Context, task execution.Task, result *execution.Result) error {
		onError.Add(1)
		return nil
	})

	task := execution.Task{TaskID: "ok", Tool: "probe", Operation: "run", Parameters: map[string]any{"key": "v"}}
	result, err := agent.ExecuteTask(context.Background(), task, nil)
	require.NoError(t, err)
	assert.True(t, result.Success, "a failing pre hook must not abort the execution")
	assert.Equal(t, int64(1), pre.Load())
	assert.Equal(t, int64(1), post.Load())
	assert.Equal(t, int64(0), onError.Load())

	failing := &probeTool{fail: true}
	failAgent, err := NewToolAgent(Config{Name: "hooked-fail"}, newAgentExecutor(t, failing), nil)
	require.NoError(t, err)
	activeAgent(t, failAgent.BaseAgent)

	var failHook atomic.Int64
	failAgent.RegisterHook(HookOnError, func(ctx context.Context, task execution.Task, result *execution.Result) error {
		failHook.Add(1)
		return nil
	})
	result, err = failAgent.ExecuteTask(context.Background(), execution.Task{TaskID: "bad", Tool: "probe"}, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, int64(1), failHook.Load())
}

func TestBaseAgentCancelExecution(t *testing.T) {
	probe := &probeTool{delay: 500 * time.Millisecond}
	agent, err := NewToolAgent(Config{Name: "cancellable"}, newAgentExecutor(t, probe), nil)
	require.NoError(t, err)
	activeAgent(t, agent.BaseAgent)

	execCtx := execution.NewContext(nil)
	task := execution.Task{TaskID: "slow", Tool: "probe", Operation: "run", Parameters: map[string]any{"key": "v"}}

	done := make(chan *execution.Result, 1)
	go func() {
		result, err := agent.ExecuteTask(context.Background(), task, execCtx)
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool {
		return len(agent.ActiveExecutions()) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, agent.CancelExecution(execCtx.ExecutionID, "test cancel"))

	result := <-done
	assert.False(t, result.Success)
	assert.Equal(t, execution.StatusCancelled, result.Status)
	assert.Empty(t, agent.ActiveExecutions())
}

func TestBaseAgentBusyStateTracksInFlightWork(t *testing.T) {
	probe := &probeTool{delay: 80 * time.Millisecond}
	agent, err := NewToolAgent(Config{Name: "busy"}, newAgentExecutor(t, probe), nil)
	require.NoError(t, err)
	activeAgent(t, agent.BaseAgent)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = agent.ExecuteTask(context.Background(), execution.Task{
			TaskID: "t", Tool: "probe", Operation: "run", Parameters: map[string]any{"key": "v"},
		}, nil)
	}()

	require.Eventually(t, func() bool { return agent.State() == StateBusy }, time.Second, 5*time.Millisecond)
	<-done
	assert.Equal(t, StateActive, agent.State())
}
