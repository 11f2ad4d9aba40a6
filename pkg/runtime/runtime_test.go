package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/agent"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/checkpoint"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/config"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/dsl"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/workflow"
)

func newRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
	return rt
}

func TestRuntimeDefaultAssembly(t *testing.T) {
	rt := newRuntime(t, nil)

	names := rt.Tools().Names()
	assert.Contains(t, names, "calculator")
	assert.Contains(t, names, "execute_command")
	assert.Contains(t, names, "todo_write")

	_, err := rt.LLMs().GetLLM("scripted")
	assert.NoError(t, err, "scripted provider installed by default")

	assert.NotNil(t, rt.Engine())
	assert.NotNil(t, rt.ContextEngine())
	assert.Nil(t, rt.Checkpointer(), "checkpointing disabled by default")
	assert.Equal(t, 0, rt.Agents().Count())
}

func TestRuntimeBuildsConfiguredAgents(t *testing.T) {
	cfg, err := config.Parse([]byte(`
agents:
  calculatorist:
    type: tool
  chatter:
    type: llm
  researcher:
    type: hybrid
    capabilities: [analysis]
    system_prompt: be thorough
`))
	require.NoError(t, err)

	provider := llms.NewScriptedProvider("m", llms.Turn{Text: "hello"})
	rt := newRuntime(t, cfg, WithProvider("scripted", provider))

	require.Equal(t, 3, rt.Agents().Count())
	for _, a := range rt.Agents().List() {
		assert.Equal(t, agent.StateActive, a.State(), "agents come up active")
	}

	researcher, err := rt.GetAgentByName("researcher")
	require.NoError(t, err)
	assert.Equal(t, []string{"analysis"}, researcher.Capabilities())

	_, err = rt.GetAgentByName("nobody")
	assert.Error(t, err)
}

func TestRuntimeAgentExecutesDirectTask(t *testing.T) {
	cfg, err := config.Parse([]byte("agents:\n  worker:\n    type: hybrid\n"))
	require.NoError(t, err)
	rt := newRuntime(t, cfg)

	worker, err := rt.GetAgentByName("worker")
	require.NoError(t, err)

	result, err := worker.ExecuteTask(context.Background(), execution.Task{
		TaskID: "t1", Tool: "calculator", Operation: "add",
		Parameters: map[string]any{"a": 19, "b": 23},
	}, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 42.0, result.Output.(map[string]any)["result"])
}

func TestRuntimeRunWorkflow(t *testing.T) {
	rt := newRuntime(t, nil)

	doc := []byte(`{"sequence": [
		{"task": "calculator", "parameters": {"operation": "add", "a": 1, "b": 2}},
		{"task": "calculator", "parameters": {"operation": "multiply", "a": 3, "b": 4}}
	]}`)

	results, err := rt.RunWorkflow(context.Background(), doc)
	require.NoError(t, err)

	var collected []*execution.Result
	for result := range results {
		collected = append(collected, result)
	}
	require.NotEmpty(t, collected)
	for _, result := range collected {
		assert.True(t, result.Success, "step %s failed: %s", result.StepID, result.ErrorMessage)
	}
}

func TestRuntimeRunWorkflowRejectsInvalidDoc(t *testing.T) {
	rt := newRuntime(t, nil)

	_, err := rt.RunWorkflow(context.Background(), []byte(`{"spawn": []}`))
	require.Error(t, err)

	var execErr *execution.Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, execution.CodeValidation, execErr.Code)
}

func TestRuntimeTaskHandlerOption(t *testing.T) {
	handler := func(ctx context.Context, task *dsl.TaskSpec, params map[string]any, execCtx *execution.Context) (any, error) {
		return "handled", nil
	}
	rt := newRuntime(t, nil, WithTaskHandler("custom", workflow.TaskHandler(handler)))

	results, err := rt.RunWorkflow(context.Background(), []byte(`{"task": "custom"}`))
	require.NoError(t, err)

	var last *execution.Result
	for result := range results {
		last = result
	}
	require.NotNil(t, last)
	require.True(t, last.Success)
	assert.Equal(t, "handled", last.Output)
}

func TestRuntimeSQLiteCheckpointer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.db")
	cfg := config.Default()
	cfg.Checkpoint.Enabled = true
	cfg.Checkpoint.Store = "sqlite"
	cfg.Checkpoint.Path = path

	rt := newRuntime(t, cfg)
	require.NotNil(t, rt.Checkpointer())
	_, ok := rt.Checkpointer().(*checkpoint.SQLiteStore)
	assert.True(t, ok)

	id, err := rt.Checkpointer().SaveCheckpoint(context.Background(), "a", "s", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestRuntimeShutdownTerminatesAgents(t *testing.T) {
	cfg, err := config.Parse([]byte("agents:\n  worker:\n    type: tool\n"))
	require.NoError(t, err)

	rt, err := New(context.Background(), cfg)
	require.NoError(t, err)

	worker, err := rt.GetAgentByName("worker")
	require.NoError(t, err)
	require.NoError(t, rt.Shutdown(context.Background()))
	assert.Equal(t, agent.StateTerminated, worker.State())
}
