package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
)

func newRecoveryAgent(t *testing.T, provider llms.LLMProvider, opts ...HybridOption) *HybridAgent {
	t.Helper()
	agent, err := NewHybridAgent(Config{Name: "recoverer"}, newAgentExecutor(t, nil), provider, opts...)
	require.NoError(t, err)
	activeAgent(t, agent.BaseAgent)
	return agent
}

// Every strategy fails: the error is RECOVERY_EXHAUSTED and carries one
// cause per attempt, the initial execution included.
func TestRecoveryExhaustion(t *testing.T) {
	provider := llms.NewScriptedProvider("m", llms.Turn{Err: errors.New("model offline")})
	agent := newRecoveryAgent(t, provider)

	// A single-clause description cannot be simplified, no fallback is
	// configured, and there are no peers to delegate to.
	task := execution.NewTask("irrecoverable")
	result, err := agent.ExecuteWithRecovery(context.Background(), task, nil,
		[]RecoveryStrategy{RecoverySimplify, RecoveryFallback, RecoveryDelegate})
	require.Error(t, err)

	var execErr *execution.Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, execution.CodeRecoveryExhausted, execErr.Code)

	require.Len(t, execErr.Causes, 4, "initial execution plus three strategies")
	assert.Equal(t, "execute", execErr.Causes[0].Strategy)
	assert.Equal(t, "SIMPLIFY", execErr.Causes[1].Strategy)
	assert.Equal(t, "FALLBACK", execErr.Causes[2].Strategy)
	assert.Equal(t, "DELEGATE", execErr.Causes[3].Strategy)
	for _, cause := range execErr.Causes {
		assert.NotEmpty(t, cause.Error)
	}

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, execution.CodeRecoveryExhausted, result.ErrorCode)
	assert.Len(t, result.Causes, 4)

	assert.Equal(t, 1, provider.CallCount(), "failed strategies made no extra LLM calls")
}

func TestRecoveryNotNeededOnSuccess(t *testing.T) {
	provider := llms.NewScriptedProvider("m", llms.Turn{Text: "fine"})
	agent := newRecoveryAgent(t, provider)

	result, err := agent.ExecuteWithRecovery(context.Background(), execution.NewTask("easy"), nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Message, "no recovery annotation on a clean run")
	assert.Equal(t, 1, provider.CallCount())
}

// A retryable failure (LLM error) recovers through backoff retries.
func TestRecoveryByRetry(t *testing.T) {
	provider := llms.NewScriptedProvider("m",
		llms.Turn{Err: errors.New("transient")},
		llms.Turn{Err: errors.New("still transient")},
		llms.Turn{Text: "third time lucky"},
	)
	agent := newRecoveryAgent(t, provider)

	task := execution.NewTask("flaky work")
	task.MaxRetries = 3
	result, err := agent.ExecuteWithRecovery(context.Background(), task, nil,
		[]RecoveryStrategy{RecoveryRetry})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "recovered via RETRY", result.Message)
	assert.Equal(t, 3, provider.CallCount(), "initial call plus two retries")
}

func TestRecoveryRetrySkipsNonRetryableFailures(t *testing.T) {
	// No provider: the loop path fails with VALIDATION_ERROR, which RETRY
	// must not touch.
	agent := newRecoveryAgent(t, nil)

	_, err := agent.ExecuteWithRecovery(context.Background(), execution.NewTask("unrunnable"), nil,
		[]RecoveryStrategy{RecoveryRetry})
	require.Error(t, err)

	var execErr *execution.Error
	require.True(t, errors.As(err, &execErr))
	require.Len(t, execErr.Causes, 2)
	assert.Contains(t, execErr.Causes[1].Error, "not retryable")
}

// SIMPLIFY cuts the description at the first sentence boundary and retries.
func TestRecoveryBySimplify(t *testing.T) {
	provider := llms.NewScriptedProvider("m",
		llms.Turn{Err: errors.New("too much to do")},
		llms.Turn{Text: "did the essential part"},
	)
	agent := newRecoveryAgent(t, provider)

	result, err := agent.ExecuteWithRecovery(context.Background(),
		execution.NewTask("Summarize the report. Also translate it and add charts."), nil,
		[]RecoveryStrategy{RecoverySimplify})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "recovered via SIMPLIFY", result.Message)

	requests := provider.Requests()
	require.Len(t, requests, 2)
	retried := requests[1][len(requests[1])-1]
	assert.Equal(t, "Summarize the report.", retried.Content)
}

func TestRecoveryByFallback(t *testing.T) {
	provider := llms.NewScriptedProvider("m", llms.Turn{Err: errors.New("primary path down")})
	fallback := func(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
		return execution.NewResult("fb", task.TaskID).Complete("served from fallback"), nil
	}
	agent := newRecoveryAgent(t, provider, WithFallback(fallback))

	result, err := agent.ExecuteWithRecovery(context.Background(), execution.NewTask("risky"), nil,
		[]RecoveryStrategy{RecoveryFallback})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "recovered via FALLBACK", result.Message)
	assert.Equal(t, "served from fallback", result.Output)
}

func TestRecoveryByDelegate(t *testing.T) {
	provider := llms.NewScriptedProvider("m", llms.Turn{Err: errors.New("out of depth")})
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("p1", "specialist", "analysis")))
	agent := newRecoveryAgent(t, provider, WithPeers(peers))

	task := execution.NewTask("analyze the incident")
	task.Type = "analysis"
	result, err := agent.ExecuteWithRecovery(context.Background(), task, nil,
		[]RecoveryStrategy{RecoveryDelegate})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "recovered via DELEGATE", result.Message)
	assert.Equal(t, "specialist done", result.Output)
}

func TestRecoveryDelegateNeedsCapablePeer(t *testing.T) {
	provider := llms.NewScriptedProvider("m", llms.Turn{Err: errors.New("stuck")})
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("p1", "searcher", "search")))
	agent := newRecoveryAgent(t, provider, WithPeers(peers))

	task := execution.NewTask("analyze")
	task.Type = "analysis"
	_, err := agent.ExecuteWithRecovery(context.Background(), task, nil,
		[]RecoveryStrategy{RecoveryDelegate})
	require.Error(t, err)

	var execErr *execution.Error
	require.True(t, errors.As(err, &execErr))
	assert.Contains(t, execErr.Causes[1].Error, "no capable peer")
}

func TestSimplifyTask(t *testing.T) {
	original := execution.NewTask("First clause. Second clause; third clause.")
	original.Parameters = map[string]any{
		"required_input":  "keep",
		"optional_polish": "drop",
	}

	simplified, changed := simplifyTask(original)
	require.True(t, changed)
	assert.Equal(t, "First clause.", simplified.Description)
	assert.Contains(t, simplified.Parameters, "required_input")
	assert.NotContains(t, simplified.Parameters, "optional_polish")

	_, changed = simplifyTask(execution.NewTask("atomic"))
	assert.False(t, changed)
}
