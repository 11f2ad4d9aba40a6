package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
)

// stubAgent is a canned peer for registry and collaboration tests.
type stubAgent struct {
	id   string
	name string
	caps []string
	fn   func(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error)
}

func (s *stubAgent) ID() string             { return s.id }
func (s *stubAgent) Name() string           { return s.name }
func (s *stubAgent) State() State           { return StateActive }
func (s *stubAgent) Capabilities() []string { return s.caps }

func (s *stubAgent) ExecuteTask(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
	if s.fn != nil {
		return s.fn(ctx, task, execCtx)
	}
	result := execution.NewResult("stub", task.TaskID)
	return result.Complete(s.name + " done"), nil
}

func succeedingStub(id, name string, caps ...string) *stubAgent {
	return &stubAgent{id: id, name: name, caps: caps}
}

func failingStub(id, name string) *stubAgent {
	return &stubAgent{id: id, name: name, fn: func(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
		result := execution.NewResult("stub", task.TaskID)
		result.Fail(execution.CodeExecution, name+" refused")
		return result, nil
	}}
}

func newCollaborator(t *testing.T, peers *AgentRegistry) *HybridAgent {
	t.Helper()
	agent, err := NewHybridAgent(Config{Name: "lead"},
		newAgentExecutor(t, nil), llms.NewScriptedProvider("m"), WithPeers(peers))
	require.NoError(t, err)
	activeAgent(t, agent.BaseAgent)
	return agent
}

func TestAgentRegistryFindCapableAgents(t *testing.T) {
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("1", "zoe", "analysis", "review")))
	require.NoError(t, peers.RegisterAgent(succeedingStub("2", "amy", "analysis")))
	require.NoError(t, peers.RegisterAgent(succeedingStub("3", "bob", "search")))

	capable := peers.FindCapableAgents("analysis")
	require.Len(t, capable, 2)
	assert.Equal(t, "amy", capable[0].Name(), "sorted by name")
	assert.Equal(t, "zoe", capable[1].Name())

	assert.Len(t, peers.FindCapableAgents("analysis", "review"), 1)
	assert.Empty(t, peers.FindCapableAgents("piloting"))
	assert.Len(t, peers.FindCapableAgents(), 3, "no filter matches everyone")
}

func TestAgentRegistryRejectsDuplicates(t *testing.T) {
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("1", "amy")))
	assert.Error(t, peers.RegisterAgent(succeedingStub("1", "amy-again")))
}

func TestDelegateTask(t *testing.T) {
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("p1", "worker")))
	lead := newCollaborator(t, peers)

	result, err := lead.DelegateTask(context.Background(), execution.NewTask("do it"), "p1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "worker done", result.Output)

	_, err = lead.DelegateTask(context.Background(), execution.NewTask("do it"), "nobody")
	assert.Error(t, err)
}

func TestDelegateTaskWithoutRegistry(t *testing.T) {
	lead := newCollaborator(t, nil)
	_, err := lead.DelegateTask(context.Background(), execution.NewTask("do it"), "p1")
	require.Error(t, err)

	var execErr *execution.Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, execution.CodeValidation, execErr.Code)
}

func TestCollaborateParallelAllSucceed(t *testing.T) {
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("1", "amy")))
	require.NoError(t, peers.RegisterAgent(succeedingStub("2", "bob")))
	lead := newCollaborator(t, peers)

	result, err := lead.CollaborateOnTask(context.Background(), execution.NewTask("fan out"), []string{"1", "2"}, StrategyParallel)
	require.NoError(t, err)
	require.True(t, result.Success)

	payload := result.Output.(map[string]any)
	outputs := payload["outputs"].(map[string]any)
	assert.Equal(t, "amy done", outputs["1"])
	assert.Equal(t, "bob done", outputs["2"])
}

func TestCollaborateParallelOneFailureFailsAll(t *testing.T) {
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("1", "amy")))
	require.NoError(t, peers.RegisterAgent(failingStub("2", "bob")))
	lead := newCollaborator(t, peers)

	result, err := lead.CollaborateOnTask(context.Background(), execution.NewTask("fan out"), []string{"1", "2"}, StrategyParallel)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestCollaborateConsensusMajorityWins(t *testing.T) {
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("1", "amy")))
	require.NoError(t, peers.RegisterAgent(succeedingStub("2", "bob")))
	require.NoError(t, peers.RegisterAgent(failingStub("3", "cal")))
	lead := newCollaborator(t, peers)

	result, err := lead.CollaborateOnTask(context.Background(), execution.NewTask("vote"), []string{"1", "2", "3"}, StrategyConsensus)
	require.NoError(t, err)
	assert.True(t, result.Success, "two of three is a majority")

	// Flip the majority.
	require.NoError(t, peers.RegisterAgent(failingStub("4", "dee")))
	result, err = lead.CollaborateOnTask(context.Background(), execution.NewTask("vote"), []string{"1", "3", "4"}, StrategyConsensus)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

// Sequential stages see the previous stage's output in shared context.
func TestCollaborateSequentialPipesOutput(t *testing.T) {
	var secondSaw any
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(&stubAgent{id: "1", name: "first", fn: func(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
		return execution.NewResult("stub", task.TaskID).Complete("stage zero output"), nil
	}}))
	require.NoError(t, peers.RegisterAgent(&stubAgent{id: "2", name: "second", fn: func(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
		secondSaw, _ = execCtx.GetShared("task_0_result")
		return execution.NewResult("stub", task.TaskID).Complete(fmt.Sprintf("refined: %v", secondSaw)), nil
	}}))
	lead := newCollaborator(t, peers)

	result, err := lead.CollaborateOnTask(context.Background(), execution.NewTask("pipeline"), []string{"1", "2"}, StrategySequential)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "stage zero output", secondSaw)

	payload := result.Output.(map[string]any)
	assert.Equal(t, 2, payload["stages"])
	assert.Equal(t, "refined: stage zero output", payload["output"])
}

func TestCollaborateSequentialStopsAtFailedStage(t *testing.T) {
	thirdRan := false
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("1", "amy")))
	require.NoError(t, peers.RegisterAgent(failingStub("2", "bob")))
	require.NoError(t, peers.RegisterAgent(&stubAgent{id: "3", name: "cal", fn: func(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
		thirdRan = true
		return execution.NewResult("stub", task.TaskID).Complete("unreachable"), nil
	}}))
	lead := newCollaborator(t, peers)

	result, err := lead.CollaborateOnTask(context.Background(), execution.NewTask("pipeline"), []string{"1", "2", "3"}, StrategySequential)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.False(t, thirdRan, "stages after a failure do not run")
}

func TestCollaborateRejectsUnknownStrategy(t *testing.T) {
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(succeedingStub("1", "amy")))
	lead := newCollaborator(t, peers)

	_, err := lead.CollaborateOnTask(context.Background(), execution.NewTask("x"), []string{"1"}, "tournament")
	assert.Error(t, err)

	_, err = lead.CollaborateOnTask(context.Background(), execution.NewTask("x"), nil, StrategyParallel)
	assert.Error(t, err, "empty collaborator list is invalid")
}

func TestRequestPeerReview(t *testing.T) {
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(&stubAgent{id: "r1", name: "reviewer", fn: func(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
		assert.Equal(t, "review", task.Type)
		return execution.NewResult("stub", task.TaskID).Complete("looks good"), nil
	}}))
	lead := newCollaborator(t, peers)

	origin := execution.NewResult("e", "t").Complete("the work")
	review, err := lead.RequestPeerReview(context.Background(), execution.NewTask("the task"), origin, "r1")
	require.NoError(t, err)
	assert.True(t, review.Approved)
	assert.Equal(t, "r1", review.ReviewerID)
	assert.Contains(t, review.Feedback, "looks good")
}

func TestRequestPeerReviewRejection(t *testing.T) {
	peers := NewAgentRegistry()
	require.NoError(t, peers.RegisterAgent(failingStub("r1", "harsh")))
	lead := newCollaborator(t, peers)

	origin := execution.NewResult("e", "t").Complete("the work")
	review, err := lead.RequestPeerReview(context.Background(), execution.NewTask("the task"), origin, "r1")
	require.NoError(t, err)
	assert.False(t, review.Approved)
}
