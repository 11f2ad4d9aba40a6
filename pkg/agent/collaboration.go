package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/registry"
)

// ============================================================================
// AGENT REGISTRY
// ============================================================================

// AgentRegistry holds peers by agent id. Agents reference each other only
// through ids in this registry, never directly.
type AgentRegistry struct {
	*registry.BaseRegistry[Agent]
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{BaseRegistry: registry.NewBaseRegistry[Agent]()}
}

// RegisterAgent registers an agent under its id.
func (r *AgentRegistry) RegisterAgent(agent Agent) error {
	if agent == nil {
		return execution.NewError(execution.CodeValidation, "AgentRegistry", "RegisterAgent", "agent cannot be nil", nil)
	}
	return r.Register(agent.ID(), agent)
}

// GetAgent retrieves an agent by id.
func (r *AgentRegistry) GetAgent(id string) (Agent, error) {
	agent, exists := r.Get(id)
	if !exists {
		return nil, execution.NewError(execution.CodeValidation, "AgentRegistry", "GetAgent",
			fmt.Sprintf("agent %s not registered", id), nil)
	}
	return agent, nil
}

// FindCapableAgents returns agents declaring every requested capability,
// sorted by name for deterministic selection.
func (r *AgentRegistry) FindCapableAgents(capabilities ...string) []Agent {
	var capable []Agent
	for _, agent := range r.List() {
		declared := map[string]bool{}
		for _, c := range agent.Capabilities() {
			declared[c] = true
		}
		ok := true
		for _, want := range capabilities {
			if !declared[want] {
				ok = false
				break
			}
		}
		if ok {
			capable = append(capable, agent)
		}
	}
	sort.Slice(capable, func(i, j int) bool { return capable[i].Name() < capable[j].Name() })
	return capable
}

// ============================================================================
// COLLABORATION
// ============================================================================

// Collaboration strategies.
const (
	StrategyParallel   = "parallel"
	StrategySequential = "sequential"
	StrategyConsensus  = "consensus"
)

// PeerReview is a peer's verdict on a result.
type PeerReview struct {
	Approved   bool   `json:"approved"`
	Feedback   string `json:"feedback"`
	ReviewerID string `json:"reviewer_id"`
}

func (a *HybridAgent) peer(id string) (Agent, error) {
	if a.peers == nil {
		return nil, execution.NewError(execution.CodeValidation, "HybridAgent", "peer",
			"no agent registry configured for collaboration", nil)
	}
	return a.peers.GetAgent(id)
}

// DelegateTask forwards a task to a registered peer.
func (a *HybridAgent) DelegateTask(ctx context.Context, task execution.Task, targetAgentID string) (*execution.Result, error) {
	target, err := a.peer(targetAgentID)
	if err != nil {
		return nil, err
	}
	return target.ExecuteTask(ctx, task, execution.NewContext(nil))
}

// FindCapableAgents filters the peer registry by capability set.
func (a *HybridAgent) FindCapableAgents(capabilities ...string) []Agent {
	if a.peers == nil {
		return nil
	}
	return a.peers.FindCapableAgents(capabilities...)
}

// RequestPeerReview asks a peer to review a result. The peer runs a review
// task whose success is the approval verdict.
func (a *HybridAgent) RequestPeerReview(ctx context.Context, task execution.Task, result *execution.Result, reviewerID string) (*PeerReview, error) {
	reviewer, err := a.peer(reviewerID)
	if err != nil {
		return nil, err
	}

	reviewTask := execution.NewTask(fmt.Sprintf(
		"Review the result of task %q. Output: %v", task.Description, result.Output))
	reviewTask.Type = "review"

	reviewResult, err := reviewer.ExecuteTask(ctx, reviewTask, execution.NewContext(nil))
	if err != nil {
		return nil, err
	}

	feedback := reviewResult.Message
	if feedback == "" {
		feedback = fmt.Sprintf("%v", reviewResult.Output)
	}
	return &PeerReview{
		Approved:   reviewResult.Success,
		Feedback:   feedback,
		ReviewerID: reviewerID,
	}, nil
}

// CollaborateOnTask fans a task out to collaborators. Parallel runs all at
// once; sequential pipes each peer's output into the next peer's context
// under task_<i>_result; consensus runs in parallel and succeeds when a
// majority of peers succeed.
func (a *HybridAgent) CollaborateOnTask(ctx context.Context, task execution.Task, collaborators []string, strategy string) (*execution.Result, error) {
	if len(collaborators) == 0 {
		return nil, execution.NewError(execution.CodeValidation, "HybridAgent", "CollaborateOnTask",
			"at least one collaborator is required", nil)
	}
	peers := make([]Agent, len(collaborators))
	for i, id := range collaborators {
		peer, err := a.peer(id)
		if err != nil {
			return nil, err
		}
		peers[i] = peer
	}

	switch strategy {
	case StrategyParallel:
		return a.collaborateParallel(ctx, task, collaborators, peers, false)
	case StrategyConsensus:
		return a.collaborateParallel(ctx, task, collaborators, peers, true)
	case StrategySequential:
		return a.collaborateSequential(ctx, task, collaborators, peers)
	default:
		return nil, execution.NewError(execution.CodeValidation, "HybridAgent", "CollaborateOnTask",
			fmt.Sprintf("unknown collaboration strategy %q", strategy), nil)
	}
}

func (a *HybridAgent) collaborateParallel(ctx context.Context, task execution.Task, ids []string, peers []Agent, consensus bool) (*execution.Result, error) {
	result := execution.NewResult(task.TaskID, "collaboration")

	var mu sync.Mutex
	outputs := make(map[string]any, len(peers))
	successes := 0

	group, groupCtx := errgroup.WithContext(ctx)
	for i, peer := range peers {
		i, peer := i, peer
		group.Go(func() error {
			peerResult, err := peer.ExecuteTask(groupCtx, task, execution.NewContext(nil))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outputs[ids[i]] = err.Error()
				return nil
			}
			outputs[ids[i]] = peerResult.Output
			if peerResult.Success {
				successes++
			}
			return nil
		})
	}
	group.Wait()

	payload := map[string]any{"strategy": StrategyParallel, "outputs": outputs, "successes": successes}
	if consensus {
		payload["strategy"] = StrategyConsensus
		if successes*2 > len(peers) {
			return result.Complete(payload), nil
		}
		result.Fail(execution.CodeExecution,
			fmt.Sprintf("consensus not reached: %d of %d peers succeeded", successes, len(peers)))
		result.Output = payload
		return result, nil
	}

	if successes == len(peers) {
		return result.Complete(payload), nil
	}
	result.Fail(execution.CodeExecution,
		fmt.Sprintf("%d of %d collaborators failed", len(peers)-successes, len(peers)))
	result.Output = payload
	return result, nil
}

func (a *HybridAgent) collaborateSequential(ctx context.Context, task execution.Task, ids []string, peers []Agent) (*execution.Result, error) {
	result := execution.NewResult(task.TaskID, "collaboration")
	execCtx := execution.NewContext(nil)

	var lastOutput any
	for i, peer := range peers {
		if i > 0 {
			execCtx.SetShared(fmt.Sprintf("task_%d_result", i-1), lastOutput)
		}
		peerResult, err := peer.ExecuteTask(ctx, task, execCtx)
		if err != nil {
			result.FailFromError(err)
			result.Message = fmt.Sprintf("collaborator %s failed at stage %d", ids[i], i)
			return result, nil
		}
		if !peerResult.Success {
			result.Fail(peerResult.ErrorCode,
				fmt.Sprintf("collaborator %s failed at stage %d: %s", ids[i], i, peerResult.ErrorMessage))
			return result, nil
		}
		lastOutput = peerResult.Output
	}

	return result.Complete(map[string]any{
		"strategy": StrategySequential,
		"stages":   len(peers),
		"output":   lastOutput,
	}), nil
}
