// Package agent implements the agent execution core: lifecycle and hooks
// (BaseAgent), direct and LLM-assisted tool dispatch (ToolAgent), streaming
// conversation management (LLMAgent), and the hybrid reasoning loop that
// combines them with collaboration, recovery, learning, and resource
// governance (HybridAgent).
package agent

import (
	"context"
	"fmt"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/tools"
)

// ============================================================================
// STATE MACHINE
// ============================================================================

// State is the lifecycle state of an agent.
type State string

const (
	StateCreated      State = "CREATED"
	StateInitializing State = "INITIALIZING"
	StateActive       State = "ACTIVE"
	StateBusy         State = "BUSY"
	StatePaused       State = "PAUSED"
	StateShuttingDown State = "SHUTTING_DOWN"
	StateTerminated   State = "TERMINATED"
)

// transitions lists the allowed state edges. PAUSED is a side branch off
// ACTIVE/BUSY; only ACTIVE accepts new tasks.
var transitions = map[State][]State{
	StateCreated:      {StateInitializing},
	StateInitializing: {StateActive, StateTerminated},
	StateActive:       {StateBusy, StatePaused, StateShuttingDown},
	StateBusy:         {StateActive, StatePaused, StateShuttingDown},
	StatePaused:       {StateActive, StateBusy, StateShuttingDown},
	StateShuttingDown: {StateTerminated},
	StateTerminated:   {},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ============================================================================
// AGENT CAPABILITY
// ============================================================================

// Agent is the capability surface peers see through the agent registry.
type Agent interface {
	ID() string
	Name() string
	State() State
	Capabilities() []string
	ExecuteTask(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error)
}

// ============================================================================
// STREAM EVENTS
// ============================================================================

// Stream event types, emitted in causal order: a tool_calls event precedes
// the tool_call/tool_result events it gives rise to.
const (
	EventStatus     = "status"
	EventToken      = "token"
	EventToolCalls  = "tool_calls"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventResult     = "result"
)

// StreamEvent is one structured unit of a streaming agent execution.
type StreamEvent struct {
	Type        string             `json:"type"`
	Text        string             `json:"text,omitempty"`
	ToolCalls   []llms.ToolCall    `json:"tool_calls,omitempty"`
	ToolCall    *llms.ToolCall     `json:"tool_call,omitempty"`
	Observation *tools.Observation `json:"observation,omitempty"`
	Result      *execution.Result  `json:"result,omitempty"`
	Err         error              `json:"-"`
}

// ============================================================================
// CONFIG
// ============================================================================

// Config carries the per-agent tunables shared by all agent kinds.
type Config struct {
	Name         string
	Description  string
	Capabilities []string

	// LLM generation settings.
	Model       string
	Temperature float64
	MaxTokens   int

	// MaxIterations bounds the reasoning loop of the hybrid agent.
	MaxIterations int

	// MaxParallelTools caps concurrent tool execution within one turn.
	MaxParallelTools int

	Limits ResourceLimits

	// LearningEnabled turns on experience recording and recommendation.
	LearningEnabled bool
}

// SetDefaults fills zero values with the documented defaults.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "agent"
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.MaxParallelTools <= 0 {
		c.MaxParallelTools = 5
	}
	c.Limits.SetDefaults()
}

// TaskOutput is the structured payload a hybrid turn produces.
type TaskOutput struct {
	Success        bool                 `json:"success"`
	Output         string               `json:"output,omitempty"`
	ToolUsed       string               `json:"tool_used,omitempty"`
	ToolCallsCount int                  `json:"tool_calls_count"`
	ToolResults    []tools.ToolResult   `json:"tool_results,omitempty"`
	Observations   []*tools.Observation `json:"observations,omitempty"`
}

func invalidTransitionError(agent string, from, to State) error {
	return execution.NewError(execution.CodeValidation, "Agent", "transition",
		fmt.Sprintf("agent %s cannot transition %s -> %s", agent, from, to), nil)
}
