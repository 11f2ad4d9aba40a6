package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

// ============================================================================
// HOOKS
// ============================================================================

// HookPoint names a point in the execution lifecycle where hooks run.
type HookPoint string

const (
	HookPreExecution  HookPoint = "pre_execution"
	HookPostExecution HookPoint = "post_execution"
	HookOnError       HookPoint = "on_error"
)

// Hook observes one execution. Hooks run sequentially; a hook error is
// logged with HOOK_ERROR and never aborts the primary execution.
type Hook func(ctx context.Context, task execution.Task, result *execution.Result) error

// ============================================================================
// BASE AGENT
// ============================================================================

// executionRecord tracks one in-flight execution for cancellation.
type executionRecord struct {
	ExecutionID string
	Task        execution.Task
	StartedAt   time.Time
	cancel      context.CancelCauseFunc
}

// BaseAgent owns the lifecycle state machine, hooks, the in-flight
// execution registry, and resource governance. Concrete agents embed it.
type BaseAgent struct {
	id  string
	cfg Config

	mu         sync.RWMutex
	state      State
	hooks      map[HookPoint][]Hook
	executions map[string]*executionRecord

	governor *Governor
}

// NewBaseAgent creates an agent in CREATED state.
func NewBaseAgent(cfg Config) *BaseAgent {
	cfg.SetDefaults()
	return &BaseAgent{
		id:         uuid.NewString(),
		cfg:        cfg,
		state:      StateCreated,
		hooks:      make(map[HookPoint][]Hook),
		executions: make(map[string]*executionRecord),
		governor:   NewGovernor(cfg.Limits),
	}
}

func (a *BaseAgent) ID() string   { return a.id }
func (a *BaseAgent) Name() string { return a.cfg.Name }

// Capabilities returns the agent's declared capability set.
func (a *BaseAgent) Capabilities() []string {
	return append([]string(nil), a.cfg.Capabilities...)
}

// Config returns the agent configuration.
func (a *BaseAgent) Config() Config { return a.cfg }

// Governor returns the agent's resource governor.
func (a *BaseAgent) Governor() *Governor { return a.governor }

// State returns the current lifecycle state.
func (a *BaseAgent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *BaseAgent) setState(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == to {
		return nil
	}
	if !canTransition(a.state, to) {
		return invalidTransitionError(a.cfg.Name, a.state, to)
	}
	slog.Debug("Agent state transition", "agent", a.cfg.Name, "from", a.state, "to", to)
	a.state = to
	return nil
}

// Initialize moves the agent CREATED -> INITIALIZING -> ACTIVE.
func (a *BaseAgent) Initialize(ctx context.Context) error {
	if err := a.setState(StateInitializing); err != nil {
		return err
	}
	return a.setState(StateActive)
}

// Shutdown cancels all in-flight executions and terminates the agent.
func (a *BaseAgent) Shutdown(ctx context.Context) error {
	if err := a.setState(StateShuttingDown); err != nil {
		return err
	}
	a.mu.Lock()
	for _, record := range a.executions {
		record.cancel(execution.NewError(execution.CodeCancelled, "BaseAgent", "Shutdown", "agent shutting down", nil))
	}
	a.mu.Unlock()
	return a.setState(StateTerminated)
}

// Pause stops accepting new tasks. In-flight work keeps running; long
// operations observe the pause only through explicit cancellation.
func (a *BaseAgent) Pause() error {
	return a.setState(StatePaused)
}

// Resume re-enables task acceptance after a pause.
func (a *BaseAgent) Resume() error {
	a.mu.RLock()
	busy := len(a.executions) > 0
	a.mu.RUnlock()
	if busy {
		return a.setState(StateBusy)
	}
	return a.setState(StateActive)
}

// CancelExecution cancels one in-flight execution cooperatively. The
// running operation completes with a CANCELLED result at its next
// suspension point.
func (a *BaseAgent) CancelExecution(executionID, reason string) error {
	a.mu.RLock()
	record, exists := a.executions[executionID]
	a.mu.RUnlock()
	if !exists {
		return execution.NewError(execution.CodeValidation, "BaseAgent", "CancelExecution",
			fmt.Sprintf("no execution %s in flight", executionID), nil)
	}
	if reason == "" {
		reason = "cancelled by caller"
	}
	record.cancel(execution.NewError(execution.CodeCancelled, "BaseAgent", "CancelExecution", reason, nil))
	return nil
}

// ActiveExecutions returns the ids of in-flight executions.
func (a *BaseAgent) ActiveExecutions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.executions))
	for id := range a.executions {
		ids = append(ids, id)
	}
	return ids
}

// RegisterHook appends a hook at a lifecycle point.
func (a *BaseAgent) RegisterHook(point HookPoint, hook Hook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks[point] = append(a.hooks[point], hook)
}

// runHooks executes the hooks of a point sequentially. Failures are logged
// as HOOK_ERROR and swallowed.
func (a *BaseAgent) runHooks(ctx context.Context, point HookPoint, task execution.Task, result *execution.Result) {
	a.mu.RLock()
	hooks := append([]Hook(nil), a.hooks[point]...)
	a.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, task, result); err != nil {
			hookErr := execution.NewError(execution.CodeHook, "BaseAgent", string(point), "hook failed", err)
			slog.Warn("Hook failed", "agent", a.cfg.Name, "point", point, "error", hookErr)
		}
	}
}

// beginExecution gates a new task on agent state and resource limits,
// registers it for cancellation, and returns a derived context plus a
// finish callback. Tasks are accepted in ACTIVE and BUSY states only.
func (a *BaseAgent) beginExecution(ctx context.Context, execCtx *execution.Context, task execution.Task) (context.Context, func(), error) {
	state := a.State()
	if state != StateActive && state != StateBusy {
		return nil, nil, execution.NewError(execution.CodeValidation, "BaseAgent", "beginExecution",
			fmt.Sprintf("agent %s is %s and does not accept tasks", a.cfg.Name, state), nil)
	}

	if avail := a.governor.CheckResourceAvailability(); !avail.Available {
		return nil, nil, execution.NewError(execution.CodeResourceExhausted, "BaseAgent", "beginExecution",
			fmt.Sprintf("resources unavailable: %v", avail.Reasons), nil)
	}

	taskCtx, cancel := context.WithCancelCause(ctx)
	record := &executionRecord{
		ExecutionID: execCtx.ExecutionID,
		Task:        task,
		StartedAt:   time.Now().UTC(),
		cancel:      cancel,
	}

	a.mu.Lock()
	a.executions[execCtx.ExecutionID] = record
	a.mu.Unlock()
	a.governor.TaskStarted()
	if a.State() == StateActive {
		// Best effort: a concurrent pause or shutdown wins.
		_ = a.setState(StateBusy)
	}

	finish := func() {
		cancel(nil)
		a.mu.Lock()
		delete(a.executions, execCtx.ExecutionID)
		idle := len(a.executions) == 0
		a.mu.Unlock()
		a.governor.TaskFinished()
		if idle && a.State() == StateBusy {
			_ = a.setState(StateActive)
		}
	}
	return taskCtx, finish, nil
}
