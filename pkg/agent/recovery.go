package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

// RecoveryStrategy is one step of a recovery chain.
type RecoveryStrategy string

const (
	RecoveryRetry    RecoveryStrategy = "RETRY"
	RecoverySimplify RecoveryStrategy = "SIMPLIFY"
	RecoveryFallback RecoveryStrategy = "FALLBACK"
	RecoveryDelegate RecoveryStrategy = "DELEGATE"
)

// DefaultRecoveryChain is the strategy order used when none is given.
var DefaultRecoveryChain = []RecoveryStrategy{
	RecoveryRetry, RecoverySimplify, RecoveryFallback, RecoveryDelegate,
}

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// ExecuteWithRecovery runs a task and, on failure, walks the recovery
// chain in order. The first strategy that produces a successful result
// wins and is recorded on the result message. When every strategy fails
// the error is RECOVERY_EXHAUSTED carrying one cause per attempt,
// including the initial execution.
func (a *HybridAgent) ExecuteWithRecovery(ctx context.Context, task execution.Task, execCtx *execution.Context, strategies []RecoveryStrategy) (*execution.Result, error) {
	if len(strategies) == 0 {
		strategies = DefaultRecoveryChain
	}
	if execCtx == nil {
		execCtx = execution.NewContext(nil)
	}

	result, err := a.ExecuteTask(ctx, task, execCtx)
	if err == nil && result.Success {
		return result, nil
	}
	causes := []execution.Cause{{Strategy: "execute", Error: failureText(result, err)}}

	for _, strategy := range strategies {
		if ctx.Err() != nil {
			break
		}
		slog.Debug("Attempting recovery", "agent", a.Name(), "task", task.TaskID, "strategy", strategy)

		recovered, attemptErr := a.applyStrategy(ctx, strategy, task, execCtx, result, err)
		if attemptErr == nil && recovered != nil && recovered.Success {
			recovered.Message = fmt.Sprintf("recovered via %s", strategy)
			return recovered, nil
		}
		causes = append(causes, execution.Cause{
			Strategy: string(strategy),
			Error:    failureText(recovered, attemptErr),
		})
		if recovered != nil {
			result, err = recovered, attemptErr
		}
	}

	exhausted := &execution.Error{
		Code:      execution.CodeRecoveryExhausted,
		Component: "HybridAgent",
		Action:    "ExecuteWithRecovery",
		Message:   "all recovery strategies failed",
		Causes:    causes,
	}
	final := execution.NewResult(execCtx.ExecutionID, task.TaskID)
	final.FailFromError(exhausted)
	return final, exhausted
}

func (a *HybridAgent) applyStrategy(ctx context.Context, strategy RecoveryStrategy, task execution.Task, execCtx *execution.Context, lastResult *execution.Result, lastErr error) (*execution.Result, error) {
	switch strategy {
	case RecoveryRetry:
		return a.recoverByRetry(ctx, task, execCtx, lastResult, lastErr)
	case RecoverySimplify:
		return a.recoverBySimplify(ctx, task, execCtx)
	case RecoveryFallback:
		if a.fallback == nil {
			return nil, execution.NewError(execution.CodeExecution, "HybridAgent", "recovery",
				"no fallback configured", nil)
		}
		return a.fallback(ctx, task, execCtx)
	case RecoveryDelegate:
		return a.recoverByDelegate(ctx, task)
	default:
		return nil, execution.NewError(execution.CodeValidation, "HybridAgent", "recovery",
			fmt.Sprintf("unknown recovery strategy %q", strategy), nil)
	}
}

// recoverByRetry re-runs retryable failures with exponential backoff and
// jitter, up to the task's MaxRetries (default 3).
func (a *HybridAgent) recoverByRetry(ctx context.Context, task execution.Task, execCtx *execution.Context, lastResult *execution.Result, lastErr error) (*execution.Result, error) {
	if !retryableFailure(lastResult, lastErr) {
		return nil, execution.NewError(execution.CodeExecution, "HybridAgent", "recovery",
			"failure is not retryable", nil)
	}

	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var result *execution.Result
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		delay := retryBaseDelay << attempt
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		delay += time.Duration(rand.Int63n(int64(delay) / 2))

		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-time.After(delay):
		}

		result, err = a.ExecuteTask(ctx, task, execCtx)
		if err == nil && result.Success {
			return result, nil
		}
		if !retryableFailure(result, err) {
			break
		}
	}
	if err == nil && result != nil {
		err = execution.NewError(result.ErrorCode, "HybridAgent", "recovery", result.ErrorMessage, nil)
	}
	return result, err
}

// recoverBySimplify retries once with a simplified task. An unchanged task
// means nothing could be dropped and the strategy fails without executing.
func (a *HybridAgent) recoverBySimplify(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
	simplified, changed := simplifyTask(task)
	if !changed {
		return nil, execution.NewError(execution.CodeExecution, "HybridAgent", "recovery",
			"task could not be simplified", nil)
	}
	return a.ExecuteTask(ctx, simplified, execCtx)
}

// recoverByDelegate hands the task to the first capable peer.
func (a *HybridAgent) recoverByDelegate(ctx context.Context, task execution.Task) (*execution.Result, error) {
	var candidates []Agent
	if task.Type != "" {
		candidates = a.FindCapableAgents(task.Type)
	} else {
		candidates = a.FindCapableAgents()
	}
	for _, peer := range candidates {
		if peer.ID() == a.ID() {
			continue
		}
		return a.DelegateTask(ctx, task, peer.ID())
	}
	return nil, execution.NewError(execution.CodeExecution, "HybridAgent", "recovery",
		"no capable peer available for delegation", nil)
}

// simplifyTask drops optional requirements: the description is cut at the
// first sentence and advisory parameters (optional_* keys) are removed.
func simplifyTask(task execution.Task) (execution.Task, bool) {
	simplified := task
	changed := false

	if idx := strings.IndexAny(task.Description, ".;"); idx >= 0 && idx < len(task.Description)-1 {
		simplified.Description = strings.TrimSpace(task.Description[:idx+1])
		changed = true
	}

	if len(task.Parameters) > 0 {
		params := make(map[string]any, len(task.Parameters))
		for k, v := range task.Parameters {
			if strings.HasPrefix(k, "optional_") {
				changed = true
				continue
			}
			params[k] = v
		}
		simplified.Parameters = params
	}
	return simplified, changed
}

func retryableFailure(result *execution.Result, err error) bool {
	if err != nil && execution.IsRetryable(err) {
		return true
	}
	if result == nil {
		return false
	}
	switch result.ErrorCode {
	case execution.CodeTimeout, execution.CodeLLM, execution.CodeResourceExhausted:
		return true
	}
	return false
}

func failureText(result *execution.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.ErrorMessage != "" {
		return result.ErrorMessage
	}
	if result != nil {
		return fmt.Sprintf("failed with code %s", result.ErrorCode)
	}
	return "unknown failure"
}
