package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/observability"
)

// TaskRunner executes one plan node and returns its payload.
type TaskRunner func(ctx context.Context, task execution.Task, execCtx *execution.Context) (any, error)

// ParallelEngine schedules an ExecutionPlan in dependency-ordered batches.
// Within a batch, tasks run concurrently under a semaphore; across batches
// the dependency ordering guarantee holds: for any a→b edge,
// a.CompletedAt ≤ b.StartedAt.
type ParallelEngine struct {
	maxConcurrent int

	mu        sync.Mutex
	resources map[string]*sync.Mutex
}

// NewParallelEngine creates an engine with the given concurrency width.
// Zero or negative widths fall back to 5.
func NewParallelEngine(maxConcurrent int) *ParallelEngine {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &ParallelEngine{
		maxConcurrent: maxConcurrent,
		resources:     make(map[string]*sync.Mutex),
	}
}

// ValidateExecutionPlan exposes plan validation: circular dependencies are
// errors, shared-resource conflicts are returned for reporting.
func (e *ParallelEngine) ValidateExecutionPlan(plan *ExecutionPlan) ([]string, error) {
	return plan.Validate()
}

// Execute runs the plan and streams results as tasks complete. Failed
// tasks do not stop independent branches; their transitive dependents are
// marked SKIPPED. A batch with no runnable task while work remains is a
// deadlock and fails the plan.
func (e *ParallelEngine) Execute(ctx context.Context, plan *ExecutionPlan, execCtx *execution.Context, run TaskRunner) (<-chan *execution.Result, error) {
	if run == nil {
		return nil, execution.NewError(execution.CodeValidation, "ParallelEngine", "Execute", "task runner cannot be nil", nil)
	}
	if _, err := plan.Validate(); err != nil {
		return nil, err
	}

	// One result per node at most, so a buffer of plan size makes sends
	// non-blocking and keeps cancellation results deliverable.
	results := make(chan *execution.Result, len(plan.Nodes)+1)
	go func() {
		defer close(results)
		e.executeBatches(ctx, plan, execCtx, run, results)
	}()
	return results, nil
}

func (e *ParallelEngine) executeBatches(ctx context.Context, plan *ExecutionPlan, execCtx *execution.Context, run TaskRunner, results chan<- *execution.Result) {
	for {
		remaining := plan.remaining()
		if len(remaining) == 0 {
			return
		}

		batch := plan.readyBatch()
		if len(batch) == 0 {
			// Validation rejects cycles, so this only happens if a
			// dependency finished non-COMPLETED without propagating
			// skips, which would be a scheduling bug.
			result := execution.NewResult(execCtx.ExecutionID, plan.PlanID)
			result.Fail(execution.CodePlanning,
				fmt.Sprintf("deadlock: no runnable task among %v", remaining))
			results <- result
			return
		}

		width := len(batch)
		if width > e.maxConcurrent {
			width = e.maxConcurrent
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(width)

		var mu sync.Mutex
		var failed []*TaskNode

		for _, node := range batch {
			node := node
			node.Status = execution.StatusRunning
			group.Go(func() error {
				result := e.runTask(groupCtx, node, execCtx, run)
				node.Result = result
				if result.Success {
					node.Status = execution.StatusCompleted
				} else {
					node.Status = result.Status
					mu.Lock()
					failed = append(failed, node)
					mu.Unlock()
				}
				results <- result
				return nil
			})
		}
		group.Wait()

		// Skip everything downstream of this batch's failures before
		// forming the next batch.
		sort.Slice(failed, func(i, j int) bool { return failed[i].ID < failed[j].ID })
		for _, node := range failed {
			for _, skipped := range plan.skipDependents(node.ID) {
				result := execution.NewResult(execCtx.ExecutionID, skipped.ID)
				result.Status = execution.StatusSkipped
				result.Message = fmt.Sprintf("skipped: dependency %s %s", node.ID, node.Status)
				result.CompletedAt = time.Now().UTC()
				skipped.Result = result
				results <- result
			}
		}

		if ctx.Err() != nil {
			for _, id := range plan.remaining() {
				node := plan.Nodes[id]
				node.Status = execution.StatusCancelled
				result := execution.NewResult(execCtx.ExecutionID, id)
				result.FailFromError(ctx.Err())
				node.Result = result
				results <- result
			}
			return
		}
	}
}

// runTask acquires the node's named resources in declaration order, runs
// the task, and releases in reverse. Deadlock avoidance across plans is the
// caller's responsibility; within one plan, declaration-order acquisition
// of sorted resource lists is safe.
func (e *ParallelEngine) runTask(ctx context.Context, node *TaskNode, execCtx *execution.Context, run TaskRunner) *execution.Result {
	node.StartedAt = time.Now().UTC()
	result := execution.NewResult(execCtx.ExecutionID, node.ID)
	result.StartedAt = node.StartedAt

	locks := e.acquireResources(node.Resources)
	defer releaseResources(locks)

	taskCtx := ctx
	if node.Task.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, node.Task.Timeout)
		defer cancel()
	}

	output, err := run(taskCtx, node.Task, execCtx)
	if err != nil {
		result.FailFromError(err)
		slog.Debug("Plan task failed", "task", node.ID, "status", result.Status, "error", err)
	} else {
		result.Complete(output)
	}
	node.CompletedAt = result.CompletedAt
	observability.GetGlobalMetrics().RecordWorkflowNode(ctx, "TASK", string(result.Status), result.Duration())
	return result
}

func (e *ParallelEngine) acquireResources(names []string) []*sync.Mutex {
	locks := make([]*sync.Mutex, 0, len(names))
	for _, name := range names {
		e.mu.Lock()
		lock, exists := e.resources[name]
		if !exists {
			lock = &sync.Mutex{}
			e.resources[name] = lock
		}
		e.mu.Unlock()
		lock.Lock()
		locks = append(locks, lock)
	}
	return locks
}

func releaseResources(locks []*sync.Mutex) {
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].Unlock()
	}
}

func emit(ctx context.Context, results chan<- *execution.Result, result *execution.Result) {
	select {
	case results <- result:
	case <-ctx.Done():
	}
}
