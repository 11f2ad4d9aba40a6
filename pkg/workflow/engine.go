package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/dsl"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/observability"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/tools"
)

// TaskHandler is an application-provided handler for a named task. When a
// task resolves to no handler, the engine falls back to a tool invocation
// under the same name.
type TaskHandler func(ctx context.Context, task *dsl.TaskSpec, params map[string]any, execCtx *execution.Context) (any, error)

// EngineConfig configures the DSL engine.
type EngineConfig struct {
	MaxParallelTasks     int
	MaxExecutionDuration time.Duration
	DefaultTaskTimeout   time.Duration
}

func (c *EngineConfig) setDefaults() {
	if c.MaxParallelTasks <= 0 {
		c.MaxParallelTasks = 10
	}
	if c.MaxExecutionDuration <= 0 {
		c.MaxExecutionDuration = time.Hour
	}
	if c.DefaultTaskTimeout <= 0 {
		c.DefaultTaskTimeout = 60 * time.Second
	}
}

// Engine drives validated DSL trees: tasks lower to handlers or tool
// invocations, composite nodes provide sequencing, parallelism, branching,
// loops, and waits.
type Engine struct {
	executor *tools.Executor
	cfg      EngineConfig

	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

// NewEngine creates an engine over a tool executor.
func NewEngine(executor *tools.Executor, cfg EngineConfig) *Engine {
	cfg.setDefaults()
	return &Engine{
		executor: executor,
		cfg:      cfg,
		handlers: make(map[string]TaskHandler),
	}
}

// RegisterHandler binds a task name to a handler.
func (e *Engine) RegisterHandler(name string, handler TaskHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = handler
}

func (e *Engine) handler(name string) (TaskHandler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[name]
	return h, ok
}

// WorkflowResult aggregates one engine run.
type WorkflowResult struct {
	Success  bool                `json:"success"`
	Results  []*execution.Result `json:"results"`
	Issues   []dsl.Issue         `json:"issues,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// runState carries the mutable state of one engine run.
type runState struct {
	execCtx *execution.Context

	mu          sync.Mutex
	nodeResults map[string]any // node_id → summary for ${result.*} and conditions
	subtasks    []string       // completed task names
}

func (s *runState) record(nodeID, taskName string, result *execution.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeResults[nodeID] = map[string]any{
		"success": result.Success,
		"status":  string(result.Status),
		"output":  result.Output,
	}
	if result.Success && taskName != "" {
		s.subtasks = append(s.subtasks, taskName)
	}
}

func (s *runState) env() dsl.Env {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make(map[string]any, len(s.nodeResults))
	for k, v := range s.nodeResults {
		results[k] = v
	}
	return dsl.Env{
		Results:  results,
		Context:  s.execCtx.Variables(),
		Subtasks: append([]string(nil), s.subtasks...),
	}
}

// validatorConfig derives catalogs from registered handlers and tools.
func (e *Engine) validatorConfig() dsl.ValidatorConfig {
	cfg := dsl.ValidatorConfig{
		MaxParallelTasks:     e.cfg.MaxParallelTasks,
		MaxExecutionDuration: e.cfg.MaxExecutionDuration.Seconds(),
	}
	if e.executor != nil {
		for _, info := range e.executor.Registry().ListTools() {
			cfg.ToolCatalog = append(cfg.ToolCatalog, info.Name)
		}
	}
	return cfg
}

// ExecuteDocument parses, validates, and executes a JSON workflow document,
// streaming one result per executed node.
func (e *Engine) ExecuteDocument(ctx context.Context, doc []byte, execCtx *execution.Context) (<-chan *execution.Result, error) {
	parsed := dsl.NewParser().ParseJSON(doc)
	if !parsed.Success {
		return nil, execution.NewError(execution.CodeValidation, "Engine", "ExecuteDocument",
			fmt.Sprintf("workflow parse failed: %s", strings.Join(parsed.Errors, "; ")), nil)
	}
	return e.Execute(ctx, parsed.Root, execCtx)
}

// Execute validates the tree and streams execution results. Validation
// failure surfaces a single FAILED result and stops.
func (e *Engine) Execute(ctx context.Context, root *dsl.Node, execCtx *execution.Context) (<-chan *execution.Result, error) {
	if execCtx == nil {
		execCtx = execution.NewContext(nil)
	}

	results := make(chan *execution.Result)

	validation := dsl.NewValidator(e.validatorConfig()).Validate(root)
	if !validation.IsValid {
		go func() {
			defer close(results)
			result := execution.NewResult(execCtx.ExecutionID, root.ID)
			result.Fail(execution.CodeValidation, validationSummary(validation))
			emit(ctx, results, result)
		}()
		return results, nil
	}

	state := &runState{
		execCtx:     execCtx,
		nodeResults: make(map[string]any),
	}

	go func() {
		defer close(results)
		e.executeNode(ctx, root, state, func(r *execution.Result) {
			emit(ctx, results, r)
		})
	}()
	return results, nil
}

// Run executes the tree and collects all results.
func (e *Engine) Run(ctx context.Context, root *dsl.Node, execCtx *execution.Context) (*WorkflowResult, error) {
	start := time.Now()
	stream, err := e.Execute(ctx, root, execCtx)
	if err != nil {
		return nil, err
	}

	out := &WorkflowResult{Success: true}
	for result := range stream {
		out.Results = append(out.Results, result)
		if !result.Success && result.Status != execution.StatusSkipped {
			out.Success = false
		}
	}
	out.Duration = time.Since(start)
	return out, nil
}

// executeNode runs one node, emitting results for every executed leaf and
// composite. The returned result summarizes the node for control flow.
func (e *Engine) executeNode(ctx context.Context, node *dsl.Node, state *runState, emitResult func(*execution.Result)) *execution.Result {
	if ctx.Err() != nil {
		result := execution.NewResult(state.execCtx.ExecutionID, node.ID)
		result.FailFromError(ctx.Err())
		state.record(node.ID, "", result)
		return result
	}

	start := time.Now()
	var result *execution.Result
	switch node.Type {
	case dsl.NodeTask:
		result = e.executeTask(ctx, node, state)
		emitResult(result)
	case dsl.NodeSequence:
		result = e.executeSequence(ctx, node, state, emitResult)
	case dsl.NodeParallel:
		result = e.executeParallel(ctx, node, state, emitResult)
	case dsl.NodeCondition:
		result = e.executeCondition(ctx, node, state, emitResult)
	case dsl.NodeLoop:
		result = e.executeLoop(ctx, node, state, emitResult)
	case dsl.NodeWait:
		result = e.executeWait(ctx, node, state)
		emitResult(result)
	default:
		result = execution.NewResult(state.execCtx.ExecutionID, node.ID)
		result.Fail(execution.CodeValidation, fmt.Sprintf("unknown node type %q", node.Type))
		emitResult(result)
	}

	observability.GetGlobalMetrics().RecordWorkflowNode(ctx, string(node.Type), string(result.Status), time.Since(start))
	return result
}

// ============================================================================
// TASK
// ============================================================================

func (e *Engine) executeTask(ctx context.Context, node *dsl.Node, state *runState) *execution.Result {
	spec := node.Task
	result := execution.NewResult(state.execCtx.ExecutionID, node.ID)

	params := e.resolveParameters(spec.Parameters, state)

	timeout := e.cfg.DefaultTaskTimeout
	if spec.Timeout > 0 {
		timeout = time.Duration(spec.Timeout * float64(time.Second))
	}

	attempts := spec.RetryCount + 1
	var output any
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		taskCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err = e.dispatchTask(taskCtx, spec, params, state.execCtx)
		cancel()
		if err == nil || !execution.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		slog.Debug("Retrying task", "task", spec.Name, "node", node.ID, "attempt", attempt+1, "error", err)
	}

	if err != nil {
		result.FailFromError(err)
	} else {
		result.Complete(output)
	}
	state.record(node.ID, spec.Name, result)
	return result
}

// dispatchTask resolves a task to a registered handler or a tool call.
func (e *Engine) dispatchTask(ctx context.Context, spec *dsl.TaskSpec, params map[string]any, execCtx *execution.Context) (any, error) {
	if handler, ok := e.handler(spec.Name); ok {
		return handler(ctx, spec, params, execCtx)
	}

	if e.executor == nil {
		return nil, execution.NewError(execution.CodeExecution, "Engine", "dispatchTask",
			fmt.Sprintf("no handler for task %q and no tool executor configured", spec.Name), nil)
	}

	operation := ""
	if op, ok := params["operation"].(string); ok {
		operation = op
		delete(params, "operation")
	}

	outcome, err := e.executor.Invoke(ctx, tools.InvokeRequest{
		Tool:      spec.Name,
		Operation: operation,
		Params:    params,
		TaskID:    execCtx.ExecutionID,
	})
	if err != nil {
		return nil, err
	}
	return outcome.Result.Output, nil
}

// templatePattern matches ${result.<id>.<path>} and ${context.<name>}.
var templatePattern = regexp.MustCompile(`\$\{(result|context)\.([^}]+)\}`)

// resolveParameters substitutes template references in string parameters.
// Unresolved references are left literal.
func (e *Engine) resolveParameters(params map[string]any, state *runState) map[string]any {
	resolved := make(map[string]any, len(params))
	env := state.env()
	for key, value := range params {
		s, ok := value.(string)
		if !ok {
			resolved[key] = value
			continue
		}

		// A parameter that is exactly one reference keeps its native type.
		if match := templatePattern.FindStringSubmatch(s); match != nil && match[0] == s {
			if v, ok := lookupTemplate(match[1], match[2], env); ok {
				resolved[key] = v
				continue
			}
		}

		resolved[key] = templatePattern.ReplaceAllStringFunc(s, func(ref string) string {
			match := templatePattern.FindStringSubmatch(ref)
			if v, ok := lookupTemplate(match[1], match[2], env); ok {
				return fmt.Sprintf("%v", v)
			}
			return ref
		})
	}
	return resolved
}

func lookupTemplate(namespace, path string, env dsl.Env) (any, bool) {
	parts := strings.Split(path, ".")
	var current any
	switch namespace {
	case "result":
		value, ok := env.Results[parts[0]]
		if !ok {
			return nil, false
		}
		current = value
		parts = parts[1:]
	case "context":
		value, ok := env.Context[parts[0]]
		if !ok {
			return nil, false
		}
		current = value
		parts = parts[1:]
	default:
		return nil, false
	}

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// ============================================================================
// SEQUENCE
// ============================================================================

func (e *Engine) executeSequence(ctx context.Context, node *dsl.Node, state *runState, emitResult func(*execution.Result)) *execution.Result {
	summary := execution.NewResult(state.execCtx.ExecutionID, node.ID)

	for i, child := range node.Children {
		result := e.executeNode(ctx, child, state, emitResult)
		state.execCtx.SetShared(fmt.Sprintf("sequence_step_%d", i), result)

		if !result.Success {
			if child.Task != nil && child.Task.ContinueOnFailure {
				slog.Debug("Sequence continuing past failed step", "node", child.ID, "step", i)
				continue
			}
			summary.Fail(result.ErrorCode, fmt.Sprintf("sequence stopped at step %d (%s)", i, child.ID))
			state.record(node.ID, "", summary)
			return summary
		}
	}

	// An empty sequence completes successfully with no results.
	summary.Complete(len(node.Children))
	state.record(node.ID, "", summary)
	return summary
}

// ============================================================================
// PARALLEL
// ============================================================================

func (e *Engine) executeParallel(ctx context.Context, node *dsl.Node, state *runState, emitResult func(*execution.Result)) *execution.Result {
	summary := execution.NewResult(state.execCtx.ExecutionID, node.ID)
	spec := node.Parallel

	width := spec.MaxConcurrency
	if width <= 0 || width > len(node.Children) {
		width = len(node.Children)
	}
	if width > e.cfg.MaxParallelTasks {
		width = e.cfg.MaxParallelTasks
	}

	parallelCtx := ctx
	var cancel context.CancelFunc
	if spec.FailFast {
		parallelCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	group, _ := errgroup.WithContext(parallelCtx)
	group.SetLimit(width)

	var mu sync.Mutex
	failures := 0

	var emitMu sync.Mutex
	safeEmit := func(r *execution.Result) {
		emitMu.Lock()
		defer emitMu.Unlock()
		emitResult(r)
	}

	for _, child := range node.Children {
		child := child
		group.Go(func() error {
			result := e.executeNode(parallelCtx, child, state, safeEmit)
			if !result.Success {
				mu.Lock()
				failures++
				mu.Unlock()
				if spec.FailFast {
					cancel()
				}
			}
			return nil
		})
	}
	group.Wait()

	if failures > 0 {
		summary.Fail(execution.CodeExecution,
			fmt.Sprintf("%d of %d parallel branches failed", failures, len(node.Children)))
	} else {
		summary.Complete(len(node.Children))
	}
	state.record(node.ID, "", summary)
	return summary
}

// ============================================================================
// CONDITION
// ============================================================================

func (e *Engine) executeCondition(ctx context.Context, node *dsl.Node, state *runState, emitResult func(*execution.Result)) *execution.Result {
	summary := execution.NewResult(state.execCtx.ExecutionID, node.ID)

	// Evaluation failures yield false by contract.
	value := dsl.EvaluateCondition(node.Cond.Expression, state.env())

	branch := dsl.BranchElse
	if value {
		branch = dsl.BranchThen
	}

	var chosen *dsl.Node
	for _, child := range node.Children {
		if child.Branch == branch {
			chosen = child
			break
		}
	}

	if chosen == nil {
		summary.Complete(map[string]any{"condition": value, "branch": "none"})
		state.record(node.ID, "", summary)
		return summary
	}

	result := e.executeNode(ctx, chosen, state, emitResult)
	if result.Success {
		summary.Complete(map[string]any{"condition": value, "branch": branch})
	} else {
		summary.Fail(result.ErrorCode, fmt.Sprintf("%s branch failed", branch))
	}
	state.record(node.ID, "", summary)
	return summary
}

// ============================================================================
// LOOP
// ============================================================================

func (e *Engine) executeLoop(ctx context.Context, node *dsl.Node, state *runState, emitResult func(*execution.Result)) *execution.Result {
	summary := execution.NewResult(state.execCtx.ExecutionID, node.ID)
	spec := node.Loop

	iterations := 0
	for iterations < spec.MaxIterations {
		if ctx.Err() != nil {
			summary.FailFromError(ctx.Err())
			state.record(node.ID, "", summary)
			return summary
		}
		if !dsl.EvaluateCondition(spec.Condition, state.env()) {
			break
		}
		iterations++

		failed := false
		for _, child := range node.Children {
			result := e.executeNode(ctx, child, state, emitResult)
			if !result.Success {
				failed = true
				break
			}
		}
		if failed && spec.BreakOnError {
			summary.Fail(execution.CodeExecution,
				fmt.Sprintf("loop stopped after iteration %d", iterations))
			state.record(node.ID, "", summary)
			return summary
		}
	}

	summary.Complete(map[string]any{"iterations": iterations})
	state.record(node.ID, "", summary)
	return summary
}

// ============================================================================
// WAIT
// ============================================================================

func (e *Engine) executeWait(ctx context.Context, node *dsl.Node, state *runState) *execution.Result {
	result := execution.NewResult(state.execCtx.ExecutionID, node.ID)
	spec := node.Wait

	timeout := time.Duration(spec.Timeout * float64(time.Second))
	poll := time.Duration(spec.PollInterval * float64(time.Second))
	deadline := time.Now().Add(timeout)

	for {
		if dsl.EvaluateCondition(spec.Condition, state.env()) {
			result.Complete(map[string]any{"condition": spec.Condition, "satisfied": true})
			state.record(node.ID, "", result)
			return result
		}
		if time.Now().After(deadline) {
			// Timeout is an ordinary FAILED result, not an engine error.
			result.Fail(execution.CodeTimeout,
				fmt.Sprintf("wait condition %q not satisfied within %.0fs", spec.Condition, spec.Timeout))
			result.Status = execution.StatusFailed
			state.record(node.ID, "", result)
			return result
		}
		select {
		case <-ctx.Done():
			result.FailFromError(ctx.Err())
			state.record(node.ID, "", result)
			return result
		case <-time.After(poll):
		}
	}
}

func validationSummary(validation *dsl.ValidationResult) string {
	var messages []string
	for _, issue := range validation.Issues {
		if issue.Severity == dsl.SeverityError {
			messages = append(messages, issue.Message)
		}
	}
	return "workflow validation failed: " + strings.Join(messages, "; ")
}
