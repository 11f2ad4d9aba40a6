package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/checkpoint"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/memory"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/observability"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/tools"
)

// HybridAgent unifies LLM reasoning with tool execution: each turn runs
// {context selection → prompt assembly → LLM call → parallel tool
// execution → observation feedback}, bounded by MaxIterations, with
// optional collaboration, recovery, learning, checkpointing, and durable
// session context.
type HybridAgent struct {
	*BaseAgent
	executor *tools.Executor
	provider llms.LLMProvider

	selector ContextSelector
	learning *LearningStore
	peers    *AgentRegistry
	fallback FallbackFunc

	checkpointer  checkpoint.Checkpointer
	contextEngine memory.ContextEngine
	sessionID     string
	systemPrompt  string

	ctxMu        sync.Mutex
	contextItems []ContextItem
}

// FallbackFunc is the alternative execution path tried by the FALLBACK
// recovery strategy.
type FallbackFunc func(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error)

// HybridOption configures optional hybrid agent collaborators.
type HybridOption func(*HybridAgent)

// WithCheckpointer enables per-iteration execution checkpoints.
func WithCheckpointer(cp checkpoint.Checkpointer, sessionID string) HybridOption {
	return func(a *HybridAgent) {
		a.checkpointer = cp
		a.sessionID = sessionID
	}
}

// WithContextEngine enables durable session context between turns.
func WithContextEngine(engine memory.ContextEngine, sessionID string) HybridOption {
	return func(a *HybridAgent) {
		a.contextEngine = engine
		a.sessionID = sessionID
	}
}

// WithPeers wires the agent registry used for delegation and collaboration.
func WithPeers(peers *AgentRegistry) HybridOption {
	return func(a *HybridAgent) { a.peers = peers }
}

// WithContextSelector overrides the default context selection policy.
func WithContextSelector(selector ContextSelector) HybridOption {
	return func(a *HybridAgent) { a.selector = selector }
}

// WithSystemPrompt sets the system message of every turn.
func WithSystemPrompt(prompt string) HybridOption {
	return func(a *HybridAgent) { a.systemPrompt = prompt }
}

// WithFallback installs the alternative path used by FALLBACK recovery.
func WithFallback(fn FallbackFunc) HybridOption {
	return func(a *HybridAgent) { a.fallback = fn }
}

// NewHybridAgent creates a hybrid agent over an executor and a provider.
func NewHybridAgent(cfg Config, executor *tools.Executor, provider llms.LLMProvider, opts ...HybridOption) (*HybridAgent, error) {
	if executor == nil {
		return nil, execution.NewError(execution.CodeValidation, "HybridAgent", "New", "tool executor cannot be nil", nil)
	}
	a := &HybridAgent{
		BaseAgent: NewBaseAgent(cfg),
		executor:  executor,
		provider:  provider,
		selector: ContextSelector{
			MinRelevanceScore: 0.1,
			MaxTokens:         2000,
		},
		learning: NewLearningStore(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Learning returns the agent's experience store.
func (a *HybridAgent) Learning() *LearningStore { return a.learning }

// AddContext makes an item available for relevance selection.
func (a *HybridAgent) AddContext(items ...ContextItem) {
	a.ctxMu.Lock()
	defer a.ctxMu.Unlock()
	a.contextItems = append(a.contextItems, items...)
}

func (a *HybridAgent) snapshotContext() []ContextItem {
	a.ctxMu.Lock()
	defer a.ctxMu.Unlock()
	out := make([]ContextItem, len(a.contextItems))
	copy(out, a.contextItems)
	return out
}

// LoadSessionContext pulls durable session context into the selectable
// item pool. No-op without a context engine.
func (a *HybridAgent) LoadSessionContext(ctx context.Context) error {
	if a.contextEngine == nil {
		return nil
	}
	keys, err := a.contextEngine.Keys(ctx, a.sessionID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		value, exists, err := a.contextEngine.Get(ctx, a.sessionID, key)
		if err != nil {
			return err
		}
		if exists {
			a.AddContext(ContextItem{ID: key, Type: "session", Content: fmt.Sprintf("%v", value)})
		}
	}
	return nil
}

// ExecuteTask runs one task to completion through the direct path or the
// reasoning loop.
func (a *HybridAgent) ExecuteTask(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
	if execCtx == nil {
		execCtx = execution.NewContext(nil)
	}
	taskCtx, finish, err := a.beginExecution(ctx, execCtx, task)
	if err != nil {
		return nil, err
	}
	defer finish()

	taskCtx, span := observability.StartAgentSpan(taskCtx, a.Name(), task.TaskID)
	defer span.End()

	result := execution.NewResult(execCtx.ExecutionID, task.TaskID)
	a.runHooks(taskCtx, HookPreExecution, task, result)
	start := time.Now()

	var output TaskOutput
	if task.IsDirect() {
		output = a.executeDirect(taskCtx, task, result)
	} else {
		output = a.executeLoop(taskCtx, task, result, nil)
	}

	a.recordTurn(taskCtx, task, result, output, time.Since(start))
	if result.Success {
		a.runHooks(taskCtx, HookPostExecution, task, result)
	} else {
		a.runHooks(taskCtx, HookOnError, task, result)
	}
	return result, nil
}

// ExecuteTaskStreaming runs a task and emits structured events: status,
// token, tool_calls, tool_call, tool_result, result.
func (a *HybridAgent) ExecuteTaskStreaming(ctx context.Context, task execution.Task, execCtx *execution.Context) (<-chan StreamEvent, error) {
	if execCtx == nil {
		execCtx = execution.NewContext(nil)
	}
	taskCtx, finish, err := a.beginExecution(ctx, execCtx, task)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 32)
	go func() {
		defer close(events)
		defer finish()

		result := execution.NewResult(execCtx.ExecutionID, task.TaskID)
		a.runHooks(taskCtx, HookPreExecution, task, result)
		start := time.Now()

		var output TaskOutput
		if task.IsDirect() {
			events <- StreamEvent{Type: EventStatus, Text: "executing tool " + task.Tool}
			output = a.executeDirect(taskCtx, task, result)
		} else {
			output = a.executeLoop(taskCtx, task, result, events)
		}

		a.recordTurn(taskCtx, task, result, output, time.Since(start))
		events <- StreamEvent{Type: EventResult, Result: result}
	}()
	return events, nil
}

// executeDirect is the explicit-tool path: one invocation, result verbatim.
func (a *HybridAgent) executeDirect(ctx context.Context, task execution.Task, result *execution.Result) TaskOutput {
	a.governor.RecordToolCall()
	outcome, err := a.executor.Invoke(ctx, tools.InvokeRequest{
		Tool:      task.Tool,
		Operation: task.Operation,
		Params:    task.Parameters,
		TaskID:    task.TaskID,
	})

	output := TaskOutput{ToolUsed: task.Tool}
	if outcome != nil {
		output.ToolResults = append(output.ToolResults, outcome.Result)
		if outcome.Observation != nil {
			output.Observations = append(output.Observations, outcome.Observation)
		}
	}
	if err != nil {
		result.FailFromError(err)
		return output
	}

	output.Success = true
	result.Complete(map[string]any{
		"success":      true,
		"result":       outcome.Result.Output,
		"tool_used":    task.Tool,
		"observations": output.Observations,
	})
	return output
}

// executeLoop drives the LLM reasoning loop. When events is non-nil the
// LLM is streamed and token events are forwarded.
func (a *HybridAgent) executeLoop(ctx context.Context, task execution.Task, result *execution.Result, events chan<- StreamEvent) TaskOutput {
	var output TaskOutput

	if a.provider == nil {
		result.Fail(execution.CodeValidation, "task has no tool and no LLM provider is configured")
		return output
	}

	defs, err := a.executor.Registry().FunctionDefinitions()
	if err != nil {
		result.FailFromError(err)
		return output
	}

	messages := a.assembleMessages(task)
	opts := llms.GenerateOptions{
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		ToolChoice:  "auto",
	}

	var content string
	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			result.FailFromError(context.Cause(ctx))
			return output
		}

		var calls []llms.ToolCall
		if events != nil {
			content, calls, err = a.generateStreaming(ctx, messages, defs, opts, events)
		} else {
			content, calls, err = a.generate(ctx, messages, defs, opts)
		}
		if err != nil {
			result.FailFromError(err)
			return output
		}

		if len(calls) == 0 {
			break
		}
		if events != nil {
			events <- StreamEvent{Type: EventToolCalls, ToolCalls: calls}
		}

		width := a.cfg.MaxParallelTools
		if width > len(calls) {
			width = len(calls)
		}
		callResults, err := ExecuteToolsWithDependencies(ctx, a.executor, calls, width)
		if err != nil {
			result.FailFromError(err)
			return output
		}

		messages = append(messages, llms.Message{Role: "assistant", Content: content, ToolCalls: calls})
		for i, cr := range callResults {
			a.governor.RecordToolCall()
			output.ToolCallsCount++
			output.ToolResults = append(output.ToolResults, cr.Result)
			if cr.Observation != nil {
				output.Observations = append(output.Observations, cr.Observation)
			}
			if events != nil {
				events <- StreamEvent{Type: EventToolCall, ToolCall: &callResults[i].Call}
				events <- StreamEvent{Type: EventToolResult, ToolCall: &callResults[i].Call, Observation: cr.Observation}
			}

			feedback := ""
			if cr.Observation != nil {
				feedback = cr.Observation.Format()
			} else if cr.Err != nil {
				feedback = cr.Err.Error()
			}
			messages = append(messages, llms.Message{
				Role:       "tool",
				Content:    feedback,
				ToolCallID: cr.Call.ID,
				Name:       cr.Call.Name,
			})
		}

		a.saveCheckpoint(ctx, iteration, content, output.ToolCallsCount)
	}

	output.Success = true
	output.Output = content
	result.Complete(output)
	a.persistTurn(ctx, task, content)
	return output
}

func (a *HybridAgent) generate(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition, opts llms.GenerateOptions) (string, []llms.ToolCall, error) {
	response, err := a.provider.Generate(ctx, messages, defs, opts)
	if err != nil {
		return "", nil, execution.NewError(execution.CodeLLM, "HybridAgent", "generate", "LLM call failed", err)
	}
	a.governor.RecordTokens(response.TokensUsed)
	observability.GetGlobalMetrics().RecordLLMTokens(ctx, a.cfg.Model, 0, response.TokensUsed)
	return response.Content, response.ToolCalls, nil
}

func (a *HybridAgent) generateStreaming(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition, opts llms.GenerateOptions, events chan<- StreamEvent) (string, []llms.ToolCall, error) {
	stream, err := a.provider.GenerateStreaming(ctx, messages, defs, opts)
	if err != nil {
		return "", nil, execution.NewError(execution.CodeLLM, "HybridAgent", "generateStreaming", "LLM call failed", err)
	}

	var content strings.Builder
	var calls []llms.ToolCall
	tokens := 0
	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkTypeToken:
			content.WriteString(chunk.Text)
			tokens += chunk.Tokens
			events <- StreamEvent{Type: EventToken, Text: chunk.Text}
		case llms.ChunkTypeToolCalls:
			calls = chunk.ToolCalls
		case llms.ChunkTypeDone:
			if chunk.Tokens > 0 {
				tokens = chunk.Tokens
			}
		case llms.ChunkTypeError:
			a.governor.RecordTokens(tokens)
			return content.String(), nil, chunk.Err
		}
	}
	a.governor.RecordTokens(tokens)
	observability.GetGlobalMetrics().RecordLLMTokens(ctx, a.cfg.Model, 0, tokens)

	if err := ctx.Err(); err != nil {
		return content.String(), nil, context.Cause(ctx)
	}
	return content.String(), calls, nil
}

// assembleMessages builds system + selected context + task.
func (a *HybridAgent) assembleMessages(task execution.Task) []llms.Message {
	var messages []llms.Message
	if a.systemPrompt != "" {
		messages = append(messages, llms.Message{Role: "system", Content: a.systemPrompt})
	}

	selected := a.selector.GetRelevantContext(a.snapshotContext(), task.Description)
	if len(selected) > 0 {
		var block strings.Builder
		block.WriteString("Relevant context:\n")
		for _, item := range selected {
			fmt.Fprintf(&block, "- %s\n", item.Content)
		}
		messages = append(messages, llms.Message{Role: "system", Content: block.String()})
	}

	return append(messages, llms.Message{Role: "user", Content: task.Description})
}

func (a *HybridAgent) saveCheckpoint(ctx context.Context, iteration int, content string, toolCalls int) {
	if a.checkpointer == nil {
		return
	}
	_, err := a.checkpointer.SaveCheckpoint(ctx, a.ID(), a.sessionID, map[string]any{
		"iteration":        iteration,
		"content":          content,
		"tool_calls_count": toolCalls,
	})
	if err != nil {
		slog.Warn("Checkpoint save failed", "agent", a.Name(), "iteration", iteration, "error", err)
	}
}

func (a *HybridAgent) persistTurn(ctx context.Context, task execution.Task, output string) {
	if a.contextEngine == nil || output == "" {
		return
	}
	if err := a.contextEngine.Put(ctx, a.sessionID, "turn:"+task.TaskID, output); err != nil {
		slog.Warn("Session context write failed", "agent", a.Name(), "task", task.TaskID, "error", err)
	}
}

// recordTurn appends an experience when learning is enabled.
func (a *HybridAgent) recordTurn(ctx context.Context, task execution.Task, result *execution.Result, output TaskOutput, elapsed time.Duration) {
	if !a.cfg.LearningEnabled {
		return
	}
	taskType := task.Type
	if taskType == "" {
		taskType = "general"
	}
	approach := "llm_loop"
	if task.IsDirect() {
		approach = "direct"
	}

	var toolsUsed []string
	seen := map[string]bool{}
	for _, r := range output.ToolResults {
		if r.ToolName != "" && !seen[r.ToolName] {
			seen[r.ToolName] = true
			toolsUsed = append(toolsUsed, r.ToolName)
		}
	}

	exp := Experience{
		TaskType:      taskType,
		Success:       result.Success,
		ExecutionTime: elapsed,
		Approach:      approach,
		ToolsUsed:     toolsUsed,
	}
	if !result.Success {
		exp.ErrorType = string(result.ErrorCode)
		exp.ErrorMessage = result.ErrorMessage
	}
	a.learning.RecordExperience(exp)
}
