package agent

import (
	"context"
	"fmt"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/tools"
)

// ToolAgent dispatches tool operations. A task naming an explicit tool
// takes the direct path; a description-only task needs a configured LLM
// provider for function-calling tool selection. Tool calls run serially
// here; parallel execution is the hybrid agent's concern.
type ToolAgent struct {
	*BaseAgent
	executor *tools.Executor
	provider llms.LLMProvider
}

// NewToolAgent creates a tool agent. The provider may be nil; direct tasks
// still work without one.
func NewToolAgent(cfg Config, executor *tools.Executor, provider llms.LLMProvider) (*ToolAgent, error) {
	if executor == nil {
		return nil, execution.NewError(execution.CodeValidation, "ToolAgent", "New", "tool executor cannot be nil", nil)
	}
	return &ToolAgent{
		BaseAgent: NewBaseAgent(cfg),
		executor:  executor,
		provider:  provider,
	}, nil
}

// ExecuteTask runs one task to completion.
func (a *ToolAgent) ExecuteTask(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
	if execCtx == nil {
		execCtx = execution.NewContext(nil)
	}
	taskCtx, finish, err := a.beginExecution(ctx, execCtx, task)
	if err != nil {
		return nil, err
	}
	defer finish()

	result := execution.NewResult(execCtx.ExecutionID, task.TaskID)
	a.runHooks(taskCtx, HookPreExecution, task, result)

	if task.IsDirect() {
		a.executeDirect(taskCtx, task, result)
	} else {
		a.executeAssisted(taskCtx, task, result)
	}

	if result.Success {
		a.runHooks(taskCtx, HookPostExecution, task, result)
	} else {
		a.runHooks(taskCtx, HookOnError, task, result)
	}
	return result, nil
}

// executeDirect invokes the named tool operation once and returns its
// result verbatim.
func (a *ToolAgent) executeDirect(ctx context.Context, task execution.Task, result *execution.Result) {
	a.governor.RecordToolCall()
	outcome, err := a.executor.Invoke(ctx, tools.InvokeRequest{
		Tool:      task.Tool,
		Operation: task.Operation,
		Params:    task.Parameters,
		TaskID:    task.TaskID,
	})
	if err != nil {
		result.FailFromError(err)
		if outcome != nil && outcome.Observation != nil {
			result.Output = map[string]any{
				"success":      false,
				"tool_used":    task.Tool,
				"observations": []*tools.Observation{outcome.Observation},
			}
		}
		return
	}

	result.Complete(map[string]any{
		"success":      true,
		"result":       outcome.Result.Output,
		"tool_used":    task.Tool,
		"observations": []*tools.Observation{outcome.Observation},
	})
}

// executeAssisted derives function-calling schemas from the registry, asks
// the LLM to choose calls, and executes them serially.
func (a *ToolAgent) executeAssisted(ctx context.Context, task execution.Task, result *execution.Result) {
	if a.provider == nil {
		result.Fail(execution.CodeValidation,
			"task has no tool and no LLM provider is configured")
		return
	}

	defs, err := a.executor.Registry().FunctionDefinitions()
	if err != nil {
		result.FailFromError(err)
		return
	}

	messages := []llms.Message{{Role: "user", Content: task.Description}}
	response, err := a.provider.Generate(ctx, messages, defs, llms.GenerateOptions{
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		ToolChoice:  "auto",
	})
	if err != nil {
		result.FailFromError(execution.NewError(execution.CodeLLM, "ToolAgent", "executeAssisted", "LLM call failed", err))
		return
	}
	a.governor.RecordTokens(response.TokensUsed)

	if len(response.ToolCalls) == 0 {
		result.Complete(map[string]any{
			"success":          true,
			"output":           response.Content,
			"tool_calls_count": 0,
		})
		return
	}

	var (
		toolResults  []map[string]any
		observations []*tools.Observation
		allOK        = true
	)
	for _, call := range response.ToolCalls {
		a.governor.RecordToolCall()
		callResult := runToolCall(ctx, a.executor, call)
		if callResult.Observation != nil {
			observations = append(observations, callResult.Observation)
		}
		if callResult.Err != nil {
			allOK = false
			toolResults = append(toolResults, map[string]any{
				"tool":    call.Name,
				"success": false,
				"error":   callResult.Err.Error(),
			})
			continue
		}
		toolResults = append(toolResults, map[string]any{
			"tool":    call.Name,
			"success": true,
			"result":  callResult.Result.Output,
		})
	}

	output := map[string]any{
		"success":          allOK,
		"tool_calls_count": len(response.ToolCalls),
		"tool_results":     toolResults,
		"observations":     observations,
	}
	if allOK {
		result.Complete(output)
		return
	}
	result.Fail(execution.CodeExecution,
		fmt.Sprintf("%d tool calls, at least one failed", len(response.ToolCalls)))
	result.Output = output
}

// ExecuteTaskStreaming runs a task and emits structured events. A
// tool_calls event always precedes the tool_call/tool_result pairs it
// causes; the final event carries the result.
func (a *ToolAgent) ExecuteTaskStreaming(ctx context.Context, task execution.Task, execCtx *execution.Context) (<-chan StreamEvent, error) {
	if execCtx == nil {
		execCtx = execution.NewContext(nil)
	}
	taskCtx, finish, err := a.beginExecution(ctx, execCtx, task)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer finish()

		result := execution.NewResult(execCtx.ExecutionID, task.TaskID)
		a.runHooks(taskCtx, HookPreExecution, task, result)

		if task.IsDirect() {
			events <- StreamEvent{Type: EventStatus, Text: "executing tool " + task.Tool}
			a.executeDirect(taskCtx, task, result)
			events <- StreamEvent{Type: EventResult, Result: result}
			return
		}

		a.streamAssisted(taskCtx, task, result, events)
		events <- StreamEvent{Type: EventResult, Result: result}
	}()
	return events, nil
}

func (a *ToolAgent) streamAssisted(ctx context.Context, task execution.Task, result *execution.Result, events chan<- StreamEvent) {
	if a.provider == nil {
		result.Fail(execution.CodeValidation, "task has no tool and no LLM provider is configured")
		return
	}
	defs, err := a.executor.Registry().FunctionDefinitions()
	if err != nil {
		result.FailFromError(err)
		return
	}

	events <- StreamEvent{Type: EventStatus, Text: "thinking"}
	stream, err := a.provider.GenerateStreaming(ctx, []llms.Message{{Role: "user", Content: task.Description}}, defs, llms.GenerateOptions{
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		ToolChoice:  "auto",
	})
	if err != nil {
		result.FailFromError(execution.NewError(execution.CodeLLM, "ToolAgent", "streamAssisted", "LLM call failed", err))
		return
	}

	var content string
	var calls []llms.ToolCall
	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkTypeToken:
			content += chunk.Text
			events <- StreamEvent{Type: EventToken, Text: chunk.Text}
		case llms.ChunkTypeToolCalls:
			calls = chunk.ToolCalls
			events <- StreamEvent{Type: EventToolCalls, ToolCalls: calls}
		case llms.ChunkTypeDone:
			a.governor.RecordTokens(chunk.Tokens)
		case llms.ChunkTypeError:
			result.FailFromError(chunk.Err)
			return
		}
	}
	if ctx.Err() != nil {
		result.FailFromError(ctx.Err())
		return
	}

	var (
		toolResults  []map[string]any
		observations []*tools.Observation
		allOK        = true
	)
	for i := range calls {
		call := calls[i]
		events <- StreamEvent{Type: EventToolCall, ToolCall: &call}
		a.governor.RecordToolCall()
		callResult := runToolCall(ctx, a.executor, call)
		if callResult.Observation != nil {
			observations = append(observations, callResult.Observation)
		}
		events <- StreamEvent{Type: EventToolResult, ToolCall: &call, Observation: callResult.Observation}
		if callResult.Err != nil {
			allOK = false
			toolResults = append(toolResults, map[string]any{"tool": call.Name, "success": false, "error": callResult.Err.Error()})
			continue
		}
		toolResults = append(toolResults, map[string]any{"tool": call.Name, "success": true, "result": callResult.Result.Output})
	}

	output := map[string]any{
		"success":          allOK,
		"output":           content,
		"tool_calls_count": len(calls),
		"tool_results":     toolResults,
		"observations":     observations,
	}
	if allOK {
		result.Complete(output)
		return
	}
	result.Fail(execution.CodeExecution, fmt.Sprintf("%d tool calls, at least one failed", len(calls)))
	result.Output = output
}
