package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
)

// LLMAgent manages a conversation with one LLM provider: message history,
// generation options, token accounting into the sliding rate window, and
// cooperative cancellation at chunk boundaries.
type LLMAgent struct {
	*BaseAgent
	provider llms.LLMProvider

	convMu   sync.Mutex
	messages []llms.Message
}

// NewLLMAgent creates an LLM agent over a provider.
func NewLLMAgent(cfg Config, provider llms.LLMProvider) (*LLMAgent, error) {
	if provider == nil {
		return nil, execution.NewError(execution.CodeValidation, "LLMAgent", "New", "LLM provider cannot be nil", nil)
	}
	return &LLMAgent{
		BaseAgent: NewBaseAgent(cfg),
		provider:  provider,
	}, nil
}

// SetSystemPrompt installs or replaces the system message at the head of
// the conversation.
func (a *LLMAgent) SetSystemPrompt(prompt string) {
	a.convMu.Lock()
	defer a.convMu.Unlock()
	if len(a.messages) > 0 && a.messages[0].Role == "system" {
		a.messages[0].Content = prompt
		return
	}
	a.messages = append([]llms.Message{{Role: "system", Content: prompt}}, a.messages...)
}

// History returns a copy of the conversation so far.
func (a *LLMAgent) History() []llms.Message {
	a.convMu.Lock()
	defer a.convMu.Unlock()
	out := make([]llms.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Reset clears the conversation, keeping any system prompt.
func (a *LLMAgent) Reset() {
	a.convMu.Lock()
	defer a.convMu.Unlock()
	if len(a.messages) > 0 && a.messages[0].Role == "system" {
		a.messages = a.messages[:1]
		return
	}
	a.messages = nil
}

func (a *LLMAgent) snapshotWith(userText string) []llms.Message {
	a.convMu.Lock()
	defer a.convMu.Unlock()
	a.messages = append(a.messages, llms.Message{Role: "user", Content: userText})
	out := make([]llms.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *LLMAgent) appendAssistant(content string) {
	a.convMu.Lock()
	defer a.convMu.Unlock()
	a.messages = append(a.messages, llms.Message{Role: "assistant", Content: content})
}

// Chat sends one user message and returns the complete response, recording
// its token usage into the rate window.
func (a *LLMAgent) Chat(ctx context.Context, text string) (*llms.Response, error) {
	messages := a.snapshotWith(text)
	response, err := a.provider.Generate(ctx, messages, nil, llms.GenerateOptions{
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, execution.NewError(execution.CodeLLM, "LLMAgent", "Chat", "generation failed", err)
	}
	a.governor.RecordTokens(response.TokensUsed)
	a.appendAssistant(response.Content)
	return response, nil
}

// ChatStreaming sends one user message and streams tokens. Cancellation
// takes effect at chunk boundaries: tokens received before it are
// delivered, the channel closes, and the partial content is still appended
// to the conversation.
func (a *LLMAgent) ChatStreaming(ctx context.Context, text string) (<-chan StreamEvent, error) {
	messages := a.snapshotWith(text)
	stream, err := a.provider.GenerateStreaming(ctx, messages, nil, llms.GenerateOptions{
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, execution.NewError(execution.CodeLLM, "LLMAgent", "ChatStreaming", "generation failed", err)
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		var content strings.Builder
		tokens := 0
		for chunk := range stream {
			switch chunk.Type {
			case llms.ChunkTypeToken:
				content.WriteString(chunk.Text)
				tokens += chunk.Tokens
				events <- StreamEvent{Type: EventToken, Text: chunk.Text}
			case llms.ChunkTypeDone:
				if chunk.Tokens > 0 {
					tokens = chunk.Tokens
				}
			case llms.ChunkTypeError:
				events <- StreamEvent{Type: EventStatus, Text: "error", Err: chunk.Err}
			}
		}
		a.governor.RecordTokens(tokens)
		a.appendAssistant(content.String())
	}()
	return events, nil
}

// ExecuteTask satisfies the Agent capability: the task description is one
// conversation turn; the response content is the output.
func (a *LLMAgent) ExecuteTask(ctx context.Context, task execution.Task, execCtx *execution.Context) (*execution.Result, error) {
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

	response, err := a.Chat(taskCtx, task.Description)
	if err != nil {
		result.FailFromError(err)
		a.runHooks(taskCtx, HookOnError, task, result)
		return result, nil
	}

	result.Complete(response.Content)
	a.runHooks(taskCtx, HookPostExecution, task, result)
	return result, nil
}
