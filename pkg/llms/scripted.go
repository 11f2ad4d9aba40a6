package llms

import (
	"context"
	"strings"
	"sync"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

// Turn is one canned response of a ScriptedProvider.
type Turn struct {
	Text       string
	ToolCalls  []ToolCall
	TokensUsed int
	Err        error
}

// ScriptedProvider replays a fixed sequence of turns. It is the provider
// used by tests and by offline dry runs; each Generate call consumes the
// next turn, and an exhausted script keeps returning the last turn with no
// tool calls so reasoning loops terminate.
type ScriptedProvider struct {
	mu      sync.Mutex
	model   string
	turns   []Turn
	cursor  int
	history [][]Message
}

// NewScriptedProvider creates a provider that replays the given turns.
func NewScriptedProvider(model string, turns ...Turn) *ScriptedProvider {
	if model == "" {
		model = "scripted"
	}
	return &ScriptedProvider{model: model, turns: turns}
}

// Append adds turns to the script.
func (p *ScriptedProvider) Append(turns ...Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turns...)
}

// Requests returns the message lists this provider has seen, in call order.
func (p *ScriptedProvider) Requests() [][]Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]Message, len(p.history))
	copy(out, p.history)
	return out
}

// CallCount returns how many generation calls were made.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

func (p *ScriptedProvider) next(messages []Message) Turn {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, messages)

	if len(p.turns) == 0 {
		return Turn{Text: ""}
	}
	if p.cursor >= len(p.turns) {
		last := p.turns[len(p.turns)-1]
		return Turn{Text: last.Text, TokensUsed: last.TokensUsed}
	}
	turn := p.turns[p.cursor]
	p.cursor++
	return turn
}

func (p *ScriptedProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts GenerateOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn := p.next(messages)
	if turn.Err != nil {
		return nil, execution.NewError(execution.CodeLLM, "ScriptedProvider", "Generate", "scripted failure", turn.Err)
	}

	tokens := turn.TokensUsed
	if tokens == 0 {
		tokens = len(strings.Fields(turn.Text))
	}

	return &Response{
		Content:    turn.Text,
		ToolCalls:  turn.ToolCalls,
		TokensUsed: tokens,
		Provider:   "scripted",
		Model:      p.model,
	}, nil
}

func (p *ScriptedProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts GenerateOptions) (<-chan StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn := p.next(messages)

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)

		if turn.Err != nil {
			ch <- StreamChunk{Type: ChunkTypeError, Err: execution.NewError(execution.CodeLLM, "ScriptedProvider", "GenerateStreaming", "scripted failure", turn.Err)}
			return
		}

		tokens := 0
		for _, word := range strings.Fields(turn.Text) {
			select {
			case <-ctx.Done():
				return
			case ch <- StreamChunk{Type: ChunkTypeToken, Text: word + " ", Tokens: 1}:
				tokens++
			}
		}

		if len(turn.ToolCalls) > 0 {
			select {
			case <-ctx.Done():
				return
			case ch <- StreamChunk{Type: ChunkTypeToolCalls, ToolCalls: turn.ToolCalls}:
			}
		}

		total := turn.TokensUsed
		if total == 0 {
			total = tokens
		}
		select {
		case <-ctx.Done():
		case ch <- StreamChunk{Type: ChunkTypeDone, Tokens: total}:
		}
	}()

	return ch, nil
}

func (p *ScriptedProvider) GetModelName() string { return p.model }

func (p *ScriptedProvider) Close() error { return nil }
