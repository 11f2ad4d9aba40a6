package llms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedProvider_Generate(t *testing.T) {
	provider := NewScriptedProvider("test-model",
		Turn{Text: "first answer", TokensUsed: 10},
		Turn{ToolCalls: []ToolCall{{ID: "call-1", Name: "calculator", Arguments: map[string]any{"a": 1.0}}}},
	)

	resp, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "q"}}, nil, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first answer", resp.Content)
	assert.Equal(t, 10, resp.TokensUsed)
	assert.Equal(t, "test-model", resp.Model)

	resp, err = provider.Generate(context.Background(), nil, nil, GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "calculator", resp.ToolCalls[0].Name)

	// Exhausted script repeats the last text without tool calls.
	resp, err = provider.Generate(context.Background(), nil, nil, GenerateOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)

	assert.Equal(t, 3, provider.CallCount())
}

func TestScriptedProvider_StreamingOrder(t *testing.T) {
	provider := NewScriptedProvider("test-model",
		Turn{
			Text:      "thinking about it",
			ToolCalls: []ToolCall{{ID: "call-1", Name: "search"}},
		},
	)

	ch, err := provider.GenerateStreaming(context.Background(), nil, nil, GenerateOptions{})
	require.NoError(t, err)

	var types []string
	for chunk := range ch {
		types = append(types, chunk.Type)
	}

	// All tokens precede the tool_calls chunk; done is last.
	require.Equal(t, []string{
		ChunkTypeToken, ChunkTypeToken, ChunkTypeToken,
		ChunkTypeToolCalls, ChunkTypeDone,
	}, types)
}

func TestScriptedProvider_StreamingCancellation(t *testing.T) {
	provider := NewScriptedProvider("test-model",
		Turn{Text: "one two three four five six seven eight"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := provider.GenerateStreaming(ctx, nil, nil, GenerateOptions{})
	require.NoError(t, err)

	received := 0
	for chunk := range ch {
		if chunk.Type != ChunkTypeToken {
			continue
		}
		received++
		if received == 3 {
			cancel()
			// Drain; the stream must close without further tokens.
			deadline := time.After(time.Second)
			for {
				select {
				case _, ok := <-ch:
					if !ok {
						assert.Equal(t, 3, received)
						return
					}
				case <-deadline:
					t.Fatal("stream did not close after cancellation")
				}
			}
		}
	}
	t.Fatalf("expected cancellation after 3 tokens, got %d", received)
}

func TestLLMRegistry(t *testing.T) {
	reg := NewLLMRegistry()
	provider := NewScriptedProvider("m")

	require.NoError(t, reg.RegisterLLM("main", provider))
	assert.Error(t, reg.RegisterLLM("main", provider))
	assert.Error(t, reg.RegisterLLM("nil", nil))

	got, err := reg.GetLLM("main")
	require.NoError(t, err)
	assert.Equal(t, "m", got.GetModelName())

	_, err = reg.GetLLM("absent")
	assert.Error(t, err)
}
