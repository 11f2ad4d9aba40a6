package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
)

func newLLMAgent(t *testing.T, provider llms.LLMProvider) *LLMAgent {
	t.Helper()
	agent, err := NewLLMAgent(Config{Name: "chatter"}, provider)
	require.NoError(t, err)
	activeAgent(t, agent.BaseAgent)
	return agent
}

func TestLLMAgentChatAccumulatesHistory(t *testing.T) {
	provider := llms.NewScriptedProvider("m",
		llms.Turn{Text: "hello there", TokensUsed: 12},
		llms.Turn{Text: "fine thanks"},
	)
	agent := newLLMAgent(t, provider)
	agent.SetSystemPrompt("be terse")

	first, err := agent.Chat(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", first.Content)

	_, err = agent.Chat(context.Background(), "how are you")
	require.NoError(t, err)

	history := agent.History()
	require.Len(t, history, 5)
	assert.Equal(t, "system", history[0].Role)
	assert.Equal(t, "be terse", history[0].Content)
	assert.Equal(t, []string{"system", "user", "assistant", "user", "assistant"},
		[]string{history[0].Role, history[1].Role, history[2].Role, history[3].Role, history[4].Role})

	// The second request carried the full transcript.
	requests := provider.Requests()
	require.Len(t, requests, 2)
	assert.Len(t, requests[1], 4)

	assert.GreaterOrEqual(t, agent.Governor().GetResourceUsage().TokensLastMinute, 12,
		"scripted token count lands in the rate window")
}

func TestLLMAgentResetKeepsSystemPrompt(t *testing.T) {
	agent := newLLMAgent(t, llms.NewScriptedProvider("m", llms.Turn{Text: "ok"}))
	agent.SetSystemPrompt("persona")

	_, err := agent.Chat(context.Background(), "anything")
	require.NoError(t, err)
	require.Greater(t, len(agent.History()), 1)

	agent.Reset()
	history := agent.History()
	require.Len(t, history, 1)
	assert.Equal(t, "system", history[0].Role)
	assert.Equal(t, "persona", history[0].Content)
}

func TestLLMAgentSetSystemPromptReplaces(t *testing.T) {
	agent := newLLMAgent(t, llms.NewScriptedProvider("m"))
	agent.SetSystemPrompt("v1")
	agent.SetSystemPrompt("v2")

	history := agent.History()
	require.Len(t, history, 1)
	assert.Equal(t, "v2", history[0].Content)
}

func TestLLMAgentChatWrapsProviderError(t *testing.T) {
	agent := newLLMAgent(t, llms.NewScriptedProvider("m", llms.Turn{Err: errors.New("backend down")}))

	_, err := agent.Chat(context.Background(), "hi")
	require.Error(t, err)

	var execErr *execution.Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, execution.CodeLLM, execErr.Code)
}

func TestLLMAgentChatStreaming(t *testing.T) {
	agent := newLLMAgent(t, llms.NewScriptedProvider("m", llms.Turn{Text: "one two three"}))

	events, err := agent.ChatStreaming(context.Background(), "count")
	require.NoError(t, err)

	var text strings.Builder
	for event := range events {
		if event.Type == EventToken {
			text.WriteString(event.Text)
		}
	}
	assert.Equal(t, "one two three", strings.TrimSpace(text.String()))

	history := agent.History()
	require.Len(t, history, 2)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "one two three", strings.TrimSpace(history[1].Content))
}

// Cancellation mid-stream: delivered tokens form a prefix of the scripted
// text, the channel closes cleanly, and the partial content still lands in
// the conversation.
func TestLLMAgentStreamingCancellation(t *testing.T) {
	script := "alpha beta gamma delta epsilon zeta eta theta"
	agent := newLLMAgent(t, llms.NewScriptedProvider("m", llms.Turn{Text: script}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := agent.ChatStreaming(ctx, "recite")
	require.NoError(t, err)

	var got []string
	for event := range events {
		if event.Type != EventToken {
			continue
		}
		got = append(got, strings.TrimSpace(event.Text))
		if len(got) == 2 {
			cancel()
		}
	}
	// The channel closed without an error event; whatever arrived is a
	// prefix of the script.
	words := strings.Fields(script)
	require.LessOrEqual(t, len(got), len(words))
	for i, w := range got {
		assert.Equal(t, words[i], w)
	}
	assert.GreaterOrEqual(t, len(got), 2)

	require.Eventually(t, func() bool {
		history := agent.History()
		return len(history) == 2 && history[1].Role == "assistant"
	}, time.Second, 5*time.Millisecond, "partial content is still appended")

	partial := strings.Fields(agent.History()[1].Content)
	for i, w := range partial {
		assert.Equal(t, words[i], w)
	}
}

func TestLLMAgentExecuteTask(t *testing.T) {
	agent := newLLMAgent(t, llms.NewScriptedProvider("m", llms.Turn{Text: "the answer"}))

	result, err := agent.ExecuteTask(context.Background(), execution.NewTask("ask something"), nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "the answer", result.Output)
}

func TestLLMAgentExecuteTaskFailureCode(t *testing.T) {
	agent := newLLMAgent(t, llms.NewScriptedProvider("m", llms.Turn{Err: errors.New("nope")}))

	result, err := agent.ExecuteTask(context.Background(), execution.NewTask("ask"), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, execution.CodeLLM, result.ErrorCode)
}
