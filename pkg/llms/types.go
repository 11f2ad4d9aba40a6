// Package llms defines the LLM provider capability consumed by agents.
// HTTP providers live outside this module; the scripted provider here
// exists for offline runs and tests.
package llms

// Message is one turn of a conversation in the function-calling protocol.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a structured tool invocation emitted by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	DependsOn []int          `json:"depends_on,omitempty"` // indices of earlier calls whose results this one needs
}

// ToolDefinition is a function-calling schema attached to a request.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Chunk types emitted on streaming channels.
const (
	ChunkTypeToken     = "token"
	ChunkTypeToolCalls = "tool_calls"
	ChunkTypeDone      = "done"
	ChunkTypeError     = "error"
)

// StreamChunk is one typed unit of a streaming response. Token chunks
// arrive in model order; a tool_calls chunk arrives after every token that
// precedes it in the model output.
type StreamChunk struct {
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Tokens    int        `json:"tokens,omitempty"`
	Err       error      `json:"-"`
}

// Response is a complete non-streaming generation.
type Response struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	TokensUsed int        `json:"tokens_used,omitempty"`
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
}
