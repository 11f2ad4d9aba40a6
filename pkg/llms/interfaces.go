package llms

import "context"

// GenerateOptions tunes a single generation call. Zero values defer to the
// provider's configured defaults.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	ToolChoice  string // "auto" (default), "none", or a tool name
}

// LLMProvider is the capability agents consume for language generation.
//
// Implementations must honor context cancellation: non-streaming calls
// return promptly, streaming calls stop emitting at the next chunk
// boundary and close the channel.
type LLMProvider interface {
	// Generate produces a complete response with optional tool calls.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts GenerateOptions) (*Response, error)

	// GenerateStreaming produces typed chunks. The channel is closed after
	// the final chunk. Token chunks precede any tool_calls chunk derived
	// from later model output.
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts GenerateOptions) (<-chan StreamChunk, error)

	// GetModelName returns the configured model identifier.
	GetModelName() string

	// Close releases provider resources.
	Close() error
}
