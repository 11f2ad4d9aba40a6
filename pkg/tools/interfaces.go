// Package tools implements the tool invocation substrate: a registry of
// polymorphic tools, an executor that validates, caches, rate-limits, and
// observes every invocation, and a small set of built-in tools.
package tools

import (
	"context"
	"time"
)

// ParameterSpec describes one parameter of a tool operation.
type ParameterSpec struct {
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"`
}

// OperationInfo describes one named operation of a tool.
type OperationInfo struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Parameters  map[string]ParameterSpec `json:"parameters,omitempty"`

	// Args, when non-nil, is a prototype struct used to generate the
	// function-calling JSON schema at registration time. When nil, the
	// schema is derived reflectively from Parameters.
	Args any `json:"-"`
}

// ToolInfo is the registration-time metadata of a tool.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Operations  []OperationInfo `json:"operations"`

	// DefaultOperation is used when a function call names the bare tool
	// without an operation qualifier.
	DefaultOperation string `json:"default_operation,omitempty"`

	// Source identifies the providing ToolSource.
	Source string `json:"source,omitempty"`
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Success       bool           `json:"success"`
	Content       string         `json:"content,omitempty"`
	Output        any            `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ToolName      string         `json:"tool_name"`
	Operation     string         `json:"operation,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Tool is the capability every tool implements, local or remote.
type Tool interface {
	// GetInfo returns metadata about the tool and its operations.
	GetInfo() ToolInfo

	// GetName returns the tool name.
	GetName() string

	// GetDescription returns the tool description.
	GetDescription() string

	// ValidateParams checks params for an operation before execution.
	// Errors carry VALIDATION_ERROR with a remediation message.
	ValidateParams(operation string, params map[string]any) error

	// Execute runs one operation.
	Execute(ctx context.Context, operation string, params map[string]any) (ToolResult, error)
}

// ToolSource is a provider of tools (built-in set, plugins, remote
// catalogs). Sources are discovered once at startup.
type ToolSource interface {
	GetName() string
	GetType() string
	DiscoverTools(ctx context.Context) error
	ListTools() []ToolInfo
	GetTool(name string) (Tool, bool)
}

func errorResult(toolName, operation, errorMsg string, executionTime time.Duration) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         errorMsg,
		ToolName:      toolName,
		Operation:     operation,
		ExecutionTime: executionTime,
	}
}

func successResult(toolName, operation, content string, output any, executionTime time.Duration) ToolResult {
	return ToolResult{
		Success:       true,
		Content:       content,
		Output:        output,
		ToolName:      toolName,
		Operation:     operation,
		ExecutionTime: executionTime,
	}
}
