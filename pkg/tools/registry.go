package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/registry"
)

// ============================================================================
// TOOL REGISTRY
// ============================================================================

// ToolEntry couples a tool with its providing source.
type ToolEntry struct {
	Tool       Tool
	Source     ToolSource
	SourceType string
	Name       string
}

// ToolRegistry is the process-wide tool catalog, built once at startup.
type ToolRegistry struct {
	*registry.BaseRegistry[ToolEntry]
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		BaseRegistry: registry.NewBaseRegistry[ToolEntry](),
	}
}

// RegisterTool registers a single tool without a source.
func (r *ToolRegistry) RegisterTool(tool Tool) error {
	if tool == nil {
		return execution.NewError(execution.CodeValidation, "ToolRegistry", "RegisterTool", "tool cannot be nil", nil)
	}
	name := tool.GetName()
	entry := ToolEntry{Tool: tool, Name: name}
	if err := r.Register(name, entry); err != nil {
		return execution.NewError(execution.CodeValidation, "ToolRegistry", "RegisterTool",
			fmt.Sprintf("failed to register tool %s", name), err)
	}
	return nil
}

// RegisterSource discovers a source and registers each of its tools.
func (r *ToolRegistry) RegisterSource(ctx context.Context, source ToolSource) error {
	name := source.GetName()
	if name == "" {
		return execution.NewError(execution.CodeValidation, "ToolRegistry", "RegisterSource", "source name cannot be empty", nil)
	}

	if err := source.DiscoverTools(ctx); err != nil {
		return execution.NewError(execution.CodeExecution, "ToolRegistry", "RegisterSource",
			fmt.Sprintf("failed to discover tools from source %s", name), err)
	}

	for _, info := range source.ListTools() {
		tool, exists := source.GetTool(info.Name)
		if !exists {
			slog.Warn("Tool listed but not available", "tool", info.Name, "source", name)
			continue
		}
		if _, exists := r.Get(info.Name); exists {
			slog.Warn("Tool name conflict, skipping", "tool", info.Name, "source", name)
			continue
		}

		entry := ToolEntry{
			Tool:       tool,
			Source:     source,
			SourceType: source.GetType(),
			Name:       info.Name,
		}
		if err := r.Register(info.Name, entry); err != nil {
			return execution.NewError(execution.CodeExecution, "ToolRegistry", "RegisterSource",
				fmt.Sprintf("failed to register tool %s", info.Name), err)
		}
	}
	return nil
}

// GetTool retrieves a tool by name.
func (r *ToolRegistry) GetTool(name string) (Tool, error) {
	entry, exists := r.Get(name)
	if !exists {
		return nil, execution.NewError(execution.CodeToolNotFound, "ToolRegistry", "GetTool",
			fmt.Sprintf("tool %s not found", name), nil)
	}
	return entry.Tool, nil
}

// ListTools returns metadata for all registered tools, sorted by name.
func (r *ToolRegistry) ListTools() []ToolInfo {
	var infos []ToolInfo
	for _, entry := range r.List() {
		info := entry.Tool.GetInfo()
		if entry.Source != nil {
			info.Source = entry.Source.GetName()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// FunctionDefinitions returns the function-calling schemas for every
// registered operation. Each tool with a default operation additionally
// publishes that operation under the bare tool name.
func (r *ToolRegistry) FunctionDefinitions() ([]llms.ToolDefinition, error) {
	var defs []llms.ToolDefinition
	for _, info := range r.ListTools() {
		for _, op := range info.Operations {
			def, err := OperationDefinition(info, op)
			if err != nil {
				return nil, execution.NewError(execution.CodeValidation, "ToolRegistry", "FunctionDefinitions",
					fmt.Sprintf("failed to build schema for %s.%s", info.Name, op.Name), err)
			}
			defs = append(defs, def)

			if info.DefaultOperation == op.Name {
				bare := def
				bare.Name = info.Name
				defs = append(defs, bare)
			}
		}
	}
	return defs, nil
}

// ResolveFunction maps a function-calling name plus arguments to a tool,
// operation, and cleaned parameter map. Resolution order: bare tool name
// (operation from an "operation" argument or the tool's default), then
// tool_operation splits from the right-most underscore.
func (r *ToolRegistry) ResolveFunction(name string, args map[string]any) (Tool, string, map[string]any, error) {
	params := make(map[string]any, len(args))
	for k, v := range args {
		params[k] = v
	}

	if entry, exists := r.Get(name); exists {
		info := entry.Tool.GetInfo()
		operation := info.DefaultOperation
		if opArg, ok := params["operation"].(string); ok && opArg != "" {
			operation = opArg
			delete(params, "operation")
		}
		if operation == "" {
			return nil, "", nil, execution.NewError(execution.CodeOperationNotFound, "ToolRegistry", "ResolveFunction",
				fmt.Sprintf("tool %s requires an operation (one of: %s)", name, describeOperations(info)), nil)
		}
		if !operationSupported(info, operation) {
			return nil, "", nil, execution.NewError(execution.CodeOperationNotFound, "ToolRegistry", "ResolveFunction",
				fmt.Sprintf("tool %s has no operation %s (supported: %s)", name, operation, describeOperations(info)), nil)
		}
		return entry.Tool, operation, params, nil
	}

	for _, candidate := range splitFunctionName(name) {
		entry, exists := r.Get(candidate[0])
		if !exists {
			continue
		}
		if operationSupported(entry.Tool.GetInfo(), candidate[1]) {
			return entry.Tool, candidate[1], params, nil
		}
	}

	return nil, "", nil, execution.NewError(execution.CodeToolNotFound, "ToolRegistry", "ResolveFunction",
		fmt.Sprintf("no tool matches function %s", name), nil)
}
