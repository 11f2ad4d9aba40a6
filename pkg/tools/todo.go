package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

// TodoItem is one entry of the agent scratchpad.
type TodoItem struct {
	ID      string `json:"id" mapstructure:"id"`
	Content string `json:"content" mapstructure:"content"`
	Status  string `json:"status" mapstructure:"status"` // pending, in_progress, completed
}

type todoArgs struct {
	Todos []TodoItem `json:"todos" jsonschema:"required,description=Full task list; replaces the current list unless merge is true"`
	Merge bool       `json:"merge,omitempty" jsonschema:"description=Merge by id instead of replacing"`
}

// TodoTool maintains a per-agent task list the model uses to track
// multi-step work.
type TodoTool struct {
	mu    sync.Mutex
	todos []TodoItem
}

// NewTodoTool creates an empty todo scratchpad.
func NewTodoTool() *TodoTool {
	return &TodoTool{}
}

func (t *TodoTool) GetName() string { return "todo_write" }

func (t *TodoTool) GetDescription() string {
	return "Maintains the agent's working task list"
}

func (t *TodoTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "todo_write",
		Description: t.GetDescription(),
		Operations: []OperationInfo{
			{
				Name:        "write",
				Description: "Replaces or merges the task list",
				Args:        &todoArgs{},
			},
			{
				Name:        "read",
				Description: "Returns the current task list",
				Parameters:  map[string]ParameterSpec{},
			},
		},
		DefaultOperation: "write",
	}
}

func (t *TodoTool) ValidateParams(operation string, params map[string]any) error {
	if operation == "read" {
		return nil
	}
	raw, ok := params["todos"]
	if !ok {
		return execution.NewError(execution.CodeValidation, "todo_write", operation,
			"parameter 'todos' is required: a list of {id, content, status}", nil)
	}
	items, ok := raw.([]any)
	if !ok {
		if _, ok := raw.([]TodoItem); ok {
			return nil
		}
		return execution.NewError(execution.CodeValidation, "todo_write", operation,
			"parameter 'todos' must be a list", nil)
	}
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return execution.NewError(execution.CodeValidation, "todo_write", operation,
				fmt.Sprintf("todos[%d] must be an object with id, content, status", i), nil)
		}
		if s, _ := m["content"].(string); s == "" {
			return execution.NewError(execution.CodeValidation, "todo_write", operation,
				fmt.Sprintf("todos[%d].content is required", i), nil)
		}
	}
	return nil
}

func (t *TodoTool) Execute(ctx context.Context, operation string, params map[string]any) (ToolResult, error) {
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if operation == "read" {
		return successResult("todo_write", operation, t.render(), append([]TodoItem(nil), t.todos...), time.Since(start)), nil
	}

	incoming := decodeTodos(params["todos"])
	merge, _ := params["merge"].(bool)

	if merge {
		byID := make(map[string]int, len(t.todos))
		for i, item := range t.todos {
			byID[item.ID] = i
		}
		for _, item := range incoming {
			if i, ok := byID[item.ID]; ok && item.ID != "" {
				t.todos[i] = item
			} else {
				t.todos = append(t.todos, item)
			}
		}
	} else {
		t.todos = incoming
	}

	return successResult("todo_write", operation, t.render(), append([]TodoItem(nil), t.todos...), time.Since(start)), nil
}

func (t *TodoTool) render() string {
	if len(t.todos) == 0 {
		return "(empty task list)"
	}
	var b strings.Builder
	for _, item := range t.todos {
		marker := " "
		switch item.Status {
		case "completed":
			marker = "x"
		case "in_progress":
			marker = ">"
		}
		fmt.Fprintf(&b, "[%s] %s\n", marker, item.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func decodeTodos(raw any) []TodoItem {
	if items, ok := raw.([]TodoItem); ok {
		return append([]TodoItem(nil), items...)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]TodoItem, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		todo := TodoItem{}
		todo.ID, _ = m["id"].(string)
		todo.Content, _ = m["content"].(string)
		todo.Status, _ = m["status"].(string)
		if todo.Status == "" {
			todo.Status = "pending"
		}
		out = append(out, todo)
	}
	return out
}
