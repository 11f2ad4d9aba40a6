package tools

import (
	"context"
	"sync"
)

// LocalToolSource provides the built-in tool set.
type LocalToolSource struct {
	mu    sync.RWMutex
	name  string
	tools map[string]Tool
}

// NewLocalToolSource creates a source over the given tools.
func NewLocalToolSource(toolList ...Tool) *LocalToolSource {
	s := &LocalToolSource{
		name:  "local",
		tools: make(map[string]Tool, len(toolList)),
	}
	for _, t := range toolList {
		s.tools[t.GetName()] = t
	}
	return s
}

// NewBuiltinToolSource creates the default built-in source: calculator,
// execute_command, and todo_write.
func NewBuiltinToolSource(commandCfg *CommandToolConfig) *LocalToolSource {
	return NewLocalToolSource(
		NewCalculatorTool(),
		NewCommandTool(commandCfg),
		NewTodoTool(),
	)
}

func (s *LocalToolSource) GetName() string { return s.name }

func (s *LocalToolSource) GetType() string { return "local" }

// DiscoverTools is a no-op for local sources; the set is fixed at build.
func (s *LocalToolSource) DiscoverTools(ctx context.Context) error { return nil }

func (s *LocalToolSource) ListTools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		infos = append(infos, t.GetInfo())
	}
	return infos
}

func (s *LocalToolSource) GetTool(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tools[name]
	return t, ok
}

// AddTool registers another tool with the source.
func (s *LocalToolSource) AddTool(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.GetName()] = t
}
