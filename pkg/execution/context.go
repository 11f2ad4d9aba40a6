package execution

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context carries per-execution state shared between steps of one logical
// execution. Concurrent branches must namespace their keys by step id; the
// engine never writes the same key from two executors.
type Context struct {
	mu          sync.RWMutex
	ExecutionID string
	InputData   map[string]any
	Timeout     time.Duration
	sharedData  map[string]any
	variables   map[string]any
}

// NewContext creates an execution context with a generated id.
func NewContext(input map[string]any) *Context {
	if input == nil {
		input = make(map[string]any)
	}
	return &Context{
		ExecutionID: uuid.NewString(),
		InputData:   input,
		sharedData:  make(map[string]any),
		variables:   make(map[string]any),
	}
}

// SetShared stores a value in the shared data map.
func (c *Context) SetShared(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sharedData[key] = value
}

// GetShared retrieves a value from the shared data map.
func (c *Context) GetShared(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, exists := c.sharedData[key]
	return value, exists
}

// SharedData returns a copy of the shared data map.
func (c *Context) SharedData() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.sharedData))
	for k, v := range c.sharedData {
		out[k] = v
	}
	return out
}

// SetVariable stores a workflow variable.
func (c *Context) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// GetVariable retrieves a workflow variable.
func (c *Context) GetVariable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, exists := c.variables[name]
	return value, exists
}

// Variables returns a copy of the variables map.
func (c *Context) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}
