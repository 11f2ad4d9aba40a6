// Package config holds the typed configuration tree: resource limits,
// tool-cache and rate-limit settings, LLM generation options, DSL engine
// bounds, agent definitions, and the ambient logging/observability/
// checkpoint sections. Every struct follows the SetDefaults/Validate
// pipeline; the loader applies ${ENV} expansion before decoding.
package config

import (
	"fmt"
	"time"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/observability"
)

// Config is the root configuration document.
type Config struct {
	// Resource limits enforced by agent governors.
	EnforceLimits         bool `yaml:"enforce_limits" mapstructure:"enforce_limits"`
	MaxConcurrentTasks    int  `yaml:"max_concurrent_tasks" mapstructure:"max_concurrent_tasks"`
	MaxTokensPerMinute    int  `yaml:"max_tokens_per_minute" mapstructure:"max_tokens_per_minute"`
	MaxToolCallsPerMinute int  `yaml:"max_tool_calls_per_minute" mapstructure:"max_tool_calls_per_minute"`

	// Tool execution pipeline.
	ToolCache      ToolCacheConfig `yaml:"tool_cache" mapstructure:"tool_cache"`
	RateLimitRPS   float64         `yaml:"rate_limit_requests_per_second" mapstructure:"rate_limit_requests_per_second"`
	RateLimitBurst int             `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	BatchSize      int             `yaml:"batch_size" mapstructure:"batch_size"`

	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`
	DSL DSLConfig `yaml:"dsl" mapstructure:"dsl"`

	// Agents keyed by name; the runtime instantiates one agent per entry.
	Agents map[string]*AgentConfig `yaml:"agents" mapstructure:"agents"`

	Logging       LoggingConfig        `yaml:"logging" mapstructure:"logging"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	Checkpoint    CheckpointConfig     `yaml:"checkpoint" mapstructure:"checkpoint"`
}

// ToolCacheConfig controls the executor's result cache.
type ToolCacheConfig struct {
	Enabled          *bool         `yaml:"enabled" mapstructure:"enabled"`
	DefaultTTL       time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxCacheSize     int           `yaml:"max_cache_size" mapstructure:"max_cache_size"`
	CleanupThreshold float64       `yaml:"cleanup_threshold" mapstructure:"cleanup_threshold"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// LLMConfig carries generation options shared by agents that do not
// override them.
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// DSLConfig bounds workflow execution.
type DSLConfig struct {
	MaxExecutionDuration time.Duration `yaml:"max_execution_duration" mapstructure:"max_execution_duration"`
	MaxParallelTasks     int           `yaml:"max_parallel_tasks" mapstructure:"max_parallel_tasks"`
	DefaultLoopCap       int           `yaml:"default_loop_cap" mapstructure:"default_loop_cap"`
	DefaultTaskTimeout   time.Duration `yaml:"default_task_timeout" mapstructure:"default_task_timeout"`
}

// Agent types recognized by the runtime.
const (
	AgentTypeTool   = "tool"
	AgentTypeLLM    = "llm"
	AgentTypeHybrid = "hybrid"
)

// AgentConfig defines one agent instance.
type AgentConfig struct {
	Name             string   `yaml:"name" mapstructure:"name"`
	Type             string   `yaml:"type" mapstructure:"type"`
	Description      string   `yaml:"description" mapstructure:"description"`
	Capabilities     []string `yaml:"capabilities" mapstructure:"capabilities"`
	SystemPrompt     string   `yaml:"system_prompt" mapstructure:"system_prompt"`
	Model            string   `yaml:"model" mapstructure:"model"`
	Temperature      float64  `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens        int      `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations    int      `yaml:"max_iterations" mapstructure:"max_iterations"`
	MaxParallelTools int      `yaml:"max_parallel_tools" mapstructure:"max_parallel_tools"`
	LearningEnabled  bool     `yaml:"learning_enabled" mapstructure:"learning_enabled"`
}

// LoggingConfig configures the process-wide slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Store   string `yaml:"store" mapstructure:"store"` // memory or sqlite
	Path    string `yaml:"path" mapstructure:"path"`   // sqlite database file
}

// SetDefaults applies the documented defaults to unset fields.
func (c *Config) SetDefaults() {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 5
	}
	if c.MaxTokensPerMinute <= 0 {
		c.MaxTokensPerMinute = 10000
	}
	if c.MaxToolCallsPerMinute <= 0 {
		c.MaxToolCallsPerMinute = 60
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 5
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}

	c.ToolCache.SetDefaults()
	c.DSL.SetDefaults()
	c.Logging.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Observability.SetDefaults()

	for name, agent := range c.Agents {
		if agent == nil {
			continue
		}
		agent.SetDefaults(name, &c.LLM)
	}
}

// SetDefaults applies cache defaults.
func (c *ToolCacheConfig) SetDefaults() {
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 60 * time.Second
	}
	if c.MaxCacheSize <= 0 {
		c.MaxCacheSize = 1000
	}
	if c.CleanupThreshold <= 0 || c.CleanupThreshold > 1 {
		c.CleanupThreshold = 0.8
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
}

// SetDefaults applies DSL engine defaults.
func (c *DSLConfig) SetDefaults() {
	if c.MaxExecutionDuration <= 0 {
		c.MaxExecutionDuration = time.Hour
	}
	if c.MaxParallelTasks <= 0 {
		c.MaxParallelTasks = 10
	}
	if c.DefaultLoopCap <= 0 {
		c.DefaultLoopCap = 100
	}
	if c.DefaultTaskTimeout <= 0 {
		c.DefaultTaskTimeout = 60 * time.Second
	}
}

// SetDefaults fills agent identity and inherits LLM options not overridden.
func (a *AgentConfig) SetDefaults(name string, llm *LLMConfig) {
	if a.Name == "" {
		a.Name = name
	}
	if a.Type == "" {
		a.Type = AgentTypeHybrid
	}
	if a.Model == "" {
		a.Model = llm.Model
	}
	if a.Temperature == 0 {
		a.Temperature = llm.Temperature
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = llm.MaxTokens
	}
	if a.MaxIterations <= 0 {
		a.MaxIterations = 5
	}
	if a.MaxParallelTools <= 0 {
		a.MaxParallelTools = 5
	}
}

// SetDefaults applies logging defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// SetDefaults applies checkpoint defaults.
func (c *CheckpointConfig) SetDefaults() {
	if c.Store == "" {
		c.Store = "memory"
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if t := c.ToolCache.CleanupThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("tool_cache.cleanup_threshold must be in (0, 1], got %v", t)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %v", c.LLM.Temperature)
	}
	if c.Checkpoint.Store != "memory" && c.Checkpoint.Store != "sqlite" {
		return fmt.Errorf("checkpoint.store must be memory or sqlite, got %q", c.Checkpoint.Store)
	}
	if c.Checkpoint.Store == "sqlite" && c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint.store sqlite requires checkpoint.path")
	}
	for name, agent := range c.Agents {
		if agent == nil {
			return fmt.Errorf("agent %q has no definition", name)
		}
		if err := agent.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
	}
	return nil
}

// Validate checks one agent definition.
func (a *AgentConfig) Validate() error {
	switch a.Type {
	case AgentTypeTool, AgentTypeLLM, AgentTypeHybrid:
	default:
		return fmt.Errorf("unknown agent type %q", a.Type)
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %v", a.Temperature)
	}
	return nil
}
