package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.MaxConcurrentTasks)
	assert.Equal(t, 10000, cfg.MaxTokensPerMinute)
	assert.Equal(t, 60, cfg.MaxToolCallsPerMinute)
	assert.Equal(t, 5.0, cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.BatchSize)

	require.NotNil(t, cfg.ToolCache.Enabled)
	assert.True(t, *cfg.ToolCache.Enabled)
	assert.Equal(t, 60*time.Second, cfg.ToolCache.DefaultTTL)
	assert.Equal(t, 1000, cfg.ToolCache.MaxCacheSize)
	assert.Equal(t, 0.8, cfg.ToolCache.CleanupThreshold)
	assert.Equal(t, 30*time.Second, cfg.ToolCache.CleanupInterval)

	assert.Equal(t, time.Hour, cfg.DSL.MaxExecutionDuration)
	assert.Equal(t, 10, cfg.DSL.MaxParallelTasks)
	assert.Equal(t, 100, cfg.DSL.DefaultLoopCap)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Checkpoint.Store)

	assert.NoError(t, cfg.Validate())
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(`
max_concurrent_tasks: 8
max_tokens_per_minute: 50000
enforce_limits: true
rate_limit_requests_per_second: 2.5
tool_cache:
  enabled: false
  default_ttl: 5m
  max_cache_size: 200
llm:
  provider: scripted
  model: test-model
  temperature: 0.3
  max_tokens: 2048
dsl:
  max_execution_duration: 30m
  max_parallel_tasks: 4
agents:
  researcher:
    type: hybrid
    capabilities: [analysis, search]
    learning_enabled: true
  runner:
    type: tool
`))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxConcurrentTasks)
	assert.Equal(t, 50000, cfg.MaxTokensPerMinute)
	assert.True(t, cfg.EnforceLimits)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)

	require.NotNil(t, cfg.ToolCache.Enabled)
	assert.False(t, *cfg.ToolCache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.ToolCache.DefaultTTL)
	assert.Equal(t, 200, cfg.ToolCache.MaxCacheSize)

	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, 30*time.Minute, cfg.DSL.MaxExecutionDuration)
	assert.Equal(t, 4, cfg.DSL.MaxParallelTasks)

	researcher := cfg.Agents["researcher"]
	require.NotNil(t, researcher)
	assert.Equal(t, "researcher", researcher.Name, "name defaults from the map key")
	assert.Equal(t, AgentTypeHybrid, researcher.Type)
	assert.Equal(t, []string{"analysis", "search"}, researcher.Capabilities)
	assert.True(t, researcher.LearningEnabled)
	assert.Equal(t, "test-model", researcher.Model, "agents inherit llm.model")
	assert.Equal(t, 5, researcher.MaxIterations)

	assert.Equal(t, AgentTypeTool, cfg.Agents["runner"].Type)
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"batch_size": 3, "llm": {"model": "j"}}`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, "j", cfg.LLM.Model)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("AEXS_TEST_MODEL", "env-model")
	t.Setenv("AEXS_TEST_LEVEL", "")

	cfg, err := Parse([]byte(`
llm:
  model: ${AEXS_TEST_MODEL}
logging:
  level: ${AEXS_TEST_LEVEL:-debug}
checkpoint:
  store: sqlite
  path: $AEXS_TEST_MODEL
`))
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "debug", cfg.Logging.Level, "empty variable falls back to default")
	assert.Equal(t, "env-model", cfg.Checkpoint.Path, "bare $VAR form expands too")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_tasks: 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxConcurrentTasks)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad temperature", "llm:\n  temperature: 3.5\n"},
		{"bad agent type", "agents:\n  x:\n    type: psychic\n"},
		{"sqlite without path", "checkpoint:\n  store: sqlite\n"},
		{"bad checkpoint store", "checkpoint:\n  store: cloud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseGarbage(t *testing.T) {
	_, err := Parse([]byte("{not: valid: yaml: ["))
	assert.Error(t, err)
}
