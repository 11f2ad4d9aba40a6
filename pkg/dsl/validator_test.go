package dsl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validateDoc(t *testing.T, doc string, cfg ValidatorConfig) *ValidationResult {
	t.Helper()
	parsed := NewParser().ParseJSON([]byte(doc))
	require.True(t, parsed.Success, "parse failed: %v", parsed.Errors)
	return NewValidator(cfg).Validate(parsed.Root)
}

func issueMessages(result *ValidationResult, severity Severity) []string {
	var messages []string
	for _, issue := range result.Issues {
		if issue.Severity == severity {
			messages = append(messages, issue.Message)
		}
	}
	return messages
}

func TestValidateSimpleSequence(t *testing.T) {
	result := validateDoc(t, `{"sequence": [{"task": "a"}, {"task": "b"}]}`, ValidatorConfig{})

	assert.True(t, result.IsValid)
	assert.Empty(t, issueMessages(result, SeverityError))

	// Sequential siblings depend on the previous sibling.
	assert.Equal(t, []string{"task_2"}, result.DependencyGraph["task_3"])
	assert.Empty(t, result.DependencyGraph["task_2"])
}

func TestValidateCycleDetection(t *testing.T) {
	// Two steps name the same task "A"; B depends on A and the second A
	// depends on B, closing a cycle.
	doc := `{"sequence": [
		{"task": "A"},
		{"task": "B", "depends_on": ["A"]},
		{"task": "A", "depends_on": ["B"]}
	]}`
	result := validateDoc(t, doc, ValidatorConfig{})

	assert.False(t, result.IsValid)
	errors := issueMessages(result, SeverityError)
	require.NotEmpty(t, errors)

	found := false
	for _, msg := range errors {
		if strings.Contains(msg, "circular dependency") {
			found = true
			assert.Contains(t, msg, "->")
		}
	}
	assert.True(t, found, "expected a cycle error, got %v", errors)
	assert.Empty(t, result.ExecutionOrder, "no execution order for invalid plans")
}

func TestValidateMissingDependency(t *testing.T) {
	doc := `{"task": "a", "parameters": {"input": "${result.task_99.output}"}}`
	result := validateDoc(t, doc, ValidatorConfig{})

	assert.False(t, result.IsValid)
	errors := issueMessages(result, SeverityError)
	require.NotEmpty(t, errors)
	assert.Contains(t, errors[0], "task_99")
}

func TestValidateImplicitDependencyFromTemplate(t *testing.T) {
	doc := `{"parallel": [
		{"task": "produce"},
		{"task": "consume", "parameters": {"input": "${result.task_2.output}"}}
	]}`
	result := validateDoc(t, doc, ValidatorConfig{})

	assert.True(t, result.IsValid)
	assert.Equal(t, []string{"task_2"}, result.DependencyGraph["task_3"])
}

func TestValidateImplicitDependencyFromCondition(t *testing.T) {
	doc := `{"sequence": [
		{"task": "build"},
		{"if": "result.task_2.success", "then": [{"task": "publish"}]}
	]}`
	result := validateDoc(t, doc, ValidatorConfig{})

	assert.True(t, result.IsValid)
	assert.Contains(t, result.DependencyGraph["condition_3"], "task_2")
}

func TestValidateExecutionOrderRespectsDependencies(t *testing.T) {
	doc := `{"sequence": [{"task": "a"}, {"task": "b"}, {"task": "c"}]}`
	result := validateDoc(t, doc, ValidatorConfig{})

	require.True(t, result.IsValid)
	position := map[string]int{}
	for i, id := range result.ExecutionOrder {
		position[id] = i
	}
	for id, deps := range result.DependencyGraph {
		for _, dep := range deps {
			assert.Less(t, position[dep], position[id], "%s must precede %s", dep, id)
		}
	}
}

func TestValidateDuplicateIDs(t *testing.T) {
	parsed := NewParser().ParseJSON([]byte(`{"sequence": [{"task": "a"}, {"task": "b"}]}`))
	require.True(t, parsed.Success)
	// Force a collision.
	parsed.Root.Children[1].ID = parsed.Root.Children[0].ID

	result := NewValidator(ValidatorConfig{}).Validate(parsed.Root)
	assert.False(t, result.IsValid)
	assert.Contains(t, issueMessages(result, SeverityError)[0], "duplicate node id")
}

func TestValidateDepthWarning(t *testing.T) {
	doc := `{"task": "leaf"}`
	for i := 0; i < 25; i++ {
		doc = `{"sequence": [` + doc + `]}`
	}
	result := validateDoc(t, doc, ValidatorConfig{})

	assert.True(t, result.IsValid, "depth is a warning, not an error")
	warnings := issueMessages(result, SeverityWarning)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "depth")
}

func TestValidateTaskCatalog(t *testing.T) {
	cfg := ValidatorConfig{
		TaskCatalog: map[string][]string{"fetch": {"http.get"}},
		ToolCatalog: []string{"http.get", "calculator"},
	}

	result := validateDoc(t, `{"task": "fetch", "tools": ["http.get"]}`, cfg)
	assert.True(t, result.IsValid)

	result = validateDoc(t, `{"task": "unknown_task"}`, cfg)
	assert.False(t, result.IsValid)
	assert.Contains(t, issueMessages(result, SeverityError)[0], "unknown task")

	// Known task missing a required tool warns but stays valid.
	result = validateDoc(t, `{"task": "fetch"}`, cfg)
	assert.True(t, result.IsValid)
	assert.Contains(t, issueMessages(result, SeverityWarning)[0], "missing required tool")

	// Unknown tool is an error.
	result = validateDoc(t, `{"task": "fetch", "tools": ["http.get", "teleport"]}`, cfg)
	assert.False(t, result.IsValid)
}

func TestValidateParallelWidthWarning(t *testing.T) {
	doc := `{"parallel": [
		{"task": "t1"}, {"task": "t2"}, {"task": "t3"}, {"task": "t4"}
	]}`
	result := validateDoc(t, doc, ValidatorConfig{MaxParallelTasks: 3})

	assert.True(t, result.IsValid)
	warnings := issueMessages(result, SeverityWarning)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "parallel block")
}

func TestValidateDurationEstimate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want float64
	}{
		{"sequence sums", `{"sequence": [{"task": "a", "timeout": 10}, {"task": "b", "timeout": 20}]}`, 30},
		{"parallel takes max", `{"parallel": [{"task": "a", "timeout": 10}, {"task": "b", "timeout": 20}]}`, 20},
		{"condition averages", `{"if": "true", "then": [{"task": "a", "timeout": 10}], "else": [{"task": "b", "timeout": 30}]}`, 20},
		{"wait contributes timeout", `{"wait": {"condition": "true", "timeout": 12}}`, 12},
		{"loop caps at 10 iterations", `{"loop": {"condition": "true", "body": [{"task": "a", "timeout": 5}], "max_iterations": 100}}`, 50},
		{"loop below cap", `{"loop": {"condition": "true", "body": [{"task": "a", "timeout": 5}], "max_iterations": 3}}`, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateDoc(t, tt.doc, ValidatorConfig{})
			assert.Equal(t, tt.want, result.EstimatedDuration)
		})
	}
}

func TestValidateDurationWarning(t *testing.T) {
	doc := `{"task": "slow", "timeout": 4000}`
	result := validateDoc(t, doc, ValidatorConfig{})

	assert.True(t, result.IsValid)
	warnings := issueMessages(result, SeverityWarning)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "estimated duration")
}

func TestValidateSecurityHeuristics(t *testing.T) {
	doc := `{"task": "cleanup", "tools": ["file.delete"], "parameters": {"path": "${context.dir}"}}`
	result := validateDoc(t, doc, ValidatorConfig{})

	assert.True(t, result.IsValid)
	warnings := issueMessages(result, SeverityWarning)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "sensitive tool")

	infos := issueMessages(result, SeverityInfo)
	require.NotEmpty(t, infos)
	assert.Contains(t, infos[0], "template substitution")
}

func TestValidateNilRoot(t *testing.T) {
	result := NewValidator(ValidatorConfig{}).Validate(nil)
	assert.False(t, result.IsValid)
}
