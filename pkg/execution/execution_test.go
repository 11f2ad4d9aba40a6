package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusPaused, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusTimedOut, true},
		{StatusCancelled, true},
		{StatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestResult_CompleteAndFail(t *testing.T) {
	r := NewResult("exec-1", "step-1")
	assert.Equal(t, StatusRunning, r.Status)

	r.Complete(42)
	assert.True(t, r.Success)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, 42, r.Output)
	assert.False(t, r.CompletedAt.IsZero())

	r2 := NewResult("exec-2", "")
	r2.Fail(CodeTimeout, "deadline breached")
	assert.False(t, r2.Success)
	assert.Equal(t, StatusTimedOut, r2.Status)
	assert.Equal(t, CodeTimeout, r2.ErrorCode)

	r3 := NewResult("exec-3", "")
	r3.Fail(CodeCancelled, "caller cancelled")
	assert.Equal(t, StatusCancelled, r3.Status)
}

func TestResult_FailFromError_PreservesCauses(t *testing.T) {
	err := &Error{
		Code:    CodeRecoveryExhausted,
		Message: "all recovery strategies failed",
		Causes: []Cause{
			{Strategy: "retry", Error: "timeout"},
			{Strategy: "fallback", Error: "no alternative"},
		},
	}

	r := NewResult("exec-1", "").FailFromError(err)
	assert.Equal(t, CodeRecoveryExhausted, r.ErrorCode)
	assert.Len(t, r.Causes, 2)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"typed", NewError(CodeToolNotFound, "registry", "get", "no such tool", nil), CodeToolNotFound},
		{"wrapped typed", fmt.Errorf("outer: %w", NewError(CodeLLM, "llm", "generate", "provider down", nil)), CodeLLM},
		{"context cancelled", context.Canceled, CodeCancelled},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"plain", errors.New("boom"), CodeExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := Classify(tt.err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"validation", NewError(CodeValidation, "dsl", "parse", "bad step", nil), ExitValidation},
		{"planning", NewError(CodePlanning, "engine", "plan", "cycle", nil), ExitValidation},
		{"timeout", context.DeadlineExceeded, ExitTimeout},
		{"cancelled", context.Canceled, ExitCancelled},
		{"resources", NewError(CodeResourceExhausted, "agent", "gate", "budget", nil), ExitResourceExhausted},
		{"generic", errors.New("boom"), ExitExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(CodeTimeout, "", "", "slow", nil)))
	assert.True(t, IsRetryable(NewError(CodeLLM, "", "", "rate limited", nil)))
	assert.False(t, IsRetryable(NewError(CodeValidation, "", "", "bad params", nil)))
	assert.False(t, IsRetryable(nil))
}

func TestContext_SharedDataIsolation(t *testing.T) {
	ectx := NewContext(map[string]any{"query": "q"})
	ectx.SetShared("step_1", "a")
	ectx.SetVariable("count", 3)

	v, ok := ectx.GetShared("step_1")
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	snapshot := ectx.SharedData()
	snapshot["step_1"] = "mutated"
	v, _ = ectx.GetShared("step_1")
	assert.Equal(t, "a", v, "snapshot mutation must not leak back")

	n, ok := ectx.GetVariable("count")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
}
