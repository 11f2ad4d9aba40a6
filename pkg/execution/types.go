// Package execution defines the shared execution data model: tasks,
// execution contexts, results, statuses, and typed errors used across the
// tool substrate, workflow engines, and agents.
package execution

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// STATUS
// ============================================================================

// Status represents the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
	StatusCancelled Status = "CANCELLED"
	StatusPaused    Status = "PAUSED"
	StatusSkipped   Status = "SKIPPED"
)

// IsTerminal returns whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// ============================================================================
// TASK
// ============================================================================

// Task is the immutable unit of work submitted to an agent or engine.
// Either Description drives an LLM-assisted run, or Tool/Operation name a
// direct tool invocation.
type Task struct {
	TaskID      string         `json:"task_id"`
	Description string         `json:"description"`
	Tool        string         `json:"tool,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Type        string         `json:"type,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
	MaxRetries  int            `json:"max_retries,omitempty"`
}

// NewTask creates a task with a generated id.
func NewTask(description string) Task {
	return Task{
		TaskID:      uuid.NewString(),
		Description: description,
	}
}

// IsDirect reports whether the task names an explicit tool operation.
func (t Task) IsDirect() bool {
	return t.Tool != ""
}

// ============================================================================
// RESULT
// ============================================================================

// Result is the outcome of one logical execution (task, step, or node).
type Result struct {
	ExecutionID  string    `json:"execution_id"`
	StepID       string    `json:"step_id,omitempty"`
	Status       Status    `json:"status"`
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
	Output       any       `json:"result,omitempty"`
	ErrorCode    Code      `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Causes       []Cause   `json:"causes,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
}

// NewResult creates a running result for the given execution.
func NewResult(executionID, stepID string) *Result {
	return &Result{
		ExecutionID: executionID,
		StepID:      stepID,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
}

// Complete marks the result successful with the given output.
func (r *Result) Complete(output any) *Result {
	r.Status = StatusCompleted
	r.Success = true
	r.Output = output
	r.CompletedAt = time.Now().UTC()
	return r
}

// Fail marks the result failed with a machine code and message.
func (r *Result) Fail(code Code, message string) *Result {
	r.Status = statusForCode(code)
	r.Success = false
	r.ErrorCode = code
	r.ErrorMessage = message
	r.CompletedAt = time.Now().UTC()
	return r
}

// FailFromError marks the result failed from an error value, preserving the
// machine code and causes when the error is a typed *Error.
func (r *Result) FailFromError(err error) *Result {
	code, message := Classify(err)
	r.Fail(code, message)
	if e, ok := err.(*Error); ok {
		r.Causes = e.Causes
	}
	return r
}

// Duration returns the wall-clock duration, zero if still running.
func (r *Result) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

func statusForCode(code Code) Status {
	switch code {
	case CodeTimeout:
		return StatusTimedOut
	case CodeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}
