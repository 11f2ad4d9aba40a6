package execution

import (
	"context"
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeToolNotFound      Code = "TOOL_NOT_FOUND"
	CodeOperationNotFound Code = "TOOL_OPERATION_NOT_FOUND"
	CodeExecution         Code = "EXECUTION_ERROR"
	CodeTimeout           Code = "TIMEOUT_ERROR"
	CodeCancelled         Code = "CANCELLED"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	CodePlanning          Code = "PLANNING_ERROR"
	CodeRecoveryExhausted Code = "RECOVERY_EXHAUSTED"
	CodeLLM               Code = "LLM_ERROR"
	CodeHook              Code = "HOOK_ERROR"
)

// Cause records one failed attempt inside a recovery chain.
type Cause struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error"`
}

// Error is the typed error carried across subsystem boundaries.
type Error struct {
	Code      Code
	Component string
	Action    string
	Message   string
	Causes    []Cause
	Err       error
}

func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Component != "" {
		prefix = fmt.Sprintf("%s [%s:%s]", e.Code, e.Component, e.Action)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed error with a machine code.
func NewError(code Code, component, action, message string, err error) *Error {
	return &Error{
		Code:      code,
		Component: component,
		Action:    action,
		Message:   message,
		Err:       err,
	}
}

// Classify extracts a machine code and message from any error. Context
// cancellation and deadline errors map to CANCELLED and TIMEOUT_ERROR even
// when wrapped.
func Classify(err error) (Code, string) {
	if err == nil {
		return "", ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code, typed.Message
	}
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCancelled, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, err.Error()
	}
	return CodeExecution, err.Error()
}

/// IsRetryable reports whether an error is worth retrying: timeouts,
// transient provider failures, and rate-limit style exhaustion.
func IsRetryable(err error) bool {
	code, _ := Classify(err)
	switch code {
	case CodeTimeout, CodeLLM, CodeResourceExhausted:
		return true
	}
	return false
}

// Exit codes for the CLI boundary.
const (
	ExitOK                = 0
	ExitValidation        = 1
	ExitExecution         = 2
	ExitTimeout           = 3
	ExitCancelled         = 4
	ExitResourceExhausted = 5
)

// ExitCode maps an error to the CLI exit code contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	code, _ := Classify(err)
	switch code {
	case CodeValidation, CodePlanning:
		return ExitValidation
	case CodeTimeout:
		return ExitTimeout
	case CodeCancelled:
		return ExitCancelled
	case CodeResourceExhausted:
		return ExitResourceExhausted
	default:
		return ExitExecution
	}
}
