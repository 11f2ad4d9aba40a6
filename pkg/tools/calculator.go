package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

// calculatorArgs is the schema prototype for all calculator operations.
type calculatorArgs struct {
	A float64 `json:"a" jsonschema:"required,description=First operand"`
	B float64 `json:"b" jsonschema:"required,description=Second operand"`
}

// CalculatorTool performs basic arithmetic. It exists for workflow smoke
// tests and as the reference implementation of a multi-operation tool.
type CalculatorTool struct{}

// NewCalculatorTool creates the calculator.
func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{}
}

func (t *CalculatorTool) GetName() string { return "calculator" }

func (t *CalculatorTool) GetDescription() string {
	return "Performs basic arithmetic on two numeric operands"
}

func (t *CalculatorTool) GetInfo() ToolInfo {
	ops := make([]OperationInfo, 0, 4)
	for _, op := range []struct{ name, desc string }{
		{"add", "Adds a and b"},
		{"subtract", "Subtracts b from a"},
		{"multiply", "Multiplies a and b"},
		{"divide", "Divides a by b; b must be non-zero"},
	} {
		ops = append(ops, OperationInfo{
			Name:        op.name,
			Description: op.desc,
			Args:        &calculatorArgs{},
		})
	}
	return ToolInfo{
		Name:             "calculator",
		Description:      t.GetDescription(),
		Operations:       ops,
		DefaultOperation: "add",
	}
}

func (t *CalculatorTool) ValidateParams(operation string, params map[string]any) error {
	a, okA := numeric(params["a"])
	_, okB := numeric(params["b"])
	if !okA || !okB {
		return execution.NewError(execution.CodeValidation, "calculator", operation,
			"parameters 'a' and 'b' must be numbers; pass e.g. {\"a\": 5, \"b\": 3}", nil)
	}
	if operation == "divide" {
		if b, _ := numeric(params["b"]); b == 0 {
			return execution.NewError(execution.CodeValidation, "calculator", operation,
				"division by zero; 'b' must be non-zero", nil)
		}
	}
	_ = a
	return nil
}

func (t *CalculatorTool) Execute(ctx context.Context, operation string, params map[string]any) (ToolResult, error) {
	start := time.Now()

	a, _ := numeric(params["a"])
	b, _ := numeric(params["b"])

	var value float64
	switch operation {
	case "add":
		value = a + b
	case "subtract":
		value = a - b
	case "multiply":
		value = a * b
	case "divide":
		if b == 0 {
			err := execution.NewError(execution.CodeExecution, "calculator", "divide", "division by zero", nil)
			return errorResult("calculator", operation, err.Error(), time.Since(start)), err
		}
		value = a / b
	default:
		err := execution.NewError(execution.CodeOperationNotFound, "calculator", operation,
			fmt.Sprintf("unknown operation %q", operation), nil)
		return errorResult("calculator", operation, err.Error(), time.Since(start)), err
	}

	return successResult("calculator", operation, fmt.Sprintf("%g", value), value, time.Since(start)), nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
