package tools

import (
	"encoding/json"
	"fmt"
	"time"
)

// Observation is the structured record of one tool invocation. Exactly one
// observation is produced per invocation, cached or not.
type Observation struct {
	ToolName        string         `json:"tool_name"`
	Operation       string         `json:"operation,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Result          any            `json:"result,omitempty"`
	Success         bool           `json:"success"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
	Cached          bool           `json:"cached,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// NewObservation captures the timestamp at construction.
func NewObservation(toolName, operation string, params map[string]any) *Observation {
	return &Observation{
		ToolName:   toolName,
		Operation:  operation,
		Parameters: params,
		Timestamp:  time.Now().UTC(),
	}
}

// Observe records the outcome of an invocation measured with the duration
// of a monotonic clock reading.
func (o *Observation) Observe(result any, err error, elapsed time.Duration) *Observation {
	o.ExecutionTimeMS = float64(elapsed.Microseconds()) / 1000.0
	if err != nil {
		o.Success = false
		o.Error = err.Error()
		return o
	}
	o.Success = true
	o.Result = result
	return o
}

// ToMap returns a round-trip-safe map of all fields. The timestamp is
// rendered as ISO-8601 UTC.
func (o *Observation) ToMap() map[string]any {
	m := map[string]any{
		"tool_name":         o.ToolName,
		"parameters":        o.Parameters,
		"success":           o.Success,
		"execution_time_ms": o.ExecutionTimeMS,
		"timestamp":         o.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if o.Operation != "" {
		m["operation"] = o.Operation
	}
	if o.Result != nil {
		m["result"] = o.Result
	}
	if o.Error != "" {
		m["error"] = o.Error
	}
	if o.Cached {
		m["cached"] = true
	}
	return m
}

// Format renders the short human-readable block used in agent transcripts.
func (o *Observation) Format() string {
	status := "SUCCESS"
	body := formatValue(o.Result)
	if !o.Success {
		status = "FAILURE"
		body = o.Error
	}
	return fmt.Sprintf("Tool: %s\nParameters: %s\nStatus: %s\nResult: %s\nTime: %.2fms",
		o.ToolName, formatValue(o.Parameters), status, body, o.ExecutionTimeMS)
}

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
