package observability

import (
	"context"
	"time"
)

// noopMetrics drops every recording. It is the default global recorder so
// instrumented code never nil-checks.
type noopMetrics struct{}

func (noopMetrics) RecordToolInvocation(context.Context, string, bool, bool, time.Duration) {}
func (noopMetrics) RecordLLMTokens(context.Context, string, int, int)                       {}
func (noopMetrics) RecordWorkflowNode(context.Context, string, string, time.Duration)      {}
func (noopMetrics) RecordCacheAccess(context.Context, bool)                                {}

// NoopMetrics returns a recorder that does nothing.
func NoopMetrics() Metrics { return noopMetrics{} }
