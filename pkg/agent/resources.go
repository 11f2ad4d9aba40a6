package agent

import (
	"context"
	"sync"
	"time"
)

// windowRetention is the sliding-window horizon for token and tool-call
// accounting.
const windowRetention = 60 * time.Second

// ResourceLimits bounds one agent's concurrent work and per-minute budgets.
type ResourceLimits struct {
	EnforceLimits          bool `mapstructure:"enforce_limits"`
	MaxConcurrentTasks     int  `mapstructure:"max_concurrent_tasks"`
	MaxTokensPerMinute     int  `mapstructure:"max_tokens_per_minute"`
	MaxToolCallsPerMinute  int  `mapstructure:"max_tool_calls_per_minute"`
	ResourcePollIntervalMS int  `mapstructure:"resource_poll_interval_ms"`
}

// SetDefaults fills zero values with the documented defaults.
func (l *ResourceLimits) SetDefaults() {
	if l.MaxConcurrentTasks <= 0 {
		l.MaxConcurrentTasks = 5
	}
	if l.MaxTokensPerMinute <= 0 {
		l.MaxTokensPerMinute = 10000
	}
	if l.MaxToolCallsPerMinute <= 0 {
		l.MaxToolCallsPerMinute = 60
	}
	if l.ResourcePollIntervalMS <= 0 {
		l.ResourcePollIntervalMS = 100
	}
}

type windowEntry struct {
	at     time.Time
	amount int
}

// slidingWindow accumulates (timestamp, amount) pairs and sums the entries
// younger than the retention horizon. Pruning happens on every read.
type slidingWindow struct {
	entries []windowEntry
}

func (w *slidingWindow) add(amount int, now time.Time) {
	w.entries = append(w.entries, windowEntry{at: now, amount: amount})
}

func (w *slidingWindow) sum(now time.Time) int {
	cutoff := now.Add(-windowRetention)
	kept := w.entries[:0]
	total := 0
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
			total += e.amount
		}
	}
	w.entries = kept
	return total
}

// Availability is the outcome of a resource check.
type Availability struct {
	Available bool     `json:"available"`
	Reasons   []string `json:"reasons,omitempty"`
}

// Usage is a snapshot of current resource consumption.
type Usage struct {
	ActiveTasks        int `json:"active_tasks"`
	TokensLastMinute   int `json:"tokens_last_minute"`
	ToolCallsLastMin   int `json:"tool_calls_last_minute"`
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
	MaxTokensPerMin    int `json:"max_tokens_per_minute"`
	MaxToolCallsPerMin int `json:"max_tool_calls_per_minute"`
}

// Governor enforces an agent's resource limits with sliding 60-second
// windows for tokens and tool calls and a live count of active tasks.
type Governor struct {
	limits ResourceLimits

	mu        sync.Mutex
	active    int
	tokens    slidingWindow
	toolCalls slidingWindow
	now       func() time.Time
}

// NewGovernor creates a governor for the given limits.
func NewGovernor(limits ResourceLimits) *Governor {
	limits.SetDefaults()
	return &Governor{limits: limits, now: time.Now}
}

// RecordTokens accounts generated or consumed tokens into the window.
func (g *Governor) RecordTokens(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens.add(n, g.now())
}

// RecordToolCall accounts one tool invocation into the window.
func (g *Governor) RecordToolCall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.toolCalls.add(1, g.now())
}

// TaskStarted increments the active-task count.
func (g *Governor) TaskStarted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active++
}

// TaskFinished decrements the active-task count.
func (g *Governor) TaskFinished() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
}

// CheckResourceAvailability reports whether a new task may start and, when
// not, which budgets are exhausted.
func (g *Governor) CheckResourceAvailability() Availability {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.limits.EnforceLimits {
		return Availability{Available: true}
	}

	now := g.now()
	var reasons []string
	if g.active >= g.limits.MaxConcurrentTasks {
		reasons = append(reasons, "max_concurrent_tasks reached")
	}
	if g.tokens.sum(now) >= g.limits.MaxTokensPerMinute {
		reasons = append(reasons, "max_tokens_per_minute reached")
	}
	if g.toolCalls.sum(now) >= g.limits.MaxToolCallsPerMinute {
		reasons = append(reasons, "max_tool_calls_per_minute reached")
	}
	return Availability{Available: len(reasons) == 0, Reasons: reasons}
}

// WaitForResources polls until resources are available or the timeout
// elapses. A zero timeout is a single check. Returns availability without
// error; timeout is an ordinary false, context cancellation too.
func (g *Governor) WaitForResources(ctx context.Context, timeout time.Duration) bool {
	if g.CheckResourceAvailability().Available {
		return true
	}
	if timeout <= 0 {
		return false
	}

	poll := time.Duration(g.limits.ResourcePollIntervalMS) * time.Millisecond
	deadline := g.now().Add(timeout)
	for {
		if g.now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
		if g.CheckResourceAvailability().Available {
			return true
		}
	}
}

// GetResourceUsage returns a snapshot of current consumption.
func (g *Governor) GetResourceUsage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	return Usage{
		ActiveTasks:        g.active,
		TokensLastMinute:   g.tokens.sum(now),
		ToolCallsLastMin:   g.toolCalls.sum(now),
		MaxConcurrentTasks: g.limits.MaxConcurrentTasks,
		MaxTokensPerMin:    g.limits.MaxTokensPerMinute,
		MaxToolCallsPerMin: g.limits.MaxToolCallsPerMinute,
	}
}
