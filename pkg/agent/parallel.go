package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/tools"
)

// ToolCallResult pairs one model-emitted tool call with its outcome. The
// slice returned by the executors below preserves call order regardless of
// completion order.
type ToolCallResult struct {
	Call        llms.ToolCall      `json:"call"`
	Result      tools.ToolResult   `json:"result"`
	Observation *tools.Observation `json:"observation,omitempty"`
	Cached      bool               `json:"cached,omitempty"`
	Err         error              `json:"-"`
}

// ExecuteToolsParallel runs independent tool calls concurrently, bounded by
// maxConcurrency (capped at len(calls)). Results are returned in call
// order; individual failures are captured per entry and never abort
// siblings.
func ExecuteToolsParallel(ctx context.Context, executor *tools.Executor, calls []llms.ToolCall, maxConcurrency int) []ToolCallResult {
	results := make([]ToolCallResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	width := maxConcurrency
	if width <= 0 || width > len(calls) {
		width = len(calls)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(width)
	for i, call := range calls {
		i, call := i, call
		group.Go(func() error {
			results[i] = runToolCall(groupCtx, executor, call)
			return nil
		})
	}
	group.Wait()
	return results
}

// ExecuteToolsWithDependencies runs tool calls in dependency-ordered
// batches. Dependencies come from each call's DependsOn indices and from
// ${result[i].*} references in string arguments, which are substituted
// with the producing call's result before execution.
func ExecuteToolsWithDependencies(ctx context.Context, executor *tools.Executor, calls []llms.ToolCall, maxConcurrency int) ([]ToolCallResult, error) {
	deps, err := callDependencies(calls)
	if err != nil {
		return nil, err
	}

	results := make([]ToolCallResult, len(calls))
	done := make([]bool, len(calls))

	for completed := 0; completed < len(calls); {
		var batch []int
		for i := range calls {
			if done[i] {
				continue
			}
			ready := true
			for _, dep := range deps[i] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, i)
			}
		}
		if len(batch) == 0 {
			return nil, execution.NewError(execution.CodePlanning, "Agent", "ExecuteToolsWithDependencies",
				"circular dependency among tool calls", nil)
		}

		width := maxConcurrency
		if width <= 0 || width > len(batch) {
			width = len(batch)
		}
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(width)
		for _, i := range batch {
			i := i
			call := calls[i]
			call.Arguments = substituteCallRefs(call.Arguments, results)
			group.Go(func() error {
				results[i] = runToolCall(groupCtx, executor, call)
				return nil
			})
		}
		group.Wait()

		for _, i := range batch {
			done[i] = true
			completed++
		}
	}
	return results, nil
}

func runToolCall(ctx context.Context, executor *tools.Executor, call llms.ToolCall) ToolCallResult {
	out := ToolCallResult{Call: call}

	tool, operation, params, err := executor.Registry().ResolveFunction(call.Name, call.Arguments)
	if err != nil {
		out.Err = err
		obs := tools.NewObservation(call.Name, "", call.Arguments)
		obs.Observe(nil, err, 0)
		out.Observation = obs
		out.Result = tools.ToolResult{Success: false, Error: err.Error(), ToolName: call.Name}
		return out
	}

	outcome, err := executor.Invoke(ctx, tools.InvokeRequest{
		Tool:      tool.GetName(),
		Operation: operation,
		Params:    params,
	})
	if outcome != nil {
		out.Result = outcome.Result
		out.Observation = outcome.Observation
		out.Cached = outcome.Cached
	}
	out.Err = err
	if err != nil && out.Observation == nil {
		obs := tools.NewObservation(tool.GetName(), operation, params)
		obs.Observe(nil, err, 0)
		out.Observation = obs
	}
	return out
}

// callRefPattern matches ${result[i].<path>} references between calls.
var callRefPattern = regexp.MustCompile(`\$\{result\[(\d+)\]\.([^}]+)\}`)

// callDependencies derives, per call, the indices it depends on: explicit
// DependsOn entries plus indices referenced by argument templates.
// Forward references (to the call itself or later calls) are invalid.
func callDependencies(calls []llms.ToolCall) ([][]int, error) {
	deps := make([][]int, len(calls))
	for i, call := range calls {
		seen := map[int]bool{}
		add := func(idx int) error {
			if idx < 0 || idx >= i {
				return execution.NewError(execution.CodeValidation, "Agent", "callDependencies",
					fmt.Sprintf("tool call %d references result[%d], which is not an earlier call", i, idx), nil)
			}
			if !seen[idx] {
				seen[idx] = true
				deps[i] = append(deps[i], idx)
			}
			return nil
		}

		for _, idx := range call.DependsOn {
			if err := add(idx); err != nil {
				return nil, err
			}
		}
		for _, value := range call.Arguments {
			s, ok := value.(string)
			if !ok {
				continue
			}
			for _, match := range callRefPattern.FindAllStringSubmatch(s, -1) {
				var idx int
				fmt.Sscanf(match[1], "%d", &idx)
				if err := add(idx); err != nil {
					return nil, err
				}
			}
		}
	}
	return deps, nil
}

// substituteCallRefs resolves ${result[i].<path>} references against
// completed results. A value that is exactly one reference keeps the native
// type; unresolved references stay literal.
func substituteCallRefs(args map[string]any, results []ToolCallResult) map[string]any {
	resolved := make(map[string]any, len(args))
	for key, value := range args {
		s, ok := value.(string)
		if !ok {
			resolved[key] = value
			continue
		}
		if match := callRefPattern.FindStringSubmatch(s); match != nil && match[0] == s {
			if v, ok := lookupCallRef(match[1], match[2], results); ok {
				resolved[key] = v
				continue
			}
		}
		resolved[key] = callRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
			match := callRefPattern.FindStringSubmatch(ref)
			if v, ok := lookupCallRef(match[1], match[2], results); ok {
				return fmt.Sprintf("%v", v)
			}
			return ref
		})
	}
	return resolved
}

func lookupCallRef(index, path string, results []ToolCallResult) (any, bool) {
	var idx int
	fmt.Sscanf(index, "%d", &idx)
	if idx < 0 || idx >= len(results) {
		return nil, false
	}
	r := results[idx].Result
	fields := map[string]any{
		"output":  r.Output,
		"content": r.Content,
		"success": r.Success,
		"error":   r.Error,
	}

	parts := strings.Split(path, ".")
	current, ok := fields[parts[0]]
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
