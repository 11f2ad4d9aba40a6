package dsl

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Issue is one validation finding.
type Issue struct {
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	NodeID     string   `json:"node_id,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// ValidationResult is the full outcome of validating a tree. IsValid holds
// exactly when no ERROR issue was raised.
type ValidationResult struct {
	IsValid           bool                `json:"is_valid"`
	Issues            []Issue             `json:"issues"`
	DependencyGraph   map[string][]string `json:"dependency_graph"`
	ExecutionOrder    []string            `json:"execution_order"`
	EstimatedDuration float64             `json:"estimated_duration,omitempty"`
}

// ValidatorConfig configures tree validation. Catalogs are optional; nil
// catalogs skip resource checks.
type ValidatorConfig struct {
	MaxDepth             int     // warn beyond this nesting depth
	MaxExecutionDuration float64 // seconds; warn when the estimate exceeds it
	MaxParallelTasks     int     // warn when a parallel block is wider
	DefaultTaskDuration  float64 // seconds assumed for tasks without a timeout

	// TaskCatalog maps known task names to their required tools.
	TaskCatalog map[string][]string
	// ToolCatalog lists the tools available to the engine.
	ToolCatalog []string
}

func (c *ValidatorConfig) setDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 20
	}
	if c.MaxExecutionDuration <= 0 {
		c.MaxExecutionDuration = 3600
	}
	if c.MaxParallelTasks <= 0 {
		c.MaxParallelTasks = 10
	}
	if c.DefaultTaskDuration <= 0 {
		c.DefaultTaskDuration = 60
	}
}

// Validator checks parsed trees for structural, dependency, resource, and
// cost problems beyond what the parser enforces.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	cfg.setDefaults()
	return &Validator{cfg: cfg}
}

// securityPatterns flag dangerous tool names.
var securityPatterns = []string{"file.delete", "system.execute", "network.request"}

// resultRefPattern extracts ${result.<node_id>.<path>} references from
// parameter templates and condition expressions.
var resultRefPattern = regexp.MustCompile(`\$\{result\.([A-Za-z_][A-Za-z0-9_]*)[.}]`)

// exprResultRefPattern extracts bare result.<node_id> references from
// condition expressions.
var exprResultRefPattern = regexp.MustCompile(`\bresult\.([A-Za-z_][A-Za-z0-9_]*)`)

// Validate runs every check over the tree rooted at root.
func (v *Validator) Validate(root *Node) *ValidationResult {
	result := &ValidationResult{
		Issues:          []Issue{},
		DependencyGraph: map[string][]string{},
	}
	if root == nil {
		result.addIssue(SeverityError, "workflow tree is empty", "", "provide at least one step")
		result.IsValid = false
		return result
	}

	nodes, order := collectNodes(root)

	v.checkDuplicateIDs(order, result)
	v.checkDepth(root, result)

	v.buildDependencyGraph(root, nodes, result)
	v.checkMissingDependencies(nodes, result)
	v.checkCycles(order, result)
	v.checkResources(order, result)
	v.checkReachability(root, order, result)

	if !result.hasErrors() {
		result.ExecutionOrder = topologicalOrder(order, result.DependencyGraph)
	}

	result.EstimatedDuration = v.estimateDuration(root)
	if result.EstimatedDuration > v.cfg.MaxExecutionDuration {
		result.addIssue(SeverityWarning,
			fmt.Sprintf("estimated duration %.0fs exceeds limit %.0fs", result.EstimatedDuration, v.cfg.MaxExecutionDuration),
			root.ID, "split the workflow or raise max_execution_duration")
	}

	v.checkSecurity(order, result)

	result.IsValid = !result.hasErrors()
	return result
}

func (r *ValidationResult) addIssue(severity Severity, message, nodeID, suggestion string) {
	r.Issues = append(r.Issues, Issue{Severity: severity, Message: message, NodeID: nodeID, Suggestion: suggestion})
}

func (r *ValidationResult) hasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// collectNodes walks the tree in document order.
func collectNodes(root *Node) (map[string]*Node, []*Node) {
	nodes := make(map[string]*Node)
	var order []*Node
	root.Walk(func(n *Node) bool {
		if _, dup := nodes[n.ID]; !dup {
			nodes[n.ID] = n
		}
		order = append(order, n)
		return true
	})
	return nodes, order
}

func (v *Validator) checkDuplicateIDs(order []*Node, result *ValidationResult) {
	seen := make(map[string]bool, len(order))
	for _, n := range order {
		if seen[n.ID] {
			result.addIssue(SeverityError, fmt.Sprintf("duplicate node id %q", n.ID), n.ID,
				"node ids must be unique across the tree")
		}
		seen[n.ID] = true
	}
}

func (v *Validator) checkDepth(root *Node, result *ValidationResult) {
	if depth := root.Depth(); depth > v.cfg.MaxDepth {
		result.addIssue(SeverityWarning,
			fmt.Sprintf("tree depth %d exceeds recommended maximum %d", depth, v.cfg.MaxDepth),
			root.ID, "flatten deeply nested structures")
	}
}

// buildDependencyGraph computes node_id → dependency ids. Explicit
// dependencies come from depends_on (by node id or task name); implicit
// ones from ${result.<id>.<path>} parameter templates and result.<id>
// condition references; each child of a SEQUENCE additionally depends on
// its previous sibling.
func (v *Validator) buildDependencyGraph(root *Node, nodes map[string]*Node, result *ValidationResult) {
	byTaskName := map[string][]string{}
	root.Walk(func(n *Node) bool {
		if n.Task != nil {
			byTaskName[n.Task.Name] = append(byTaskName[n.Task.Name], n.ID)
		}
		return true
	})

	root.Walk(func(n *Node) bool {
		deps := map[string]bool{}

		if n.Task != nil {
			for _, ref := range n.Task.DependsOn {
				if _, exists := nodes[ref]; exists {
					deps[ref] = true
					continue
				}
				ids, named := byTaskName[ref]
				if !named {
					// Keep the unresolved reference so the
					// missing-dependency check reports it.
					deps[ref] = true
					continue
				}
				for _, id := range ids {
					if id != n.ID {
						deps[id] = true
					}
				}
			}
		}

		for _, expr := range nodeExpressions(n) {
			for _, match := range exprResultRefPattern.FindAllStringSubmatch(expr, -1) {
				deps[match[1]] = true
			}
		}
		if n.Task != nil {
			for _, value := range n.Task.Parameters {
				s, ok := value.(string)
				if !ok {
					continue
				}
				for _, match := range resultRefPattern.FindAllStringSubmatch(s, -1) {
					deps[match[1]] = true
				}
			}
		}

		if n.parent != nil && n.parent.Type == NodeSequence {
			for i, sibling := range n.parent.Children {
				if sibling == n && i > 0 {
					deps[n.parent.Children[i-1].ID] = true
				}
			}
		}

		delete(deps, n.ID)
		list := make([]string, 0, len(deps))
		for id := range deps {
			list = append(list, id)
		}
		sort.Strings(list)
		result.DependencyGraph[n.ID] = list
		return true
	})
}

// nodeExpressions returns every condition expression attached to a node.
func nodeExpressions(n *Node) []string {
	var exprs []string
	if n.Cond != nil {
		exprs = append(exprs, n.Cond.Expression)
	}
	if n.Loop != nil {
		exprs = append(exprs, n.Loop.Condition)
	}
	if n.Wait != nil {
		exprs = append(exprs, n.Wait.Condition)
	}
	if n.Task != nil {
		exprs = append(exprs, n.Task.Conditions...)
	}
	return exprs
}

func (v *Validator) checkMissingDependencies(nodes map[string]*Node, result *ValidationResult) {
	for id, deps := range result.DependencyGraph {
		for _, dep := range deps {
			if _, exists := nodes[dep]; !exists {
				result.addIssue(SeverityError,
					fmt.Sprintf("node %q depends on unknown node %q", id, dep), id,
					"reference an existing node id")
			}
		}
	}
}

// checkCycles runs DFS with a recursion stack over the dependency graph.
func (v *Validator) checkCycles(order []*Node, result *ValidationResult) {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = inStack
		stack = append(stack, id)
		for _, dep := range result.DependencyGraph[id] {
			switch state[dep] {
			case inStack:
				// Reconstruct the cycle from the stack.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				return append(append([]string{}, stack[start:]...), dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, n := range order {
		if state[n.ID] != unvisited {
			continue
		}
		stack = stack[:0]
		if cycle := visit(n.ID); cycle != nil {
			result.addIssue(SeverityError,
				fmt.Sprintf("circular dependency: %s", strings.Join(cycle, " -> ")),
				cycle[0], "break the cycle by removing one dependency")
			return
		}
	}
}

func (v *Validator) checkResources(order []*Node, result *ValidationResult) {
	toolSet := make(map[string]bool, len(v.cfg.ToolCatalog))
	for _, tool := range v.cfg.ToolCatalog {
		toolSet[tool] = true
	}

	for _, n := range order {
		if n.Task == nil {
			continue
		}

		if v.cfg.TaskCatalog != nil {
			required, known := v.cfg.TaskCatalog[n.Task.Name]
			if !known {
				result.addIssue(SeverityError,
					fmt.Sprintf("unknown task %q", n.Task.Name), n.ID,
					"register the task with the engine or fix the name")
				continue
			}
			declared := make(map[string]bool, len(n.Task.Tools))
			for _, tool := range n.Task.Tools {
				declared[tool] = true
			}
			for _, tool := range required {
				if !declared[tool] {
					result.addIssue(SeverityWarning,
						fmt.Sprintf("task %q is missing required tool %q", n.Task.Name, tool), n.ID,
						"add the tool to the step's tools list")
				}
			}
		}

		if v.cfg.ToolCatalog != nil {
			for _, tool := range n.Task.Tools {
				if !toolSet[tool] {
					result.addIssue(SeverityError,
						fmt.Sprintf("unknown tool %q on task %q", tool, n.Task.Name), n.ID,
						"register the tool or remove it from the step")
				}
			}
		}
	}

	for _, n := range order {
		if n.Type == NodeParallel && len(n.Children) > v.cfg.MaxParallelTasks {
			result.addIssue(SeverityWarning,
				fmt.Sprintf("parallel block has %d branches, limit is %d", len(n.Children), v.cfg.MaxParallelTasks),
				n.ID, "reduce the branch count or raise max_parallel_tasks")
		}
	}
}

func (v *Validator) checkReachability(root *Node, order []*Node, result *ValidationResult) {
	reachable := make(map[string]bool, len(order))
	root.Walk(func(n *Node) bool {
		reachable[n.ID] = true
		return true
	})
	for _, n := range order {
		if !reachable[n.ID] {
			result.addIssue(SeverityWarning,
				fmt.Sprintf("node %q is unreachable from the root", n.ID), n.ID,
				"attach the node to the tree or remove it")
		}
	}
}

// topologicalOrder computes a stable total order over the dependency graph
// (Kahn's algorithm; ties broken by document order). Callers only invoke it
// on acyclic graphs.
func topologicalOrder(order []*Node, graph map[string][]string) []string {
	indegree := make(map[string]int, len(order))
	dependents := make(map[string][]string, len(order))
	for _, n := range order {
		indegree[n.ID] = 0
	}
	for id, deps := range graph {
		for _, dep := range deps {
			if _, exists := indegree[dep]; !exists {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	sorted := make([]string, 0, len(order))
	scheduled := make(map[string]bool, len(order))
	for len(sorted) < len(order) {
		progressed := false
		for _, n := range order {
			if scheduled[n.ID] || indegree[n.ID] > 0 {
				continue
			}
			scheduled[n.ID] = true
			sorted = append(sorted, n.ID)
			for _, dependent := range dependents[n.ID] {
				indegree[dependent]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return sorted
}

// estimateDuration applies the cost model: sequences sum, parallels take
// the max, conditions average their branches, loops multiply the body by
// min(max_iterations, 10), waits contribute their timeout.
func (v *Validator) estimateDuration(n *Node) float64 {
	switch n.Type {
	case NodeTask:
		if n.Task.Timeout > 0 {
			return n.Task.Timeout
		}
		return v.cfg.DefaultTaskDuration

	case NodeSequence:
		total := 0.0
		for _, child := range n.Children {
			total += v.estimateDuration(child)
		}
		return total

	case NodeParallel:
		longest := 0.0
		for _, child := range n.Children {
			if d := v.estimateDuration(child); d > longest {
				longest = d
			}
		}
		return longest

	case NodeCondition:
		if len(n.Children) == 0 {
			return 0
		}
		total := 0.0
		for _, child := range n.Children {
			total += v.estimateDuration(child)
		}
		return total / float64(len(n.Children))

	case NodeLoop:
		iterations := n.Loop.MaxIterations
		// The estimate caps at 10 iterations; it is a planning heuristic,
		// not an execution bound.
		if iterations > 10 {
			iterations = 10
		}
		body := 0.0
		for _, child := range n.Children {
			body += v.estimateDuration(child)
		}
		return body * float64(iterations)

	case NodeWait:
		return n.Wait.Timeout
	}
	return 0
}

func (v *Validator) checkSecurity(order []*Node, result *ValidationResult) {
	for _, n := range order {
		if n.Task == nil {
			continue
		}
		for _, tool := range n.Task.Tools {
			for _, pattern := range securityPatterns {
				if strings.Contains(tool, pattern) {
					result.addIssue(SeverityWarning,
						fmt.Sprintf("task %q uses sensitive tool %q", n.Task.Name, tool), n.ID,
						"confirm the tool is sandboxed for this workflow")
				}
			}
		}
		for name, value := range n.Task.Parameters {
			if s, ok := value.(string); ok && strings.Contains(s, "${") {
				result.addIssue(SeverityInfo,
					fmt.Sprintf("parameter %q on task %q uses template substitution", name, n.Task.Name), n.ID, "")
			}
		}
	}
}
