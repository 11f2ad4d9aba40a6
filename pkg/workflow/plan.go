// Package workflow executes task graphs: the ParallelEngine schedules
// dependency-ordered batches of tasks, and the DSL engine lowers parsed
// workflow trees onto the same execution substrate.
package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

// TaskNode is one schedulable unit of an ExecutionPlan.
type TaskNode struct {
	ID           string          `json:"task_id"`
	Task         execution.Task  `json:"task"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Resources    []string        `json:"resources,omitempty"`

	// Computed by the plan.
	Dependents []string `json:"dependents,omitempty"`

	Status      execution.Status  `json:"status"`
	Result      *execution.Result `json:"result,omitempty"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
}

// NewTaskNode creates a pending node for a task.
func NewTaskNode(id string, task execution.Task, dependencies ...string) *TaskNode {
	return &TaskNode{
		ID:           id,
		Task:         task,
		Dependencies: dependencies,
		Status:       execution.StatusPending,
	}
}

// ExecutionPlan is a task graph keyed by task id, with dependents computed
// by reverse-indexing dependencies.
type ExecutionPlan struct {
	PlanID string               `json:"plan_id"`
	Nodes  map[string]*TaskNode `json:"nodes"`

	// order preserves insertion order for stable scheduling.
	order []string
}

// NewExecutionPlan builds a plan from nodes, computing dependents.
func NewExecutionPlan(nodes ...*TaskNode) *ExecutionPlan {
	plan := &ExecutionPlan{
		PlanID: uuid.NewString(),
		Nodes:  make(map[string]*TaskNode, len(nodes)),
	}
	for _, node := range nodes {
		plan.Nodes[node.ID] = node
		plan.order = append(plan.order, node.ID)
	}
	for _, node := range nodes {
		for _, dep := range node.Dependencies {
			if parent, exists := plan.Nodes[dep]; exists {
				parent.Dependents = append(parent.Dependents, node.ID)
			}
		}
	}
	return plan
}

// TaskIDs returns the node ids in insertion order.
func (p *ExecutionPlan) TaskIDs() []string {
	return append([]string(nil), p.order...)
}

// Validate checks the plan for missing dependencies, circular dependencies,
// and reports resource conflicts (tasks sharing a named resource). Conflicts
// are informational; the engine serializes them with mutexes.
func (p *ExecutionPlan) Validate() (conflicts []string, err error) {
	for _, id := range p.order {
		node := p.Nodes[id]
		for _, dep := range node.Dependencies {
			if _, exists := p.Nodes[dep]; !exists {
				return nil, execution.NewError(execution.CodePlanning, "ExecutionPlan", "Validate",
					fmt.Sprintf("task %q depends on unknown task %q", id, dep), nil)
			}
		}
	}

	if cycle := p.findCycle(); cycle != nil {
		return nil, execution.NewError(execution.CodePlanning, "ExecutionPlan", "Validate",
			fmt.Sprintf("circular dependency: %s", joinArrow(cycle)), nil)
	}

	byResource := map[string][]string{}
	for _, id := range p.order {
		for _, resource := range p.Nodes[id].Resources {
			byResource[resource] = append(byResource[resource], id)
		}
	}
	resources := make([]string, 0, len(byResource))
	for resource := range byResource {
		resources = append(resources, resource)
	}
	sort.Strings(resources)
	for _, resource := range resources {
		if holders := byResource[resource]; len(holders) > 1 {
			conflicts = append(conflicts,
				fmt.Sprintf("resource %q shared by tasks %v", resource, holders))
		}
	}
	return conflicts, nil
}

func (p *ExecutionPlan) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(p.Nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = inStack
		stack = append(stack, id)
		for _, dep := range p.Nodes[id].Dependencies {
			if _, exists := p.Nodes[dep]; !exists {
				continue
			}
			switch state[dep] {
			case inStack:
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

	for _, id := range p.order {
		if state[id] != unvisited {
			continue
		}
		stack = stack[:0]
		if cycle := visit(id); cycle != nil {
			return cycle
		}
	}
	return nil
}

// remaining returns ids of nodes that are not yet terminal.
func (p *ExecutionPlan) remaining() []string {
	var ids []string
	for _, id := range p.order {
		if !p.Nodes[id].Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// readyBatch returns pending nodes whose dependencies all completed.
func (p *ExecutionPlan) readyBatch() []*TaskNode {
	var batch []*TaskNode
	for _, id := range p.order {
		node := p.Nodes[id]
		if node.Status != execution.StatusPending {
			continue
		}
		ready := true
		for _, dep := range node.Dependencies {
			if p.Nodes[dep].Status != execution.StatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			batch = append(batch, node)
		}
	}
	return batch
}

// skipDependents marks every transitive dependent of id as SKIPPED and
// returns the skipped nodes in plan order.
func (p *ExecutionPlan) skipDependents(id string) []*TaskNode {
	skippedSet := map[string]bool{}
	var mark func(string)
	mark = func(from string) {
		for _, dependent := range p.Nodes[from].Dependents {
			node := p.Nodes[dependent]
			if node.Status.IsTerminal() || skippedSet[dependent] {
				continue
			}
			skippedSet[dependent] = true
			mark(dependent)
		}
	}
	mark(id)

	var skipped []*TaskNode
	for _, nodeID := range p.order {
		if skippedSet[nodeID] {
			node := p.Nodes[nodeID]
			node.Status = execution.StatusSkipped
			skipped = append(skipped, node)
		}
	}
	return skipped
}

func joinArrow(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}
