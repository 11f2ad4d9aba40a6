// Package dsl implements the declarative workflow language: a JSON tree of
// task, sequence, parallel, condition, loop, and wait steps parsed into a
// typed node tree, validated, and handed to the workflow engine.
package dsl

// NodeType discriminates the node variants of a parsed tree.
type NodeType string

const (
	NodeTask      NodeType = "TASK"
	NodeSequence  NodeType = "SEQUENCE"
	NodeParallel  NodeType = "PARALLEL"
	NodeCondition NodeType = "CONDITION"
	NodeLoop      NodeType = "LOOP"
	NodeWait      NodeType = "WAIT"
)

// prefix returns the node-id prefix for the type.
func (t NodeType) prefix() string {
	switch t {
	case NodeTask:
		return "task"
	case NodeSequence:
		return "sequence"
	case NodeParallel:
		return "parallel"
	case NodeCondition:
		return "condition"
	case NodeLoop:
		return "loop"
	case NodeWait:
		return "wait"
	}
	return "node"
}

// TaskSpec configures a TASK node.
type TaskSpec struct {
	Name              string         `json:"task" mapstructure:"task"`
	Tools             []string       `json:"tools,omitempty" mapstructure:"tools"`
	Parameters        map[string]any `json:"parameters,omitempty" mapstructure:"parameters"`
	Timeout           float64        `json:"timeout,omitempty" mapstructure:"timeout"`
	RetryCount        int            `json:"retry_count,omitempty" mapstructure:"retry_count"`
	Conditions        []string       `json:"conditions,omitempty" mapstructure:"conditions"`
	ContinueOnFailure bool           `json:"continue_on_failure,omitempty" mapstructure:"continue_on_failure"`

	// DependsOn names explicit dependencies, by node id or task name.
	DependsOn []string `json:"depends_on,omitempty" mapstructure:"depends_on"`
}

// ParallelSpec configures a PARALLEL node.
type ParallelSpec struct {
	MaxConcurrency int  `json:"max_concurrency" mapstructure:"max_concurrency"`
	WaitForAll     bool `json:"wait_for_all" mapstructure:"wait_for_all"`
	FailFast       bool `json:"fail_fast" mapstructure:"fail_fast"`
}

// ConditionSpec configures a CONDITION node.
type ConditionSpec struct {
	Expression string   `json:"expression" mapstructure:"expression"`
	Kind       ExprKind `json:"kind" mapstructure:"kind"`
}

// LoopSpec configures a LOOP node.
type LoopSpec struct {
	Condition     string   `json:"condition" mapstructure:"condition"`
	Kind          ExprKind `json:"kind" mapstructure:"kind"`
	MaxIterations int      `json:"max_iterations" mapstructure:"max_iterations"`
	BreakOnError  bool     `json:"break_on_error" mapstructure:"break_on_error"`
}

// WaitSpec configures a WAIT node.
type WaitSpec struct {
	Condition    string   `json:"condition" mapstructure:"condition"`
	Kind         ExprKind `json:"kind" mapstructure:"kind"`
	Timeout      float64  `json:"timeout" mapstructure:"timeout"`
	PollInterval float64  `json:"poll_interval" mapstructure:"poll_interval"`
}

// Branch tags for CONDITION children.
const (
	BranchThen = "then"
	BranchElse = "else"
)

// Node is one node of a parsed workflow tree. Exactly one of the spec
// pointers matching Type is set. The parent backref is unexported and not
// serialized; ownership lives in the parent's Children slice.
type Node struct {
	ID       string         `json:"node_id"`
	Type     NodeType       `json:"type"`
	Branch   string         `json:"branch,omitempty"`
	Task     *TaskSpec      `json:"task,omitempty"`
	Parallel *ParallelSpec  `json:"parallel,omitempty"`
	Cond     *ConditionSpec `json:"condition,omitempty"`
	Loop     *LoopSpec      `json:"loop,omitempty"`
	Wait     *WaitSpec      `json:"wait,omitempty"`
	Children []*Node        `json:"children,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	parent *Node
}

// Parent returns the owning node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// addChild appends child and sets its backref.
func (n *Node) addChild(child *Node) {
	child.parent = n
	n.Children = append(n.Children, child)
}

// Walk visits n and its descendants depth-first in document order. The
// visitor returns false to stop the walk.
func (n *Node) Walk(visit func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !visit(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.Walk(visit) {
			return false
		}
	}
	return true
}

// Depth returns the maximum depth of the subtree rooted at n (a leaf is 1).
func (n *Node) Depth() int {
	if n == nil {
		return 0
	}
	deepest := 0
	for _, child := range n.Children {
		if d := child.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// CountNodes returns the number of nodes in the subtree rooted at n.
func (n *Node) CountNodes() int {
	count := 0
	n.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}
