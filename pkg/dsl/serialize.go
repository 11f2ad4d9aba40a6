package dsl

import (
	"encoding/json"
	"fmt"
)

// ToDocument reconstructs the source document form of a node tree.
// Parsing the returned document with a fresh parser reproduces the tree,
// ids included, because id assignment is deterministic in document order.
func ToDocument(n *Node) (any, error) {
	if n == nil {
		return nil, fmt.Errorf("cannot serialize nil node")
	}

	switch n.Type {
	case NodeTask:
		doc := map[string]any{"task": n.Task.Name}
		if len(n.Task.Tools) > 0 {
			doc["tools"] = n.Task.Tools
		}
		if len(n.Task.Parameters) > 0 {
			doc["parameters"] = n.Task.Parameters
		}
		if n.Task.Timeout > 0 {
			doc["timeout"] = n.Task.Timeout
		}
		if n.Task.RetryCount > 0 {
			doc["retry_count"] = n.Task.RetryCount
		}
		if len(n.Task.Conditions) > 0 {
			doc["conditions"] = n.Task.Conditions
		}
		if n.Task.ContinueOnFailure {
			doc["continue_on_failure"] = true
		}
		if len(n.Task.DependsOn) > 0 {
			doc["depends_on"] = n.Task.DependsOn
		}
		return doc, nil

	case NodeSequence:
		steps, err := childDocuments(n.Children)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sequence": steps}, nil

	case NodeParallel:
		steps, err := childDocuments(n.Children)
		if err != nil {
			return nil, err
		}
		doc := map[string]any{"parallel": steps}
		if n.Parallel.MaxConcurrency != len(n.Children) {
			doc["max_concurrency"] = n.Parallel.MaxConcurrency
		}
		if !n.Parallel.WaitForAll {
			doc["wait_for_all"] = false
		}
		if n.Parallel.FailFast {
			doc["fail_fast"] = true
		}
		return doc, nil

	case NodeCondition:
		doc := map[string]any{"if": n.Cond.Expression}
		for _, child := range n.Children {
			steps, err := childDocuments(child.Children)
			if err != nil {
				return nil, err
			}
			doc[child.Branch] = steps
		}
		return doc, nil

	case NodeLoop:
		if len(n.Children) != 1 {
			return nil, fmt.Errorf("loop node %s must have exactly one body child", n.ID)
		}
		steps, err := childDocuments(n.Children[0].Children)
		if err != nil {
			return nil, err
		}
		body := map[string]any{
			"condition": n.Loop.Condition,
			"body":      steps,
		}
		if n.Loop.MaxIterations != DefaultLoopMaxIterations {
			body["max_iterations"] = n.Loop.MaxIterations
		}
		if !n.Loop.BreakOnError {
			body["break_on_error"] = false
		}
		return map[string]any{"loop": body}, nil

	case NodeWait:
		body := map[string]any{"condition": n.Wait.Condition}
		if n.Wait.Timeout != DefaultWaitTimeout {
			body["timeout"] = n.Wait.Timeout
		}
		if n.Wait.PollInterval != DefaultWaitPollInterval {
			body["poll_interval"] = n.Wait.PollInterval
		}
		return map[string]any{"wait": body}, nil
	}

	return nil, fmt.Errorf("unknown node type %q", n.Type)
}

func childDocuments(children []*Node) ([]any, error) {
	steps := make([]any, 0, len(children))
	for _, child := range children {
		doc, err := ToDocument(child)
		if err != nil {
			return nil, err
		}
		steps = append(steps, doc)
	}
	return steps, nil
}

// Serialize renders the tree back to its JSON document form.
func Serialize(n *Node) ([]byte, error) {
	doc, err := ToDocument(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
