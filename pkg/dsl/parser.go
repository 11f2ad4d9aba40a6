package dsl

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ParseMetadata summarizes a parsed tree.
type ParseMetadata struct {
	NodeCount      int `json:"node_count"`
	MaxDepth       int `json:"max_depth"`
	ParallelBlocks int `json:"parallel_blocks"`
}

// ParseResult is the outcome of one parse.
type ParseResult struct {
	Success  bool          `json:"success"`
	Root     *Node         `json:"root_node,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Metadata ParseMetadata `json:"metadata"`
}

// Defaults applied during parsing.
const (
	DefaultLoopMaxIterations = 100
	DefaultWaitTimeout       = 30.0
	DefaultWaitPollInterval  = 1.0
)

// Parser turns JSON workflow documents into node trees. Node ids are
// assigned from a monotonic counter, so parsing the same document always
// yields the same ids.
type Parser struct {
	counter int
}

// NewParser creates a parser with a fresh id counter.
func NewParser() *Parser {
	return &Parser{}
}

// ParseJSON parses a JSON document. The top level may be a single step
// object or an array, which is treated as a sequence.
func (p *Parser) ParseJSON(data []byte) *ParseResult {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ParseResult{Errors: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}
	return p.Parse(doc)
}

// Parse parses an already-decoded document.
func (p *Parser) Parse(doc any) *ParseResult {
	result := &ParseResult{}

	root, err := p.parseStep(doc, result)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	result.Success = len(result.Errors) == 0
	result.Root = root
	result.Metadata.NodeCount = root.CountNodes()
	result.Metadata.MaxDepth = root.Depth()
	root.Walk(func(n *Node) bool {
		if n.Type == NodeParallel {
			result.Metadata.ParallelBlocks++
		}
		return true
	})
	return result
}

func (p *Parser) nextID(t NodeType) string {
	p.counter++
	return fmt.Sprintf("%s_%d", t.prefix(), p.counter)
}

// parseStep dispatches on the discriminator keys in search order:
// task, parallel, if, sequence, loop, wait.
func (p *Parser) parseStep(doc any, result *ParseResult) (*Node, error) {
	if steps, ok := doc.([]any); ok {
		return p.parseSequence(steps, result)
	}

	step, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("step must be an object or array, got %T", doc)
	}

	switch {
	case step["task"] != nil:
		return p.parseTask(step, result)
	case step["parallel"] != nil:
		return p.parseParallel(step, result)
	case step["if"] != nil:
		return p.parseCondition(step, result)
	case step["sequence"] != nil:
		steps, ok := step["sequence"].([]any)
		if !ok {
			return nil, fmt.Errorf("'sequence' must be an array")
		}
		return p.parseSequence(steps, result)
	case step["loop"] != nil:
		return p.parseLoop(step, result)
	case step["wait"] != nil:
		return p.parseWait(step, result)
	}
	return nil, fmt.Errorf("unknown step type: expected one of task, parallel, if, sequence, loop, wait (got keys %v)", mapKeys(step))
}

func (p *Parser) parseTask(step map[string]any, result *ParseResult) (*Node, error) {
	spec := &TaskSpec{}
	if err := decodeSpec(step, spec); err != nil {
		return nil, fmt.Errorf("invalid task step: %w", err)
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("'task' must be a non-empty string")
	}
	for _, cond := range spec.Conditions {
		if err := CheckSyntax(cond); err != nil {
			return nil, fmt.Errorf("invalid condition on task %q: %w", spec.Name, err)
		}
	}
	return &Node{ID: p.nextID(NodeTask), Type: NodeTask, Task: spec}, nil
}

func (p *Parser) parseSequence(steps []any, result *ParseResult) (*Node, error) {
	node := &Node{ID: p.nextID(NodeSequence), Type: NodeSequence}
	for i, step := range steps {
		child, err := p.parseStep(step, result)
		if err != nil {
			return nil, fmt.Errorf("sequence step %d: %w", i, err)
		}
		node.addChild(child)
	}
	return node, nil
}

func (p *Parser) parseParallel(step map[string]any, result *ParseResult) (*Node, error) {
	steps, ok := step["parallel"].([]any)
	if !ok {
		return nil, fmt.Errorf("'parallel' must be an array")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("'parallel' requires at least one step")
	}

	spec := &ParallelSpec{WaitForAll: true}
	if err := decodeSpec(step, spec); err != nil {
		return nil, fmt.Errorf("invalid parallel step: %w", err)
	}
	if raw, exists := step["wait_for_all"]; exists {
		if b, ok := raw.(bool); ok {
			spec.WaitForAll = b
		}
	}
	if spec.MaxConcurrency <= 0 || spec.MaxConcurrency > len(steps) {
		spec.MaxConcurrency = len(steps)
	}

	node := &Node{ID: p.nextID(NodeParallel), Type: NodeParallel, Parallel: spec}
	for i, sub := range steps {
		child, err := p.parseStep(sub, result)
		if err != nil {
			return nil, fmt.Errorf("parallel step %d: %w", i, err)
		}
		node.addChild(child)
	}
	return node, nil
}

func (p *Parser) parseCondition(step map[string]any, result *ParseResult) (*Node, error) {
	expr, ok := step["if"].(string)
	if !ok || expr == "" {
		return nil, fmt.Errorf("'if' must be a non-empty expression string")
	}
	if err := CheckSyntax(expr); err != nil {
		return nil, fmt.Errorf("invalid condition expression %q: %w", expr, err)
	}

	node := &Node{
		ID:   p.nextID(NodeCondition),
		Type: NodeCondition,
		Cond: &ConditionSpec{Expression: expr, Kind: ClassifyExpression(expr)},
	}

	for _, branch := range []string{BranchThen, BranchElse} {
		raw, exists := step[branch]
		if !exists {
			continue
		}
		steps, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("'%s' branch must be an array", branch)
		}
		child, err := p.parseSequence(steps, result)
		if err != nil {
			return nil, fmt.Errorf("%s branch: %w", branch, err)
		}
		child.Branch = branch
		node.addChild(child)
	}

	if len(node.Children) == 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("condition %s has no then/else branch", node.ID))
	}
	return node, nil
}

func (p *Parser) parseLoop(step map[string]any, result *ParseResult) (*Node, error) {
	body, ok := step["loop"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'loop' must be an object with condition and body")
	}

	type loopDoc struct {
		Condition     string `mapstructure:"condition"`
		MaxIterations int    `mapstructure:"max_iterations"`
		BreakOnError  *bool  `mapstructure:"break_on_error"`
	}
	var doc loopDoc
	if err := decodeSpec(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid loop step: %w", err)
	}
	if doc.Condition == "" {
		return nil, fmt.Errorf("loop requires a condition")
	}
	if err := CheckSyntax(doc.Condition); err != nil {
		return nil, fmt.Errorf("invalid loop condition %q: %w", doc.Condition, err)
	}
	steps, ok := body["body"].([]any)
	if !ok || len(steps) == 0 {
		return nil, fmt.Errorf("loop requires a non-empty body")
	}
	if doc.MaxIterations < 0 {
		return nil, fmt.Errorf("loop max_iterations must be positive")
	}
	if doc.MaxIterations == 0 {
		doc.MaxIterations = DefaultLoopMaxIterations
	}

	spec := &LoopSpec{
		Condition:     doc.Condition,
		Kind:          ClassifyExpression(doc.Condition),
		MaxIterations: doc.MaxIterations,
		BreakOnError:  true,
	}
	if doc.BreakOnError != nil {
		spec.BreakOnError = *doc.BreakOnError
	}

	node := &Node{ID: p.nextID(NodeLoop), Type: NodeLoop, Loop: spec}
	bodyNode, err := p.parseSequence(steps, result)
	if err != nil {
		return nil, fmt.Errorf("loop body: %w", err)
	}
	node.addChild(bodyNode)
	return node, nil
}

func (p *Parser) parseWait(step map[string]any, result *ParseResult) (*Node, error) {
	body, ok := step["wait"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'wait' must be an object with a condition")
	}

	spec := &WaitSpec{}
	if err := decodeSpec(body, spec); err != nil {
		return nil, fmt.Errorf("invalid wait step: %w", err)
	}
	if spec.Condition == "" {
		return nil, fmt.Errorf("wait requires a condition")
	}
	if err := CheckSyntax(spec.Condition); err != nil {
		return nil, fmt.Errorf("invalid wait condition %q: %w", spec.Condition, err)
	}
	if spec.Timeout <= 0 {
		spec.Timeout = DefaultWaitTimeout
	}
	if spec.PollInterval <= 0 {
		spec.PollInterval = DefaultWaitPollInterval
	}
	spec.Kind = ClassifyExpression(spec.Condition)

	return &Node{ID: p.nextID(NodeWait), Type: NodeWait, Wait: spec}, nil
}

// decodeSpec decodes a step map into a spec struct, coercing JSON numbers.
func decodeSpec(input map[string]any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
