package dsl

import (
	"fmt"
	"strconv"
	"strings"
)

// ExprKind classifies condition expressions for evaluator dispatch.
type ExprKind string

const (
	ExprSubtaskCheck ExprKind = "subtask_check"
	ExprResultCheck  ExprKind = "result_check"
	ExprContextCheck ExprKind = "context_check"
	ExprComparison   ExprKind = "comparison"
	ExprLogical      ExprKind = "logical"
	ExprExpression   ExprKind = "expression"
)

// ClassifyExpression assigns an expression to its evaluator category.
func ClassifyExpression(expr string) ExprKind {
	tokens, err := tokenize(expr)
	if err != nil {
		return ExprExpression
	}

	hasLogical, hasComparison, hasResult, hasContext := false, false, false, false
	for _, tok := range tokens {
		switch tok.kind {
		case tokIdent:
			switch {
			case strings.HasPrefix(tok.text, "subtasks."):
				return ExprSubtaskCheck
			case strings.HasPrefix(tok.text, "result."):
				hasResult = true
			case strings.HasPrefix(tok.text, "context."):
				hasContext = true
			case tok.text == "and" || tok.text == "or" || tok.text == "not":
				hasLogical = true
			}
		case tokOperator:
			hasComparison = true
		}
	}

	switch {
	case hasLogical:
		return ExprLogical
	case hasComparison:
		return ExprComparison
	case hasResult:
		return ExprResultCheck
	case hasContext:
		return ExprContextCheck
	}
	return ExprExpression
}

// ============================================================================
// TOKENIZER
// ============================================================================

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOperator // == != < <= > >=
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n':
			i++
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case ch == ',':
			tokens = append(tokens, token{tokComma, ","})
			i++
		case ch == '\'' || ch == '"':
			quote := ch
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("unbalanced quote at position %d", i)
			}
			tokens = append(tokens, token{tokString, expr[i+1 : j]})
			i = j + 1
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			op := string(ch)
			if i+1 < len(expr) && expr[i+1] == '=' {
				op += "="
				i++
			}
			i++
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("invalid operator %q", op)
			}
			tokens = append(tokens, token{tokOperator, op})
		case ch >= '0' && ch <= '9':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			// Identifiers must not start with a digit.
			if j < len(expr) && isIdentChar(expr[j]) {
				return nil, fmt.Errorf("identifier starting with digit at position %d", i)
			}
			tokens = append(tokens, token{tokNumber, expr[i:j]})
			i = j
		case isIdentStart(ch):
			j := i
			for j < len(expr) && (isIdentChar(expr[j]) || expr[j] == '.') {
				j++
			}
			text := expr[i:j]
			if j < len(expr) && expr[j] == '-' {
				return nil, fmt.Errorf("hyphen in identifier at position %d", j)
			}
			tokens = append(tokens, token{tokIdent, text})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	return tokens, nil
}

func isIdentStart(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || ch >= '0' && ch <= '9'
}

func isLogicalWord(tok token) bool {
	return tok.kind == tokIdent && (tok.text == "and" || tok.text == "or" || tok.text == "not")
}

// CheckSyntax performs the structural checks the parser applies to every
// condition expression: balanced parentheses and quotes, well-formed
// identifiers, no repeated logical operators, and valid token sequences.
func CheckSyntax(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("empty expression")
	}
	tokens, err := tokenize(expr)
	if err != nil {
		return err
	}

	depth := 0
	for _, tok := range tokens {
		switch tok.kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced parentheses")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced parentheses")
	}

	for i, tok := range tokens {
		if isLogicalWord(tok) && tok.text != "not" {
			if i == 0 || i == len(tokens)-1 {
				return fmt.Errorf("logical operator %q at expression boundary", tok.text)
			}
			if isLogicalWord(tokens[i-1]) && tokens[i-1].text != "not" {
				return fmt.Errorf("repeated logical operator near %q", tok.text)
			}
		}
		if tok.kind == tokOperator {
			if i == 0 || i == len(tokens)-1 {
				return fmt.Errorf("comparison operator %q at expression boundary", tok.text)
			}
			if tokens[i-1].kind == tokOperator {
				return fmt.Errorf("repeated comparison operator near %q", tok.text)
			}
		}
	}
	return nil
}

// ============================================================================
// EVALUATOR
// A small recursive-descent evaluator over a restricted environment. No
// builtins beyond the boolean literals, and/or/not, comparisons, dotted
// result/context lookups, and subtasks.includes().
// ============================================================================

// Env is the restricted evaluation environment for condition expressions.
type Env struct {
	Results  map[string]any // node_id → result payload
	Context  map[string]any // shared variables
	Subtasks []string       // completed subtask names
}

// EvaluateCondition evaluates expr against env. Any evaluation failure
// (syntax, missing reference, type mismatch) yields false.
func EvaluateCondition(expr string, env Env) bool {
	value, err := Evaluate(expr, env)
	if err != nil {
		return false
	}
	return truthy(value)
}

// Evaluate evaluates expr against env and returns the raw value.
func Evaluate(expr string, env Env) (any, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens, env: env}
	value, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q", p.tokens[p.pos].text)
	}
	return value, nil
}

type exprParser struct {
	tokens []token
	pos    int
	env    Env
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *exprParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokIdent || tok.text != "or" {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
}

func (p *exprParser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokIdent || tok.text != "and" {
			return left, nil
		}
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
}

func (p *exprParser) parseNot() (any, error) {
	if tok, ok := p.peek(); ok && tok.kind == tokIdent && tok.text == "not" {
		p.pos++
		value, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !truthy(value), nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	tok, ok := p.peek()
	if !ok || tok.kind != tokOperator {
		return left, nil
	}
	p.pos++
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return compare(tok.text, left, right)
}

func (p *exprParser) parsePrimary() (any, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch tok.kind {
	case tokLParen:
		p.pos++
		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		next, ok := p.peek()
		if !ok || next.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	case tokNumber:
		p.pos++
		return strconv.ParseFloat(tok.text, 64)
	case tokString:
		p.pos++
		return tok.text, nil
	case tokIdent:
		p.pos++
		switch tok.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		if strings.HasPrefix(tok.text, "subtasks.includes") || tok.text == "subtasks.includes" {
			return p.parseIncludesArgs()
		}
		return p.resolvePath(tok.text)
	}
	return nil, fmt.Errorf("unexpected token %q", tok.text)
}

// parseIncludesArgs consumes "(<string-or-ident>)" after subtasks.includes.
func (p *exprParser) parseIncludesArgs() (any, error) {
	tok, ok := p.peek()
	if !ok || tok.kind != tokLParen {
		return nil, fmt.Errorf("subtasks.includes requires an argument")
	}
	p.pos++
	arg, ok := p.peek()
	if !ok || (arg.kind != tokString && arg.kind != tokIdent) {
		return nil, fmt.Errorf("subtasks.includes argument must be a name")
	}
	p.pos++
	closing, ok := p.peek()
	if !ok || closing.kind != tokRParen {
		return nil, fmt.Errorf("subtasks.includes missing closing parenthesis")
	}
	p.pos++

	for _, name := range p.env.Subtasks {
		if name == arg.text {
			return true, nil
		}
	}
	return false, nil
}

// resolvePath looks up a dotted reference in the environment. Only the
// result.* and context.* namespaces are visible.
func (p *exprParser) resolvePath(path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any
	switch parts[0] {
	case "result":
		if len(parts) < 2 {
			return nil, fmt.Errorf("result reference requires a node id")
		}
		value, ok := p.env.Results[parts[1]]
		if !ok {
			return nil, fmt.Errorf("unknown result %q", parts[1])
		}
		current = value
		parts = parts[2:]
	case "context":
		if len(parts) < 2 {
			return nil, fmt.Errorf("context reference requires a name")
		}
		value, ok := p.env.Context[parts[1]]
		if !ok {
			return nil, fmt.Errorf("unknown context variable %q", parts[1])
		}
		current = value
		parts = parts[2:]
	default:
		return nil, fmt.Errorf("unknown identifier %q", path)
	}

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot descend into %q", part)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("missing field %q", part)
		}
	}
	return current, nil
}

func compare(op string, left, right any) (bool, error) {
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
		return false, fmt.Errorf("unknown operator %q", op)
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
