package expr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax is wrapped by every SyntaxError.
var ErrSyntax = errors.New("expr: syntax error")

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Expr string
	Pos  int // byte offset into Expr
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: %s at offset %d in %q", e.Msg, e.Pos, e.Expr)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// BinaryOp is a function that compares two values and returns a boolean result.
type BinaryOp func(left, right any) bool

var builtinOps = map[string]BinaryOp{
	"==":       Equal,
	"!=":       func(l, r any) bool { return !Equal(l, r) },
	"<":        func(l, r any) bool { return ToFloat64(l) < ToFloat64(r) },
	">":        func(l, r any) bool { return ToFloat64(l) > ToFloat64(r) },
	"<=":       func(l, r any) bool { return ToFloat64(l) <= ToFloat64(r) },
	">=":       func(l, r any) bool { return ToFloat64(l) >= ToFloat64(r) },
	"contains": func(l, r any) bool { return strings.Contains(fmt.Sprint(l), fmt.Sprint(r)) },
}

// Equal compares numbers numerically and everything else by its %v
// formatting, so 5 == 5.0 and "5" == 5 both hold.
func Equal(left, right any) bool {
	if l, ok := number(left); ok {
		if r, ok := number(right); ok {
			return l == r
		}
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

// Condition is a parsed expression. It is immutable and safe for
// concurrent use.
type Condition struct {
	src  string
	root node
}

// Eval evaluates the condition against vars. An empty condition is false.
func (c *Condition) Eval(vars map[string]any) bool {
	if c == nil || c.root == nil {
		return false
	}
	return IsTruthy(c.root.eval(vars))
}

// String returns the source text.
func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.src
}

// Evaluator parses expressions with optional custom operators.
type Evaluator struct {
	customOps map[string]BinaryOp
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCustomOperator registers a word operator, used infix like contains.
//
// Panics if name is not a single word or shadows a keyword or built-in.
func WithCustomOperator(name string, fn BinaryOp) Option {
	return func(e *Evaluator) {
		if !validOperatorName(name) {
			panic(fmt.Sprintf("expr: invalid operator name %q", name))
		}
		if fn == nil {
			panic("expr: operator func cannot be nil")
		}
		if e.customOps == nil {
			e.customOps = make(map[string]BinaryOp)
		}
		e.customOps[name] = fn
	}
}

func validOperatorName(name string) bool {
	if name == "" || reserved[name] || builtinOps[name] != nil {
		return false
	}
	switch strings.ToLower(name) {
	case "true", "false", "null", "nil":
		return false
	}
	for i, r := range name {
		if r == '.' || !(isWordStart(r) || (i > 0 && isWordPart(r))) {
			return false
		}
	}
	return true
}

// New creates a new Evaluator with the given options.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Parse parses src into a reusable Condition.
func (e *Evaluator) Parse(src string) (*Condition, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, custom: e.customOps}
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Condition{src: src, root: root}, nil
}

// Evaluate parses and evaluates src in one step.
func (e *Evaluator) Evaluate(src string, vars map[string]any) (bool, error) {
	c, err := e.Parse(src)
	if err != nil {
		return false, err
	}
	return c.Eval(vars), nil
}

var std = New()

// Parse parses src with the built-in operators.
func Parse(src string) (*Condition, error) {
	return std.Parse(src)
}

// MustParse is like Parse but panics on a syntax error.
func MustParse(src string) *Condition {
	c, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return c
}

// Eval is a convenience function that evaluates an expression using
// the default evaluator (no custom operators).
func Eval(src string, vars map[string]any) (bool, error) {
	return std.Evaluate(src, vars)
}
