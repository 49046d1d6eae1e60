package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse tree. Every node yields a value; boolean nodes yield bool and
// operand nodes yield whatever they resolve to.
type node interface {
	eval(vars map[string]any) any
}

type literal struct{ v any }

// ref resolves a name. A lone ref (no operator) is false when missing.
type ref struct {
	path string
	lone bool
}

type notNode struct{ x node }

type andNode struct{ l, r node }

type orNode struct{ l, r node }

type compareNode struct {
	fn   BinaryOp
	l, r node
}

func (n literal) eval(map[string]any) any { return n.v }

// Inside a comparison, a name that resolves to nothing is read as a bare
// string, so `status == active` compares against "active".
func (n ref) eval(vars map[string]any) any {
	if v, ok := vars[n.path]; ok {
		return v
	}
	if strings.Contains(n.path, ".") {
		if v, ok := Lookup(vars, n.path); ok {
			return v
		}
	}
	if n.lone {
		return nil
	}
	return n.path
}

func (n notNode) eval(vars map[string]any) any { return !IsTruthy(n.x.eval(vars)) }

func (n andNode) eval(vars map[string]any) any {
	return IsTruthy(n.l.eval(vars)) && IsTruthy(n.r.eval(vars))
}

func (n orNode) eval(vars map[string]any) any {
	return IsTruthy(n.l.eval(vars)) || IsTruthy(n.r.eval(vars))
}

func (n compareNode) eval(vars map[string]any) any {
	return n.fn(n.l.eval(vars), n.r.eval(vars))
}

// parser is a recursive-descent parser over the token stream. Precedence
// from loosest to tightest: or, and, not, comparison.
type parser struct {
	src    string
	toks   []token
	pos    int
	custom map[string]BinaryOp
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) fail(t token, format string, args ...any) error {
	return &SyntaxError{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isWord(word string) bool {
	t := p.peek()
	return t.kind == tokWord && t.text == word
}

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

func (p *parser) parse() (node, error) {
	if p.peek().kind == tokEOF {
		return nil, nil
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.fail(t, "unexpected %q", t.text)
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isWord("or") || p.isOp("||") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isWord("and") || p.isOp("&&") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isWord("not") || p.isOp("!") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	var fn BinaryOp
	switch {
	case t.kind == tokOp:
		fn = builtinOps[t.text]
	case t.kind == tokWord:
		if fn = builtinOps[t.text]; fn == nil {
			fn = p.custom[t.text]
		}
	}
	if fn == nil {
		if r, ok := left.(ref); ok {
			r.lone = true
			return r, nil
		}
		return left, nil
	}
	p.next()

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return compareNode{fn: fn, l: left, r: right}, nil
}

func (p *parser) parseOperand() (node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.fail(closing, "expected ')'")
		}
		return n, nil
	case tokString:
		return literal{t.text}, nil
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return literal{i}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.fail(t, "bad number %q", t.text)
		}
		return literal{f}, nil
	case tokWord:
		switch strings.ToLower(t.text) {
		case "true":
			return literal{true}, nil
		case "false":
			return literal{false}, nil
		case "null", "nil":
			return literal{nil}, nil
		}
		if reserved[t.text] || p.custom[t.text] != nil {
			return nil, p.fail(t, "expected operand, got %q", t.text)
		}
		if strings.HasSuffix(t.text, ".") || strings.Contains(t.text, "..") {
			return nil, p.fail(t, "bad path %q", t.text)
		}
		return ref{path: t.text}, nil
	case tokEOF:
		return nil, p.fail(t, "expected operand")
	default:
		return nil, p.fail(t, "expected operand, got %q", t.text)
	}
}

var reserved = map[string]bool{"and": true, "or": true, "not": true, "contains": true}
