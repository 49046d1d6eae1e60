package graphdef

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/randalmurphal/branchplan/pkg/branchplan/expr"
)

// varPattern matches ${name} and ${name.nested.path}.
var varPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\}`)

// UndefinedVariableError lists variables referenced but not defined.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return "undefined variable: " + e.Names[0]
	}
	return "undefined variables: " + strings.Join(e.Names, ", ")
}

// Unwrap returns ErrUndefinedVar for errors.Is support.
func (e *UndefinedVariableError) Unwrap() error { return ErrUndefinedVar }

// expander substitutes ${...} references and remembers the missing ones.
type expander struct {
	vars    map[string]any
	missing []string
}

func (x *expander) str(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := expr.Lookup(x.vars, name); ok {
			return fmt.Sprintf("%v", v)
		}
		x.missing = append(x.missing, name)
		return match
	})
}

func (x *expander) strs(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = x.str(s)
	}
	return out
}

// value expands strings inside maps and slices; other values are kept.
func (x *expander) value(v any) any {
	switch val := v.(type) {
	case string:
		return x.str(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = x.value(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = x.value(item)
		}
		return out
	default:
		return v
	}
}

func (x *expander) node(n NodeDef) NodeDef {
	n.Condition = x.str(n.Condition)
	n.Field = x.str(n.Field)
	n.Cases = x.strs(n.Cases)
	n.Strategy = x.str(n.Strategy)
	if n.Params != nil {
		n.Params = x.value(n.Params).(map[string]any)
	}
	return n
}

func (x *expander) err() error {
	if len(x.missing) == 0 {
		return nil
	}
	return &UndefinedVariableError{Names: x.missing}
}
