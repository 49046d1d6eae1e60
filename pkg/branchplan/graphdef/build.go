package graphdef

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/randalmurphal/branchplan/pkg/branchplan"
	"github.com/randalmurphal/branchplan/pkg/branchplan/expr"
	"github.com/randalmurphal/branchplan/pkg/branchplan/registry"
)

// Factory creates a node from its definition. Variables are already
// expanded when the factory runs.
type Factory func(def NodeDef) (branchplan.Node, error)

// Builder turns definitions into compiled graphs. The zero value is not
// usable; create one with NewBuilder. A Builder is safe for concurrent
// use.
type Builder struct {
	factories *registry.Registry[string, Factory]
}

// NewBuilder returns a builder with the built-in node types registered.
func NewBuilder() *Builder {
	b := &Builder{factories: registry.New[string, Factory]()}
	b.Register("switch", newSwitch)
	b.Register("case_switch", newCaseSwitch)
	b.Register("merge", newMerge)
	b.Register("passthrough", newPassthrough)
	b.Register("constant", newConstant)
	return b
}

// Register adds or replaces the factory for a node type.
//
// Panics if nodeType is empty or factory is nil.
func (b *Builder) Register(nodeType string, factory Factory) {
	if nodeType == "" {
		panic("graphdef: node type cannot be empty")
	}
	if factory == nil {
		panic("graphdef: factory cannot be nil")
	}
	b.factories.Register(nodeType, factory)
}

// Types lists the registered node types in sorted order.
func (b *Builder) Types() []string {
	return registry.SortedKeys(b.factories)
}

// Build creates and compiles the graph described by def. vars override
// the definition's own variables.
func (b *Builder) Build(def *Definition, vars map[string]any) (*branchplan.CompiledGraph, error) {
	g, err := b.Graph(def, vars)
	if err != nil {
		return nil, err
	}
	return g.Compile()
}

// Graph creates the uncompiled graph described by def, for callers that
// want to add nodes in code before compiling.
func (b *Builder) Graph(def *Definition, vars map[string]any) (*branchplan.Graph, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is nil", ErrInvalidNode)
	}

	x := &expander{vars: make(map[string]any, len(def.Vars)+len(vars))}
	maps.Copy(x.vars, def.Vars)
	maps.Copy(x.vars, vars)

	var errs []error
	seen := make(map[string]bool, len(def.Nodes))
	nodes := make([]branchplan.Node, 0, len(def.Nodes))
	for i, nd := range def.Nodes {
		switch {
		case nd.ID == "":
			errs = append(errs, fmt.Errorf("%w: node %d has no id", ErrInvalidNode, i))
			continue
		case strings.ContainsAny(nd.ID, " \t\n\r."):
			errs = append(errs, fmt.Errorf("%w: id %q contains whitespace or '.'", ErrInvalidNode, nd.ID))
			continue
		case seen[nd.ID]:
			errs = append(errs, fmt.Errorf("%w: duplicate id %q", ErrInvalidNode, nd.ID))
			continue
		}
		seen[nd.ID] = true

		factory, ok := b.factories.Get(nd.Type)
		if !ok {
			errs = append(errs, fmt.Errorf("node %s: %w %q", nd.ID, ErrUnknownNodeType, nd.Type))
			continue
		}
		node, err := factory(x.node(nd))
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", nd.ID, err))
			continue
		}
		if node.ID() != nd.ID {
			errs = append(errs, fmt.Errorf("%w: factory for %q returned node %q", ErrInvalidNode, nd.ID, node.ID()))
			continue
		}
		nodes = append(nodes, node)
	}

	conns := make([]branchplan.Connection, 0, len(def.Connections))
	for _, cd := range def.Connections {
		from, fromPort, err := splitEndpoint(cd.From)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		to, toPort, err := splitEndpoint(cd.To)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		conns = append(conns, branchplan.Connection{
			From: from, FromPort: fromPort,
			To: to, ToPort: toPort,
			Path: x.str(cd.Path),
		})
	}

	if err := x.err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g := branchplan.NewGraph().Named(def.Name)
	for _, n := range nodes {
		g.AddNode(n)
	}
	for _, c := range conns {
		g.AddConnection(c)
	}
	if len(def.Entries) > 0 {
		g.SetEntry(def.Entries...)
	}
	return g, nil
}

// Build creates a graph with the built-in node types only.
func Build(def *Definition, vars map[string]any) (*branchplan.CompiledGraph, error) {
	return NewBuilder().Build(def, vars)
}

// LoadGraph loads a definition file and builds it with the built-in
// node types.
func LoadGraph(path string, vars map[string]any) (*branchplan.CompiledGraph, error) {
	def, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Build(def, vars)
}

func newSwitch(def NodeDef) (branchplan.Node, error) {
	if def.Condition == "" {
		return nil, fmt.Errorf("%w: switch needs a condition", ErrInvalidNode)
	}
	if _, err := expr.Parse(def.Condition); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNode, err)
	}
	return branchplan.NewSwitch(def.ID, def.Condition), nil
}

func newCaseSwitch(def NodeDef) (branchplan.Node, error) {
	if def.Field == "" {
		return nil, fmt.Errorf("%w: case_switch needs a field", ErrInvalidNode)
	}
	return branchplan.NewCaseSwitch(def.ID, def.Field, def.Cases...), nil
}

func newMerge(def NodeDef) (branchplan.Node, error) {
	var opts []branchplan.MergeOption
	switch s := branchplan.MergeStrategy(def.Strategy); s {
	case "":
	case branchplan.MergeConcat, branchplan.MergeFirst, branchplan.MergeDict:
		opts = append(opts, branchplan.WithStrategy(s))
	default:
		return nil, fmt.Errorf("%w: unknown merge strategy %q", ErrInvalidNode, def.Strategy)
	}
	if def.SkipNone != nil {
		opts = append(opts, branchplan.WithSkipNone(*def.SkipNone))
	}
	return branchplan.NewMerge(def.ID, def.Inputs, opts...), nil
}

// newPassthrough forwards the value arriving on its first input port to
// every output port.
func newPassthrough(def NodeDef) (branchplan.Node, error) {
	inputs := def.Inputs
	if len(inputs) == 0 {
		inputs = []string{branchplan.PortInput}
	}
	outputs := def.Outputs
	if len(outputs) == 0 {
		outputs = []string{branchplan.PortOutput}
	}
	port := inputs[0]
	return branchplan.NewNode(def.ID, inputs, outputs,
		func(_ branchplan.Context, in branchplan.Inputs) (branchplan.Values, error) {
			v, _ := in.Get(port)
			out := make(branchplan.Values, len(outputs))
			for _, p := range outputs {
				out[p] = v
			}
			return out, nil
		}), nil
}

// newConstant emits params.value on every output port.
func newConstant(def NodeDef) (branchplan.Node, error) {
	v, ok := def.Params["value"]
	if !ok {
		return nil, fmt.Errorf("%w: constant needs params.value", ErrInvalidNode)
	}
	outputs := def.Outputs
	if len(outputs) == 0 {
		outputs = []string{branchplan.PortOutput}
	}
	inputs := def.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	return branchplan.NewNode(def.ID, inputs, slices.Clone(outputs),
		func(branchplan.Context, branchplan.Inputs) (branchplan.Values, error) {
			out := make(branchplan.Values, len(outputs))
			for _, p := range outputs {
				out[p] = v
			}
			return out, nil
		}), nil
}
