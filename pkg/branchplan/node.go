package branchplan

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/randalmurphal/branchplan/pkg/branchplan/expr"
)

// Well-known port names used by the built-in node constructors.
const (
	PortInput   = "input_data"
	PortOutput  = "output"
	PortTrue    = "true_output"
	PortFalse   = "false_output"
	PortDefault = "default"
	PortMerged  = "merged_data"
)

// NodeKind classifies a node for planning.
type NodeKind int

const (
	// KindOrdinary nodes run when any upstream delivers.
	KindOrdinary NodeKind = iota
	// KindBranch nodes fire a subset of their output ports per evaluation.
	KindBranch
	// KindMerge nodes aggregate several upstreams and tolerate absent inputs.
	KindMerge
)

// String returns the kind name.
func (k NodeKind) String() string {
	switch k {
	case KindOrdinary:
		return "ordinary"
	case KindBranch:
		return "branch"
	case KindMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Values maps port names to values. A nil value, or a missing key, means
// the port carries nothing ("not taken" for branch outputs).
type Values map[string]any

// Taken reports whether port carries a live value.
func (v Values) Taken(port string) bool {
	val, ok := v[port]
	return ok && val != nil
}

// TakenPorts returns the live ports in sorted order.
func (v Values) TakenPorts() []string {
	ports := make([]string, 0, len(v))
	for p, val := range v {
		if val != nil {
			ports = append(ports, p)
		}
	}
	slices.Sort(ports)
	return ports
}

// BranchResult is the output of one branch evaluation: output port to
// value, with nil or absence meaning the port was not taken.
type BranchResult = Values

// BranchResults maps branch node IDs to their results for one run.
type BranchResults map[string]BranchResult

// Clone returns a shallow copy safe to extend without touching r.
func (r BranchResults) Clone() BranchResults {
	out := make(BranchResults, len(r))
	for id, res := range r {
		out[id] = maps.Clone(res)
	}
	return out
}

// Input is one value delivered along a connection.
type Input struct {
	// Port is the destination port on the receiving node.
	Port string
	// From and FromPort identify the connection source.
	From     string
	FromPort string
	// Value is the delivered value; nil when Live is false.
	Value any
	// Live is false when the source was skipped, dead, or the port not taken.
	Live bool
}

// Inputs are the deliveries to one node, in connection declaration order.
type Inputs []Input

// Get returns the value of the last live delivery to port.
func (in Inputs) Get(port string) (any, bool) {
	for i := len(in) - 1; i >= 0; i-- {
		if in[i].Port == port && in[i].Live {
			return in[i].Value, true
		}
	}
	return nil, false
}

// Live returns only the live deliveries.
func (in Inputs) Live() Inputs {
	out := make(Inputs, 0, len(in))
	for _, i := range in {
		if i.Live {
			out = append(out, i)
		}
	}
	return out
}

// AnyLive reports whether at least one delivery is live.
func (in Inputs) AnyLive() bool {
	return slices.ContainsFunc(in, func(i Input) bool { return i.Live })
}

// Values collapses the deliveries into a port map. When several live
// connections target the same port, the last declared one wins.
func (in Inputs) Values() Values {
	out := make(Values, len(in))
	for _, i := range in {
		if i.Live {
			out[i.Port] = i.Value
		}
	}
	return out
}

// Ports lists the declared input and output ports of a node.
type Ports struct {
	Inputs  []string
	Outputs []string
}

// HasInput reports whether name is a declared input port.
func (p Ports) HasInput(name string) bool { return slices.Contains(p.Inputs, name) }

// HasOutput reports whether name is a declared output port.
func (p Ports) HasOutput(name string) bool { return slices.Contains(p.Outputs, name) }

// Node is a graph node. The set of implementations is closed:
// *OrdinaryNode, *BranchNode and *MergeNode.
type Node interface {
	// ID returns the unique node name.
	ID() string
	// Kind returns the planning classification.
	Kind() NodeKind
	// Ports returns the declared ports.
	Ports() Ports
	// Evaluate computes the node's outputs from its inputs.
	Evaluate(ctx Context, in Inputs) (Values, error)

	sealed()
}

// NodeFunc is the work function of an ordinary node.
//
// Example:
//
//	func double(ctx branchplan.Context, in branchplan.Inputs) (branchplan.Values, error) {
//	    v, _ := in.Get("value")
//	    return branchplan.Values{"output": v.(int) * 2}, nil
//	}
type NodeFunc func(ctx Context, in Inputs) (Values, error)

// RouteFunc evaluates a branch node. The returned result names the taken
// output ports; ports not present (or nil) are not taken.
type RouteFunc func(ctx Context, in Inputs) (BranchResult, error)

// OrdinaryNode runs its function when at least one upstream is live.
type OrdinaryNode struct {
	id    string
	ports Ports
	fn    NodeFunc
}

// NewNode creates an ordinary node. Nil port lists default to a single
// PortInput input and a single PortOutput output.
//
// Panics if fn is nil.
func NewNode(id string, inputs, outputs []string, fn NodeFunc) *OrdinaryNode {
	if fn == nil {
		panic("branchplan: node function cannot be nil")
	}
	if inputs == nil {
		inputs = []string{PortInput}
	}
	if outputs == nil {
		outputs = []string{PortOutput}
	}
	return &OrdinaryNode{
		id:    id,
		ports: Ports{Inputs: slices.Clone(inputs), Outputs: slices.Clone(outputs)},
		fn:    fn,
	}
}

// ID implements Node.
func (n *OrdinaryNode) ID() string { return n.id }

// Kind implements Node.
func (n *OrdinaryNode) Kind() NodeKind { return KindOrdinary }

// Ports implements Node.
func (n *OrdinaryNode) Ports() Ports { return n.ports }

// Evaluate implements Node.
func (n *OrdinaryNode) Evaluate(ctx Context, in Inputs) (Values, error) {
	return n.fn(ctx, in)
}

func (*OrdinaryNode) sealed() {}

// BranchNode routes its input to a subset of its output ports.
type BranchNode struct {
	id    string
	ports Ports
	route RouteFunc
}

// NewBranch creates a branch node with the given outputs and router.
//
// Panics if route is nil or outputs is empty.
func NewBranch(id string, inputs, outputs []string, route RouteFunc) *BranchNode {
	if route == nil {
		panic("branchplan: route function cannot be nil")
	}
	if len(outputs) == 0 {
		panic("branchplan: branch node needs at least one output port")
	}
	if inputs == nil {
		inputs = []string{PortInput}
	}
	return &BranchNode{
		id:    id,
		ports: Ports{Inputs: slices.Clone(inputs), Outputs: slices.Clone(outputs)},
		route: route,
	}
}

// NewSwitch creates a two-way branch that evaluates condition against the
// value arriving on PortInput. When that value is a map its keys are
// available as variables (dot paths included); the whole value is bound to
// "input". The input is forwarded on PortTrue or PortFalse.
//
// The condition is parsed once, here.
//
// Example:
//
//	sw := branchplan.NewSwitch("switch", "score > 90")
//
// Panics if condition is not a valid expression.
func NewSwitch(id, condition string) *BranchNode {
	cond, err := expr.Parse(condition)
	if err != nil {
		panic(fmt.Sprintf("branchplan: switch %q: %v", id, err))
	}
	return NewBranch(id, []string{PortInput}, []string{PortTrue, PortFalse},
		func(ctx Context, in Inputs) (BranchResult, error) {
			data, _ := in.Get(PortInput)
			ok := cond.Eval(switchVars(data))
			if data == nil {
				// A nil payload would read as "not taken" downstream.
				data = Values{}
			}
			if ok {
				return BranchResult{PortTrue: data, PortFalse: nil}, nil
			}
			return BranchResult{PortTrue: nil, PortFalse: data}, nil
		})
}

// NewCaseSwitch creates a multi-way branch over field of the input value.
// Each case c gets the output port "case_<c>"; unmatched values go to
// PortDefault.
func NewCaseSwitch(id, field string, cases ...string) *BranchNode {
	outputs := make([]string, 0, len(cases)+1)
	for _, c := range cases {
		outputs = append(outputs, CasePort(c))
	}
	outputs = append(outputs, PortDefault)

	return NewBranch(id, []string{PortInput}, outputs,
		func(ctx Context, in Inputs) (BranchResult, error) {
			data, _ := in.Get(PortInput)
			if data == nil {
				data = Values{}
			}
			result := make(BranchResult, len(outputs))
			for _, p := range outputs {
				result[p] = nil
			}
			v, found := expr.Lookup(switchVars(data), field)
			key := fmt.Sprintf("%v", v)
			if found && slices.Contains(cases, key) {
				result[CasePort(key)] = data
			} else {
				result[PortDefault] = data
			}
			return result, nil
		})
}

// CasePort returns the output port name used by NewCaseSwitch for a case.
func CasePort(c string) string {
	return "case_" + strings.ReplaceAll(c, " ", "_")
}

func switchVars(data any) map[string]any {
	vars := map[string]any{"input": data, "value": data}
	switch m := data.(type) {
	case map[string]any:
		for k, v := range m {
			vars[k] = v
		}
	case Values:
		for k, v := range m {
			vars[k] = v
		}
	}
	return vars
}

// ID implements Node.
func (n *BranchNode) ID() string { return n.id }

// Kind implements Node.
func (n *BranchNode) Kind() NodeKind { return KindBranch }

// Ports implements Node.
func (n *BranchNode) Ports() Ports { return n.ports }

// Evaluate implements Node. Results naming undeclared ports are rejected.
func (n *BranchNode) Evaluate(ctx Context, in Inputs) (Values, error) {
	result, err := n.route(ctx, in)
	if err != nil {
		return nil, err
	}
	for port := range result {
		if !n.ports.HasOutput(port) {
			return nil, fmt.Errorf("%w: branch returned undeclared port %q", ErrPortNotFound, port)
		}
	}
	return result, nil
}

func (*BranchNode) sealed() {}

// MergeStrategy selects how a merge node combines its live inputs.
type MergeStrategy string

const (
	// MergeConcat collects inputs into a slice, flattening slice inputs.
	MergeConcat MergeStrategy = "concat"
	// MergeFirst forwards the first live input in connection order.
	MergeFirst MergeStrategy = "first"
	// MergeDict merges map inputs; later connections win on key conflicts.
	MergeDict MergeStrategy = "merge_dict"
)

// MergeFunc is a custom aggregation over the (possibly filtered) inputs.
type MergeFunc func(ctx Context, in Inputs) (any, error)

// MergeNode aggregates multiple upstreams into PortMerged.
// Planning always treats merge inputs with OR semantics; SkipNone only
// controls whether dead inputs are visible to the aggregation.
type MergeNode struct {
	id       string
	ports    Ports
	strategy MergeStrategy
	skipNone bool
	fn       MergeFunc
}

// MergeOption configures a MergeNode.
type MergeOption func(*MergeNode)

// WithStrategy sets the merge strategy. Default: MergeConcat.
func WithStrategy(s MergeStrategy) MergeOption {
	return func(m *MergeNode) { m.strategy = s }
}

// WithSkipNone controls whether dead inputs are dropped before
// aggregation. Default: true.
func WithSkipNone(skip bool) MergeOption {
	return func(m *MergeNode) { m.skipNone = skip }
}

// WithMergeFunc replaces the built-in strategies with fn.
func WithMergeFunc(fn MergeFunc) MergeOption {
	return func(m *MergeNode) { m.fn = fn }
}

// NewMerge creates a merge node with the given input ports. Nil inputs
// default to data1..data5.
func NewMerge(id string, inputs []string, opts ...MergeOption) *MergeNode {
	if inputs == nil {
		inputs = []string{"data1", "data2", "data3", "data4", "data5"}
	}
	m := &MergeNode{
		id:       id,
		ports:    Ports{Inputs: slices.Clone(inputs), Outputs: []string{PortMerged}},
		strategy: MergeConcat,
		skipNone: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID implements Node.
func (m *MergeNode) ID() string { return m.id }

// Kind implements Node.
func (m *MergeNode) Kind() NodeKind { return KindMerge }

// Ports implements Node.
func (m *MergeNode) Ports() Ports { return m.ports }

// Strategy returns the configured merge strategy.
func (m *MergeNode) Strategy() MergeStrategy { return m.strategy }

// Evaluate implements Node. With no live input the merge produces nothing,
// which downstream nodes observe as dead. SkipNone only decides whether
// dead inputs are aggregated alongside live ones.
func (m *MergeNode) Evaluate(ctx Context, in Inputs) (Values, error) {
	if !in.AnyLive() {
		return Values{}, nil
	}
	visible := in
	if m.skipNone {
		visible = in.Live()
	}

	if m.fn != nil {
		out, err := m.fn(ctx, visible)
		if err != nil {
			return nil, err
		}
		return Values{PortMerged: out}, nil
	}

	switch m.strategy {
	case MergeFirst:
		for _, i := range visible {
			if i.Live {
				return Values{PortMerged: i.Value}, nil
			}
		}
		return Values{}, nil
	case MergeDict:
		merged := make(map[string]any)
		for _, i := range visible {
			if src, ok := asMap(i.Value); ok {
				maps.Copy(merged, src)
			}
		}
		return Values{PortMerged: merged}, nil
	case MergeConcat, "":
		merged := make([]any, 0, len(visible))
		for _, i := range visible {
			if items, ok := i.Value.([]any); ok {
				merged = append(merged, items...)
				continue
			}
			merged = append(merged, i.Value)
		}
		return Values{PortMerged: merged}, nil
	default:
		return nil, fmt.Errorf("unknown merge strategy %q", m.strategy)
	}
}

func (*MergeNode) sealed() {}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Values:
		return m, true
	default:
		return nil, false
	}
}
