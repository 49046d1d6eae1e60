package branchplan

import "slices"

// Component is a strongly connected component of the compiled graph.
type Component struct {
	// Index is the component's position in discovery order.
	Index int
	// Nodes are the members in insertion order.
	Nodes []string
	// Cyclic is true for components with more than one node or a self loop.
	Cyclic bool
}

// CompiledGraph is an immutable, analysed graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is safe for concurrent use by any number of runs; all
// per-run state (branch results, plans, reports) lives outside it.
type CompiledGraph struct {
	name        string
	nodes       map[string]Node
	ids         []string
	index       map[string]int
	entries     []string
	isEntry     map[string]bool
	connections []Connection

	// Pre-computed for efficient lookup
	outgoing    map[string][]Connection
	incoming    map[string][]Connection
	component   map[string]int
	components  []Component
	rank        map[string]int
	order       []string
	fingerprint string
}

// Name returns the display name set with Graph.Named, or "graph".
func (cg *CompiledGraph) Name() string {
	if cg.name == "" {
		return "graph"
	}
	return cg.name
}

// Entries returns the entry node IDs.
func (cg *CompiledGraph) Entries() []string {
	return slices.Clone(cg.entries)
}

// IsEntry reports whether id is an entry node.
func (cg *CompiledGraph) IsEntry(id string) bool {
	return cg.isEntry[id]
}

// NodeIDs returns all node IDs in insertion order.
func (cg *CompiledGraph) NodeIDs() []string {
	return slices.Clone(cg.ids)
}

// Len returns the number of nodes.
func (cg *CompiledGraph) Len() int {
	return len(cg.ids)
}

// Node returns the node with the given ID.
func (cg *CompiledGraph) Node(id string) (Node, bool) {
	n, ok := cg.nodes[id]
	return n, ok
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, ok := cg.nodes[id]
	return ok
}

// Kind returns the kind of node id. Unknown nodes report KindOrdinary.
func (cg *CompiledGraph) Kind(id string) NodeKind {
	if n, ok := cg.nodes[id]; ok {
		return n.Kind()
	}
	return KindOrdinary
}

// Connections returns every connection in declaration order.
func (cg *CompiledGraph) Connections() []Connection {
	return slices.Clone(cg.connections)
}

// Outgoing returns connections leaving id, in declaration order.
func (cg *CompiledGraph) Outgoing(id string) []Connection {
	return cg.outgoing[id]
}

// Incoming returns connections arriving at id, in declaration order.
func (cg *CompiledGraph) Incoming(id string) []Connection {
	return cg.incoming[id]
}

// Successors returns the distinct targets of id's connections.
func (cg *CompiledGraph) Successors(id string) []string {
	var out []string
	for _, c := range cg.outgoing[id] {
		if !slices.Contains(out, c.To) {
			out = append(out, c.To)
		}
	}
	return out
}

// Predecessors returns the distinct sources of id's inbound connections.
func (cg *CompiledGraph) Predecessors(id string) []string {
	var out []string
	for _, c := range cg.incoming[id] {
		if !slices.Contains(out, c.From) {
			out = append(out, c.From)
		}
	}
	return out
}

// Order returns the dependency order: every node appears after the sources
// of its inbound connections, except across the back edges of a cycle.
func (cg *CompiledGraph) Order() []string {
	return slices.Clone(cg.order)
}

// Components returns the strongly connected components.
func (cg *CompiledGraph) Components() []Component {
	return slices.Clone(cg.components)
}

// ComponentOf returns the component containing id.
func (cg *CompiledGraph) ComponentOf(id string) (Component, bool) {
	idx, ok := cg.component[id]
	if !ok {
		return Component{}, false
	}
	return cg.components[idx], true
}

// InCycle reports whether id belongs to a cyclic component.
func (cg *CompiledGraph) InCycle(id string) bool {
	c, ok := cg.ComponentOf(id)
	return ok && c.Cyclic
}

// HasCycles reports whether any cyclic component exists.
func (cg *CompiledGraph) HasCycles() bool {
	return slices.ContainsFunc(cg.components, func(c Component) bool { return c.Cyclic })
}

// sameCycle reports whether a and b are in the same cyclic component.
func (cg *CompiledGraph) sameCycle(a, b string) bool {
	ca, okA := cg.component[a]
	cb, okB := cg.component[b]
	return okA && okB && ca == cb && cg.components[ca].Cyclic
}

// isBackEdge reports whether c closes a cycle: it runs between members of
// one cyclic component against their walk order. A cycle's members run
// once each, in walk order, and see back edges as dead.
func (cg *CompiledGraph) isBackEdge(c Connection) bool {
	return cg.sameCycle(c.From, c.To) && cg.rank[c.From] >= cg.rank[c.To]
}

// Fingerprint returns a stable hash of the graph structure.
func (cg *CompiledGraph) Fingerprint() string {
	return cg.fingerprint
}

// BranchNodes returns the IDs of branch nodes in insertion order.
func (cg *CompiledGraph) BranchNodes() []string {
	return cg.nodesOfKind(KindBranch)
}

// MergeNodes returns the IDs of merge nodes in insertion order.
func (cg *CompiledGraph) MergeNodes() []string {
	return cg.nodesOfKind(KindMerge)
}

func (cg *CompiledGraph) nodesOfKind(k NodeKind) []string {
	var out []string
	for _, id := range cg.ids {
		if cg.nodes[id].Kind() == k {
			out = append(out, id)
		}
	}
	return out
}
