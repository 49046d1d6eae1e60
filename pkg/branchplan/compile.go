package branchplan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Compile validates the graph and creates an immutable CompiledGraph.
// All integrity problems are collected into one *GraphIntegrityError.
//
// Validation checks (in order):
//  1. The graph has at least one node
//  2. Explicit entries reference existing nodes
//  3. Connection endpoints reference existing nodes
//  4. Connection ports are declared on their nodes
//  5. At least one entry exists (explicit or inferred)
//
// Nodes unreachable from every entry are logged as warnings but do not
// fail compilation.
func (g *Graph) Compile() (*CompiledGraph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var problems []error

	if len(g.nodes) == 0 {
		problems = append(problems, ErrEmptyGraph)
	}

	for _, id := range g.entries {
		if _, ok := g.nodes[id]; !ok {
			problems = append(problems, fmt.Errorf("%w: %s", ErrEntryNotFound, id))
		}
	}

	for _, c := range g.connections {
		problems = append(problems, g.checkConnection(c)...)
	}

	entries := g.resolveEntries()
	if len(g.nodes) > 0 && len(entries) == 0 {
		problems = append(problems, ErrNoEntryPoint)
	}

	if len(problems) > 0 {
		return nil, &GraphIntegrityError{Problems: problems}
	}

	cg := g.buildCompiledGraph(entries)
	cg.warnUnreachable()
	return cg, nil
}

func (g *Graph) checkConnection(c Connection) []error {
	var errs []error
	src, srcOK := g.nodes[c.From]
	if !srcOK {
		errs = append(errs, fmt.Errorf("%w: connection source %q in %s", ErrNodeNotFound, c.From, c))
	} else if !src.Ports().HasOutput(c.FromPort) {
		errs = append(errs, fmt.Errorf("%w: output %q on node %s in %s", ErrPortNotFound, c.FromPort, c.From, c))
	}

	dst, dstOK := g.nodes[c.To]
	if !dstOK {
		errs = append(errs, fmt.Errorf("%w: connection target %q in %s", ErrNodeNotFound, c.To, c))
	} else if !dst.Ports().HasInput(c.ToPort) {
		errs = append(errs, fmt.Errorf("%w: input %q on node %s in %s", ErrPortNotFound, c.ToPort, c.To, c))
	}
	return errs
}

// resolveEntries returns the explicit entries, or every node without an
// inbound connection, in insertion order.
func (g *Graph) resolveEntries() []string {
	if len(g.entries) > 0 {
		out := make([]string, 0, len(g.entries))
		for _, id := range g.entries {
			if _, ok := g.nodes[id]; ok && !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
		return out
	}

	hasInbound := make(map[string]bool, len(g.nodes))
	for _, c := range g.connections {
		hasInbound[c.To] = true
	}
	var out []string
	for _, id := range g.order {
		if !hasInbound[id] {
			out = append(out, id)
		}
	}
	return out
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph) buildCompiledGraph(entries []string) *CompiledGraph {
	cg := &CompiledGraph{
		name:     g.name,
		nodes:    make(map[string]Node, len(g.nodes)),
		index:    make(map[string]int, len(g.order)),
		ids:      slices.Clone(g.order),
		entries:  entries,
		isEntry:  make(map[string]bool, len(entries)),
		outgoing: make(map[string][]Connection),
		incoming: make(map[string][]Connection),
	}
	for i, id := range g.order {
		cg.nodes[id] = g.nodes[id]
		cg.index[id] = i
	}
	for _, id := range entries {
		cg.isEntry[id] = true
	}
	for _, c := range g.connections {
		cg.connections = append(cg.connections, c)
		cg.outgoing[c.From] = append(cg.outgoing[c.From], c)
		cg.incoming[c.To] = append(cg.incoming[c.To], c)
	}

	cg.component, cg.components = stronglyConnected(cg)
	cg.rank = cycleRanks(cg)
	cg.order = topologicalOrder(cg)
	cg.fingerprint = fingerprint(cg)
	return cg
}

// stronglyConnected runs Tarjan's algorithm over the connection graph.
// Returns the component index of each node and the components themselves,
// each sorted by insertion order.
func stronglyConnected(cg *CompiledGraph) (map[string]int, []Component) {
	var (
		counter    int
		stack      []string
		onStack    = make(map[string]bool)
		low        = make(map[string]int)
		visitIndex = make(map[string]int)
		compOf     = make(map[string]int)
		comps      []Component
	)

	var visit func(id string)
	visit = func(id string) {
		visitIndex[id] = counter
		low[id] = counter
		counter++
		stack = append(stack, id)
		onStack[id] = true

		for _, c := range cg.outgoing[id] {
			next := c.To
			if _, seen := visitIndex[next]; !seen {
				visit(next)
				low[id] = min(low[id], low[next])
			} else if onStack[next] {
				low[id] = min(low[id], visitIndex[next])
			}
		}

		if low[id] != visitIndex[id] {
			return
		}
		var members []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			members = append(members, top)
			if top == id {
				break
			}
		}
		slices.SortFunc(members, func(a, b string) int { return cg.index[a] - cg.index[b] })
		comp := Component{Index: len(comps), Nodes: members}
		comp.Cyclic = len(members) > 1 || cg.hasSelfLoop(id)
		for _, m := range members {
			compOf[m] = comp.Index
		}
		comps = append(comps, comp)
	}

	for _, id := range cg.ids {
		if _, seen := visitIndex[id]; !seen {
			visit(id)
		}
	}
	return compOf, comps
}

func (cg *CompiledGraph) hasSelfLoop(id string) bool {
	for _, c := range cg.outgoing[id] {
		if c.To == id {
			return true
		}
	}
	return false
}

// cycleRanks orders the members of each cyclic component breadth-first,
// starting from the members that entries or other components feed.
// Members the walk does not reach follow in insertion order.
func cycleRanks(cg *CompiledGraph) map[string]int {
	rank := make(map[string]int)
	for _, comp := range cg.components {
		if !comp.Cyclic {
			continue
		}
		fedFromOutside := func(id string) bool {
			return cg.isEntry[id] || slices.ContainsFunc(cg.incoming[id], func(c Connection) bool {
				return cg.component[c.From] != comp.Index
			})
		}

		var queue []string
		visit := func(id string) {
			if _, seen := rank[id]; !seen {
				rank[id] = len(queue)
				queue = append(queue, id)
			}
		}
		for _, m := range comp.Nodes {
			if fedFromOutside(m) {
				visit(m)
			}
		}
		for i := 0; i < len(queue); i++ {
			for _, c := range cg.outgoing[queue[i]] {
				if cg.component[c.To] == comp.Index {
					visit(c.To)
				}
			}
		}
		for _, m := range comp.Nodes {
			visit(m)
		}
	}
	return rank
}

// topologicalOrder orders nodes by dependency, ignoring back edges of
// cycles. Ties keep insertion order.
func topologicalOrder(cg *CompiledGraph) []string {
	indegree := make(map[string]int, len(cg.ids))
	for _, c := range cg.connections {
		if !cg.isBackEdge(c) {
			indegree[c.To]++
		}
	}

	var ready []string
	for _, id := range cg.ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(cg.ids))
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b string) int { return cg.index[a] - cg.index[b] })
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, c := range cg.outgoing[current] {
			if cg.isBackEdge(c) {
				continue
			}
			indegree[c.To]--
			if indegree[c.To] == 0 {
				ready = append(ready, c.To)
			}
		}
	}
	return order
}

// fingerprint hashes the graph structure so cached plans are only reused
// against an identical graph.
func fingerprint(cg *CompiledGraph) string {
	lines := make([]string, 0, len(cg.ids)+len(cg.connections)+1)
	for _, id := range cg.ids {
		n := cg.nodes[id]
		p := n.Ports()
		lines = append(lines, fmt.Sprintf("n|%s|%s|%s|%s", id, n.Kind(),
			strings.Join(p.Inputs, ","), strings.Join(p.Outputs, ",")))
	}
	for _, c := range cg.connections {
		lines = append(lines, "c|"+c.String())
	}
	slices.Sort(lines)
	lines = append(lines, "e|"+strings.Join(cg.entries, ","))

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// warnUnreachable logs nodes no entry can reach along any connection.
func (cg *CompiledGraph) warnUnreachable() {
	reachable := cg.reachableFrom(cg.entries, nil)
	for _, id := range cg.ids {
		if !reachable[id] {
			slog.Warn("node is unreachable from every entry", "node_id", id)
		}
	}
}

// reachableFrom returns the nodes reachable from starts. When follow is
// non-nil, a connection is only traversed if follow returns true.
func (cg *CompiledGraph) reachableFrom(starts []string, follow func(Connection) bool) map[string]bool {
	reachable := make(map[string]bool, len(cg.ids))
	queue := make([]string, 0, len(starts))
	for _, s := range starts {
		if !reachable[s] {
			reachable[s] = true
			queue = append(queue, s)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, c := range cg.outgoing[current] {
			if follow != nil && !follow(c) {
				continue
			}
			if !reachable[c.To] {
				reachable[c.To] = true
				queue = append(queue, c.To)
			}
		}
	}
	return reachable
}
