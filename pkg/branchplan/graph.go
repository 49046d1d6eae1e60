package branchplan

import (
	"fmt"
	"strings"
	"sync"
)

// Connection routes the value of one output port to one input port.
// Path optionally selects a nested field of the source value
// (e.g. "result.users"); an unresolvable path delivers nothing.
type Connection struct {
	From     string
	FromPort string
	To       string
	ToPort   string
	Path     string
}

// String renders the connection as "from.port -> to.port".
func (c Connection) String() string {
	s := fmt.Sprintf("%s.%s -> %s.%s", c.From, c.FromPort, c.To, c.ToPort)
	if c.Path != "" {
		s += " [" + c.Path + "]"
	}
	return s
}

// Graph is a mutable builder for node graphs.
// Use NewGraph, chain AddNode, Connect and SetEntry calls, then Compile
// into an immutable CompiledGraph.
//
// Graph is NOT intended for concurrent building; the mutex only guards
// against accidental races. The CompiledGraph is safe to share.
//
// Example:
//
//	graph := branchplan.NewGraph().
//	    AddNode(source).
//	    AddNode(branchplan.NewSwitch("switch", "score > 90")).
//	    AddNode(high).
//	    AddNode(low).
//	    Connect("source", "output", "switch", branchplan.PortInput).
//	    Connect("switch", branchplan.PortTrue, "high", branchplan.PortInput).
//	    Connect("switch", branchplan.PortFalse, "low", branchplan.PortInput)
//
//	compiled, err := graph.Compile()
type Graph struct {
	mu          sync.Mutex
	name        string
	nodes       map[string]Node
	order       []string
	connections []Connection
	entries     []string
}

// NewGraph creates an empty graph builder.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
	}
}

// Named sets a display name used in logs and spans.
func (g *Graph) Named(name string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
	return g
}

// AddNode adds a node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - node is nil
//   - its ID is empty or contains whitespace or '.'
//   - its ID already exists in the graph
func (g *Graph) AddNode(node Node) *Graph {
	if node == nil {
		panic("branchplan: node cannot be nil")
	}
	id := node.ID()
	if id == "" {
		panic("branchplan: node ID cannot be empty")
	}
	if strings.ContainsAny(id, " \t\n\r.") {
		panic("branchplan: node ID cannot contain whitespace or '.'")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("branchplan: duplicate node ID: %s", id))
	}
	g.nodes[id] = node
	g.order = append(g.order, id)
	return g
}

// Connect routes from.fromPort to to.toPort.
// Reference validation happens at Compile time, so connections may be
// declared before the nodes they mention.
func (g *Graph) Connect(from, fromPort, to, toPort string) *Graph {
	return g.AddConnection(Connection{From: from, FromPort: fromPort, To: to, ToPort: toPort})
}

// ConnectPath is Connect with a nested-field accessor on the source value.
func (g *Graph) ConnectPath(from, fromPort, path, to, toPort string) *Graph {
	return g.AddConnection(Connection{From: from, FromPort: fromPort, To: to, ToPort: toPort, Path: path})
}

// AddConnection appends a fully specified connection.
func (g *Graph) AddConnection(c Connection) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connections = append(g.connections, c)
	return g
}

// SetEntry declares explicit entry nodes, replacing earlier calls.
// Without explicit entries every node lacking inbound connections is one.
func (g *Graph) SetEntry(ids ...string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = append([]string(nil), ids...)
	return g
}
