package branchplan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNode_Panics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"nil node", func() { NewGraph().AddNode(nil) }},
		{"empty id", func() { NewGraph().AddNode(forward("", nil)) }},
		{"dotted id", func() { NewGraph().AddNode(forward("a.b", nil)) }},
		{"duplicate id", func() { NewGraph().AddNode(forward("a", nil)).AddNode(forward("a", nil)) }},
		{"nil node func", func() { NewNode("a", nil, nil, nil) }},
		{"nil route func", func() { NewBranch("b", nil, []string{"x"}, nil) }},
		{"malformed switch condition", func() { NewSwitch("s", "score >") }},
		{"branch without outputs", func() {
			NewBranch("b", nil, nil, func(Context, Inputs) (BranchResult, error) { return nil, nil })
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, tt.fn)
		})
	}
}

func TestCompile_CollectsAllIntegrityProblems(t *testing.T) {
	_, err := NewGraph().
		AddNode(forward("a", nil)).
		AddNode(NewSwitch("s", "x > 1")).
		Connect("a", PortOutput, "ghost", PortInput).
		Connect("a", "nope", "s", PortInput).
		Connect("s", PortTrue, "a", "missing_port").
		SetEntry("a", "phantom").
		Compile()

	require.Error(t, err)
	var gie *GraphIntegrityError
	require.True(t, errors.As(err, &gie))
	assert.Len(t, gie.Problems, 4)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.ErrorIs(t, err, ErrPortNotFound)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCompile_EmptyGraph(t *testing.T) {
	_, err := NewGraph().Compile()
	assert.ErrorIs(t, err, ErrEmptyGraph)
}

func TestCompile_NoEntryPoint(t *testing.T) {
	_, err := NewGraph().
		AddNode(forward("a", nil)).
		AddNode(forward("b", nil)).
		Connect("a", PortOutput, "b", PortInput).
		Connect("b", PortOutput, "a", PortInput).
		Compile()
	assert.ErrorIs(t, err, ErrNoEntryPoint)
}

func TestCompile_InfersEntries(t *testing.T) {
	cg := mergeGraph(t, nil)
	assert.Equal(t, []string{"source"}, cg.Entries())
	assert.True(t, cg.IsEntry("source"))
	assert.False(t, cg.IsEntry("merge"))
	assert.Equal(t, "merge", cg.Name())
	assert.Equal(t, 6, cg.Len())
}

func TestCompile_DependencyOrder(t *testing.T) {
	cg := mergeGraph(t, nil)
	order := cg.Order()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Len(t, order, cg.Len())
	for _, c := range cg.Connections() {
		assert.Less(t, pos[c.From], pos[c.To], "%s", c)
	}
}

func TestCompile_CycleOrder(t *testing.T) {
	cg := cycleGraph(t, nil)

	assert.True(t, cg.HasCycles())
	assert.True(t, cg.InCycle("A"))
	assert.True(t, cg.InCycle("switch"))
	assert.False(t, cg.InCycle("done"))

	comp, ok := cg.ComponentOf("switch")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"A", "switch"}, comp.Nodes)

	// A is fed from outside the cycle, so it comes first.
	assert.Equal(t, []string{"source", "A", "switch", "done"}, cg.Order())
}

func TestCompile_SelfLoopIsCyclic(t *testing.T) {
	cg, err := NewGraph().
		AddNode(forward("src", nil)).
		AddNode(NewMerge("loop", []string{"in", "again"})).
		Connect("src", PortOutput, "loop", "in").
		Connect("loop", PortMerged, "loop", "again").
		Compile()
	require.NoError(t, err)
	assert.True(t, cg.InCycle("loop"))
}

func TestFingerprint(t *testing.T) {
	a := scoringGraph(t, nil)
	b := scoringGraph(t, nil)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)

	c := mergeGraph(t, nil)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestCompiledGraph_Accessors(t *testing.T) {
	cg := mergeGraph(t, nil)

	assert.Equal(t, []string{"switch"}, cg.BranchNodes())
	assert.Equal(t, []string{"merge"}, cg.MergeNodes())
	assert.Equal(t, KindBranch, cg.Kind("switch"))
	assert.Equal(t, KindOrdinary, cg.Kind("unknown"))
	assert.Equal(t, []string{"high", "low"}, cg.Successors("switch"))
	assert.Equal(t, []string{"high", "low"}, cg.Predecessors("merge"))
	assert.Len(t, cg.Incoming("merge"), 2)
	assert.Len(t, cg.Outgoing("switch"), 2)

	n, ok := cg.Node("merge")
	require.True(t, ok)
	assert.Equal(t, PortMerged, n.Ports().Outputs[0])

	// Returned slices are copies.
	ids := cg.NodeIDs()
	ids[0] = "mutated"
	assert.Equal(t, "source", cg.NodeIDs()[0])
}

func TestConnection_String(t *testing.T) {
	c := Connection{From: "a", FromPort: "out", To: "b", ToPort: "in"}
	assert.Equal(t, "a.out -> b.in", c.String())
	c.Path = "result.users"
	assert.Equal(t, "a.out -> b.in [result.users]", c.String())
}
