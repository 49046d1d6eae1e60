package benchmarks

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/branchplan/pkg/branchplan"
)

func init() {
	// Compile warns about unreachable nodes through the default logger.
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// noopNode does minimal work to measure framework overhead.
func noopNode(ctx branchplan.Context, in branchplan.Inputs) (branchplan.Values, error) {
	v, _ := in.Get(branchplan.PortInput)
	if v == nil {
		v = 0
	}
	return branchplan.Values{branchplan.PortOutput: v}, nil
}

func nodeID(i int) string {
	return fmt.Sprintf("node%d", i)
}

// buildLinearGraph chains n ordinary nodes.
func buildLinearGraph(n int) *branchplan.Graph {
	g := branchplan.NewGraph()
	for i := range n {
		g.AddNode(branchplan.NewNode(nodeID(i), nil, nil, noopNode))
		if i > 0 {
			g.Connect(nodeID(i-1), branchplan.PortOutput, nodeID(i), branchplan.PortInput)
		}
	}
	return g
}

// buildBranchingGraph chains depth switches. Each switch's false side ends
// in a tail of width nodes; the true side leads to the next switch. A merge
// collects every tail and the final true side.
func buildBranchingGraph(depth, width int) *branchplan.Graph {
	g := branchplan.NewGraph().AddNode(branchplan.NewNode("source", nil, nil, noopNode))
	inputs := make([]string, 0, depth+1)
	for d := range depth + 1 {
		inputs = append(inputs, fmt.Sprintf("in%d", d))
	}
	g.AddNode(branchplan.NewMerge("merge", inputs))

	prev, prevPort := "source", branchplan.PortOutput
	for d := range depth {
		sw := fmt.Sprintf("switch%d", d)
		g.AddNode(branchplan.NewSwitch(sw, fmt.Sprintf("value > %d", d*10))).
			Connect(prev, prevPort, sw, branchplan.PortInput)

		tailPrev, tailPort := sw, branchplan.PortFalse
		for w := range width {
			id := fmt.Sprintf("tail%d_%d", d, w)
			g.AddNode(branchplan.NewNode(id, nil, nil, noopNode)).
				Connect(tailPrev, tailPort, id, branchplan.PortInput)
			tailPrev, tailPort = id, branchplan.PortOutput
		}
		g.Connect(tailPrev, tailPort, "merge", inputs[d])
		prev, prevPort = sw, branchplan.PortTrue
	}
	g.AddNode(branchplan.NewNode("final", nil, nil, noopNode)).
		Connect(prev, prevPort, "final", branchplan.PortInput).
		Connect("final", branchplan.PortOutput, "merge", inputs[depth])
	return g
}

func mustCompile(g *branchplan.Graph) *branchplan.CompiledGraph {
	compiled, err := g.Compile()
	if err != nil {
		panic(err)
	}
	return compiled
}

// BenchmarkAddNode_100 measures adding 100 nodes.
func BenchmarkAddNode_100(b *testing.B) {
	for range b.N {
		g := branchplan.NewGraph()
		for j := range 100 {
			g.AddNode(branchplan.NewNode(nodeID(j), nil, nil, noopNode))
		}
	}
}

// BenchmarkCompile_Linear_10 compiles a 10-node linear graph.
func BenchmarkCompile_Linear_10(b *testing.B) {
	graph := buildLinearGraph(10)
	b.ResetTimer()
	for range b.N {
		_, _ = graph.Compile()
	}
}

// BenchmarkCompile_Linear_100 compiles a 100-node linear graph.
func BenchmarkCompile_Linear_100(b *testing.B) {
	graph := buildLinearGraph(100)
	b.ResetTimer()
	for range b.N {
		_, _ = graph.Compile()
	}
}

// BenchmarkCompile_Branching compiles a 5-deep switch chain.
func BenchmarkCompile_Branching(b *testing.B) {
	graph := buildBranchingGraph(5, 10)
	b.ResetTimer()
	for range b.N {
		_, _ = graph.Compile()
	}
}

// BenchmarkAnalyze measures pattern analysis and compatibility grading.
func BenchmarkAnalyze(b *testing.B) {
	compiled := mustCompile(buildBranchingGraph(5, 10))
	b.ResetTimer()
	for range b.N {
		_, _, _ = branchplan.AnalyzeCompatibility(compiled)
	}
}

// BenchmarkCreateExecutionPlan measures one planning pass with every
// branch resolved.
func BenchmarkCreateExecutionPlan(b *testing.B) {
	compiled := mustCompile(buildBranchingGraph(5, 10))
	results := branchplan.BranchResults{}
	for d := range 5 {
		results[fmt.Sprintf("switch%d", d)] = branchplan.BranchResult{branchplan.PortTrue: d}
	}
	b.ResetTimer()
	for range b.N {
		branchplan.CreateExecutionPlan(compiled, results)
	}
}

// BenchmarkValidateExecutionPlan measures plan validation.
func BenchmarkValidateExecutionPlan(b *testing.B) {
	compiled := mustCompile(buildBranchingGraph(5, 10))
	plan := branchplan.CreateExecutionPlan(compiled, branchplan.BranchResults{
		"switch0": {branchplan.PortFalse: 0},
	})
	b.ResetTimer()
	for range b.N {
		branchplan.ValidateExecutionPlan(compiled, plan)
	}
}
