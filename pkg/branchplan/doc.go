/*
Package branchplan plans and executes node graphs with conditional branches.

# Overview

A graph is built from three kinds of node. Ordinary nodes compute outputs
from inputs. Branch nodes fire a subset of their output ports on each
evaluation. Merge nodes aggregate several upstreams and tolerate absent
inputs. Connections route one output port to one input port.

Before any run the graph is analysed once: every branch is classified
(simple, nested, cross-dependent), merges are checked for a guaranteed
live input, and cycles that involve branches are flagged. The analysis
is graded into a CompatibilityReport whose verdict decides whether the
graph can safely skip the nodes behind untaken branches.

Two execution modes exist:
  - route_data visits every node. Nodes behind an untaken branch receive
    dead inputs and are marked dead without running. Always correct.
  - skip_branches plans which nodes the known branch outcomes make
    reachable and never visits the rest. Selected only for fully
    compatible graphs, unless forced.

A skip_branches run whose plan fails validation falls back to route_data.

# Basic Usage

	source := branchplan.NewNode("source", nil, nil, load)
	high := branchplan.NewNode("high", nil, nil, premium)
	low := branchplan.NewNode("low", nil, nil, standard)

	compiled, err := branchplan.NewGraph().
	    AddNode(source).
	    AddNode(branchplan.NewSwitch("switch", "score > 90")).
	    AddNode(high).
	    AddNode(low).
	    Connect("source", branchplan.PortOutput, "switch", branchplan.PortInput).
	    Connect("switch", branchplan.PortTrue, "high", branchplan.PortInput).
	    Connect("switch", branchplan.PortFalse, "low", branchplan.PortInput).
	    Compile()
	if err != nil {
	    log.Fatal(err)
	}

	rt := branchplan.NewRuntime(branchplan.WithMode(branchplan.ModeSkipBranches))
	result, err := rt.Execute(ctx, compiled, map[string]branchplan.Values{
	    "source": {branchplan.PortInput: map[string]any{"score": 95}},
	})

# Planning Without Executing

The planner is usable on its own when branch outcomes come from
elsewhere:

	report, _, err := branchplan.AnalyzeCompatibility(compiled)
	plan := branchplan.CreateExecutionPlan(compiled, branchplan.BranchResults{
	    "switch": {branchplan.PortTrue: payload},
	})
	if errs := branchplan.ValidateExecutionPlan(compiled, plan); len(errs) > 0 {
	    // fall back
	}

A plan lists included and skipped nodes. Branches that are included but
have no result yet are pending, and the nodes only they can reach are
deferred. Planner.Resolve replans until no branch is pending, with a
bounded number of passes.

# Configuration

Runtime options come from functional options or from a config file:

	cfg, err := config.FromFile("branchplan.yaml")
	opts, err := branchplan.OptionsFromConfig(cfg)
	rt := branchplan.NewRuntimeWithOptions(opts)

Options are fixed at construction; there are no process-wide toggles.

# Observability

Runs log through log/slog, record OpenTelemetry metrics when performance
monitoring is on, and emit spans with WithTracing(true). The Reporter
tracks skip ratios and latency per mode, which AutoSwitch uses to drop
back to route_data when skipping does not pay off.

# Error Handling

Compile returns a *GraphIntegrityError listing every malformed
connection. Analysis diagnostics (*CircularBranchDependencyError,
*IncompatiblePatternError) are advisory and live on the report. Plan
problems are *PlanValidationError and trigger fallback. Node failures
surface as *NodeError or *PanicError, cancellation as
*CancellationError.

# Thread Safety

CompiledGraph is immutable and may be shared by concurrent runs. A
Runtime is safe for concurrent use. Ready nodes within a run execute in
parallel, bounded by WithMaxConcurrency.

# Subpackages

  - expr: condition expressions and dot-path lookup
  - plancache: memory, SQLite and Redis plan caches
  - config: typed access to configuration maps
  - graphdef: YAML and JSON graph definitions
  - registry: generic concurrency-safe registry
  - observability: logging helpers, metrics and tracing
*/
package branchplan
