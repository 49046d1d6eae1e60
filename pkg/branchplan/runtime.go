package branchplan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/branchplan/pkg/branchplan/observability"
	"github.com/randalmurphal/branchplan/pkg/branchplan/registry"
)

// Runtime executes compiled graphs with per-run mode selection.
//
// A Runtime analyses each distinct graph once (keyed by its fingerprint),
// chooses route_data or skip_branches for every run, and falls back to
// route_data when a skip_branches plan cannot be trusted. Runtime is safe
// for concurrent use; concurrent runs share only the analysis cache and
// the performance history.
type Runtime struct {
	opts     Options
	tracker  *PerformanceTracker
	selector *ModeSelector
	reporter *Reporter
	analyses *registry.Registry[string, *analysisEntry]

	mu           sync.Mutex
	lastReport   *CompatibilityReport
	lastDecision ModeDecision
}

// analysisEntry caches everything derived from one graph structure.
type analysisEntry struct {
	report  *CompatibilityReport
	planner *Planner
}

// Result is the outcome of one run.
type Result struct {
	RunID string

	// Mode is the mode the run finished in.
	Mode     ExecutionMode
	Decision ModeDecision
	Report   *CompatibilityReport

	// Plan is the final plan of a skip_branches run; nil in route_data.
	Plan *ExecutionPlan

	// Outputs holds the outputs of every executed node.
	Outputs map[string]Values

	// BranchResults holds the result of every evaluated branch.
	BranchResults BranchResults

	Executed int
	Skipped  int
	Passes   int
	Duration time.Duration

	// FellBack is set when the run left skip_branches; FallbackCause is
	// the error that caused it.
	FellBack      bool
	FallbackCause error
}

// Output returns the value node produced on port, if it ran.
func (r *Result) Output(node, port string) (any, bool) {
	if r == nil {
		return nil, false
	}
	out, ok := r.Outputs[node]
	if !ok {
		return nil, false
	}
	v, ok := out[port]
	return v, ok && v != nil
}

// SkipRatio is the fraction of nodes the run did not execute.
func (r *Result) SkipRatio() float64 {
	total := r.Executed + r.Skipped
	if total == 0 {
		return 0
	}
	return float64(r.Skipped) / float64(total)
}

// NewRuntime creates a runtime from functional options.
//
// Example:
//
//	rt := branchplan.NewRuntime(
//	    branchplan.WithMode(branchplan.ModeSkipBranches),
//	    branchplan.WithCompatibilityReporting(true),
//	)
//	result, err := rt.Execute(ctx, compiled, map[string]branchplan.Values{
//	    "source": {"input_data": payload},
//	})
func NewRuntime(opts ...Option) *Runtime {
	return NewRuntimeWithOptions(NewOptions(opts...))
}

// NewRuntimeWithOptions creates a runtime from a complete Options value,
// such as one returned by OptionsFromConfig.
func NewRuntimeWithOptions(opts Options) *Runtime {
	opts.normalize()
	var tracker *PerformanceTracker
	if opts.PerformanceMonitoring {
		tracker = NewPerformanceTracker(opts.HistorySize)
	}
	return &Runtime{
		opts:     opts,
		tracker:  tracker,
		selector: NewModeSelector(opts, tracker),
		reporter: NewReporter(opts, tracker),
		analyses: registry.New[string, *analysisEntry](),
	}
}

// Options returns the runtime's options.
func (r *Runtime) Options() Options { return r.opts }

// Compatibility returns the compatibility report for cg, analysing it on
// first use.
func (r *Runtime) Compatibility(ctx context.Context, cg *CompiledGraph) (*CompatibilityReport, error) {
	if cg == nil {
		return nil, ErrNilGraph
	}
	e, err := r.analyze(ctx, cg)
	if err != nil {
		return nil, err
	}
	return e.report, nil
}

// LastReport returns the compatibility report used by the latest run.
func (r *Runtime) LastReport() *CompatibilityReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReport
}

// LastDecision returns the mode decision of the latest run.
func (r *Runtime) LastDecision() ModeDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastDecision
}

// Performance returns a snapshot of the tracked run history. It is empty
// unless performance monitoring is enabled.
func (r *Runtime) Performance() PerformanceSnapshot {
	if r.tracker == nil {
		return PerformanceSnapshot{ByMode: map[ExecutionMode]ModeStats{}}
	}
	return r.tracker.Snapshot()
}

// Execute runs cg once. inputs maps node IDs (normally entries) to the
// values delivered to their ports before the run starts.
//
// The returned error is a *NodeError or *PanicError for node failures, a
// *CancellationError when ctx ends first, or a *PlanValidationError when
// skip_branches fails and RestartOnFallback is off. The result is returned
// alongside errors and describes the work done so far.
func (r *Runtime) Execute(ctx context.Context, cg *CompiledGraph, inputs map[string]Values) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cg == nil {
		return nil, ErrNilGraph
	}
	for id := range inputs {
		if !cg.HasNode(id) {
			return nil, fmt.Errorf("input for %q: %w", id, ErrNodeNotFound)
		}
	}

	runID := uuid.New().String()
	start := time.Now()
	ctx, span := r.opts.Spans.StartRunSpan(ctx, cg.Name(), runID, string(r.opts.Mode))
	observability.LogRunStart(r.opts.Logger, runID, cg.Name(), string(r.opts.Mode))

	entry, err := r.analyze(ctx, cg)
	if err != nil {
		observability.LogRunError(r.opts.Logger, runID, string(r.opts.Mode), err, 0)
		r.opts.Spans.EndSpanWithError(span, err)
		return nil, err
	}

	decision := r.selector.Select(entry.report)
	r.mu.Lock()
	switched := !r.lastDecision.At.IsZero() && r.lastDecision.Mode != decision.Mode
	r.mu.Unlock()
	r.reporter.ReportDecision(ctx, runID, decision, switched)

	base := &executionContext{
		Context: ctx,
		root:    r.opts.Logger,
		logger:  r.opts.Logger,
		runID:   runID,
	}
	result := &Result{RunID: runID, Report: entry.report}

	state := newRunState(cg, r.opts, base, decision.Mode, inputs)
	err = r.run(ctx, state, entry)
	if err != nil && decision.Mode == ModeSkipBranches && IsFallbackTrigger(err) {
		r.reporter.ReportFallback(ctx, runID, err)
		decision = r.selector.Fallback(decision, err)
		result.FellBack = true
		result.FallbackCause = err
		if r.opts.RestartOnFallback {
			state = newRunState(cg, r.opts, base, ModeRouteData, inputs)
			err = r.run(ctx, state, entry)
		}
	}

	result.Mode = decision.Mode
	result.Decision = decision
	result.Plan = state.plan
	result.Passes = state.passes
	result.Outputs = state.liveOutputs()
	result.BranchResults = state.snapshotResults()
	result.Executed = state.executedCount()
	result.Skipped = state.skippedCount()
	result.Duration = time.Since(start)

	r.mu.Lock()
	r.lastReport = entry.report
	r.lastDecision = decision
	r.mu.Unlock()

	r.reporter.ReportRun(ctx, RunStats{
		RunID:    runID,
		Graph:    cg.Name(),
		Mode:     result.Mode,
		Duration: result.Duration,
		Executed: result.Executed,
		Skipped:  result.Skipped,
		Passes:   result.Passes,
		Fallback: result.FellBack,
		Err:      err,
	})
	r.opts.Spans.EndSpanWithError(span, err)
	return result, err
}

// run executes state in its mode inside a phase span.
func (r *Runtime) run(ctx context.Context, state *runState, entry *analysisEntry) error {
	ctx, span := r.opts.Spans.StartPhaseSpan(ctx, "execute", attribute.String("mode", string(state.mode)))
	var err error
	if state.mode == ModeSkipBranches {
		err = state.runSkip(ctx, entry.planner)
	} else {
		err = state.runRoute(ctx)
	}
	r.opts.Spans.EndSpanWithError(span, err)
	return err
}

// analyze returns the cached analysis of cg, computing and reporting it on
// first use. Failed analyses are not cached.
func (r *Runtime) analyze(ctx context.Context, cg *CompiledGraph) (*analysisEntry, error) {
	entry, created, err := r.analyses.Compute(cg.Fingerprint(), func() (*analysisEntry, error) {
		_, span := r.opts.Spans.StartPhaseSpan(ctx, "analyze")
		report, _, err := AnalyzeCompatibility(cg)
		r.opts.Spans.EndSpanWithError(span, err)
		if err != nil {
			return nil, err
		}
		return &analysisEntry{report: report, planner: NewPlanner(cg, r.opts)}, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		r.reporter.ReportCompatibility(ctx, cg.Name(), entry.report)
	}
	return entry, nil
}
