package branchplan

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/branchplan/pkg/branchplan/expr"
	"github.com/randalmurphal/branchplan/pkg/branchplan/observability"
)

// runState holds the per-run mutable state shared by both execution modes.
// The compiled graph is only read.
type runState struct {
	cg      *CompiledGraph
	opts    Options
	mode    ExecutionMode
	base    *executionContext
	initial map[string]Values

	mu       sync.Mutex
	outputs  map[string]Values
	done     map[string]bool
	dead     map[string]bool
	results  BranchResults
	executed []string

	// Set by skip mode only.
	plan   *ExecutionPlan
	passes int
}

func newRunState(cg *CompiledGraph, opts Options, base *executionContext, mode ExecutionMode, initial map[string]Values) *runState {
	return &runState{
		cg:      cg,
		opts:    opts,
		mode:    mode,
		base:    base.withMode(mode),
		initial: initial,
		outputs: make(map[string]Values, cg.Len()),
		done:    make(map[string]bool, cg.Len()),
		dead:    make(map[string]bool),
		results: make(BranchResults),
	}
}

// runSkip executes in skip_branches mode: plan, run every ready included
// node in waves until nothing is ready, and replan whenever branches
// produced new results. Nodes outside the plan are never visited.
func (s *runState) runSkip(ctx context.Context, planner *Planner) error {
	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return s.cancelled(err)
		}
		if pass > planner.MaxPasses() {
			return &PlanValidationError{
				Reason: fmt.Sprintf("branches still pending after %d passes", planner.MaxPasses()),
				Err:    ErrReplanLimit,
			}
		}

		known := s.snapshotResults()
		plan, err := planner.Plan(ctx, known, pass)
		if err != nil {
			return err
		}
		if s.plan != nil {
			if missing := missingFrom(s.plan, plan); missing != "" {
				return &PlanValidationError{
					NodeID: missing,
					Reason: fmt.Sprintf("pass %d dropped a node included in pass %d", pass, s.plan.Pass),
				}
			}
		}
		s.plan = plan
		s.passes = pass

		err = s.runWaves(ctx, plan.Included, s.skipReady, s.evaluate)
		if err != nil {
			return err
		}

		if len(s.snapshotResults()) > len(known) {
			continue
		}
		if stuck := s.firstPending(plan.Included); stuck != "" {
			return &PlanValidationError{
				NodeID: stuck,
				Reason: "included node can never run: an upstream is still deferred",
			}
		}
		return nil
	}
}

// skipReady reports whether every upstream of id is settled under the
// current plan. Deliberately excluded upstreams count as settled; deferred
// ones do not. Back edges of a cycle are ignored.
func (s *runState) skipReady(id string) bool {
	for _, c := range s.cg.incoming[id] {
		if s.done[c.From] || s.cg.isBackEdge(c) {
			continue
		}
		if s.plan.Includes(c.From) || s.plan.IsDeferred(c.From) {
			return false
		}
	}
	return true
}

// runWaves runs every ready candidate concurrently, repeating until a wave
// finds nothing ready. Readiness is judged between waves only.
func (s *runState) runWaves(ctx context.Context, candidates []string, ready func(string) bool, visit func(context.Context, string) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return s.cancelled(err)
		}

		s.mu.Lock()
		var wave []string
		for _, id := range candidates {
			if !s.done[id] && ready(id) {
				wave = append(wave, id)
			}
		}
		s.mu.Unlock()
		if len(wave) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		if s.opts.MaxConcurrency > 0 {
			g.SetLimit(s.opts.MaxConcurrency)
		}
		for _, id := range wave {
			g.Go(func() error {
				// A failed sibling or a cancelled run stops new work; nodes
				// already running finish.
				if gctx.Err() != nil {
					return nil
				}
				return visit(gctx, id)
			})
		}
		err := g.Wait()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.cancelled(ctxErr)
		}
		if err != nil {
			return err
		}
	}
}

// gather collects the deliveries to id: initial inputs first, then one
// Input per inbound connection in declaration order.
func (s *runState) gather(id string) Inputs {
	s.mu.Lock()
	defer s.mu.Unlock()

	var in Inputs
	if initial, ok := s.initial[id]; ok {
		for _, port := range slices.Sorted(maps.Keys(initial)) {
			v := initial[port]
			in = append(in, Input{Port: port, Value: v, Live: v != nil})
		}
	}
	for _, c := range s.cg.incoming[id] {
		var v any
		if out, ok := s.outputs[c.From]; ok {
			v = out[c.FromPort]
			if c.Path != "" && v != nil {
				v, _ = expr.Lookup(v, c.Path)
			}
		}
		in = append(in, Input{
			Port:     c.ToPort,
			From:     c.From,
			FromPort: c.FromPort,
			Value:    v,
			Live:     v != nil,
		})
	}
	return in
}

// evaluate gathers inputs for id and runs it.
func (s *runState) evaluate(ctx context.Context, id string) error {
	return s.invoke(ctx, id, s.gather(id))
}

// invoke runs one node with tracing, metrics and panic recovery, and
// records its outputs.
func (s *runState) invoke(ctx context.Context, id string, in Inputs) error {
	node := s.cg.nodes[id]
	ctx, span := s.opts.Spans.StartNodeSpan(ctx, id, node.Kind().String())
	nctx := s.base.withParent(ctx).withNodeID(id)

	if s.opts.Debug {
		observability.LogNodeStart(nctx.logger, id)
	}
	start := time.Now()
	out, err := callNode(nctx, node, in)
	duration := time.Since(start)

	s.opts.Metrics.RecordNodeExecution(ctx, id, string(s.mode), duration, err)
	s.opts.Spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogNodeError(nctx.logger, id, err)
		return err
	}
	if s.opts.Debug {
		observability.LogNodeComplete(nctx.logger, id, float64(duration.Microseconds())/1000)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[id] = out
	s.done[id] = true
	s.executed = append(s.executed, id)
	if node.Kind() == KindBranch {
		s.results[id] = out
	}
	return nil
}

// callNode evaluates node, converting panics into PanicError and failures
// into NodeError.
func callNode(ctx Context, node Node, in Inputs) (out Values, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &PanicError{
				NodeID: node.ID(),
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	out, err = node.Evaluate(ctx, in)
	if err != nil {
		return nil, &NodeError{NodeID: node.ID(), Op: "evaluate", Err: err}
	}
	if out == nil {
		out = Values{}
	}
	return out, nil
}

func (s *runState) snapshotResults() BranchResults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.Clone()
}

// firstPending returns the first of ids that has not run, or "".
func (s *runState) firstPending(ids []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if !s.done[id] {
			return id
		}
	}
	return ""
}

func (s *runState) cancelled(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &CancellationError{Executed: slices.Clone(s.executed), Cause: cause}
}

// executedCount returns the number of nodes whose function ran.
func (s *runState) executedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executed)
}

// skippedCount returns the nodes the run did not execute: plan exclusions
// in skip mode, dead-routed nodes in route mode.
func (s *runState) skippedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeSkipBranches {
		if s.plan == nil {
			return 0
		}
		return len(s.plan.Skipped)
	}
	return len(s.dead)
}

// liveOutputs returns the outputs of executed nodes.
func (s *runState) liveOutputs() map[string]Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Values, len(s.executed))
	for _, id := range s.executed {
		out[id] = s.outputs[id]
	}
	return out
}
