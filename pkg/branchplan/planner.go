package branchplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/branchplan/pkg/branchplan/observability"
	"github.com/randalmurphal/branchplan/pkg/branchplan/plancache"
)

// ExecutionPlan is the set of nodes to run for known branch outcomes.
// A plan is immutable once created.
type ExecutionPlan struct {
	// GraphFingerprint identifies the graph the plan was built for.
	GraphFingerprint string

	// Included nodes will run, in dependency order.
	Included []string

	// Skipped nodes will not run under the known outcomes, in insertion
	// order. Deferred nodes are a subset.
	Skipped []string

	// Pending lists included branches that have no result yet. Their
	// downstream is not planned until they are evaluated.
	Pending []string

	// Deferred lists skipped nodes that a pending branch may still reach.
	Deferred []string

	// Taken records the ports each included, resolved branch took.
	Taken map[string][]string

	// Pass is the planning pass that produced the plan, starting at 1.
	Pass int

	// CacheHit is set when the plan was loaded from the plan cache.
	CacheHit bool

	// Diagnostics holds one MissingBranchResultError per pending branch.
	Diagnostics []error

	included map[string]bool
	deferred map[string]bool
}

// Includes reports whether id is in the plan.
func (p *ExecutionPlan) Includes(id string) bool { return p.included[id] }

// IsDeferred reports whether id may still be included once pending
// branches resolve.
func (p *ExecutionPlan) IsDeferred(id string) bool { return p.deferred[id] }

// Complete reports whether every included branch has a result.
func (p *ExecutionPlan) Complete() bool { return len(p.Pending) == 0 }

// SkipRatio is the fraction of graph nodes the plan skips.
func (p *ExecutionPlan) SkipRatio() float64 {
	total := len(p.Included) + len(p.Skipped)
	if total == 0 {
		return 0
	}
	return float64(len(p.Skipped)) / float64(total)
}

// CreateExecutionPlan derives the nodes to run from branch results.
//
// A node is included when it is an entry, or when some inbound connection
// comes from an included node and, if that node is a branch, names a port
// the branch took. Merge and ordinary nodes both need just one such
// connection. Results for branches that are not themselves included are
// ignored. Included branches without a result are reported as pending.
//
// The function is pure: the same graph and results always give the same
// plan.
func CreateExecutionPlan(cg *CompiledGraph, results BranchResults) *ExecutionPlan {
	included := make(map[string]bool, cg.Len())
	for _, id := range cg.entries {
		included[id] = true
	}

	for changed := true; changed; {
		changed = false
		for _, id := range cg.order {
			if included[id] {
				continue
			}
			for _, c := range cg.incoming[id] {
				if cg.delivers(c, included, results) {
					included[id] = true
					changed = true
					break
				}
			}
		}
	}

	plan := &ExecutionPlan{
		GraphFingerprint: cg.fingerprint,
		Taken:            make(map[string][]string),
		included:         included,
		deferred:         make(map[string]bool),
	}
	for _, id := range cg.order {
		if !included[id] {
			continue
		}
		plan.Included = append(plan.Included, id)
		if cg.Kind(id) != KindBranch {
			continue
		}
		res, ok := results[id]
		if !ok {
			plan.Pending = append(plan.Pending, id)
			plan.Diagnostics = append(plan.Diagnostics, &MissingBranchResultError{BranchID: id})
			continue
		}
		plan.Taken[id] = res.TakenPorts()
	}
	for _, id := range cg.ids {
		if !included[id] {
			plan.Skipped = append(plan.Skipped, id)
		}
	}

	var frontier []string
	for _, b := range plan.Pending {
		frontier = append(frontier, cg.Successors(b)...)
	}
	for id := range cg.reachableFrom(frontier, nil) {
		if !included[id] {
			plan.deferred[id] = true
		}
	}
	plan.Deferred = cg.sortByIndex(plan.deferred)
	return plan
}

// delivers reports whether c carries data under the given inclusion set
// and branch results.
func (cg *CompiledGraph) delivers(c Connection, included map[string]bool, results BranchResults) bool {
	if !included[c.From] {
		return false
	}
	if cg.Kind(c.From) != KindBranch {
		return true
	}
	return results[c.From].Taken(c.FromPort)
}

// Planner creates validated plans for one compiled graph, consulting the
// plan cache when one is configured. A Planner is safe for concurrent use.
type Planner struct {
	graph     *CompiledGraph
	cache     plancache.Store
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	debug     bool
	maxPasses int
}

// NewPlanner creates a planner for cg using the cache, observability and
// pass cap from opts.
func NewPlanner(cg *CompiledGraph, opts Options) *Planner {
	opts.normalize()
	maxPasses := opts.MaxReplanPasses
	if maxPasses <= 0 {
		maxPasses = len(cg.BranchNodes()) + 1
	}
	return &Planner{
		graph:     cg,
		cache:     opts.PlanCache,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		spans:     opts.Spans,
		debug:     opts.Debug,
		maxPasses: maxPasses,
	}
}

// MaxPasses returns the planning pass cap.
func (p *Planner) MaxPasses() int { return p.maxPasses }

// Plan builds and validates the plan for results. A plan that fails
// validation is returned as a *PlanValidationError joining every
// violation.
func (p *Planner) Plan(ctx context.Context, results BranchResults, pass int) (*ExecutionPlan, error) {
	ctx, span := p.spans.StartPhaseSpan(ctx, "plan", attribute.Int("pass", pass))

	key := plancache.Key(outcomes(results))
	plan, hit := p.loadCached(key, results)
	if !hit {
		plan = CreateExecutionPlan(p.graph, results)
	}
	plan.Pass = pass

	if errs := ValidateExecutionPlan(p.graph, plan); len(errs) > 0 {
		err := &PlanValidationError{Reason: "plan failed validation", Err: errors.Join(errs...)}
		p.spans.EndSpanWithError(span, err)
		return nil, err
	}
	if !hit {
		p.storeCached(key, plan)
	}

	p.metrics.RecordPlan(ctx, pass, len(plan.Included), len(plan.Skipped), hit)
	if p.debug {
		observability.LogPlan(p.logger, pass, len(plan.Included), len(plan.Skipped), len(plan.Pending), hit)
	}
	p.spans.EndSpanWithError(span, nil)
	return plan, nil
}

// BranchEvaluator produces the result of one pending branch given the
// results known so far.
type BranchEvaluator func(ctx context.Context, branchID string, known BranchResults) (BranchResult, error)

// Resolve plans in passes until no branch is pending, asking evaluate for
// each pending branch between passes. Each pass's plan includes every node
// of the previous pass. Exceeding the pass cap returns a
// *PlanValidationError wrapping ErrReplanLimit.
func (p *Planner) Resolve(ctx context.Context, results BranchResults, evaluate BranchEvaluator) (*ExecutionPlan, BranchResults, error) {
	known := results.Clone()
	var previous *ExecutionPlan

	for pass := 1; pass <= p.maxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, known, err
		}
		plan, err := p.Plan(ctx, known, pass)
		if err != nil {
			return nil, known, err
		}
		if previous != nil {
			if missing := missingFrom(previous, plan); missing != "" {
				return nil, known, &PlanValidationError{
					NodeID: missing,
					Reason: fmt.Sprintf("pass %d dropped a node included in pass %d", pass, previous.Pass),
				}
			}
		}
		if plan.Complete() {
			return plan, known, nil
		}
		for _, b := range plan.Pending {
			res, err := evaluate(ctx, b, known.Clone())
			if err != nil {
				return nil, known, &NodeError{NodeID: b, Op: "evaluate", Err: err}
			}
			if res == nil {
				res = BranchResult{}
			}
			known[b] = res
		}
		previous = plan
	}
	return nil, known, &PlanValidationError{
		Reason: fmt.Sprintf("branches still pending after %d passes", p.maxPasses),
		Err:    ErrReplanLimit,
	}
}

// missingFrom returns a node included in prev but not in next, or "".
func missingFrom(prev, next *ExecutionPlan) string {
	for _, id := range prev.Included {
		if !next.Includes(id) {
			return id
		}
	}
	return ""
}

// outcomes converts results into the cache key form.
func outcomes(results BranchResults) map[string][]string {
	out := make(map[string][]string, len(results))
	for id, res := range results {
		out[id] = res.TakenPorts()
	}
	return out
}

func (p *Planner) loadCached(key string, results BranchResults) (*ExecutionPlan, bool) {
	if p.cache == nil {
		return nil, false
	}
	data, err := p.cache.Load(p.graph.fingerprint, key)
	if err != nil {
		if !errors.Is(err, plancache.ErrNotFound) {
			observability.LogPlanCacheError(p.logger, "load", err)
		}
		return nil, false
	}
	entry, err := plancache.Unmarshal(data)
	if err != nil {
		observability.LogPlanCacheError(p.logger, "decode", err)
		return nil, false
	}
	plan := p.planFromEntry(entry)
	if !p.takenMatches(plan, results) {
		observability.LogPlanCacheError(p.logger, "load",
			fmt.Errorf("entry %q records other branch outcomes", key))
		return nil, false
	}
	return plan, true
}

// takenMatches reports whether plan records exactly the outcomes results
// give its included branches.
func (p *Planner) takenMatches(plan *ExecutionPlan, results BranchResults) bool {
	n := 0
	for _, id := range plan.Included {
		if p.graph.Kind(id) != KindBranch {
			continue
		}
		res, known := results[id]
		got, recorded := plan.Taken[id]
		if known != recorded {
			return false
		}
		if known && !slices.Equal(got, res.TakenPorts()) {
			return false
		}
		if recorded {
			n++
		}
	}
	return n == len(plan.Taken)
}

func (p *Planner) storeCached(key string, plan *ExecutionPlan) {
	if p.cache == nil {
		return
	}
	entry := plancache.New(p.graph.fingerprint, key)
	entry.Included = plan.Included
	entry.Skipped = plan.Skipped
	entry.Pending = plan.Pending
	entry.Deferred = plan.Deferred
	entry.Taken = plan.Taken

	data, err := entry.Marshal()
	if err == nil {
		err = p.cache.Save(p.graph.fingerprint, key, data)
	}
	if err != nil {
		observability.LogPlanCacheError(p.logger, "save", err)
	}
}

// planFromEntry rebuilds a plan from its cached form. The result still
// goes through validation, so a corrupt entry triggers fallback rather
// than a wrong run.
func (p *Planner) planFromEntry(e *plancache.Entry) *ExecutionPlan {
	plan := &ExecutionPlan{
		GraphFingerprint: e.GraphID,
		Included:         slices.Clone(e.Included),
		Skipped:          slices.Clone(e.Skipped),
		Pending:          slices.Clone(e.Pending),
		Deferred:         slices.Clone(e.Deferred),
		Taken:            maps.Clone(e.Taken),
		CacheHit:         true,
		included:         make(map[string]bool, len(e.Included)),
		deferred:         make(map[string]bool, len(e.Deferred)),
	}
	if plan.Taken == nil {
		plan.Taken = make(map[string][]string)
	}
	for _, id := range plan.Included {
		plan.included[id] = true
	}
	for _, id := range plan.Deferred {
		plan.deferred[id] = true
	}
	for _, b := range plan.Pending {
		plan.Diagnostics = append(plan.Diagnostics, &MissingBranchResultError{BranchID: b})
	}
	return plan
}
