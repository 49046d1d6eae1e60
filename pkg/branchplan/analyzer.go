package branchplan

import (
	"fmt"
	"slices"
)

// PatternType names a conditional structure found by the analyzer.
type PatternType string

// Pattern types, in report order.
//
// PatternNested and PatternCrossDependent both describe a branch that sits
// downstream of another branch. A branch is cross-dependent only when one
// of its inbound connections comes straight from another branch's output
// port, so its condition reads that branch's routed value as is. When
// ordinary or merge nodes sit in between, the branch is nested: the
// intermediate nodes produce the value it reads. The planner sequences
// both the same way, deferring the downstream branch until the upstream
// one has a result.
const (
	PatternSimple         PatternType = "simple_branch"
	PatternNested         PatternType = "nested_branch"
	PatternCrossDependent PatternType = "cross_dependent"
	PatternMerge          PatternType = "merge"
	PatternCyclic         PatternType = "cyclic"
	PatternUnknown        PatternType = "unknown"
)

var patternOrder = []PatternType{
	PatternSimple, PatternNested, PatternCrossDependent, PatternMerge, PatternCyclic, PatternUnknown,
}

// Pattern is one classified structure. NodeID is the branch or merge node
// the pattern is about; for cyclic patterns it is the first cycle member.
type Pattern struct {
	Type   PatternType
	NodeID string
	// Influencers are the branches whose outcome affects NodeID's reachability.
	Influencers []string
	// DependsOn lists the branches connected directly to a cross-dependent
	// branch's inputs.
	DependsOn []string
	// Cycle lists the members of a cyclic component.
	Cycle []string
	// ContainsBranch is set on cyclic patterns whose cycle includes a branch.
	ContainsBranch bool
	// Guaranteed is set on merge patterns proven to always get a live input.
	Guaranteed bool
}

// Analysis is the static conditional structure of a graph. It is computed
// once per graph and never mutated afterwards.
type Analysis struct {
	Graph *CompiledGraph

	// Branches and Merges list the branch-capable and merge nodes.
	Branches []string
	Merges   []string

	// Unconditional nodes are reachable without crossing a branch output,
	// so they always execute.
	Unconditional []string

	// Influence maps each conditional node to the branches that decide
	// whether it runs. Unconditional nodes are absent.
	Influence map[string][]string

	// Patterns holds one entry per branch, merge and branch-related cycle.
	Patterns []Pattern

	// NonSkippable nodes belong to a cycle that contains, or is downstream
	// of, a branch.
	NonSkippable []string

	// Diagnostics holds CircularBranchDependencyError values.
	Diagnostics []error

	unconditional map[string]bool
	guaranteed    map[string]bool
	nonSkippable  map[string]bool
}

// IsUnconditional reports whether id always executes.
func (a *Analysis) IsUnconditional(id string) bool { return a.unconditional[id] }

// IsGuaranteed reports whether id is proven to run under every outcome of
// the branches that precede it.
func (a *Analysis) IsGuaranteed(id string) bool { return a.guaranteed[id] }

// IsNonSkippable reports whether id sits in a branch-related cycle.
func (a *Analysis) IsNonSkippable(id string) bool { return a.nonSkippable[id] }

// HasBranchCycles reports whether any branch-related cycle exists.
func (a *Analysis) HasBranchCycles() bool { return len(a.NonSkippable) > 0 }

// PatternsOf returns the patterns of the given type.
func (a *Analysis) PatternsOf(t PatternType) []Pattern {
	var out []Pattern
	for _, p := range a.Patterns {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// Analyze inspects cg and classifies its conditional structure before any
// execution. Returns a *GraphIntegrityError when the graph references
// unknown nodes or ports.
func Analyze(cg *CompiledGraph) (*Analysis, error) {
	if cg == nil {
		return nil, ErrNilGraph
	}
	if err := cg.verify(); err != nil {
		return nil, err
	}

	a := &Analysis{
		Graph:        cg,
		Branches:     cg.BranchNodes(),
		Merges:       cg.MergeNodes(),
		Influence:    make(map[string][]string),
		nonSkippable: make(map[string]bool),
	}

	nonBranchEdge := func(c Connection) bool { return cg.Kind(c.From) != KindBranch }
	a.unconditional = cg.reachableFrom(cg.entries, nonBranchEdge)
	a.Unconditional = cg.sortByIndex(a.unconditional)

	downstream := make(map[string]map[string]bool, len(a.Branches))
	for _, b := range a.Branches {
		downstream[b] = cg.reachableFrom(cg.Successors(b), nil)
	}
	for _, id := range cg.ids {
		if a.unconditional[id] {
			continue
		}
		for _, b := range a.Branches {
			if downstream[b][id] {
				a.Influence[id] = append(a.Influence[id], b)
			}
		}
	}

	a.markBranchCycles(downstream)
	a.guaranteed = cg.guaranteedNodes()

	for _, b := range a.Branches {
		if a.nonSkippable[b] {
			continue
		}
		a.Patterns = append(a.Patterns, a.classifyBranch(b))
	}
	for _, m := range a.Merges {
		if a.nonSkippable[m] {
			continue
		}
		a.Patterns = append(a.Patterns, Pattern{
			Type:        PatternMerge,
			NodeID:      m,
			Influencers: slices.Clone(a.Influence[m]),
			Guaranteed:  a.guaranteed[m],
		})
	}
	return a, nil
}

// markBranchCycles flags every cyclic component that contains a branch or
// is reachable from one, and records circular branch dependencies.
func (a *Analysis) markBranchCycles(downstream map[string]map[string]bool) {
	cg := a.Graph
	for _, comp := range cg.components {
		if !comp.Cyclic {
			continue
		}
		containsBranch := false
		influenced := false
		var influencers []string
		for _, m := range comp.Nodes {
			if cg.Kind(m) == KindBranch {
				containsBranch = true
			}
			for _, b := range a.Branches {
				if downstream[b][m] {
					influenced = true
					if !slices.Contains(influencers, b) {
						influencers = append(influencers, b)
					}
				}
			}
		}
		if !containsBranch && !influenced {
			continue
		}

		for _, m := range comp.Nodes {
			a.nonSkippable[m] = true
			a.NonSkippable = append(a.NonSkippable, m)
			if cg.Kind(m) == KindBranch {
				a.Diagnostics = append(a.Diagnostics, &CircularBranchDependencyError{
					BranchID: m,
					Cycle:    slices.Clone(comp.Nodes),
				})
			}
		}
		a.Patterns = append(a.Patterns, Pattern{
			Type:           PatternCyclic,
			NodeID:         comp.Nodes[0],
			Influencers:    cg.sortIDs(influencers),
			Cycle:          slices.Clone(comp.Nodes),
			ContainsBranch: containsBranch,
		})
	}
	a.NonSkippable = cg.sortIDs(a.NonSkippable)
}

func (a *Analysis) classifyBranch(b string) Pattern {
	cg := a.Graph
	p := Pattern{NodeID: b, Influencers: slices.Clone(a.Influence[b])}

	if len(cg.outgoing[b]) == 0 {
		p.Type = PatternUnknown
		return p
	}

	for _, c := range cg.incoming[b] {
		if cg.Kind(c.From) == KindBranch && !slices.Contains(p.DependsOn, c.From) {
			p.DependsOn = append(p.DependsOn, c.From)
		}
	}
	switch {
	case len(p.DependsOn) > 0:
		p.Type = PatternCrossDependent
	case len(p.Influencers) > 0:
		p.Type = PatternNested
	default:
		p.Type = PatternSimple
	}
	return p
}

// guaranteedNodes computes the nodes that run under every combination of
// branch outcomes, assuming each evaluated branch takes at least one port.
// A node is guaranteed when it is reachable from a guaranteed node along
// non-branch connections, or when every output port of a guaranteed
// branch leads to it along non-branch connections.
func (cg *CompiledGraph) guaranteedNodes() map[string]bool {
	nonBranchEdge := func(c Connection) bool { return cg.Kind(c.From) != KindBranch }
	guaranteed := cg.reachableFrom(cg.entries, nonBranchEdge)

	for changed := true; changed; {
		changed = false
		for _, b := range cg.BranchNodes() {
			if !guaranteed[b] {
				continue
			}
			common := cg.commonToAllPorts(b, nonBranchEdge)
			var fresh []string
			for id := range common {
				if !guaranteed[id] {
					fresh = append(fresh, id)
				}
			}
			if len(fresh) == 0 {
				continue
			}
			for id := range cg.reachableFrom(fresh, nonBranchEdge) {
				guaranteed[id] = true
			}
			changed = true
		}
	}
	return guaranteed
}

// commonToAllPorts returns the nodes reachable from every declared output
// port of branch b.
func (cg *CompiledGraph) commonToAllPorts(b string, follow func(Connection) bool) map[string]bool {
	var common map[string]bool
	for _, port := range cg.nodes[b].Ports().Outputs {
		var starts []string
		for _, c := range cg.outgoing[b] {
			if c.FromPort == port {
				starts = append(starts, c.To)
			}
		}
		reach := cg.reachableFrom(starts, follow)
		if common == nil {
			common = reach
			continue
		}
		for id := range common {
			if !reach[id] {
				delete(common, id)
			}
		}
	}
	return common
}

// verify re-checks connection integrity. Compile already enforces it; this
// guards graphs assembled through other paths.
func (cg *CompiledGraph) verify() error {
	var problems []error
	for _, c := range cg.connections {
		src, ok := cg.nodes[c.From]
		if !ok {
			problems = append(problems, fmt.Errorf("%w: connection source %q", ErrNodeNotFound, c.From))
		} else if !src.Ports().HasOutput(c.FromPort) {
			problems = append(problems, fmt.Errorf("%w: output %q on node %s", ErrPortNotFound, c.FromPort, c.From))
		}
		dst, ok := cg.nodes[c.To]
		if !ok {
			problems = append(problems, fmt.Errorf("%w: connection target %q", ErrNodeNotFound, c.To))
		} else if !dst.Ports().HasInput(c.ToPort) {
			problems = append(problems, fmt.Errorf("%w: input %q on node %s", ErrPortNotFound, c.ToPort, c.To))
		}
	}
	if len(cg.entries) == 0 {
		problems = append(problems, ErrNoEntryPoint)
	}
	if len(problems) > 0 {
		return &GraphIntegrityError{Problems: problems}
	}
	return nil
}

func (cg *CompiledGraph) sortByIndex(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id, ok := range set {
		if ok {
			out = append(out, id)
		}
	}
	return cg.sortIDs(out)
}

func (cg *CompiledGraph) sortIDs(ids []string) []string {
	slices.SortFunc(ids, func(a, b string) int { return cg.index[a] - cg.index[b] })
	return ids
}
