package branchplan

import (
	"fmt"
	"maps"
	"slices"
)

// ValidateExecutionPlan checks plan against cg and returns every violation
// as a *PlanValidationError, or nil for a valid plan.
//
// A valid plan:
//   - was built for this graph
//   - partitions the graph nodes into included and skipped
//   - includes every entry
//   - justifies every other included node by an inbound connection from an
//     included node that is not a branch, or from a branch whose recorded
//     taken ports name the connection's port
//   - lists as pending only included branches with no recorded outcome
//
// Merge nodes whose upstreams are all skipped are reported separately,
// since running them would aggregate nothing.
//
// Validation is pure; calling it twice on the same plan gives the same
// errors in the same order.
func ValidateExecutionPlan(cg *CompiledGraph, plan *ExecutionPlan) []error {
	if cg == nil {
		return []error{&PlanValidationError{Reason: "no graph to validate against", Err: ErrNilGraph}}
	}
	if plan == nil {
		return []error{&PlanValidationError{Reason: "plan is nil"}}
	}

	var errs []error
	fail := func(nodeID, format string, args ...any) {
		errs = append(errs, &PlanValidationError{NodeID: nodeID, Reason: fmt.Sprintf(format, args...)})
	}

	if plan.GraphFingerprint != "" && plan.GraphFingerprint != cg.fingerprint {
		fail("", "plan was built for a different graph")
	}

	included := make(map[string]bool, len(plan.Included))
	for _, id := range plan.Included {
		switch {
		case !cg.HasNode(id):
			fail(id, "included node does not exist")
		case included[id]:
			fail(id, "node included twice")
		}
		included[id] = true
	}
	skipped := make(map[string]bool, len(plan.Skipped))
	for _, id := range plan.Skipped {
		switch {
		case !cg.HasNode(id):
			fail(id, "skipped node does not exist")
		case included[id]:
			fail(id, "node both included and skipped")
		}
		skipped[id] = true
	}
	for _, id := range cg.ids {
		if !included[id] && !skipped[id] {
			fail(id, "node neither included nor skipped")
		}
	}
	for _, id := range cg.entries {
		if !included[id] {
			fail(id, "entry node not included")
		}
	}

	for _, b := range slices.Sorted(maps.Keys(plan.Taken)) {
		ports := plan.Taken[b]
		if !included[b] {
			fail(b, "outcome recorded for a branch that is not included")
			continue
		}
		if cg.Kind(b) != KindBranch {
			fail(b, "outcome recorded for a non-branch node")
			continue
		}
		for _, port := range ports {
			if !cg.nodes[b].Ports().HasOutput(port) {
				fail(b, "taken port %q is not declared", port)
			}
		}
	}
	for _, b := range plan.Pending {
		if !included[b] || cg.Kind(b) != KindBranch {
			fail(b, "pending node is not an included branch")
		}
		if _, resolved := plan.Taken[b]; resolved {
			fail(b, "branch is both pending and resolved")
		}
	}

	for _, id := range plan.Included {
		if !cg.HasNode(id) || cg.isEntry[id] {
			continue
		}
		if justified(cg, id, included, plan.Taken) {
			continue
		}
		if cg.Kind(id) == KindMerge {
			fail(id, "merge node has no live upstream")
		} else {
			fail(id, "no included upstream delivers to this node")
		}
	}
	return errs
}

func justified(cg *CompiledGraph, id string, included map[string]bool, taken map[string][]string) bool {
	for _, c := range cg.incoming[id] {
		if !included[c.From] {
			continue
		}
		if cg.Kind(c.From) != KindBranch || slices.Contains(taken[c.From], c.FromPort) {
			return true
		}
	}
	return false
}
