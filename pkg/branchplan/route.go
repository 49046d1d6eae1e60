package branchplan

import (
	"context"

	"github.com/randalmurphal/branchplan/pkg/branchplan/observability"
)

// runRoute executes in route_data mode. Every node is visited once, in
// waves, after all of its upstreams outside its own cycle have settled.
//
// Entries always run. Any other node with no live input, merges
// included, is marked dead without running; its outputs are empty, so the dead
// marker flows on to its successors. Inside a cycle each node runs once
// and sees the back edges as dead.
func (s *runState) runRoute(ctx context.Context) error {
	return s.runWaves(ctx, s.cg.order, s.routeReady, s.route)
}

func (s *runState) routeReady(id string) bool {
	for _, c := range s.cg.incoming[id] {
		if !s.done[c.From] && !s.cg.isBackEdge(c) {
			return false
		}
	}
	return true
}

func (s *runState) route(ctx context.Context, id string) error {
	in := s.gather(id)
	if s.cg.isEntry[id] || in.AnyLive() {
		return s.invoke(ctx, id, in)
	}

	if s.opts.Debug {
		observability.LogNodeDead(s.base.withNodeID(id).logger, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[id] = Values{}
	s.done[id] = true
	s.dead[id] = true
	return nil
}
