package branchplan

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionMode selects how a run treats nodes behind untaken branches.
type ExecutionMode string

const (
	// ModeRouteData visits every node and routes dead markers through
	// untaken branches. Always correct; the fallback mode.
	ModeRouteData ExecutionMode = "route_data"

	// ModeSkipBranches plans ahead and never visits nodes behind untaken
	// branches.
	ModeSkipBranches ExecutionMode = "skip_branches"
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeRouteData:
		return ModeRouteData, nil
	case ModeSkipBranches:
		return ModeSkipBranches, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// ModeDecision records which mode a run used and why.
type ModeDecision struct {
	// Requested is the configured mode.
	Requested ExecutionMode
	// Mode is the mode the run used.
	Mode ExecutionMode
	// Reason explains the choice in a short phrase.
	Reason string
	// Verdict is the graph's compatibility verdict at decision time.
	Verdict Verdict
	// Forced is set when skip_branches was forced past the compatibility check.
	Forced bool
	// Fallback is set when a skip_branches run fell back to route_data.
	Fallback bool
	// Cause is the error that triggered a fallback.
	Cause error
	// At is when the decision was made.
	At time.Time
}

// ModeSelector chooses the execution mode per run from the configuration,
// the compatibility report and, with auto-switch, recent performance.
type ModeSelector struct {
	opts    Options
	tracker *PerformanceTracker
}

// NewModeSelector creates a selector. tracker may be nil when auto-switch
// is off.
func NewModeSelector(opts Options, tracker *PerformanceTracker) *ModeSelector {
	return &ModeSelector{opts: opts, tracker: tracker}
}

// Select decides the mode for one run of a graph with the given report.
//
// route_data is used when requested (and not forced otherwise), when the
// graph is not fully compatible, or when auto-switch sees skipping not
// paying off. skip_branches is never selected without a fully compatible
// report unless forced.
func (s *ModeSelector) Select(report *CompatibilityReport) ModeDecision {
	d := ModeDecision{
		Requested: s.opts.Mode,
		Mode:      ModeRouteData,
		At:        time.Now(),
	}
	if report != nil {
		d.Verdict = report.Verdict
	}

	switch {
	case s.opts.ForceSkipBranches:
		d.Mode = ModeSkipBranches
		d.Forced = true
		d.Reason = "skip_branches forced; compatibility check bypassed"
		if report.Compatible() {
			d.Reason = "skip_branches forced"
		}
	case s.opts.Mode != ModeSkipBranches:
		d.Reason = "route_data requested"
	case !report.Compatible():
		d.Reason = fmt.Sprintf("graph is %s", d.Verdict)
	case s.opts.AutoSwitch && s.tracker != nil && s.lowSkip():
		d.Reason = fmt.Sprintf("skip ratio below %.2f for %d consecutive runs", s.opts.LowSkipRatio, s.opts.LowSkipRuns)
	case s.opts.AutoSwitch && s.tracker != nil && s.tracker.SkipSlower(s.opts.LowSkipRuns):
		d.Reason = "skip_branches slower than route_data on average"
	default:
		d.Mode = ModeSkipBranches
		d.Reason = "graph fully compatible"
	}
	return d
}

func (s *ModeSelector) lowSkip() bool {
	return s.tracker.LowSkipStreak(s.opts.LowSkipRatio) >= s.opts.LowSkipRuns
}

// Fallback returns the decision for a skip_branches run that failed with
// cause and continues in route_data.
func (s *ModeSelector) Fallback(d ModeDecision, cause error) ModeDecision {
	d.Mode = ModeRouteData
	d.Fallback = true
	d.Cause = cause
	d.Reason = "fell back from skip_branches: " + cause.Error()
	d.At = time.Now()
	return d
}
