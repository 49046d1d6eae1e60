package branchplan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/branchplan/pkg/branchplan/observability"
)

// RunStats summarises one run for the performance tracker.
type RunStats struct {
	RunID    string
	Graph    string
	Mode     ExecutionMode
	Duration time.Duration
	// Executed and Skipped count nodes. In route_data mode Skipped counts
	// dead-routed nodes, which skip_branches would not have visited.
	Executed int
	Skipped  int
	Passes   int
	Fallback bool
	Err      error
}

// SkipRatio is the fraction of nodes not executed.
func (s RunStats) SkipRatio() float64 {
	total := s.Executed + s.Skipped
	if total == 0 {
		return 0
	}
	return float64(s.Skipped) / float64(total)
}

// ModeStats aggregates the tracked runs of one mode.
type ModeStats struct {
	Runs          int
	Failures      int
	MeanLatency   time.Duration
	MeanSkipRatio float64
}

// PerformanceSnapshot is a point-in-time copy of tracker state.
type PerformanceSnapshot struct {
	Runs         int
	ByMode       map[ExecutionMode]ModeStats
	ModeSwitches int
	Fallbacks    int
	Recent       []RunStats
}

// PerformanceTracker keeps a bounded history of run statistics.
// It is safe for concurrent use.
type PerformanceTracker struct {
	mu           sync.Mutex
	limit        int
	history      []RunStats
	total        int
	modeSwitches int
	fallbacks    int
	lastMode     ExecutionMode
}

// NewPerformanceTracker keeps the most recent limit runs.
func NewPerformanceTracker(limit int) *PerformanceTracker {
	if limit <= 0 {
		limit = 50
	}
	return &PerformanceTracker{limit: limit}
}

// Record adds a run. It reports whether the run's mode differs from the
// previous run's.
func (t *PerformanceTracker) Record(s RunStats) (switched bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switched = t.lastMode != "" && t.lastMode != s.Mode
	if switched {
		t.modeSwitches++
	}
	if s.Fallback {
		t.fallbacks++
	}
	t.lastMode = s.Mode
	t.total++

	t.history = append(t.history, s)
	if len(t.history) > t.limit {
		t.history = t.history[len(t.history)-t.limit:]
	}
	return switched
}

// LowSkipStreak counts the most recent consecutive successful runs whose
// skip ratio is below threshold.
func (t *PerformanceTracker) LowSkipStreak(threshold float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	streak := 0
	for i := len(t.history) - 1; i >= 0; i-- {
		s := t.history[i]
		if s.Err != nil {
			continue
		}
		if s.SkipRatio() >= threshold {
			break
		}
		streak++
	}
	return streak
}

// SkipSlower reports whether skip_branches runs have been slower on
// average than route_data runs, given at least minRuns samples of each.
func (t *PerformanceTracker) SkipSlower(minRuns int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	skip := t.statsLocked(ModeSkipBranches)
	route := t.statsLocked(ModeRouteData)
	if skip.Runs < minRuns || route.Runs < minRuns {
		return false
	}
	return skip.MeanLatency > route.MeanLatency
}

// Snapshot returns a copy of the tracker state.
func (t *PerformanceTracker) Snapshot() PerformanceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := PerformanceSnapshot{
		Runs:         t.total,
		ByMode:       make(map[ExecutionMode]ModeStats, 2),
		ModeSwitches: t.modeSwitches,
		Fallbacks:    t.fallbacks,
		Recent:       append([]RunStats(nil), t.history...),
	}
	for _, m := range []ExecutionMode{ModeRouteData, ModeSkipBranches} {
		if st := t.statsLocked(m); st.Runs > 0 {
			snap.ByMode[m] = st
		}
	}
	return snap
}

func (t *PerformanceTracker) statsLocked(mode ExecutionMode) ModeStats {
	var (
		st      ModeStats
		latency time.Duration
		ratio   float64
	)
	for _, s := range t.history {
		if s.Mode != mode {
			continue
		}
		if s.Err != nil {
			st.Failures++
			continue
		}
		st.Runs++
		latency += s.Duration
		ratio += s.SkipRatio()
	}
	if st.Runs > 0 {
		st.MeanLatency = latency / time.Duration(st.Runs)
		st.MeanSkipRatio = ratio / float64(st.Runs)
	}
	return st
}

// Reporter publishes compatibility reports, mode decisions and run
// statistics to logs, metrics and the performance tracker.
type Reporter struct {
	opts    Options
	tracker *PerformanceTracker
}

// NewReporter creates a reporter. tracker may be nil when performance
// monitoring is off.
func NewReporter(opts Options, tracker *PerformanceTracker) *Reporter {
	opts.normalize()
	return &Reporter{opts: opts, tracker: tracker}
}

// ReportCompatibility logs a newly produced compatibility report.
func (r *Reporter) ReportCompatibility(ctx context.Context, graph string, report *CompatibilityReport) {
	r.opts.Spans.AddSpanEvent(ctx, "compatibility",
		attribute.String("verdict", report.Verdict.String()),
		attribute.Int("diagnostics", len(report.Diagnostics)),
	)
	if !r.opts.CompatibilityReporting {
		return
	}
	observability.LogCompatibility(r.opts.Logger, graph, report.Verdict.String(), report.Summary(), len(report.Diagnostics))
	for _, d := range report.Diagnostics {
		observability.LogDiagnostic(r.opts.Logger, graph, d)
	}
}

// ReportDecision logs and counts a mode decision.
func (r *Reporter) ReportDecision(ctx context.Context, runID string, d ModeDecision, switched bool) {
	observability.LogModeDecision(r.opts.Logger, runID, string(d.Requested), string(d.Mode), d.Reason, d.Forced)
	r.opts.Metrics.RecordModeDecision(ctx, string(d.Requested), string(d.Mode), switched)
}

// ReportFallback logs and counts a mid-run fallback.
func (r *Reporter) ReportFallback(ctx context.Context, runID string, cause error) {
	observability.LogFallback(r.opts.Logger, runID, cause, r.opts.RestartOnFallback)
	r.opts.Metrics.RecordFallback(ctx, fallbackReason(cause))
	r.opts.Spans.AddSpanEvent(ctx, "fallback", attribute.String("cause", cause.Error()))
}

// ReportRun records a finished run. It returns whether the run's mode
// differs from the previous tracked run.
func (r *Reporter) ReportRun(ctx context.Context, s RunStats) bool {
	durationMs := float64(s.Duration.Microseconds()) / 1000
	if s.Err != nil {
		observability.LogRunError(r.opts.Logger, s.RunID, string(s.Mode), s.Err, durationMs)
	} else {
		observability.LogRunComplete(r.opts.Logger, s.RunID, string(s.Mode), durationMs, s.Executed, s.Skipped)
	}
	r.opts.Metrics.RecordRun(ctx, string(s.Mode), s.Err == nil, s.Duration, s.SkipRatio())

	if r.tracker == nil {
		return false
	}
	switched := r.tracker.Record(s)
	if switched && r.opts.Logger != nil {
		r.opts.Logger.Info("execution mode changed between runs",
			slog.String("graph", s.Graph),
			slog.String("mode", string(s.Mode)),
		)
	}
	return switched
}

func fallbackReason(err error) string {
	if errors.Is(err, ErrReplanLimit) {
		return "replan_limit"
	}
	return "plan_invalid"
}
