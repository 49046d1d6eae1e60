package branchplan

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ExecutionMode
		wantErr bool
	}{
		{"route_data", ModeRouteData, false},
		{"SKIP_BRANCHES", ModeSkipBranches, false},
		{"  skip_branches ", ModeSkipBranches, false},
		{"conditional", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func report(v Verdict) *CompatibilityReport {
	return &CompatibilityReport{Verdict: v}
}

func TestModeSelector_Select(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		verdict  Verdict
		wantMode ExecutionMode
		forced   bool
	}{
		{"route requested", nil, FullyCompatible, ModeRouteData, false},
		{"skip on compatible graph", []Option{WithMode(ModeSkipBranches)}, FullyCompatible, ModeSkipBranches, false},
		{"skip on partial graph", []Option{WithMode(ModeSkipBranches)}, PartiallyCompatible, ModeRouteData, false},
		{"skip on incompatible graph", []Option{WithMode(ModeSkipBranches)}, Incompatible, ModeRouteData, false},
		{"forced on incompatible graph", []Option{WithMode(ModeSkipBranches), WithForceSkipBranches(true)}, Incompatible, ModeSkipBranches, true},
		{"forced overrides route request", []Option{WithForceSkipBranches(true)}, FullyCompatible, ModeSkipBranches, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewModeSelector(NewOptions(tt.opts...), nil)
			d := s.Select(report(tt.verdict))
			assert.Equal(t, tt.wantMode, d.Mode)
			assert.Equal(t, tt.forced, d.Forced)
			assert.Equal(t, tt.verdict, d.Verdict)
			assert.NotEmpty(t, d.Reason)
			assert.False(t, d.At.IsZero())
		})
	}
}

func TestModeSelector_NilReport(t *testing.T) {
	s := NewModeSelector(NewOptions(WithMode(ModeSkipBranches)), nil)
	assert.Equal(t, ModeRouteData, s.Select(nil).Mode)
}

func TestModeSelector_Fallback(t *testing.T) {
	s := NewModeSelector(NewOptions(WithMode(ModeSkipBranches)), nil)
	d := s.Select(report(FullyCompatible))
	cause := &PlanValidationError{Reason: "stuck"}

	fb := s.Fallback(d, cause)
	assert.Equal(t, ModeRouteData, fb.Mode)
	assert.Equal(t, ModeSkipBranches, fb.Requested)
	assert.True(t, fb.Fallback)
	assert.Same(t, cause, fb.Cause)
	assert.Contains(t, fb.Reason, "stuck")
}

func TestModeSelector_AutoSwitchLowSkip(t *testing.T) {
	opts := NewOptions(WithMode(ModeSkipBranches), WithAutoSwitch(true), WithLowSkipThreshold(0.2, 2))
	tracker := NewPerformanceTracker(10)
	s := NewModeSelector(opts, tracker)

	assert.Equal(t, ModeSkipBranches, s.Select(report(FullyCompatible)).Mode)

	tracker.Record(RunStats{Mode: ModeSkipBranches, Executed: 9, Skipped: 1})
	assert.Equal(t, ModeSkipBranches, s.Select(report(FullyCompatible)).Mode)

	tracker.Record(RunStats{Mode: ModeSkipBranches, Executed: 10, Skipped: 0})
	d := s.Select(report(FullyCompatible))
	assert.Equal(t, ModeRouteData, d.Mode)
	assert.Contains(t, d.Reason, "skip ratio below")

	// A run that skips enough breaks the streak.
	tracker.Record(RunStats{Mode: ModeRouteData, Executed: 5, Skipped: 5})
	assert.Equal(t, ModeSkipBranches, s.Select(report(FullyCompatible)).Mode)
}

func TestModeSelector_AutoSwitchSlowSkip(t *testing.T) {
	opts := NewOptions(WithMode(ModeSkipBranches), WithAutoSwitch(true), WithLowSkipThreshold(0, 2))
	tracker := NewPerformanceTracker(10)
	s := NewModeSelector(opts, tracker)

	for range 2 {
		tracker.Record(RunStats{Mode: ModeRouteData, Duration: time.Millisecond, Executed: 2, Skipped: 2})
		tracker.Record(RunStats{Mode: ModeSkipBranches, Duration: 5 * time.Millisecond, Executed: 2, Skipped: 2})
	}
	d := s.Select(report(FullyCompatible))
	assert.Equal(t, ModeRouteData, d.Mode)
	assert.Contains(t, d.Reason, "slower")
}

func TestModeSelector_AutoSwitchOffIgnoresHistory(t *testing.T) {
	tracker := NewPerformanceTracker(10)
	for range 5 {
		tracker.Record(RunStats{Mode: ModeSkipBranches, Executed: 10})
	}
	s := NewModeSelector(NewOptions(WithMode(ModeSkipBranches)), tracker)
	assert.Equal(t, ModeSkipBranches, s.Select(report(FullyCompatible)).Mode)
}

func TestPerformanceTracker(t *testing.T) {
	tr := NewPerformanceTracker(3)

	assert.False(t, tr.Record(RunStats{Mode: ModeRouteData, Duration: 2 * time.Millisecond, Executed: 3, Skipped: 1}))
	assert.True(t, tr.Record(RunStats{Mode: ModeSkipBranches, Duration: 4 * time.Millisecond, Executed: 2, Skipped: 2, Fallback: true}))
	assert.False(t, tr.Record(RunStats{Mode: ModeSkipBranches, Err: errors.New("boom")}))
	assert.True(t, tr.Record(RunStats{Mode: ModeRouteData, Duration: 4 * time.Millisecond, Executed: 4}))

	snap := tr.Snapshot()
	assert.Equal(t, 4, snap.Runs)
	assert.Equal(t, 2, snap.ModeSwitches)
	assert.Equal(t, 1, snap.Fallbacks)
	require.Len(t, snap.Recent, 3)

	skip := snap.ByMode[ModeSkipBranches]
	assert.Equal(t, 1, skip.Runs)
	assert.Equal(t, 1, skip.Failures)
	assert.Equal(t, 4*time.Millisecond, skip.MeanLatency)
	assert.InDelta(t, 0.5, skip.MeanSkipRatio, 1e-9)

	route := snap.ByMode[ModeRouteData]
	assert.Equal(t, 1, route.Runs)
	assert.Equal(t, 4*time.Millisecond, route.MeanLatency)
}

func TestPerformanceTracker_LowSkipStreakSkipsFailures(t *testing.T) {
	tr := NewPerformanceTracker(0)
	tr.Record(RunStats{Mode: ModeRouteData, Executed: 1, Skipped: 1})
	tr.Record(RunStats{Mode: ModeRouteData, Executed: 4})
	tr.Record(RunStats{Mode: ModeRouteData, Err: errors.New("boom")})
	tr.Record(RunStats{Mode: ModeRouteData, Executed: 4})

	assert.Equal(t, 2, tr.LowSkipStreak(0.1))
	assert.Equal(t, 0, tr.LowSkipStreak(0))
}

func TestRunStats_SkipRatio(t *testing.T) {
	assert.Zero(t, RunStats{}.SkipRatio())
	assert.InDelta(t, 0.25, RunStats{Executed: 3, Skipped: 1}.SkipRatio(), 1e-9)
}
