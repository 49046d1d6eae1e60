package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records branchplan metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID, mode string, duration time.Duration, err error)

	// RecordRun records a graph run completion and the fraction of nodes skipped.
	RecordRun(ctx context.Context, mode string, success bool, duration time.Duration, skipRatio float64)

	// RecordPlan records one planning pass.
	RecordPlan(ctx context.Context, pass, included, skipped int, cacheHit bool)

	// RecordModeDecision records the selected mode; switched is set when it
	// differs from the previous run's mode.
	RecordModeDecision(ctx context.Context, requested, selected string, switched bool)

	// RecordFallback records a mid-run fallback to route_data.
	RecordFallback(ctx context.Context, reason string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	skipRatio      metric.Float64Histogram
	planPasses     metric.Int64Counter
	planCache      metric.Int64Counter
	modeDecisions  metric.Int64Counter
	modeSwitches   metric.Int64Counter
	fallbacks      metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("branchplan"))
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates the instruments on meter.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	m := &otelMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.nodeExecutions, "branchplan.node.executions", "Number of node executions"},
		{&m.nodeErrors, "branchplan.node.errors", "Number of node execution errors"},
		{&m.runs, "branchplan.run.count", "Number of graph runs"},
		{&m.planPasses, "branchplan.plan.passes", "Number of planning passes"},
		{&m.planCache, "branchplan.plan.cache_lookups", "Plan cache lookups by outcome"},
		{&m.modeDecisions, "branchplan.mode.decisions", "Execution mode decisions"},
		{&m.modeSwitches, "branchplan.mode.switches", "Mode changes between consecutive runs"},
		{&m.fallbacks, "branchplan.mode.fallbacks", "Mid-run fallbacks to route_data"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	var err error
	m.nodeLatency, err = meter.Float64Histogram("branchplan.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.runLatency, err = meter.Float64Histogram("branchplan.run.latency_ms",
		metric.WithDescription("Graph run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.skipRatio, err = meter.Float64Histogram("branchplan.run.skip_ratio",
		metric.WithDescription("Fraction of nodes not executed per run"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.25, 0.5, 0.75, 1),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordNodeExecution records a node execution.
// NewMetricsRecorderWithProvider returns a MetricsRecorder whose
// instruments come from mp instead of the global provider.
func NewMetricsRecorderWithProvider(mp metric.MeterProvider) (MetricsRecorder, error) {
	m, err := newOtelMetrics(mp.Meter("branchplan"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID, mode string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("node_id", nodeID),
		attribute.String("mode", mode),
	)
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

// RecordRun records a graph run.
func (m *otelMetrics) RecordRun(ctx context.Context, mode string, success bool, duration time.Duration, skipRatio float64) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("success", success),
	)
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.skipRatio.Record(ctx, skipRatio, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordPlan records a planning pass.
func (m *otelMetrics) RecordPlan(ctx context.Context, pass, included, skipped int, cacheHit bool) {
	m.planPasses.Add(ctx, 1, metric.WithAttributes(attribute.Int("pass", pass)))
	m.planCache.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", cacheHit)))
}

// RecordModeDecision records a mode decision.
func (m *otelMetrics) RecordModeDecision(ctx context.Context, requested, selected string, switched bool) {
	m.modeDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("requested", requested),
		attribute.String("selected", selected),
	))
	if switched {
		m.modeSwitches.Add(ctx, 1, metric.WithAttributes(attribute.String("to", selected)))
	}
}

// RecordFallback records a fallback.
func (m *otelMetrics) RecordFallback(ctx context.Context, reason string) {
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
