package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a function to collect metrics.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return reader
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue sums the data points of a counter that carry attr.
func counterValue(t *testing.T, rm *metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not recorded", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum type for %s", name)

	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
			total += dp.Value
		}
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordNodeExecution(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics(otel.Meter("branchplan"))
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordNodeExecution(ctx, "process", "skip_branches", 5*time.Millisecond, nil)
	m.RecordNodeExecution(ctx, "failing", "skip_branches", time.Millisecond, errors.New("boom"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.node.executions", attribute.String("node_id", "process")))
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.node.errors", attribute.String("node_id", "failing")))
	assert.Zero(t, counterValue(t, rm, "branchplan.node.errors", attribute.String("node_id", "process")))

	latency := findMetric(rm, "branchplan.node.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.NotEmpty(t, hist.DataPoints)
}

func TestRecordRun(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics(otel.Meter("branchplan"))
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordRun(ctx, "skip_branches", true, 20*time.Millisecond, 0.4)
	m.RecordRun(ctx, "route_data", false, 30*time.Millisecond, 0)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.run.count", attribute.String("mode", "skip_branches")))
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.run.count", attribute.Bool("success", false)))

	ratio := findMetric(rm, "branchplan.run.skip_ratio")
	require.NotNil(t, ratio)
	hist, ok := ratio.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 2)
	for _, dp := range hist.DataPoints {
		assert.Equal(t, uint64(1), dp.Count)
	}
}

func TestRecordPlanAndModes(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics(otel.Meter("branchplan"))
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordPlan(ctx, 1, 4, 2, false)
	m.RecordPlan(ctx, 2, 5, 1, true)
	m.RecordModeDecision(ctx, "skip_branches", "route_data", true)
	m.RecordModeDecision(ctx, "skip_branches", "route_data", false)
	m.RecordFallback(ctx, "plan_invalid")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.plan.cache_lookups", attribute.Bool("hit", true)))
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.plan.cache_lookups", attribute.Bool("hit", false)))
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.plan.passes", attribute.Int("pass", 2)))
	assert.Equal(t, int64(2), counterValue(t, rm, "branchplan.mode.decisions", attribute.String("selected", "route_data")))
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.mode.switches", attribute.String("to", "route_data")))
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.mode.fallbacks", attribute.String("reason", "plan_invalid")))
}

func TestNewMetricsRecorderWithProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetricsRecorderWithProvider(provider)
	require.NoError(t, err)
	m.RecordFallback(context.Background(), "replan_limit")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), counterValue(t, rm, "branchplan.mode.fallbacks", attribute.String("reason", "replan_limit")))
}
