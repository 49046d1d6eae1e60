// Package observability provides structured logging, metrics and tracing
// for branchplan runs.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every Log helper accepts a nil logger and does nothing with it.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
// Returns a new logger with run_id, node_id and mode fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "switch", "skip_branches")
//	enriched.Info("doing work") // includes run_id, node_id, mode
func EnrichLogger(logger *slog.Logger, runID, nodeID, mode string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.String("mode", mode),
	)
}

// LogRunStart logs the start of a graph run.
func LogRunStart(logger *slog.Logger, runID, graphName, mode string) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String("run_id", runID),
		slog.String("graph", graphName),
		slog.String("mode", mode),
	)
}

// LogRunComplete logs successful graph run completion.
func LogRunComplete(logger *slog.Logger, runID, mode string, durationMs float64, executed, skipped int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String("run_id", runID),
		slog.String("mode", mode),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", executed),
		slog.Int("nodes_skipped", skipped),
	)
}

// LogRunError logs graph run failure.
func LogRunError(logger *slog.Logger, runID, mode string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("run_id", runID),
		slog.String("mode", mode),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogModeDecision logs the execution mode chosen for a run.
func LogModeDecision(logger *slog.Logger, runID, requested, selected, reason string, forced bool) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	if requested != selected || forced {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "execution mode selected",
		slog.String("run_id", runID),
		slog.String("requested", requested),
		slog.String("selected", selected),
		slog.String("reason", reason),
		slog.Bool("forced", forced),
	)
}

// LogCompatibility logs a graph compatibility verdict.
func LogCompatibility(logger *slog.Logger, graphName, verdict, summary string, diagnostics int) {
	if logger == nil {
		return
	}
	logger.Info("graph compatibility analysed",
		slog.String("graph", graphName),
		slog.String("verdict", verdict),
		slog.String("summary", summary),
		slog.Int("diagnostics", diagnostics),
	)
}

// LogDiagnostic logs one non-fatal analysis diagnostic.
func LogDiagnostic(logger *slog.Logger, graphName string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("compatibility diagnostic",
		slog.String("graph", graphName),
		slog.String("detail", err.Error()),
	)
}

// LogPlan logs one planning pass.
func LogPlan(logger *slog.Logger, pass, included, skipped, pending int, cacheHit bool) {
	if logger == nil {
		return
	}
	logger.Debug("execution plan created",
		slog.Int("pass", pass),
		slog.Int("included", included),
		slog.Int("skipped", skipped),
		slog.Int("pending_branches", pending),
		slog.Bool("cache_hit", cacheHit),
	)
}

// LogFallback logs a mid-run switch from skip_branches to route_data.
func LogFallback(logger *slog.Logger, runID string, cause error, restart bool) {
	if logger == nil {
		return
	}
	logger.Warn("falling back to route_data",
		slog.String("run_id", runID),
		slog.String("cause", cause.Error()),
		slog.Bool("restart", restart),
	)
}

// LogPlanCacheError logs a plan cache failure. Cache errors never fail a run.
func LogPlanCacheError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("plan cache failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeDead logs a node that received only dead inputs and was not run.
func LogNodeDead(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node routed dead",
		slog.String("node_id", nodeID),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
