package branchplan

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/branchplan/pkg/branchplan/config"
	"github.com/randalmurphal/branchplan/pkg/branchplan/observability"
	"github.com/randalmurphal/branchplan/pkg/branchplan/plancache"
)

// Options configures a Runtime. It is copied into the runtime at
// construction and never changes afterwards.
type Options struct {
	// Mode is the requested execution mode. Default: ModeRouteData.
	Mode ExecutionMode

	// CompatibilityReporting logs the compatibility report and every
	// diagnostic of each newly analysed graph.
	CompatibilityReporting bool

	// PerformanceMonitoring records per-run statistics used by AutoSwitch.
	PerformanceMonitoring bool

	// AutoSwitch lets the selector drop from skip_branches to route_data
	// when skipping does not pay off.
	AutoSwitch bool

	// Debug logs every plan pass and dead-routed node.
	Debug bool

	// ForceSkipBranches selects skip_branches even for graphs that are
	// not fully compatible.
	ForceSkipBranches bool

	// MaxReplanPasses caps planning passes per run. Zero means the number
	// of branch nodes plus one.
	MaxReplanPasses int

	// MaxConcurrency bounds parallel node evaluation. Zero means unbounded.
	MaxConcurrency int

	// LowSkipRatio and LowSkipRuns drive AutoSwitch: after LowSkipRuns
	// consecutive runs skipping less than LowSkipRatio of the graph, the
	// selector uses route_data. Defaults: 0.1 and 3.
	LowSkipRatio float64
	LowSkipRuns  int

	// HistorySize is how many recent runs the performance tracker keeps.
	// Default: 50.
	HistorySize int

	// RestartOnFallback re-runs the graph from scratch in route_data when
	// a skip_branches run fails plan validation. When false the
	// validation error is returned. Default: true.
	RestartOnFallback bool

	// PlanCache stores plans across runs. Nil disables caching.
	PlanCache plancache.Store

	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

// Option configures Options.
type Option func(*Options)

// DefaultOptions returns the default runtime options.
func DefaultOptions() Options {
	return Options{
		Mode:              ModeRouteData,
		LowSkipRatio:      0.1,
		LowSkipRuns:       3,
		HistorySize:       50,
		RestartOnFallback: true,
	}
}

// NewOptions applies opts over DefaultOptions and fills in no-op
// observability where none was configured.
func NewOptions(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.normalize()
	return o
}

func (o *Options) normalize() {
	if o.Mode == "" {
		o.Mode = ModeRouteData
	}
	if o.LowSkipRuns <= 0 {
		o.LowSkipRuns = 3
	}
	if o.HistorySize <= 0 {
		o.HistorySize = 50
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.AutoSwitch {
		o.PerformanceMonitoring = true
	}
	if o.Metrics == nil {
		if o.PerformanceMonitoring {
			o.Metrics = observability.NewMetricsRecorder()
		} else {
			o.Metrics = observability.NoopMetrics{}
		}
	}
	if o.Spans == nil {
		o.Spans = observability.NoopSpanManager{}
	}
}

// WithMode sets the requested execution mode.
func WithMode(mode ExecutionMode) Option {
	return func(o *Options) { o.Mode = mode }
}

// WithCompatibilityReporting toggles logging of compatibility reports.
func WithCompatibilityReporting(enabled bool) Option {
	return func(o *Options) { o.CompatibilityReporting = enabled }
}

// WithPerformanceMonitoring toggles per-run statistics and OTel metrics.
func WithPerformanceMonitoring(enabled bool) Option {
	return func(o *Options) { o.PerformanceMonitoring = enabled }
}

// WithAutoSwitch toggles performance-driven mode switching. It implies
// performance monitoring, whatever WithPerformanceMonitoring says.
func WithAutoSwitch(enabled bool) Option {
	return func(o *Options) { o.AutoSwitch = enabled }
}

// WithDebug toggles verbose plan and routing logs.
func WithDebug(enabled bool) Option {
	return func(o *Options) { o.Debug = enabled }
}

// WithForceSkipBranches forces skip_branches regardless of compatibility.
func WithForceSkipBranches(enabled bool) Option {
	return func(o *Options) { o.ForceSkipBranches = enabled }
}

// WithMaxReplanPasses caps planning passes per run.
func WithMaxReplanPasses(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxReplanPasses = n
		}
	}
}

// WithMaxConcurrency bounds parallel node evaluation.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxConcurrency = n
		}
	}
}

// WithLowSkipThreshold configures the AutoSwitch low-skip rule.
func WithLowSkipThreshold(ratio float64, runs int) Option {
	return func(o *Options) {
		o.LowSkipRatio = ratio
		o.LowSkipRuns = runs
	}
}

// WithHistorySize sets how many recent runs are tracked.
func WithHistorySize(n int) Option {
	return func(o *Options) { o.HistorySize = n }
}

// WithRestartOnFallback chooses between restarting in route_data and
// returning the validation error when skip_branches fails.
func WithRestartOnFallback(enabled bool) Option {
	return func(o *Options) { o.RestartOnFallback = enabled }
}

// WithPlanCache enables plan caching.
func WithPlanCache(store plancache.Store) Option {
	return func(o *Options) { o.PlanCache = store }
}

// WithLogger sets the logger for runtime and node logs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics sets the metrics recorder.
//
// Example:
//
//	rt := branchplan.NewRuntime(branchplan.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithTracing toggles OpenTelemetry spans for runs, phases and nodes.
func WithTracing(enabled bool) Option {
	return func(o *Options) {
		if enabled {
			o.Spans = observability.NewSpanManager()
		} else {
			o.Spans = observability.NoopSpanManager{}
		}
	}
}

// OptionsFromConfig reads runtime options from cfg. Recognised keys:
//
//	mode, compatibility_reporting, performance_monitoring, auto_switch,
//	debug, force_skip_branches, max_replan_passes, max_concurrency,
//	low_skip_ratio, low_skip_runs, history_size, restart_on_fallback,
//	tracing, plan_cache.{backend,path,ttl,max_entries,redis.*}
//
// The returned options own any plan cache they opened; close it with
// Options.PlanCache.Close when done.
func OptionsFromConfig(cfg config.Config, extra ...Option) (Options, error) {
	d := DefaultOptions()

	mode, err := ParseMode(cfg.String("mode", string(d.Mode)))
	if err != nil {
		return Options{}, err
	}

	opts := []Option{
		WithMode(mode),
		WithCompatibilityReporting(cfg.Bool("compatibility_reporting", d.CompatibilityReporting)),
		WithPerformanceMonitoring(cfg.Bool("performance_monitoring", d.PerformanceMonitoring)),
		WithDebug(cfg.Bool("debug", d.Debug)),
		WithForceSkipBranches(cfg.Bool("force_skip_branches", d.ForceSkipBranches)),
		WithMaxReplanPasses(cfg.Int("max_replan_passes", 0)),
		WithMaxConcurrency(cfg.Int("max_concurrency", 0)),
		WithLowSkipThreshold(cfg.Float("low_skip_ratio", d.LowSkipRatio), cfg.Int("low_skip_runs", d.LowSkipRuns)),
		WithHistorySize(cfg.Int("history_size", d.HistorySize)),
		WithRestartOnFallback(cfg.Bool("restart_on_fallback", d.RestartOnFallback)),
		WithTracing(cfg.Bool("tracing", false)),
	}
	if cfg.Bool("auto_switch", false) {
		opts = append(opts, WithAutoSwitch(true))
	}

	store, err := planCacheFromConfig(cfg.Sub("plan_cache"))
	if err != nil {
		return Options{}, err
	}
	if store != nil {
		opts = append(opts, WithPlanCache(store))
	}

	return NewOptions(append(opts, extra...)...), nil
}

// planCacheFromConfig opens the configured plan cache backend, or
// returns nil when none is configured.
func planCacheFromConfig(cfg config.Config) (plancache.Store, error) {
	ttl := cfg.Duration("ttl", 0)
	switch backend := cfg.String("backend", ""); backend {
	case "", "none":
		return nil, nil
	case "memory":
		return plancache.NewMemoryStore(
			plancache.WithMemoryTTL(ttl),
			plancache.WithMaxEntries(cfg.Int("max_entries", 0)),
		), nil
	case "sqlite":
		store, err := plancache.NewSQLiteStore(cfg.String("path", "plans.db"), plancache.WithSQLiteTTL(ttl))
		if err != nil {
			return nil, fmt.Errorf("plan cache: %w", err)
		}
		return store, nil
	case "redis":
		rc := plancache.DefaultRedisConfig()
		redisCfg := cfg.Sub("redis")
		rc.Addr = redisCfg.String("addr", rc.Addr)
		rc.Password = redisCfg.String("password", rc.Password)
		rc.DB = redisCfg.Int("db", rc.DB)
		rc.Prefix = redisCfg.String("prefix", rc.Prefix)
		rc.OpTimeout = redisCfg.Duration("op_timeout", rc.OpTimeout)
		if cfg.Has("ttl") {
			rc.TTL = ttl
		}
		store, err := plancache.NewRedisStore(rc)
		if err != nil {
			return nil, fmt.Errorf("plan cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("plan cache: unknown backend %q", backend)
	}
}
