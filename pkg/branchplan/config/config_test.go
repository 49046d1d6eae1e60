package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/branchplan/pkg/branchplan/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilMap(t *testing.T) {
	cfg := config.New(nil)
	assert.NotNil(t, cfg.Raw())
	assert.False(t, cfg.Has("mode"))
}

func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"mode":              "skip_branches",
		"auto_switch":       true,
		"max_concurrency":   4,
		"max_passes_json":   float64(6),
		"fractional":        2.5,
		"low_skip_ratio":    0.2,
		"low_skip_int":      1,
		"timeout":           "1m30s",
		"timeout_seconds":   45,
		"force_skip":        []any{"a", "b"},
		"mixed_slice":       []any{"a", 1},
		"typed_slice":       []string{"x"},
		"wrong_type_string": 12,
	})

	assert.Equal(t, "skip_branches", cfg.String("mode", "route_data"))
	assert.Equal(t, "route_data", cfg.String("missing", "route_data"))
	assert.Equal(t, "fallback", cfg.String("wrong_type_string", "fallback"))

	assert.True(t, cfg.Bool("auto_switch", false))
	assert.True(t, cfg.Bool("missing", true))

	assert.Equal(t, 4, cfg.Int("max_concurrency", 0))
	assert.Equal(t, 6, cfg.Int("max_passes_json", 0))
	assert.Equal(t, 9, cfg.Int("fractional", 9), "fractional floats are not truncated")

	assert.Equal(t, 0.2, cfg.Float("low_skip_ratio", 0))
	assert.Equal(t, 1.0, cfg.Float("low_skip_int", 0))

	assert.Equal(t, 90*time.Second, cfg.Duration("timeout", 0))
	assert.Equal(t, 45*time.Second, cfg.Duration("timeout_seconds", 0))
	assert.Equal(t, time.Minute, cfg.Duration("missing", time.Minute))

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("force_skip", nil))
	assert.Equal(t, []string{"x"}, cfg.StringSlice("typed_slice", nil))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("mixed_slice", []string{"d"}))

	assert.Equal(t, 4, cfg.Any("max_concurrency", nil))
	assert.Equal(t, "dflt", cfg.Any("missing", "dflt"))
}

func TestDottedKeysAndSub(t *testing.T) {
	cfg := config.New(map[string]any{
		"plan_cache": map[string]any{
			"backend": "redis",
			"ttl":     "10m",
			"redis":   map[string]any{"addr": "cache:6379"},
		},
		"literal.key": "flat",
	})

	assert.Equal(t, "redis", cfg.String("plan_cache.backend", "memory"))
	assert.Equal(t, "cache:6379", cfg.String("plan_cache.redis.addr", ""))
	assert.Equal(t, "flat", cfg.String("literal.key", ""))
	assert.True(t, cfg.Has("plan_cache.ttl"))
	assert.False(t, cfg.Has("plan_cache.path"))

	cache := cfg.Sub("plan_cache")
	assert.Equal(t, 10*time.Minute, cache.Duration("ttl", 0))
	assert.Equal(t, "cache:6379", cache.Sub("redis").String("addr", ""))

	assert.Empty(t, cfg.Sub("missing").Raw())
	assert.Empty(t, cfg.Sub("literal.key").Raw())
}

func TestMerge(t *testing.T) {
	base := config.New(map[string]any{
		"mode":       "route_data",
		"debug":      false,
		"plan_cache": map[string]any{"backend": "sqlite", "path": "plans.db"},
	})
	over := config.New(map[string]any{
		"mode":       "skip_branches",
		"plan_cache": map[string]any{"backend": "memory"},
	})

	merged := base.Merge(over)
	assert.Equal(t, "skip_branches", merged.String("mode", ""))
	assert.False(t, merged.Bool("debug", true))
	assert.Equal(t, "memory", merged.String("plan_cache.backend", ""))
	assert.Equal(t, "plans.db", merged.String("plan_cache.path", ""))

	// Inputs are untouched.
	assert.Equal(t, "route_data", base.String("mode", ""))
	assert.Equal(t, "sqlite", base.String("plan_cache.backend", ""))
}

func TestLoaders(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		cfg, err := config.FromYAML([]byte("mode: skip_branches\nplan_cache:\n  ttl: 5m\n"))
		require.NoError(t, err)
		assert.Equal(t, "skip_branches", cfg.String("mode", ""))
		assert.Equal(t, 5*time.Minute, cfg.Duration("plan_cache.ttl", 0))
	})

	t.Run("json", func(t *testing.T) {
		cfg, err := config.FromJSON([]byte(`{"max_concurrency": 8, "debug": true}`))
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Int("max_concurrency", 0))
		assert.True(t, cfg.Bool("debug", false))
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := config.FromYAML([]byte("mode: [unclosed"))
		assert.Error(t, err)
		_, err = config.FromJSON([]byte("{"))
		assert.Error(t, err)
	})
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "runtime.YML")
	require.NoError(t, os.WriteFile(yamlPath, []byte("mode: route_data\n"), 0o600))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "route_data", cfg.String("mode", ""))

	jsonPath := filepath.Join(dir, "runtime.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"mode":"skip_branches"}`), 0o600))
	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "skip_branches", cfg.String("mode", ""))

	_, err = config.FromFile(filepath.Join(dir, "runtime.toml"))
	assert.Error(t, err)

	txtPath := filepath.Join(dir, "runtime.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("mode"), 0o600))
	_, err = config.FromFile(txtPath)
	assert.ErrorContains(t, err, "unsupported config file extension")
}

func TestLoad_LayersFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	site := filepath.Join(dir, "site.json")
	require.NoError(t, os.WriteFile(base, []byte("mode: route_data\nplan_cache:\n  backend: memory\n  ttl: 1m\n"), 0o600))
	require.NoError(t, os.WriteFile(site, []byte(`{"plan_cache": {"backend": "sqlite"}}`), 0o600))

	cfg, err := config.Load(base, site)
	require.NoError(t, err)
	assert.Equal(t, "route_data", cfg.String("mode", ""))
	assert.Equal(t, "sqlite", cfg.String("plan_cache.backend", ""))
	assert.Equal(t, time.Minute, cfg.Duration("plan_cache.ttl", 0))

	empty, err := config.Load()
	require.NoError(t, err)
	assert.False(t, empty.Has("mode"))

	_, err = config.Load(base, filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "missing.yaml")
}

func TestFromEnv(t *testing.T) {
	cfg := config.FromEnv("BRANCHPLAN_", []string{
		"BRANCHPLAN_MODE=skip_branches",
		"BRANCHPLAN_AUTO_SWITCH=true",
		"BRANCHPLAN_MAX_CONCURRENCY=8",
		"BRANCHPLAN_PLAN_CACHE__BACKEND=redis",
		"BRANCHPLAN_PLAN_CACHE__TTL=10m",
		"BRANCHPLAN_PLAN_CACHE__REDIS__ADDR=localhost:6379",
		"BRANCHPLAN_LOW_SKIP_RATIO=0.25",
		"BRANCHPLAN_LIST=[a, b]",
		"BRANCHPLAN_=ignored",
		"HOME=/root",
		"malformed",
	})

	assert.Equal(t, "skip_branches", cfg.String("mode", ""))
	assert.True(t, cfg.Bool("auto_switch", false))
	assert.Equal(t, 8, cfg.Int("max_concurrency", 0))
	assert.Equal(t, 0.25, cfg.Float("low_skip_ratio", 0))
	assert.Equal(t, "redis", cfg.Sub("plan_cache").String("backend", ""))
	assert.Equal(t, 10*time.Minute, cfg.Duration("plan_cache.ttl", 0))
	assert.Equal(t, "localhost:6379", cfg.String("plan_cache.redis.addr", ""))
	assert.Equal(t, "[a, b]", cfg.String("list", ""))
	assert.False(t, cfg.Has("home"))
	assert.Len(t, cfg.Raw(), 6)
}

func TestFromEnv_OverridesFile(t *testing.T) {
	file, err := config.FromYAML([]byte("mode: route_data\nplan_cache:\n  backend: memory\n  max_entries: 100\n"))
	require.NoError(t, err)

	cfg := file.Merge(config.FromEnv("BP_", []string{"BP_PLAN_CACHE__BACKEND=sqlite"}))
	assert.Equal(t, "route_data", cfg.String("mode", ""))
	assert.Equal(t, "sqlite", cfg.String("plan_cache.backend", ""))
	assert.Equal(t, 100, cfg.Int("plan_cache.max_entries", 0))
}
