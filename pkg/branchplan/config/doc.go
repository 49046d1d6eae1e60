/*
Package config reads runtime settings from YAML, JSON and the environment
and hands them out through typed accessors with defaults.

branchplan.OptionsFromConfig is the main consumer:

	cfg, err := config.Load("branchplan.yaml", "/etc/branchplan/site.yaml")
	if err != nil {
	    return err
	}
	cfg = cfg.Merge(config.FromEnv("BRANCHPLAN_", os.Environ()))
	opts, err := branchplan.OptionsFromConfig(cfg)

A typical file:

	mode: skip_branches
	auto_switch: true
	max_concurrency: 8
	plan_cache:
	  backend: redis
	  ttl: 10m
	  redis:
	    addr: localhost:6379

# Accessors

Every accessor takes a default that is returned when the key is missing or
the value has the wrong type. Keys may be dotted paths into sections; a
literal dotted key wins over the nested path.

	cfg.Duration("plan_cache.ttl", time.Hour) // "10m", 600 (seconds) or a time.Duration
	cfg.Int("max_concurrency", 0)             // float64 8 from JSON is accepted, 8.5 is not
	cache := cfg.Sub("plan_cache")

Merge layers one Config over another and merges sections present in both.

Config is read-only after creation and safe for concurrent use.
*/
package config
