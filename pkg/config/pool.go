package config

import (
	"fmt"
	"time"

	"github.com/stagepool/stagepool/pkg/core/concurrency"
	"github.com/stagepool/stagepool/pkg/observability"
	"github.com/stagepool/stagepool/pkg/stability"
)

// StageConfig describes one stage of a pool.
type StageConfig struct {
	Name       string `yaml:"name" json:"name"`
	MaxWorkers int    `yaml:"max_workers" json:"max_workers"`
	// MaxQueued bounds the backlog before submitters block; zero forces a
	// rendezvous on every submit.
	MaxQueued int `yaml:"max_queued" json:"max_queued"`
}

// PoolConfig describes a SharedPool, its stages, and the observability
// surface.
type PoolConfig struct {
	Name        string   `yaml:"name" json:"name"`
	MaxWorkers  int      `yaml:"max_workers" json:"max_workers"`
	SpinBudget  Duration `yaml:"spin_budget" json:"spin_budget"`
	IdleTimeout Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// MetricsAddr enables the Prometheus scrape endpoint when non-empty,
	// e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// MetricsPath is the path element of the stage metric tuple.
	MetricsPath string        `yaml:"metrics_path" json:"metrics_path"`
	Stages      []StageConfig `yaml:"stages" json:"stages"`
}

// LoadPool reads and validates a PoolConfig, applying STAGEPOOL_*
// environment overrides.
func LoadPool(path string) (*PoolConfig, error) {
	cfg := &PoolConfig{}
	if err := LoadWithEnv(path, "STAGEPOOL", cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg, PoolValidator()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PoolValidator checks the structural constraints of a PoolConfig.
func PoolValidator() Validator {
	return ValidatorFunc(func(config interface{}) error {
		cfg, ok := config.(*PoolConfig)
		if !ok {
			return fmt.Errorf("expected *PoolConfig, got %T", config)
		}
		if cfg.Name == "" {
			return fmt.Errorf("pool name is required")
		}
		if cfg.MaxWorkers < 0 {
			return fmt.Errorf("pool max_workers cannot be negative")
		}
		seen := map[string]bool{}
		for _, s := range cfg.Stages {
			if s.Name == "" {
				return fmt.Errorf("stage name is required")
			}
			if seen[s.Name] {
				return fmt.Errorf("duplicate stage name %q", s.Name)
			}
			seen[s.Name] = true
			if s.MaxWorkers < 1 {
				return fmt.Errorf("stage %s: max_workers must be at least 1", s.Name)
			}
			if s.MaxQueued < 0 {
				return fmt.Errorf("stage %s: max_queued cannot be negative", s.Name)
			}
		}
		return nil
	})
}

// Runtime is a built pool with its stages and optional metrics endpoint.
type Runtime struct {
	Pool    *SharedPoolHandle
	Metrics *observability.MetricsServer
}

// SharedPoolHandle bundles the pool with its stages by name.
type SharedPoolHandle struct {
	*concurrency.SharedPool
	Stages map[string]*concurrency.StageExecutor
}

// BuildPool constructs the pool a PoolConfig describes: fatal-error
// inspection wired, stage metrics registered, every configured stage
// created, and the scrape endpoint started when MetricsAddr is set.
func BuildPool(cfg *PoolConfig) (*Runtime, error) {
	if err := Validate(cfg, PoolValidator()); err != nil {
		return nil, err
	}
	concurrency.SetFatalInspector(stability.Inspect)

	opts := []concurrency.PoolOption{}
	if cfg.MaxWorkers > 0 {
		opts = append(opts, concurrency.WithMaxWorkers(cfg.MaxWorkers))
	}
	if cfg.SpinBudget > 0 {
		opts = append(opts, concurrency.WithSpinBudget(time.Duration(cfg.SpinBudget)))
	}
	if cfg.IdleTimeout > 0 {
		opts = append(opts, concurrency.WithIdleTimeout(time.Duration(cfg.IdleTimeout)))
	}
	path := cfg.MetricsPath
	if path == "" {
		path = "internal"
	}
	registry := observability.NewRegistry(nil, path)
	opts = append(opts, concurrency.WithStageMetrics(registry.ForStage))

	pool := concurrency.NewSharedPool(cfg.Name, opts...)
	handle := &SharedPoolHandle{SharedPool: pool, Stages: map[string]*concurrency.StageExecutor{}}
	for _, sc := range cfg.Stages {
		stage, err := pool.NewExecutor(sc.MaxWorkers, sc.MaxQueued, sc.Name)
		if err != nil {
			pool.Shutdown()
			return nil, fmt.Errorf("failed to create stage %s: %w", sc.Name, err)
		}
		handle.Stages[sc.Name] = stage
	}

	rt := &Runtime{Pool: handle}
	if cfg.MetricsAddr != "" {
		rt.Metrics = observability.NewMetricsServer(cfg.MetricsAddr, nil, nil)
		if err := rt.Metrics.Start(); err != nil {
			pool.Shutdown()
			return nil, err
		}
	}
	return rt, nil
}
