// Command example runs a small shared pool with two stages, floods them
// with work, and serves the stage metrics on :9090/metrics until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stagepool/stagepool/pkg/config"
	"github.com/stagepool/stagepool/pkg/core"
	"github.com/stagepool/stagepool/pkg/core/concurrency"
	"github.com/stagepool/stagepool/pkg/stability"
)

func main() {
	logger := core.NewDefaultLogger()

	cfg := &config.PoolConfig{
		Name:        "example",
		MetricsAddr: ":9090",
		MetricsPath: "demo",
		Stages: []config.StageConfig{
			{Name: "read", MaxWorkers: 4, MaxQueued: 64},
			{Name: "write", MaxWorkers: 2, MaxQueued: 16},
		},
	}
	if path := os.Getenv("STAGEPOOL_CONFIG"); path != "" {
		loaded, err := config.LoadPool(path)
		if err != nil {
			logger.Errorf("config %s: %v", path, err)
			os.Exit(1)
		}
		loaded.MetricsAddr = cfg.MetricsAddr
		cfg = loaded
	}

	rt, err := config.BuildPool(cfg)
	if err != nil {
		logger.Errorf("pool build failed: %v", err)
		os.Exit(1)
	}
	pool := rt.Pool

	stability.AddShutdownHook("example-pool", func() {
		pool.Shutdown()
	})

	for name, stage := range pool.Stages {
		go func(name string, stage *concurrency.StageExecutor) {
			for i := 0; ; i++ {
				task := concurrency.NewNamedTask(fmt.Sprintf("%s-%d", name, i),
					func(ctx context.Context) error {
						time.Sleep(5 * time.Millisecond)
						return nil
					})
				if _, err := stage.Submit(task); err != nil {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(name, stage)
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			for name, stage := range pool.Stages {
				logger.Infof("stage %s: active=%d pending=%d completed=%d blocked=%d",
					name, stage.ActiveCount(), stage.PendingTasks(),
					stage.CompletedCount(), stage.TotalBlockedTasks())
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stability.RunShutdownHooks()
	if ok, _ := pool.AwaitTermination(context.Background(), 10*time.Second); !ok {
		logger.Warn("pool did not terminate within 10s")
	}
	if rt.Metrics != nil {
		_ = rt.Metrics.Stop()
	}
}
