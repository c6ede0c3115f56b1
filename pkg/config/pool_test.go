package config

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stagepool/stagepool/pkg/core/concurrency"
)

func TestBuildPool(t *testing.T) {
	cfg := &PoolConfig{
		Name: "build-test",
		Stages: []StageConfig{
			{Name: "fast", MaxWorkers: 2, MaxQueued: 32},
			{Name: "slow", MaxWorkers: 1, MaxQueued: 4},
		},
	}
	rt, err := BuildPool(cfg)
	if err != nil {
		t.Fatalf("BuildPool() error = %v", err)
	}
	pool := rt.Pool
	if len(pool.Stages) != 2 {
		t.Fatalf("stages = %d, want 2", len(pool.Stages))
	}

	var ran atomic.Int32
	for _, stage := range pool.Stages {
		ft, err := stage.Submit(concurrency.TaskFunc(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if err := ft.Wait(context.Background()); err != nil {
			t.Errorf("task error = %v", err)
		}
	}
	if ran.Load() != 2 {
		t.Errorf("ran = %d, want 2", ran.Load())
	}

	pool.Shutdown()
	if ok, err := pool.AwaitTermination(context.Background(), 10*time.Second); err != nil || !ok {
		t.Fatalf("pool did not terminate: ok=%v err=%v", ok, err)
	}
}

func TestBuildPool_InvalidConfig(t *testing.T) {
	if _, err := BuildPool(&PoolConfig{}); err == nil {
		t.Error("BuildPool() with an invalid config should fail")
	}
}
