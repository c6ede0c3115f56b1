package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stagepool/stagepool/pkg/core/concurrency"
)

func TestRegistry_ForStage(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := NewRegistry(promReg, "test")

	pool := concurrency.NewSharedPool("metrics-pool",
		concurrency.WithStageMetrics(reg.ForStage))
	stage, err := pool.NewExecutor(2, 10, "metered")
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	ft, err := stage.Submit(concurrency.TaskFunc(func(ctx context.Context) error {
		return nil
	}))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := ft.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	families, err := promReg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	want := map[string]bool{
		"stagepool_active_tasks":            false,
		"stagepool_pending_tasks":           false,
		"stagepool_completed_tasks":         false,
		"stagepool_max_pool_size":           false,
		"stagepool_total_blocked_tasks":     false,
		"stagepool_currently_blocked_tasks": false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "scope" && l.GetValue() != "metered" {
					t.Errorf("metric %s scope = %q, want metered", mf.GetName(), l.GetValue())
				}
			}
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s was not registered", name)
		}
	}

	// The completed gauge reads the executor.
	for _, mf := range families {
		if mf.GetName() == "stagepool_completed_tasks" {
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 1 {
				t.Errorf("completed_tasks = %v, want 1", got)
			}
		}
	}

	// Terminating the stage releases its collectors.
	pool.Shutdown()
	if ok, err := pool.AwaitTermination(context.Background(), 10*time.Second); err != nil || !ok {
		t.Fatalf("pool did not terminate: ok=%v err=%v", ok, err)
	}
	families, err = promReg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "stagepool_") {
			t.Errorf("metric %s still registered after stage termination", mf.GetName())
		}
	}
}

func TestRegistry_BlockedCounters(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := NewRegistry(promReg, "test")

	pool := concurrency.NewSharedPool("blocked-pool",
		concurrency.WithStageMetrics(reg.ForStage))
	stage, err := pool.NewExecutor(1, 1, "narrow")
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := stage.Submit(concurrency.TaskFunc(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	families, err := promReg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() == "stagepool_total_blocked_tasks" {
			total = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if total < 1 {
		t.Errorf("total_blocked_tasks = %v, want >= 1", total)
	}

	pool.Shutdown()
	if ok, err := pool.AwaitTermination(context.Background(), 10*time.Second); err != nil || !ok {
		t.Fatalf("pool did not terminate: ok=%v err=%v", ok, err)
	}
}
