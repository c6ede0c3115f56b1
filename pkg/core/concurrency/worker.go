package concurrency

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Worker states. A worker is Working while it holds a stage permit,
// Spinning while it busy-checks for eligible stages, Parked while blocked
// on the pool's descheduled queue, and Stopping on its way out.
const (
	workerSpinning int32 = iota
	workerWorking
	workerParked
	workerStopping
)

// spinSleep is the pause between busy-checks while Spinning; short enough
// to catch bursty submissions with low latency, long enough not to burn a
// core.
const spinSleep = 50 * time.Microsecond

// worker services every stage of one SharedPool. It reuses a single
// Parker across park cycles.
type worker struct {
	pool   *SharedPool
	id     int32
	parker *Parker
	state  atomic.Int32
}

func newWorker(pool *SharedPool, id int32) *worker {
	return &worker{pool: pool, id: id, parker: NewParker()}
}

// run is the worker loop: scan for work, spin briefly when none is found,
// then park on the descheduled queue until nudged, retiring after the
// pool's idle timeout.
func (w *worker) run(ctx context.Context) {
	defer w.retire()
	for {
		if w.runTasks(ctx) {
			continue
		}
		if w.pool.isShutdown() {
			if !w.pool.hasPendingWork() {
				return
			}
			// Still draining; go around without parking.
			time.Sleep(spinSleep)
			continue
		}
		if w.spin() {
			continue
		}
		alive := w.park()
		if !alive {
			return
		}
	}
}

// runTasks drains as much work as the worker can claim. After finishing a
// task it first tries to continue on the same stage while backlog remains
// (queue and cache locality), then rescans globally. Reports whether any
// task ran.
func (w *worker) runTasks(ctx context.Context) bool {
	ran := false
	for {
		stage, ft := w.pool.findWork()
		if stage == nil {
			return ran
		}
		w.state.Store(workerWorking)
		for {
			ran = true
			ft.run(ctx)
			stage.taskDone()
			next, ok := stage.tryTake()
			if !ok {
				break
			}
			ft = next
		}
		w.state.Store(workerSpinning)
	}
}

// spin busy-checks for fresh work within the pool's spin budget. Reports
// whether a nudge arrived, in which case the caller rescans instead of
// parking.
func (w *worker) spin() bool {
	w.state.Store(workerSpinning)
	permits := w.pool.workPermits.Load()
	deadline := NanoTime() + int64(w.pool.spinBudget)
	for NanoTime() < deadline {
		if w.pool.workPermits.Load() != permits || w.pool.isShutdown() {
			return true
		}
		runtime.Gosched()
		time.Sleep(spinSleep)
	}
	return w.pool.workPermits.Load() != permits
}

// park blocks on the descheduled queue until a submitter or a completing
// worker nudges the pool. Returns false when the worker should retire:
// either the idle timeout elapsed with no work, or the pool shut down
// with nothing left to drain.
func (w *worker) park() bool {
	// Snapshot the nudge counter before registering; a nudge between the
	// last scan and the register would otherwise be lost.
	permits := w.pool.workPermits.Load()
	sig := w.pool.descheduled.RegisterWith(w.parker)
	if w.pool.workPermits.Load() != permits || w.pool.isShutdown() {
		sig.Cancel()
		return true
	}
	w.state.Store(workerParked)
	woken, _ := sig.AwaitUntil(context.Background(), NanoTime()+int64(w.pool.idleTimeout))
	w.state.Store(workerSpinning)
	if woken || w.pool.hasPendingWork() {
		return true
	}
	if w.pool.isShutdown() {
		return false
	}
	// Idle timeout: retire. A later submission spawns a replacement.
	return false
}

func (w *worker) retire() {
	w.state.Store(workerStopping)
	w.pool.workerExited(w)
}
