package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSpinBudget  = 2 * time.Millisecond
	defaultIdleTimeout = 30 * time.Second
)

// PoolOption configures a SharedPool.
type PoolOption func(*SharedPool)

// WithMaxWorkers caps the pool-wide worker count. Zero (the default)
// tracks the sum of the live stages' concurrency caps.
func WithMaxWorkers(n int) PoolOption {
	return func(p *SharedPool) { p.maxWorkers = int32(n) }
}

// WithSpinBudget sets how long a worker busy-checks before parking.
func WithSpinBudget(d time.Duration) PoolOption {
	return func(p *SharedPool) { p.spinBudget = d }
}

// WithIdleTimeout sets how long a parked worker lingers before retiring.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *SharedPool) { p.idleTimeout = d }
}

// WithStageMetrics installs a factory invoked for every new stage; the
// returned StageMetrics receives the stage's blocked-submitter
// transitions and is released on stage termination.
func WithStageMetrics(factory func(*StageExecutor) StageMetrics) PoolOption {
	return func(p *SharedPool) { p.metricsFactory = factory }
}

// SharedPool multiplexes the stages created through NewExecutor over one
// shared set of workers. Workers are spawned lazily when a submission
// finds no parked worker to nudge, and retire when idle; every worker
// services every stage, subject to each stage's own concurrency cap.
type SharedPool struct {
	name string
	id   string

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards membership changes only: the stage list and worker
	// accounting. The work paths never take it.
	mu          sync.Mutex
	stages      atomic.Pointer[[]*StageExecutor]
	workerCount atomic.Int32
	workerSeq   int32
	maxWorkers  int32

	// descheduled holds the signals of Parked workers.
	descheduled *WaitQueue

	// workPermits counts nudges monotonically; a worker snapshots it
	// before parking and aborts the park if it moved, closing the window
	// between its last scan and its registration.
	workPermits atomic.Int64

	// rr seeds the round-robin stage scan so concurrent workers start at
	// different stages.
	rr atomic.Uint32

	shutdown   atomic.Bool
	terminated *OneShotCondition

	spinBudget  time.Duration
	idleTimeout time.Duration

	metricsFactory func(*StageExecutor) StageMetrics
}

// NewSharedPool creates a pool with no stages and no workers.
func NewSharedPool(name string, opts ...PoolOption) *SharedPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &SharedPool{
		name:        name,
		id:          uuid.NewString(),
		ctx:         ctx,
		cancel:      cancel,
		descheduled: NewWaitQueue(),
		terminated:  NewOneShotCondition(),
		spinBudget:  defaultSpinBudget,
		idleTimeout: defaultIdleTimeout,
	}
	empty := make([]*StageExecutor, 0)
	p.stages.Store(&empty)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pool name.
func (p *SharedPool) Name() string { return p.name }

// ID returns the unique id of this pool instance.
func (p *SharedPool) ID() string { return p.id }

// WorkerCount returns the number of live workers.
func (p *SharedPool) WorkerCount() int { return int(p.workerCount.Load()) }

// NewExecutor creates a stage served by this pool's workers. maxWorkers
// caps the stage's concurrent executions; maxQueued bounds its backlog
// before submitters block (zero forces a rendezvous on every submit).
func (p *SharedPool) NewExecutor(maxWorkers, maxQueued int, stageName string) (*StageExecutor, error) {
	if p.shutdown.Load() {
		return nil, ErrPoolShutdown
	}
	s := newStageExecutor(p, maxWorkers, maxQueued, stageName)
	if p.metricsFactory != nil {
		s.metrics = p.metricsFactory(s)
	}
	p.mu.Lock()
	if p.shutdown.Load() {
		p.mu.Unlock()
		if s.metrics != nil {
			s.metrics.Release()
		}
		return nil, ErrPoolShutdown
	}
	cur := *p.stages.Load()
	next := make([]*StageExecutor, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = s
	p.stages.Store(&next)
	p.mu.Unlock()
	logger().Debugf("pool %s (%s): stage %s created (maxWorkers=%d maxQueued=%d)",
		p.name, p.id, stageName, maxWorkers, maxQueued)
	return s, nil
}

// removeExecutor detaches a terminated stage from the scan list.
func (p *SharedPool) removeExecutor(s *StageExecutor) {
	p.mu.Lock()
	cur := *p.stages.Load()
	next := make([]*StageExecutor, 0, len(cur))
	for _, e := range cur {
		if e != s {
			next = append(next, e)
		}
	}
	p.stages.Store(&next)
	p.mu.Unlock()
	p.maybeTerminate()
}

// maybeSchedule is the submission nudge: wake one parked worker if there
// is one, otherwise spawn a worker while the pool is below its ceiling.
// When neither applies, a Spinning or Working worker will observe the new
// work through the nudge counter.
func (p *SharedPool) maybeSchedule() {
	p.workPermits.Add(1)
	if p.descheduled.Signal() {
		return
	}
	if p.workerCount.Load() < p.workerCeiling() {
		p.spawnWorker()
	}
}

// workerCeiling resolves the pool-wide worker cap: the configured bound,
// or the sum of live stage caps when unconfigured.
func (p *SharedPool) workerCeiling() int32 {
	if p.maxWorkers > 0 {
		return p.maxWorkers
	}
	var sum int32
	for _, s := range *p.stages.Load() {
		sum += s.maxWorkers
	}
	return sum
}

func (p *SharedPool) spawnWorker() {
	p.mu.Lock()
	if p.workerCount.Load() >= p.workerCeiling() {
		p.mu.Unlock()
		return
	}
	p.workerCount.Add(1)
	p.workerSeq++
	w := newWorker(p, p.workerSeq)
	p.mu.Unlock()
	logger().Debugf("pool %s: worker %d started", p.name, w.id)
	go w.run(p.ctx)
}

// workerExited removes a retiring worker from the accounting; spawning a
// replacement is left to the next nudge.
func (p *SharedPool) workerExited(w *worker) {
	p.workerCount.Add(-1)
	p.maybeTerminate()
	// A retire racing a burst of submissions could strand queued work
	// with no live worker; one more nudge closes it.
	if !p.shutdown.Load() && p.hasPendingWork() {
		p.maybeSchedule()
	}
}

// findWork scans the live stages round-robin for one that is eligible
// (backlog and a spare permit) and claims a task from it.
func (p *SharedPool) findWork() (*StageExecutor, *Future) {
	stages := *p.stages.Load()
	n := len(stages)
	if n == 0 {
		return nil, nil
	}
	start := int(p.rr.Add(1))
	for i := 0; i < n; i++ {
		s := stages[(start+i)%n]
		if ft, ok := s.tryTake(); ok {
			return s, ft
		}
	}
	return nil, nil
}

// hasPendingWork reports whether any stage still has queued tasks.
func (p *SharedPool) hasPendingWork() bool {
	for _, s := range *p.stages.Load() {
		if s.queue.len() > 0 {
			return true
		}
	}
	return false
}

func (p *SharedPool) isShutdown() bool {
	return p.shutdown.Load()
}

// Shutdown stops the pool: every stage stops accepting work, queued tasks
// drain, parked workers are woken so they can drain and exit. Any task
// whose enqueue completed before Shutdown began is still executed. A
// Submit that passed its shutdown check but had not yet enqueued when its
// stage drained and detached may still return a Future whose task never
// runs.
func (p *SharedPool) Shutdown() {
	if p.shutdown.Swap(true) {
		return
	}
	logger().Debugf("pool %s (%s): shutting down", p.name, p.id)
	for _, s := range *p.stages.Load() {
		s.Shutdown()
	}
	p.descheduled.SignalAll()
	p.maybeTerminate()
}

// maybeTerminate latches pool termination once shut down, stage-free and
// worker-free.
func (p *SharedPool) maybeTerminate() {
	if !p.shutdown.Load() {
		return
	}
	if len(*p.stages.Load()) != 0 || p.workerCount.Load() != 0 {
		return
	}
	p.cancel()
	p.terminated.SignalAll()
}

// IsTerminated reports whether shutdown completed: all stages drained and
// all workers exited.
func (p *SharedPool) IsTerminated() bool {
	return p.terminated.IsSignalled()
}

// AwaitTermination blocks until the pool terminates or the timeout
// elapses. Reports whether termination was reached.
func (p *SharedPool) AwaitTermination(ctx context.Context, d time.Duration) (bool, error) {
	return p.terminated.AwaitTimeout(ctx, d)
}
