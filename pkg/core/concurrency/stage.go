package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// offerInterval bounds each wait of a backpressured submitter; the
// condition is re-checked on every expiry so a missed wake costs at most
// one interval.
const offerInterval = time.Second

// StageMetrics receives the blocked-submitter transitions of one stage.
// The gauges (active, pending, completed, max pool size) read the
// executor directly; see the observability package.
type StageMetrics interface {
	// IncBlocked records a submitter entering the blocked state.
	IncBlocked()
	// DecBlocked records a submitter leaving the blocked state.
	DecBlocked()
	// Release deregisters the stage's metrics.
	Release()
}

// StageExecutor is a named submission endpoint multiplexed over a
// SharedPool's workers. Each stage enforces its own concurrency cap
// (maxWorkers), its own backpressure bound (maxQueued), and FIFO dispatch
// of its queue.
//
// Create stages with SharedPool.NewExecutor.
type StageExecutor struct {
	name       string
	pool       *SharedPool
	maxWorkers int32
	maxQueued  int32

	queue taskQueue

	// active <= maxWorkers at all times; a worker (or an inline run) holds
	// one unit per executing task.
	active    atomic.Int32
	completed atomic.Int64

	totalBlocked   atomic.Int64
	currentBlocked atomic.Int64

	// hasRoom wakes submitters blocked on a full queue.
	hasRoom *WaitQueue

	shutdown   atomic.Bool
	terminated *OneShotCondition
	removeOnce sync.Once

	metrics StageMetrics
}

func newStageExecutor(pool *SharedPool, maxWorkers, maxQueued int, name string) *StageExecutor {
	return &StageExecutor{
		name:       name,
		pool:       pool,
		maxWorkers: int32(maxWorkers),
		maxQueued:  int32(maxQueued),
		hasRoom:    NewWaitQueue(),
		terminated: NewOneShotCondition(),
	}
}

// Name returns the stage name.
func (s *StageExecutor) Name() string { return s.name }

// Pool returns the pool whose workers serve this stage.
func (s *StageExecutor) Pool() *SharedPool { return s.pool }

// ActiveCount returns the number of tasks currently executing.
func (s *StageExecutor) ActiveCount() int { return int(s.active.Load()) }

// CompletedCount returns the number of tasks that finished executing.
func (s *StageExecutor) CompletedCount() int64 { return s.completed.Load() }

// PendingTasks returns the number of queued, not yet dispatched tasks.
func (s *StageExecutor) PendingTasks() int { return s.queue.len() }

// MaxPoolSize returns the stage's concurrency cap.
func (s *StageExecutor) MaxPoolSize() int { return int(s.maxWorkers) }

// TotalBlockedTasks returns the cumulative count of submissions that
// blocked on a full queue.
func (s *StageExecutor) TotalBlockedTasks() int64 { return s.totalBlocked.Load() }

// CurrentlyBlockedTasks returns the number of submitters blocked right now.
func (s *StageExecutor) CurrentlyBlockedTasks() int64 { return s.currentBlocked.Load() }

// IsShutdown reports whether the stage stopped accepting work.
func (s *StageExecutor) IsShutdown() bool { return s.shutdown.Load() }

// IsTerminated reports whether the stage shut down and fully drained.
func (s *StageExecutor) IsTerminated() bool { return s.terminated.IsSignalled() }

// Submit enqueues a task and returns its completion Future. If the
// stage's queue is over maxQueued the caller blocks until the backlog
// drains back to maxQueued; with maxQueued of zero every submit blocks
// until a worker picks the task up. A Submit that returned nil before
// Shutdown began is always executed; a submitter still blocked when the
// stage shuts down withdraws its task and fails with ErrRejected.
func (s *StageExecutor) Submit(task Task) (*Future, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if s.shutdown.Load() {
		return nil, ErrRejected
	}
	ft := newFuture(task)
	queued := s.queue.push(ft)
	s.pool.maybeSchedule()
	if queued > int(s.maxQueued) {
		if err := s.blockUntilRoom(ft); err != nil {
			return nil, err
		}
	}
	return ft, nil
}

// Execute enqueues a task, discarding the Future.
func (s *StageExecutor) Execute(task Task) error {
	_, err := s.Submit(task)
	return err
}

// MaybeExecuteImmediately runs the task inline on the calling goroutine
// when the stage has a spare concurrency unit, otherwise it submits as
// usual. Inline runs count against maxWorkers and in the completed count
// exactly like worker runs.
func (s *StageExecutor) MaybeExecuteImmediately(task Task) (*Future, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if s.shutdown.Load() {
		return nil, ErrRejected
	}
	if !s.takeWorkPermit() {
		return s.Submit(task)
	}
	ft := newFuture(task)
	ft.run(s.pool.ctx)
	s.taskDone()
	return ft, nil
}

// blockUntilRoom parks the submitter in bounded slices until the backlog
// drops to maxQueued, re-checking for shutdown on every wake. If the
// stage shuts down first, the submitter withdraws its own task and fails;
// when a worker beat it to the task, the submission counts as accepted.
func (s *StageExecutor) blockUntilRoom(ft *Future) error {
	s.onInitialRejection()
	for {
		if s.shutdown.Load() {
			if s.queue.remove(ft) {
				s.onFinalRejection()
				s.maybeTerminate()
				return ErrRejected
			}
			s.onFinalAccept()
			return nil
		}
		if s.queue.len() <= int(s.maxQueued) {
			s.onFinalAccept()
			return nil
		}
		sig := s.hasRoom.Register()
		if s.queue.len() > int(s.maxQueued) && !s.shutdown.Load() {
			sig.AwaitUntil(context.Background(), NanoTime()+int64(offerInterval))
		} else {
			sig.Cancel()
		}
	}
}

// onInitialRejection records a submitter entering the blocked state.
func (s *StageExecutor) onInitialRejection() {
	s.totalBlocked.Add(1)
	s.currentBlocked.Add(1)
	if s.metrics != nil {
		s.metrics.IncBlocked()
	}
}

// onFinalAccept records a blocked submitter whose task was accepted.
func (s *StageExecutor) onFinalAccept() {
	s.currentBlocked.Add(-1)
	if s.metrics != nil {
		s.metrics.DecBlocked()
	}
}

// onFinalRejection records a blocked submitter whose task was refused.
func (s *StageExecutor) onFinalRejection() {
	s.currentBlocked.Add(-1)
	if s.metrics != nil {
		s.metrics.DecBlocked()
	}
}

// takeWorkPermit reserves one unit of the stage's concurrency cap.
func (s *StageExecutor) takeWorkPermit() bool {
	for {
		n := s.active.Load()
		if n >= s.maxWorkers {
			return false
		}
		if s.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// tryTake reserves a permit and dequeues the next task. Eligibility is
// pending > 0 and active < maxWorkers; if the dequeue loses the race for
// the last task, the permit is released again.
func (s *StageExecutor) tryTake() (*Future, bool) {
	if s.queue.len() == 0 {
		return nil, false
	}
	if !s.takeWorkPermit() {
		return nil, false
	}
	ft, remaining, ok := s.queue.pop()
	if !ok {
		s.active.Add(-1)
		s.maybeTerminate()
		return nil, false
	}
	// Crossing back to the bound frees every blocked submitter to
	// re-check; stragglers re-block for at most one offer interval.
	if int32(remaining) == s.maxQueued {
		s.hasRoom.SignalAll()
	} else if remaining < int(s.maxQueued) {
		s.hasRoom.Signal()
	}
	return ft, true
}

// taskDone retires one executing task: bumps completed, releases the
// permit, and re-nudges the pool when backlog remains.
func (s *StageExecutor) taskDone() {
	s.completed.Add(1)
	s.active.Add(-1)
	if s.queue.len() > 0 {
		s.pool.maybeSchedule()
	}
	s.maybeTerminate()
}

// Shutdown stops the stage from accepting new work. Tasks already queued
// continue to drain; once the stage is idle it detaches from the pool and
// releases its metrics.
func (s *StageExecutor) Shutdown() {
	if s.shutdown.Swap(true) {
		return
	}
	// Unblock submitters waiting for room so they can withdraw.
	s.hasRoom.SignalAll()
	// Make sure someone drains a backlog even if all workers are parked.
	if s.queue.len() > 0 {
		s.pool.maybeSchedule()
	}
	s.maybeTerminate()
}

// maybeTerminate latches termination once the stage is shut down and
// fully drained.
func (s *StageExecutor) maybeTerminate() {
	if !s.shutdown.Load() || s.queue.len() != 0 || s.active.Load() != 0 {
		return
	}
	s.removeOnce.Do(func() {
		s.pool.removeExecutor(s)
		if s.metrics != nil {
			s.metrics.Release()
		}
		s.terminated.SignalAll()
	})
}

// AwaitTermination blocks until the stage has shut down and drained, or
// the timeout elapses. Reports whether termination was reached.
func (s *StageExecutor) AwaitTermination(ctx context.Context, d time.Duration) (bool, error) {
	return s.terminated.AwaitTimeout(ctx, d)
}

// taskQueue is the stage's multi-producer multi-consumer FIFO: a ring
// buffer under a coarse lock, with a lock-free length for the hot
// emptiness checks in workers and submitters.
type taskQueue struct {
	mu    sync.Mutex
	buf   []*Future
	head  int
	count int
	size  atomic.Int32
}

// push appends and returns the queue length after the append.
func (q *taskQueue) push(ft *Future) int {
	q.mu.Lock()
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.count)%len(q.buf)] = ft
	q.count++
	n := q.count
	q.size.Store(int32(n))
	q.mu.Unlock()
	return n
}

// pop removes the head task, also returning the remaining length.
func (q *taskQueue) pop() (*Future, int, bool) {
	q.mu.Lock()
	if q.count == 0 {
		q.mu.Unlock()
		return nil, 0, false
	}
	ft := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	n := q.count
	q.size.Store(int32(n))
	q.mu.Unlock()
	return ft, n, true
}

func (q *taskQueue) len() int {
	return int(q.size.Load())
}

// remove withdraws a specific task, preserving the order of the rest.
// Reports whether the task was still queued.
func (q *taskQueue) remove(ft *Future) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < q.count; i++ {
		if q.buf[(q.head+i)%len(q.buf)] != ft {
			continue
		}
		for j := i; j < q.count-1; j++ {
			q.buf[(q.head+j)%len(q.buf)] = q.buf[(q.head+j+1)%len(q.buf)]
		}
		q.buf[(q.head+q.count-1)%len(q.buf)] = nil
		q.count--
		q.size.Store(int32(q.count))
		return true
	}
	return false
}

func (q *taskQueue) grow() {
	next := make([]*Future, max(len(q.buf)*2, 16))
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
