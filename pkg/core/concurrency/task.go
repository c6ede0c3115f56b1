package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Task represents a unit of work that can be executed
// This abstraction hides goroutine creation and channel operations
type Task interface {
	// Execute performs the task work
	// ctx provides cancellation and timeout support
	Execute(ctx context.Context) error

	// Name returns a human-readable name for the task (for logging/debugging)
	Name() string
}

// TaskFunc is a function type that implements Task
// Allows functions to be used as tasks without creating a struct
type TaskFunc func(ctx context.Context) error

// Execute implements Task interface for TaskFunc
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Name returns a default name for TaskFunc
func (f TaskFunc) Name() string {
	return "TaskFunc"
}

// NamedTask wraps a TaskFunc with a custom name
type NamedTask struct {
	name string
	task TaskFunc
}

// NewNamedTask creates a new NamedTask
func NewNamedTask(name string, task TaskFunc) *NamedTask {
	return &NamedTask{
		name: name,
		task: task,
	}
}

// Execute implements Task interface
func (nt *NamedTask) Execute(ctx context.Context) error {
	return nt.task(ctx)
}

// Name returns the task name
func (nt *NamedTask) Name() string {
	return nt.name
}

// UncaughtHandler receives errors (including recovered panics) escaping
// task execution. Stage workers never let a task failure take the worker
// down; the failure is routed here, or logged when no handler is set.
type UncaughtHandler func(err error)

type uncaughtBox struct {
	h UncaughtHandler
}

var uncaughtHandler atomic.Value // uncaughtBox

// SetUncaughtHandler installs the process-wide handler for task failures.
// A nil handler restores the default log-only behavior.
func SetUncaughtHandler(h UncaughtHandler) {
	uncaughtHandler.Store(uncaughtBox{h})
}

// handleOrLog forwards err to the uncaught handler, or logs it if none is
// installed.
func handleOrLog(taskName string, err error) {
	box, _ := uncaughtHandler.Load().(uncaughtBox)
	if box.h != nil {
		box.h(err)
		return
	}
	logger().Errorf("task %s failed: %v", taskName, err)
}

// fatalInspector is invoked with every task failure so that unstable
// process conditions (out of memory, file-handle exhaustion) can trigger
// diagnostics and termination. Wired by the stability package.
type inspectorBox struct {
	f func(error)
}

var fatalInspector atomic.Value // inspectorBox

// SetFatalInspector installs the collaborator consulted on task failures.
func SetFatalInspector(f func(error)) {
	fatalInspector.Store(inspectorBox{f})
}

func inspectFailure(err error) {
	box, _ := fatalInspector.Load().(inspectorBox)
	if box.f != nil {
		box.f(err)
	}
}

// Future is the completion handle of a submitted task: a one-shot latch
// plus the captured failure, if any. A panic inside the task is recovered
// and surfaces here as an error rather than unwinding the worker.
type Future struct {
	task Task
	done *OneShotCondition
	err  error
}

func newFuture(task Task) *Future {
	return &Future{task: task, done: NewOneShotCondition()}
}

// Done reports whether the task has finished.
func (f *Future) Done() bool {
	return f.done.IsSignalled()
}

// Wait blocks until the task completes and returns its failure, if any.
func (f *Future) Wait(ctx context.Context) error {
	if err := f.done.Await(ctx); err != nil {
		return err
	}
	return f.err
}

// WaitTimeout blocks up to d for completion. The bool reports whether the
// task finished; when true the error is the task's failure, if any.
func (f *Future) WaitTimeout(ctx context.Context, d time.Duration) (bool, error) {
	ok, err := f.done.AwaitTimeout(ctx, d)
	if err != nil || !ok {
		return false, err
	}
	return true, f.err
}

// run executes the wrapped task, capturing its failure and completing the
// latch. The capture happens-before the latch fires, so any Wait observes
// the final error.
func (f *Future) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			f.err = fmt.Errorf("task %s panicked: %v", f.task.Name(), r)
		}
		if f.err != nil {
			handleOrLog(f.task.Name(), f.err)
			inspectFailure(f.err)
		}
		f.done.SignalAll()
	}()
	f.err = f.task.Execute(ctx)
}
