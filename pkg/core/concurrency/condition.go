package concurrency

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/stagepool/stagepool/pkg/core/failfast"
)

// OneShotCondition is a latching condition with no spurious wakeups and no
// lost notifies: an Await that starts after (or races with) SignalAll
// still returns. Once signalled it stays signalled; SignalAll is
// idempotent and Signal is not supported.
type OneShotCondition struct {
	signalled atomic.Bool
	waiting   atomic.Pointer[WaitQueue]
}

// NewOneShotCondition creates an unsignalled condition.
func NewOneShotCondition() *OneShotCondition {
	return &OneShotCondition{}
}

// IsSignalled reports whether SignalAll has been called.
func (c *OneShotCondition) IsSignalled() bool {
	return c.signalled.Load()
}

// SignalAll latches the condition and wakes all present waiters. Future
// waiters return immediately.
func (c *OneShotCondition) SignalAll() {
	c.signalled.Store(true)
	if q := c.waiting.Load(); q != nil {
		q.SignalAll()
	}
}

// Signal is not supported: a one-shot condition wakes everyone or no one.
func (c *OneShotCondition) Signal() {
	failfast.Unsupported("OneShotCondition.Signal")
}

// queue returns the wait queue, creating it on first use. A lost CAS just
// discards the duplicate allocation.
func (c *OneShotCondition) queue() *WaitQueue {
	if q := c.waiting.Load(); q != nil {
		return q
	}
	c.waiting.CompareAndSwap(nil, NewWaitQueue())
	return c.waiting.Load()
}

// Await blocks until the condition is signalled or ctx is done.
func (c *OneShotCondition) Await(ctx context.Context) error {
	if c.IsSignalled() {
		return nil
	}
	s := c.queue().Register()
	// Re-check after registering: SignalAll may have walked the queue
	// between the first check and the register.
	if c.IsSignalled() {
		s.Cancel()
		return nil
	}
	return s.Await(ctx)
}

// AwaitTimeout blocks up to d for the condition to be signalled. Returns
// true if it was, false on timeout; a ctx abort returns the ctx error.
func (c *OneShotCondition) AwaitTimeout(ctx context.Context, d time.Duration) (bool, error) {
	if c.IsSignalled() {
		return true, nil
	}
	until := NanoTime() + int64(d)
	s := c.queue().Register()
	if c.IsSignalled() {
		s.Cancel()
		return true, nil
	}
	ok, err := s.AwaitUntil(ctx, until)
	if err != nil {
		return false, err
	}
	return ok || c.IsSignalled(), nil
}
