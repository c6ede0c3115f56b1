package concurrency

import (
	"context"
	"time"
)

// clockOrigin anchors the package monotonic clock. All absolute deadlines
// handed to AwaitUntil are nanoseconds on this clock.
var clockOrigin = time.Now()

// NanoTime returns the current reading of the package monotonic clock in
// nanoseconds. Values are only meaningful relative to other NanoTime
// readings within the same process.
func NanoTime() int64 {
	return int64(time.Since(clockOrigin))
}

// Parker is the suspension primitive a Signal uses to block and wake its
// owning goroutine. It carries a single wake permit: an Unpark delivered
// while the owner is not parked lets the next Park return immediately, so
// a wake racing with the decision to park is never lost.
//
// A Parker belongs to exactly one goroutine. The same Parker may back
// several Signals registered by that goroutine (see Any and All).
type Parker struct {
	wake chan struct{}
}

// NewParker creates a Parker with no pending permit.
func NewParker() *Parker {
	return &Parker{wake: make(chan struct{}, 1)}
}

// Unpark deposits the wake permit. Extra permits are discarded.
func (p *Parker) Unpark() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// park blocks until the permit is available and consumes it.
func (p *Parker) park() {
	<-p.wake
}

// parkCtx blocks until the permit arrives or ctx is done. Reports whether
// the permit was consumed.
func (p *Parker) parkCtx(ctx context.Context) bool {
	select {
	case <-p.wake:
		return true
	case <-ctx.Done():
		return false
	}
}

// parkUntil blocks until the permit arrives, ctx is done, or the monotonic
// deadline passes. Reports whether the permit was consumed.
func (p *Parker) parkUntil(ctx context.Context, untilNanos int64) bool {
	remaining := untilNanos - NanoTime()
	if remaining <= 0 {
		select {
		case <-p.wake:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(time.Duration(remaining))
	defer timer.Stop()
	select {
	case <-p.wake:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
