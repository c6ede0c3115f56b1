package concurrency

import (
	"context"
	"sync/atomic"
)

// Signal states. Transitions out of notSet happen at most once; the only
// later write is the owner downgrading signalled to cancelled while
// forwarding a wake it no longer wants.
const (
	stateCancelled int32 = -1
	stateNotSet    int32 = 0
	stateSignalled int32 = 1
)

// Signal is a one-time-use mechanism for a goroutine to wait for
// notification that some state it is interested in may have changed. It is
// transient: it indicates the state should be checked, not what the state
// is. Signals never wake spuriously; a wake always originates from a
// Signal() or SignalAll() on the owning WaitQueue.
//
// A Signal is owned by the goroutine that registered it and must only be
// used by that goroutine. Once IsSet reports true the state is fixed and
// the Signal should be discarded.
type Signal interface {
	// IsSignalled reports whether the signal fired. Once true, the owner
	// must retire the signal.
	IsSignalled() bool

	// IsCancelled reports whether the signal was cancelled.
	IsCancelled() bool

	// IsSet reports IsSignalled() || IsCancelled().
	IsSet() bool

	// CheckAndClear atomically cancels the signal if it is not set, or
	// returns true if it was signalled. A racing Signal() that wins leaves
	// CheckAndClear returning true.
	CheckAndClear() bool

	// Cancel retires the signal. If it had already fired, the wake is
	// forwarded to another waiter on the queue rather than swallowed.
	// Must only be called by the owning goroutine.
	Cancel()

	// Await blocks until signalled or ctx is done. On a ctx abort the
	// signal is cancelled and the ctx error returned; on nil return
	// IsSignalled() is true.
	Await(ctx context.Context) error

	// AwaitUntil blocks until signalled or the absolute monotonic deadline
	// (see NanoTime) passes, whichever is first. Returns true if
	// signalled, false on deadline (the signal is then cancelled). A ctx
	// abort cancels the signal and returns the ctx error.
	AwaitUntil(ctx context.Context, untilNanos int64) (bool, error)

	// AwaitUninterruptibly blocks until signalled, ignoring any
	// cancellation of the surrounding context.
	AwaitUninterruptibly()
}

// parkerOwner is implemented by signals that can tell which Parker their
// owning goroutine blocks on. Composite signals use it to verify all
// children share one Parker.
type parkerOwner interface {
	ownedParker() *Parker
}

// registeredSignal is a Signal registered with a WaitQueue.
type registeredSignal struct {
	q     *WaitQueue
	owner *Parker
	// unparker is the wake-side view of owner; cleared once the signal
	// reaches a terminal state so a retired entry pins nothing.
	unparker atomic.Pointer[Parker]
	state    atomic.Int32
}

func newRegisteredSignal(q *WaitQueue, p *Parker) *registeredSignal {
	s := &registeredSignal{q: q, owner: p}
	s.unparker.Store(p)
	return s
}

func (s *registeredSignal) IsSignalled() bool { return s.state.Load() == stateSignalled }
func (s *registeredSignal) IsCancelled() bool { return s.state.Load() == stateCancelled }
func (s *registeredSignal) IsSet() bool       { return s.state.Load() != stateNotSet }

func (s *registeredSignal) ownedParker() *Parker { return s.owner }

// doSignal attempts to fire the signal. On success the owner's Parker is
// unparked and returned; nil means the signal was already set or lost the
// transition race.
func (s *registeredSignal) doSignal() *Parker {
	if s.IsSet() {
		return nil
	}
	if s.state.CompareAndSwap(stateNotSet, stateSignalled) {
		p := s.unparker.Load()
		if p != nil {
			p.Unpark()
		}
		s.unparker.Store(nil)
		return p
	}
	return nil
}

func (s *registeredSignal) CheckAndClear() bool {
	if s.IsSet() {
		return s.IsSignalled()
	}
	if s.state.CompareAndSwap(stateNotSet, stateCancelled) {
		s.unparker.Store(nil)
		s.q.cleanUpCancelled()
		return false
	}
	// Lost the race to a signaller.
	return true
}

func (s *registeredSignal) Cancel() {
	if s.IsCancelled() {
		return
	}
	if !s.state.CompareAndSwap(stateNotSet, stateCancelled) {
		// Already signalled: downgrade and pass the wake on so it is not
		// lost to the remaining waiters.
		s.state.Store(stateCancelled)
		s.q.Signal()
	}
	s.unparker.Store(nil)
	s.q.cleanUpCancelled()
}

func (s *registeredSignal) Await(ctx context.Context) error {
	return awaitSignal(ctx, s, s.owner)
}

func (s *registeredSignal) AwaitUntil(ctx context.Context, untilNanos int64) (bool, error) {
	return awaitSignalUntil(ctx, s, s.owner, untilNanos)
}

func (s *registeredSignal) AwaitUninterruptibly() {
	awaitSignalUninterruptibly(s, s.owner)
}

// awaitSignal is the shared blocking loop: park until signalled, aborting
// with a cancelled signal when ctx is done.
func awaitSignal(ctx context.Context, s Signal, p *Parker) error {
	for !s.IsSignalled() {
		if err := ctx.Err(); err != nil {
			s.Cancel()
			return err
		}
		p.parkCtx(ctx)
	}
	s.CheckAndClear()
	return nil
}

func awaitSignalUntil(ctx context.Context, s Signal, p *Parker, untilNanos int64) (bool, error) {
	for untilNanos > NanoTime() && !s.IsSignalled() {
		if err := ctx.Err(); err != nil {
			s.Cancel()
			return false, err
		}
		p.parkUntil(ctx, untilNanos)
	}
	return s.CheckAndClear(), nil
}

func awaitSignalUninterruptibly(s Signal, p *Parker) {
	for !s.IsSignalled() {
		p.park()
	}
	s.CheckAndClear()
}
