package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitQueue_SignalEmpty(t *testing.T) {
	q := NewWaitQueue()
	if q.Signal() {
		t.Error("Signal() on an empty queue should return false")
	}
	if q.HasWaiters() {
		t.Error("empty queue should have no waiters")
	}
}

func TestWaitQueue_SignalWakesOneWaiter(t *testing.T) {
	q := NewWaitQueue()
	s1 := q.Register()
	s2 := q.Register()

	if !q.Signal() {
		t.Fatal("Signal() should report a woken waiter")
	}
	if !s1.IsSignalled() {
		t.Error("first registered signal should be the one woken")
	}
	if s2.IsSet() {
		t.Error("second signal should still be unset")
	}
}

func TestWaitQueue_SignalSkipsTerminalEntries(t *testing.T) {
	q := NewWaitQueue()
	s1 := q.Register()
	s2 := q.Register()
	s1.Cancel()

	if !q.Signal() {
		t.Fatal("Signal() should skip the cancelled head and wake the next waiter")
	}
	if !s2.IsSignalled() {
		t.Error("second signal should be signalled")
	}
}

func TestWaitQueue_Waiting(t *testing.T) {
	q := NewWaitQueue()
	s1 := q.Register()
	q.Register()
	q.Register()
	if got := q.Waiting(); got != 3 {
		t.Errorf("Waiting() = %d, want 3", got)
	}
	s1.Cancel()
	if got := q.Waiting(); got > 2 {
		t.Errorf("Waiting() = %d after cancel, want at most 2", got)
	}
}

func TestWaitQueue_BroadcastWakesAll(t *testing.T) {
	const waiters = 100
	q := NewWaitQueue()

	var registered sync.WaitGroup
	var woken atomic.Int32
	var done sync.WaitGroup
	registered.Add(waiters)
	done.Add(waiters)

	for i := 0; i < waiters; i++ {
		go func() {
			defer done.Done()
			s := q.Register()
			registered.Done()
			s.AwaitUninterruptibly()
			if s.IsSignalled() {
				woken.Add(1)
			}
		}()
	}

	registered.Wait()
	q.SignalAll()
	done.Wait()

	if got := woken.Load(); got != waiters {
		t.Errorf("woken = %d, want %d", got, waiters)
	}
	if q.HasWaiters() {
		t.Error("queue should be empty after SignalAll")
	}
}

func TestSignal_CancelForwardsWake(t *testing.T) {
	q := NewWaitQueue()
	w1 := q.Register()
	w2 := q.Register()

	if !q.Signal() {
		t.Fatal("Signal() should wake w1")
	}
	if !w1.IsSignalled() {
		t.Fatal("w1 should hold the wake")
	}

	// w1 retires without consuming the wake; it must pass it on.
	w1.Cancel()

	if !w1.IsCancelled() {
		t.Error("w1 should be cancelled after Cancel")
	}
	if !w2.IsSignalled() {
		t.Error("the wake should have been forwarded to w2")
	}
}

func TestSignal_CheckAndClear(t *testing.T) {
	t.Run("on a signalled signal", func(t *testing.T) {
		q := NewWaitQueue()
		s := q.Register()
		q.Signal()
		if !s.CheckAndClear() {
			t.Error("CheckAndClear() on a signalled signal should return true")
		}
		if !s.IsSignalled() {
			t.Error("signal should remain signalled")
		}
	})

	t.Run("on an unset signal", func(t *testing.T) {
		q := NewWaitQueue()
		s := q.Register()
		if s.CheckAndClear() {
			t.Error("CheckAndClear() on an unset signal should return false")
		}
		if !s.IsCancelled() {
			t.Error("signal should be cancelled")
		}
	})
}

func TestSignal_CancelIsIdempotent(t *testing.T) {
	q := NewWaitQueue()
	s := q.Register()
	s.Cancel()
	s.Cancel()
	if !s.IsCancelled() {
		t.Error("signal should stay cancelled")
	}
	if q.Waiting() != 0 {
		t.Errorf("Waiting() = %d, want 0 after cancel sweep", q.Waiting())
	}
}

func TestSignal_AwaitReturnsWhenSignalled(t *testing.T) {
	q := NewWaitQueue()
	done := make(chan error, 1)
	ready := make(chan Signal, 1)
	go func() {
		s := q.Register()
		ready <- s
		done <- s.Await(context.Background())
	}()
	<-ready

	// Give the waiter a moment to park, then wake it.
	time.Sleep(10 * time.Millisecond)
	if !q.Signal() {
		t.Fatal("Signal() should find the parked waiter")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Await() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await() did not return after Signal()")
	}
}

func TestSignal_AwaitContextCancel(t *testing.T) {
	q := NewWaitQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var sig Signal
	ready := make(chan struct{})
	go func() {
		sig = q.Register()
		close(ready)
		done <- sig.Await(ctx)
	}()
	<-ready
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Await() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await() did not return after context cancellation")
	}
	if !sig.IsCancelled() {
		t.Error("an aborted wait must leave the signal cancelled")
	}
}

func TestSignal_AwaitUntilDeadline(t *testing.T) {
	t.Run("deadline in the past", func(t *testing.T) {
		q := NewWaitQueue()
		s := q.Register()
		ok, err := s.AwaitUntil(context.Background(), NanoTime()-1)
		if err != nil {
			t.Fatalf("AwaitUntil() error = %v", err)
		}
		if ok {
			t.Error("AwaitUntil() with a past deadline should not report signalled")
		}
		if !s.IsCancelled() {
			t.Error("a timed-out signal should be cancelled")
		}
	})

	t.Run("signalled before deadline", func(t *testing.T) {
		q := NewWaitQueue()
		result := make(chan bool, 1)
		ready := make(chan struct{})
		go func() {
			s := q.Register()
			close(ready)
			ok, _ := s.AwaitUntil(context.Background(), NanoTime()+int64(5*time.Second))
			result <- ok
		}()
		<-ready
		time.Sleep(10 * time.Millisecond)
		q.Signal()
		select {
		case ok := <-result:
			if !ok {
				t.Error("AwaitUntil() should report signalled")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("AwaitUntil() did not return")
		}
	})

	t.Run("deadline expires", func(t *testing.T) {
		q := NewWaitQueue()
		s := q.Register()
		start := time.Now()
		ok, err := s.AwaitUntil(context.Background(), NanoTime()+int64(50*time.Millisecond))
		if err != nil {
			t.Fatalf("AwaitUntil() error = %v", err)
		}
		if ok {
			t.Error("AwaitUntil() should time out")
		}
		if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
			t.Errorf("AwaitUntil() returned after %v, expected to wait out the deadline", elapsed)
		}
	})
}

func TestAnySignal(t *testing.T) {
	q1 := NewWaitQueue()
	q2 := NewWaitQueue()
	p := NewParker()
	s1 := q1.RegisterWith(p)
	s2 := q2.RegisterWith(p)
	any := Any(s1, s2)

	if any.IsSet() {
		t.Fatal("composite should start unset")
	}
	q2.Signal()
	if !any.IsSignalled() {
		t.Error("Any should be signalled when one child is")
	}
	if !any.CheckAndClear() {
		t.Error("CheckAndClear should report signalled")
	}
	// Clearing cancels the untouched child.
	if !s1.IsCancelled() {
		t.Error("CheckAndClear should retire the unsignalled child")
	}
}

func TestAllSignal(t *testing.T) {
	q1 := NewWaitQueue()
	q2 := NewWaitQueue()
	p := NewParker()
	s1 := q1.RegisterWith(p)
	s2 := q2.RegisterWith(p)
	all := All(s1, s2)

	q1.Signal()
	if all.IsSignalled() {
		t.Error("All should not be signalled with one child pending")
	}
	q2.Signal()
	if !all.IsSignalled() {
		t.Error("All should be signalled once every child is")
	}
	if !s1.IsSignalled() || !s2.IsSignalled() {
		t.Error("both children should be signalled")
	}
}

func TestAnySignal_AwaitWakesThroughSharedParker(t *testing.T) {
	q1 := NewWaitQueue()
	q2 := NewWaitQueue()
	done := make(chan struct{})
	ready := make(chan struct{})
	go func() {
		p := NewParker()
		s1 := q1.RegisterWith(p)
		s2 := q2.RegisterWith(p)
		any := Any(s1, s2)
		close(ready)
		any.AwaitUninterruptibly()
		close(done)
	}()
	<-ready
	time.Sleep(10 * time.Millisecond)
	q2.Signal()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Any.Await did not return after a child was signalled")
	}
}

func TestWaitQueue_ConcurrentRegisterAndSignal(t *testing.T) {
	q := NewWaitQueue()
	const rounds = 200
	var woken atomic.Int32
	var done sync.WaitGroup
	done.Add(rounds)
	for i := 0; i < rounds; i++ {
		go func() {
			defer done.Done()
			s := q.Register()
			if ok, _ := s.AwaitUntil(context.Background(), NanoTime()+int64(5*time.Second)); ok {
				woken.Add(1)
			}
		}()
	}
	// Wake them one at a time from several goroutines.
	var signallers sync.WaitGroup
	for g := 0; g < 4; g++ {
		signallers.Add(1)
		go func() {
			defer signallers.Done()
			for woken.Load() < rounds {
				q.Signal()
				time.Sleep(time.Millisecond)
			}
		}()
	}
	done.Wait()
	signallers.Wait()
	if woken.Load() != rounds {
		t.Errorf("woken = %d, want %d", woken.Load(), rounds)
	}
}
