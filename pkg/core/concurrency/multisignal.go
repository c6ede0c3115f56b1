package concurrency

import (
	"context"

	"github.com/stagepool/stagepool/pkg/core/failfast"
)

// multiSignal wraps several child signals registered by one goroutine. It
// holds no queue entry of its own: parking and waking go through the
// children's shared Parker.
type multiSignal struct {
	signals []Signal
	p       *Parker
}

func newMultiSignal(signals []Signal) multiSignal {
	failfast.If(len(signals) > 0, "composite signal needs at least one child")
	var p *Parker
	for _, s := range signals {
		owner, ok := s.(parkerOwner)
		failfast.If(ok, "composite signal children must be registered signals")
		if p == nil {
			p = owner.ownedParker()
		}
		failfast.If(p == owner.ownedParker(), "composite signal children must share one Parker; use RegisterWith")
	}
	return multiSignal{signals: signals, p: p}
}

func (m *multiSignal) IsCancelled() bool {
	for _, s := range m.signals {
		if !s.IsCancelled() {
			return false
		}
	}
	return true
}

func (m *multiSignal) CheckAndClear(self Signal) bool {
	for _, s := range m.signals {
		s.CheckAndClear()
	}
	return self.IsSignalled()
}

func (m *multiSignal) Cancel() {
	for _, s := range m.signals {
		s.Cancel()
	}
}

// anySignal fires when any child fires.
type anySignal struct {
	multiSignal
}

// Any composes signals into one that returns as soon as any child would
// have. All children must have been registered by the calling goroutine
// with the same Parker.
func Any(signals ...Signal) Signal {
	return &anySignal{newMultiSignal(signals)}
}

func (s *anySignal) IsSignalled() bool {
	for _, c := range s.signals {
		if c.IsSignalled() {
			return true
		}
	}
	return false
}

func (s *anySignal) IsSet() bool {
	for _, c := range s.signals {
		if c.IsSet() {
			return true
		}
	}
	return false
}

func (s *anySignal) CheckAndClear() bool { return s.multiSignal.CheckAndClear(s) }
func (s *anySignal) ownedParker() *Parker { return s.p }

func (s *anySignal) Await(ctx context.Context) error { return awaitSignal(ctx, s, s.p) }

func (s *anySignal) AwaitUntil(ctx context.Context, untilNanos int64) (bool, error) {
	return awaitSignalUntil(ctx, s, s.p, untilNanos)
}

func (s *anySignal) AwaitUninterruptibly() { awaitSignalUninterruptibly(s, s.p) }

// allSignal fires only when every child has fired.
type allSignal struct {
	multiSignal
}

// All composes signals into one that returns only when every child would
// have. All children must have been registered by the calling goroutine
// with the same Parker.
func All(signals ...Signal) Signal {
	return &allSignal{newMultiSignal(signals)}
}

func (s *allSignal) IsSignalled() bool {
	for _, c := range s.signals {
		if !c.IsSignalled() {
			return false
		}
	}
	return true
}

func (s *allSignal) IsSet() bool {
	for _, c := range s.signals {
		if !c.IsSet() {
			return false
		}
	}
	return true
}

func (s *allSignal) CheckAndClear() bool { return s.multiSignal.CheckAndClear(s) }
func (s *allSignal) ownedParker() *Parker { return s.p }

func (s *allSignal) Await(ctx context.Context) error { return awaitSignal(ctx, s, s.p) }

func (s *allSignal) AwaitUntil(ctx context.Context, untilNanos int64) (bool, error) {
	return awaitSignalUntil(ctx, s, s.p, untilNanos)
}

func (s *allSignal) AwaitUninterruptibly() { awaitSignalUninterruptibly(s, s.p) }
