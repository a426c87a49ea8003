package core

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
)

// =============================================================================
// Active scheduler lookup
// =============================================================================

type activeSchedulerKeyType struct{}

var activeSchedulerKey activeSchedulerKeyType

// activation marks one drive cycle of a Scheduler. It lives in the
// context.Context handed to everything polled during the cycle and goes
// dead when the cycle ends, so contexts that leak out of the cycle no
// longer resolve to the scheduler.
type activation struct {
	sched *Scheduler
	live  atomic.Bool
}

func activeFrom(ctx context.Context) *activation {
	if ctx == nil {
		return nil
	}
	act, _ := ctx.Value(activeSchedulerKey).(*activation)
	if act == nil || !act.live.Load() {
		return nil
	}
	return act
}

// CurrentScheduler returns the Scheduler being driven in ctx, or nil.
func CurrentScheduler(ctx context.Context) *Scheduler {
	if act := activeFrom(ctx); act != nil {
		return act.sched
	}
	return nil
}

// IsActive reports whether ctx belongs to a live drive cycle of s.
func (s *Scheduler) IsActive(ctx context.Context) bool {
	act := activeFrom(ctx)
	return act != nil && act.sched == s
}

// Enter runs f with s activated. The context passed to f resolves to s
// through CurrentScheduler and SpawnLocal until f returns or panics.
//
// The calling goroutine is locked to its OS thread for the duration, and
// only one goroutine may be inside Enter for a given scheduler at a time:
// a second, concurrent Enter panics.
func (s *Scheduler) Enter(ctx context.Context, f func(ctx context.Context)) {
	if !s.driving.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("core: LocalSet %s is already being driven or spawned onto", s.Name()))
	}

	runtime.LockOSThread()
	act := &activation{sched: s}
	act.live.Store(true)
	s.ownerThread.Store(currentThreadID())

	defer func() {
		act.live.Store(false)
		s.ownerThread.Store(0)
		runtime.UnlockOSThread()
		s.driving.Store(false)
	}()

	f(context.WithValue(ctx, activeSchedulerKey, act))
}

// IsDriving reports whether some goroutine is inside Enter for s, or is
// spawning onto it from outside a drive cycle.
func (s *Scheduler) IsDriving() bool {
	return s.driving.Load()
}

// assertOwner panics if s is owned by a different OS thread than the
// caller's, either through a drive cycle or through a claim.
func (s *Scheduler) assertOwner(op string) {
	owner := s.ownerThread.Load()
	if owner == 0 {
		return
	}
	if tid := currentThreadID(); tid != 0 && tid != owner {
		panic(fmt.Sprintf("core: %s on LocalSet %s from thread %d while thread %d owns it", op, s.Name(), tid, owner))
	}
}

// claim makes the caller the owner of s for a spawn made outside any drive
// cycle, so that an Enter or a spawn racing it from another goroutine
// panics instead of corrupting the registry. It reports false if s already
// has an owner; release with unclaim.
func (s *Scheduler) claim() bool {
	if !s.driving.CompareAndSwap(false, true) {
		return false
	}
	runtime.LockOSThread()
	s.ownerThread.Store(currentThreadID())
	return true
}

func (s *Scheduler) unclaim() {
	s.ownerThread.Store(0)
	runtime.UnlockOSThread()
	s.driving.Store(false)
}
