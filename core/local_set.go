package core

import (
	"context"
	"fmt"
	"sync/atomic"
)

// LocalSet is a set of tasks that all run on the goroutine driving it.
//
// Tasks spawned onto a LocalSet are polled only from inside BlockOn on that
// set, which pins the driving goroutine to its OS thread. A LocalSet is not
// safe for concurrent use: spawn onto it and drive it from one goroutine at
// a time. JoinHandles and the wakers handed to tasks are safe from anywhere.
//
// A LocalSet is a handle. Clone makes another handle to the same set; the
// set is torn down when the last handle is closed, which cancels every task
// that has not completed.
type LocalSet struct {
	sched  *Scheduler
	closed atomic.Bool
}

// NewLocalSet creates a LocalSet with the default configuration.
func NewLocalSet() *LocalSet {
	return NewLocalSetWithConfig(nil)
}

// NewLocalSetWithConfig creates a LocalSet. A nil config means defaults.
func NewLocalSetWithConfig(cfg *LocalSetConfig) *LocalSet {
	return &LocalSet{sched: newScheduler(cfg)}
}

func (ls *LocalSet) scheduler(op string) *Scheduler {
	if ls.closed.Load() {
		panic(fmt.Sprintf("core: %s on a closed LocalSet handle", op))
	}
	return ls.sched
}

// Scheduler exposes the set's scheduler, mainly for Tick-level control.
func (ls *LocalSet) Scheduler() *Scheduler { return ls.scheduler("Scheduler") }

// ID returns the set's unique identifier.
func (ls *LocalSet) ID() string { return ls.sched.ID() }

// Name returns the set's name.
func (ls *LocalSet) Name() string { return ls.sched.Name() }

// Stats returns a snapshot of the set.
func (ls *LocalSet) Stats() LocalSetStats { return ls.sched.Stats() }

// RecentTicks returns up to limit tick records, newest first.
func (ls *LocalSet) RecentTicks(limit int) []TickRecord { return ls.sched.RecentTicks(limit) }

// Clone returns another handle to the same set.
func (ls *LocalSet) Clone() *LocalSet {
	s := ls.scheduler("Clone")
	s.handles.Add(1)
	return &LocalSet{sched: s}
}

// Close releases this handle. Closing the last handle tears the set down:
// every task that has not completed is cancelled without being polled
// again, and its JoinHandle reports ErrCancelled. Closing a handle twice is
// a no-op.
//
// Close panics if it would tear down a set that is currently being driven.
// The handle then stays open, so a later Close can still tear the set down.
func (ls *LocalSet) Close() {
	if ls.closed.Swap(true) {
		return
	}
	if ls.sched.handles.Add(-1) != 0 {
		return
	}
	if ls.sched.IsDriving() {
		ls.sched.handles.Add(1)
		ls.closed.Store(false)
		panic(fmt.Sprintf("core: LocalSet %s torn down while it is being driven", ls.sched.name))
	}
	ls.sched.shutdown()
}

// Spawn spawns fut onto ls and returns its JoinHandle. Spawn may be called
// whether or not ls is being driven; the task is first polled by the next
// Tick.
//
// Spawning onto a set that has already been torn down (through another
// handle) returns a handle that reports ErrClosed.
func Spawn[T any](ls *LocalSet, fut Future[T]) *JoinHandle[T] {
	return spawnOn(ls.scheduler("Spawn"), fut)
}

// SpawnLocal spawns fut onto the LocalSet being driven in ctx.
//
// It panics with an error wrapping ErrNoActiveLocalSet when ctx does not
// belong to a live drive cycle, for example when called outside BlockOn or
// with a context that outlived its cycle.
func SpawnLocal[T any](ctx context.Context, fut Future[T]) *JoinHandle[T] {
	s := CurrentScheduler(ctx)
	if s == nil {
		panic(fmt.Errorf("core: SpawnLocal called outside of a LocalSet drive cycle: %w", ErrNoActiveLocalSet))
	}
	return spawnOn(s, fut)
}

func spawnOn[T any](s *Scheduler, fut Future[T]) *JoinHandle[T] {
	t, h := newTask(fut, s)
	if s.IsClosed() {
		s.rejected.Add(1)
		s.cfg.Metrics.RecordTaskRejected(s.name, "closed")
		s.cfg.RejectedTaskHandler.HandleRejectedTask(s.name, "closed")
		t.state.Store(stateCancelled)
		h.fail(fmt.Errorf("spawn %s on LocalSet %s: %w", t.id, s.name, ErrClosed))
		return h
	}
	if s.claim() {
		defer s.unclaim()
	}
	s.bind(t)
	s.schedule(t)
	return h
}

// BlockOn drives fut to completion on the calling goroutine using rt,
// running the tasks of ls alongside it, and returns fut's output.
//
// Each time rt polls, one Tick runs before fut is polled. The error is
// non-nil only if rt stopped driving before fut completed (for instance
// because ctx was cancelled); tasks still pending stay in ls and resume on
// the next BlockOn.
//
// BlockOn panics if ls is already being driven, or if it is called from
// inside a task polled by a host runtime.
func BlockOn[T any](ls *LocalSet, rt HostRuntime, ctx context.Context, fut Future[T]) (T, error) {
	s := ls.scheduler("BlockOn")
	if s.IsClosed() {
		var zero T
		return zero, fmt.Errorf("block on LocalSet %s: %w", s.name, ErrClosed)
	}

	var (
		out  T
		done bool
	)
	driver := Map[T, struct{}](newLocalFuture(s, fut), func(v T) struct{} {
		out = v
		done = true
		return struct{}{}
	})
	err := rt.Run(ctx, driver)
	s.setDriver(nil)
	if err == nil && !done {
		err = fmt.Errorf("block on LocalSet %s: host runtime returned before completion", s.name)
	}
	return out, err
}
