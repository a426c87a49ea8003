package core

import (
	"context"
	"fmt"
	"sync/atomic"
)

// LocalThread owns a LocalSet driven by a dedicated goroutine locked to its
// OS thread. Unlike a bare LocalSet, tasks may be spawned onto it from any
// goroutine; they are handed over to the dedicated goroutine and only ever
// polled there.
//
// Use cases:
// 1. Libraries with thread-local state (cgo, some GUI and GL bindings)
// 2. State that should be touched by one goroutine only, without locks
type LocalThread struct {
	ls   *LocalSet
	host *CurrentThread

	handoff  *FIFOQueue[*rawTask]
	waker    atomic.Pointer[wakerBox]
	stopping atomic.Bool
	stopped  chan struct{}
	err      error
}

// NewLocalThread creates and starts a LocalThread. A nil config means defaults.
func NewLocalThread(cfg *LocalSetConfig) *LocalThread {
	lt := &LocalThread{
		ls:      NewLocalSetWithConfig(cfg),
		host:    NewCurrentThread(),
		handoff: NewFIFOQueue[*rawTask](),
		stopped: make(chan struct{}),
	}

	go lt.runLoop()

	return lt
}

// Name returns the name of the underlying LocalSet.
func (lt *LocalThread) Name() string { return lt.ls.Name() }

// Stats returns a snapshot of the underlying LocalSet.
func (lt *LocalThread) Stats() LocalSetStats { return lt.ls.Stats() }

func (lt *LocalThread) runLoop() {
	defer close(lt.stopped)
	defer lt.host.Shutdown()
	// Runs after BlockOn returned, so the set is no longer being driven.
	defer lt.ls.Close()

	_, lt.err = BlockOn(lt.ls, lt.host, context.Background(), FutureFunc[struct{}](lt.pollHandoff))
}

// pollHandoff is the main future of the dedicated goroutine: it moves
// handed-over tasks into the set until Shutdown.
func (lt *LocalThread) pollHandoff(cx *PollContext) (struct{}, bool) {
	// Publish the waker before draining so that a task handed over after
	// the drain wakes us.
	lt.waker.Store(&wakerBox{w: cx.Waker()})

	s := CurrentScheduler(cx.Context())
	for _, t := range lt.handoff.PopAll() {
		s.bind(t)
		s.schedule(t)
	}

	if lt.stopping.Load() {
		return struct{}{}, true
	}
	return struct{}{}, false
}

func (lt *LocalThread) wake() {
	if b := lt.waker.Load(); b != nil {
		b.w.Wake()
	}
}

// SpawnPinned hands fut over to lt's dedicated goroutine and returns its
// JoinHandle. fut is never polled on the calling goroutine; build any
// thread-bound state inside it (for example with Lazy).
//
// After Shutdown the handle reports ErrClosed.
func SpawnPinned[T any](lt *LocalThread, fut Future[T]) *JoinHandle[T] {
	t, h := newTask(fut, lt.ls.sched)
	if lt.stopping.Load() || !lt.handoff.Push(t) {
		t.terminate(fmt.Errorf("spawn %s on %s: %w", t.id, lt.Name(), ErrClosed))
		return h
	}
	lt.wake()
	return h
}

// Shutdown stops the dedicated goroutine. Tasks that have not completed are
// cancelled, and tasks handed over but not yet started report ErrClosed.
// Shutdown does not wait; use Done or Wait for that.
func (lt *LocalThread) Shutdown() {
	if lt.stopping.Swap(true) {
		return
	}
	for _, t := range lt.handoff.Close() {
		t.terminate(fmt.Errorf("spawn %s on %s: %w", t.id, lt.Name(), ErrClosed))
	}
	lt.wake()
}

// Done returns a channel closed once the dedicated goroutine has exited.
func (lt *LocalThread) Done() <-chan struct{} { return lt.stopped }

// Wait blocks until the dedicated goroutine has exited or ctx is done.
func (lt *LocalThread) Wait(ctx context.Context) error {
	select {
	case <-lt.stopped:
		return lt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
