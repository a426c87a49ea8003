package core

import (
	"container/list"
	"context"
	"strconv"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
)

// Task is a plain closure executed by a runtime worker.
type Task func(ctx context.Context)

// =============================================================================
// TaskID
// =============================================================================

// TaskID identifies a spawned task. IDs are unique within the process.
type TaskID uint64

var lastTaskID atomic.Uint64

// GenerateTaskID returns a new, non-zero TaskID.
func GenerateTaskID() TaskID {
	return TaskID(lastTaskID.Add(1))
}

// IsZero reports whether id is the zero value.
func (id TaskID) IsZero() bool { return id == 0 }

func (id TaskID) String() string {
	return "task-" + strconv.FormatUint(uint64(id), 10)
}

// =============================================================================
// Binding protocol
// =============================================================================

// taskScheduler is what a task needs from whoever schedules it.
// The local Scheduler and the SharedScheduler implement it.
type taskScheduler interface {
	// bind registers a new task. Called once, before the first poll.
	bind(t *rawTask)
	// schedule appends t to the run queue from the scheduler's own goroutine.
	schedule(t *rawTask)
	// notify schedules t from a waker, which may run on any goroutine.
	notify(t *rawTask)
	// releaseLocal unregisters t after it finished on the scheduler's goroutine.
	releaseLocal(t *rawTask)
	// release unregisters t after it finished somewhere else.
	release(t *rawTask)
}

// =============================================================================
// rawTask: type-erased task header
// =============================================================================

const (
	stateNotified uint32 = 1 << iota
	stateRunning
	stateComplete
	stateCancelled
	stateAbortRequested

	stateTerminal = stateComplete | stateCancelled
)

type runResult int

const (
	// runIdle: the task is pending and waits for an external wake.
	runIdle runResult = iota
	// runRequeue: the task is pending and was woken during its own poll.
	runRequeue
	// runDone: the task reached a terminal state.
	runDone
)

// taskVTable holds the typed halves of a task.
type taskVTable struct {
	// poll polls the future once. It reports completion, and the panic if
	// the future panicked (which also counts as completion).
	poll func(cx *PollContext) (bool, *panics.Recovered)
	// shutdown delivers err to the join handle without polling.
	shutdown func(err error)
}

type rawTask struct {
	id    TaskID
	state atomic.Uint32
	sched taskScheduler
	vt    taskVTable

	// elem is the task's entry in its scheduler's registry. Owned by the
	// scheduler goroutine.
	elem *list.Element
}

// newTask builds a task and its join handle for fut. The task starts in
// the notified state: the caller is expected to bind and schedule it.
func newTask[T any](fut Future[T], sched taskScheduler) (*rawTask, *JoinHandle[T]) {
	t := &rawTask{id: GenerateTaskID(), sched: sched}
	t.state.Store(stateNotified)
	h := newJoinHandle[T](t)

	t.vt = taskVTable{
		poll: func(cx *PollContext) (bool, *panics.Recovered) {
			var (
				v  T
				ok bool
			)
			if rec := panics.Try(func() { v, ok = fut.Poll(cx) }); rec != nil {
				fut = nil
				h.fail(&PanicError{TaskID: t.id, Value: rec.Value, Stack: rec.Stack})
				return true, rec
			}
			if ok {
				fut = nil
				h.complete(v)
			}
			return ok, nil
		},
		shutdown: func(err error) {
			h.fail(err)
		},
	}
	return t, h
}

// ID returns the task's identifier.
func (t *rawTask) ID() TaskID { return t.id }

// Wake implements Waker. A task sits in a run queue at most once: only the
// idle -> notified edge calls notify.
func (t *rawTask) Wake() {
	for {
		s := t.state.Load()
		if s&stateTerminal != 0 || s&stateNotified != 0 {
			return
		}
		if !t.state.CompareAndSwap(s, s|stateNotified) {
			continue
		}
		if s&stateRunning == 0 {
			t.sched.notify(t)
		}
		return
	}
}

// abort requests cancellation. The task is shut down the next time its
// scheduler would have polled it.
func (t *rawTask) abort() {
	for {
		s := t.state.Load()
		if s&stateTerminal != 0 || s&stateAbortRequested != 0 {
			return
		}
		if t.state.CompareAndSwap(s, s|stateAbortRequested) {
			break
		}
	}
	t.Wake()
}

// run polls the task once. local tells whether the caller is the goroutine
// that owns the task's registry, which decides between releaseLocal and
// release on completion.
func (t *rawTask) run(cx *PollContext, local bool) (runResult, *panics.Recovered) {
	for {
		s := t.state.Load()
		if s&stateTerminal != 0 {
			return runDone, nil
		}
		if t.state.CompareAndSwap(s, (s|stateRunning)&^stateNotified) {
			break
		}
	}

	if t.state.Load()&stateAbortRequested != 0 {
		t.state.And(^stateRunning)
		if t.terminate(cancelledError(t.id, "aborted")) {
			t.unregister(local)
		}
		return runDone, nil
	}

	done, rec := t.vt.poll(cx)
	if done {
		for {
			s := t.state.Load()
			if t.state.CompareAndSwap(s, (s|stateComplete)&^(stateRunning|stateNotified)) {
				break
			}
		}
		t.unregister(local)
		return runDone, rec
	}

	for {
		s := t.state.Load()
		next := s &^ stateRunning
		if !t.state.CompareAndSwap(s, next) {
			continue
		}
		if next&stateNotified != 0 {
			return runRequeue, nil
		}
		return runIdle, nil
	}
}

// terminate moves the task to the cancelled state without polling it.
// It reports false if the task had already reached a terminal state.
func (t *rawTask) terminate(err error) bool {
	for {
		s := t.state.Load()
		if s&stateTerminal != 0 {
			return false
		}
		if t.state.CompareAndSwap(s, s|stateCancelled) {
			break
		}
	}
	t.vt.shutdown(err)
	return true
}

func (t *rawTask) unregister(local bool) {
	if local {
		t.sched.releaseLocal(t)
	} else {
		t.sched.release(t)
	}
}

func (t *rawTask) isTerminal() bool {
	return t.state.Load()&stateTerminal != 0
}
