package core

import (
	"container/list"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
)

// Scheduler is the per-LocalSet scheduler for thread-affine tasks.
//
// The registry and the run queue are owned by the goroutine that drives the
// LocalSet and are never locked. The only entry point that may be used from
// other goroutines is a task's Wake, which lands in a mutex-guarded inbox
// that Tick folds into the run queue.
type Scheduler struct {
	id   string
	name string
	cfg  LocalSetConfig

	// Owner-only.
	tasks *list.List
	queue runQueue[*rawTask]

	inbox  *FIFOQueue[*rawTask]
	closed atomic.Bool

	driving     atomic.Bool
	ownerThread atomic.Int64
	driver      atomic.Pointer[wakerBox]

	handles atomic.Int32
	history *tickHistory

	// Counters readable from any goroutine.
	registered atomic.Int64
	ready      atomic.Int64
	ticks      atomic.Uint64
	polled     atomic.Uint64
	completed  atomic.Uint64
	cancelled  atomic.Uint64
	panicked   atomic.Uint64
	rejected   atomic.Uint64
	lastTick   atomic.Int64
}

type wakerBox struct{ w Waker }

func newScheduler(cfg *LocalSetConfig) *Scheduler {
	c := cfg.withDefaults()
	id := uuid.NewString()
	if c.Name == "" {
		c.Name = "localset-" + id[:8]
	}
	s := &Scheduler{
		id:      id,
		name:    c.Name,
		cfg:     c,
		tasks:   list.New(),
		queue:   newRunQueue[*rawTask](defaultQueueCap),
		inbox:   NewFIFOQueue[*rawTask](),
		history: newTickHistory(c.HistoryCapacity),
	}
	s.handles.Store(1)
	return s
}

// ID returns the scheduler's unique identifier.
func (s *Scheduler) ID() string { return s.id }

// Name returns the configured name, or a name derived from the ID.
func (s *Scheduler) Name() string { return s.name }

// MaxTasksPerTick returns the bound applied by Tick.
func (s *Scheduler) MaxTasksPerTick() int { return s.cfg.MaxTasksPerTick }

// =============================================================================
// Binding protocol
// =============================================================================

func (s *Scheduler) bind(t *rawTask) {
	s.assertOwner("bind")
	t.elem = s.tasks.PushBack(t)
	s.registered.Add(1)
}

func (s *Scheduler) schedule(t *rawTask) {
	s.assertOwner("schedule")
	s.queue.PushBack(t)
	s.ready.Add(1)
}

func (s *Scheduler) notify(t *rawTask) {
	if !s.inbox.Push(t) {
		s.rejected.Add(1)
		s.cfg.Metrics.RecordTaskRejected(s.name, "closed")
		s.cfg.Logger.Debug("wake after teardown dropped",
			F("localset", s.name), F("task", t.id.String()))
		return
	}
	s.ready.Add(1)
	if b := s.driver.Load(); b != nil {
		b.w.Wake()
	}
}

func (s *Scheduler) releaseLocal(t *rawTask) {
	s.assertOwner("releaseLocal")
	if t.elem == nil {
		return
	}
	s.tasks.Remove(t.elem)
	t.elem = nil
	s.registered.Add(-1)
}

func (s *Scheduler) release(t *rawTask) {
	panic(fmt.Sprintf("core: task %s on LocalSet %s: tasks should only be completed locally", t.id, s.name))
}

// setDriver registers the waker of whatever is driving the LocalSet. It is
// woken whenever a task lands in the inbox. nil unregisters.
func (s *Scheduler) setDriver(w Waker) {
	if w == nil {
		s.driver.Store(nil)
		return
	}
	s.driver.Store(&wakerBox{w: w})
}

// hasReadyWork reports whether a Tick right now would poll something.
func (s *Scheduler) hasReadyWork() bool {
	return s.queue.Len() > 0 || !s.inbox.IsEmpty()
}

// =============================================================================
// Tick
// =============================================================================

// Tick polls at most MaxTasksPerTick ready tasks in FIFO order and returns
// how many it polled. A task woken during its own poll goes to the back of
// the queue; a task that completes leaves the registry.
//
// Tick panics unless ctx belongs to a live drive cycle of s (see Enter).
func (s *Scheduler) Tick(ctx context.Context) int {
	if !s.IsActive(ctx) {
		panic(fmt.Sprintf("core: Tick on LocalSet %s outside of its drive cycle", s.name))
	}

	rec := TickRecord{
		Seq:        s.ticks.Add(1),
		RunnerName: s.name,
		StartedAt:  time.Now(),
	}

	for rec.Polled < s.cfg.MaxTasksPerTick {
		s.foldInbox()
		t, ok := s.queue.PopFront()
		if !ok {
			break
		}
		s.ready.Add(-1)
		rec.Polled++

		pollStart := time.Now()
		res, panicked := t.run(NewPollContext(ctx, t), true)
		s.cfg.Metrics.RecordTaskDuration(s.name, time.Since(pollStart))

		switch res {
		case runRequeue:
			s.queue.PushBack(t)
			s.ready.Add(1)
			rec.Requeued++
		case runDone:
			if s.taskFinished(t) {
				rec.Completed++
			}
		}

		if panicked != nil {
			rec.Panicked++
			s.reportPanic(ctx, t, panicked)
		}
	}

	s.foldInbox()
	rec.QueueLeft = s.queue.Len()
	rec.Duration = time.Since(rec.StartedAt)
	s.history.Add(rec)
	s.polled.Add(uint64(rec.Polled))
	s.lastTick.Store(rec.StartedAt.UnixNano())

	s.cfg.Metrics.RecordTick(s.name, rec.Polled, rec.Duration)
	s.cfg.Metrics.RecordQueueDepth(s.name, rec.QueueLeft)
	return rec.Polled
}

func (s *Scheduler) foldInbox() {
	for _, t := range s.inbox.PopAll() {
		s.queue.PushBack(t)
	}
}

// taskFinished accounts for a task that reached a terminal state during
// Tick. It reports whether the task completed rather than being aborted.
func (s *Scheduler) taskFinished(t *rawTask) bool {
	if t.state.Load()&stateCancelled != 0 {
		s.cancelled.Add(1)
		s.cfg.Metrics.RecordTaskCancelled(s.name, "aborted")
		return false
	}
	s.completed.Add(1)
	return true
}

func (s *Scheduler) reportPanic(ctx context.Context, t *rawTask, rec *panics.Recovered) {
	s.panicked.Add(1)
	s.cfg.Logger.Error("task panicked",
		F("localset", s.name), F("task", t.id.String()), F("panic", rec.Value))
	s.cfg.Metrics.RecordTaskPanic(s.name, rec.Value)
	s.cfg.PanicHandler.HandlePanic(ctx, s.name, -1, rec.Value, rec.Stack)
}

// =============================================================================
// Teardown
// =============================================================================

// shutdown force-cancels every task the scheduler still knows about: first
// the run queue, then pending wakes, then whatever is left in the registry.
// No future is polled.
func (s *Scheduler) shutdown() {
	if s.driving.Load() {
		panic(fmt.Sprintf("core: LocalSet %s torn down while it is being driven", s.name))
	}
	if s.closed.Swap(true) {
		return
	}
	s.driver.Store(nil)

	var queued, woken, idle int
	for {
		t, ok := s.queue.PopFront()
		if !ok {
			break
		}
		s.ready.Add(-1)
		if s.cancel(t) {
			queued++
		}
	}
	for _, t := range s.inbox.Close() {
		s.ready.Add(-1)
		if s.cancel(t) {
			woken++
		}
	}
	for e := s.tasks.Front(); e != nil; {
		next := e.Next()
		t := e.Value.(*rawTask)
		s.tasks.Remove(e)
		t.elem = nil
		s.registered.Add(-1)
		if s.cancel(t) {
			idle++
		}
		e = next
	}

	s.cfg.Logger.Info("localset torn down",
		F("localset", s.name),
		F("cancelled_queued", queued),
		F("cancelled_woken", woken),
		F("cancelled_idle", idle))
}

func (s *Scheduler) cancel(t *rawTask) bool {
	if !t.terminate(cancelledError(t.id, "shut down")) {
		return false
	}
	s.cancelled.Add(1)
	s.cfg.Metrics.RecordTaskCancelled(s.name, "shutdown")
	return true
}

// IsClosed reports whether the scheduler has been torn down.
func (s *Scheduler) IsClosed() bool { return s.closed.Load() }

// =============================================================================
// Observability
// =============================================================================

// Stats returns a snapshot of the scheduler. Safe from any goroutine.
func (s *Scheduler) Stats() LocalSetStats {
	st := LocalSetStats{
		ID:        s.id,
		Name:      s.name,
		Driving:   s.driving.Load(),
		Closed:    s.closed.Load(),
		Handles:   int(s.handles.Load()),
		Tasks:     int(s.registered.Load()),
		Queued:    int(s.ready.Load()),
		Ticks:     s.ticks.Load(),
		Polled:    s.polled.Load(),
		Completed: s.completed.Load(),
		Cancelled: s.cancelled.Load(),
		Panicked:  s.panicked.Load(),
		Rejected:  s.rejected.Load(),
	}
	if ns := s.lastTick.Load(); ns != 0 {
		st.LastTick = time.Unix(0, ns)
	}
	return st
}

// RecentTicks returns up to limit tick records, newest first.
func (s *Scheduler) RecentTicks(limit int) []TickRecord {
	return s.history.Recent(limit)
}

// LastTick returns the most recent tick record.
func (s *Scheduler) LastTick() (TickRecord, bool) {
	return s.history.Last()
}
