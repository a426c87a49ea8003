package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// SharedScheduler runs send futures on a multi-worker runtime. Each poll is
// posted to the runtime's TaskScheduler as a closure, so a task may be
// polled by a different worker every time, but never by two at once.
type SharedScheduler struct {
	name   string
	poster Poster

	mu       sync.Mutex
	tasks    map[TaskID]*rawTask
	closed   bool
	spawned  atomic.Uint64
	finished atomic.Uint64

	panicHandler PanicHandler
	metrics      Metrics
	logger       Logger
}

// NewSharedScheduler creates a SharedScheduler posting onto poster.
func NewSharedScheduler(name string, poster Poster, config *TaskSchedulerConfig) *SharedScheduler {
	cfg := DefaultTaskSchedulerConfig()
	if config != nil {
		if config.PanicHandler != nil {
			cfg.PanicHandler = config.PanicHandler
		}
		if config.Metrics != nil {
			cfg.Metrics = config.Metrics
		}
		if config.Logger != nil {
			cfg.Logger = config.Logger
		}
	}
	return &SharedScheduler{
		name:         name,
		poster:       poster,
		tasks:        make(map[TaskID]*rawTask),
		panicHandler: cfg.PanicHandler,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// SpawnShared spawns fut onto s. The future must be safe to poll from any
// worker goroutine.
func SpawnShared[T any](s *SharedScheduler, fut Future[T]) *JoinHandle[T] {
	t, h := newTask(fut, s)
	if !s.tryBind(t) {
		t.state.Store(stateCancelled)
		s.metrics.RecordTaskRejected(s.name, "closed")
		h.fail(fmt.Errorf("spawn %s on %s: %w", t.id, s.name, ErrClosed))
		return h
	}
	s.schedule(t)
	return h
}

// tryBind registers t unless s is closed. The check and the insert share
// one critical section, so Shutdown either rejects t or cancels it.
func (s *SharedScheduler) tryBind(t *rawTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.tasks[t.id] = t
	s.spawned.Add(1)
	return true
}

func (s *SharedScheduler) bind(t *rawTask) {
	s.tryBind(t)
}

func (s *SharedScheduler) schedule(t *rawTask) {
	s.poster.PostInternal(func(ctx context.Context) { s.runTask(ctx, t) })
}

func (s *SharedScheduler) notify(t *rawTask) {
	s.schedule(t)
}

func (s *SharedScheduler) releaseLocal(t *rawTask) {
	s.release(t)
}

func (s *SharedScheduler) release(t *rawTask) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()
	s.finished.Add(1)
}

func (s *SharedScheduler) runTask(ctx context.Context, t *rawTask) {
	res, rec := t.run(NewPollContext(ctx, t), false)
	if rec != nil {
		s.logger.Error("task panicked",
			F("runtime", s.name), F("task", t.id.String()), F("panic", rec.Value))
		s.metrics.RecordTaskPanic(s.name, rec.Value)
		s.panicHandler.HandlePanic(ctx, s.name, -1, rec.Value, rec.Stack)
	}
	if res == runRequeue {
		s.schedule(t)
	}
}

// Len returns the number of spawned tasks that have not finished.
func (s *SharedScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Spawned returns how many tasks were ever spawned onto s.
func (s *SharedScheduler) Spawned() uint64 { return s.spawned.Load() }

// Shutdown cancels every task that has not finished and rejects new ones.
func (s *SharedScheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tasks := s.tasks
	s.tasks = make(map[TaskID]*rawTask)
	s.mu.Unlock()

	n := 0
	for _, t := range tasks {
		if t.terminate(cancelledError(t.id, "shut down")) {
			n++
			s.metrics.RecordTaskCancelled(s.name, "shutdown")
		}
	}
	if n > 0 {
		s.logger.Info("cancelled outstanding tasks", F("runtime", s.name), F("count", n))
	}
}
