package core

import (
	"fmt"
	"sync/atomic"
	"time"
)

// TaskScheduler is the shared ready queue of a multi-worker runtime.
// Workers pull closures with GetWork; anything may post with PostInternal.
type TaskScheduler struct {
	name        string
	queue       *FIFOQueue[Task]
	signal      chan struct{}
	workerCount int

	delayManager *DelayManager

	metricQueued int32 // Waiting in the queue
	metricActive int32 // Executing in a worker

	// Handlers and Metrics
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler
	logger              Logger

	// Lifecycle
	shuttingDown atomic.Bool
}

func NewTaskScheduler(name string, workerCount int) *TaskScheduler {
	return NewTaskSchedulerWithConfig(name, workerCount, DefaultTaskSchedulerConfig())
}

func NewTaskSchedulerWithConfig(name string, workerCount int, config *TaskSchedulerConfig) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	s := &TaskScheduler{
		name:         name,
		queue:        NewFIFOQueue[Task](),
		signal:       make(chan struct{}, workerCount*2),
		workerCount:  workerCount,
		delayManager: NewDelayManager(),
	}

	// Apply config
	if config != nil {
		s.panicHandler = config.PanicHandler
		s.metrics = config.Metrics
		s.rejectedTaskHandler = config.RejectedTaskHandler
		s.logger = config.Logger
	}

	// Use defaults if not provided
	if s.panicHandler == nil {
		s.panicHandler = &DefaultPanicHandler{}
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.rejectedTaskHandler == nil {
		s.rejectedTaskHandler = &DefaultRejectedTaskHandler{}
	}
	if s.logger == nil {
		s.logger = NewNoOpLogger()
	}

	return s
}

// Name returns the name used in logs and metrics.
func (s *TaskScheduler) Name() string { return s.name }

// PostInternal queues task for the next free worker.
func (s *TaskScheduler) PostInternal(task Task) {
	if s.shuttingDown.Load() || !s.queue.Push(task) {
		s.reject("shutting down")
		return
	}
	queued := atomic.AddInt32(&s.metricQueued, 1)
	s.metrics.RecordQueueDepth(s.name, int(queued))

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but task is already queued
	}
}

// PostDelayedInternal queues task once delay has elapsed.
func (s *TaskScheduler) PostDelayedInternal(task Task, delay time.Duration) {
	if s.shuttingDown.Load() {
		s.reject("shutting down")
		return
	}
	s.delayManager.AddDelayedTask(task, delay, s)
}

// Sleep returns a future that completes once d has elapsed.
func (s *TaskScheduler) Sleep(d time.Duration) Future[struct{}] {
	return SleepOn(s.delayManager, d)
}

func (s *TaskScheduler) reject(reason string) {
	s.rejectedTaskHandler.HandleRejectedTask(s.name, reason)
	s.metrics.RecordTaskRejected(s.name, reason)
}

// GetWork (Called by Worker)
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (Task, bool) {
	for {
		if task, ok := s.queue.Pop(); ok {
			atomic.AddInt32(&s.metricQueued, -1)
			return task, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// Shutdown stops accepting work and drops everything still queued.
func (s *TaskScheduler) Shutdown() {
	s.shuttingDown.Store(true)
	s.delayManager.Stop()

	dropped := s.queue.Close()
	atomic.AddInt32(&s.metricQueued, -int32(len(dropped)))
	if len(dropped) > 0 {
		s.logger.Warn("dropped queued tasks on shutdown",
			F("runtime", s.name), F("count", len(dropped)))
	}
}

// ShutdownGraceful waits for all queued and active tasks to complete
// Returns error if timeout is exceeded before tasks complete
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) error {
	s.shuttingDown.Store(true)
	s.delayManager.Stop()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			s.Shutdown()
			return fmt.Errorf("shutdown graceful timeout after %v, forced clearing", timeout)
		case <-ticker.C:
			if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
				s.queue.Close()
				return nil
			}
		}
	}
}

// IsShuttingDown reports whether Shutdown or ShutdownGraceful was called.
func (s *TaskScheduler) IsShuttingDown() bool { return s.shuttingDown.Load() }

// Metrics
func (s *TaskScheduler) WorkerCount() int     { return s.workerCount }
func (s *TaskScheduler) QueuedTaskCount() int { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *TaskScheduler) ActiveTaskCount() int { return int(atomic.LoadInt32(&s.metricActive)) }
func (s *TaskScheduler) DelayedTaskCount() int {
	return s.delayManager.Pending()
}

func (s *TaskScheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *TaskScheduler) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}

// GetPanicHandler returns the panic handler for this scheduler
func (s *TaskScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler
func (s *TaskScheduler) GetMetrics() Metrics {
	return s.metrics
}

// GetLogger returns the logger for this scheduler
func (s *TaskScheduler) GetLogger() Logger {
	return s.logger
}
