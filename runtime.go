package localset

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Swind/go-localset/core"
)

// Runtime is a multi-worker runtime. Its workers pull closures from a shared
// TaskScheduler; send futures spawned with SpawnShared are polled by
// whichever worker is free. A Runtime is also a HostRuntime, so BlockOn can
// drive a LocalSet on the calling goroutine while local tasks sleep on the
// runtime's timers or await pool tasks.
type Runtime struct {
	id        string
	name      string
	workers   int
	scheduler *core.TaskScheduler
	shared    *core.SharedScheduler

	wg        conc.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

var (
	_ core.HostRuntime = (*Runtime)(nil)
	_ core.Sleeper     = (*Runtime)(nil)
)

// NewRuntime creates a Runtime with the default handlers. Call Start to
// launch its workers.
func NewRuntime(name string, workers int) *Runtime {
	return NewRuntimeWithConfig(name, workers, core.DefaultTaskSchedulerConfig())
}

// NewRuntimeWithConfig creates a Runtime with custom handlers.
func NewRuntimeWithConfig(name string, workers int, config *core.TaskSchedulerConfig) *Runtime {
	scheduler := core.NewTaskSchedulerWithConfig(name, workers, config)
	return &Runtime{
		id:        uuid.NewString(),
		name:      name,
		workers:   scheduler.WorkerCount(),
		scheduler: scheduler,
		shared:    core.NewSharedScheduler(name, scheduler, config),
	}
}

// Start starts all worker goroutines
func (rt *Runtime) Start(ctx context.Context) {
	rt.runningMu.Lock()
	defer rt.runningMu.Unlock()

	if rt.running {
		return
	}

	rt.ctx, rt.cancel = context.WithCancel(ctx)
	rt.running = true

	for i := 0; i < rt.workers; i++ {
		workerID := i
		rt.wg.Go(func() { rt.workerLoop(rt.ctx, workerID) })
	}
	rt.scheduler.GetLogger().Debug("runtime started",
		core.F("runtime", rt.name), core.F("workers", rt.workers))
}

// Stop stops the runtime at once. Queued closures are dropped and spawned
// tasks that have not completed are cancelled.
func (rt *Runtime) Stop() {
	// Always shut the scheduler down so queues and timers are released
	// even if the runtime was never started.
	rt.scheduler.Shutdown()
	rt.shared.Shutdown()

	if !rt.isRunning() {
		return
	}
	rt.stopWorkers()
}

// StopGraceful waits for queued work to drain before stopping the workers.
// On timeout the remaining work is dropped as in Stop and an error is
// returned.
func (rt *Runtime) StopGraceful(timeout time.Duration) error {
	if !rt.isRunning() {
		return nil
	}

	err := rt.scheduler.ShutdownGraceful(timeout)
	rt.shared.Shutdown()
	rt.stopWorkers()
	return err
}

func (rt *Runtime) stopWorkers() {
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.Join()

	rt.runningMu.Lock()
	rt.running = false
	rt.runningMu.Unlock()
}

func (rt *Runtime) isRunning() bool {
	rt.runningMu.RLock()
	defer rt.runningMu.RUnlock()
	return rt.running
}

// workerLoop is the main loop for each worker
func (rt *Runtime) workerLoop(ctx context.Context, workerID int) {
	stopCh := ctx.Done()

	for {
		task, ok := rt.scheduler.GetWork(stopCh)
		if !ok {
			return
		}

		rt.scheduler.OnTaskStart()
		start := time.Now()
		rec := panics.Try(func() { task(ctx) })
		rt.scheduler.OnTaskEnd()
		rt.scheduler.GetMetrics().RecordTaskDuration(rt.name, time.Since(start))

		if rec != nil {
			rt.scheduler.GetLogger().Error("worker task panicked",
				core.F("runtime", rt.name), core.F("worker", workerID), core.F("panic", rec.Value))
			rt.scheduler.GetMetrics().RecordTaskPanic(rt.name, rec.Value)
			rt.scheduler.GetPanicHandler().HandlePanic(ctx, rt.name, workerID, rec.Value, rec.Stack)
		}
	}
}

// Join waits for all worker goroutines to finish
func (rt *Runtime) Join() {
	rt.wg.Wait()
}

// Run implements core.HostRuntime. It drives fut on the calling goroutine,
// not on a worker.
func (rt *Runtime) Run(ctx context.Context, fut core.Future[struct{}]) error {
	return core.Drive(ctx, fut)
}

// Sleep returns a future that completes once d has elapsed.
func (rt *Runtime) Sleep(d time.Duration) core.Future[struct{}] {
	return rt.scheduler.Sleep(d)
}

// PostTask queues a plain closure for the next free worker.
func (rt *Runtime) PostTask(task core.Task) {
	rt.scheduler.PostInternal(task)
}

// PostDelayedTask queues task once delay has elapsed.
func (rt *Runtime) PostDelayedTask(task core.Task, delay time.Duration) {
	rt.scheduler.PostDelayedInternal(task, delay)
}

// SpawnShared spawns a send future onto rt's workers. fut may be polled by
// a different worker each time, so it must not hold goroutine-bound state.
func SpawnShared[T any](rt *Runtime, fut core.Future[T]) *core.JoinHandle[T] {
	return core.SpawnShared(rt.shared, fut)
}

// ID returns the runtime's unique identifier.
func (rt *Runtime) ID() string { return rt.id }

// Name returns the name used in logs and metrics.
func (rt *Runtime) Name() string { return rt.name }

// IsRunning reports whether the workers are running.
func (rt *Runtime) IsRunning() bool { return rt.isRunning() }

func (rt *Runtime) WorkerCount() int      { return rt.workers }
func (rt *Runtime) QueuedTaskCount() int  { return rt.scheduler.QueuedTaskCount() }
func (rt *Runtime) ActiveTaskCount() int  { return rt.scheduler.ActiveTaskCount() }
func (rt *Runtime) DelayedTaskCount() int { return rt.scheduler.DelayedTaskCount() }

// Stats returns a snapshot of the runtime.
func (rt *Runtime) Stats() core.RuntimeStats {
	return core.RuntimeStats{
		ID:      rt.id,
		Workers: rt.workers,
		Queued:  rt.scheduler.QueuedTaskCount(),
		Active:  rt.scheduler.ActiveTaskCount(),
		Delayed: rt.scheduler.DelayedTaskCount(),
		Tasks:   rt.shared.Len(),
		Spawned: rt.shared.Spawned(),
		Running: rt.isRunning(),
	}
}

// =============================================================================
// Global Runtime Helper (Singleton)
// =============================================================================

var (
	globalRuntime *Runtime
	globalMu      sync.Mutex
)

// InitGlobalRuntime initializes the global runtime with the given number of
// workers and starts it. Later calls are no-ops until ShutdownGlobalRuntime.
func InitGlobalRuntime(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRuntime != nil {
		return
	}

	globalRuntime = NewRuntime("global-runtime", workers)
	globalRuntime.Start(context.Background())
}

// GetGlobalRuntime returns the global runtime.
// It panics if InitGlobalRuntime has not been called.
func GetGlobalRuntime() *Runtime {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRuntime == nil {
		panic("GlobalRuntime not initialized. Call InitGlobalRuntime() first.")
	}
	return globalRuntime
}

// ShutdownGlobalRuntime stops the global runtime.
func ShutdownGlobalRuntime() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRuntime != nil {
		globalRuntime.Stop()
		globalRuntime = nil
	}
}
