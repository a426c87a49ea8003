package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// The panic has already been captured into the task's JoinHandle; the
// handler is for logging and alerting.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context of the drive cycle or worker that polled the task
	// - runnerName: The name of the LocalSet or runtime where the panic occurred
	// - workerID: The ID of the worker (for runtime workers, -1 for LocalSets)
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte) {
	if workerID >= 0 {
		fmt.Printf("[Worker %d @ %s] Panic: %v\nStack trace:\n%s",
			workerID, runnerName, panicInfo, stackTrace)
	} else {
		fmt.Printf("[LocalSet %s] Panic: %v\nStack trace:\n%s",
			runnerName, panicInfo, stackTrace)
	}
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduling metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from the goroutine driving the LocalSet (or from
// runtime workers) and must be non-blocking and fast.
type Metrics interface {
	// RecordTaskDuration records how long a single poll of a task took.
	RecordTaskDuration(runnerName string, duration time.Duration)

	// RecordTick records one bounded drain: how many tasks were polled and
	// how long it took.
	RecordTick(runnerName string, polled int, duration time.Duration)

	// RecordTaskPanic records that a task panicked while being polled.
	RecordTaskPanic(runnerName string, panicInfo any)

	// RecordQueueDepth records the number of tasks ready to be polled.
	RecordQueueDepth(runnerName string, depth int)

	// RecordTaskRejected records that a task or wake was rejected
	// (e.g., after shutdown).
	RecordTaskRejected(runnerName string, reason string)

	// RecordTaskCancelled records a forced shutdown of a task.
	RecordTaskCancelled(runnerName string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(runnerName string, duration time.Duration)     {}
func (m *NilMetrics) RecordTick(runnerName string, polled int, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(runnerName string, panicInfo any)                 {}
func (m *NilMetrics) RecordQueueDepth(runnerName string, depth int)                    {}
func (m *NilMetrics) RecordTaskRejected(runnerName string, reason string)              {}
func (m *NilMetrics) RecordTaskCancelled(runnerName string, reason string)             {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a task is rejected. This happens when:
// - a task is spawned onto a LocalSet that was already torn down
// - a task is woken after its LocalSet was torn down
// - a closure is posted to a runtime that is shutting down
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	// HandleRejectedTask is called when a task is rejected.
	//
	// Parameters:
	// - runnerName: The name of the LocalSet or runtime
	// - reason: Why the task was rejected (e.g., "closed", "shutting down")
	HandleRejectedTask(runnerName string, reason string)
}

// DefaultRejectedTaskHandler provides a basic handler that logs rejected tasks.
type DefaultRejectedTaskHandler struct{}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(runnerName string, reason string) {
	fmt.Printf("[Runner %s] Task rejected: %s\n", runnerName, reason)
}

// =============================================================================
// TaskSchedulerConfig: Configuration for the runtime's TaskScheduler
// =============================================================================

// TaskSchedulerConfig holds configuration options for TaskScheduler.
// All handlers are optional; if not provided, default implementations will be used.
type TaskSchedulerConfig struct {
	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// Logger receives lifecycle events. Defaults to NoOpLogger.
	Logger Logger
}

// DefaultTaskSchedulerConfig returns a config with default handlers.
func DefaultTaskSchedulerConfig() *TaskSchedulerConfig {
	return &TaskSchedulerConfig{
		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
		Logger:              NewNoOpLogger(),
	}
}

// =============================================================================
// LocalSetConfig
// =============================================================================

// DefaultMaxTasksPerTick is the number of tasks a LocalSet polls per drive
// cycle before handing control back to its host runtime.
const DefaultMaxTasksPerTick = 61

// LocalSetConfig configures a LocalSet and its Scheduler.
type LocalSetConfig struct {
	// Name labels logs and metrics. Defaults to the LocalSet's generated ID.
	Name string

	// MaxTasksPerTick bounds how many tasks one Tick polls.
	// Values below 1 fall back to DefaultMaxTasksPerTick.
	MaxTasksPerTick int

	// WaitForWake stops the driving future from asking its host runtime for
	// a new poll after every pending poll. It then re-polls only when local
	// work is queued or something wakes it, so a main future that never
	// arms its waker stalls.
	WaitForWake bool

	// HistoryCapacity is how many TickRecords are kept for RecentTicks.
	HistoryCapacity int

	PanicHandler        PanicHandler
	Metrics             Metrics
	RejectedTaskHandler RejectedTaskHandler
	Logger              Logger
}

// DefaultLocalSetConfig returns a config with default handlers.
func DefaultLocalSetConfig() *LocalSetConfig {
	return &LocalSetConfig{
		MaxTasksPerTick:     DefaultMaxTasksPerTick,
		HistoryCapacity:     defaultTickHistoryCapacity,
		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
		Logger:              NewNoOpLogger(),
	}
}

func (c *LocalSetConfig) withDefaults() LocalSetConfig {
	out := *DefaultLocalSetConfig()
	if c == nil {
		return out
	}
	out.Name = c.Name
	out.WaitForWake = c.WaitForWake
	if c.MaxTasksPerTick > 0 {
		out.MaxTasksPerTick = c.MaxTasksPerTick
	}
	if c.HistoryCapacity > 0 {
		out.HistoryCapacity = c.HistoryCapacity
	}
	if c.PanicHandler != nil {
		out.PanicHandler = c.PanicHandler
	}
	if c.Metrics != nil {
		out.Metrics = c.Metrics
	}
	if c.RejectedTaskHandler != nil {
		out.RejectedTaskHandler = c.RejectedTaskHandler
	}
	if c.Logger != nil {
		out.Logger = c.Logger
	}
	return out
}
