package localset

import (
	"context"

	"github.com/Swind/go-localset/core"
)

// Re-export commonly used types from core package for convenience.
// This allows users to import only the localset package for most use cases.

// Future is a value that becomes available later, polled by a scheduler.
type Future[T any] = core.Future[T]

// FutureFunc adapts a poll function to a Future.
type FutureFunc[T any] = core.FutureFunc[T]

// PollContext is what a future receives on every poll.
type PollContext = core.PollContext

// Waker schedules the task that owns it to be polled again.
type Waker = core.Waker

// JoinHandle awaits the output of a spawned task.
type JoinHandle[T any] = core.JoinHandle[T]

// Result is the output of a task as observed through its JoinHandle.
type Result[T any] = core.Result[T]

// LocalSet is a set of tasks that all run on the goroutine driving it.
type LocalSet = core.LocalSet

// LocalSetConfig configures a LocalSet.
type LocalSetConfig = core.LocalSetConfig

// LocalThread owns a LocalSet driven by a dedicated goroutine.
type LocalThread = core.LocalThread

// Signal is a one-shot event that futures can wait on.
type Signal = core.Signal

// HostRuntime drives a future to completion on the calling goroutine.
type HostRuntime = core.HostRuntime

// Task is a plain closure executed by a runtime worker.
type Task = core.Task

// Errors reported through JoinHandles.
var (
	ErrCancelled        = core.ErrCancelled
	ErrClosed           = core.ErrClosed
	ErrNoActiveLocalSet = core.ErrNoActiveLocalSet
	ErrNotFinished      = core.ErrNotFinished
)

// PanicError is reported by a JoinHandle whose future panicked.
type PanicError = core.PanicError

// NewLocalSet creates a LocalSet with the default configuration.
func NewLocalSet() *LocalSet {
	return core.NewLocalSet()
}

// NewLocalSetWithConfig creates a LocalSet. A nil config means defaults.
func NewLocalSetWithConfig(cfg *LocalSetConfig) *LocalSet {
	return core.NewLocalSetWithConfig(cfg)
}

// NewLocalThread starts a LocalThread. A nil config means defaults.
func NewLocalThread(cfg *LocalSetConfig) *LocalThread {
	return core.NewLocalThread(cfg)
}

// Spawn spawns fut onto ls. The task runs the next time ls is driven.
func Spawn[T any](ls *LocalSet, fut Future[T]) *JoinHandle[T] {
	return core.Spawn(ls, fut)
}

// SpawnLocal spawns fut onto the LocalSet driving the calling goroutine.
// It panics if ctx does not belong to a running LocalSet.
func SpawnLocal[T any](ctx context.Context, fut Future[T]) *JoinHandle[T] {
	return core.SpawnLocal(ctx, fut)
}

// SpawnPinned hands fut over to lt's dedicated goroutine.
func SpawnPinned[T any](lt *LocalThread, fut Future[T]) *JoinHandle[T] {
	return core.SpawnPinned(lt, fut)
}

// BlockOn drives ls on the calling goroutine until fut completes.
func BlockOn[T any](ls *LocalSet, rt HostRuntime, ctx context.Context, fut Future[T]) (T, error) {
	return core.BlockOn(ls, rt, ctx, fut)
}

// Ready returns a future that completes at once with v.
func Ready[T any](v T) Future[T] { return core.Ready(v) }

// Func returns a future that runs f on its first poll.
func Func[T any](f func(ctx context.Context) T) Future[T] { return core.Func(f) }

// Lazy builds its future from the poll context on the first poll.
func Lazy[T any](f func(ctx context.Context) Future[T]) Future[T] { return core.Lazy(f) }

// Yield returns a future that is pending once, letting other tasks run.
func Yield() Future[struct{}] { return core.Yield() }

// JoinAll waits for every future and returns their outputs in order.
func JoinAll[T any](futs ...Future[T]) Future[[]T] { return core.JoinAll(futs...) }

// Then runs f on fut's output and continues with the future it returns.
func Then[T, U any](fut Future[T], f func(ctx context.Context, v T) Future[U]) Future[U] {
	return core.Then(fut, f)
}

// Map transforms fut's output with f.
func Map[T, U any](fut Future[T], f func(T) U) Future[U] {
	return core.Map(fut, f)
}
