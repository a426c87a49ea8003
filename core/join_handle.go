package core

import (
	"context"
	"sync"
)

// Result is the outcome of a task as observed through its JoinHandle.
type Result[T any] struct {
	Value T
	Err   error
}

// Unwrap returns the value, panicking if the task failed.
func (r Result[T]) Unwrap() T {
	if r.Err != nil {
		panic(r.Err)
	}
	return r.Value
}

// JoinHandle observes the outcome of a spawned task. It is a Future of the
// task's Result and may also be waited on from any goroutine.
//
// Exactly one outcome is ever delivered: the task's value, a *PanicError,
// or an error wrapping ErrCancelled.
//
// As a Future, a handle has a single waiter: each pending Poll replaces the
// waker stored by the previous one.
type JoinHandle[T any] struct {
	task *rawTask

	mu     sync.Mutex
	done   chan struct{}
	result Result[T]
	waker  Waker
}

func newJoinHandle[T any](t *rawTask) *JoinHandle[T] {
	return &JoinHandle[T]{task: t, done: make(chan struct{})}
}

// ID returns the ID of the task behind this handle.
func (h *JoinHandle[T]) ID() TaskID { return h.task.id }

// Poll implements Future.
func (h *JoinHandle[T]) Poll(cx *PollContext) (Result[T], bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return h.result, true
	default:
	}
	h.waker = cx.Waker()
	return Result[T]{}, false
}

// Done returns a channel closed once the task has an outcome.
func (h *JoinHandle[T]) Done() <-chan struct{} { return h.done }

// IsFinished reports whether the task has an outcome.
func (h *JoinHandle[T]) IsFinished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// TryResult returns the outcome if there is one, or ErrNotFinished.
func (h *JoinHandle[T]) TryResult() (T, error) {
	if !h.IsFinished() {
		var zero T
		return zero, ErrNotFinished
	}
	return h.result.Value, h.result.Err
}

// Wait blocks until the task has an outcome or ctx is done.
//
// Wait must not be called from the goroutine driving the task's LocalSet:
// the task can only make progress while that goroutine is free.
func (h *JoinHandle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.result.Value, h.result.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Abort requests cancellation of the task. A task that has not completed
// by the time its scheduler next picks it up observes ErrCancelled.
func (h *JoinHandle[T]) Abort() {
	h.task.abort()
}

// Await converts the handle into a future of the task's value that panics
// on failure, which is convenient for composing local tasks.
func (h *JoinHandle[T]) Await() Future[T] {
	return Map[Result[T], T](h, Result[T].Unwrap)
}

func (h *JoinHandle[T]) complete(v T) {
	h.finish(Result[T]{Value: v})
}

func (h *JoinHandle[T]) fail(err error) {
	h.finish(Result[T]{Err: err})
}

func (h *JoinHandle[T]) finish(r Result[T]) {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return
	default:
	}
	h.result = r
	close(h.done)
	w := h.waker
	h.waker = nil
	h.mu.Unlock()

	if w != nil {
		w.Wake()
	}
}
