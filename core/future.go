package core

import (
	"context"
	"sync"
)

// =============================================================================
// Waker: re-arms a pending future
// =============================================================================

// Waker is notified when a pending future may be able to make progress.
// Wake may be called from any goroutine and any number of times.
type Waker interface {
	Wake()
}

// WakerFunc adapts a plain function to the Waker interface.
type WakerFunc func()

// Wake calls f.
func (f WakerFunc) Wake() { f() }

type noopWaker struct{}

func (noopWaker) Wake() {}

// NoopWaker is a Waker that does nothing. Useful for polling a future by hand.
var NoopWaker Waker = noopWaker{}

// =============================================================================
// PollContext
// =============================================================================

// PollContext is handed to every Future.Poll call. It carries the
// context.Context of the current drive cycle (which is how SpawnLocal finds
// the active LocalSet) and the Waker to notify once the future can progress.
type PollContext struct {
	ctx   context.Context
	waker Waker
}

// NewPollContext creates a PollContext. A nil waker is replaced by NoopWaker.
func NewPollContext(ctx context.Context, waker Waker) *PollContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if waker == nil {
		waker = NoopWaker
	}
	return &PollContext{ctx: ctx, waker: waker}
}

// Context returns the context of the current drive cycle.
func (cx *PollContext) Context() context.Context { return cx.ctx }

// Waker returns the waker of the task being polled.
func (cx *PollContext) Waker() Waker { return cx.waker }

// WithContext returns a copy of cx using ctx.
func (cx *PollContext) WithContext(ctx context.Context) *PollContext {
	return &PollContext{ctx: ctx, waker: cx.waker}
}

// WithWaker returns a copy of cx using waker.
func (cx *PollContext) WithWaker(waker Waker) *PollContext {
	return &PollContext{ctx: cx.ctx, waker: waker}
}

// =============================================================================
// Future
// =============================================================================

// Future is a unit of work that is driven forward by repeated polling.
//
// Poll returns (value, true) once the future is complete. If it returns
// false, the future must arrange for cx.Waker() to be woken when it can make
// progress again. Poll must not block the calling goroutine.
type Future[T any] interface {
	Poll(cx *PollContext) (T, bool)
}

// FutureFunc adapts a poll function to the Future interface.
type FutureFunc[T any] func(cx *PollContext) (T, bool)

// Poll calls f.
func (f FutureFunc[T]) Poll(cx *PollContext) (T, bool) { return f(cx) }

// Ready returns a future that completes immediately with v.
func Ready[T any](v T) Future[T] {
	return FutureFunc[T](func(*PollContext) (T, bool) { return v, true })
}

// Func returns a future that calls f on its first poll and completes with the
// result. f runs on the goroutine polling the future.
func Func[T any](f func(ctx context.Context) T) Future[T] {
	return FutureFunc[T](func(cx *PollContext) (T, bool) {
		return f(cx.Context()), true
	})
}

// Lazy defers building a future until the first poll, so that f observes
// the drive cycle's context (and can call SpawnLocal).
func Lazy[T any](f func(ctx context.Context) Future[T]) Future[T] {
	var inner Future[T]
	return FutureFunc[T](func(cx *PollContext) (T, bool) {
		if inner == nil {
			inner = f(cx.Context())
		}
		return inner.Poll(cx)
	})
}

// Then runs fut, then the future produced by f from its output.
func Then[T, U any](fut Future[T], f func(ctx context.Context, v T) Future[U]) Future[U] {
	var next Future[U]
	return FutureFunc[U](func(cx *PollContext) (U, bool) {
		if next == nil {
			v, ok := fut.Poll(cx)
			if !ok {
				var zero U
				return zero, false
			}
			next = f(cx.Context(), v)
			fut = nil
		}
		return next.Poll(cx)
	})
}

// Map transforms the output of fut with f.
func Map[T, U any](fut Future[T], f func(T) U) Future[U] {
	return FutureFunc[U](func(cx *PollContext) (U, bool) {
		v, ok := fut.Poll(cx)
		if !ok {
			var zero U
			return zero, false
		}
		return f(v), true
	})
}

// Yield returns a future that is pending exactly once. It wakes itself
// before returning pending, so the task goes to the back of the run queue.
func Yield() Future[struct{}] {
	yielded := false
	return FutureFunc[struct{}](func(cx *PollContext) (struct{}, bool) {
		if yielded {
			return struct{}{}, true
		}
		yielded = true
		cx.Waker().Wake()
		return struct{}{}, false
	})
}

// JoinAll polls every future until all are complete and returns their
// outputs in argument order.
func JoinAll[T any](futs ...Future[T]) Future[[]T] {
	out := make([]T, len(futs))
	done := make([]bool, len(futs))
	remaining := len(futs)
	return FutureFunc[[]T](func(cx *PollContext) ([]T, bool) {
		for i, f := range futs {
			if done[i] {
				continue
			}
			if v, ok := f.Poll(cx); ok {
				out[i] = v
				done[i] = true
				futs[i] = nil
				remaining--
			}
		}
		return out, remaining == 0
	})
}

// =============================================================================
// Signal: a one-shot, goroutine-safe readiness flag
// =============================================================================

// Signal is a one-shot event that can be fired from any goroutine and
// awaited as a future.
//
// Every future returned by Wait keeps one waker slot, overwritten on each
// pending poll. Tasks get one slot per task however many Wait futures they
// poll.
type Signal struct {
	mu      sync.Mutex
	fired   bool
	lastKey uint64
	wakers  map[any]Waker
}

// Fire marks the signal as fired and wakes every waiting future.
func (s *Signal) Fire() {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return
	}
	s.fired = true
	wakers := s.wakers
	s.wakers = nil
	s.mu.Unlock()

	for _, w := range wakers {
		w.Wake()
	}
}

// Fired reports whether Fire has been called.
func (s *Signal) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Wait returns a future that completes once the signal fires.
func (s *Signal) Wait() Future[struct{}] {
	var slot uint64
	return FutureFunc[struct{}](func(cx *PollContext) (struct{}, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fired {
			return struct{}{}, true
		}
		w := cx.Waker()
		var key any
		if t, ok := w.(*rawTask); ok {
			key = t
		} else {
			if slot == 0 {
				s.lastKey++
				slot = s.lastKey
			}
			key = slot
		}
		if s.wakers == nil {
			s.wakers = make(map[any]Waker)
		}
		s.wakers[key] = w
		return struct{}{}, false
	})
}
