package core

import "context"

// localFuture drives a LocalSet alongside a user future. Every poll enters
// the set, runs one Tick and then polls the user future, all inside the
// same drive cycle.
type localFuture[T any] struct {
	sched *Scheduler
	fut   Future[T]
}

func newLocalFuture[T any](s *Scheduler, fut Future[T]) *localFuture[T] {
	return &localFuture[T]{sched: s, fut: fut}
}

func (f *localFuture[T]) Poll(cx *PollContext) (T, bool) {
	var (
		v  T
		ok bool
	)
	f.sched.Enter(cx.Context(), func(ctx context.Context) {
		f.sched.setDriver(cx.Waker())
		f.sched.Tick(ctx)

		v, ok = f.fut.Poll(cx.WithContext(ctx))
		if ok {
			f.fut = nil
			return
		}
		// Always ask for another poll: the user future may be checking state
		// it never registered a waker for. With WaitForWake, local tasks woken
		// from elsewhere reach the host through the driver waker, but queued
		// work has nobody left to wake it.
		if !f.sched.cfg.WaitForWake || f.sched.hasReadyWork() {
			cx.Waker().Wake()
		}
	})
	return v, ok
}
