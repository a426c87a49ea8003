package core

import (
	"context"
	"runtime"
	"time"
)

// HostRuntime drives a future to completion on the calling goroutine.
// BlockOn uses it to drive a LocalSet.
type HostRuntime interface {
	// Run polls fut until it completes or ctx is done.
	Run(ctx context.Context, fut Future[struct{}]) error
}

// Sleeper is a HostRuntime that also provides timers.
type Sleeper interface {
	HostRuntime
	Sleep(d time.Duration) Future[struct{}]
}

type driveKeyType struct{}

var driveKey driveKeyType

// Drive polls fut on the calling goroutine until it completes, parking
// between polls until fut's waker is woken. The goroutine stays locked to
// its OS thread throughout. Drive returns ctx.Err() if ctx ends first.
//
// Drive panics when ctx comes from inside another Drive: blocking a task
// on a nested drive would stall the runtime that is polling it.
func Drive(ctx context.Context, fut Future[struct{}]) error {
	if ctx.Value(driveKey) != nil {
		panic("core: Drive called from within a running Drive; await the future instead")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctx = context.WithValue(ctx, driveKey, struct{}{})
	unpark := make(chan struct{}, 1)
	waker := WakerFunc(func() {
		select {
		case unpark <- struct{}{}:
		default:
		}
	})
	cx := NewPollContext(ctx, waker)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := fut.Poll(cx); ok {
			return nil
		}
		select {
		case <-unpark:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// InDrive reports whether ctx belongs to a running Drive.
func InDrive(ctx context.Context) bool {
	return ctx != nil && ctx.Value(driveKey) != nil
}

// =============================================================================
// CurrentThread: single-goroutine host runtime with timers
// =============================================================================

// CurrentThread is a HostRuntime that runs everything on the goroutine
// calling Run. Timers fire on a helper goroutine and only wake futures.
type CurrentThread struct {
	delays *DelayManager
}

// NewCurrentThread creates a CurrentThread runtime. Call Shutdown to stop
// its timer goroutine.
func NewCurrentThread() *CurrentThread {
	return &CurrentThread{delays: NewDelayManager()}
}

// Run implements HostRuntime.
func (rt *CurrentThread) Run(ctx context.Context, fut Future[struct{}]) error {
	return Drive(ctx, fut)
}

// Sleep returns a future that completes once d has elapsed.
func (rt *CurrentThread) Sleep(d time.Duration) Future[struct{}] {
	return SleepOn(rt.delays, d)
}

// Shutdown stops the timer goroutine. Pending sleeps never complete.
func (rt *CurrentThread) Shutdown() {
	rt.delays.Stop()
}

// SleepOn returns a future that completes once d has elapsed, timed by dm.
// The timer starts on the first poll. A non-positive d completes at once.
func SleepOn(dm *DelayManager, d time.Duration) Future[struct{}] {
	var wait Future[struct{}]
	return FutureFunc[struct{}](func(cx *PollContext) (struct{}, bool) {
		if d <= 0 {
			return struct{}{}, true
		}
		if wait == nil {
			sig := &Signal{}
			dm.AfterFunc(d, sig.Fire)
			wait = sig.Wait()
		}
		return wait.Poll(cx)
	})
}
