// Package localset runs goroutine-bound futures on a single goroutine.
//
// A LocalSet is a set of tasks that may hold state which must never cross
// goroutines or OS threads: cgo handles with thread-local state, objects
// guarded by nothing but "only one goroutine touches me", and so on. Tasks
// are polled only while some goroutine drives the set with BlockOn, and
// that goroutine stays locked to its OS thread for the whole drive.
//
// # Quick Start
//
// Create a LocalSet and drive it with a host runtime:
//
//	ls := localset.NewLocalSet()
//	defer ls.Close()
//
//	rt := core.NewCurrentThread()
//	defer rt.Shutdown()
//
//	out, err := localset.BlockOn(ls, rt, context.Background(),
//		localset.Lazy(func(ctx context.Context) localset.Future[int] {
//			h := localset.SpawnLocal(ctx, localset.Ready(41))
//			return localset.Map(h.Await(), func(v int) int { return v + 1 })
//		}))
//
// # Key Concepts
//
// Future: a value polled by a scheduler until it is ready. A future that is
// not ready keeps the Waker from its PollContext and wakes it later, from
// any goroutine.
//
// LocalSet: the set of tasks and its scheduler. Each drive cycle runs a
// bounded Tick (at most MaxTasksPerTick polls) before the main future is
// polled, so a busy set cannot starve it.
//
// SpawnLocal: spawns onto the set driving the calling goroutine, found
// through the context handed to every poll.
//
// Runtime: a multi-worker runtime for send futures (SpawnShared) and plain
// closures (PostTask). It is also a host runtime with timers, so local
// tasks can Sleep and await pool tasks.
//
// LocalThread: a LocalSet driven by its own goroutine, for spawning
// thread-bound work (SpawnPinned) from anywhere.
//
// # Thread Safety
//
// A LocalSet is not safe for concurrent use: spawn onto it and drive it from
// one goroutine at a time. JoinHandles and wakers may be used from any
// goroutine. Closing the last handle to a set cancels every task that has
// not completed; their JoinHandles report ErrCancelled.
package localset
