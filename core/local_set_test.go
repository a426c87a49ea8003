package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func getGoroutineID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	// Parse "goroutine 123 [running]:"
	var id uint64
	for i := len("goroutine "); i < len(b); i++ {
		if b[i] >= '0' && b[i] <= '9' {
			id = id*10 + uint64(b[i]-'0')
		} else {
			break
		}
	}
	return id
}

func quietConfig(name string) *LocalSetConfig {
	return &LocalSetConfig{
		Name:                name,
		PanicHandler:        NewTestPanicHandler(),
		RejectedTaskHandler: NewTestRejectedTaskHandler(),
	}
}

// pending returns a future that stays pending until sig fires.
func pending(sig *Signal) Future[int] {
	return Map(sig.Wait(), func(struct{}) int { return 1 })
}

func recoverError(t *testing.T, f func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		e, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		err = e
	}()
	f()
	return nil
}

// =============================================================================
// Activation
// =============================================================================

// TestEnter_ActivatesAndRestores verifies ambient discovery of the driven set
// Given: A LocalSet scheduler
// When: Enter runs a function and the context escapes it
// Then: The scheduler is current inside, and the escaped context resolves to none
func TestEnter_ActivatesAndRestores(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("outer"))
	defer ls.Close()
	s := ls.Scheduler()
	ctx := context.Background()
	require.Nil(t, CurrentScheduler(ctx))

	// Act
	var leaked context.Context
	s.Enter(ctx, func(ctx context.Context) {
		assert.Same(t, s, CurrentScheduler(ctx))
		assert.True(t, s.IsActive(ctx))
		assert.True(t, s.IsDriving())
		leaked = ctx
	})

	// Assert
	assert.Nil(t, CurrentScheduler(leaked))
	assert.False(t, s.IsActive(leaked))
	assert.False(t, s.IsDriving())
}

// TestEnter_Nested verifies that an inner activation shadows the outer one
// Given: Two LocalSets
// When: The second is entered while the first is active
// Then: The inner context sees the second, the outer context still sees the first
func TestEnter_Nested(t *testing.T) {
	// Arrange
	a := NewLocalSetWithConfig(quietConfig("a"))
	b := NewLocalSetWithConfig(quietConfig("b"))
	defer a.Close()
	defer b.Close()

	// Act and Assert
	a.Scheduler().Enter(context.Background(), func(outer context.Context) {
		b.Scheduler().Enter(outer, func(inner context.Context) {
			assert.Same(t, b.Scheduler(), CurrentScheduler(inner))
			assert.False(t, a.Scheduler().IsActive(inner))
		})
		assert.Same(t, a.Scheduler(), CurrentScheduler(outer))
	})
}

// TestEnter_RestoresOnPanic verifies cleanup during panic unwinding
// Given: A LocalSet scheduler
// When: The function passed to Enter panics
// Then: The panic propagates and the scheduler is no longer active or driven
func TestEnter_RestoresOnPanic(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("panicky"))
	defer ls.Close()
	s := ls.Scheduler()
	var leaked context.Context

	// Act
	assert.PanicsWithValue(t, "boom", func() {
		s.Enter(context.Background(), func(ctx context.Context) {
			leaked = ctx
			panic("boom")
		})
	})

	// Assert
	assert.False(t, s.IsDriving())
	assert.Nil(t, CurrentScheduler(leaked))
}

// TestEnter_SecondDriverPanics verifies the single-driver rule
// Given: A scheduler that is being driven
// When: Enter is called again, on the same goroutine and on another one
// Then: Both calls panic and the original drive cycle is unaffected
func TestEnter_SecondDriverPanics(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("single"))
	defer ls.Close()
	s := ls.Scheduler()

	// Act and Assert
	s.Enter(context.Background(), func(ctx context.Context) {
		assert.Panics(t, func() { s.Enter(ctx, func(context.Context) {}) })

		panicked := make(chan bool, 1)
		go func() {
			defer func() { panicked <- recover() != nil }()
			s.Enter(context.Background(), func(context.Context) {})
		}()
		assert.True(t, <-panicked)
		assert.True(t, s.IsActive(ctx))
	})
	assert.False(t, s.IsDriving())
}

// TestSpawn_FromAnotherGoroutineWhileDrivenPanics verifies the single-owner rule
// Given: A LocalSet being driven
// When: Another goroutine spawns onto it
// Then: The spawn panics and the set keeps only its own task
func TestSpawn_FromAnotherGoroutineWhileDrivenPanics(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("foreign-spawn"))
	defer ls.Close()
	s := ls.Scheduler()

	// Act
	var recovered any
	s.Enter(context.Background(), func(ctx context.Context) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() { recovered = recover() }()
			Spawn(ls, Ready(1))
		}()
		<-done
	})

	// Assert
	require.NotNil(t, recovered)
	assert.Contains(t, fmt.Sprint(recovered), "owns it")
	assert.Equal(t, 0, s.Stats().Tasks)
}

// TestEnter_WhileSpawnClaimedPanics verifies a spawn outside a drive cycle owns the set
// Given: A LocalSet claimed by a spawn in progress on the test goroutine
// When: Another goroutine enters it, and the claim is then released
// Then: The concurrent Enter panics, and a later Enter succeeds
func TestEnter_WhileSpawnClaimedPanics(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("claimed"))
	defer ls.Close()
	s := ls.Scheduler()

	require.True(t, s.claim())
	require.False(t, s.claim())
	panicked := make(chan bool, 1)
	go func() {
		defer func() { panicked <- recover() != nil }()
		s.Enter(context.Background(), func(context.Context) {})
	}()
	assert.True(t, <-panicked)
	s.unclaim()

	assert.False(t, s.IsDriving())
	assert.NotPanics(t, func() { s.Enter(context.Background(), func(context.Context) {}) })
}

// TestSpawnLocal_WithoutActiveSet verifies the ambient spawn precondition
// Given: No LocalSet is being driven
// When: SpawnLocal is called
// Then: It panics with an error wrapping ErrNoActiveLocalSet
func TestSpawnLocal_WithoutActiveSet(t *testing.T) {
	err := recoverError(t, func() {
		SpawnLocal(context.Background(), Ready(1))
	})
	assert.ErrorIs(t, err, ErrNoActiveLocalSet)
}

// =============================================================================
// Tick
// =============================================================================

// TestTick_OutsideDriveCyclePanics verifies Tick requires activation
// Given: A LocalSet that is not being driven
// When: Tick is called with a plain context or another set's context
// Then: Tick panics
func TestTick_OutsideDriveCyclePanics(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("idle"))
	other := NewLocalSetWithConfig(quietConfig("other"))
	defer ls.Close()
	defer other.Close()

	// Act and Assert
	assert.Panics(t, func() { ls.Scheduler().Tick(context.Background()) })
	other.Scheduler().Enter(context.Background(), func(ctx context.Context) {
		assert.Panics(t, func() { ls.Scheduler().Tick(ctx) })
	})
}

// TestTick_BoundedDrain verifies a tick polls at most MaxTasksPerTick tasks
// Given: 62 ready tasks
// When: One tick runs, then another
// Then: The first tick polls 61 and leaves 1 queued, the second polls the last one
func TestTick_BoundedDrain(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("bounded"))
	defer ls.Close()
	var ran atomic.Int32
	handles := make([]*JoinHandle[int], 0, 62)
	for i := range 62 {
		handles = append(handles, Spawn(ls, Func(func(context.Context) int {
			ran.Add(1)
			return i
		})))
	}
	s := ls.Scheduler()

	// Act
	var first, second int
	var afterFirst LocalSetStats
	s.Enter(context.Background(), func(ctx context.Context) {
		first = s.Tick(ctx)
		afterFirst = s.Stats()
		second = s.Tick(ctx)
	})

	// Assert
	assert.Equal(t, DefaultMaxTasksPerTick, first)
	assert.Equal(t, 1, afterFirst.Queued)
	assert.Equal(t, 1, afterFirst.Tasks)
	assert.Equal(t, 1, second)
	assert.EqualValues(t, 62, ran.Load())
	for i, h := range handles {
		v, err := h.TryResult()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	st := s.Stats()
	assert.Equal(t, 0, st.Tasks)
	assert.Equal(t, 0, st.Queued)
	assert.EqualValues(t, 62, st.Completed)
	assert.EqualValues(t, 2, st.Ticks)

	ticks := ls.RecentTicks(0)
	require.Len(t, ticks, 2)
	assert.Equal(t, 1, ticks[0].Polled)
	assert.Equal(t, 61, ticks[1].Polled)
	assert.Equal(t, 1, ticks[1].QueueLeft)
}

// TestTick_ReportsMetrics verifies every tick reaches the Metrics sink
// Given: A LocalSet with a tick bound of 2 and 3 ready tasks
// When: Two ticks run
// Then: Each poll, tick size and leftover queue depth is recorded
func TestTick_ReportsMetrics(t *testing.T) {
	// Arrange
	metrics := NewTestMetrics()
	cfg := quietConfig("metered")
	cfg.Metrics = metrics
	cfg.MaxTasksPerTick = 2
	ls := NewLocalSetWithConfig(cfg)
	defer ls.Close()
	for i := range 3 {
		Spawn(ls, Ready(i))
	}
	s := ls.Scheduler()

	// Act
	s.Enter(context.Background(), func(ctx context.Context) {
		s.Tick(ctx)
		s.Tick(ctx)
	})

	// Assert
	assert.Len(t, metrics.GetTaskDurations(), 3)
	ticks := metrics.GetTicks()
	require.Len(t, ticks, 2)
	assert.Equal(t, TickMetric{RunnerName: "metered", Polled: 2}, ticks[0])
	assert.Equal(t, TickMetric{RunnerName: "metered", Polled: 1}, ticks[1])
	assert.Equal(t, []QueueDepthMetric{
		{RunnerName: "metered", Depth: 1},
		{RunnerName: "metered", Depth: 0},
	}, metrics.GetQueueDepths())
}

// TestTick_EmptyQueue verifies an empty tick returns immediately
// Given: A LocalSet with no tasks
// When: A tick runs
// Then: It polls nothing
func TestTick_EmptyQueue(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("empty"))
	defer ls.Close()
	s := ls.Scheduler()

	s.Enter(context.Background(), func(ctx context.Context) {
		assert.Equal(t, 0, s.Tick(ctx))
	})
}

// TestTick_RoundRobin verifies FIFO order and re-queueing of self-woken tasks
// Given: Three tasks that each record a step, yield, and record another step
// When: One tick runs
// Then: Every first step runs before any second step, in spawn order
func TestTick_RoundRobin(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("fifo"))
	defer ls.Close()
	var order []string
	step := func(name string) Future[struct{}] {
		return Then(Func(func(context.Context) struct{} {
			order = append(order, name+"1")
			return struct{}{}
		}), func(context.Context, struct{}) Future[struct{}] {
			return Map(Yield(), func(struct{}) struct{} {
				order = append(order, name+"2")
				return struct{}{}
			})
		})
	}
	for _, name := range []string{"A", "B", "C"} {
		Spawn(ls, step(name))
	}
	s := ls.Scheduler()

	// Act
	var polled int
	s.Enter(context.Background(), func(ctx context.Context) {
		polled = s.Tick(ctx)
	})

	// Assert
	assert.Equal(t, 6, polled)
	assert.Equal(t, []string{"A1", "B1", "C1", "A2", "B2", "C2"}, order)
	last, ok := s.LastTick()
	require.True(t, ok)
	assert.Equal(t, 3, last.Requeued)
	assert.Equal(t, 3, last.Completed)
}

// TestTick_PendingTaskStaysRegistered verifies idle tasks leave the queue
// Given: A task waiting on a signal
// When: It is polled, then the signal fires from another goroutine
// Then: It is only registered while idle, and the wake brings it back
func TestTick_PendingTaskStaysRegistered(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("idle-task"))
	defer ls.Close()
	sig := &Signal{}
	h := Spawn(ls, pending(sig))
	s := ls.Scheduler()

	// Act
	s.Enter(context.Background(), func(ctx context.Context) {
		assert.Equal(t, 1, s.Tick(ctx))
	})
	idle := s.Stats()

	done := make(chan struct{})
	go func() {
		sig.Fire()
		close(done)
	}()
	<-done
	woken := s.Stats()

	s.Enter(context.Background(), func(ctx context.Context) {
		assert.Equal(t, 1, s.Tick(ctx))
	})

	// Assert
	assert.Equal(t, 1, idle.Tasks)
	assert.Equal(t, 0, idle.Queued)
	assert.Equal(t, 1, woken.Queued)
	v, err := h.TryResult()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

// TestTick_PanicIsolation verifies a panicking task does not disturb others
// Given: Three tasks, the middle one panics
// When: A tick runs
// Then: The panic is captured in that task's handle and reported, the others complete
func TestTick_PanicIsolation(t *testing.T) {
	// Arrange
	panics := NewTestPanicHandler()
	metrics := NewTestMetrics()
	ls := NewLocalSetWithConfig(&LocalSetConfig{
		Name:         "isolated",
		PanicHandler: panics,
		Metrics:      metrics,
	})
	defer ls.Close()

	h1 := Spawn(ls, Ready("one"))
	h2 := Spawn(ls, Func(func(context.Context) string { panic("boom") }))
	h3 := Spawn(ls, Ready("three"))
	s := ls.Scheduler()

	// Act
	var polled int
	s.Enter(context.Background(), func(ctx context.Context) {
		polled = s.Tick(ctx)
	})

	// Assert
	assert.Equal(t, 3, polled)
	v1, err := h1.TryResult()
	require.NoError(t, err)
	assert.Equal(t, "one", v1)
	v3, err := h3.TryResult()
	require.NoError(t, err)
	assert.Equal(t, "three", v3)

	_, err = h2.TryResult()
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.Equal(t, h2.ID(), pe.TaskID)
	assert.NotEmpty(t, pe.Stack)

	calls := panics.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "isolated", calls[0].RunnerName)
	assert.Equal(t, -1, calls[0].WorkerID)
	assert.Len(t, metrics.GetTaskPanics(), 1)
	assert.EqualValues(t, 1, s.Stats().Panicked)
	assert.Equal(t, 0, s.Stats().Tasks)
}

// TestRelease_IsFatal verifies off-thread release is rejected
// Given: A task bound to a LocalSet
// When: release is called on it
// Then: It panics
func TestRelease_IsFatal(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("release"))
	defer ls.Close()
	task, _ := newTask(Ready(1), ls.Scheduler())

	assert.Panics(t, func() { ls.Scheduler().release(task) })
}

// =============================================================================
// Teardown
// =============================================================================

// TestClose_CancelsEveryTaskOnce verifies teardown of queued, woken and idle tasks
// Given: One never-polled task, one idle task, and one idle task that was woken
// When: The last handle is closed
// Then: Every handle reports ErrCancelled and each task is cancelled exactly once
func TestClose_CancelsEveryTaskOnce(t *testing.T) {
	// Arrange
	metrics := NewTestMetrics()
	cfg := quietConfig("teardown")
	cfg.Metrics = metrics
	ls := NewLocalSetWithConfig(cfg)
	s := ls.Scheduler()

	idleSig, wokenSig := &Signal{}, &Signal{}
	var polled atomic.Int32
	idle := Spawn(ls, Then(Func(func(context.Context) struct{} {
		polled.Add(1)
		return struct{}{}
	}), func(context.Context, struct{}) Future[int] { return pending(idleSig) }))
	woken := Spawn(ls, Then(Func(func(context.Context) struct{} {
		polled.Add(1)
		return struct{}{}
	}), func(context.Context, struct{}) Future[int] {
		return Then(pending(wokenSig), func(context.Context, int) Future[int] {
			polled.Add(1)
			return pending(&Signal{})
		})
	}))
	s.Enter(context.Background(), func(ctx context.Context) { s.Tick(ctx) })
	queued := Spawn(ls, Func(func(context.Context) int {
		polled.Add(1)
		return 0
	}))
	wokenSig.Fire()
	require.Equal(t, 2, s.Stats().Queued)

	// Act
	ls.Close()

	// Assert
	for _, h := range []*JoinHandle[int]{idle, woken, queued} {
		_, err := h.TryResult()
		assert.ErrorIs(t, err, ErrCancelled)
	}
	assert.EqualValues(t, 2, polled.Load(), "teardown must not poll")
	st := s.Stats()
	assert.True(t, st.Closed)
	assert.Equal(t, 0, st.Tasks)
	assert.Equal(t, 0, st.Queued)
	assert.EqualValues(t, 3, st.Cancelled)
	assert.Len(t, metrics.GetCancellations(), 3)

	// A late wake after teardown is dropped.
	idleSig.Fire()
	assert.Equal(t, 0, s.Stats().Queued)
}

// TestClose_CancelsNestedChain verifies teardown reaches recursively spawned tasks
// Given: A task chain four SpawnLocal levels deep, the leaf suspended on a signal
// When: The last handle is closed
// Then: Every handle in the chain reports ErrCancelled and each task is cancelled once
func TestClose_CancelsNestedChain(t *testing.T) {
	// Arrange
	metrics := NewTestMetrics()
	cfg := quietConfig("nested-teardown")
	cfg.Metrics = metrics
	ls := NewLocalSetWithConfig(cfg)
	s := ls.Scheduler()
	leaf := &Signal{}

	var chain []*JoinHandle[int]
	var nest func(depth int) Future[int]
	nest = func(depth int) Future[int] {
		return Lazy(func(ctx context.Context) Future[int] {
			if depth == 4 {
				return pending(leaf)
			}
			child := SpawnLocal(ctx, nest(depth+1))
			chain = append(chain, child)
			return child.Await()
		})
	}
	chain = append(chain, Spawn(ls, nest(1)))
	for range 4 {
		s.Enter(context.Background(), func(ctx context.Context) { s.Tick(ctx) })
	}
	require.Len(t, chain, 4)
	require.Equal(t, 4, s.Stats().Tasks)
	require.Equal(t, 0, s.Stats().Queued)

	// Act
	ls.Close()

	// Assert
	for i, h := range chain {
		require.True(t, h.IsFinished(), "level %d", i+1)
		_, err := h.TryResult()
		assert.ErrorIs(t, err, ErrCancelled, "level %d", i+1)
		var pe *PanicError
		assert.False(t, errors.As(err, &pe), "level %d was polled after its child was cancelled", i+1)
	}
	st := s.Stats()
	assert.Equal(t, 0, st.Tasks)
	assert.EqualValues(t, 4, st.Cancelled)
	assert.EqualValues(t, 0, st.Completed)
	assert.Len(t, metrics.GetCancellations(), 4)
}

// TestClose_SharedOwnership verifies the last handle tears down
// Given: A LocalSet and a clone
// When: The clone is closed, then the original
// Then: Tasks survive the first Close and are cancelled by the second
func TestClose_SharedOwnership(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("shared"))
	clone := ls.Clone()
	h := Spawn(clone, Ready(7))
	require.Equal(t, 2, ls.Stats().Handles)

	// Act
	clone.Close()
	clone.Close()

	// Assert
	assert.False(t, ls.Stats().Closed)
	assert.False(t, h.IsFinished())
	assert.Panics(t, func() { Spawn(clone, Ready(1)) })

	ls.Close()
	assert.True(t, ls.Stats().Closed)
	_, err := h.TryResult()
	assert.ErrorIs(t, err, ErrCancelled)
}

// TestClose_WhileDrivingPanics verifies teardown is refused during a drive cycle
// Given: A LocalSet with a suspended task, being driven by BlockOn
// When: Its last handle is closed from inside the drive cycle, then again afterwards
// Then: The first Close panics and leaves the handle open, the second cancels the task
func TestClose_WhileDrivingPanics(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("busy"))
	rt := NewCurrentThread()
	defer rt.Shutdown()
	h := Spawn(ls, pending(&Signal{}))

	// Act
	assert.Panics(t, func() {
		_, _ = BlockOn(ls, rt, context.Background(), Func(func(context.Context) int {
			ls.Close()
			return 0
		}))
	})

	// Assert
	st := ls.Stats()
	assert.False(t, st.Closed)
	assert.Equal(t, 1, st.Handles)
	assert.Equal(t, 1, st.Tasks)
	assert.False(t, h.IsFinished())

	ls.Close()
	assert.True(t, ls.Stats().Closed)
	_, err := h.TryResult()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.EqualValues(t, 1, ls.Stats().Cancelled)
}

// TestAbort verifies per-task cancellation through the join handle
// Given: A task suspended on a signal and a task that was never polled
// When: Both handles are aborted and the set ticks
// Then: Both report ErrCancelled and the never-polled task is never polled
func TestAbort(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("abort"))
	defer ls.Close()
	s := ls.Scheduler()
	suspended := Spawn(ls, pending(&Signal{}))
	s.Enter(context.Background(), func(ctx context.Context) { s.Tick(ctx) })

	var polled atomic.Bool
	fresh := Spawn(ls, Func(func(context.Context) int {
		polled.Store(true)
		return 1
	}))

	// Act
	suspended.Abort()
	fresh.Abort()
	s.Enter(context.Background(), func(ctx context.Context) { s.Tick(ctx) })

	// Assert
	_, err := suspended.TryResult()
	assert.ErrorIs(t, err, ErrCancelled)
	_, err = fresh.TryResult()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, polled.Load())
	assert.Equal(t, 0, s.Stats().Tasks)
	assert.EqualValues(t, 2, s.Stats().Cancelled)
}

// =============================================================================
// BlockOn
// =============================================================================

// TestBlockOn_RunsLocalTasksOnCallingGoroutine verifies thread affinity across drives
// Given: A LocalSet driven by 128 consecutive BlockOn calls
// When: Each call spawns two local tasks and awaits them
// Then: Every task runs on the goroutine that called BlockOn
func TestBlockOn_RunsLocalTasksOnCallingGoroutine(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("reentrant"))
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()
	want := getGoroutineID()

	// Act and Assert
	for i := range 128 {
		got, err := BlockOn(ls, rt, context.Background(), Lazy(func(ctx context.Context) Future[[]uint64] {
			marker := Func(func(context.Context) uint64 { return getGoroutineID() })
			return JoinAll(
				SpawnLocal(ctx, marker).Await(),
				SpawnLocal(ctx, marker).Await(),
			)
		}))
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, []uint64{want, want}, got, "iteration %d", i)
	}
	assert.Equal(t, 0, ls.Stats().Tasks)
}

// TestBlockOn_SameThread verifies all polls happen on one OS thread
// Given: A LocalSet with several tasks that yield
// When: BlockOn drives them
// Then: They all observe the OS thread the main future runs on
func TestBlockOn_SameThread(t *testing.T) {
	if currentThreadID() == 0 {
		t.Skip("thread ids unavailable on this platform")
	}
	ls := NewLocalSetWithConfig(quietConfig("thread"))
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()

	seen := make(map[int64]bool)
	_, err := BlockOn(ls, rt, context.Background(), Lazy(func(ctx context.Context) Future[[]struct{}] {
		seen[currentThreadID()] = true
		futs := make([]Future[struct{}], 0, 8)
		for range 8 {
			futs = append(futs, SpawnLocal(ctx, Then(Yield(), func(context.Context, struct{}) Future[struct{}] {
				seen[currentThreadID()] = true
				return Ready(struct{}{})
			})).Await())
		}
		return JoinAll(futs...)
	}))

	require.NoError(t, err)
	assert.Len(t, seen, 1)
}

// TestBlockOn_NestedSpawn verifies spawning from inside local tasks
// Given: A task that spawns a child, which spawns a grandchild, four levels deep
// When: BlockOn awaits the outermost task
// Then: The depth reported from the bottom propagates back up
func TestBlockOn_NestedSpawn(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("nested"))
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()

	var nest func(depth int) Future[int]
	nest = func(depth int) Future[int] {
		return Lazy(func(ctx context.Context) Future[int] {
			if depth == 4 {
				return Ready(depth)
			}
			return SpawnLocal(ctx, nest(depth+1)).Await()
		})
	}

	got, err := BlockOn(ls, rt, context.Background(), nest(1))
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.EqualValues(t, 3, ls.Stats().Completed)
}

// TestBlockOn_Sleep verifies local tasks can wait on host timers
// Given: A local task that sleeps 30ms on the host runtime
// When: BlockOn awaits it
// Then: It completes after at least 30ms
func TestBlockOn_Sleep(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("sleep"))
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()

	start := time.Now()
	got, err := BlockOn(ls, rt, context.Background(), Lazy(func(ctx context.Context) Future[string] {
		return SpawnLocal(ctx, Then(rt.Sleep(30*time.Millisecond), func(context.Context, struct{}) Future[string] {
			return Ready("slept")
		})).Await()
	}))

	require.NoError(t, err)
	assert.Equal(t, "slept", got)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

// TestBlockOn_CrossGoroutineWake verifies wakes from other goroutines reach the set
// Given: A local task waiting on a signal fired by another goroutine
// When: BlockOn awaits it with the default configuration
// Then: It completes, and the set kept ticking while it waited
func TestBlockOn_CrossGoroutineWake(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("wake"))
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()
	sig := &Signal{}

	go func() {
		time.Sleep(20 * time.Millisecond)
		sig.Fire()
	}()
	got, err := BlockOn(ls, rt, context.Background(), Lazy(func(ctx context.Context) Future[int] {
		return SpawnLocal(ctx, pending(sig)).Await()
	}))

	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Greater(t, ls.Stats().Ticks, uint64(3))
}

// TestBlockOn_RepollsUnarmedMainFuture verifies the driver asks for a poll after every tick
// Given: A main future that completes on its third poll and never touches its waker
// When: BlockOn drives it with the default configuration
// Then: It completes instead of waiting for a wake that never comes
func TestBlockOn_RepollsUnarmedMainFuture(t *testing.T) {
	// Arrange
	ls := NewLocalSetWithConfig(quietConfig("unarmed"))
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	polls := 0
	fut := FutureFunc[int](func(*PollContext) (int, bool) {
		polls++
		return polls, polls == 3
	})

	// Act
	got, err := BlockOn(ls, rt, ctx, fut)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.EqualValues(t, 3, ls.Stats().Ticks)
}

// TestBlockOn_WaitForWake verifies the quiet driving mode
// Given: A LocalSet configured with WaitForWake
// When: BlockOn waits 20ms for a signal fired by another goroutine
// Then: It completes through the driver waker without spinning
func TestBlockOn_WaitForWake(t *testing.T) {
	cfg := quietConfig("quiet")
	cfg.WaitForWake = true
	ls := NewLocalSetWithConfig(cfg)
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()
	sig := &Signal{}

	go func() {
		time.Sleep(20 * time.Millisecond)
		sig.Fire()
	}()
	got, err := BlockOn(ls, rt, context.Background(), Lazy(func(ctx context.Context) Future[int] {
		return SpawnLocal(ctx, pending(sig)).Await()
	}))

	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.LessOrEqual(t, ls.Stats().Ticks, uint64(3))
}

// TestBlockOn_WaitForWakeStallsUnarmedMainFuture documents the cost of the quiet mode
// Given: A WaitForWake LocalSet and a main future that never arms its waker
// When: BlockOn drives it under a short deadline
// Then: The future is polled once and BlockOn reports the deadline
func TestBlockOn_WaitForWakeStallsUnarmedMainFuture(t *testing.T) {
	cfg := quietConfig("quiet-stall")
	cfg.WaitForWake = true
	ls := NewLocalSetWithConfig(cfg)
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	polls := 0
	_, err := BlockOn(ls, rt, ctx, FutureFunc[int](func(*PollContext) (int, bool) {
		polls++
		return polls, polls == 3
	}))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, polls)
}

// TestBlockOn_ResumesAfterCancelledDrive verifies tasks outlive a drive cycle
// Given: A BlockOn whose context expires while a local task is suspended
// When: The task's signal fires and BlockOn is called again
// Then: The first call reports the context error and the second finishes the task
func TestBlockOn_ResumesAfterCancelledDrive(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("resume"))
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()
	sig := &Signal{}
	h := Spawn(ls, pending(sig))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := BlockOn(ls, rt, ctx, Map[Result[int], int](h, Result[int].Unwrap))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, ls.Stats().Tasks)
	assert.False(t, ls.Scheduler().IsDriving())

	sig.Fire()
	got, err := BlockOn(ls, rt, context.Background(), h.Await())
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

// TestBlockOn_NestedDrivePanics verifies blocking inside a task is refused
// Given: A local task that calls BlockOn on another LocalSet
// When: The outer BlockOn drives it
// Then: The task fails with a PanicError and the outer drive completes
func TestBlockOn_NestedDrivePanics(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("outer"))
	inner := NewLocalSetWithConfig(quietConfig("inner"))
	defer ls.Close()
	defer inner.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()

	res, err := BlockOn(ls, rt, context.Background(), Lazy(func(ctx context.Context) Future[Result[int]] {
		return SpawnLocal(ctx, Func(func(ctx context.Context) int {
			v, _ := BlockOn(inner, rt, ctx, Ready(1))
			return v
		}))
	}))

	require.NoError(t, err)
	var pe *PanicError
	require.ErrorAs(t, res.Err, &pe)
	assert.Contains(t, fmt.Sprint(pe.Value), "within a running Drive")
}

// TestBlockOn_MainFuturePanics verifies panics in the main future reach the caller
// Given: A main future that panics
// When: BlockOn drives it
// Then: The panic propagates and the set can be driven again
func TestBlockOn_MainFuturePanics(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("main-panic"))
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()

	assert.PanicsWithValue(t, "main", func() {
		_, _ = BlockOn(ls, rt, context.Background(), Func(func(context.Context) int { panic("main") }))
	})
	assert.False(t, ls.Scheduler().IsDriving())

	got, err := BlockOn(ls, rt, context.Background(), Ready(2))
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

// TestSpawnLocal_LeakedContext verifies contexts do not outlive their drive cycle
// Given: A context captured inside BlockOn
// When: SpawnLocal is called with it after BlockOn returned
// Then: It panics with ErrNoActiveLocalSet
func TestSpawnLocal_LeakedContext(t *testing.T) {
	ls := NewLocalSetWithConfig(quietConfig("leak"))
	defer ls.Close()
	rt := NewCurrentThread()
	defer rt.Shutdown()

	leaked, err := BlockOn(ls, rt, context.Background(), Func(func(ctx context.Context) context.Context { return ctx }))
	require.NoError(t, err)

	err = recoverError(t, func() { SpawnLocal(leaked, Ready(1)) })
	assert.True(t, errors.Is(err, ErrNoActiveLocalSet))
}
