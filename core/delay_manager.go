package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Poster accepts closures for execution, typically a runtime's TaskScheduler.
type Poster interface {
	PostInternal(task Task)
}

type timer struct {
	deadline time.Time
	fire     func()
	index    int
}

// timerHeap is a min-heap of timers ordered by deadline.
type timerHeap []*timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	last := len(old) - 1
	t := old[last]
	old[last] = nil // drop the callback reference
	t.index = -1
	*h = old[:last]
	return t
}

func (h timerHeap) earliest() *timer {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// DelayManager runs callbacks after a delay from a single timer goroutine.
// Host runtimes use it to implement Sleep; callbacks must not block.
type DelayManager struct {
	timers timerHeap
	mu     sync.Mutex
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDelayManager() *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	go dm.loop()
	return dm
}

// AfterFunc calls f on the timer goroutine once delay has elapsed.
// It reports false if the manager has been stopped.
func (dm *DelayManager) AfterFunc(delay time.Duration, f func()) bool {
	if dm.ctx.Err() != nil {
		return false
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	t := &timer{deadline: time.Now().Add(delay), fire: f}
	heap.Push(&dm.timers, t)

	// A new earliest deadline means the loop has to re-arm.
	if t.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return true
}

// AddDelayedTask posts task to target once delay has elapsed.
func (dm *DelayManager) AddDelayedTask(task Task, delay time.Duration, target Poster) bool {
	return dm.AfterFunc(delay, func() { target.PostInternal(task) })
}

func (dm *DelayManager) loop() {
	clock := time.NewTimer(time.Hour)
	clock.Stop()

	for {
		wait, ok := dm.nextWait()
		if !ok {
			// Nothing scheduled; sleep until AfterFunc wakes us.
			wait = time.Hour
		}

		clock.Reset(wait)

		select {
		case <-dm.ctx.Done():
			clock.Stop()
			return
		case <-clock.C:
			dm.fireDue()
		case <-dm.wakeup:
			if !clock.Stop() {
				select {
				case <-clock.C:
				default:
				}
			}
		}
	}
}

// nextWait returns how long to wait for the earliest callback, which is 0
// when it is already due. ok is false when nothing is scheduled.
func (dm *DelayManager) nextWait() (wait time.Duration, ok bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	t := dm.timers.earliest()
	if t == nil {
		return 0, false
	}

	wait = time.Until(t.deadline)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// fireDue runs every callback whose deadline has passed
func (dm *DelayManager) fireDue() {
	dm.mu.Lock()

	now := time.Now()
	// Fired outside the lock; callbacks may re-arm
	var due []*timer
	for t := dm.timers.earliest(); t != nil && !t.deadline.After(now); t = dm.timers.earliest() {
		heap.Pop(&dm.timers)
		due = append(due, t)
	}

	dm.mu.Unlock()

	for _, t := range due {
		t.fire()
	}
}

// Stop ends the timer goroutine. Callbacks not yet fired are dropped.
func (dm *DelayManager) Stop() {
	dm.cancel()

	dm.mu.Lock()
	dm.timers = nil
	dm.mu.Unlock()
}

// Pending returns the number of callbacks that have not fired yet.
func (dm *DelayManager) Pending() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.timers)
}
