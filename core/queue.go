package core

import (
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// =============================================================================
// FIFOQueue: mutex-guarded FIFO shared between goroutines
// =============================================================================

// FIFOQueue is a goroutine-safe FIFO. Once closed it rejects new items.
type FIFOQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
}

func NewFIFOQueue[T any]() *FIFOQueue[T] {
	return &FIFOQueue[T]{
		items: make([]T, 0, defaultQueueCap),
	}
}

// Push appends v. It reports false if the queue is closed.
func (q *FIFOQueue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	return true
}

func (q *FIFOQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.items[0] = zero
	q.items = q.items[1:]
	q.maybeCompactLocked()

	return item, true
}

// PopUpTo removes at most max items from the front.
func (q *FIFOQueue[T]) PopUpTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 || max <= 0 {
		return nil
	}
	if n > max {
		n = max
	}

	batch := make([]T, n)
	copy(batch, q.items[:n])

	var zero T
	for i := range n {
		q.items[i] = zero
	}
	q.items = q.items[n:]
	q.maybeCompactLocked()

	return batch
}

// PopAll removes and returns every queued item.
func (q *FIFOQueue[T]) PopAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked()
}

// Close rejects further pushes and returns whatever was still queued.
func (q *FIFOQueue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return q.takeLocked()
}

func (q *FIFOQueue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *FIFOQueue[T]) takeLocked() []T {
	if len(q.items) == 0 {
		return nil
	}
	batch := q.items
	q.items = make([]T, 0, defaultQueueCap)
	return batch
}

func (q *FIFOQueue[T]) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]T, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]T, n, newCap)
	copy(newSlice, q.items)
	q.items = newSlice
}

func (q *FIFOQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *FIFOQueue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Clear drops every queued item.
func (q *FIFOQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]T, 0, defaultQueueCap)
}

// =============================================================================
// runQueue: unsynchronized ring buffer for a single owner goroutine
// =============================================================================

// runQueue is a growable ring buffer. It has no locking at all; every call
// must come from the goroutine that owns it.
type runQueue[T any] struct {
	buf  []T
	head int
	n    int
}

func newRunQueue[T any](capacity int) runQueue[T] {
	if capacity < 1 {
		capacity = defaultQueueCap
	}
	return runQueue[T]{buf: make([]T, capacity)}
}

func (q *runQueue[T]) Len() int { return q.n }

func (q *runQueue[T]) PushBack(v T) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
}

func (q *runQueue[T]) PopFront() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

func (q *runQueue[T]) grow() {
	size := len(q.buf) * 2
	if size == 0 {
		size = defaultQueueCap
	}
	buf := make([]T, size)
	for i := range q.n {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}
