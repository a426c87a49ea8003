package core

import "time"

// TickRecord captures one bounded drain of a LocalSet.
type TickRecord struct {
	Seq        uint64
	RunnerName string
	StartedAt  time.Time
	Duration   time.Duration
	Polled     int
	Completed  int
	Requeued   int
	Panicked   int
	// QueueLeft is how many tasks were still ready when the tick returned.
	QueueLeft int
}

// LocalSetStats represents observability state for a LocalSet.
type LocalSetStats struct {
	ID      string
	Name    string
	Driving bool
	Closed  bool
	Handles int

	// Tasks is the number of registered tasks that have not finished.
	Tasks int
	// Queued is the number of tasks ready to be polled, including wakes
	// that have not been folded into the run queue yet.
	Queued int

	Ticks     uint64
	Polled    uint64
	Completed uint64
	Cancelled uint64
	Panicked  uint64
	Rejected  uint64
	LastTick  time.Time
}

// RuntimeStats represents observability state for a multi-worker Runtime.
type RuntimeStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Delayed int
	// Tasks is the number of spawned send tasks that have not finished.
	Tasks   int
	Spawned uint64
	Running bool
}
