package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is reported by a JoinHandle whose task was shut down
	// before it completed, either because its LocalSet was torn down or
	// because the handle was aborted.
	ErrCancelled = errors.New("task was cancelled")

	// ErrClosed is reported when work is submitted to a scheduler that has
	// already been torn down.
	ErrClosed = errors.New("scheduler is closed")

	// ErrNoActiveLocalSet is the panic value (wrapped) raised by SpawnLocal
	// when no LocalSet is being driven by the calling goroutine.
	ErrNoActiveLocalSet = errors.New("no active LocalSet")

	// ErrNotFinished is returned by JoinHandle.TryResult while the task is
	// still outstanding.
	ErrNotFinished = errors.New("task has not finished")
)

// PanicError is the error observed through a JoinHandle whose future
// panicked while being polled.
type PanicError struct {
	TaskID TaskID
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.TaskID, e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func cancelledError(id TaskID, reason string) error {
	return fmt.Errorf("task %s %s: %w", id, reason, ErrCancelled)
}
