// Package rterr defines the typed error vocabulary shared by every runtime
// component. Errors are created with cause chains so callers can use
// [errors.Is] and [errors.As] across package boundaries.
package rterr

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the core, per the error handling design:
// queue-full and closed-pool conditions are ordinary return values, never
// panics or exceptions on the hot path.
var (
	// ErrQueueFull is returned when a producer observes a priority queue at
	// capacity.
	ErrQueueFull = errors.New("taskrt: queue is full")

	// ErrPoolClosed is returned when Submit is called after Pool.Close has
	// been invoked.
	ErrPoolClosed = errors.New("taskrt: thread pool is closed")

	// ErrIntervalOutOfRange is a programmer error: the interval index does
	// not exist in the timer service's IntervalTable.
	ErrIntervalOutOfRange = errors.New("taskrt: timer interval index out of range")

	// ErrAborted names the aborted-task outcome. A task's completion
	// callback reports an abort as success=false, not as this error.
	ErrAborted = errors.New("taskrt: task was aborted")

	// ErrWouldDeadlock is returned by a second concurrent read-to-write
	// mutex upgrade attempt instead of blocking forever.
	ErrWouldDeadlock = errors.New("taskrt: lock upgrade would deadlock")

	// ErrIllegalState is returned (in place of a fatal assert) for an
	// operation attempted in a state that does not allow it: ring.Queue's
	// Reallocate returns it, wrapped, when the queue is not empty. Task
	// state transitions are not checked against it.
	ErrIllegalState = errors.New("taskrt: illegal task state transition")

	// ErrTimerStopped describes a timer handle that was already cancelled
	// or already fired. timer.Service.Cancel reports that case as a false
	// result, not as this error.
	ErrTimerStopped = errors.New("taskrt: timer already stopped")
)

// Wrap attaches message context to cause while preserving the cause chain,
// so errors.Is(Wrap(msg, cause), cause) is always true.
func Wrap(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
