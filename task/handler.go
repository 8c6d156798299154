package task

import (
	"github.com/carlowood/taskrt/internal/rtlog"
	"github.com/carlowood/taskrt/pool"
)

// Handler selects how a Task is multiplexed, per spec §4.6: immediate
// (inline, reentrancy-guarded), engine (cooperative list owned by an
// engine.Engine), or pool-queue (wrapped as a pool.Callable).
//
// Grounded on the teacher's move away from virtual dispatch: instead of
// an AIEngine/AIStatefulTask inheritance hierarchy (see original_source/
// src/helloworld.cxx), each handler is a small value implementing one
// method, the same capability-set-of-closures shape the teacher itself
// uses for LoopOption (eventloop/options.go).
type Handler interface {
	// Enqueue schedules t to have its multiplex step driven, eventually,
	// by this handler.
	Enqueue(t *Task)
}

// Immediate executes a task's multiplex step inline, on the calling
// goroutine of Run/Signal/a timer fire. Re-entrant execution of the same
// task is prevented by Task's own execution flag (spec §4.6: "re-entrant
// execution is prevented by the per-task execution flag").
type Immediate struct{}

func (Immediate) Enqueue(t *Task) {
	t.drive()
}

// Queue wraps a pool.Pool + pool.QueueID: the task's step is submitted as
// a pool.Callable, and pool workers drive it.
type Queue struct {
	Pool    *pool.Pool
	QueueID pool.QueueID
	Logger  *rtlog.Logger
}

func (q Queue) Enqueue(t *Task) {
	err := q.Pool.Submit(q.QueueID, func() bool {
		t.drive()
		return false
	})
	if err != nil && q.Logger != nil {
		q.Logger.Err().Str("reason", err.Error()).Log("task: failed to submit to pool queue")
	}
}
