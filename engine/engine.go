// Package engine implements the cooperative single-threaded task engine
// (spec module C8): a FIFO list of engine-handled tasks, driven by one
// goroutine calling Mainloop in a tight cycle.
//
// Grounded directly on the teacher's Loop.Run/runFastPath main dispatch
// cycle (github.com/joeycumines/go-eventloop, eventloop/loop.go): the
// same fast-channel-wakeup idiom (fastWakeupCh, a buffered 1-element
// channel so a wake from another goroutine never blocks) is reused here
// to wake the engine goroutine when a task is (re-)enqueued from outside.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/carlowood/taskrt/internal/rtlog"
	"github.com/carlowood/taskrt/task"
)

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l *rtlog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxStepDuration caps the wall-clock time Mainloop spends per pass
// before yielding back to the caller, grounded on the teacher's tick-
// budget handling (loop.go's overload detection).
func WithMaxStepDuration(d time.Duration) Option {
	return func(e *Engine) { e.maxStepDuration = d }
}

// Engine owns a FIFO list of tasks whose Handler is this Engine. Tasks
// with any other handler are never added here, per spec §4.8.
type Engine struct {
	mu    sync.Mutex
	tasks []*task.Task

	logger          *rtlog.Logger
	maxStepDuration time.Duration

	wakeCh chan struct{}
}

// New constructs an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{wakeCh: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue appends t to the engine's task list (or wakes the engine if t
// is already present — re-adding an already-listed task is a no-op aside
// from the wake), satisfying task.Handler.
func (e *Engine) Enqueue(t *task.Task) {
	e.mu.Lock()
	found := false
	for _, existing := range e.tasks {
		if existing == t {
			found = true
			break
		}
	}
	if !found {
		e.tasks = append(e.tasks, t)
	}
	e.mu.Unlock()
	e.wake()
}

func (e *Engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// Mainloop runs one or more passes over the task list until ctx is done.
// Each pass drives every listed task that has not terminated and is not
// sleeping out a YieldFrame; tasks that finish or abort are removed.
// Mainloop blocks on the wake channel or ctx.Done only after a pass that
// drove no task. A listed task parked in a wait is still driven (a no-op)
// on every pass, so while one is listed Mainloop keeps passing without
// blocking.
func (e *Engine) Mainloop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ran := e.runPass()

		if !ran {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wakeCh:
			}
		}
	}
}

// runPass drives every runnable task once, returning whether any task was
// actually driven (so the caller knows whether to park on the wake
// channel or keep spinning).
func (e *Engine) runPass() bool {
	start := time.Now()
	tasks := e.snapshot()
	ranAny := false

	live := tasks[:0:0]
	for _, t := range tasks {
		switch t.BaseState() {
		case task.BaseFinish, task.BaseAbort, task.BaseKilled:
			// drop: task has terminated and need not be revisited.
			continue
		}

		if t.HasPendingFrames() {
			if !t.TickFrame() {
				live = append(live, t)
				continue
			}
		}

		t.Drive()
		ranAny = true

		if t.BaseState() != task.BaseFinish && t.BaseState() != task.BaseAbort && t.BaseState() != task.BaseKilled {
			live = append(live, t)
		}

		if e.maxStepDuration > 0 && time.Since(start) > e.maxStepDuration {
			e.requeueRemaining(tasks, live)
			return ranAny
		}
	}

	e.mu.Lock()
	// Keep any task Enqueue appended after the snapshot was taken.
	e.tasks = append(live, e.tasks[len(tasks):]...)
	e.mu.Unlock()
	return ranAny
}

// requeueRemaining preserves every task not yet visited this pass when a
// MaxStepDuration cap cuts a pass short, per spec §4.8's "optionally
// limit wall-time per call".
func (e *Engine) requeueRemaining(all, processed []*task.Task) {
	processedSet := make(map[*task.Task]bool, len(processed))
	for _, t := range processed {
		processedSet[t] = true
	}
	remaining := append([]*task.Task(nil), processed...)
	for _, t := range all {
		if !processedSet[t] {
			switch t.BaseState() {
			case task.BaseFinish, task.BaseAbort, task.BaseKilled:
				continue
			}
			remaining = append(remaining, t)
		}
	}
	e.mu.Lock()
	e.tasks = append(remaining, e.tasks[len(all):]...)
	e.mu.Unlock()
	e.wake()
}

func (e *Engine) snapshot() []*task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*task.Task, len(e.tasks))
	copy(out, e.tasks)
	return out
}

// Len reports how many tasks the engine currently owns.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}
