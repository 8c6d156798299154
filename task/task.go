package task

import (
	"sync"
	"sync/atomic"
)

// BaseState is a task's coarse lifecycle state, per spec §4.6.
type BaseState int

const (
	BaseUninitialized BaseState = iota
	BaseInitialize
	BaseMultiplex
	BaseFinish
	BaseAbort
	BaseKilled
)

func (b BaseState) String() string {
	switch b {
	case BaseUninitialized:
		return "uninitialized"
	case BaseInitialize:
		return "initialize"
	case BaseMultiplex:
		return "multiplex"
	case BaseFinish:
		return "finish"
	case BaseAbort:
		return "abort"
	case BaseKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// directiveKind tags a Directive's payload, the Go rendition of the
// re-entrant C++ control flow (set_state/yield/yield_frame/wait/signal/
// finish/abort) the teacher itself replaces with a state-enum switch in
// runFastPath, per spec §9 redesign flag 5.
type directiveKind int

const (
	dirSetState directiveKind = iota
	dirYield
	dirYieldFrame
	dirWait
	dirSignal
	dirFinish
	dirAbort
)

// Directive is the tagged-union value a StepFunc returns to tell the
// scheduler what happened during one multiplex step.
type Directive struct {
	kind         directiveKind
	nextState    int
	handler      Handler
	frames       int
	waitMask     uint32
	waitRequired uint32
	signalTarget *Task
	signalBit    uint
}

// SetState transitions run_state to n, voiding any pending wait.
func SetState(n int) Directive { return Directive{kind: dirSetState, nextState: n} }

// Yield re-enqueues the task onto h and exits the multiplex loop.
func Yield(h Handler) Directive { return Directive{kind: dirYield, handler: h} }

// YieldFrame sleeps n engine frames before the task is next driven. Only
// engine.Engine's Mainloop counts frames down (via TickFrame); under any
// other handler nothing decrements the count and the task is not driven
// again.
func YieldFrame(n int) Directive { return Directive{kind: dirYieldFrame, frames: n} }

// Wait suspends the task unless mask is already satisfied or a skip_wait
// is pending; required is the AND-subset of mask.
func Wait(mask, required uint32) Directive {
	return Directive{kind: dirWait, waitMask: mask, waitRequired: required}
}

// Signal raises bit on target (or on the acting task itself if target is
// nil) and continues the current step's control flow.
func Signal(target *Task, bit uint) Directive {
	return Directive{kind: dirSignal, signalTarget: target, signalBit: bit}
}

// Finish marks the task successfully complete.
func Finish() Directive { return Directive{kind: dirFinish} }

// Abort marks the task aborted.
func Abort() Directive { return Directive{kind: dirAbort} }

// StepFunc is the user-supplied per-state step. It is called once per
// multiplex iteration while the task is runnable, and returns a Directive
// describing what happened.
type StepFunc func(t *Task, runState int) Directive

// InitFunc is called once, on entry to BaseInitialize; it must call
// t.SetRunState to choose the first step state.
type InitFunc func(t *Task)

// CompletionFunc is the completion callback, called with success=true after
// the task reaches BaseFinish and success=false after BaseAbort, per spec
// §4.6 step 3.
type CompletionFunc func(success bool)

// Task is a cooperative, stateful unit of work (spec module C6): a
// capability set of user-supplied closures driving a small state machine,
// standing in for the C++ original's virtual AIStatefulTask/AIEngine
// dispatch (see original_source/src/helloworld.cxx's multiplex_impl),
// per spec §9 redesign flag 2.
type Task struct {
	mu sync.Mutex // guards base/runState/handler transitions; never held across a user step call

	step    StepFunc
	initFn  InitFunc
	onDone  CompletionFunc
	stateNm func(int) string

	base     BaseState
	runState int
	handler  Handler

	sub subState

	running atomic.Bool // per-task execution flag: prevents re-entrant drive()

	refcount atomic.Int32
	parent   *Task
	parentBit uint
	children  []*Task
	childMu   sync.Mutex

	pendingFrames atomic.Int32 // remaining engine-frame sleep from YieldFrame
}

// Option configures a Task at construction.
type Option func(*Task)

// WithInit installs the initialize-state callback.
func WithInit(fn InitFunc) Option { return func(t *Task) { t.initFn = fn } }

// WithStateName installs a debug state-name function.
func WithStateName(fn func(int) string) Option { return func(t *Task) { t.stateNm = fn } }

// New constructs a Task with the given step function and options. The
// task starts with refcount 1, released on Finish/Abort.
func New(step StepFunc, opts ...Option) *Task {
	t := &Task{step: step, base: BaseUninitialized}
	for _, opt := range opts {
		opt(t)
	}
	t.refcount.Store(1)
	return t
}

// StateName returns a human-readable name for state n, falling back to a
// numeric rendition if no WithStateName was supplied.
func (t *Task) StateName(n int) string {
	if t.stateNm != nil {
		return t.stateNm(n)
	}
	return itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Run starts the task: sets base_state=initialize, clears sub_state,
// installs the completion callback, and enqueues onto handler. Per spec
// §4.6 step 1.
func (t *Task) Run(handler Handler, callback CompletionFunc) {
	t.mu.Lock()
	t.base = BaseInitialize
	t.onDone = callback
	t.handler = handler
	t.mu.Unlock()
	t.sub.word.Store(0)
	handler.Enqueue(t)
}

// SetRunState installs the step state a step (or InitFunc) transitions
// to, voiding any pending wait. Called by user step functions through the
// Directive returned from SetState, and directly by InitFunc during
// BaseInitialize.
func (t *Task) SetRunState(n int) {
	t.mu.Lock()
	t.runState = n
	t.mu.Unlock()
	t.sub.reset()
}

// RunState returns the task's current step state.
func (t *Task) RunState() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runState
}

// BaseState returns the task's coarse lifecycle state.
func (t *Task) BaseState() BaseState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.base
}

// Signal raises bit on t's own condition bitmap. If t was idle and the
// signal satisfies its current wait, t is re-enqueued onto its handler,
// per spec §4.5/§4.6.
func (t *Task) Signal(bit uint) {
	if t.sub.RaiseSignal(bit) {
		t.reenqueue()
	}
}

// SkipNextWait arms a one-shot skip_wait, consumed by the task's next
// BeginWait regardless of mask, and re-enqueues the task. It does not
// clear idle, so a task already parked in a wait is not woken by it.
func (t *Task) SkipNextWait() {
	t.sub.setSkipWait()
	t.reenqueue()
}

func (t *Task) reenqueue() {
	t.mu.Lock()
	h := t.handler
	base := t.base
	t.mu.Unlock()
	if h == nil || base != BaseMultiplex {
		return
	}
	h.Enqueue(t)
}

// AddRef increments the task's reference count.
func (t *Task) AddRef() { t.refcount.Add(1) }

// Release decrements the reference count; the caller must not use t again
// if this was the last reference (refcount reached zero).
func (t *Task) Release() {
	t.refcount.Add(-1)
}

// addChild links a child task for fan-out/fan-in (spec scenario S2,
// fibonacci); the parent holds an owning reference, the child a
// non-owning back-pointer used only to Signal the parent on completion,
// breaking the intrusive-refcount cycle per spec §9 redesign flag 1.
func (t *Task) addChild(child *Task, parentBit uint) {
	t.childMu.Lock()
	t.children = append(t.children, child)
	t.childMu.Unlock()
	child.parent = t
	child.parentBit = parentBit
}

// RunChild starts child under handler, registering t as its parent so
// the child signals parentBit on t when it finishes or aborts.
func (t *Task) RunChild(child *Task, handler Handler, parentBit uint) {
	t.addChild(child, parentBit)
	child.Run(handler, func(success bool) {
		if child.parent != nil {
			child.parent.Signal(child.parentBit)
		}
	})
}

// driveStop identifies why driveOnce stopped, so drive can tell an
// idle/frame-sleep suspension (which a concurrent Signal/TickFrame may
// have already raced past while running was still held) apart from a
// yield or termination (which must not be redriven here).
type driveStop int

const (
	stopIdle driveStop = iota
	stopDispatched
	stopTerminal
)

// drive runs the multiplex loop until the task suspends, yields,
// finishes, or aborts. Re-entrant calls for the same task are dropped:
// the per-task execution flag (spec §4.6: "re-entrant execution is
// prevented by the per-task execution flag") makes a concurrent drive
// from Immediate/Signal/a timer fire a no-op rather than a double-run.
//
// Clearing that flag and a concurrent Signal/TickFrame finding the task
// runnable again race: Signal's reenqueue (task.go's reenqueue) does not
// itself retry, so if it observes running still held it has no other
// effect, and the wakeup would otherwise be lost with the task parked
// and nothing scheduled to drive it. drive closes that window itself: on
// a stopIdle exit it clears running, then re-checks runnable and resumes
// driving without waiting on a re-enqueue, per spec §4.6's "without
// lost wake-ups".
func (t *Task) drive() {
	if !t.running.CompareAndSwap(false, true) {
		return
	}

	for {
		stop := t.driveOnce()
		t.running.Store(false)
		if stop != stopIdle {
			return
		}
		if !t.runnable() || t.BaseState() != BaseMultiplex {
			return
		}
		if !t.running.CompareAndSwap(false, true) {
			return
		}
	}
}

// driveOnce runs the multiplex loop until it must stop, reporting why.
func (t *Task) driveOnce() driveStop {
	for {
		t.mu.Lock()
		base := t.base
		t.mu.Unlock()

		switch base {
		case BaseInitialize:
			if t.initFn != nil {
				t.initFn(t)
			}
			t.mu.Lock()
			t.base = BaseMultiplex
			t.mu.Unlock()
			continue

		case BaseMultiplex:
			if !t.runnable() {
				return stopIdle
			}
			cont, stop := t.runOneStep()
			if !cont {
				return stop
			}
			continue

		default:
			return stopTerminal
		}
	}
}

// runnable reports whether the task may currently execute a step: not
// idle (parked in a wait), and not waiting out an engine-frame sleep.
func (t *Task) runnable() bool {
	if t.sub.IsIdle() {
		return false
	}
	return t.pendingFrames.Load() <= 0
}

// runOneStep invokes the user step function once and applies its
// Directive. cont is false when the multiplex loop must exit; stop then
// reports why (only meaningful when cont is false).
func (t *Task) runOneStep() (cont bool, stop driveStop) {
	t.sub.ObserveAndResetOnWakeup()
	runState := t.RunState()
	d := t.step(t, runState)

	switch d.kind {
	case dirSetState:
		t.SetRunState(d.nextState)
		return true, 0

	case dirYield:
		t.mu.Lock()
		t.handler = d.handler
		t.mu.Unlock()
		d.handler.Enqueue(t)
		return false, stopDispatched

	case dirYieldFrame:
		t.pendingFrames.Store(int32(d.frames))
		return false, stopIdle

	case dirWait:
		if t.sub.BeginWait(d.waitMask, d.waitRequired) {
			return true, 0
		}
		return false, stopIdle

	case dirSignal:
		target := d.signalTarget
		if target == nil {
			target = t
		}
		target.Signal(d.signalBit)
		return true, 0

	case dirFinish:
		t.terminate(BaseFinish, true)
		return false, stopTerminal

	case dirAbort:
		t.terminate(BaseAbort, false)
		return false, stopTerminal

	default:
		return false, stopTerminal
	}
}

// TickFrame decrements a pending engine-frame sleep by one; called once
// per engine.Mainloop pass for tasks that yielded via YieldFrame. Returns
// true once the sleep has elapsed, meaning the task should be driven
// again this pass.
func (t *Task) TickFrame() bool {
	if t.pendingFrames.Load() <= 0 {
		return false
	}
	return t.pendingFrames.Add(-1) <= 0
}

// Drive runs the task's multiplex loop. Exported for engine.Engine's
// Mainloop, which drives engine-handled tasks directly rather than
// through Handler.Enqueue (which, for Engine, only appends to the list).
func (t *Task) Drive() { t.drive() }

// HasPendingFrames reports whether the task is currently sleeping out a
// YieldFrame delay.
func (t *Task) HasPendingFrames() bool { return t.pendingFrames.Load() > 0 }

func (t *Task) terminate(base BaseState, success bool) {
	t.mu.Lock()
	t.base = base
	cb := t.onDone
	t.mu.Unlock()
	if cb != nil {
		cb(success)
	}
	t.Release()
}
