// Package task implements the cooperative stateful-task scheduler (spec
// modules C5/C6): the per-task condition bitmap ("sub_state") and the
// Task state machine itself.
//
// subState's packed-word technique is grounded directly on the teacher's
// FastState (github.com/joeycumines/go-eventloop, eventloop/state.go):
// one atomic.Uint64 mutated only through CAS loops, never a mutex, with a
// String() method for debug logging. Unlike FastState's simple state
// enum, subState packs four sub-fields (signals, waitingMask,
// requiredMask, and an idle/skip-wait flag pair) per spec §4.5.
package task

import "sync/atomic"

const (
	signalsShift = 0
	signalsBits  = 16
	signalsMask  = uint64(1)<<signalsBits - 1

	waitingMaskShift = signalsShift + signalsBits
	waitingMaskBits  = 16
	waitingMaskMask  = (uint64(1)<<waitingMaskBits - 1) << waitingMaskShift

	requiredMaskShift = waitingMaskShift + waitingMaskBits
	requiredMaskBits  = 16
	requiredMaskMask  = (uint64(1)<<requiredMaskBits - 1) << requiredMaskShift

	idleShift     = requiredMaskShift + requiredMaskBits
	idleBit       = uint64(1) << idleShift
	skipWaitShift = idleShift + 1
	skipWaitBit   = uint64(1) << skipWaitShift
)

// subState is the packed condition bitmap described by spec §4.5.
type subState struct {
	word atomic.Uint64
}

type subStateView struct {
	signals, waitingMask, requiredMask uint32
	idle, skipWait                     bool
}

func unpackSubState(w uint64) subStateView {
	return subStateView{
		signals:     uint32(w & signalsMask),
		waitingMask: uint32((w & waitingMaskMask) >> waitingMaskShift),
		requiredMask: uint32((w & requiredMaskMask) >> requiredMaskShift),
		idle:        w&idleBit != 0,
		skipWait:    w&skipWaitBit != 0,
	}
}

func (v subStateView) pack() uint64 {
	w := uint64(v.signals) & signalsMask
	w |= (uint64(v.waitingMask) << waitingMaskShift) & waitingMaskMask
	w |= (uint64(v.requiredMask) << requiredMaskShift) & requiredMaskMask
	if v.idle {
		w |= idleBit
	}
	if v.skipWait {
		w |= skipWaitBit
	}
	return w
}

// satisfied reports whether the current signals/waitingMask/requiredMask
// combination means "runnable": every required bit is set, or some OR
// (non-required) bit within waitingMask is set, per spec §4.5.
func (v subStateView) satisfied() bool {
	if v.requiredMask != 0 && v.signals&v.requiredMask == v.requiredMask {
		return true
	}
	orBits := v.waitingMask &^ v.requiredMask
	return v.signals&orBits != 0
}

// reset clears wait bookkeeping, used when a step explicitly SetStates
// (voiding any pending wait), per spec §4.6 ("set_state voids idle()").
func (s *subState) reset() {
	for {
		old := s.word.Load()
		v := unpackSubState(old)
		v.idle = false
		v.waitingMask = 0
		v.requiredMask = 0
		if s.word.CompareAndSwap(old, v.pack()) {
			return
		}
	}
}

// setSkipWait arms skip_wait, which forces the next BeginWait to return
// runnable immediately without checking signals, consumed on use. Grounded
// on spec §4.5's "if skip_wait, consume it and return runnable" clause.
// It leaves idle as it is.
func (s *subState) setSkipWait() {
	for {
		old := s.word.Load()
		v := unpackSubState(old)
		v.skipWait = true
		if s.word.CompareAndSwap(old, v.pack()) {
			return
		}
	}
}

// RaiseSignal sets bit in signals. If the task is idle (parked in a wait)
// and the new signal set satisfies the current wait, idle is cleared and
// true ("became runnable") is returned. Bits raised while running (not
// idle) are simply recorded in signals for a future wait to observe —
// they never themselves cause an observable transition, matching the
// spec's "dropped... no effect" wording for the running case (the only
// effect a raise can have is clearing idle, which running tasks already
// lack).
func (s *subState) RaiseSignal(bit uint) (becameRunnable bool) {
	mask := uint32(1) << bit
	for {
		old := s.word.Load()
		v := unpackSubState(old)
		v.signals |= mask
		if v.idle && v.satisfied() {
			v.idle = false
			if s.word.CompareAndSwap(old, v.pack()) {
				return true
			}
			continue
		}
		if s.word.CompareAndSwap(old, v.pack()) {
			return false
		}
	}
}

// BeginWait records the wait mask/required-subset a task is about to
// suspend on. It returns true ("runnable", i.e. do not actually suspend)
// if a pending skip_wait is consumed, or if the mask is already satisfied
// by previously-raised signals; otherwise it marks the task idle and
// returns false.
func (s *subState) BeginWait(mask, required uint32) (runnable bool) {
	for {
		old := s.word.Load()
		v := unpackSubState(old)
		v.waitingMask = mask
		v.requiredMask = required & mask

		if v.skipWait {
			v.skipWait = false
			v.idle = false
			if s.word.CompareAndSwap(old, v.pack()) {
				return true
			}
			continue
		}

		if v.satisfied() {
			v.idle = false
			if s.word.CompareAndSwap(old, v.pack()) {
				return true
			}
			continue
		}

		v.idle = true
		if s.word.CompareAndSwap(old, v.pack()) {
			return false
		}
	}
}

// ObserveAndResetOnWakeup clears the bits that caused (or were relevant
// to) the wakeup: the entire required subset is cleared (AND semantics
// consume everything together), while the OR subset has only the bit(s)
// that actually fired cleared, leaving the rest armed for the next wait,
// per spec §4.5.
func (s *subState) ObserveAndResetOnWakeup() {
	for {
		old := s.word.Load()
		v := unpackSubState(old)
		orBits := v.waitingMask &^ v.requiredMask
		v.signals &^= v.requiredMask
		// OR semantics: only the bit(s) that actually fired are cleared;
		// any other armed OR bit stays set for the next wait. "Fired" is
		// read as "currently set" at wakeup time — this implementation clears
		// every OR bit that is set, not just a single arbitrarily chosen
		// one, since the spec does not define a selection order among
		// simultaneously-fired OR bits.
		v.signals &^= orBits & v.signals
		if s.word.CompareAndSwap(old, v.pack()) {
			return
		}
	}
}

// IsIdle reports whether the task is currently parked in a wait.
func (s *subState) IsIdle() bool {
	return unpackSubState(s.word.Load()).idle
}
