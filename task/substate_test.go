package task

import "testing"

func TestWaitThenSignalBecomesRunnable(t *testing.T) {
	var s subState
	if runnable := s.BeginWait(1<<0, 0); runnable {
		t.Fatal("expected not runnable before signal")
	}
	if !s.IsIdle() {
		t.Fatal("expected idle after unsatisfied wait")
	}
	if became := s.RaiseSignal(0); !became {
		t.Fatal("expected RaiseSignal to report runnable transition")
	}
	if s.IsIdle() {
		t.Fatal("expected idle cleared after satisfying signal")
	}
}

func TestSignalBeforeWaitCollapses(t *testing.T) {
	var s subState
	s.RaiseSignal(2)
	s.RaiseSignal(2) // second signal on same bit before any wait: no distinct effect
	if runnable := s.BeginWait(1<<2, 0); !runnable {
		t.Fatal("expected immediate runnable: signal predates the wait")
	}
}

func TestRequiredBitsNeedAllSet(t *testing.T) {
	var s subState
	const mask = 1<<0 | 1<<1
	if runnable := s.BeginWait(mask, mask); runnable {
		t.Fatal("expected not runnable: no required bits set yet")
	}
	if became := s.RaiseSignal(0); became {
		t.Fatal("expected still idle: only one of two required bits set")
	}
	if became := s.RaiseSignal(1); !became {
		t.Fatal("expected runnable once all required bits are set")
	}
}

func TestORBitWakesEvenWithoutRequired(t *testing.T) {
	var s subState
	s.BeginWait(1<<3, 0)
	if became := s.RaiseSignal(3); !became {
		t.Fatal("expected an OR bit to wake the wait")
	}
}

func TestObserveAndResetClearsFiredBits(t *testing.T) {
	var s subState
	s.BeginWait(1<<0, 1<<0)
	s.RaiseSignal(0)
	s.ObserveAndResetOnWakeup()
	view := unpackSubState(s.word.Load())
	if view.signals&(1<<0) != 0 {
		t.Fatal("expected required bit cleared after observe-and-reset")
	}
}

func TestSkipWaitConsumedOnce(t *testing.T) {
	var s subState
	s.setSkipWait()
	if runnable := s.BeginWait(1<<5, 0); !runnable {
		t.Fatal("expected skip_wait to force runnable")
	}
	// skip_wait was consumed: a second BeginWait with an unmet mask must
	// actually suspend.
	if runnable := s.BeginWait(1<<6, 0); runnable {
		t.Fatal("expected skip_wait consumed, second wait should suspend")
	}
}
