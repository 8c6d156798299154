package task

import (
	"testing"
	"time"
)

const (
	stateGreet = iota
	stateWaitReply
	stateDone
)

// TestHelloBumperHandshake exercises scenario S1's shape: hello waits for
// a signal from bumper, bumper signals it from its init callback, both finish
// — driven inline via Immediate.
func TestHelloBumperHandshake(t *testing.T) {
	var hello *Task
	helloDone := make(chan bool, 1)
	bumperDone := make(chan bool, 1)

	hello = New(func(ht *Task, s int) Directive {
		switch s {
		case stateGreet:
			ht.SetRunState(stateWaitReply)
			return Wait(1<<0, 1<<0)
		case stateWaitReply:
			return Finish()
		}
		return Abort()
	})
	hello.Run(Immediate{}, func(success bool) { helloDone <- success })

	bumper := New(func(bt *Task, s int) Directive {
		return Finish()
	}, WithInit(func(bt *Task) {
		hello.Signal(0)
	}))
	bumper.Run(Immediate{}, func(success bool) { bumperDone <- success })

	if !<-bumperDone {
		t.Fatal("bumper did not finish successfully")
	}
	if !<-helloDone {
		t.Fatal("hello did not finish successfully")
	}
}

func TestWaitSuspendsUntilSignal(t *testing.T) {
	const (
		stWait = iota
		stDone
	)
	waiter := New(func(wt *Task, s int) Directive {
		switch s {
		case stWait:
			wt.SetRunState(stDone)
			return Wait(1<<0, 1<<0)
		case stDone:
			return Finish()
		}
		return Abort()
	})

	done := make(chan bool, 1)
	waiter.Run(Immediate{}, func(success bool) { done <- success })

	select {
	case <-done:
		t.Fatal("task finished before being signalled")
	case <-time.After(20 * time.Millisecond):
	}

	waiter.Signal(0)

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected successful finish")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never finished after signal")
	}
}

func TestSetStateVoidsPendingWait(t *testing.T) {
	calls := 0
	tsk := New(func(tt *Task, s int) Directive {
		calls++
		switch s {
		case 0:
			// Leave an unsatisfied wait pending (idle set) for SetRunState to void.
			tt.sub.BeginWait(1<<0, 1<<0)
			tt.SetRunState(1) // voids any wait bookkeeping
			return SetState(1)
		case 1:
			return Finish()
		}
		return Abort()
	})

	done := make(chan bool, 1)
	tsk.Run(Immediate{}, func(success bool) { done <- success })

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected successful finish")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never finished")
	}
	if calls != 2 {
		t.Fatalf("expected 2 step calls, got %d", calls)
	}
}

func TestAbortInvokesCallbackWithFailure(t *testing.T) {
	tsk := New(func(tt *Task, s int) Directive {
		return Abort()
	})
	done := make(chan bool, 1)
	tsk.Run(Immediate{}, func(success bool) { done <- success })
	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected abort to report failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never aborted")
	}
}

func TestReentrantDriveIsDropped(t *testing.T) {
	var depth int
	var maxDepth int
	tsk := New(func(tt *Task, s int) Directive {
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		// Re-enter while already driving: should be a no-op, not a
		// recursive multiplex.
		tt.drive()
		depth--
		if s == 0 {
			return SetState(1)
		}
		return Finish()
	})
	done := make(chan bool, 1)
	tsk.Run(Immediate{}, func(success bool) { done <- success })
	<-done
	if maxDepth != 1 {
		t.Fatalf("expected re-entrant drive to be dropped, saw depth %d", maxDepth)
	}
}
