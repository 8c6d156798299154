// Command fibonacci is scenario S2: Fibonacci(n) fans out into two child
// tasks, Fibonacci(n-1) and Fibonacci(n-2), each signalling bit 0 of the
// parent on completion; the parent waits for both before summing their
// values. Grounded on original_source/src/fibonacci.cxx.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/carlowood/taskrt/runtime"
	"github.com/carlowood/taskrt/task"
)

const (
	stateStart = iota
	stateWait
	stateMath
	stateDone
)

// fibonacci wraps a *task.Task with the index/value/children state the
// original's Fibonacci class keeps as private members. handler is the
// queue every Fibonacci task (this one and its children) runs on, mirroring
// the original's single shared high_priority_queue.
type fibonacci struct {
	t       *task.Task
	index   int
	value   int
	handler task.Handler
	smaller *fibonacci
	larger  *fibonacci
}

func newFibonacci(index int, handler task.Handler) *fibonacci {
	f := &fibonacci{index: index, handler: handler}
	f.t = task.New(f.step)
	return f
}

func (f *fibonacci) step(t *task.Task, runState int) task.Directive {
	switch runState {
	case stateStart:
		if f.index < 2 {
			f.value = f.index
			return task.SetState(stateDone)
		}
		f.larger = newFibonacci(f.index-1, f.handler)
		f.smaller = newFibonacci(f.index-2, f.handler)
		t.RunChild(f.larger.t, f.handler, 0)
		t.RunChild(f.smaller.t, f.handler, 0)
		t.SetRunState(stateWait)
		return task.Wait(1<<0, 1<<0)
	case stateWait:
		if !f.larger.done() || !f.smaller.done() {
			t.SetRunState(stateWait)
			return task.Wait(1<<0, 1<<0)
		}
		return task.SetState(stateMath)
	case stateMath:
		f.value = f.larger.value + f.smaller.value
		return task.SetState(stateDone)
	case stateDone:
		return task.Finish()
	}
	return task.Abort()
}

func (f *fibonacci) done() bool {
	switch f.t.BaseState() {
	case task.BaseFinish, task.BaseAbort, task.BaseKilled:
		return true
	}
	return false
}

func main() {
	rc, err := runtime.New(context.Background(), runtime.WithWorkers(8))
	if err != nil {
		panic(err)
	}
	defer rc.Close()

	const number = 10
	handler := task.Queue{Pool: rc.Pool, QueueID: rc.DefaultQueue}
	flower := newFibonacci(number, handler)

	resultCh := make(chan bool, 1)
	flower.t.Run(handler, func(ok bool) { resultCh <- ok })

	select {
	case ok := <-resultCh:
		if !ok {
			panic("fibonacci task aborted")
		}
	case <-time.After(10 * time.Second):
		panic("scenario S2 timed out")
	}

	fmt.Println(flower.value)
}
