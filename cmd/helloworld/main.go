// Command helloworld is scenario S1: two tasks, HelloWorld and Bumper,
// bump each other's signal bit 1 and finish, grounded on original_source/
// src/helloworld.cxx.
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
	stateDone
)

func main() {
	rc, err := runtime.New(context.Background(), runtime.WithWorkers(4))
	if err != nil {
		panic(err)
	}
	defer rc.Close()

	var helloWorld, bumper *task.Task

	helloWorld = task.New(func(t *task.Task, runState int) task.Directive {
		switch runState {
		case stateStart:
			t.SetRunState(stateWait)
			return task.Wait(1<<1, 1<<1)
		case stateWait:
			return task.SetState(stateDone)
		case stateDone:
			bumper.Signal(1)
			return task.Finish()
		}
		return task.Abort()
	})

	bumper = task.New(func(t *task.Task, runState int) task.Directive {
		switch runState {
		case stateStart:
			helloWorld.Signal(1)
			t.SetRunState(stateWait)
			return task.Wait(1<<1, 1<<1)
		case stateWait:
			return task.SetState(stateDone)
		case stateDone:
			return task.Finish()
		}
		return task.Abort()
	})

	helloDone := make(chan bool, 1)
	bumperDone := make(chan bool, 1)
	helloWorld.Run(task.Queue{Pool: rc.Pool, QueueID: rc.DefaultQueue}, func(ok bool) { helloDone <- ok })
	bumper.Run(task.Queue{Pool: rc.Pool, QueueID: rc.DefaultQueue}, func(ok bool) { bumperDone <- ok })

	for i := 0; i < 2; i++ {
		select {
		case <-helloDone:
			fmt.Println("HelloWorld finished")
		case <-bumperDone:
			fmt.Println("Bumper finished")
		case <-time.After(5 * time.Second):
			panic("scenario S1 timed out")
		}
	}
}
