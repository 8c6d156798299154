// Command mutexstress is scenario S3: many tasks race one taskmutex.Mutex,
// each entering, counting, and leaving a critical section. Grounded on
// original_source/src/AIStatefulTaskMutex_test.cxx, scaled down from the
// original's 100000 tasks to keep the demo's wall-clock time reasonable.
package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/carlowood/taskrt/runtime"
	"github.com/carlowood/taskrt/task"
	"github.com/carlowood/taskrt/taskmutex"
)

const (
	stateCallLock = iota
	stateLocked
	stateCriticalArea
	stateDone
)

const numberOfTasks = 20000

func main() {
	rc, err := runtime.New(context.Background(), runtime.WithWorkers(8))
	if err != nil {
		panic(err)
	}
	defer rc.Close()

	var mu taskmutex.Mutex
	var insideCriticalArea atomic.Int32
	var finishedCounter atomic.Int32

	handler := task.Queue{Pool: rc.Pool, QueueID: rc.DefaultQueue}
	doneCh := make(chan struct{})

	start := time.Now()
	for i := 0; i < numberOfTasks; i++ {
		tsk := task.New(func(t *task.Task, runState int) task.Directive {
			switch runState {
			case stateCallLock:
				if mu.Lock(t, 0) {
					return task.SetState(stateLocked)
				}
				t.SetRunState(stateLocked)
				return task.Wait(1<<0, 1<<0)
			case stateLocked:
				if insideCriticalArea.Add(1) != 1 {
					panic("mutual exclusion violated: more than one task inside critical area")
				}
				return task.SetState(stateCriticalArea)
			case stateCriticalArea:
				if insideCriticalArea.Add(-1) != 0 {
					panic("mutual exclusion violated: critical area left non-empty")
				}
				mu.Unlock()
				return task.SetState(stateDone)
			case stateDone:
				return task.Finish()
			}
			return task.Abort()
		})
		tsk.Run(handler, func(ok bool) {
			if !ok {
				panic("mutexstress task aborted")
			}
			if finishedCounter.Add(1) == numberOfTasks {
				close(doneCh)
			}
		})
	}

	select {
	case <-doneCh:
	case <-time.After(30 * time.Second):
		panic("scenario S3 timed out")
	}

	fmt.Printf("%d tasks completed in %s; final inside-critical-area count: %d\n",
		numberOfTasks, time.Since(start), insideCriticalArea.Load())
}
