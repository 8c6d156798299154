package taskmutex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlowood/taskrt/task"
)

func TestLockUncontended(t *testing.T) {
	var m Mutex
	tsk := task.New(func(tt *task.Task, s int) task.Directive { return task.Finish() })
	require.True(t, m.Lock(tsk, 0))
}

func TestLockContendedHandsOffFIFO(t *testing.T) {
	var m Mutex
	owner := task.New(func(tt *task.Task, s int) task.Directive { return task.Finish() })
	require.True(t, m.Lock(owner, 0))

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	makeWaiter := func(label int) *task.Task {
		var self *task.Task
		self = task.New(func(tt *task.Task, s int) task.Directive {
			switch s {
			case 0:
				if m.Lock(tt, 0) {
					mu.Lock()
					order = append(order, label)
					mu.Unlock()
					m.Unlock()
					return task.Finish()
				}
				tt.SetRunState(1)
				return task.Wait(1<<0, 1<<0)
			case 1:
				mu.Lock()
				order = append(order, label)
				mu.Unlock()
				m.Unlock()
				return task.Finish()
			}
			return task.Abort()
		})
		return self
	}

	wg.Add(3)
	waiters := []*task.Task{makeWaiter(1), makeWaiter(2), makeWaiter(3)}
	for _, w := range waiters {
		w := w
		w.Run(task.Immediate{}, func(bool) { wg.Done() })
	}

	// Release the original owner: the three waiters queued in submission
	// order must be handed the lock in that same order.
	m.Unlock()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiters never finished")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

// TestMutexStress is scenario S3 scaled down: many tasks race one Mutex,
// each incrementing a shared counter inside the critical section.
func TestMutexStress(t *testing.T) {
	const n = 2000
	var m Mutex
	var counter int64
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		var self *task.Task
		self = task.New(func(tt *task.Task, s int) task.Directive {
			switch s {
			case 0:
				if m.Lock(tt, 0) {
					atomic.AddInt64(&counter, 1)
					m.Unlock()
					return task.Finish()
				}
				tt.SetRunState(1)
				return task.Wait(1<<0, 1<<0)
			case 1:
				atomic.AddInt64(&counter, 1)
				m.Unlock()
				return task.Finish()
			}
			return task.Abort()
		})
		self.Run(task.Immediate{}, func(bool) { wg.Done() })
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stress run did not complete")
	}
	assert.Equal(t, int64(n), atomic.LoadInt64(&counter))
}
