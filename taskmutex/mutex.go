// Package taskmutex implements the FIFO task mutex (spec module C7): a
// mutex whose waiters are tasks, not OS threads, handing ownership
// directly to the head waiter on unlock rather than waking everyone to
// race for it.
//
// The waiter-list node allocator is grounded on the teacher's chunkPool
// (see internal/nodepool's doc comment); the FIFO-fairness and
// upgrade-deadlock contract are supplemented from original_source/src/
// AIStatefulTaskMutex_test.cxx and rwspinlock_test.cxx, since the
// distilled spec states the invariant ("at most one task in the critical
// section; FIFO fairness") without spelling out the upgrade race.
package taskmutex

import (
	"sync"

	"github.com/carlowood/taskrt/internal/nodepool"
	"github.com/carlowood/taskrt/task"
)

type waiter struct {
	task *task.Task
	bit  uint
	// isUpgrade marks a waiter queued by RWMutex.Rd2Wrlock rather than a
	// plain Lock call, so the hand-off path knows to clear the
	// mutex-wide upgrading flag once this waiter is granted ownership.
	isUpgrade bool
}

var wpool nodepool.Pool[waiter]

// Mutex is a FIFO mutex whose waiters are *task.Task values.
type Mutex struct {
	mu     sync.Mutex // guards locked/head/tail only; never held across a task callback
	locked bool
	head   *nodepool.Node[waiter]
	tail   *nodepool.Node[waiter]
}

// Lock attempts to acquire m for t. If acquired, it returns true
// immediately. Otherwise t is appended to the FIFO waiter list and the
// caller must immediately t.Wait-equivalent on bit: this implementation
// expects the caller's step to return task.Wait(1<<bit, 1<<bit) right
// after a false result, per spec §4.7 ("caller must wait(bit)
// immediately").
func (m *Mutex) Lock(t *task.Task, bit uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.locked {
		m.locked = true
		return true
	}
	n := wpool.Get()
	n.Value = waiter{task: t, bit: bit}
	m.enqueue(n)
	return false
}

// Unlock releases m. If the waiter list is empty, the mutex becomes
// free. Otherwise ownership transfers directly to the head waiter (the
// mutex stays locked) and that waiter's bit is signalled, per spec §4.7.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	n := m.dequeue()
	if n == nil {
		m.locked = false
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	w := n.Value
	wpool.Put(n)
	w.task.Signal(w.bit)
}

func (m *Mutex) enqueue(n *nodepool.Node[waiter]) {
	if m.tail == nil {
		m.head = n
		m.tail = n
		return
	}
	m.tail.Next = n
	m.tail = n
}

func (m *Mutex) dequeue() *nodepool.Node[waiter] {
	if m.head == nil {
		return nil
	}
	n := m.head
	m.head = n.Next
	if m.head == nil {
		m.tail = nil
	}
	n.Next = nil
	return n
}
