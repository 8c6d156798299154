package taskmutex

import (
	"sync"

	"github.com/carlowood/taskrt/internal/nodepool"
	"github.com/carlowood/taskrt/internal/rterr"
	"github.com/carlowood/taskrt/task"
)

// RWMutex is the read/write variant of Mutex (spec §4.7): any number of
// readers XOR one writer, with an upgrade path (Wr2Rdlock is actually a
// write-to-read *downgrade*; the upgrade direction — a reader trying to
// become the writer — is the race spec §9 redesign flag 4 replaces with
// ErrWouldDeadlock instead of the original's must-throw exception).
type RWMutex struct {
	mu sync.Mutex // guards all fields below; never held across a task callback

	writer     bool
	readers    int
	upgrading  bool // a reader has called Wr2Rdlock's write-upgrade counterpart
	writeQueue *nodepool.Node[waiter]
	writeTail  *nodepool.Node[waiter]
	readQueue  *nodepool.Node[waiter]
	readTail   *nodepool.Node[waiter]
}

// RLock attempts to acquire a read lock. Returns false (caller must wait
// on bit) if a writer holds or is queued ahead.
func (m *RWMutex) RLock(t *task.Task, bit uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.writer && m.writeQueue == nil {
		m.readers++
		return true
	}
	n := wpool.Get()
	n.Value = waiter{task: t, bit: bit}
	appendNode(&m.readQueue, &m.readTail, n)
	return false
}

// RUnlock releases one reader. If this was the last reader and a writer
// is queued, ownership transfers to the head of the write queue.
func (m *RWMutex) RUnlock() {
	m.mu.Lock()
	m.readers--
	if m.readers > 0 {
		m.mu.Unlock()
		return
	}
	n := popNode(&m.writeQueue, &m.writeTail)
	if n == nil {
		m.mu.Unlock()
		return
	}
	m.writer = true
	if n.Value.isUpgrade {
		m.upgrading = false
	}
	m.mu.Unlock()

	w := n.Value
	wpool.Put(n)
	w.task.Signal(w.bit)
}

// Lock attempts to acquire the write lock.
func (m *RWMutex) Lock(t *task.Task, bit uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.writer && m.readers == 0 {
		m.writer = true
		return true
	}
	n := wpool.Get()
	n.Value = waiter{task: t, bit: bit}
	appendNode(&m.writeQueue, &m.writeTail, n)
	return false
}

// Unlock releases the write lock. Queued writers have priority over
// queued readers for the next owner, matching Mutex's direct hand-off
// semantics; if neither queue has a waiter, the lock becomes free.
func (m *RWMutex) Unlock() {
	m.mu.Lock()
	if n := popNode(&m.writeQueue, &m.writeTail); n != nil {
		if n.Value.isUpgrade {
			m.upgrading = false
		}
		m.mu.Unlock()
		w := n.Value
		wpool.Put(n)
		w.task.Signal(w.bit)
		return
	}

	var woken []waiter
	for {
		n := popNode(&m.readQueue, &m.readTail)
		if n == nil {
			break
		}
		woken = append(woken, n.Value)
		wpool.Put(n)
	}
	m.writer = false
	m.readers += len(woken)
	m.mu.Unlock()

	for _, w := range woken {
		w.task.Signal(w.bit)
	}
}

// Wr2Rdlock downgrades a held write lock to a read lock, admitting any
// already-queued readers at the same time. It cannot fail.
func (m *RWMutex) Wr2Rdlock(t *task.Task) {
	m.mu.Lock()
	var woken []waiter
	for {
		n := popNode(&m.readQueue, &m.readTail)
		if n == nil {
			break
		}
		woken = append(woken, n.Value)
		wpool.Put(n)
	}
	m.writer = false
	m.readers = 1 + len(woken)
	m.mu.Unlock()

	for _, w := range woken {
		w.task.Signal(w.bit)
	}
}

// Rd2Wrlock attempts to upgrade a held read lock to the write lock. Per
// spec §9 redesign flag 4, a second concurrent upgrade attempt returns
// ErrWouldDeadlock rather than blocking: two readers both trying to
// become the sole writer can never both succeed without one releasing
// first, and blocking either would deadlock against the other.
func (m *RWMutex) Rd2Wrlock(t *task.Task, bit uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upgrading {
		return false, rterr.ErrWouldDeadlock
	}
	if m.readers == 1 {
		m.readers = 0
		m.writer = true
		return true, nil
	}
	m.upgrading = true
	// The queued upgrader gives up its read share, so the other readers'
	// RUnlock calls can bring readers to zero and hand it the write lock.
	m.readers--
	n := wpool.Get()
	n.Value = waiter{task: t, bit: bit, isUpgrade: true}
	appendNode(&m.writeQueue, &m.writeTail, n)
	return false, nil
}

func appendNode(head, tail **nodepool.Node[waiter], n *nodepool.Node[waiter]) {
	if *tail == nil {
		*head = n
		*tail = n
		return
	}
	(*tail).Next = n
	*tail = n
}

func popNode(head, tail **nodepool.Node[waiter]) *nodepool.Node[waiter] {
	if *head == nil {
		return nil
	}
	n := *head
	*head = n.Next
	if *head == nil {
		*tail = nil
	}
	n.Next = nil
	return n
}
