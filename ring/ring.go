// Package ring implements the bounded MPMC ring-buffer object queue (spec
// module C1): a fixed-capacity FIFO of move-only values with lock-free
// producer/consumer accessors, backing each of the thread pool's priority
// queues.
//
// The slot-validity problem is grounded on the teacher's MicrotaskRing
// (github.com/joeycumines/go-eventloop, eventloop/ingress.go) — its doc
// comment's R101 fix (a dedicated validity signal instead of a bare
// seq==0 check) is the reason this ring also avoids a plain zero-value
// sentinel. But MicrotaskRing is MPSC (a single consumer goroutine may
// freely advance its cursor and clear a slot in either order); this ring
// is MPMC, where advancing a cursor before the slot is fully read/cleared
// would let a concurrent producer reuse — and overwrite — the slot out
// from under a reader still holding its value. To close that, each slot
// instead carries a Vyukov-style per-slot sequence counter: a producer
// may only write a slot once the counter shows the previous consumer has
// fully released it, and a consumer may only read a slot once the
// counter shows the producer has fully published it. Cursor CAS still
// arbitrates which concurrent producer/consumer wins a given position;
// the sequence counter arbitrates readiness of the slot itself.
package ring

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/carlowood/taskrt/internal/rterr"
)

// Queue is a fixed-capacity MPMC ring buffer of type T. The zero value is
// not usable; construct with New.
type Queue[T any] struct {
	mu       sync.Mutex // guards reallocation; not held on the Push/Pop hot path
	slots    []slot[T]
	mask     uint64
	head     atomic.Uint64 // consumer cursor
	tail     atomic.Uint64 // producer cursor
	capacity int
}

type slot[T any] struct {
	// seq reads as follows for the slot at physical index i:
	//   seq == i         : empty, ready for the producer whose tail == i
	//   seq == i+1        : published, ready for the consumer whose head == i
	//   seq == i+size     : released, ready for the producer's next lap
	// (and so on, with each lap adding `size`).
	seq   atomic.Uint64
	value T
}

// New constructs a Queue of the given capacity, rounded up to the next
// power of two (required for the mask-based index arithmetic).
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	size := nextPow2(capacity)
	q := &Queue[T]{
		slots:    make([]slot[T], size),
		mask:     uint64(size - 1),
		capacity: capacity,
	}
	q.resetSlots()
	return q
}

func (q *Queue[T]) resetSlots() {
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Capacity returns the queue's logical capacity (as requested; not rounded
// up), matching spec §4.1's "length == capacity ⇒ full" contract.
func (q *Queue[T]) Capacity() int { return q.capacity }

// Producer is the move-in view of a Queue, per spec §4.1's
// producer_access().
type Producer[T any] struct{ q *Queue[T] }

// Consumer is the move-out view of a Queue, per spec §4.1's
// consumer_access().
type Consumer[T any] struct{ q *Queue[T] }

// ProducerAccess returns the producer-side view.
func (q *Queue[T]) ProducerAccess() Producer[T] { return Producer[T]{q} }

// ConsumerAccess returns the consumer-side view.
func (q *Queue[T]) ConsumerAccess() Consumer[T] { return Consumer[T]{q} }

// Length returns the current fill level of the queue.
func (p Producer[T]) Length() int {
	tail := p.q.tail.Load()
	head := p.q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// MoveIn inserts value, returning the new length, or ErrQueueFull if the
// queue was observed at capacity. A producer that observes length<capacity
// always successfully inserts (spec §4.1 guarantee): the capacity check and
// the tail-cursor CAS claim happen against the same observed tail/head
// pair, so at most `capacity` slots are ever claimed concurrently.
func (p Producer[T]) MoveIn(value T) (int, error) {
	q := p.q
	for {
		tail := q.tail.Load()
		head := q.head.Load()
		if int(tail-head) >= q.capacity {
			return int(tail - head), rterr.ErrQueueFull
		}
		idx := tail & q.mask
		s := &q.slots[idx]
		if s.seq.Load() != tail {
			// The slot at this physical index hasn't been released by the
			// consumer that drained its previous lap yet, or the observed
			// tail is stale because another producer already claimed it;
			// spin briefly and re-read.
			runtime.Gosched()
			continue
		}
		if !q.tail.CompareAndSwap(tail, tail+1) {
			continue
		}
		s.value = value
		s.seq.Store(tail + 1) // publish: ready for the consumer at head==tail
		return int(tail + 1 - head), nil
	}
}

// MoveOut removes and returns the oldest value. The bool result is false
// when the queue was empty.
func (c Consumer[T]) MoveOut() (T, bool) {
	q := c.q
	size := uint64(len(q.slots))
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		if head >= tail {
			var zero T
			return zero, false
		}
		idx := head & q.mask
		s := &q.slots[idx]
		if s.seq.Load() != head+1 {
			// Producer has claimed tail but not yet published this slot's
			// value; spin briefly and re-read, matching the teacher's
			// MicrotaskRing.Pop busy-wait on the same race.
			runtime.Gosched()
			continue
		}
		if !q.head.CompareAndSwap(head, head+1) {
			// Lost the race to another consumer; retry against the
			// current view.
			continue
		}
		value := s.value
		var zero T
		s.value = zero
		// Release the slot for the producer's next lap only now, after the
		// value has been fully read and cleared — never before, which is
		// what makes this safe under concurrent producers (unlike a bare
		// head-cursor advance would be).
		s.seq.Store(head + size)
		return value, true
	}
}

// Reallocate resizes the queue. Only legal when empty, per spec §4.1.
func (q *Queue[T]) Reallocate(capacity int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head.Load() != q.tail.Load() {
		return rterr.Wrap("reallocate", rterr.ErrIllegalState)
	}
	if capacity <= 0 {
		capacity = 1
	}
	size := nextPow2(capacity)
	q.slots = make([]slot[T], size)
	q.mask = uint64(size - 1)
	q.capacity = capacity
	q.head.Store(0)
	q.tail.Store(0)
	q.resetSlots()
	return nil
}
