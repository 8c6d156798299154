// Package nodepool implements a lock-free, Treiber-stack-style free list
// of linked-list nodes, used by taskmutex for its FIFO waiter queue.
//
// Grounded on the teacher's chunkPool (github.com/joeycumines/go-
// eventloop, eventloop/ingress.go): a page/chunk-backed sync.Pool
// recycling fixed-size nodes to avoid GC thrashing under high enqueue
// throughput. taskmutex needs something stronger than sync.Pool's
// best-effort recycling: spec §4.7 explicitly requires lock()/unlock() to
// work with no per-task allocation context, which a lock-free CAS stack
// satisfies unconditionally (sync.Pool's Get/Put are not guaranteed
// allocation-free — a per-P cache miss falls through to its New func just
// like this pool's own empty-stack fallback, but sync.Pool additionally
// drops its contents wholesale at GC, defeating the "recycle under
// sustained load" goal this pool exists for).
package nodepool

import "sync/atomic"

// Node is one link in the free stack. Next is exported so a consumer
// (taskmutex's FIFO waiter list) can reuse the same link field for its
// own ownership chain once a node has been popped from the free list,
// rather than paying for a second pointer field per node. Next is only
// ever mutated by whichever goroutine currently owns the node (the Get
// caller, until the next Put), so it needs no atomic access itself; only
// the free list's top-of-stack pointer is contended.
type Node[T any] struct {
	Value T
	Next  *Node[T]
}

// Pool is a lock-free free list of *Node[T]. The zero value is ready to
// use.
type Pool[T any] struct {
	free atomic.Pointer[Node[T]]
}

// Get removes a node from the free list, or allocates a new one if the
// list is empty.
func (p *Pool[T]) Get() *Node[T] {
	for {
		top := p.free.Load()
		if top == nil {
			return &Node[T]{}
		}
		next := top.Next
		if p.free.CompareAndSwap(top, next) {
			var zero T
			top.Value = zero
			top.Next = nil
			return top
		}
	}
}

// Put returns a node to the free list for reuse. The caller must not
// retain any other reference to n (including its Next field) afterwards.
func (p *Pool[T]) Put(n *Node[T]) {
	for {
		top := p.free.Load()
		n.Next = top
		if p.free.CompareAndSwap(top, n) {
			return
		}
	}
}
