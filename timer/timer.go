// Package timer implements the hierarchical timer service (spec module
// C4): a fixed table of intervals, each backed by its own FIFO of pending
// timers, merged through a tournament tree so the driver always knows the
// single next expiration in O(log I) instead of scanning every interval.
//
// Grounded on the teacher's timerHeap (github.com/joeycumines/go-eventloop,
// eventloop/loop.go): calculateTimeout's "cap the poll wait by the next
// timer" idea and runTimers' "pop everything due, then stop" loop are kept,
// but the underlying data structure is re-architected per spec §4.4/§9: a
// container/heap min-heap over every live timer is O(log N) per push/pop
// against the whole set, where N grows without bound; a tournament tree
// over a fixed, immutable IntervalTable is O(log I) against the table
// (I is small and constant), because every timer on the same interval
// shares one FIFO whose head is always the earliest-expiring entry on that
// interval (submission order is expiration order, since the interval is
// constant). Cancel/race semantics (tombstone in place, no FIFO shifting)
// are supplemented from original_source/src/timer_thread.cxx and
// timer_test.cxx, since the distilled spec is silent on the exact
// cancellation mechanics.
package timer

import (
	"sync"
	"time"

	"github.com/carlowood/taskrt/internal/rterr"
	"github.com/carlowood/taskrt/internal/rtlog"
	"github.com/carlowood/taskrt/pool"
)

// IntervalTable is the immutable, fixed set of intervals a Service can
// schedule timers against. Per spec §4.4, at most 64 entries (maxIntervals);
// New rejects a larger table.
type IntervalTable []time.Duration

const maxIntervals = 64

// Handle identifies one scheduled timer: which interval FIFO it lives on,
// and its sequence number within that FIFO (for Cancel's tombstone lookup).
type Handle struct {
	interval int
	seq      uint64
}

var noSentinel = time.Time{}

type entry struct {
	seq       uint64
	expiresAt time.Time
	queueID   pool.QueueID
	fn        func()
	cancelled bool
}

// intervalQueue is a FIFO of entries for one interval. Cancelled entries
// are tombstoned in place (cancelled=true) rather than removed, so Cancel
// never has to shift a FIFO concurrently with a producer appending to it.
type intervalQueue struct {
	mu      sync.Mutex
	items   []entry
	headIdx int
}

func (q *intervalQueue) push(e entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, e)
}

// headExpiry returns the expiry of the first live (non-cancelled,
// non-consumed) entry, advancing past tombstones and already-consumed
// slots as it goes. ok is false if the FIFO currently has no live entry.
func (q *intervalQueue) headExpiry() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.headIdx < len(q.items) && q.items[q.headIdx].cancelled {
		q.headIdx++
	}
	if q.headIdx >= len(q.items) {
		return noSentinel, false
	}
	return q.items[q.headIdx].expiresAt, true
}

// popIfDue removes and returns the head entry if it is live and due by
// now, compacting past any leading tombstones first.
func (q *intervalQueue) popIfDue(now time.Time) (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.headIdx < len(q.items) {
		e := q.items[q.headIdx]
		if e.cancelled {
			q.headIdx++
			continue
		}
		if e.expiresAt.After(now) {
			return entry{}, false
		}
		q.headIdx++
		// Compact occasionally so a long-lived FIFO doesn't retain an
		// ever-growing tombstone prefix in memory.
		if q.headIdx > 1024 && q.headIdx*2 > len(q.items) {
			q.items = append([]entry(nil), q.items[q.headIdx:]...)
			q.headIdx = 0
		}
		return e, true
	}
	return entry{}, false
}

func (q *intervalQueue) cancel(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := q.headIdx; i < len(q.items); i++ {
		if q.items[i].seq == seq && !q.items[i].cancelled {
			q.items[i].cancelled = true
			return true
		}
	}
	return false
}

// Option configures a Service at construction.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger *rtlog.Logger
}

// WithLogger attaches a structured logger, used to report panics recovered
// from timer callbacks (mirroring the teacher's safeExecute wrapper).
func WithLogger(l *rtlog.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// Service drives a table of interval queues, merged through a tournament
// tree, reposting due callbacks onto a Pool.
type Service struct {
	table  IntervalTable
	queues []*intervalQueue
	logger *rtlog.Logger
	pool   *pool.Pool

	n    int // tournament tree leaf count: nextPow2(len(table))
	tree []nodeState
	// treeMu guards the entire tournament tree: every leaf-to-root update
	// (updateLeaf) and every read (NextExpiration, leafForExpiry) holds it
	// for the whole walk, per spec §5's "timer tree is protected by a
	// single mutex" — a per-node lock lets updateLeaf compute a parent
	// from a child read that's already stale by the time it's combined
	// with its sibling, leaving the root not pointing at the true
	// minimum.
	treeMu sync.Mutex

	seqCounters []atomicUint64Box

	wakeCh  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	fenceMu sync.Mutex // held by the driver for the duration of one fire batch
}

// nodeState holds the winning (earliest) expiry carried by a tournament
// tree node; ok=false means "no live timer under this subtree". Guarded
// by Service.treeMu, not its own lock.
type nodeState struct {
	expiry time.Time
	ok     bool
}

type atomicUint64Box struct {
	mu  sync.Mutex
	val uint64
}

func (b *atomicUint64Box) next() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.val++
	return b.val
}

// New constructs a Service over the given interval table, posting expired
// callbacks onto p via Pool.Submit.
func New(table IntervalTable, p *pool.Pool, opts ...Option) (*Service, error) {
	if len(table) == 0 {
		return nil, rterr.Wrap("timer.New", rterr.ErrIntervalOutOfRange)
	}
	if len(table) > maxIntervals {
		return nil, rterr.Wrap("timer.New", rterr.ErrIntervalOutOfRange)
	}
	cfg := &serviceOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	n := nextPow2(len(table))
	s := &Service{
		table:       append(IntervalTable(nil), table...),
		queues:      make([]*intervalQueue, len(table)),
		logger:      cfg.logger,
		pool:        p,
		n:           n,
		tree:        make([]nodeState, 2*n),
		seqCounters: make([]atomicUint64Box, len(table)),
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for i := range s.queues {
		s.queues[i] = &intervalQueue{}
	}
	go s.driverLoop()
	return s, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Start schedules fn to run on queue q after table[interval] elapses.
func (s *Service) Start(interval int, q pool.QueueID, fn func()) (Handle, error) {
	if interval < 0 || interval >= len(s.table) {
		return Handle{}, rterr.ErrIntervalOutOfRange
	}
	seq := s.seqCounters[interval].next()
	e := entry{
		seq:       seq,
		expiresAt: time.Now().Add(s.table[interval]),
		queueID:   q,
		fn:        fn,
	}
	s.queues[interval].push(e)
	s.updateLeaf(interval)
	s.wake()
	return Handle{interval: interval, seq: seq}, nil
}

// Cancel tombstones the timer identified by h. Returns false if it had
// already fired or been cancelled.
func (s *Service) Cancel(h Handle) bool {
	if h.interval < 0 || h.interval >= len(s.table) {
		return false
	}
	ok := s.queues[h.interval].cancel(h.seq)
	if ok {
		s.updateLeaf(h.interval)
	}
	return ok
}

// NextExpiration reports the earliest live timer's expiration time, if
// any.
func (s *Service) NextExpiration() (time.Time, bool) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	return s.tree[1].expiry, s.tree[1].ok
}

// WaitForPossibleExpireToFinish blocks until the driver has finished
// processing any expiration batch in flight at the time of the call, per
// spec §4.4's cancel/race contract: a caller racing a Cancel against an
// already-firing timer needs a way to know the firing has been fully
// posted before deciding whether the cancel "won".
func (s *Service) WaitForPossibleExpireToFinish() {
	s.fenceMu.Lock()
	s.fenceMu.Unlock()
}

// Close stops the driver goroutine. Pending, unfired timers are discarded.
func (s *Service) Close() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

func (s *Service) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// updateLeaf recomputes the tournament tree path from the given interval's
// leaf to the root, per spec §4.4. Leaves beyond len(table) (padding up to
// the next power of two) are permanently "no timer". The whole leaf-to-root
// walk runs under treeMu so concurrent Start/Cancel calls (and the driver's
// runDue) never combine a parent from a child that another update is still
// mid-way through replacing.
func (s *Service) updateLeaf(interval int) {
	expiry, ok := s.queues[interval].headExpiry()
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	node := s.n + interval
	s.setNode(node, expiry, ok)
	for node > 1 {
		node /= 2
		left, right := 2*node, 2*node+1
		le, lok := s.getNode(left)
		re, rok := s.getNode(right)
		winExpiry, winOK := merge(le, lok, re, rok)
		s.setNode(node, winExpiry, winOK)
	}
}

func merge(a time.Time, aok bool, b time.Time, bok bool) (time.Time, bool) {
	switch {
	case aok && bok:
		if a.Before(b) {
			return a, true
		}
		return b, true
	case aok:
		return a, true
	case bok:
		return b, true
	default:
		return noSentinel, false
	}
}

// setNode and getNode assume the caller already holds treeMu.

func (s *Service) setNode(i int, expiry time.Time, ok bool) {
	s.tree[i].expiry = expiry
	s.tree[i].ok = ok
}

func (s *Service) getNode(i int) (time.Time, bool) {
	if i >= len(s.tree) {
		return noSentinel, false
	}
	return s.tree[i].expiry, s.tree[i].ok
}

func (s *Service) driverLoop() {
	defer close(s.doneCh)
	for {
		timeout := s.calculateTimeout()
		var timerCh <-chan time.Time
		var t *time.Timer
		if timeout >= 0 {
			t = time.NewTimer(timeout)
			timerCh = t.C
		}

		select {
		case <-s.stopCh:
			if t != nil {
				t.Stop()
			}
			return
		case <-s.wakeCh:
			if t != nil {
				t.Stop()
			}
		case <-timerCh:
		}

		s.runDue()
	}
}

// calculateTimeout caps the driver's sleep by the next live expiration,
// grounded directly on the teacher's Loop.calculateTimeout. A negative
// return means "sleep indefinitely until woken".
func (s *Service) calculateTimeout() time.Duration {
	next, ok := s.NextExpiration()
	if !ok {
		return -1
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	return d
}

func (s *Service) runDue() {
	s.fenceMu.Lock()
	defer s.fenceMu.Unlock()
	now := time.Now()
	for {
		next, ok := s.NextExpiration()
		if !ok || next.After(now) {
			return
		}
		interval := s.leafForExpiry()
		if interval < 0 {
			return
		}
		e, got := s.queues[interval].popIfDue(now)
		if !got {
			// Another goroutine already drained it (shouldn't happen with
			// a single driver, but harmless if ever parallelized); refresh
			// the tree and retry.
			s.updateLeaf(interval)
			continue
		}
		s.updateLeaf(interval)
		s.post(e)
	}
}

// leafForExpiry walks the tournament tree from the root to find which
// interval currently holds the winning (earliest) expiry, under treeMu so
// the walk sees one consistent tree snapshot.
func (s *Service) leafForExpiry() int {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	node := 1
	for node < s.n {
		left, right := 2*node, 2*node+1
		le, lok := s.getNode(left)
		re, rok := s.getNode(right)
		rootExpiry, rootOK := s.getNode(node)
		if !rootOK {
			return -1
		}
		switch {
		case lok && le.Equal(rootExpiry):
			node = left
		case rok && re.Equal(rootExpiry):
			node = right
		case lok:
			node = left
		case rok:
			node = right
		default:
			return -1
		}
	}
	interval := node - s.n
	if interval < 0 || interval >= len(s.table) {
		return -1
	}
	return interval
}

func (s *Service) post(e entry) {
	if s.pool == nil || e.fn == nil {
		return
	}
	fn := e.fn
	err := s.pool.Submit(e.queueID, func() bool {
		s.safeCall(fn)
		return false
	})
	if err != nil && s.logger != nil {
		s.logger.Err().Str("reason", err.Error()).Log("timer: failed to post expired callback")
	}
}

func (s *Service) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Err().Log("timer: callback panicked")
		}
	}()
	fn()
}
