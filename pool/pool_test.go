package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlowood/taskrt/internal/rterr"
)

func TestSubmitExecutesCallable(t *testing.T) {
	p := New(2)
	defer p.Close()

	q := p.NewQueue(16, 0)
	done := make(chan struct{})
	err := p.Submit(q, func() bool {
		close(done)
		return false
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callable never ran")
	}
}

func TestHigherPriorityQueueDrainsFirst(t *testing.T) {
	// A single worker, fed a batch on both queues while blocked processing
	// one low-priority item; once it returns to the scan, it must prefer
	// the high-priority queue's backlog over the low-priority one.
	p := New(1)
	defer p.Close()

	high := p.NewQueue(32, 0)
	low := p.NewQueue(32, 0)

	var mu sync.Mutex
	var order []string

	block := make(chan struct{})
	require.NoError(t, p.Submit(low, func() bool {
		<-block
		mu.Lock()
		order = append(order, "low-first")
		mu.Unlock()
		return false
	}))

	// Give the worker time to pick up the blocking low-priority item.
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(low, func() bool {
			mu.Lock()
			order = append(order, "low")
			mu.Unlock()
			return false
		}))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(high, func() bool {
			mu.Lock()
			order = append(order, "high")
			mu.Unlock()
			return false
		}))
	}

	close(block)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 11
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "low-first", order[0])
	for i := 1; i <= 5; i++ {
		assert.Equal(t, "high", order[i], "index %d", i)
	}
	for i := 6; i <= 10; i++ {
		assert.Equal(t, "low", order[i], "index %d", i)
	}
}

func TestSubmitReturnsErrQueueFullWhenSaturated(t *testing.T) {
	p := New(0) // no workers: nothing drains the queue
	defer p.Close()

	q := p.NewQueue(2, 0)
	require.NoError(t, p.Submit(q, func() bool { return false }))
	require.NoError(t, p.Submit(q, func() bool { return false }))
	err := p.Submit(q, func() bool { return false })
	require.ErrorIs(t, err, rterr.ErrQueueFull)
}

func TestRequeueResubmitsOnSameQueue(t *testing.T) {
	p := New(1)
	defer p.Close()

	q := p.NewQueue(4, 0)
	var calls int32
	done := make(chan struct{})
	require.NoError(t, p.Submit(q, func() bool {
		n := atomic.AddInt32(&calls, 1)
		if n >= 3 {
			close(done)
			return false
		}
		return true
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("requeue did not repeat the callable")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCloseDrainsBeforeStopping(t *testing.T) {
	p := New(4)
	q := p.NewQueue(64, 0)

	var processed int32
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(q, func() bool {
			atomic.AddInt32(&processed, 1)
			return false
		}))
	}

	p.Close()
	assert.Equal(t, int32(50), atomic.LoadInt32(&processed))

	err := p.Submit(q, func() bool { return false })
	require.ErrorIs(t, err, rterr.ErrPoolClosed)
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	p := New(1)
	q := p.NewQueue(4, 0)
	p.Close()
	err := p.Submit(q, func() bool { return false })
	require.ErrorIs(t, err, rterr.ErrPoolClosed)
}

func TestWorkersReportsConfiguredCount(t *testing.T) {
	p := New(3)
	defer p.Close()
	assert.Equal(t, 3, p.Workers())
}
