package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlowood/taskrt/pool"
)

func TestStartFiresAfterInterval(t *testing.T) {
	p := pool.New(2)
	defer p.Close()
	q := p.NewQueue(16, 0)

	svc, err := New(IntervalTable{10 * time.Millisecond, 200 * time.Millisecond}, p)
	require.NoError(t, err)
	defer svc.Close()

	fired := make(chan struct{})
	start := time.Now()
	_, err = svc.Start(0, q, func() { close(fired) })
	require.NoError(t, err)

	select {
	case <-fired:
		assert.GreaterOrEqual(t, time.Since(start), 9*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	p := pool.New(2)
	defer p.Close()
	q := p.NewQueue(16, 0)

	svc, err := New(IntervalTable{50 * time.Millisecond}, p)
	require.NoError(t, err)
	defer svc.Close()

	var fired atomic.Bool
	h, err := svc.Start(0, q, func() { fired.Store(true) })
	require.NoError(t, err)

	ok := svc.Cancel(h)
	require.True(t, ok)

	time.Sleep(150 * time.Millisecond)
	assert.False(t, fired.Load())

	// Cancelling again reports failure: already tombstoned.
	assert.False(t, svc.Cancel(h))
}

func TestShortestIntervalFiresFirst(t *testing.T) {
	p := pool.New(2)
	defer p.Close()
	q := p.NewQueue(16, 0)

	svc, err := New(IntervalTable{100 * time.Millisecond, 10 * time.Millisecond, 500 * time.Millisecond}, p)
	require.NoError(t, err)
	defer svc.Close()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(3)
	for i, label := range []int{0, 1, 2} {
		i, label := i, label
		_, err := svc.Start(i, q, func() {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			wg.Done()
		})
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all timers fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, 1, order[0], "shortest interval (index 1) should fire first")
}

func TestNextExpirationReflectsEarliestLiveTimer(t *testing.T) {
	p := pool.New(1)
	defer p.Close()
	q := p.NewQueue(16, 0)

	svc, err := New(IntervalTable{time.Hour, time.Minute}, p)
	require.NoError(t, err)
	defer svc.Close()

	_, ok := svc.NextExpiration()
	assert.False(t, ok)

	before := time.Now()
	_, err = svc.Start(1, q, func() {})
	require.NoError(t, err)

	next, ok := svc.NextExpiration()
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(time.Minute), next, 2*time.Second)
}

func TestIntervalOutOfRangeRejected(t *testing.T) {
	p := pool.New(1)
	defer p.Close()
	q := p.NewQueue(16, 0)

	svc, err := New(IntervalTable{time.Millisecond}, p)
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Start(5, q, func() {})
	require.Error(t, err)
}

func TestNewRejectsEmptyTable(t *testing.T) {
	p := pool.New(0)
	defer p.Close()
	_, err := New(IntervalTable{}, p)
	require.Error(t, err)
}
