package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlowood/taskrt/internal/rterr"
)

func TestMoveInMoveOutFIFO(t *testing.T) {
	q := New[int](4)
	p := q.ProducerAccess()
	c := q.ConsumerAccess()

	for i := 0; i < 4; i++ {
		n, err := p.MoveIn(i)
		require.NoError(t, err)
		require.Equal(t, i+1, n)
	}

	_, err := p.MoveIn(99)
	require.ErrorIs(t, err, rterr.ErrQueueFull)

	for i := 0; i < 4; i++ {
		v, ok := c.MoveOut()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	_, ok := c.MoveOut()
	require.False(t, ok)
}

func TestReallocateRequiresEmpty(t *testing.T) {
	q := New[int](2)
	p := q.ProducerAccess()
	_, err := p.MoveIn(1)
	require.NoError(t, err)

	err = q.Reallocate(8)
	require.ErrorIs(t, err, rterr.ErrIllegalState)

	_, _ = q.ConsumerAccess().MoveOut()
	require.NoError(t, q.Reallocate(8))
	assert.Equal(t, 8, q.Capacity())
}

func TestConcurrentProducersConsumersPreserveCount(t *testing.T) {
	const (
		producers = 8
		perProd   = 2000
	)
	q := New[int](64)
	p := q.ProducerAccess()
	c := q.ConsumerAccess()

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for n := 0; n < perProd; n++ {
				for {
					if _, err := p.MoveIn(n); err == nil {
						break
					}
				}
			}
		}()
	}

	var mu sync.Mutex
	count := 0
	var cwg sync.WaitGroup
	stop := make(chan struct{})
	cwg.Add(4)
	for i := 0; i < 4; i++ {
		go func() {
			defer cwg.Done()
			for {
				if _, ok := c.MoveOut(); ok {
					mu.Lock()
					count++
					mu.Unlock()
					continue
				}
				select {
				case <-stop:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	// Drain whatever remains, then signal consumers to stop once the ring
	// is observed empty and no more will arrive.
	for {
		mu.Lock()
		done := count == producers*perProd
		mu.Unlock()
		if done {
			break
		}
	}
	close(stop)
	cwg.Wait()

	assert.Equal(t, producers*perProd, count)
}
