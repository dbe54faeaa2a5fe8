package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/ioruntime/box"
	"github.com/stretchr/testify/require"
)

func TestLIFOScheduling(t *testing.T) {
	p, err := New(WithWorkers(1), WithQueueLimit(8), WithScheduling(SchedulingLIFO))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	go p.Run(context.Background(), time.Time{}, func() Result {
		<-release
		return Result{Value: 0}
	})
	time.Sleep(20 * time.Millisecond)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for _, v := range []int{1, 2, 3} {
		v := v
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := p.Run(context.Background(), time.Time{}, blockingOp(v))
			require.NoError(t, err)
			mu.Lock()
			order = append(order, box.Take[int](b))
			mu.Unlock()
		}()
		time.Sleep(10 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	// LIFO dequeues from the tail: the most recently submitted job runs
	// first among those queued while the worker was busy.
	require.Equal(t, []int{3, 2, 1}, order)
}

func TestShutdownQuiescence(t *testing.T) {
	p, err := New(WithWorkers(4), WithQueueLimit(16))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			b, err := p.Run(context.Background(), time.Time{}, sleepOp(5*time.Millisecond, v))
			if err == nil {
				box.Take[int](b)
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, p.Shutdown(context.Background()))

	m := p.Metrics()
	require.Zero(t, m.QueueDepth)
	require.Zero(t, m.AcceptanceWaitersDepth)
	require.Zero(t, m.ExecutingCount)
}
