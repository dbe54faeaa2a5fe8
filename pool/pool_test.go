package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/joeycumines/ioruntime/box"
	"github.com/joeycumines/ioruntime/errs"
	"github.com/stretchr/testify/require"
)

func blockingOp(v any) Operation {
	return func() Result { return Result{Value: v} }
}

func sleepOp(d time.Duration, v any) Operation {
	return func() Result {
		time.Sleep(d)
		return Result{Value: v}
	}
}

func TestRunBasic(t *testing.T) {
	p, err := New(WithWorkers(2), WithQueueLimit(4))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	b, err := p.Run(context.Background(), time.Time{}, blockingOp(42))
	require.NoError(t, err)
	require.Equal(t, 42, box.Take[int](b))
}

func TestBackpressureWaitThenPromote(t *testing.T) {
	p, err := New(WithWorkers(1), WithQueueLimit(1), WithBackpressureStrategy(BackpressureWait))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	var order []int
	var mu sync.Mutex

	done := make(chan struct{})
	go func() {
		b, err := p.Run(context.Background(), time.Time{}, func() Result {
			<-release
			return Result{Value: "a"}
		})
		require.NoError(t, err)
		box.Take[string](b)
		close(done)
	}()

	// give A time to be accepted and start running on the single worker.
	time.Sleep(20 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b, err := p.Run(context.Background(), time.Time{}, blockingOp(1))
		require.NoError(t, err)
		mu.Lock()
		order = append(order, box.Take[int](b))
		mu.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		b, err := p.Run(context.Background(), time.Time{}, blockingOp(2))
		require.NoError(t, err)
		mu.Lock()
		order = append(order, box.Take[int](b))
		mu.Unlock()
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	<-done
	wg.Wait()

	require.Equal(t, []int{1, 2}, order)
	m := p.Metrics()
	require.EqualValues(t, 2, m.AcceptancePromoted)
}

func TestFailFastOverflow(t *testing.T) {
	p, err := New(WithWorkers(1), WithQueueLimit(1), WithBackpressureStrategy(BackpressureFailFast))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	go p.Run(context.Background(), time.Time{}, func() Result {
		<-release
		return Result{Value: nil}
	})
	time.Sleep(20 * time.Millisecond)

	_, err = p.Run(context.Background(), time.Time{}, blockingOp(nil))
	require.Error(t, err)
	var lc *errs.Lifecycle
	require.True(t, errors.As(err, &lc))
	var op *errs.Operational
	require.True(t, errors.As(err, &op))
	require.Equal(t, errs.OperationalQueueFull, op.Kind)

	close(release)
}

func TestAcceptanceTimeout(t *testing.T) {
	p, err := New(WithWorkers(1), WithQueueLimit(1), WithBackpressureStrategy(BackpressureWait))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	go p.Run(context.Background(), time.Time{}, func() Result {
		<-release
		return Result{Value: nil}
	})
	time.Sleep(20 * time.Millisecond)

	_, err = p.Run(context.Background(), time.Now().Add(50*time.Millisecond), blockingOp(nil))
	require.Error(t, err)
	var lc *errs.Lifecycle
	require.True(t, errors.As(err, &lc))
	require.Equal(t, errs.LifecycleTimeout, lc.Kind)

	close(release)

	time.Sleep(20 * time.Millisecond)
	m := p.Metrics()
	require.EqualValues(t, 1, m.AcceptanceTimeout)
}

func TestCancellationDuringCompletion(t *testing.T) {
	p, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	var destroyed atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())

	resultCh := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, time.Time{}, func() Result {
			time.Sleep(200 * time.Millisecond)
			return Result{Value: "done", Destroy: func(any) { destroyed.Store(true) }}
		})
		resultCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err = <-resultCh
	require.Error(t, err)
	var lc *errs.Lifecycle
	require.True(t, errors.As(err, &lc))
	require.Equal(t, errs.LifecycleCancellationRequested, lc.Kind)

	time.Sleep(300 * time.Millisecond)
	require.True(t, destroyed.Load())
}

func TestShutdownIdempotent(t *testing.T) {
	p, err := New(WithWorkers(1))
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestMetricsSnapshotStableBetweenReads(t *testing.T) {
	p, err := New(WithWorkers(2), WithQueueLimit(4))
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	b, err := p.Run(context.Background(), time.Time{}, blockingOp(1))
	require.NoError(t, err)
	box.Take[int](b)

	b, err = p.Run(context.Background(), time.Time{}, blockingOp(2))
	require.NoError(t, err)
	box.Take[int](b)

	first := p.Metrics()
	second := p.Metrics()

	// ThroughputPerSecond is a live rate computed from elapsed wall time,
	// so it legitimately drifts between back-to-back reads even with no
	// new work submitted; every other field is a quiescent counter or
	// aggregate and must compare identical.
	if diff := cmp.Diff(first, second, cmp.Comparer(func(a, b float64) bool { return true })); diff != "" {
		t.Fatalf("snapshot mismatch between back-to-back reads (-first +second):\n%s", diff)
	}
	require.EqualValues(t, 2, first.Completed)
}

func TestShutdownRejectsNewWork(t *testing.T) {
	p, err := New(WithWorkers(1))
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))

	_, err = p.Run(context.Background(), time.Time{}, blockingOp(1))
	require.Error(t, err)
	var lc *errs.Lifecycle
	require.True(t, errors.As(err, &lc))
	require.Equal(t, errs.LifecycleShutdownInProgress, lc.Kind)
}
