package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/constraints"
)

// minOrdered and maxOrdered mirror catrate's generic comparison helpers,
// used here to keep aggregate.record branch-free to read.
func minOrdered[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func maxOrdered[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// aggregate tracks count/sum/min/max in nanoseconds for a single
// latency category. Updated under Metrics.mu, off the hot path, per
// the "lock-free counters, lock-guarded aggregates" design note: counts
// are cheap atomic increments, but min/max/sum need a consistent
// read-modify-write that a bare atomic compare-and-swap loop would make
// needlessly complex for no measurable benefit here.
type aggregate struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

func (a *aggregate) record(d time.Duration) {
	n := uint64(d)
	if a.count == 0 {
		a.min, a.max = n, n
	} else {
		a.min = minOrdered(a.min, n)
		a.max = maxOrdered(a.max, n)
	}
	a.sum += n
	a.count++
}

// AggregateSnapshot is a point-in-time copy of an aggregate, safe to
// retain after Metrics.Snapshot returns.
type AggregateSnapshot struct {
	Count uint64
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (a *aggregate) snapshot() AggregateSnapshot {
	return AggregateSnapshot{
		Count: a.count,
		Sum:   time.Duration(a.sum),
		Min:   time.Duration(a.min),
		Max:   time.Duration(a.max),
	}
}

// tpsCounter is a rolling one-second throughput gauge, grounded on the
// retrieval pack's TPSCounter: a bucketed counter rotated on read, kept
// deliberately simpler than the pack's percentile machinery since this
// spec wants only a throughput rate, not percentiles.
type tpsCounter struct {
	mu           sync.Mutex
	windowStart  time.Time
	windowCount  uint64
	lastRate     float64
	bucketLength time.Duration
}

func newTPSCounter() *tpsCounter {
	return &tpsCounter{windowStart: time.Now(), bucketLength: time.Second}
}

func (t *tpsCounter) increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotateLocked(time.Now())
	t.windowCount++
}

func (t *tpsCounter) rotateLocked(now time.Time) {
	if elapsed := now.Sub(t.windowStart); elapsed >= t.bucketLength {
		// elapsed may span multiple buckets under low traffic; treat
		// anything beyond one full bucket as a rate reset rather than
		// extrapolating from a single sample.
		if elapsed >= 2*t.bucketLength {
			t.lastRate = 0
		} else {
			t.lastRate = float64(t.windowCount) / elapsed.Seconds()
		}
		t.windowStart = now
		t.windowCount = 0
	}
}

func (t *tpsCounter) rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotateLocked(time.Now())
	if t.windowCount == 0 {
		return t.lastRate
	}
	elapsed := time.Since(t.windowStart).Seconds()
	if elapsed <= 0 {
		return t.lastRate
	}
	return float64(t.windowCount) / elapsed
}

// Metrics holds the Pool's counters, gauges, and latency aggregates, per
// §6: gauges (queueDepth, acceptanceWaitersDepth, executingCount,
// sleepingWorkers), counters (enqueued, started, completed,
// acceptancePromoted, acceptanceTimeout, failFast, overloaded,
// cancelled), and aggregates (enqueueToStart, execution,
// acceptanceWait), plus a supplemental throughput gauge (§12).
type Metrics struct {
	// counters: lock-free, relaxed atomic increments, grouped for cache
	// locality per the design note.
	enqueued           atomic.Uint64
	started            atomic.Uint64
	completed          atomic.Uint64
	acceptancePromoted atomic.Uint64
	acceptanceTimeout  atomic.Uint64
	failFast           atomic.Uint64
	overloaded         atomic.Uint64
	cancelled          atomic.Uint64

	sleepingWorkers atomic.Int64
	executingCount  atomic.Int64

	tps *tpsCounter

	mu             sync.Mutex
	enqueueToStart aggregate
	execution      aggregate
	acceptanceWait aggregate

	// gauges read directly from the pool under its lock at Snapshot
	// time; queueDepth/acceptanceWaitersDepth are not atomics because
	// they are ring lengths only meaningful under the lane lock.
	queueDepthFunc             func() int
	acceptanceWaitersDepthFunc func() int
}

func newMetrics() *Metrics {
	return &Metrics{tps: newTPSCounter()}
}

// Snapshot is an immutable point-in-time copy of Metrics.
type Snapshot struct {
	QueueDepth             int
	AcceptanceWaitersDepth int
	ExecutingCount         int64
	SleepingWorkers        int64

	Enqueued           uint64
	Started            uint64
	Completed          uint64
	AcceptancePromoted uint64
	AcceptanceTimeout  uint64
	FailFast           uint64
	Overloaded         uint64
	Cancelled          uint64

	ThroughputPerSecond float64

	EnqueueToStart AggregateSnapshot
	Execution      AggregateSnapshot
	AcceptanceWait AggregateSnapshot
}

// snapshotLocked returns a consistent point-in-time copy of the metrics. Must
// be called with the lane lock held so the gauge callbacks observe a
// stable ring state.
func (m *Metrics) snapshotLocked() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		ExecutingCount:      m.executingCount.Load(),
		SleepingWorkers:     m.sleepingWorkers.Load(),
		Enqueued:            m.enqueued.Load(),
		Started:             m.started.Load(),
		Completed:           m.completed.Load(),
		AcceptancePromoted:  m.acceptancePromoted.Load(),
		AcceptanceTimeout:   m.acceptanceTimeout.Load(),
		FailFast:            m.failFast.Load(),
		Overloaded:          m.overloaded.Load(),
		Cancelled:           m.cancelled.Load(),
		ThroughputPerSecond: m.tps.rate(),
		EnqueueToStart:      m.enqueueToStart.snapshot(),
		Execution:           m.execution.snapshot(),
		AcceptanceWait:      m.acceptanceWait.snapshot(),
	}
	if m.queueDepthFunc != nil {
		s.QueueDepth = m.queueDepthFunc()
	}
	if m.acceptanceWaitersDepthFunc != nil {
		s.AcceptanceWaitersDepth = m.acceptanceWaitersDepthFunc()
	}
	return s
}

func (m *Metrics) recordEnqueueToStart(d time.Duration) {
	m.mu.Lock()
	m.enqueueToStart.record(d)
	m.mu.Unlock()
}

func (m *Metrics) recordExecution(d time.Duration) {
	m.mu.Lock()
	m.execution.record(d)
	m.mu.Unlock()
}

func (m *Metrics) recordAcceptanceWait(d time.Duration) {
	m.mu.Lock()
	m.acceptanceWait.record(d)
	m.mu.Unlock()
}
