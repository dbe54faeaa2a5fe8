// Package pool implements the Blocking Lane: a thread-pool lane that
// accepts opaque blocking operations, schedules them across dedicated
// worker goroutines with bounded queueing and backpressure, and
// delivers results to awaiting callers with exactly-once resumption,
// deadline enforcement, and graceful shutdown.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/ioruntime/box"
	"github.com/joeycumines/ioruntime/errs"
	"github.com/joeycumines/ioruntime/ring"
	"github.com/joeycumines/ioruntime/rtlog"
)

// Pool is the public entry point of the Blocking Lane: it accepts an
// opaque operation and an optional deadline, returning its result
// asynchronously via Run.
type Pool struct {
	cfg *config

	mu         sync.Mutex
	workerCond *sync.Cond

	jobQueue        *ring.Ring[*job]
	acceptanceQueue *ring.Ring[*acceptanceWaiter]

	shuttingDown bool
	shutdownOnce sync.Once
	closing      chan struct{}
	allJoined    chan struct{}
	deadlineWake chan struct{}

	ticketCounter atomic.Uint64

	metrics *Metrics
	logger  *rtlog.Logger

	workersDone  sync.WaitGroup
	deadlineDone sync.WaitGroup
}

// New constructs a Pool and starts its workers and deadline manager
// thread immediately; the Pool is ready to accept work on return.
func New(opts ...Option) (*Pool, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:             cfg,
		jobQueue:        ring.New[*job](cfg.queueLimit),
		acceptanceQueue: ring.New[*acceptanceWaiter](cfg.acceptanceWaitersLimit),
		closing:         make(chan struct{}),
		allJoined:       make(chan struct{}),
		deadlineWake:    make(chan struct{}, 1),
		metrics:         newMetrics(),
		logger:          cfg.logger,
	}
	p.workerCond = sync.NewCond(&p.mu)
	p.metrics.queueDepthFunc = func() int { return p.jobQueue.Len() }
	p.metrics.acceptanceWaitersDepthFunc = func() int { return p.acceptanceQueue.Len() }

	for i := 0; i < cfg.workers; i++ {
		p.workersDone.Add(1)
		go p.runWorker()
	}
	p.deadlineDone.Add(1)
	go p.runDeadlineManager()

	return p, nil
}

// Run submits op for execution, blocking until it completes, is
// cancelled via ctx, fails, or the pool shuts down. deadline is the
// absolute instant by which acceptance must complete; a zero Time means
// no acceptance deadline. ctx governs caller-side cancellation, which
// may occur at any point before or during execution.
func (p *Pool) Run(ctx context.Context, deadline time.Time, op Operation) (*box.Box, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return nil, errs.Cancellation()
	}

	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil, errs.ShutdownInProgress()
	}

	ticket := p.ticketCounter.Add(1)
	cctx := newCompletionContext()
	j := &job{ticket: ticket, op: op, ctx: cctx, enqueuedAt: time.Now()}

	wasEmpty := p.jobQueue.Empty()
	if p.jobQueue.PushBack(j) {
		p.metrics.enqueued.Add(1)
		becameSaturated := p.jobQueue.Full()
		p.mu.Unlock()
		if wasEmpty {
			p.workerCond.Signal()
			p.fireTransition(BecameNonEmpty)
		}
		if becameSaturated {
			p.fireTransition(BecameSaturated)
		}
		return p.awaitCompletion(ctx, cctx)
	}

	// job queue full: consult backpressure policy.
	switch p.cfg.backpressure {
	case BackpressureFailFast:
		p.metrics.failFast.Add(1)
		p.mu.Unlock()
		return nil, errs.Failure(errs.NewOperational(errs.OperationalQueueFull, nil))

	default: // BackpressureWait
		w := &acceptanceWaiter{j: j, deadline: deadline}
		if !p.acceptanceQueue.PushBack(w) {
			p.metrics.overloaded.Add(1)
			p.mu.Unlock()
			return nil, errs.Failure(errs.NewOperational(errs.OperationalOverloaded, nil))
		}
		hasDeadline := !deadline.IsZero()
		p.mu.Unlock()
		if hasDeadline {
			p.wakeDeadlineManager()
		}
		rtlog.Acceptance(p.logger).Int64(`ticket`, int64(ticket)).Log(`waiting for capacity`)
		return p.awaitCompletion(ctx, cctx)
	}
}

// awaitCompletion waits for cctx to resolve, racing against caller
// cancellation. If ctx fires first and wins the cancel CAS, the caller
// observes cancellationRequested immediately; the job, if it later
// completes on a worker, has its box destroyed when complete loses that
// race (see runWorker).
func (p *Pool) awaitCompletion(ctx context.Context, cctx *completionContext) (*box.Box, error) {
	select {
	case <-cctx.done:
		return cctx.wait()
	case <-ctx.Done():
		if cctx.cancel() {
			p.metrics.cancelled.Add(1)
			return nil, errs.Cancellation()
		}
		return cctx.wait()
	}
}

func (p *Pool) wakeDeadlineManager() {
	select {
	case p.deadlineWake <- struct{}{}:
	default:
	}
}

func (p *Pool) fireTransition(t QueueTransition) {
	if p.cfg.onStateTransition != nil {
		p.cfg.onStateTransition(t)
		return
	}
	rtlog.Acceptance(p.logger).Str(`transition`, t.String()).Log(`queue state transition`)
}

// Shutdown stops accepting new work, drains the acceptance queue with a
// typed shutdown failure, wakes and joins all worker and deadline
// manager threads, and waits for in-flight jobs to finish. It is
// idempotent and always terminates.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		go p.shutdown()
	})

	select {
	case <-p.allJoined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	p.shuttingDown = true

	// drain the acceptance queue: fail every waiter with shutdown.
	p.acceptanceQueue.Range(func(w *acceptanceWaiter) bool {
		if !w.resumed {
			w.resumed = true
			w.j.ctx.fail(errs.ShutdownInProgress())
		}
		return true
	})
	for p.acceptanceQueue.Len() > 0 {
		p.acceptanceQueue.PopFront()
	}

	close(p.closing)
	p.workerCond.Broadcast()
	p.mu.Unlock()

	p.workersDone.Wait()
	p.deadlineDone.Wait()

	rtlog.Shutdown(p.logger).Log(`pool shutdown complete`)
	close(p.allJoined)
}

// Metrics returns a consistent point-in-time snapshot of the Pool's
// gauges, counters, and latency aggregates.
func (p *Pool) Metrics() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics.snapshotLocked()
}

// promoteAcceptanceLocked must be called with p.mu held. It promotes
// acceptance waiters into the job queue while both have room, skipping
// already-resumed (cancelled/expired) waiters without compaction, per
// the lazy-skip ring contract. Returns true if the job queue transitioned
// from empty to non-empty as a result.
func (p *Pool) promoteAcceptanceLocked() bool {
	wasEmpty := p.jobQueue.Empty()
	promoted := 0
	for !p.jobQueue.Full() {
		w, ok := p.acceptanceQueue.DequeueSkip(func(w *acceptanceWaiter) bool { return w.resumed })
		if !ok {
			break
		}
		w.resumed = true
		w.j.acceptanceWait = time.Since(w.j.enqueuedAt)
		p.jobQueue.PushBack(w.j)
		p.metrics.acceptancePromoted.Add(1)
		p.metrics.recordAcceptanceWait(w.j.acceptanceWait)
		promoted++
	}
	return promoted > 0 && wasEmpty
}
