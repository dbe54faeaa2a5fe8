package pool

import (
	"time"

	"github.com/joeycumines/ioruntime/box"
	"github.com/joeycumines/ioruntime/errs"
	"github.com/joeycumines/ioruntime/rtlog"
)

// runWorker is the body of one dedicated worker goroutine, per §4.5.
func (p *Pool) runWorker() {
	defer p.workersDone.Done()

	for {
		p.mu.Lock()
		for p.jobQueue.Empty() && p.acceptanceQueue.Empty() && !p.shuttingDown {
			p.metrics.sleepingWorkers.Add(1)
			p.workerCond.Wait()
			p.metrics.sleepingWorkers.Add(-1)
		}

		if p.shuttingDown && p.jobQueue.Empty() && p.acceptanceQueue.Empty() {
			p.mu.Unlock()
			return
		}

		wasEmpty := p.jobQueue.Empty()
		wasFull := p.jobQueue.Full()
		batch := p.drainBatchLocked()
		p.promoteAcceptanceLocked()
		isEmpty := p.jobQueue.Empty()
		isFull := p.jobQueue.Full()
		p.mu.Unlock()

		switch {
		case !wasEmpty && isEmpty:
			p.fireTransition(BecameEmpty)
		case wasEmpty && !isEmpty:
			p.fireTransition(BecameNonEmpty)
		}
		switch {
		case wasFull && !isFull:
			p.fireTransition(BecameNotSaturated)
		case !wasFull && isFull:
			p.fireTransition(BecameSaturated)
		}

		for _, j := range batch {
			p.executeJob(j)
		}

		// Quiescence (inFlight == 0 && queues empty) is detected by
		// Shutdown via workersDone/deadlineDone rather than a broadcast
		// here: every worker reevaluates the exit condition on its next
		// loop iteration against the already-broadcast shuttingDown
		// flag, so no further wakeup is needed once a worker has no
		// more jobs to drain.
	}
}

// drainBatchLocked must be called with p.mu held. It pops up to
// drainLimit jobs from the job queue in the configured scheduling order,
// falling back to the acceptance queue (skipping expired/resumed
// waiters, failing expired ones with timeout) only once the job queue is
// empty.
func (p *Pool) drainBatchLocked() []*job {
	batch := make([]*job, 0, p.cfg.drainLimit)
	pop := p.jobQueue.PopFront
	if p.cfg.scheduling == SchedulingLIFO {
		pop = p.jobQueue.PopBack
	}
	for len(batch) < p.cfg.drainLimit {
		j, ok := pop()
		if !ok {
			break
		}
		batch = append(batch, j)
	}

	for len(batch) < p.cfg.drainLimit {
		w, ok := p.acceptanceQueue.PopFront()
		if !ok {
			break
		}
		if w.resumed {
			continue
		}
		if p.waiterExpiredLocked(w) {
			w.resumed = true
			w.j.ctx.fail(errs.Timeout())
			p.metrics.acceptanceTimeout.Add(1)
			continue
		}
		w.resumed = true
		w.j.acceptanceWait = time.Since(w.j.enqueuedAt)
		p.metrics.acceptancePromoted.Add(1)
		p.metrics.recordAcceptanceWait(w.j.acceptanceWait)
		batch = append(batch, w.j)
	}

	return batch
}

func (p *Pool) waiterExpiredLocked(w *acceptanceWaiter) bool {
	return !w.deadline.IsZero() && !time.Now().Before(w.deadline)
}

// executeJob runs one job's operation outside the lock and resolves its
// completion context exactly once.
func (p *Pool) executeJob(j *job) {
	p.metrics.started.Add(1)
	p.metrics.executingCount.Add(1)
	p.metrics.recordEnqueueToStart(time.Since(j.enqueuedAt))

	rtlog.Worker(p.logger, j.ticket).Log(`executing`)

	start := time.Now()
	res := j.op()
	p.metrics.recordExecution(time.Since(start))
	p.metrics.executingCount.Add(-1)
	p.metrics.completed.Add(1)
	p.metrics.tps.increment()

	if res.Err != nil {
		j.ctx.fail(errs.Failure(errs.NewOperational(errs.OperationalFailed, res.Err)))
	} else {
		b := box.Make(res.Value, res.Destroy)
		if !j.ctx.complete(b) {
			// the caller's cancel won the race first: the box was
			// never observed, so it must be destroyed here to avoid a
			// leak, per the box contract (exactly one of take/destroy).
			box.Destroy(b)
		}
	}
}
