package pool

import (
	"time"

	"github.com/joeycumines/ioruntime/errs"
)

// runDeadlineManager is the Deadline Manager thread of §4.6. A sync.Cond
// cannot express a timed wait, so unlike the worker's condition
// variable this loop wakes via a buffered notification channel
// (deadlineWake) combined with a time.Timer computed from the earliest
// pending acceptance deadline; together they serve the same purpose as
// the spec's "condition variable with timeout = remaining or indefinite
// if none" without requiring a platform-specific timed condvar.
func (p *Pool) runDeadlineManager() {
	defer p.deadlineDone.Done()

	for {
		p.mu.Lock()
		if p.shuttingDown {
			p.mu.Unlock()
			return
		}
		earliest, found := p.earliestDeadlineLocked()
		p.mu.Unlock()

		var timerC <-chan time.Time
		if found {
			d := time.Until(earliest)
			if d < 0 {
				d = 0
			}
			t := time.NewTimer(d)
			timerC = t.C
			select {
			case <-p.deadlineWake:
				t.Stop()
				continue
			case <-p.closing:
				t.Stop()
				return
			case <-timerC:
				p.expireDeadlines()
			}
			continue
		}

		select {
		case <-p.deadlineWake:
		case <-p.closing:
			return
		}
	}
}

// earliestDeadlineLocked must be called with p.mu held.
func (p *Pool) earliestDeadlineLocked() (earliest time.Time, found bool) {
	p.acceptanceQueue.Range(func(w *acceptanceWaiter) bool {
		if w.resumed || w.deadline.IsZero() {
			return true
		}
		if !found || w.deadline.Before(earliest) {
			earliest = w.deadline
			found = true
		}
		return true
	})
	return earliest, found
}

// expireDeadlines marks every expired, non-resumed acceptance waiter as
// resumed and fails its context with timeout, outside the lock.
func (p *Pool) expireDeadlines() {
	p.mu.Lock()
	var expired []*acceptanceWaiter
	p.acceptanceQueue.Range(func(w *acceptanceWaiter) bool {
		if !w.resumed && p.waiterExpiredLocked(w) {
			w.resumed = true
			expired = append(expired, w)
		}
		return true
	})
	p.mu.Unlock()

	for _, w := range expired {
		w.j.ctx.fail(errs.Timeout())
		p.metrics.acceptanceTimeout.Add(1)
	}
}
