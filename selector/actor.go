package selector

import (
	"context"
	"time"

	"github.com/joeycumines/ioruntime/errs"
	"github.com/joeycumines/ioruntime/rtlog"
)

var allInterests = [...]Interest{InterestRead, InterestWrite, InterestPriority}

// runActorLoop is the single funnel (§4.9): every mutation of
// registrations, waiters, permits, and the deadline heap happens here,
// on one goroutine, so no lock is needed for any of it.
func (s *Selector) runActorLoop() {
	defer close(s.actorDone)

	ctx := context.Background()
	lastPublished := noDeadline

	for {
		msg, ok := s.inbox.Next(ctx)
		if !ok {
			rtlog.Shutdown(s.logger).Log(`selector actor loop draining on shutdown`)
			s.failAll(errs.ShutdownInProgress())
			return
		}

		switch msg.kind {
		case actorPoll:
			s.handlePoll(msg.poll)
		case actorCompletion:
			s.handleCompletion(msg.req, msg.err)
		case actorCancel:
			s.handleCancel(msg.cancelKey, msg.cancelGen)
		case actorArmSinglePhase:
			s.handleArmSinglePhase(msg.armKey, msg.armDeadline, msg.singlePhaseReply)
		case actorArmBegin:
			s.handleArmBegin(msg.armKey, msg.beginReply)
		case actorAwaitArm:
			s.handleAwaitArm(msg.armKey, msg.armGen, msg.armDeadline, msg.awaitReply)
		case actorDeregister:
			s.handleDeregisterLocal(msg.deregisterID)
		}

		s.expireDeadlines()
		s.republishDeadline(&lastPublished)
	}
}

// handlePoll implements step 2 of the event-processing loop: dispatch
// each ready interest bit of each event to its waiter (resuming it) or,
// absent a waiter, caches it as a permit for the next arm call.
func (s *Selector) handlePoll(pm pollMsg) {
	switch pm.kind {
	case pollEvents:
		for _, ev := range pm.events {
			for _, bit := range allInterests {
				if !ev.Interest.Has(bit) {
					continue
				}
				s.dispatchEvent(waiterKey{id: ev.ID, interest: bit}, Event{ID: ev.ID, Interest: bit, Flags: ev.Flags})
			}
		}
	case pollTick:
		// no events; deadlines still expire via the caller in runActorLoop.
	case pollError:
		s.failAll(errs.Failure(errs.NewLeaf(errs.LeafPlatform, pm.err)))
	}
}

func (s *Selector) dispatchEvent(key waiterKey, ev Event) {
	w, found := s.waiters[key]
	if !found {
		s.permits[key] = ev.Flags
		return
	}
	switch waiterState(w.state.Load()) {
	case waiterUnarmed, waiterCancelledUnarmed:
		// two-phase in-flight, no continuation installed yet: cache.
		s.permits[key] = ev.Flags
		return
	}

	delete(s.waiters, key)
	s.bumpGeneration(key)
	s.cancelDeadlineEntry(key)

	cancelled, ok := w.takeForResume()
	if !ok {
		// already drained by a racing deadline/cancel: nothing to do.
		return
	}
	if cancelled {
		w.resume(outcome{err: errs.Cancellation()})
	} else {
		w.resume(outcome{event: ev})
	}
}

func (s *Selector) handleCompletion(req *request, err error) {
	switch req.kind {
	case reqRegister:
		if err == nil {
			s.registrations[req.id] = &registration{fd: req.fd, interest: req.interest}
			if req.reply != nil {
				req.reply <- nil
			}
		} else if req.reply != nil {
			req.reply <- errs.Failure(errs.NewLeaf(errs.LeafPlatform, err))
		}
	case reqModify:
		if req.reply != nil {
			if err != nil {
				req.reply <- errs.Failure(errs.NewLeaf(errs.LeafPlatform, err))
			} else {
				req.reply <- nil
			}
		}
	case reqDeregister:
		// local bookkeeping already ran via actorDeregister; the driver
		// confirmation is best-effort and ignored per §4.9.
	}
}

// handleCancel processes a cancellation notice for key/gen, ignoring it
// if the waiter has already resolved or been replaced (stale notice).
func (s *Selector) handleCancel(key waiterKey, gen uint64) {
	w, ok := s.waiters[key]
	if !ok || s.generations[key] != gen {
		return
	}

	switch waiterState(w.state.Load()) {
	case waiterUnarmed, waiterCancelledUnarmed:
		// abandoned before arming (two-phase Begin never AwaitArm'd):
		// remove it outright rather than waiting for an event to notice.
		delete(s.waiters, key)
		s.bumpGeneration(key)
		s.cancelDeadlineEntry(key)
		w.cancel()
	default:
		if _, ok2 := w.takeForResume(); ok2 {
			delete(s.waiters, key)
			s.bumpGeneration(key)
			s.cancelDeadlineEntry(key)
			w.resume(outcome{err: errs.Cancellation()})
		}
	}
}

// handleArmSinglePhase implements Arm's actor-side half: consult the
// permit cache, and otherwise create and arm a waiter.
func (s *Selector) handleArmSinglePhase(key waiterKey, deadline time.Time, reply chan armOutcome) {
	reg, ok := s.registrations[key.id]
	if !ok {
		reply <- armOutcome{immediate: &outcome{err: notRegisteredErr()}}
		return
	}

	if flags, ok := s.permits[key]; ok {
		delete(s.permits, key)
		s.enqueueArm(reg.fd, key)
		reply <- armOutcome{immediate: &outcome{event: Event{ID: key.id, Interest: key.interest, Flags: flags}}}
		return
	}

	gen := s.nextGeneration(key)
	w := newWaiter(key, gen)
	s.waiters[key] = w
	w.arm()
	s.scheduleDeadline(key, gen, deadline)
	s.enqueueArm(reg.fd, key)
	reply <- armOutcome{waiter: w}
}

// handleArmBegin implements Begin's actor-side half: same permit check,
// but on the waiter path it leaves the waiter unarmed for AwaitArm.
func (s *Selector) handleArmBegin(key waiterKey, reply chan Handle) {
	reg, ok := s.registrations[key.id]
	if !ok {
		reply <- Handle{id: key.id, interest: key.interest, ready: &outcome{err: notRegisteredErr()}}
		return
	}

	if flags, ok := s.permits[key]; ok {
		delete(s.permits, key)
		s.enqueueArm(reg.fd, key)
		reply <- Handle{id: key.id, interest: key.interest, ready: &outcome{event: Event{ID: key.id, Interest: key.interest, Flags: flags}}}
		return
	}

	gen := s.nextGeneration(key)
	w := newWaiter(key, gen)
	s.waiters[key] = w
	s.enqueueArm(reg.fd, key)
	reply <- Handle{id: key.id, interest: key.interest, generation: gen}
}

// handleAwaitArm installs the continuation for a waiter created by
// Begin, failing with deregistered if the handle's generation is stale.
func (s *Selector) handleAwaitArm(key waiterKey, gen uint64, deadline time.Time, reply chan *waiter) {
	w, ok := s.waiters[key]
	if !ok || s.generations[key] != gen {
		reply <- nil
		return
	}
	w.arm()
	s.scheduleDeadline(key, gen, deadline)
	reply <- w
}

func (s *Selector) handleDeregisterLocal(id uint64) {
	for _, bit := range allInterests {
		key := waiterKey{id: id, interest: bit}
		if w, ok := s.waiters[key]; ok {
			delete(s.waiters, key)
			s.bumpGeneration(key)
			s.cancelDeadlineEntry(key)
			if _, ok2 := w.takeForResume(); ok2 {
				w.resume(outcome{err: errs.NewLeaf(errs.LeafDeregistered, nil)})
			}
		}
		delete(s.permits, key)
	}
	delete(s.registrations, id)
}

// expireDeadlines implements step 4: pop every deadline that has
// elapsed, skipping stale (generation-mismatched) entries, and failing
// armed waiters with timeout (or cancelled, if a cancellation raced in).
func (s *Selector) expireDeadlines() {
	now := time.Now()
	for {
		e, ok := s.deadlines.peek()
		if !ok || e.deadline.After(now) {
			return
		}
		s.deadlines.pop()

		if s.generations[e.key] != e.generation {
			continue
		}
		delete(s.deadlineEntry, e.key)

		w, ok := s.waiters[e.key]
		if !ok {
			continue
		}
		switch waiterState(w.state.Load()) {
		case waiterUnarmed, waiterCancelledUnarmed:
			// timeout applies only to suspension, not two-phase in-flight.
			continue
		}

		delete(s.waiters, e.key)
		s.bumpGeneration(e.key)
		cancelled, ok2 := w.takeForResume()
		if !ok2 {
			continue
		}
		if cancelled {
			w.resume(outcome{err: errs.Cancellation()})
		} else {
			w.resume(outcome{err: errs.Timeout()})
		}
	}
}

// republishDeadline implements step 5: publish the earliest pending
// deadline to the atomic slot the poll thread reads, waking it if the
// deadline moved earlier than what was previously published.
func (s *Selector) republishDeadline(last *int64) {
	next := noDeadline
	if e, ok := s.deadlines.peek(); ok {
		next = e.deadline.UnixNano()
	}
	s.nextDeadline.Store(next)
	if next < *last {
		_ = s.driver.Wakeup()
	}
	*last = next
}

func (s *Selector) failAll(err error) {
	for key, w := range s.waiters {
		delete(s.waiters, key)
		s.bumpGeneration(key)
		s.cancelDeadlineEntry(key)
		if _, ok := w.takeForResume(); ok {
			w.resume(outcome{err: err})
		}
	}
	s.permits = make(map[waiterKey]Flags)
}

func (s *Selector) bumpGeneration(key waiterKey) { s.generations[key]++ }

func (s *Selector) nextGeneration(key waiterKey) uint64 {
	s.generations[key]++
	return s.generations[key]
}

func (s *Selector) cancelDeadlineEntry(key waiterKey) {
	if e, ok := s.deadlineEntry[key]; ok {
		s.deadlines.cancel(e)
		delete(s.deadlineEntry, key)
	}
}

func (s *Selector) scheduleDeadline(key waiterKey, gen uint64, deadline time.Time) {
	if deadline.IsZero() {
		return
	}
	e := s.deadlines.schedule(key, gen, deadline)
	s.deadlineEntry[key] = e
}

func (s *Selector) enqueueArm(fd int, key waiterKey) {
	s.requests.Enqueue(&request{kind: reqArm, fd: fd, id: key.id, interest: key.interest})
	_ = s.driver.Wakeup()
}

func notRegisteredErr() error {
	return errs.Failure(errs.NewOperational(errs.OperationalFailed, errs.NewLeaf(errs.LeafNotRegistered, nil)))
}
