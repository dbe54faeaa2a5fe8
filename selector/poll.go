package selector

import (
	"time"

	"github.com/joeycumines/ioruntime/errs"
	"github.com/joeycumines/ioruntime/rtlog"
)

// runPollLoop is the dedicated OS thread loop of §4.10. It never
// touches selector-owned state directly: driver results and request
// completions are all handed to the actor goroutine via s.inbox.
func (s *Selector) runPollLoop() {
	defer close(s.pollDone)

	caps := s.driver.Capabilities()
	bufSize := caps.MaxEvents
	if bufSize <= 0 {
		bufSize = 128
	}
	buf := make([]Event, bufSize)

	for {
		if selectorState(s.state.Load()) != selectorRunning {
			s.drainRequestsOnShutdown()
			return
		}

		for _, req := range s.requests.DequeueAll() {
			s.handleRequest(req)
		}

		deadline := s.computeDeadline()
		n, err := s.driver.Poll(deadline, buf)
		if err != nil {
			rtlog.Poll(s.logger).Err(err).Log(`driver poll failed, shutting down selector`)
			s.inbox.Push(actorMsg{kind: actorPoll, poll: pollMsg{kind: pollError, err: err}})
			s.state.Store(int32(selectorShuttingDown))
			s.inbox.Shutdown()
			return
		}

		if n > 0 {
			events := make([]Event, n)
			copy(events, buf[:n])
			s.inbox.Push(actorMsg{kind: actorPoll, poll: pollMsg{kind: pollEvents, events: events}})
		} else {
			s.inbox.Push(actorMsg{kind: actorPoll, poll: pollMsg{kind: pollTick}})
		}
	}
}

func (s *Selector) computeDeadline() time.Time {
	ns := s.nextDeadline.Load()
	if ns == noDeadline {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// handleRequest dispatches one queued request to the driver. Completions
// for register/modify/deregister are routed back through the actor
// inbox; arm requests are fire-and-forget per §4.10 step 2.
func (s *Selector) handleRequest(req *request) {
	switch req.kind {
	case reqRegister:
		err := s.driver.Register(req.fd, req.id, req.interest)
		s.inbox.Push(actorMsg{kind: actorCompletion, req: req, err: err})
	case reqModify:
		err := s.driver.Modify(req.fd, req.id, req.interest)
		s.inbox.Push(actorMsg{kind: actorCompletion, req: req, err: err})
	case reqDeregister:
		err := s.driver.Deregister(req.fd, req.id)
		s.inbox.Push(actorMsg{kind: actorCompletion, req: req, err: err})
	case reqArm:
		// a failure here implies the registration is already gone; the
		// corresponding waiter resolves via the deregister or event path.
		_ = s.driver.Arm(req.fd, req.id, req.interest)
	}
}

// drainRequestsOnShutdown honors the §4.10 shutdown contract: reject
// register/modify with a typed shutdown error, honor deregisters
// (best-effort), and ignore arms. It does not close the driver handle;
// Shutdown does that once both loops have exited.
func (s *Selector) drainRequestsOnShutdown() {
	for _, req := range s.requests.DequeueAll() {
		switch req.kind {
		case reqRegister, reqModify:
			if req.reply != nil {
				req.reply <- errs.ShutdownInProgress()
			}
		case reqDeregister:
			_ = s.driver.Deregister(req.fd, req.id)
		case reqArm:
			// ignored: the selector is shutting down, no waiter remains.
		}
	}
}
