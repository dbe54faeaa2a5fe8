package pool

import (
	"sync/atomic"

	"github.com/joeycumines/ioruntime/box"
	"github.com/joeycumines/ioruntime/errs"
)

type contextState uint32

const (
	statePending contextState = iota
	stateCompleted
	stateCancelled
	stateFailed
)

// completionContext is the exactly-once resumer bound to one caller of
// Pool.Run: an atomic state machine across {pending, completed,
// cancelled, failed}. The first of complete/cancel/fail to win the
// compare-and-swap resumes the caller (by closing done); all others are
// no-ops, per the "first caller to win the CAS resumes the continuation"
// contract.
type completionContext struct {
	state atomic.Uint32
	done  chan struct{}

	box *box.Box
	err error
}

func newCompletionContext() *completionContext {
	return &completionContext{done: make(chan struct{})}
}

// complete attempts the pending -> completed transition, storing b. It
// returns false (the box was not consumed) if the context had already
// transitioned, in which case the caller must destroy b to avoid a leak.
func (c *completionContext) complete(b *box.Box) bool {
	if !c.state.CompareAndSwap(uint32(statePending), uint32(stateCompleted)) {
		return false
	}
	c.box = b
	close(c.done)
	return true
}

// cancel attempts the pending -> cancelled transition. Returns true if
// this call won the race (and is therefore responsible for nothing
// further: the worker, on losing its own complete, destroys the box).
func (c *completionContext) cancel() bool {
	if !c.state.CompareAndSwap(uint32(statePending), uint32(stateCancelled)) {
		return false
	}
	c.err = errs.Cancellation()
	close(c.done)
	return true
}

// fail attempts the pending -> failed transition, storing a typed lane
// failure.
func (c *completionContext) fail(err *errs.Lifecycle) bool {
	if !c.state.CompareAndSwap(uint32(statePending), uint32(stateFailed)) {
		return false
	}
	c.err = err
	close(c.done)
	return true
}

// wait blocks until the context resolves, then returns the box (on
// success) or the typed failure.
func (c *completionContext) wait() (*box.Box, error) {
	<-c.done
	switch contextState(c.state.Load()) {
	case stateCompleted:
		return c.box, nil
	default:
		return nil, c.err
	}
}
