package selector

import (
	"context"
	"sync/atomic"
)

// waiterKey identifies one pending arm request: a registration plus the
// interest it is waiting on (a registration may have independent
// read/write waiters outstanding simultaneously).
type waiterKey struct {
	id       uint64
	interest Interest
}

type waiterState uint32

const (
	waiterUnarmed waiterState = iota
	waiterArmed
	waiterCancelledUnarmed
	waiterArmedCancelled
	waiterDrained
	waiterCancelledDrained
)

// outcome is what a waiter is resumed with: either a delivered event or
// a terminal error (timeout, cancellation, shutdown, driver failure).
type outcome struct {
	event Event
	err   error
}

// waiter is the atomic state machine behind one arm call, per §4.9's
// transition table. It owns a capacity-1 continuation channel; the
// channel is written to exactly once, from inside the compare-and-swap
// that wins the transition into a drained state, so double-resume is
// structurally impossible.
type waiter struct {
	key        waiterKey
	generation uint64
	deadline   uint64 // UnixNano, 0 means no deadline
	heapIndex  int    // set to -1 and never updated; heap positions live in deadlineEntry.index

	state atomic.Uint32
	cont  chan outcome
}

func newWaiter(key waiterKey, generation uint64) *waiter {
	return &waiter{
		key:        key,
		generation: generation,
		heapIndex:  -1,
		cont:       make(chan outcome, 1),
	}
}

// arm installs the continuation, transitioning unarmed->armed or
// cancelledUnarmed->armedCancelled. Returns true if the waiter was not
// already cancelled at the moment of arming.
func (w *waiter) arm() bool {
	for {
		switch waiterState(w.state.Load()) {
		case waiterUnarmed:
			if w.state.CompareAndSwap(uint32(waiterUnarmed), uint32(waiterArmed)) {
				return true
			}
		case waiterCancelledUnarmed:
			if w.state.CompareAndSwap(uint32(waiterCancelledUnarmed), uint32(waiterArmedCancelled)) {
				return false
			}
		default:
			return false
		}
	}
}

// cancel marks the waiter cancelled. If it is already armed, the actor
// loop will observe the cancellation the next time it attempts to
// resume the waiter (via takeForResume) and deliver a cancellation
// outcome instead of an event.
func (w *waiter) cancel() {
	for {
		switch waiterState(w.state.Load()) {
		case waiterUnarmed:
			if w.state.CompareAndSwap(uint32(waiterUnarmed), uint32(waiterCancelledUnarmed)) {
				return
			}
		case waiterArmed:
			if w.state.CompareAndSwap(uint32(waiterArmed), uint32(waiterArmedCancelled)) {
				return
			}
		default:
			return
		}
	}
}

// takeForResume transitions the waiter into a drained state exactly
// once, reporting whether the waiter had been cancelled. ok is false if
// the waiter was never armed, or has already been drained: the caller
// must not write to cont in that case.
func (w *waiter) takeForResume() (cancelled bool, ok bool) {
	for {
		switch waiterState(w.state.Load()) {
		case waiterArmed:
			if w.state.CompareAndSwap(uint32(waiterArmed), uint32(waiterDrained)) {
				return false, true
			}
		case waiterArmedCancelled:
			if w.state.CompareAndSwap(uint32(waiterArmedCancelled), uint32(waiterCancelledDrained)) {
				return true, true
			}
		default:
			return false, false
		}
	}
}

// resume delivers the outcome to whatever goroutine is blocked awaiting
// this waiter. Must only be called once takeForResume has returned
// ok == true for this call.
func (w *waiter) resume(o outcome) {
	w.cont <- o
}

// await blocks until resumed or ctx is done, returning the delivered
// outcome in the former case.
func (w *waiter) await(ctx context.Context) (outcome, bool) {
	select {
	case o := <-w.cont:
		return o, true
	case <-ctx.Done():
		return outcome{}, false
	}
}
