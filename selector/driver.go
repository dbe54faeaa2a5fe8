// Package selector implements the Readiness Selector: a non-blocking
// I/O selector wrapping platform readiness-notification primitives
// (kqueue/epoll), multiplexing descriptor registrations across a
// dedicated poll thread and exposing a typestated register/arm/await
// lifecycle to async callers.
package selector

import (
	"fmt"
	"time"
)

// Interest is a bitset of readiness conditions a registration cares
// about.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	InterestPriority
)

func (i Interest) Has(bit Interest) bool { return i&bit != 0 }

func (i Interest) String() string {
	s := ""
	if i.Has(InterestRead) {
		s += "r"
	}
	if i.Has(InterestWrite) {
		s += "w"
	}
	if i.Has(InterestPriority) {
		s += "p"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Flags are kernel event flags attached to a delivered Event.
type Flags uint8

const (
	FlagError Flags = 1 << iota
	FlagHangup
	FlagReadHangup
	FlagEOF
)

// Event is a single driver-reported readiness notification, translated
// from a platform record into the core's own (ID, interest, flags)
// shape.
type Event struct {
	ID       uint64
	Interest Interest
	Flags    Flags
}

// Capabilities describes what a Driver implementation supports.
type Capabilities struct {
	MaxEvents             int
	SupportsEdgeTriggered bool
	IsCompletionBased     bool
}

// Driver is the polymorphic witness over kqueue/epoll primitives (§4.8).
// Every operation is invoked only on the poll thread; implementations
// need not be safe for concurrent use from multiple goroutines, except
// Wakeup, which by construction is called cross-thread.
type Driver interface {
	// Capabilities reports this driver's static capability descriptor.
	Capabilities() Capabilities

	// Create allocates the underlying kernel handle (epoll/kqueue fd).
	Create() error

	// Register adds a descriptor with the given interest under id, the
	// numeric ID the driver will report back in future events. The ID
	// space is chosen by the core via an atomic counter, not the
	// kernel, so platform records can carry a small integer.
	Register(fd int, id uint64, interest Interest) error

	// Modify changes the interest for an existing registration.
	Modify(fd int, id uint64, interest Interest) error

	// Deregister removes a registration. Idempotent: a missing
	// registration is reported as success.
	Deregister(fd int, id uint64) error

	// Arm enables a one-shot edge-triggered filter for the given
	// interest; after the next event, the filter auto-disables.
	Arm(fd int, id uint64, interest Interest) error

	// Poll blocks until events are ready or deadline elapses (a zero
	// Time means block indefinitely), writing up to len(into) events
	// into into and returning the count. EINTR is handled internally by
	// returning (0, nil).
	Poll(deadline time.Time, into []Event) (int, error)

	// Close releases the kernel handle. Consumes the driver; no further
	// calls are valid afterward.
	Close() error

	// Wakeup interrupts a concurrent or future Poll call. Safe to call
	// from any goroutine.
	Wakeup() error
}

// DriverError wraps a platform error code alongside the syscall that
// produced it, suitable for wrapping into errs.Leaf(LeafPlatform).
type DriverError struct {
	Op   string
	Code int
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("selector: %s: %v (code %d)", e.Op, e.Err, e.Code)
}

func (e *DriverError) Unwrap() error { return e.Err }
