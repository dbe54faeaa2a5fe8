package pool

import "time"

// Result is what an Operation produces: a value destined for the box,
// an optional destructor invoked only if the box is abandoned (e.g. the
// caller cancelled before the worker's complete won the race), and an
// error indicating the operation itself failed.
type Result struct {
	Value   any
	Destroy func(any)
	Err     error
}

// Operation is a caller-supplied closure producing an opaque boxed
// result; it runs at most once, on a worker thread, per §3.1.
type Operation func() Result

// job is a runnable bundle: ticket, operation, completion context,
// enqueue timestamp, and optional acceptance timestamp (set only if the
// job passed through the acceptance queue).
type job struct {
	ticket         uint64
	op             Operation
	ctx            *completionContext
	enqueuedAt     time.Time
	acceptanceWait time.Duration // zero if not routed through acceptance
}

// acceptanceWaiter is a deferred job waiting for job-queue capacity.
type acceptanceWaiter struct {
	j        *job
	deadline time.Time // zero means no deadline
	resumed  bool
}
