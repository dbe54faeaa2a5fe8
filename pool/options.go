package pool

import (
	"fmt"
	"runtime"

	"github.com/joeycumines/ioruntime/rtlog"
)

// BackpressureStrategy selects what happens when the job queue is at
// capacity.
type BackpressureStrategy int

const (
	// BackpressureWait pushes the submission onto the acceptance queue
	// to wait for capacity.
	BackpressureWait BackpressureStrategy = iota
	// BackpressureFailFast fails the submission immediately with
	// queueFull.
	BackpressureFailFast
)

// SchedulingPolicy selects job-queue dequeue order.
type SchedulingPolicy int

const (
	// SchedulingFIFO is fair: jobs run in submission order.
	SchedulingFIFO SchedulingPolicy = iota
	// SchedulingLIFO is cache-local but may starve older jobs.
	SchedulingLIFO
)

// QueueTransition identifies an edge-triggered queue-state change
// delivered to an optional OnStateTransition callback, outside the lock.
type QueueTransition int

const (
	BecameEmpty QueueTransition = iota
	BecameNonEmpty
	BecameSaturated
	BecameNotSaturated
)

func (t QueueTransition) String() string {
	switch t {
	case BecameEmpty:
		return "becameEmpty"
	case BecameNonEmpty:
		return "becameNonEmpty"
	case BecameSaturated:
		return "becameSaturated"
	case BecameNotSaturated:
		return "becameNotSaturated"
	default:
		return "unknown"
	}
}

type config struct {
	workers                int
	queueLimit             int
	acceptanceWaitersLimit int
	backpressure           BackpressureStrategy
	scheduling             SchedulingPolicy
	onStateTransition      func(QueueTransition)
	logger                 *rtlog.Logger
	drainLimit             int

	acceptanceWaitersLimitSet bool
}

// Option configures a Pool at construction time, mirroring the
// retrieval pack's LoopOption / loopOptionImpl functional-options
// pattern: an applyPool(*config) error method, resolved in order,
// skipping nils, short-circuiting on the first error.
type Option interface {
	applyPool(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) applyPool(c *config) error { return f(c) }

// WithWorkers sets the number of dedicated worker threads. Must be >= 1.
// Defaults to runtime.NumCPU().
func WithWorkers(n int) Option {
	return optionFunc(func(c *config) error {
		if n < 1 {
			return fmt.Errorf("pool: WithWorkers: n must be >= 1, got %d", n)
		}
		c.workers = n
		return nil
	})
}

// WithQueueLimit sets the job queue's fixed capacity. Must be >= 1.
// Defaults to 256.
func WithQueueLimit(n int) Option {
	return optionFunc(func(c *config) error {
		if n < 1 {
			return fmt.Errorf("pool: WithQueueLimit: n must be >= 1, got %d", n)
		}
		c.queueLimit = n
		return nil
	})
}

// WithAcceptanceWaitersLimit sets the acceptance queue's fixed capacity.
// Must be >= 1. Defaults to 4x the queue limit.
func WithAcceptanceWaitersLimit(n int) Option {
	return optionFunc(func(c *config) error {
		if n < 1 {
			return fmt.Errorf("pool: WithAcceptanceWaitersLimit: n must be >= 1, got %d", n)
		}
		c.acceptanceWaitersLimit = n
		c.acceptanceWaitersLimitSet = true
		return nil
	})
}

// WithBackpressureStrategy selects the policy applied when the job queue
// is full.
func WithBackpressureStrategy(s BackpressureStrategy) Option {
	return optionFunc(func(c *config) error {
		c.backpressure = s
		return nil
	})
}

// WithScheduling selects FIFO or LIFO dequeue order.
func WithScheduling(s SchedulingPolicy) Option {
	return optionFunc(func(c *config) error {
		c.scheduling = s
		return nil
	})
}

// WithOnStateTransition installs a callback invoked, outside the lock,
// on edge-triggered job-queue state transitions.
func WithOnStateTransition(fn func(QueueTransition)) Option {
	return optionFunc(func(c *config) error {
		c.onStateTransition = fn
		return nil
	})
}

// WithLogger installs the structured logger used for ambient
// diagnostics. A nil logger (the default) disables logging entirely.
func WithLogger(l *rtlog.Logger) Option {
	return optionFunc(func(c *config) error {
		c.logger = l
		return nil
	})
}

// WithDrainLimit caps how many jobs a worker dequeues under a single
// lock acquisition. Defaults to 16.
func WithDrainLimit(n int) Option {
	return optionFunc(func(c *config) error {
		if n < 1 {
			return fmt.Errorf("pool: WithDrainLimit: n must be >= 1, got %d", n)
		}
		c.drainLimit = n
		return nil
	})
}

func resolveOptions(opts []Option) (*config, error) {
	cfg := &config{
		workers:    runtime.NumCPU(),
		queueLimit: 256,
		drainLimit: 16,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.acceptanceWaitersLimitSet {
		cfg.acceptanceWaitersLimit = 4 * cfg.queueLimit
	}
	return cfg, nil
}
