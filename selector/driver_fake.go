package selector

import (
	"sync"
	"time"
)

// FakeDriver is an in-memory Driver with no real descriptors, for tests
// that exercise the selector actor without a kernel (§6: "a fake for
// tests are expected"). Readiness is injected directly via Fire.
type FakeDriver struct {
	mu       sync.Mutex
	armed    map[uint64]Interest // id -> interest currently one-shot armed
	pending  []Event
	wake     chan struct{}
	closed   bool
	maxBatch int
}

// NewFakeDriver constructs an unopened FakeDriver. Create must be
// called (by Selector.New) before use.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		armed: make(map[uint64]Interest),
		wake:  make(chan struct{}, 1),
	}
}

func (d *FakeDriver) Capabilities() Capabilities {
	return Capabilities{MaxEvents: 64, SupportsEdgeTriggered: true, IsCompletionBased: false}
}

func (d *FakeDriver) Create() error {
	d.maxBatch = 64
	return nil
}

// Register simulates an initial epoll_ctl(ADD) that already carries the
// one-shot edge-triggered flags, so a concurrent writer can make an fd
// ready before the core ever calls Arm (§8 scenario 6: permit
// coalescing).
func (d *FakeDriver) Register(fd int, id uint64, interest Interest) error {
	d.mu.Lock()
	d.armed[id] |= interest
	d.mu.Unlock()
	return nil
}

func (d *FakeDriver) Modify(fd int, id uint64, interest Interest) error {
	return nil
}

func (d *FakeDriver) Deregister(fd int, id uint64) error {
	d.mu.Lock()
	delete(d.armed, id)
	d.mu.Unlock()
	return nil
}

func (d *FakeDriver) Arm(fd int, id uint64, interest Interest) error {
	d.mu.Lock()
	d.armed[id] |= interest
	d.mu.Unlock()
	return nil
}

// Fire injects a readiness event for id, as if the kernel had reported
// it, consuming the one-shot arm for whichever of the fired bits were
// currently armed.
func (d *FakeDriver) Fire(id uint64, interest Interest, flags Flags) {
	d.mu.Lock()
	defer d.mu.Unlock()
	armed := d.armed[id] & interest
	if armed == 0 {
		return
	}
	d.armed[id] &^= armed
	d.pending = append(d.pending, Event{ID: id, Interest: armed, Flags: flags})
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *FakeDriver) Poll(deadline time.Time, into []Event) (int, error) {
	d.mu.Lock()
	if len(d.pending) > 0 {
		n := copy(into, d.pending)
		d.pending = d.pending[n:]
		d.mu.Unlock()
		return n, nil
	}
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return 0, nil
	}

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-d.wake:
		d.mu.Lock()
		n := copy(into, d.pending)
		d.pending = d.pending[n:]
		d.mu.Unlock()
		return n, nil
	case <-timeout:
		return 0, nil
	}
}

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *FakeDriver) Wakeup() error {
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}
