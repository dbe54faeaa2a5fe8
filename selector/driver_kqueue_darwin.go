//go:build darwin

package selector

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// KqueueDriver is the Darwin/BSD Driver implementation (§4.8), wrapping
// kqueue with one-shot edge-triggered arming: registrations carry
// EV_CLEAR|EV_DISPATCH, so a filter auto-disables (but stays registered)
// the instant it fires, and Arm re-enables it with EV_ENABLE.
type KqueueDriver struct {
	kq int

	wakeRead, wakeWrite int

	mu  sync.Mutex
	fds map[int]uint64 // fd -> registration id, for translating kevent.Ident back
}

// NewKqueueDriver constructs an unopened KqueueDriver. Create must be
// called (by Selector.New) before use.
func NewKqueueDriver() *KqueueDriver {
	return &KqueueDriver{kq: -1, wakeRead: -1, wakeWrite: -1, fds: make(map[int]uint64)}
}

func (d *KqueueDriver) Capabilities() Capabilities {
	return Capabilities{MaxEvents: 256, SupportsEdgeTriggered: true}
}

func (d *KqueueDriver) Create() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return &DriverError{Op: "kqueue", Err: err}
	}
	unix.CloseOnExec(kq)

	read, write, err := createWakePipe()
	if err != nil {
		_ = unix.Close(kq)
		return &DriverError{Op: "pipe", Err: err}
	}

	wake := []unix.Kevent_t{{Ident: uint64(read), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD}}
	if _, err := unix.Kevent(kq, wake, nil, nil); err != nil {
		_ = unix.Close(read)
		_ = unix.Close(write)
		_ = unix.Close(kq)
		return &DriverError{Op: "kevent(wake add)", Err: err}
	}

	d.kq = kq
	d.wakeRead = read
	d.wakeWrite = write
	return nil
}

// interestToKevents expands an Interest bitset into the one or two
// kevent records needed to cover it (EVFILT_READ also carries priority
// readiness, mirroring POLLPRI's lack of a distinct kqueue filter).
func interestToKevents(fd int, interest Interest, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if interest.Has(InterestRead) || interest.Has(InterestPriority) {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest.Has(InterestWrite) {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func (d *KqueueDriver) Register(fd int, id uint64, interest Interest) error {
	kevents := interestToKevents(fd, interest, unix.EV_ADD|unix.EV_CLEAR|unix.EV_DISPATCH)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(d.kq, kevents, nil, nil); err != nil {
			return &DriverError{Op: "kevent(add)", Err: err}
		}
	}
	d.mu.Lock()
	d.fds[fd] = id
	d.mu.Unlock()
	return nil
}

func (d *KqueueDriver) Modify(fd int, id uint64, interest Interest) error {
	return d.Arm(fd, id, interest)
}

func (d *KqueueDriver) Deregister(fd int, id uint64) error {
	d.mu.Lock()
	delete(d.fds, fd)
	d.mu.Unlock()
	kevents := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, _ = unix.Kevent(d.kq, kevents, nil, nil) // idempotent: ENOENT for the filter not present is expected
	return nil
}

// Arm re-enables the EV_DISPATCH-disabled filters for interest, the
// kqueue analog of epoll's EPOLL_CTL_MOD re-arm.
func (d *KqueueDriver) Arm(fd int, id uint64, interest Interest) error {
	kevents := interestToKevents(fd, interest, unix.EV_ENABLE|unix.EV_CLEAR|unix.EV_DISPATCH)
	if len(kevents) == 0 {
		return nil
	}
	if _, err := unix.Kevent(d.kq, kevents, nil, nil); err != nil {
		return &DriverError{Op: "kevent(enable)", Err: err}
	}
	return nil
}

func (d *KqueueDriver) Poll(deadline time.Time, into []Event) (int, error) {
	var ts *unix.Timespec
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		t := unix.NsecToTimespec(remaining.Nanoseconds())
		ts = &t
	}

	buf := make([]unix.Kevent_t, len(into)+1)
	n, err := unix.Kevent(d.kq, nil, buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, &DriverError{Op: "kevent(wait)", Err: err}
	}

	count := 0
	for i := 0; i < n; i++ {
		kev := buf[i]
		fd := int(kev.Ident)
		if fd == d.wakeRead {
			drainWakePipe(d.wakeRead)
			continue
		}
		if count >= len(into) {
			continue
		}
		d.mu.Lock()
		id, ok := d.fds[fd]
		d.mu.Unlock()
		if !ok {
			continue
		}
		var interest Interest
		switch kev.Filter {
		case unix.EVFILT_READ:
			interest = InterestRead
		case unix.EVFILT_WRITE:
			interest = InterestWrite
		}
		var flags Flags
		if kev.Flags&unix.EV_ERROR != 0 {
			flags |= FlagError
		}
		if kev.Flags&unix.EV_EOF != 0 {
			flags |= FlagEOF
		}
		into[count] = Event{ID: id, Interest: interest, Flags: flags}
		count++
	}
	return count, nil
}

func (d *KqueueDriver) Close() error {
	if d.wakeRead >= 0 {
		_ = unix.Close(d.wakeRead)
	}
	if d.wakeWrite >= 0 {
		_ = unix.Close(d.wakeWrite)
	}
	if d.kq >= 0 {
		return unix.Close(d.kq)
	}
	return nil
}

func (d *KqueueDriver) Wakeup() error {
	if err := signalWakePipe(d.wakeWrite); err != nil {
		return &DriverError{Op: "wake pipe write", Err: err}
	}
	return nil
}
