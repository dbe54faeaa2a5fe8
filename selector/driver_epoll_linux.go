//go:build linux

package selector

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// EpollDriver is the Linux Driver implementation (§4.8), wrapping epoll
// with one-shot edge-triggered arming: every registration and re-arm
// carries EPOLLONESHOT|EPOLLET, so a filter auto-disables the instant it
// fires and must be explicitly re-enabled via EPOLL_CTL_MOD.
type EpollDriver struct {
	epfd   int
	wakeFD int

	// mu guards fds; every method but Wakeup runs on the poll thread
	// alone, but Wakeup is called cross-thread and never touches fds.
	mu  sync.Mutex
	fds map[int]uint64 // fd -> registration id, for translating epoll_event.Fd back
}

// NewEpollDriver constructs an unopened EpollDriver. Create must be
// called (by Selector.New) before use.
func NewEpollDriver() *EpollDriver {
	return &EpollDriver{epfd: -1, wakeFD: -1, fds: make(map[int]uint64)}
}

func (d *EpollDriver) Capabilities() Capabilities {
	return Capabilities{MaxEvents: 256, SupportsEdgeTriggered: true}
}

func (d *EpollDriver) Create() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return &DriverError{Op: "epoll_create1", Err: err}
	}
	wakeFD, err := createWakeFD()
	if err != nil {
		_ = unix.Close(epfd)
		return &DriverError{Op: "eventfd", Err: err}
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}); err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(epfd)
		return &DriverError{Op: "epoll_ctl(wake)", Err: err}
	}
	d.epfd = epfd
	d.wakeFD = wakeFD
	return nil
}

func interestToEpoll(interest Interest) uint32 {
	ev := uint32(unix.EPOLLONESHOT | unix.EPOLLET)
	if interest.Has(InterestRead) {
		ev |= unix.EPOLLIN
	}
	if interest.Has(InterestWrite) {
		ev |= unix.EPOLLOUT
	}
	if interest.Has(InterestPriority) {
		ev |= unix.EPOLLPRI
	}
	return ev
}

func epollToInterest(events uint32) Interest {
	var i Interest
	if events&unix.EPOLLIN != 0 {
		i |= InterestRead
	}
	if events&unix.EPOLLOUT != 0 {
		i |= InterestWrite
	}
	if events&unix.EPOLLPRI != 0 {
		i |= InterestPriority
	}
	return i
}

func epollToFlags(events uint32) Flags {
	var f Flags
	if events&unix.EPOLLERR != 0 {
		f |= FlagError
	}
	if events&unix.EPOLLHUP != 0 {
		f |= FlagHangup
	}
	if events&unix.EPOLLRDHUP != 0 {
		f |= FlagReadHangup
	}
	return f
}

func (d *EpollDriver) Register(fd int, id uint64, interest Interest) error {
	ev := &unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return &DriverError{Op: "epoll_ctl(add)", Err: err}
	}
	d.mu.Lock()
	d.fds[fd] = id
	d.mu.Unlock()
	return nil
}

func (d *EpollDriver) Modify(fd int, id uint64, interest Interest) error {
	ev := &unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return &DriverError{Op: "epoll_ctl(mod)", Err: err}
	}
	return nil
}

func (d *EpollDriver) Deregister(fd int, id uint64) error {
	d.mu.Lock()
	delete(d.fds, fd)
	d.mu.Unlock()
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return &DriverError{Op: "epoll_ctl(del)", Err: err}
	}
	return nil
}

// Arm re-enables the one-shot filter that auto-disarmed after its last
// delivery, via EPOLL_CTL_MOD carrying the same ONESHOT|ET flags.
func (d *EpollDriver) Arm(fd int, id uint64, interest Interest) error {
	return d.Modify(fd, id, interest)
}

func (d *EpollDriver) Poll(deadline time.Time, into []Event) (int, error) {
	timeoutMS := -1
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		if ms := remaining.Milliseconds(); ms > 0 {
			timeoutMS = int(ms)
		} else {
			timeoutMS = 1
		}
	}

	buf := make([]unix.EpollEvent, len(into)+1)
	n, err := unix.EpollWait(d.epfd, buf, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, &DriverError{Op: "epoll_wait", Err: err}
	}

	count := 0
	for i := 0; i < n; i++ {
		raw := buf[i]
		if int(raw.Fd) == d.wakeFD {
			drainWakeFD(d.wakeFD)
			continue
		}
		if count >= len(into) {
			continue
		}
		d.mu.Lock()
		id, ok := d.fds[int(raw.Fd)]
		d.mu.Unlock()
		if !ok {
			continue
		}
		into[count] = Event{ID: id, Interest: epollToInterest(raw.Events), Flags: epollToFlags(raw.Events)}
		count++
	}
	return count, nil
}

func (d *EpollDriver) Close() error {
	if d.wakeFD >= 0 {
		_ = unix.Close(d.wakeFD)
	}
	if d.epfd >= 0 {
		return unix.Close(d.epfd)
	}
	return nil
}

func (d *EpollDriver) Wakeup() error {
	if err := signalWakeFD(d.wakeFD); err != nil {
		return &DriverError{Op: "eventfd write", Err: err}
	}
	return nil
}
