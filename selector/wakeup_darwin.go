//go:build darwin

package selector

import "golang.org/x/sys/unix"

// createWakePipe opens the self-pipe used to interrupt a blocked Kevent
// wait call from any goroutine (Driver.Wakeup); Darwin has no eventfd
// equivalent, so the kqueue driver falls back to a pipe, per §4.8.
func createWakePipe() (read, write int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return -1, -1, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func drainWakePipe(fd int) {
	var b [512]byte
	for {
		if _, err := unix.Read(fd, b[:]); err != nil {
			return
		}
	}
}

func signalWakePipe(fd int) error {
	_, err := unix.Write(fd, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}
