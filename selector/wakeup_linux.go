//go:build linux

package selector

import "golang.org/x/sys/unix"

// createWakeFD opens the eventfd used to interrupt a blocked EpollWait
// call from any goroutine (Driver.Wakeup), per §4.8's wakeup primitive.
func createWakeFD() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

func drainWakeFD(fd int) {
	var b [8]byte
	_, _ = unix.Read(fd, b[:])
}

func signalWakeFD(fd int) error {
	var b [8]byte
	b[0] = 1
	_, err := unix.Write(fd, b[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}
