//go:build unix

package selector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newPipe returns a connected unix domain socket pair (read/write ends
// of the same full-duplex descriptor pair), so shutdown(2) and SO_ERROR
// behave as they would for the sockets Channel is meant to wrap.
func newPipe(t *testing.T) (read, write int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestChannelReadRetriesOnEAGAINThenSucceeds(t *testing.T) {
	s, d := newTestSelector(t)
	readFD, writeFD := newPipe(t)

	ch, err := WrapChannel(context.Background(), s, readFD, InterestRead)
	require.NoError(t, err)

	buf := make([]byte, 8)
	result := make(chan int, 1)
	errCh := make(chan error, 1)
	go func() {
		n, err := ch.Read(context.Background(), buf, time.Time{})
		if err != nil {
			errCh <- err
			return
		}
		result <- n
	}()

	// Read first observes EAGAIN (empty pipe) and installs a waiter; only
	// once that waiter exists does writing and firing resolve it.
	time.Sleep(20 * time.Millisecond)
	_, werr := unix.Write(writeFD, []byte("hi"))
	require.NoError(t, werr)
	d.Fire(ch.tok.ID(), InterestRead, 0)

	select {
	case n := <-result:
		require.Equal(t, 2, n)
		require.Equal(t, "hi", string(buf[:n]))
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel read")
	}
}

func TestChannelReadZeroBytesIsEOF(t *testing.T) {
	s, _ := newTestSelector(t)
	readFD, writeFD := newPipe(t)
	require.NoError(t, unix.Close(writeFD))

	ch, err := WrapChannel(context.Background(), s, readFD, InterestRead)
	require.NoError(t, err)

	n, err := ch.Read(context.Background(), make([]byte, 4), time.Time{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestChannelReadZeroLengthBufferIsNoOp(t *testing.T) {
	s, _ := newTestSelector(t)
	readFD, _ := newPipe(t)

	ch, err := WrapChannel(context.Background(), s, readFD, InterestRead)
	require.NoError(t, err)

	n, err := ch.Read(context.Background(), nil, time.Time{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	s, _ := newTestSelector(t)
	readFD, _ := newPipe(t)

	ch, err := WrapChannel(context.Background(), s, readFD, InterestRead)
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
}

func TestChannelShutdownReadIsIdempotent(t *testing.T) {
	s, _ := newTestSelector(t)
	readFD, _ := newPipe(t)

	ch, err := WrapChannel(context.Background(), s, readFD, InterestRead)
	require.NoError(t, err)

	require.NoError(t, ch.ShutdownRead())
	require.NoError(t, ch.ShutdownRead())
}
