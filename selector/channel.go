//go:build unix

package selector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/ioruntime/errs"
)

// Channel is a move-only socket wrapper (§4.11): it holds exactly one
// token (registering or armed) at a time and a small {read-closed,
// write-closed} bitset, re-arming the descriptor on EAGAIN without ever
// losing the capability to do so.
type Channel struct {
	fd       int
	selector *Selector

	mu          sync.Mutex
	tok         *Token
	readClosed  bool
	writeClosed bool
	closed      bool
}

// WrapChannel registers fd with selector for interest and returns a
// Channel holding the resulting registering token.
func WrapChannel(ctx context.Context, sel *Selector, fd int, interest Interest) (*Channel, error) {
	tok, err := sel.Register(ctx, fd, interest)
	if err != nil {
		return nil, err
	}
	return &Channel{fd: fd, selector: sel, tok: tok}, nil
}

// Read performs the read syscall directly, re-arming and retrying on
// EAGAIN until data, EOF, deadline, or a hard error. A zero-length
// buffer returns (0, nil) with no state change; a short read of zero
// bytes on a ready descriptor signals EOF and marks read-closed.
func (c *Channel) Read(ctx context.Context, buf []byte, deadline time.Time) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.readClosed {
		c.mu.Unlock()
		return 0, nil
	}
	c.mu.Unlock()

	for {
		n, err := unix.Read(c.fd, buf)
		if err == nil {
			if n == 0 {
				c.mu.Lock()
				c.readClosed = true
				c.mu.Unlock()
			}
			return n, nil
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return 0, &DriverError{Op: "read", Err: err}
		}

		if armErr := c.rearm(ctx, InterestRead, deadline); armErr != nil {
			return 0, armErr
		}
	}
}

// Write performs the write syscall directly, re-arming and retrying on
// EAGAIN. A zero-length buffer returns (0, nil) with no state change.
func (c *Channel) Write(ctx context.Context, buf []byte, deadline time.Time) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.writeClosed {
		c.mu.Unlock()
		return 0, errs.NewLeaf(errs.LeafDeregistered, nil)
	}
	c.mu.Unlock()

	for {
		n, err := unix.Write(c.fd, buf)
		if err == nil && n > 0 {
			return n, nil
		}
		// a zero-byte write against a non-empty buffer is treated as
		// wouldBlock rather than a successful no-op write, to avoid a
		// tight retry loop against a socket that is not actually ready.
		if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return 0, &DriverError{Op: "write", Err: err}
		}

		if armErr := c.rearm(ctx, InterestWrite, deadline); armErr != nil {
			return 0, armErr
		}
	}
}

// rearm consults the selector for interest via the channel's current
// token. On success the refreshed (armed) token is stored and the
// caller retries its syscall; on failure the token is still replaced
// (ArmPreservingToken always hands back a usable one of the prior
// phase) so the channel remains usable despite the failed arm.
func (c *Channel) rearm(ctx context.Context, interest Interest, deadline time.Time) error {
	c.mu.Lock()
	tok := c.tok
	c.mu.Unlock()

	newTok, _, err := c.selector.ArmPreservingToken(ctx, tok, interest, deadline)

	c.mu.Lock()
	c.tok = newTok
	c.mu.Unlock()

	return err
}

// SocketError reads and clears SO_ERROR, the real cause behind a
// descriptor surfaced with an error flag (§4.11).
func (c *Channel) SocketError() error {
	code, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return &DriverError{Op: "getsockopt(SO_ERROR)", Err: err}
	}
	if code == 0 {
		return nil
	}
	return &DriverError{Op: "socket", Code: code, Err: unix.Errno(code)}
}

// ShutdownRead is an idempotent transition plus a platform shutdown(2)
// call; "not connected"/"invalid" errors are swallowed.
func (c *Channel) ShutdownRead() error {
	c.mu.Lock()
	already := c.readClosed
	c.readClosed = true
	c.mu.Unlock()
	if already {
		return nil
	}
	return swallowNotConnected(unix.Shutdown(c.fd, unix.SHUT_RD))
}

// ShutdownWrite is the write-side counterpart of ShutdownRead.
func (c *Channel) ShutdownWrite() error {
	c.mu.Lock()
	already := c.writeClosed
	c.writeClosed = true
	c.mu.Unlock()
	if already {
		return nil
	}
	return swallowNotConnected(unix.Shutdown(c.fd, unix.SHUT_WR))
}

func swallowNotConnected(err error) error {
	if err == nil || err == unix.ENOTCONN || err == unix.EINVAL {
		return nil
	}
	return &DriverError{Op: "shutdown", Err: err}
}

// Close consumes the channel: it atomically transitions to closed,
// deregisters from the selector, and closes the descriptor, tolerating
// "already closed" (EBADF) as success.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.readClosed = true
	c.writeClosed = true
	tok := c.tok
	c.mu.Unlock()

	c.selector.Deregister(tok.ID())

	if err := unix.Close(c.fd); err != nil && err != unix.EBADF {
		return &DriverError{Op: "close", Err: err}
	}
	return nil
}
