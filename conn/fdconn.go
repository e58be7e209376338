// Package conn provides concrete iomultiplex.Connection implementations
// over raw file descriptors: generic descriptors, TCP/UDP/Unix sockets,
// plain files, Linux timerfd and inotify descriptors, and serial devices.
//
// Grounded on original_source/iomultiplex/FdConnection.{hpp,cpp}, the
// base wrapper every other descriptor-backed connection in the original
// library builds on.
package conn

import (
	"sync/atomic"
	"syscall"

	"github.com/dxarrhenius/iomultiplex"
	"golang.org/x/sys/unix"
)

// FDConn is a generic iomultiplex.Connection over an already-open,
// nonblocking file descriptor. It is the base every other connection type
// in this package embeds, generalizing FdConnection's role in the
// original library.
type FDConn struct {
	fd        int32 // atomic; -1 once closed
	h         *iomultiplex.Handler
	keepOpen  bool
}

// NewFDConn wraps fd, an already-open descriptor, for use with h. The
// descriptor must already be in nonblocking mode (O_NONBLOCK); unlike the
// original's constructor NewFDConn never flips that flag itself, since
// doing so behind the caller's back is surprising for descriptors shared
// with other code (SetNonblocking does it on request). If keepOpen is
// true, Close does not close fd.
func NewFDConn(h *iomultiplex.Handler, fd int, keepOpen bool) *FDConn {
	return &FDConn{fd: int32(fd), h: h, keepOpen: keepOpen}
}

func (c *FDConn) Handle() int {
	return int(atomic.LoadInt32(&c.fd))
}

func (c *FDConn) IsOpen() bool {
	return atomic.LoadInt32(&c.fd) >= 0
}

func (c *FDConn) Handler() *iomultiplex.Handler {
	return c.h
}

// DoRead implements the nonblocking-read contract of iomultiplex.Connection:
// (-1, would-block) when no data is available, (0, nil) at EOF, or
// (n, nil)/(−1, err) otherwise.
func (c *FDConn) DoRead(buf []byte) (int, error) {
	fd := c.Handle()
	if fd < 0 {
		return -1, iomultiplex.ErrBadDescriptor
	}
	n, err := unix.Read(fd, buf)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (c *FDConn) DoWrite(buf []byte) (int, error) {
	fd := c.Handle()
	if fd < 0 {
		return -1, iomultiplex.ErrBadDescriptor
	}
	n, err := unix.Write(fd, buf)
	if err != nil {
		return -1, err
	}
	return n, nil
}

// Cancel forwards to the owning Handler (spec.md §6 "cancel(read, write,
// fast) forwards to handler").
func (c *FDConn) Cancel(cancelRead, cancelWrite, fast bool) {
	c.h.Cancel(c, cancelRead, cancelWrite, fast)
}

// Close cancels both directions and closes the descriptor exactly once.
// Mirrors spec.md §4.5: close implicitly cancels with fast=false unless
// called from a callback running on the reactor thread, where fast=true
// avoids a self-deadlock.
func (c *FDConn) Close() error {
	fd := atomic.SwapInt32(&c.fd, -1)
	if fd < 0 {
		return nil
	}

	fast := c.h.SameThread()
	c.h.Cancel(c, true, true, fast)

	if c.keepOpen {
		return nil
	}
	return syscall.Close(int(fd))
}

// SetNonblocking puts fd into O_NONBLOCK mode, the precondition DoRead/
// DoWrite rely on (spec.md §4.1 "must behave as nonblocking syscalls").
func SetNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
