package iomultiplex

import (
	"errors"
	"syscall"
)

// errWouldBlock and errInterrupted are internal-only sentinels the
// draining loop (reactor.go tryDrain) switches on; they never reach a
// Result.Err (spec.md §4.1's DoRead/DoWrite contract: "WouldBlock -> stop
// draining this direction", "Interrupted -> retry the same entry").
var (
	errWouldBlock  = errors.New("iomultiplex: internal: would block")
	errInterrupted = errors.New("iomultiplex: internal: interrupted")
)

// classifyIOErr maps whatever a Connection's DoRead/DoWrite returned onto
// the draining loop's four-way contract: nil (progress, including clean
// EOF), errWouldBlock, errInterrupted, or a terminal *OpError wrapping any
// other errno, grounded on the teacher's tryRead/tryWrite errno switch in
// watcher.go generalized from net.Conn's *os.SyscallError to any
// Connection implementation.
func classifyIOErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return errWouldBlock
	}
	if errors.Is(err, syscall.EINTR) {
		return errInterrupted
	}
	if opErr, ok := err.(*OpError); ok {
		return opErr
	}
	return newOpErr(KindIOError, err)
}
