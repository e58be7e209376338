package iomultiplex

import (
	"net"
	"time"
)

// Read submits a read of up to len(buf) bytes from conn. cb fires exactly
// once: on transfer, on clean EOF (N==0, err==nil), on timeout, or on
// cancellation (spec.md §6 "read").
func (h *Handler) Read(conn Connection, buf []byte, timeout time.Duration, cb Callback) error {
	return h.submit(conn, DirRead, buf, false, timeout, nil, cb)
}

// Write submits a write of len(buf) bytes to conn. A short write (N <
// len(buf)) completes the operation; the caller resubmits the remainder
// if it wants the rest sent (spec.md §9 Open Question (a): standard
// write(2) semantics, not an implicit retry-to-completion loop).
func (h *Handler) Write(conn Connection, buf []byte, timeout time.Duration, cb Callback) error {
	return h.submit(conn, DirWrite, buf, false, timeout, nil, cb)
}

// WaitReadable submits a dummy (zero-byte) read: cb fires once conn
// becomes readable, with N==0 and err==nil, without consuming any bytes
// (spec.md §6 "wait_readable").
func (h *Handler) WaitReadable(conn Connection, timeout time.Duration, cb Callback) error {
	return h.submit(conn, DirRead, nil, true, timeout, nil, cb)
}

// WaitWritable is the write-direction counterpart of WaitReadable.
func (h *Handler) WaitWritable(conn Connection, timeout time.Duration, cb Callback) error {
	return h.submit(conn, DirWrite, nil, true, timeout, nil, cb)
}

// ReadFrom submits a read on a DatagramConnection, populating Result.Peer
// with the sender's address on completion (spec.md §6 "Datagram variants
// carry a peer address argument or slot").
func (h *Handler) ReadFrom(conn DatagramConnection, buf []byte, timeout time.Duration, cb Callback) error {
	var peer net.Addr
	return h.submit(conn, DirRead, buf, false, timeout, &peer, cb)
}

// WriteTo submits a write of len(buf) bytes to addr on a DatagramConnection
// that supports addressed writes (spec.md §6 datagram variants), letting a
// single unconnected listening socket reply to many distinct peers instead
// of needing one connected socket per peer.
func (h *Handler) WriteTo(conn DatagramConnection, buf []byte, addr net.Addr, timeout time.Duration, cb Callback) error {
	if _, ok := conn.(addressedWriter); !ok {
		return newOpErr(KindIOError, errUnsupportedWriteTo)
	}
	if conn == nil || !conn.IsOpen() {
		return ErrBadDescriptor
	}
	h.r.mu.Lock()
	state := h.r.state
	h.r.mu.Unlock()
	if state == stateStopping || state == stateStopped {
		return ErrShutdown
	}
	if len(buf) == 0 {
		return ErrEmptyBuffer
	}

	fd := h.register(conn)

	op := getOperation()
	op.fd = fd
	op.dir = DirWrite
	op.conn = conn
	op.buf = buf
	op.writeAddr = addr
	op.cb = cb
	op.spanID = newSpanID()
	if timeout > 0 {
		op.deadline = h.r.timeNow().Add(timeout)
	}

	h.r.enqueue(mutation{op: op})
	return nil
}

// ReadBlocking submits a read and blocks the calling goroutine until it
// completes, for single-call synchronous use (spec.md §6
// "read_blocking"). It must not be called from the reactor's own
// goroutine: that would deadlock waiting for a callback that can only run
// on the very goroutine doing the waiting.
func (h *Handler) ReadBlocking(conn Connection, buf []byte, timeout time.Duration) (int, error) {
	return h.blockingOp(conn, DirRead, buf, timeout)
}

// WriteBlocking is the write-direction counterpart of ReadBlocking.
func (h *Handler) WriteBlocking(conn Connection, buf []byte, timeout time.Duration) (int, error) {
	return h.blockingOp(conn, DirWrite, buf, timeout)
}

func (h *Handler) blockingOp(conn Connection, dir Direction, buf []byte, timeout time.Duration) (int, error) {
	if h.SameThread() {
		return 0, newOpErr(KindIOError, errBlockingOnReactorThread)
	}

	done := make(chan Result, 1)
	cb := func(res Result) { done <- res }

	var err error
	if dir == DirRead {
		err = h.Read(conn, buf, timeout, cb)
	} else {
		err = h.Write(conn, buf, timeout, cb)
	}
	if err != nil {
		return 0, err
	}

	res := <-done
	return res.N, res.Err
}
