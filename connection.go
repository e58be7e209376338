package iomultiplex

import "net"

// Connection is the narrow capability the core depends on (spec.md §4.1).
// Anything exposing a descriptor handle, a reference to its owning
// handler, nonblocking-shaped read/write primitives, a close operation
// and a cancel operation satisfies it. Adapters implement the same
// capability by delegating to a wrapped inner Connection, optionally
// transforming the bytes (composition over delegation, spec.md §9).
type Connection interface {
	// Handle returns the OS descriptor, or -1 if closed.
	Handle() int

	// IsOpen reports whether the connection is still open.
	IsOpen() bool

	// Handler returns the Handler this connection is registered with.
	Handler() *Handler

	// DoRead attempts to read up to len(buf) bytes without blocking.
	//
	// It must behave as a nonblocking syscall: when no progress is
	// possible without blocking, return (-1, syscall.EAGAIN or EWOULDBLOCK);
	// at end-of-stream, return (0, nil); otherwise return the count
	// transferred. The reactor relies on this contract (spec.md §4.1).
	DoRead(buf []byte) (int, error)

	// DoWrite attempts to write up to len(buf) bytes without blocking,
	// under the same contract as DoRead.
	DoWrite(buf []byte) (int, error)

	// Close closes the connection. Implicitly cancels both directions
	// (spec.md §4.5).
	Close() error

	// Cancel forwards to Handler.Cancel for this connection.
	Cancel(cancelRead, cancelWrite, fast bool)
}

// DatagramConnection is implemented by Connection types that additionally
// carry a per-operation peer address (UDP-style datagram sockets). The
// reactor core stores/retrieves the optional peer-address slot named in
// spec.md §3 through this narrow extension.
type DatagramConnection interface {
	Connection
	// PeerAddr returns the peer address associated with the most recent
	// completed datagram operation, if any.
	PeerAddr() net.Addr
}

// addressedWriter is implemented by DatagramConnection types that can send
// to an explicit destination address on an otherwise unconnected socket
// (sendto(2) semantics), letting a single listening socket serve many
// peers the way original_source/examples/echo-udp-server.cpp's
// sock.sendto(buf, n, peer_addr, cb) does.
type addressedWriter interface {
	// DoWriteTo behaves like DoWrite but targets addr explicitly.
	DoWriteTo(buf []byte, addr net.Addr) (int, error)
}
