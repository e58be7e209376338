package conn

import (
	"net"
	"syscall"

	"github.com/dxarrhenius/iomultiplex"
	"github.com/dxarrhenius/iomultiplex/addr"
	"golang.org/x/sys/unix"
)

// SocketConn wraps a dup'd, nonblocking copy of a net.Conn's underlying
// file descriptor so the reactor can drive it directly with raw read(2)/
// write(2), bypassing the runtime's own netpoller. Grounded on the
// teacher's aioCreate/dupconn pattern in watcher.go, generalized from
// net.Conn-only to any syscall.Conn.
//
// The original net.Conn is retained only for its Close/address methods;
// all I/O after construction goes through the duplicated descriptor.
type SocketConn struct {
	*FDConn
	orig net.Conn
}

// NewSocketConn duplicates nc's descriptor, switches the duplicate to
// nonblocking mode, and wraps it for use with h. The duplicate shares nc's
// open file description, so the O_NONBLOCK change applies to nc's
// descriptor too. nc itself stays open until SocketConn.Close, which
// closes both the duplicate and nc.
func NewSocketConn(h *iomultiplex.Handler, nc net.Conn) (*SocketConn, error) {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return nil, iomultiplex.ErrUnsupportedConn
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var dupfd int
	var dupErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		dupfd, dupErr = unix.Dup(int(fd))
	})
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	if dupErr != nil {
		return nil, dupErr
	}
	if err := SetNonblocking(dupfd); err != nil {
		unix.Close(dupfd)
		return nil, err
	}

	return &SocketConn{FDConn: NewFDConn(h, dupfd, false), orig: nc}, nil
}

func (c *SocketConn) Close() error {
	err := c.FDConn.Close()
	if cerr := c.orig.Close(); err == nil {
		err = cerr
	}
	return err
}

// DatagramSocketConn is a SocketConn variant that also satisfies
// iomultiplex.DatagramConnection, recording the peer address of the most
// recent completed read via recvfrom/sendto semantics on UDP sockets.
type DatagramSocketConn struct {
	*SocketConn
	peer net.Addr
}

func NewDatagramSocketConn(h *iomultiplex.Handler, pc net.PacketConn) (*DatagramSocketConn, error) {
	nc, ok := pc.(net.Conn)
	if !ok {
		return nil, iomultiplex.ErrUnsupportedConn
	}
	base, err := NewSocketConn(h, nc)
	if err != nil {
		return nil, err
	}
	return &DatagramSocketConn{SocketConn: base}, nil
}

func (c *DatagramSocketConn) PeerAddr() net.Addr {
	return c.peer
}

// DoRead additionally captures the sender address via recvfrom, since
// plain read(2) on a connected UDP socket discards it.
func (c *DatagramSocketConn) DoRead(buf []byte) (int, error) {
	fd := c.Handle()
	if fd < 0 {
		return -1, iomultiplex.ErrBadDescriptor
	}
	n, from, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return -1, err
	}
	if from != nil {
		c.peer = sockaddrToNetAddr(from)
	}
	return n, nil
}

// DoWriteTo implements iomultiplex's addressedWriter, letting one
// unconnected listening socket reply to many distinct peers via
// sendto(2), matching
// original_source/examples/echo-udp-server.cpp's sock.sendto(buf, n,
// peer_addr, cb).
func (c *DatagramSocketConn) DoWriteTo(buf []byte, to net.Addr) (int, error) {
	fd := c.Handle()
	if fd < 0 {
		return -1, iomultiplex.ErrBadDescriptor
	}
	sa, err := addr.ToSockaddr(to)
	if err != nil {
		return -1, err
	}
	if err := unix.Sendto(fd, buf, 0, sa); err != nil {
		return -1, err
	}
	return len(buf), nil
}

func sockaddrToNetAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: a.Addr[:], Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: a.Addr[:], Port: a.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: a.Name, Net: "unixgram"}
	default:
		return nil
	}
}
