package adapter

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/dxarrhenius/iomultiplex"
)

// TLSAdapter implements the Connection capability over a TLS stream,
// grounded on spec.md §9's TLS-adapter contract ("translating between the
// stream interface and OpenSSL's SSL_read/SSL_write... so that the
// reactor sees only nonblocking byte-oriented semantics") and on
// bassosimone-nop/tls.go's TLSEngine/TLSConn split, re-pointed at Go's
// crypto/tls as the TLSEngineStdlib equivalent.
//
// crypto/tls only drives a blocking net.Conn, while the inner Connection
// only offers nonblocking DoRead/DoWrite. TLSAdapter bridges the two with
// a dedicated goroutine that performs the handshake and pumps ciphertext
// through the inner connection's ReadBlocking/WriteBlocking (ops.go) —
// legal there because that goroutine is never the reactor's own thread —
// while DoRead/DoWrite, called from the reactor thread via tryDrain,
// only ever touch buffered plaintext and never block.
type TLSAdapter struct {
	Base

	conn   *tls.Conn
	bridge *blockingBridge

	startOnce sync.Once
	closeOnce sync.Once
	writeCh   chan []byte

	mu            sync.Mutex
	cond          *sync.Cond
	pending       bytes.Buffer
	closed        bool
	runErr        error
	writeInFlight bool
	writeDone     bool
	writeN        int
	writeErr      error
}

// NewTLSAdapter wraps inner in a TLS client connection using config.
// The handshake runs lazily, on the first DoRead or DoWrite.
func NewTLSAdapter(inner iomultiplex.Connection, config *tls.Config) *TLSAdapter {
	return newTLSAdapter(inner, func(b *blockingBridge) *tls.Conn { return tls.Client(b, config) })
}

// NewTLSServerAdapter is the accept-side counterpart of NewTLSAdapter,
// terminating a TLS server handshake over inner instead of initiating a
// client one, so a listener's accepted connections can sit behind the
// same nonblocking Connection capability as the dialing side.
func NewTLSServerAdapter(inner iomultiplex.Connection, config *tls.Config) *TLSAdapter {
	return newTLSAdapter(inner, func(b *blockingBridge) *tls.Conn { return tls.Server(b, config) })
}

func newTLSAdapter(inner iomultiplex.Connection, dial func(*blockingBridge) *tls.Conn) *TLSAdapter {
	bridge := &blockingBridge{conn: inner}
	a := &TLSAdapter{
		Base:    NewBase(inner),
		conn:    dial(bridge),
		bridge:  bridge,
		writeCh: make(chan []byte),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

func (a *TLSAdapter) start() {
	a.startOnce.Do(func() {
		go a.pump()
		go a.writePump()
	})
}

// pump owns the read side of the TLS connection for its whole lifetime:
// it performs the handshake, then loops draining decrypted bytes into
// the pending buffer, entirely via blocking Read calls that never run on
// the reactor thread.
func (a *TLSAdapter) pump() {
	if err := a.conn.Handshake(); err != nil {
		a.fail(err)
		return
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := a.conn.Read(buf)
		if n > 0 {
			a.mu.Lock()
			a.pending.Write(buf[:n])
			a.cond.Broadcast()
			a.mu.Unlock()
		}
		if err != nil {
			a.fail(err)
			return
		}
	}
}

// writePump owns the write side: it serializes every DoWrite's buffer
// through the one tls.Conn.Write call crypto/tls allows in flight at a
// time, off the reactor thread, and stashes the outcome for DoWrite to
// pick up on its next attempt. Grounded on the same bridging idea as
// pump, just for the opposite direction.
func (a *TLSAdapter) writePump() {
	for buf := range a.writeCh {
		n, err := a.conn.Write(buf)
		a.mu.Lock()
		a.writeN, a.writeErr = n, err
		a.writeDone = true
		a.cond.Broadcast()
		a.mu.Unlock()
		if err != nil {
			a.fail(err)
		}
	}
}

func (a *TLSAdapter) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runErr == nil {
		a.runErr = err
	}
	a.closed = true
	a.cond.Broadcast()
}

// DoRead drains already-decrypted plaintext. It never blocks: with
// nothing buffered yet it reports EAGAIN, matching the Connection
// contract so the reactor requeues the read instead of stalling.
func (a *TLSAdapter) DoRead(buf []byte) (int, error) {
	a.start()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending.Len() > 0 {
		return a.pending.Read(buf)
	}
	if a.closed {
		if errors.Is(a.runErr, io.EOF) {
			return 0, nil
		}
		return -1, a.runErr
	}
	return -1, syscall.EAGAIN
}

// DoWrite never itself blocks: the reactor only ever calls it from the
// reactor thread via tryDrain/attempt, and tls.Conn.Write is a blocking
// call that may itself wait on the inner connection. The first call for
// a given op hands buf to writePump and reports EAGAIN so the reactor
// requeues it; writePump performs the real encrypt-and-write off the
// reactor thread, and a later call (driven by the raw descriptor's
// write-readiness, which stays subscribed while this op is still
// queued) picks up the stashed result.
func (a *TLSAdapter) DoWrite(buf []byte) (int, error) {
	a.start()

	a.mu.Lock()
	if a.writeDone {
		n, err := a.writeN, a.writeErr
		a.writeDone = false
		a.writeInFlight = false
		a.mu.Unlock()
		if err != nil {
			return -1, err
		}
		return n, nil
	}
	if a.closed {
		err := a.runErr
		a.mu.Unlock()
		if err == nil {
			err = io.ErrClosedPipe
		}
		return -1, err
	}
	if a.writeInFlight {
		a.mu.Unlock()
		return -1, syscall.EAGAIN
	}
	a.writeInFlight = true
	a.mu.Unlock()

	a.writeCh <- buf
	return -1, syscall.EAGAIN
}

func (a *TLSAdapter) Close() error {
	a.fail(io.EOF)
	a.closeOnce.Do(func() { close(a.writeCh) })
	return a.Base.Close()
}

// blockingBridge adapts an iomultiplex.Connection's blocking ops
// (ReadBlocking/WriteBlocking) to the net.Conn shape crypto/tls expects.
// Deadlines are not honored: the TLS pump goroutine's own lifetime is
// bounded by the inner connection's open/close state instead.
type blockingBridge struct {
	conn iomultiplex.Connection
}

func (b *blockingBridge) Read(p []byte) (int, error) {
	n, err := b.conn.Handler().ReadBlocking(b.conn, p, 0)
	if err != nil && n == 0 {
		if iomultiplex.KindOf(err) == iomultiplex.KindNone {
			return 0, err
		}
		return 0, io.EOF
	}
	return n, nil
}

func (b *blockingBridge) Write(p []byte) (int, error) {
	return b.conn.Handler().WriteBlocking(b.conn, p, 0)
}

func (b *blockingBridge) Close() error { return b.conn.Close() }

func (b *blockingBridge) LocalAddr() net.Addr  { return fdAddr(b.conn.Handle()) }
func (b *blockingBridge) RemoteAddr() net.Addr { return fdAddr(b.conn.Handle()) }

func (b *blockingBridge) SetDeadline(t time.Time) error      { return nil }
func (b *blockingBridge) SetReadDeadline(t time.Time) error  { return nil }
func (b *blockingBridge) SetWriteDeadline(t time.Time) error { return nil }

// fdAddr is a placeholder net.Addr for descriptors that aren't sockets
// (e.g. pipes), so LocalAddr/RemoteAddr never return nil to callers that
// assume a non-nil net.Addr.
type fdAddr int

func (a fdAddr) Network() string { return "fd" }
func (a fdAddr) String() string  { return "" }
