package iomultiplex_test

import (
	"net"
	"os"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxarrhenius/iomultiplex"
	"github.com/dxarrhenius/iomultiplex/conn"
)

func newRunningHandler(t *testing.T) *iomultiplex.Handler {
	t.Helper()
	h, err := iomultiplex.New()
	require.NoError(t, err)
	require.NoError(t, h.Run(true))
	t.Cleanup(func() {
		h.Stop()
		h.Join()
	})
	return h
}

// pipeConns hands the two ends of an os.Pipe to a pair of FDConns, which
// take over descriptor lifetime from here on (runtime.SetFinalizer(f,
// nil) stops *os.File's own GC-driven close of the same descriptor
// number from racing FDConn.Close).
func pipeConns(t *testing.T, h *iomultiplex.Handler) (*conn.FDConn, *conn.FDConn) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, conn.SetNonblocking(int(r.Fd())))
	require.NoError(t, conn.SetNonblocking(int(w.Fd())))

	runtime.SetFinalizer(r, nil)
	runtime.SetFinalizer(w, nil)

	return conn.NewFDConn(h, int(r.Fd()), false), conn.NewFDConn(h, int(w.Fd()), false)
}

// TestPipeEchoFIFO covers spec.md §8's pipe-echo scenario: two writes
// queued back-to-back on one end of a pipe arrive at the other end's read
// in the order submitted, fulfilling the FIFO-per-descriptor invariant
// for a single writer queue.
func TestPipeEchoFIFO(t *testing.T) {
	h := newRunningHandler(t)
	rconn, wconn := pipeConns(t, h)
	defer rconn.Close()
	defer wconn.Close()

	wrote := make(chan iomultiplex.Result, 2)
	onWrite := func(res iomultiplex.Result) { wrote <- res }
	require.NoError(t, h.Write(wconn, []byte("AB"), 0, onWrite))
	require.NoError(t, h.Write(wconn, []byte("CD"), 0, onWrite))
	for i := 0; i < 2; i++ {
		require.NoError(t, (<-wrote).Err)
	}

	buf := make([]byte, 10)
	n, err := h.ReadBlocking(rconn, buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(buf[:n]))
}

// TestReadTimeout covers spec.md §8's timeout scenario: a read queued
// against a descriptor that never becomes readable completes with
// ErrTimedOut once its deadline elapses, rather than hanging forever.
func TestReadTimeout(t *testing.T) {
	h := newRunningHandler(t)
	rconn, wconn := pipeConns(t, h)
	defer rconn.Close()
	defer wconn.Close()

	done := make(chan iomultiplex.Result, 1)
	err := h.Read(rconn, make([]byte, 16), 50*time.Millisecond, func(res iomultiplex.Result) {
		done <- res
	})
	require.NoError(t, err)

	select {
	case res := <-done:
		assert.Equal(t, iomultiplex.KindTimedOut, iomultiplex.KindOf(res.Err))
	case <-time.After(2 * time.Second):
		t.Fatal("read never timed out")
	}
}

// TestCancelFromAnotherGoroutine covers spec.md §8's cross-thread cancel
// scenario and the "cancel-close happens-before" property: a non-fast
// Cancel issued from a goroutine other than the reactor's own blocks
// until the cancelled read's callback has actually run with ErrCanceled.
func TestCancelFromAnotherGoroutine(t *testing.T) {
	h := newRunningHandler(t)
	rconn, wconn := pipeConns(t, h)
	defer rconn.Close()
	defer wconn.Close()

	var delivered int32
	var mu sync.Mutex
	var gotErr error

	err := h.Read(rconn, make([]byte, 16), time.Minute, func(res iomultiplex.Result) {
		mu.Lock()
		gotErr = res.Err
		mu.Unlock()
		delivered = 1
	})
	require.NoError(t, err)

	// Give the reactor a chance to actually enqueue the read before
	// cancelling it, so this exercises cancelling a pending op rather
	// than racing the submit itself.
	time.Sleep(20 * time.Millisecond)

	rconn.Cancel(true, false, false) // non-fast: blocks until acknowledged

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), delivered, "callback must have run by the time non-fast Cancel returns")
	assert.ErrorIs(t, gotErr, iomultiplex.ErrCanceled)
}

// TestCloseMidFlight covers spec.md §8's close-mid-flight scenario: Close
// implicitly cancels any queued operation exactly once, rather than
// leaving it to time out or never complete.
func TestCloseMidFlight(t *testing.T) {
	h := newRunningHandler(t)
	rconn, wconn := pipeConns(t, h)
	defer wconn.Close()

	done := make(chan iomultiplex.Result, 1)
	err := h.Read(rconn, make([]byte, 16), time.Minute, func(res iomultiplex.Result) {
		done <- res
	})
	require.NoError(t, err)

	require.NoError(t, rconn.Close())

	select {
	case res := <-done:
		assert.ErrorIs(t, res.Err, iomultiplex.ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired after Close")
	}
}

// TestWaitReadableNoTransfer covers spec.md §8's readiness-without-
// transfer scenario: a dummy (zero-byte) read fires once the descriptor
// is readable, without consuming any bytes, so a following real read
// still observes the full payload.
func TestWaitReadableNoTransfer(t *testing.T) {
	h := newRunningHandler(t)
	rconn, wconn := pipeConns(t, h)
	defer rconn.Close()
	defer wconn.Close()

	_, err := h.WriteBlocking(wconn, []byte("hi"), time.Second)
	require.NoError(t, err)

	ready := make(chan iomultiplex.Result, 1)
	err = h.WaitReadable(rconn, time.Second, func(res iomultiplex.Result) {
		ready <- res
	})
	require.NoError(t, err)

	res := <-ready
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, res.N)

	buf := make([]byte, 16)
	n, err := h.ReadBlocking(rconn, buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))
}

// TestFIFOOrderingMultipleReads guards the FIFO property of spec.md §8/§9:
// two reads queued back-to-back against a still-empty descriptor must be
// satisfied in submission order as data trickles in, never interleaved.
func TestFIFOOrderingMultipleReads(t *testing.T) {
	h := newRunningHandler(t)
	rconn, wconn := pipeConns(t, h)
	defer rconn.Close()
	defer wconn.Close()

	var mu sync.Mutex
	var order []string

	first := make(chan struct{})
	err := h.Read(rconn, make([]byte, 1), time.Second, func(res iomultiplex.Result) {
		mu.Lock()
		order = append(order, "first:"+string(res.Buffer[:res.N]))
		mu.Unlock()
		close(first)
	})
	require.NoError(t, err)

	second := make(chan struct{})
	err = h.Read(rconn, make([]byte, 1), time.Second, func(res iomultiplex.Result) {
		mu.Lock()
		order = append(order, "second:"+string(res.Buffer[:res.N]))
		mu.Unlock()
		close(second)
	})
	require.NoError(t, err)

	_, err = h.WriteBlocking(wconn, []byte("a"), time.Second)
	require.NoError(t, err)
	<-first

	_, err = h.WriteBlocking(wconn, []byte("b"), time.Second)
	require.NoError(t, err)
	<-second

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first:a", "second:b"}, order)
}

// TestRepeatingTimer covers spec.md §8's repeating-timer scenario via
// conn.TimerConn directly: a timer armed once with a nonzero repeat
// interval keeps firing without being re-armed by the caller, which only
// resubmits the expiration read from each callback.
func TestRepeatingTimer(t *testing.T) {
	h := newRunningHandler(t)
	tc, err := conn.NewTimerConn(h)
	require.NoError(t, err)
	defer tc.Close()

	require.NoError(t, tc.Set(10*time.Millisecond, 10*time.Millisecond))

	fired := make(chan struct{}, 8)
	var wait func()
	wait = func() {
		tc.WaitExpiration(time.Second, func(overrun uint64, err error) {
			if err != nil {
				return
			}
			fired <- struct{}{}
			wait()
		})
	}
	wait()

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("timer did not fire a %dth time", i+1)
		}
	}
}

// TestAtMostOneCompletion guards the property that a single submitted
// operation's callback never fires more than once, even when it races a
// Cancel that loses (because the operation already completed).
func TestAtMostOneCompletion(t *testing.T) {
	h := newRunningHandler(t)
	rconn, wconn := pipeConns(t, h)
	defer rconn.Close()
	defer wconn.Close()

	var calls int32
	var mu sync.Mutex

	_, err := h.WriteBlocking(wconn, []byte("x"), time.Second)
	require.NoError(t, err)

	err = h.Read(rconn, make([]byte, 1), time.Second, func(res iomultiplex.Result) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)

	// This races the read above; at most one of the two outcomes
	// (transfer or cancel) can have actually applied, and either way the
	// callback must run exactly once.
	rconn.Cancel(true, false, true)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), calls)
}

// TestDatagramWriteToRepliesToCapturedPeer exercises the echo-udp-server
// shape: one unconnected listening socket, a ReadFrom that captures the
// sender, and a WriteTo that replies to exactly that sender.
func TestDatagramWriteToRepliesToCapturedPeer(t *testing.T) {
	h := newRunningHandler(t)

	serverPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverPC.Close()
	server, err := conn.NewDatagramSocketConn(h, serverPC)
	require.NoError(t, err)
	defer server.Close()

	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientPC.Close()
	client, err := conn.NewDatagramSocketConn(h, clientPC)
	require.NoError(t, err)
	defer client.Close()

	replies := make(chan iomultiplex.Result, 1)
	writeErrs := make(chan error, 1)

	require.NoError(t, h.ReadFrom(client, make([]byte, 64), time.Second, func(res iomultiplex.Result) {
		replies <- res
	}))

	require.NoError(t, h.ReadFrom(server, make([]byte, 64), time.Second, func(res iomultiplex.Result) {
		if res.Err != nil {
			writeErrs <- res.Err
			return
		}
		writeErrs <- h.WriteTo(server, res.Buffer[:res.N], res.Peer, time.Second, nil)
	}))

	err = h.WriteTo(client, []byte("ping"), serverPC.LocalAddr(), time.Second, nil)
	require.NoError(t, err)

	select {
	case err := <-writeErrs:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the ping")
	}

	select {
	case res := <-replies:
		require.NoError(t, res.Err)
		assert.Equal(t, "ping", string(res.Buffer[:res.N]))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed reply")
	}
}
