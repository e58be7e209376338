package iomultiplex_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxarrhenius/iomultiplex"
)

func TestRunTwiceReturnsAlreadyRunning(t *testing.T) {
	h, err := iomultiplex.New()
	require.NoError(t, err)
	require.NoError(t, h.Run(true))
	defer func() {
		h.Stop()
		h.Join()
	}()

	assert.ErrorIs(t, h.Run(true), iomultiplex.ErrAlreadyRunning)
}

func TestSubmitOnClosedConnReturnsBadDescriptor(t *testing.T) {
	h, err := iomultiplex.New()
	require.NoError(t, err)
	require.NoError(t, h.Run(true))
	defer func() {
		h.Stop()
		h.Join()
	}()

	rconn, wconn := pipeConns(t, h)
	defer wconn.Close()
	require.NoError(t, rconn.Close())

	err = h.Read(rconn, make([]byte, 1), time.Second, func(iomultiplex.Result) {})
	assert.ErrorIs(t, err, iomultiplex.ErrBadDescriptor)
}

func TestSubmitAfterStopReturnsShutdown(t *testing.T) {
	h, err := iomultiplex.New()
	require.NoError(t, err)
	require.NoError(t, h.Run(true))

	rconn, wconn := pipeConns(t, h)
	defer rconn.Close()
	defer wconn.Close()

	h.Stop()
	h.Join()

	err = h.Read(rconn, make([]byte, 1), time.Second, func(iomultiplex.Result) {})
	assert.ErrorIs(t, err, iomultiplex.ErrShutdown)
}

// TestBlockingOpFromReactorThreadRefuses guards against the self-deadlock
// that ReadBlocking/WriteBlocking would otherwise cause if called from a
// callback already running on the reactor's own goroutine (spec.md §6).
func TestBlockingOpFromReactorThreadRefuses(t *testing.T) {
	h, err := iomultiplex.New()
	require.NoError(t, err)
	require.NoError(t, h.Run(true))
	defer func() {
		h.Stop()
		h.Join()
	}()

	rconn, wconn := pipeConns(t, h)
	defer rconn.Close()
	defer wconn.Close()

	done := make(chan error, 1)
	err = h.WaitReadable(rconn, time.Second, func(res iomultiplex.Result) {
		_, blockErr := h.ReadBlocking(rconn, make([]byte, 1), time.Second)
		done <- blockErr
	})
	require.NoError(t, err)

	_, werr := h.WriteBlocking(wconn, []byte("x"), time.Second)
	require.NoError(t, werr)

	select {
	case blockErr := <-done:
		assert.Equal(t, iomultiplex.KindIOError, iomultiplex.KindOf(blockErr))
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}
