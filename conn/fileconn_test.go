package conn_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

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

// TestFileConnFilename covers the accessor FileConnection.filename() is
// grounded on: a FileConn remembers the path it was opened with.
func TestFileConnFilename(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "iomultiplex-fileconn-*")
	require.NoError(t, err)
	tmp.Close()

	h := newRunningHandler(t)
	f, err := conn.NewFileConn(h, tmp.Name(), unix.O_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, tmp.Name(), f.Filename())
}

// TestFileConnReadFIFO exercises FileConn against a real pollable
// descriptor (a FIFO; regular files are always epoll-ready and aren't a
// meaningful read test) end to end through Handler.ReadBlocking.
func TestFileConnReadFIFO(t *testing.T) {
	path := t.TempDir() + "/fifo"
	require.NoError(t, unix.Mkfifo(path, 0o600))

	h := newRunningHandler(t)

	f, err := conn.NewFileConn(h, path, unix.O_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	wfd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(wfd)

	_, err = unix.Write(wfd, []byte("file data"))
	require.NoError(t, err)

	buf := make([]byte, 32)
	n, err := h.ReadBlocking(f, buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "file data", string(buf[:n]))
}
