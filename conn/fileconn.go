package conn

import (
	"github.com/dxarrhenius/iomultiplex"
	"golang.org/x/sys/unix"
)

// FileConn wraps a named regular or pollable file, adding open(filename,
// flags[, mode]) construction and a filename accessor on top of FDConn.
// Grounded on original_source/iomultiplex/FileConnection.{hpp,cpp}, a
// thin FdConnection subclass with exactly this shape.
type FileConn struct {
	*FDConn
	name string
}

// NewFileConn opens filename with the given open(2) flags (O_NONBLOCK is
// added automatically, matching the nonblocking precondition every other
// connection in this package already requires) and wraps the result for
// use with h.
func NewFileConn(h *iomultiplex.Handler, filename string, flags int) (*FileConn, error) {
	return openFileConn(h, filename, flags, 0)
}

// NewFileConnMode is the create-with-permissions variant, for flags that
// include O_CREAT.
func NewFileConnMode(h *iomultiplex.Handler, filename string, flags int, mode uint32) (*FileConn, error) {
	return openFileConn(h, filename, flags, mode)
}

func openFileConn(h *iomultiplex.Handler, filename string, flags int, mode uint32) (*FileConn, error) {
	fd, err := unix.Open(filename, flags|unix.O_NONBLOCK, mode)
	if err != nil {
		return nil, err
	}
	return &FileConn{FDConn: NewFDConn(h, fd, false), name: filename}, nil
}

// Filename returns the path this connection was opened with.
func (c *FileConn) Filename() string {
	return c.name
}
