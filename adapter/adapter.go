// Package adapter provides Connection wrappers that transform bytes in
// transit: case-change, byte-obfuscation, byte-shuffling, and TLS.
// Grounded on original_source/iomultiplex/Adapter.{hpp,cpp} and the
// example adapters under original_source/examples/ (case_adapter,
// obfuscate_adapter, shuffle_adapter).
//
// spec.md §4.1/§9 re-architects the original's adapter base class as
// composition over delegation: Base wraps an inner iomultiplex.Connection
// and forwards every Connection method to it unless a concrete adapter
// overrides DoRead/DoWrite to transform the bytes.
package adapter

import "github.com/dxarrhenius/iomultiplex"

// Base delegates every Connection method to an inner connection. Concrete
// adapters embed Base and override DoRead/DoWrite.
type Base struct {
	inner iomultiplex.Connection
}

// NewBase wraps inner for delegation.
func NewBase(inner iomultiplex.Connection) Base {
	return Base{inner: inner}
}

func (b Base) Handle() int                  { return b.inner.Handle() }
func (b Base) IsOpen() bool                 { return b.inner.IsOpen() }
func (b Base) Handler() *iomultiplex.Handler { return b.inner.Handler() }
func (b Base) Close() error                 { return b.inner.Close() }
func (b Base) Cancel(cancelRead, cancelWrite, fast bool) {
	b.inner.Cancel(cancelRead, cancelWrite, fast)
}
func (b Base) DoRead(buf []byte) (int, error)  { return b.inner.DoRead(buf) }
func (b Base) DoWrite(buf []byte) (int, error) { return b.inner.DoWrite(buf) }

// Inner returns the wrapped connection, for adapters stacked multiple
// levels deep that need to reach underneath a sibling adapter.
func (b Base) Inner() iomultiplex.Connection { return b.inner }
