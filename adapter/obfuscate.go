package adapter

import "github.com/dxarrhenius/iomultiplex"

// memfrobKey is glibc memfrob's fixed XOR key (42), kept for
// bug-compatible interop with the original's memfrob-based adapter.
const memfrobKey = 42

// ObfuscateAdapter XORs every byte with a fixed key in both directions,
// the Go equivalent of glibc's memfrob used by
// original_source/examples/obfuscate_adapter.{hpp,cpp}. Self-inverse: the
// same transform applied twice yields the original bytes.
type ObfuscateAdapter struct {
	Base
}

func NewObfuscateAdapter(inner iomultiplex.Connection) *ObfuscateAdapter {
	return &ObfuscateAdapter{Base: NewBase(inner)}
}

func (a *ObfuscateAdapter) DoRead(buf []byte) (int, error) {
	n, err := a.Base.DoRead(buf)
	if n > 0 {
		memfrob(buf[:n])
	}
	return n, err
}

func (a *ObfuscateAdapter) DoWrite(buf []byte) (int, error) {
	xformed := make([]byte, len(buf))
	copy(xformed, buf)
	memfrob(xformed)
	return a.Base.DoWrite(xformed)
}

func memfrob(p []byte) {
	for i := range p {
		p[i] ^= memfrobKey
	}
}
