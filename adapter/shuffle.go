package adapter

import (
	"math/rand"

	"github.com/dxarrhenius/iomultiplex"
)

// ShuffleAdapter permutes bytes within each transferred chunk using a
// seeded, reversible shuffle, the idiomatic-Go counterpart of
// original_source/examples/shuffle_adapter.{hpp,cpp}'s use of glibc's
// strfry. strfry itself produces a one-off random permutation with no
// inverse, which only makes sense as an obfuscation demo between two ends
// that share the same permutation out of band; here that sharing is made
// explicit via Seed, so DoRead on one side can undo what DoWrite applied
// on the other.
type ShuffleAdapter struct {
	Base
	Seed int64
}

func NewShuffleAdapter(inner iomultiplex.Connection, seed int64) *ShuffleAdapter {
	return &ShuffleAdapter{Base: NewBase(inner), Seed: seed}
}

func (a *ShuffleAdapter) DoWrite(buf []byte) (int, error) {
	perm := permutation(len(buf), a.Seed)
	xformed := make([]byte, len(buf))
	for i, p := range perm {
		xformed[p] = buf[i]
	}
	return a.Base.DoWrite(xformed)
}

func (a *ShuffleAdapter) DoRead(buf []byte) (int, error) {
	n, err := a.Base.DoRead(buf)
	if n > 0 {
		perm := permutation(n, a.Seed)
		out := make([]byte, n)
		for i, p := range perm {
			out[i] = buf[p]
		}
		copy(buf[:n], out)
	}
	return n, err
}

// permutation deterministically reproduces the same Fisher-Yates shuffle
// of [0,n) for a given (n, seed) pair, so the writer's forward pass and
// the reader's inverse pass agree without any extra coordination.
func permutation(n int, seed int64) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	r := rand.New(rand.NewSource(seed + int64(n)))
	for i := n - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}
