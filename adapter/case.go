package adapter

import (
	"math/rand"
	"unicode"

	"github.com/dxarrhenius/iomultiplex"
)

// CaseMode selects how CaseAdapter changes letter case.
type CaseMode int

const (
	RandomCase CaseMode = iota
	UpperCase
	LowerCase
)

// CaseAdapter upper/lower-cases (or randomly cases) every ASCII letter
// that passes through, in both directions. Grounded on
// original_source/examples/case_adapter.{hpp,cpp}.
type CaseAdapter struct {
	Base
	mode CaseMode
}

func NewCaseAdapter(inner iomultiplex.Connection, mode CaseMode) *CaseAdapter {
	return &CaseAdapter{Base: NewBase(inner), mode: mode}
}

func (a *CaseAdapter) DoRead(buf []byte) (int, error) {
	n, err := a.Base.DoRead(buf)
	if n > 0 {
		a.recase(buf[:n])
	}
	return n, err
}

func (a *CaseAdapter) DoWrite(buf []byte) (int, error) {
	xformed := make([]byte, len(buf))
	copy(xformed, buf)
	a.recase(xformed)
	return a.Base.DoWrite(xformed)
}

func (a *CaseAdapter) recase(p []byte) {
	for i, c := range p {
		if c >= 0x80 || !unicode.IsLetter(rune(c)) {
			continue
		}
		upper := a.mode == UpperCase
		if a.mode == RandomCase {
			upper = rand.Intn(2) == 0
		}
		if upper {
			p[i] = byte(unicode.ToUpper(rune(c)))
		} else {
			p[i] = byte(unicode.ToLower(rune(c)))
		}
	}
}
