package iomultiplex

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// newSpanID returns a UUIDv7 correlating a submitted operation with its
// eventual Result, for structured logging (see logfacade). Grounded on
// bassosimone-nop/spanid.go.
func newSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
