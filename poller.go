package iomultiplex

import "time"

// eventMask is a bitmask of readiness events, spec.md §6 "readable,
// writable".
type eventMask uint32

const (
	eventRead eventMask = 1 << iota
	eventWrite
	// eventError marks hangup/error conditions the backend must report as
	// a readiness event so the draining step observes them via DoRead/
	// DoWrite's errno (spec.md §6 "Required of readiness backend").
	eventError
)

// pollEvent is one readiness notification for a descriptor.
type pollEvent struct {
	fd   int
	mask eventMask
}

// poller is the readiness backend capability of spec.md §6: a handle
// creator, subscribe/modify/unsubscribe, and a blocking wait that can be
// interrupted by the control signal. epollPoller (poller_linux.go) is the
// sole implementation; the deprecated poll(2) backend named in spec.md
// §9 is not provided since epoll's per-descriptor update plus
// level-triggered semantics is explicitly the preferred, simplicity-first
// choice the spec recommends, and no second backend is exercised by any
// SPEC_FULL.md component.
type poller interface {
	// subscribe starts monitoring fd for mask.
	subscribe(fd int, mask eventMask) error
	// modify changes the mask fd is monitored for.
	modify(fd int, mask eventMask) error
	// unsubscribe stops monitoring fd.
	unsubscribe(fd int) error
	// wait blocks for events or until the control signal interrupts it.
	// A negative timeout means wait indefinitely.
	wait(timeout time.Duration) ([]pollEvent, error)
	// close releases backend resources.
	close() error
}
