package conn

import (
	"encoding/binary"
	"time"

	"github.com/dxarrhenius/iomultiplex"
	"golang.org/x/sys/unix"
)

// TimerConn is a kernel timer (timerfd) connection: readable once per
// expiration, yielding an 8-byte little-endian overrun count (spec.md
// §4.8). Grounded on original_source/iomultiplex/TimerConnection.{hpp,cpp}.
type TimerConn struct {
	*FDConn
	overrun [8]byte
}

// NewTimerConn creates a disarmed timer using CLOCK_BOOTTIME, matching
// the original's default clock (survives system suspend, unlike
// CLOCK_MONOTONIC).
func NewTimerConn(h *iomultiplex.Handler) (*TimerConn, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_BOOTTIME, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &TimerConn{FDConn: NewFDConn(h, fd, false)}, nil
}

// Set arms the timer for an initial timeout, then (if repeat > 0)
// automatically rearms it every repeat interval (spec.md §4.8/§4.9).
// A zero timeout fires as soon as possible rather than disarming.
func (t *TimerConn) Set(timeout, repeat time.Duration) error {
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(int64(timeout)),
		Interval: unix.NsecToTimespec(int64(repeat)),
	}
	if timeout <= 0 {
		spec.Value = unix.NsecToTimespec(1)
	}
	return unix.TimerfdSettime(t.Handle(), 0, &spec, nil)
}

// Disarm stops the timer without closing it.
func (t *TimerConn) Disarm() error {
	var spec unix.ItimerSpec
	return unix.TimerfdSettime(t.Handle(), 0, &spec, nil)
}

// WaitExpiration submits the 8-byte overrun read the core uses to drive
// this timer like any other descriptor (spec.md §4.8): completion of the
// read is the expiration notification, and cb receives the decoded
// overrun count or the read's error (timerfd reads transfer all 8 bytes
// or none, never a partial count).
func (t *TimerConn) WaitExpiration(timeout time.Duration, cb func(overrun uint64, err error)) error {
	return t.Handler().Read(t, t.overrun[:], timeout, func(res iomultiplex.Result) {
		if res.Err != nil {
			cb(0, res.Err)
			return
		}
		cb(binary.LittleEndian.Uint64(t.overrun[:]), nil)
	})
}
