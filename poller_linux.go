//go:build linux

package iomultiplex

import (
	"time"

	"golang.org/x/sys/unix"
)

// maxEvents bounds a single epoll_pwait batch. Grounded on the teacher's
// watcher.go, which sizes its poller event buffer off the watcher's queue
// size; here it is a fixed, generous batch since the reactor drains
// whatever a single wait call reports before looping.
const maxEvents = 128

// epollPoller is the sole poller (spec.md §6) implementation: Linux epoll
// in level-triggered mode, combined with the control-signal wakeup of
// signal_linux.go so a blocking wait can be interrupted from another
// thread (spec.md §4.6). Grounded on original_source/IOHandler_Epoll.hpp's
// io_dispatch, generalized from the teacher's openPoll()/pfd abstraction
// in watcher.go.
type epollPoller struct {
	epfd int
	ctl  *controlSignal
	buf  []unix.EpollEvent
}

func newEpollPoller(ctl *controlSignal) (*epollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, newOpErr(KindIOError, err)
	}
	return &epollPoller{
		epfd: epfd,
		ctl:  ctl,
		buf:  make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollEvents(mask eventMask) uint32 {
	var ev uint32
	if mask&eventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&eventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) subscribe(fd int, mask eventMask) error {
	ev := unix.EpollEvent{Events: epollEvents(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return newOpErr(KindIOError, err)
	}
	return nil
}

func (p *epollPoller) modify(fd int, mask eventMask) error {
	ev := unix.EpollEvent{Events: epollEvents(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return newOpErr(KindIOError, err)
	}
	return nil
}

func (p *epollPoller) unsubscribe(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return newOpErr(KindIOError, err)
	}
	return nil
}

// wait blocks on epoll_pwait with the control signal atomically unblocked
// for the duration of the syscall only (spec.md §4.3/§4.6), so a wake()
// from another thread interrupts exactly this call and nothing else
// running on the reactor's locked OS thread. A negative timeout (no
// pending deadline, see reactor.go's nextTimeout) waits indefinitely;
// any non-negative timeout is rounded up to at least 1ms so an
// already-elapsed deadline still yields an almost-immediate wait instead
// of being mistaken for "wait forever". EINTR from a delivered control
// signal is reported as a zero-length, nil-error wait so the reactor loop
// simply re-evaluates its pending mutations and recomputes the next
// deadline.
func (p *epollPoller) wait(timeout time.Duration) ([]pollEvent, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if msec <= 0 {
			msec = 1
		}
	}

	waitSigset, err := p.ctl.blockOnCurrentThread()
	if err != nil {
		return nil, newOpErr(KindIOError, err)
	}

	n, err := unix.EpollPwait(p.epfd, p.buf, msec, waitSigset)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, newOpErr(KindIOError, err)
	}

	events := make([]pollEvent, 0, n)
	for i := 0; i < n; i++ {
		raw := p.buf[i]
		var m eventMask
		if raw.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			m |= eventRead
		}
		if raw.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			m |= eventWrite
		}
		if raw.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			m |= eventError
		}
		events = append(events, pollEvent{fd: int(raw.Fd), mask: m})
	}
	return events, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
