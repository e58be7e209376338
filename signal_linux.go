//go:build linux

package iomultiplex

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSignal is the control-signal wakeup mechanism of spec.md §4.6 and
// §9's "Global signal-handler state": a realtime signal used by external
// threads to rouse the reactor's blocking wait without racing the
// readiness-backend descriptor set.
//
// The install/restore is process-wide shared state, so it is guarded by a
// reference count keyed by signal number, grounded directly on
// original_source/IOHandler_Epoll.hpp's static sigaction_count/
// sigaction_mutex pair. In Go there is no portable way to hand-install a
// raw sigaction for an arbitrary realtime signal and still interoperate
// with the runtime's own signal machinery, so installation goes through
// os/signal.Notify: this is what makes the Go runtime route the signal to
// a real sigaction handler instead of terminating the process (the
// default disposition for most realtime signals), which in turn is what
// lets a blocking epoll_pwait on the reactor's locked OS thread return
// EINTR when the signal is delivered.
type controlSignal struct {
	num syscall.Signal
	ch  chan os.Signal
}

var (
	ctlSigMu    sync.Mutex
	ctlSigCount = map[syscall.Signal]int{}
	ctlSigChans = map[syscall.Signal]chan os.Signal{}
)

// defaultControlSignal is the lowest realtime signal, matching
// IOHandler_Epoll's SIGRTMIN default (spec.md §4.6).
func defaultControlSignal() syscall.Signal {
	return syscall.Signal(unix.SIGRTMIN())
}

// acquireControlSignal installs (on first acquisition for this signal
// number) the handler and increments the process-wide refcount.
func acquireControlSignal(sig syscall.Signal) (*controlSignal, error) {
	if sig < syscall.Signal(unix.SIGRTMIN()) || sig > syscall.Signal(unix.SIGRTMAX()) {
		return nil, fmt.Errorf("iomultiplex: %d is not a realtime signal", sig)
	}

	ctlSigMu.Lock()
	defer ctlSigMu.Unlock()

	ch, ok := ctlSigChans[sig]
	if !ok {
		ch = make(chan os.Signal, 1)
		signal.Notify(ch, sig)
		ctlSigChans[sig] = ch
	}
	ctlSigCount[sig]++

	return &controlSignal{num: sig, ch: ch}, nil
}

// release decrements the refcount, restoring the original disposition
// (signal.Stop) once the last reactor using this signal number is gone.
func (c *controlSignal) release() {
	ctlSigMu.Lock()
	defer ctlSigMu.Unlock()

	ctlSigCount[c.num]--
	if ctlSigCount[c.num] <= 0 {
		if ch, ok := ctlSigChans[c.num]; ok {
			signal.Stop(ch)
			delete(ctlSigChans, c.num)
		}
		delete(ctlSigCount, c.num)
	}
}

// wake sends the control signal to the specific OS thread identified by
// tid, interrupting a blocking epoll_pwait on that thread (spec.md §4.3
// step 2: "must atomically unblock the control signal for the duration of
// the wait"). tid is captured once by the reactor loop after
// runtime.LockOSThread, via unix.Gettid.
func (c *controlSignal) wake(tid int) error {
	return unix.Tgkill(os.Getpid(), tid, c.num)
}

// sigsetAdd/sigsetDel manipulate a glibc-layout Sigset_t (16 uint64 words,
// signal N at bit (N-1)). golang.org/x/sys/unix exposes the struct but not
// helpers to set individual bits, so this is the direct equivalent of the
// sigaddset(3)/sigdelset(3) macros the original C++ uses.
func sigsetAdd(set *unix.Sigset_t, sig syscall.Signal) {
	bit := uint(sig) - 1
	set.Val[bit/64] |= 1 << (bit % 64)
}

func sigsetDel(set *unix.Sigset_t, sig syscall.Signal) {
	bit := uint(sig) - 1
	set.Val[bit/64] &^= 1 << (bit % 64)
}

// blockOnCurrentThread blocks c.num on the calling OS thread, returning a
// sigset_t that has c.num excluded (i.e. unblocked) suitable for passing
// to EpollPwait so the signal is only deliverable for the duration of the
// wait syscall, never otherwise interrupting this thread's other work.
func (c *controlSignal) blockOnCurrentThread() (waitSigset *unix.Sigset_t, err error) {
	var blockOne unix.Sigset_t
	sigsetAdd(&blockOne, c.num)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &blockOne, nil); err != nil {
		return nil, err
	}

	// Build the signal mask to pass to EpollPwait: the thread's current
	// mask with c.num removed, so c.num becomes deliverable while inside
	// the wait; signals the thread already leaves unblocked stay so.
	var current unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, nil, &current); err != nil {
		return nil, err
	}
	sigsetDel(&current, c.num)
	return &current, nil
}
