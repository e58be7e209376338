package iomultiplex

import (
	"container/list"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/dxarrhenius/iomultiplex/logfacade"
	"golang.org/x/sys/unix"
)

// reactorState is the lifecycle of spec.md §4.3/§9: created -> running ->
// stopping -> stopped. Once stopped a Handler never restarts.
type reactorState int32

const (
	stateIdle reactorState = iota
	stateRunning
	stateStopping
	stateStopped
)

// mutation is a pending request queued via submit (from any goroutine,
// the reactor's own included) or via a cancel from a goroutine other than
// the reactor's own, applied at the top of the next loop iteration
// (spec.md §4.2/§4.3).
type mutation struct {
	op      *operation // non-nil for an enqueue
	cancel  *cancelReq // non-nil for a cancel
}

// cancelReq is a cancellation request. done, when non-nil, is closed once
// the reactor has finished applying this cancel and delivering every
// affected callback, giving a non-fast cross-thread Cancel something to
// wait on (spec.md §4.5's acknowledgment wait).
type cancelReq struct {
	fd                      *fdState
	cancelRead, cancelWrite bool
	done                    chan struct{}
}

// reactor owns the poller, the timeout index, the set of live descriptors
// and the pending-mutation inbox. It is the direct generalization of the
// teacher's watcher: the same single-goroutine "loop()" owns all mutable
// state, and every other goroutine only ever appends to pending and pokes
// the control signal (spec.md §4.2 "Submit").
type reactor struct {
	pfd poller
	ctl *controlSignal

	mu      sync.Mutex
	state   reactorState
	pending []mutation
	fds     map[int]*fdState
	timeouts timeoutHeap

	tid     int // OS thread id of the running loop, valid once state == stateRunning
	tidOnce sync.Once
	tidCh   chan int

	stopped chan struct{}

	log           logfacade.Sink
	errClassifier ErrClassifier
	timeNow       func() time.Time
}

func newReactor(cfg *Config) (*reactor, error) {
	sig := defaultControlSignal()
	if cfg.ControlSignal != 0 {
		sig = syscall.Signal(cfg.ControlSignal)
	}
	ctl, err := acquireControlSignal(sig)
	if err != nil {
		return nil, err
	}
	pfd, err := newEpollPoller(ctl)
	if err != nil {
		ctl.release()
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logfacade.Discard()
	}
	errClassifier := cfg.ErrClassifier
	if errClassifier == nil {
		errClassifier = DefaultErrClassifier
	}
	timeNow := cfg.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}
	return &reactor{
		pfd:           pfd,
		ctl:           ctl,
		fds:           make(map[int]*fdState),
		stopped:       make(chan struct{}),
		tidCh:         make(chan int, 1),
		log:           log,
		errClassifier: errClassifier,
		timeNow:       timeNow,
	}, nil
}

// enqueue appends a mutation to the inbox and wakes the reactor thread if
// it is (or may be) blocked in the poller's wait. Same-thread reentrant
// cancels are detected by the caller (Handler.Cancel) and applied inline
// instead of going through this path. Submissions always come through
// here, including reentrant ones from a callback on the reactor's own
// goroutine: those are not applied inline, they take effect at the start
// of the next loop pass, after the current dispatch pass has finished.
func (r *reactor) enqueue(m mutation) {
	r.mu.Lock()
	r.pending = append(r.pending, m)
	tid := r.tid
	r.mu.Unlock()

	if tid != 0 {
		r.ctl.wake(tid)
	}
}

// run is the reactor loop proper: grounded on the teacher's watcher.loop(),
// generalized to dispatch timeouts ahead of readiness (spec.md §4.3 steps)
// and to apply queued mutations every pass instead of only at startup.
func (r *reactor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r.tidOnce.Do(func() {
		tid := unix.Gettid()
		r.mu.Lock()
		r.tid = tid
		r.mu.Unlock()
		r.tidCh <- tid
	})

	r.log.Info("reactor started", "tid", unix.Gettid())

	for {
		r.applyPending()

		r.mu.Lock()
		stopping := r.state == stateStopping
		allDrained := len(r.fds) == 0 && r.timeouts.Len() == 0
		r.mu.Unlock()

		if stopping && allDrained {
			break
		}

		timeout := r.nextTimeout()
		events, err := r.pfd.wait(timeout)
		now := r.timeNow()

		r.mu.Lock()
		expired := r.timeouts.popExpired(now)
		r.mu.Unlock()
		for _, op := range expired {
			r.completeTimeout(op)
		}

		switch {
		case err == nil:
			for _, ev := range events {
				r.handleReady(ev)
			}
		default:
			// A wait failure is not a per-operation errno; spec.md §7
			// treats it as fatal to the reactor itself: log it, stop
			// accepting new work, and cancel everything in flight.
			r.log.Info("reactor wait failed, shutting down",
				"error", err, "class", r.errClassifier.Classify(err))
			r.mu.Lock()
			r.state = stateStopping
			r.mu.Unlock()
			r.cancelEverything()
		}
	}

	r.log.Info("reactor stopped")
	r.mu.Lock()
	r.state = stateStopped
	r.mu.Unlock()

	// Tear down the backend and release the process-wide control-signal
	// refcount (spec.md §4.6: "on last destruction it is restored").
	r.pfd.close()
	r.ctl.release()

	close(r.stopped)
}

// cancelEverything aborts every queued operation on every live descriptor
// with ErrCanceled, used both by the fatal-wait-error path (spec.md §7)
// and available to Stop-time drains.
func (r *reactor) cancelEverything() {
	r.mu.Lock()
	var fds []*fdState
	for _, fd := range r.fds {
		fds = append(fds, fd)
	}
	r.mu.Unlock()

	for _, fd := range fds {
		r.applyCancel(&cancelReq{fd: fd, cancelRead: true, cancelWrite: true})
		r.resubscribe(fd)
	}
}

// nextTimeout computes the poller's wait duration from the earliest
// pending deadline (spec.md §4.3 step 1). A negative result means there
// is no pending deadline at all and the poller should wait indefinitely;
// a deadline that has already elapsed by the time this runs returns a
// tiny positive duration rather than the same sentinel as "no deadline",
// so the poller wakes almost immediately and completeTimeout delivers
// ErrTimedOut promptly instead of the loop blocking on unrelated
// readiness (poller_linux.go's wait() maps these two cases differently).
func (r *reactor) nextTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	earliest := r.timeouts.earliest()
	if earliest == nil {
		return -1
	}
	d := earliest.deadline.Sub(r.timeNow())
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

// applyPending drains the mutation inbox, enqueuing new operations and
// servicing cancels, then recomputes each touched descriptor's
// subscription mask (spec.md §4.2/§4.5).
func (r *reactor) applyPending() {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	touched := make(map[*fdState]bool)
	for _, m := range batch {
		switch {
		case m.op != nil:
			r.applyEnqueue(m.op)
			touched[m.op.fd] = true
		case m.cancel != nil:
			r.applyCancel(m.cancel)
			touched[m.cancel.fd] = true
		}
	}
	for fd := range touched {
		r.resubscribe(fd)
	}
}

func (r *reactor) applyEnqueue(op *operation) {
	fd := op.fd

	r.mu.Lock()
	fd.pushBack(op)
	if op.hasTimeout() {
		r.timeouts.insert(op)
	}
	if _, ok := r.fds[fd.fd]; !ok {
		r.fds[fd.fd] = fd
	}
	r.mu.Unlock()

	// A descriptor already ready from a previous pass is attempted inline
	// before it ever reaches the poller, matching the teacher's
	// tryRead/tryWrite fast path in watcher.go. A dummy at the head of
	// the queue is left for the poller: it has no transfer that could
	// report would-block, so only a readiness event may complete it.
	r.mu.Lock()
	head := fd.front(op.dir)
	r.mu.Unlock()
	if head != nil && !head.dummy {
		r.tryDrain(fd, op.dir)
	}
}

func (r *reactor) applyCancel(c *cancelReq) {
	fd := c.fd
	r.mu.Lock()
	var toComplete []*operation
	if c.cancelRead {
		toComplete = append(toComplete, collectAll(&fd.readers)...)
	}
	if c.cancelWrite {
		toComplete = append(toComplete, collectAll(&fd.writers)...)
	}
	for _, op := range toComplete {
		fd.remove(op)
		r.timeouts.remove(op)
	}
	r.mu.Unlock()

	for _, op := range toComplete {
		r.deliver(op, ErrCanceled)
	}

	if c.done != nil {
		close(c.done)
	}
}

func collectAll(l *list.List) []*operation {
	var out []*operation
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*operation))
	}
	return out
}

// resubscribe updates the poller's mask for fd to match its current
// queues, registering or unregistering entirely when the descriptor
// becomes non-empty/empty (spec.md §3).
func (r *reactor) resubscribe(fd *fdState) {
	r.mu.Lock()
	want := fd.wantMask()
	had := fd.subscribed
	empty := fd.empty()
	r.mu.Unlock()

	switch {
	case empty && had != 0:
		r.pfd.unsubscribe(fd.fd)
		r.mu.Lock()
		fd.subscribed = 0
		delete(r.fds, fd.fd)
		r.mu.Unlock()
	case empty:
		// never subscribed with the poller; only drop it from the live set
		r.mu.Lock()
		if r.fds[fd.fd] == fd {
			delete(r.fds, fd.fd)
		}
		r.mu.Unlock()
	case had == 0:
		r.pfd.subscribe(fd.fd, want)
		r.mu.Lock()
		fd.subscribed = want
		r.mu.Unlock()
	case want != had:
		r.pfd.modify(fd.fd, want)
		r.mu.Lock()
		fd.subscribed = want
		r.mu.Unlock()
	}
}

func (r *reactor) completeTimeout(op *operation) {
	fd := op.fd // deliver recycles op
	r.mu.Lock()
	fd.remove(op)
	r.mu.Unlock()
	r.deliver(op, ErrTimedOut)
	r.resubscribe(fd)
}

func (r *reactor) handleReady(ev pollEvent) {
	r.mu.Lock()
	fd, ok := r.fds[ev.fd]
	r.mu.Unlock()
	if !ok {
		return
	}
	if ev.mask&(eventRead|eventError) != 0 {
		r.tryDrain(fd, DirRead)
	}
	if ev.mask&(eventWrite|eventError) != 0 {
		r.tryDrain(fd, DirWrite)
	}
	r.resubscribe(fd)
}

// tryDrain implements the draining algorithm of spec.md §4.4: repeatedly
// pop the front entry of the (fd, dir) queue and attempt it until the
// queue is empty or the connection reports it would block.
func (r *reactor) tryDrain(fd *fdState, dir Direction) {
	for {
		r.mu.Lock()
		op := fd.front(dir)
		r.mu.Unlock()
		if op == nil {
			return
		}

		if op.dummy {
			r.mu.Lock()
			fd.remove(op)
			r.timeouts.remove(op)
			r.mu.Unlock()
			r.deliver(op, nil)
			continue
		}

		n, err := r.attempt(op)
		switch {
		case err == errWouldBlock:
			return
		case err == errInterrupted:
			continue
		default:
			r.mu.Lock()
			fd.remove(op)
			r.timeouts.remove(op)
			r.mu.Unlock()
			if err == nil {
				op.n = n
			}
			r.deliver(op, err)
		}
	}
}

func (r *reactor) attempt(op *operation) (int, error) {
	var n int
	var err error
	switch {
	case op.dir == DirRead:
		n, err = op.conn.DoRead(op.buf)
	case op.writeAddr != nil:
		n, err = op.conn.(addressedWriter).DoWriteTo(op.buf, op.writeAddr)
	default:
		n, err = op.conn.DoWrite(op.buf)
	}
	return n, classifyIOErr(err)
}

// deliver finalizes op and invokes its callback synchronously on the
// reactor's own goroutine, matching the teacher's in-loop delivery rather
// than watcher.go's batched switchResults() channel handoff: spec.md
// §4.1's callback contract requires completion to run on the reactor
// thread, and a single-goroutine reactor needs no handoff to get that.
func (r *reactor) deliver(op *operation, err error) {
	if op.peer != nil {
		if dc, ok := op.conn.(DatagramConnection); ok {
			*op.peer = dc.PeerAddr()
		}
	}
	if KindOf(err) == KindIOError {
		r.log.Debug("operation failed",
			"dir", op.dir, "span", op.spanID,
			"error", err, "class", r.errClassifier.Classify(err))
	}
	res := op.result(err)
	cb := op.cb
	putOperation(op)
	if cb != nil {
		cb(res)
	}
}
