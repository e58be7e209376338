package iomultiplex

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dxarrhenius/iomultiplex/bufpool"
)

// Handler is the reactor facade of spec.md §4: the single entry point for
// registering connections, submitting read/write operations, cancelling
// them, and running or stopping the event loop. One Handler owns exactly
// one OS thread while running (runtime.LockOSThread, reactor.go), and
// exactly one control signal (signal_linux.go).
//
// Grounded on the teacher's *Watcher (watcher.go): NewWatcher/Close/
// WaitIO become New/Run/Stop/Join here, generalized from a single
// implicit background goroutine per watcher to an explicit Run that the
// caller can invoke on its own goroutine (spec.md §4.3 "same_context").
type Handler struct {
	r *reactor

	running int32

	mu      sync.Mutex
	fdByKey map[Connection]*fdState

	bufPool *bufpool.Pool
}

// New creates a Handler using default configuration. It does not start
// the reactor loop; call Run.
func New() (*Handler, error) {
	return NewWithConfig(NewConfig())
}

// NewWithConfig creates a Handler with an explicit Config (logging sink,
// control signal override).
func NewWithConfig(cfg *Config) (*Handler, error) {
	r, err := newReactor(cfg)
	if err != nil {
		return nil, err
	}
	poolSize := cfg.BufferPoolSize
	if poolSize <= 0 {
		poolSize = defaultBufferPoolSize
	}
	return &Handler{
		r:       r,
		fdByKey: make(map[Connection]*fdState),
		bufPool: bufpool.New(poolSize),
	}, nil
}

// DefaultBufferPool returns this Handler's internally managed receive
// buffer pool (Config.BufferPoolSize), for collaborators and callers that
// want a scratch buffer without maintaining their own pool (spec.md §5,
// grounded on original_source/BufferPool.{hpp,cpp}'s per-handler pool).
func (h *Handler) DefaultBufferPool() *bufpool.Pool {
	return h.bufPool
}

// Run starts the reactor loop. If startWorker is true, it runs on a new
// goroutine and Run returns immediately; otherwise it blocks the calling
// goroutine until Stop is called and every queued operation has drained
// (spec.md §4.3, §9 "same_context").
//
// Run may only be called once per Handler; a second call returns
// ErrAlreadyRunning.
func (h *Handler) Run(startWorker bool) error {
	if !atomic.CompareAndSwapInt32(&h.running, 0, 1) {
		return ErrAlreadyRunning
	}

	h.r.mu.Lock()
	h.r.state = stateRunning
	h.r.mu.Unlock()

	if startWorker {
		go h.r.run()
		return nil
	}
	h.r.run()
	return nil
}

// Stop requests an orderly shutdown: no new operations are accepted
// (the submitting methods return ErrShutdown once observed), and the loop exits
// once every in-flight operation has been delivered its terminal result
// (spec.md §4.5 "close/shutdown").
func (h *Handler) Stop() {
	h.r.mu.Lock()
	if h.r.state == stateRunning {
		h.r.state = stateStopping
	}
	tid := h.r.tid
	h.r.mu.Unlock()

	h.r.log.Info("reactor stop requested")
	if tid != 0 {
		h.r.ctl.wake(tid)
	}
}

// Join blocks until the reactor loop has exited, whether because of Stop
// or because Run(false) was used and has already returned on this
// goroutine. Safe to call from any goroutine, any number of times.
func (h *Handler) Join() {
	<-h.r.stopped
}

// SameThread reports whether the calling goroutine is the one currently
// running the reactor loop. Grounded on IOHandler_Epoll's same_context(),
// used by callers deciding whether a blocking call would deadlock
// (spec.md §6 "ReadBlocking/WriteBlocking").
func (h *Handler) SameThread() bool {
	h.r.mu.Lock()
	tid := h.r.tid
	h.r.mu.Unlock()
	return tid != 0 && tid == currentTid()
}

// started reports whether the reactor loop has ever begun running. A
// non-fast Cancel/Close before Run has no worker thread to acknowledge
// it, so callers treat that case like fast (there is nothing in flight
// for a reactor that has never drained a single pass).
func (h *Handler) started() bool {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.r.state != stateIdle
}

// register binds conn to this Handler, allocating its per-descriptor
// queue state on first use (idempotent for later submits).
func (h *Handler) register(conn Connection) *fdState {
	h.mu.Lock()
	defer h.mu.Unlock()

	if fd, ok := h.fdByKey[conn]; ok {
		return fd
	}
	fd := newFdState(conn.Handle(), conn)
	h.fdByKey[conn] = fd
	return fd
}

func (h *Handler) unregister(conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.fdByKey, conn)
}

// submit builds an operation from the given parameters and hands it to
// the reactor through its mutation inbox (reactor.enqueue), whichever
// goroutine it is called from; a call from the reactor's own goroutine is
// not applied inline but on the next loop pass.
func (h *Handler) submit(conn Connection, dir Direction, buf []byte, dummy bool, timeout time.Duration, peer *net.Addr, cb Callback) error {
	if conn == nil || !conn.IsOpen() {
		return ErrBadDescriptor
	}

	h.r.mu.Lock()
	state := h.r.state
	h.r.mu.Unlock()
	if state == stateStopping || state == stateStopped {
		return ErrShutdown
	}

	if !dummy && len(buf) == 0 {
		return ErrEmptyBuffer
	}

	fd := h.register(conn)

	op := getOperation()
	op.fd = fd
	op.dir = dir
	op.conn = conn
	op.buf = buf
	op.dummy = dummy
	op.peer = peer
	op.cb = cb
	op.spanID = newSpanID()
	if timeout > 0 {
		op.deadline = h.r.timeNow().Add(timeout)
	}

	h.r.enqueue(mutation{op: op})
	return nil
}

// Cancel aborts queued operations for conn. cancelRead/cancelWrite select
// which queues to drain; every matching entry's callback fires with
// ErrCanceled (spec.md §4.5). fast requests best-effort, non-blocking
// cancellation; when false, Cancel blocks the caller until the affected
// callbacks have run. Called from the reactor's own goroutine
// (SameThread), it applies the cancel inline regardless of fast, so the
// affected callbacks have run by the time it returns, without waiting on
// an acknowledgment. Before Run, a non-fast Cancel is enqueued and
// returns at once, like a fast one.
func (h *Handler) Cancel(conn Connection, cancelRead, cancelWrite, fast bool) {
	h.mu.Lock()
	fd, ok := h.fdByKey[conn]
	h.mu.Unlock()
	if !ok {
		return
	}

	req := &cancelReq{fd: fd, cancelRead: cancelRead, cancelWrite: cancelWrite}

	// A same-thread call arrives on the very goroutine that would
	// otherwise have to pick this mutation off the pending queue on the
	// next loop pass — by then tryDrain may already have completed the
	// very operation this call means to cancel. Applying it synchronously
	// here mutates the queue before control returns to whatever
	// callback called Cancel, so the cancelled entry can never still be
	// drained later in the same dispatch pass (spec.md §4.5).
	if h.started() && h.SameThread() {
		h.r.applyCancel(req)
		h.r.resubscribe(fd)
		return
	}

	if fast || !h.started() {
		h.r.enqueue(mutation{cancel: req})
		return
	}

	req.done = make(chan struct{})
	h.r.enqueue(mutation{cancel: req})
	<-req.done
}
