package iomultiplex

import "container/list"

// fdState is the per-descriptor state of spec.md §3: a descriptor handle,
// two FIFO queues (read, write), and the currently-subscribed readiness
// mask.
//
// Grounded on the teacher's fdDesc (watcher.go), generalized from a
// net.Conn-keyed map to a Connection-keyed one and carrying its own
// subscribed-mask bookkeeping instead of inferring it ad hoc.
type fdState struct {
	fd int

	readers list.List // of *operation
	writers list.List // of *operation

	subscribed eventMask // mask currently registered with the poller

	conn Connection
}

func newFdState(fd int, conn Connection) *fdState {
	return &fdState{fd: fd, conn: conn}
}

func (d *fdState) queue(dir Direction) *list.List {
	if dir == DirRead {
		return &d.readers
	}
	return &d.writers
}

// wantMask computes the readiness mask spec.md §3 requires: READABLE iff
// the read queue is non-empty, WRITABLE iff the write queue is non-empty.
func (d *fdState) wantMask() eventMask {
	var m eventMask
	if d.readers.Len() > 0 {
		m |= eventRead
	}
	if d.writers.Len() > 0 {
		m |= eventWrite
	}
	return m
}

func (d *fdState) empty() bool {
	return d.readers.Len() == 0 && d.writers.Len() == 0
}

// pushBack enqueues op at the tail of its direction's queue, preserving
// submission order (FIFO per (descriptor, direction), spec.md §3/§5).
func (d *fdState) pushBack(op *operation) {
	op.elem = d.queue(op.dir).PushBack(op)
}

// remove detaches op from its queue. No-op if op isn't queued.
func (d *fdState) remove(op *operation) {
	if op.elem == nil {
		return
	}
	d.queue(op.dir).Remove(op.elem)
	op.elem = nil
}

func (d *fdState) front(dir Direction) *operation {
	e := d.queue(dir).Front()
	if e == nil {
		return nil
	}
	return e.Value.(*operation)
}
