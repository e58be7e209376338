package conn

import (
	"sync"
	"unsafe"

	"github.com/dxarrhenius/iomultiplex"
	"golang.org/x/sys/unix"
)

// WatchCallback receives one decoded inotify event for a watched path.
type WatchCallback func(pathname string, mask uint32, cookie uint32, name string)

// InotifyConn is a file/directory change-notification connection.
// Grounded on original_source/iomultiplex/FileNotifier.{hpp,cpp}: a
// single inotify descriptor fans out decoded events to per-watch
// callbacks keyed by watch descriptor.
type InotifyConn struct {
	*FDConn

	mu       sync.Mutex
	watchers map[int32]watchEntry

	buf [64 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)]byte
}

type watchEntry struct {
	pathname string
	cb       WatchCallback
}

func NewInotifyConn(h *iomultiplex.Handler) (*InotifyConn, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &InotifyConn{
		FDConn:   NewFDConn(h, fd, false),
		watchers: make(map[int32]watchEntry),
	}, nil
}

// AddWatch starts watching pathname for the given inotify event mask.
func (n *InotifyConn) AddWatch(pathname string, mask uint32, cb WatchCallback) error {
	wd, err := unix.InotifyAddWatch(n.Handle(), pathname, mask)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.watchers[int32(wd)] = watchEntry{pathname: pathname, cb: cb}
	n.mu.Unlock()
	return nil
}

// RemoveWatch stops watching pathname.
func (n *InotifyConn) RemoveWatch(pathname string) {
	n.mu.Lock()
	var wd int32 = -1
	for k, v := range n.watchers {
		if v.pathname == pathname {
			wd = k
			break
		}
	}
	if wd != -1 {
		delete(n.watchers, wd)
	}
	n.mu.Unlock()
	if wd != -1 {
		unix.InotifyRmWatch(n.Handle(), uint32(wd))
	}
}

// Start submits the first read of the kernel event buffer and resubmits
// itself after every delivery, so the connection continuously decodes
// and dispatches events for as long as it stays open.
func (n *InotifyConn) Start() error {
	return n.readOnce()
}

func (n *InotifyConn) readOnce() error {
	return n.Handler().Read(n, n.buf[:], 0, n.onRead)
}

func (n *InotifyConn) onRead(res iomultiplex.Result) {
	if res.Err != nil || res.N == 0 {
		return
	}
	n.decode(n.buf[:res.N])
	n.readOnce()
}

func (n *InotifyConn) decode(b []byte) {
	for len(b) >= unix.SizeofInotifyEvent {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&b[0]))
		nameLen := int(raw.Len)
		total := unix.SizeofInotifyEvent + nameLen
		if total > len(b) {
			return
		}

		var name string
		if nameLen > 0 {
			nameBytes := b[unix.SizeofInotifyEvent:total]
			end := 0
			for end < len(nameBytes) && nameBytes[end] != 0 {
				end++
			}
			name = string(nameBytes[:end])
		}

		n.mu.Lock()
		entry, ok := n.watchers[raw.Wd]
		n.mu.Unlock()
		if ok && entry.cb != nil {
			entry.cb(entry.pathname, raw.Mask, raw.Cookie, name)
		}

		b = b[total:]
	}
}
