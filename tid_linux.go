//go:build linux

package iomultiplex

import "golang.org/x/sys/unix"

// currentTid returns the calling OS thread's id. Only meaningful for
// goroutines pinned with runtime.LockOSThread; used by Handler.SameThread
// to compare against the reactor's locked thread (spec.md §4.3
// "same_context").
func currentTid() int {
	return unix.Gettid()
}
