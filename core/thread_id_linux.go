//go:build linux

package core

import "golang.org/x/sys/unix"

// currentThreadID returns the kernel id of the calling OS thread.
func currentThreadID() int64 {
	return int64(unix.Gettid())
}
