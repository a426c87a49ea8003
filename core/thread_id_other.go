//go:build !linux

package core

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentThreadID falls back to the calling goroutine's id off linux. A
// driver stays locked to its OS thread, so both name the same owner.
func currentThreadID() int64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}
