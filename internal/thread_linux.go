//go:build linux

package loom_internal

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func GetTid() int {
	return unix.Gettid()
}

func SetThreadName(name string) {
	b, err := unix.BytePtrFromString(name)
	if err != nil {
		return
	}
	// Best effort; a failure here is not fatal to the thread's operation.
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(b)), 0, 0, 0)
}
