//go:build !linux

package loom_internal

import "sync/atomic"

// GetTid and SetThreadName have no portable non-Linux implementation in this
// module; Thread still works (it still pins the goroutine to an OS thread),
// it just reports a synthetic id and skips naming. Cross-platform pollers
// are out of scope (see Non-goals), so this is only ever exercised by
// generic Scheduler/Coroutine tests on non-Linux dev machines.
var syntheticTidCounter int32

func GetTid() int {
	return int(atomic.AddInt32(&syntheticTidCounter, 1))
}

func SetThreadName(name string) {}
