// Default worker-pool sizing for Scheduler/IOManager on non-Linux targets.

//go:build !linux

package loom_internal

import "runtime"

// GetAvailableCPUCount has no CPU-affinity API to consult outside Linux, so
// every worker pool on these platforms defaults to the full core count.
func GetAvailableCPUCount() int {
	return runtime.NumCPU()
}
