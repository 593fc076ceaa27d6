// Default worker-pool sizing for Scheduler/IOManager on Linux.

//go:build linux

package loom_internal

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// availableCPUsLog is deliberately not the package-wide schedulerLog: this
// file is read before any Scheduler exists (os_info.go's init), so it gets
// its own component name.
var availableCPUsLog = NewCompLogger("cpuaffinity")

// GetAvailableCPUCount sizes NewScheduler's default worker count (when
// SchedulerConfig.NumWorkers <= 0) to the calling process's actual CPU
// affinity mask rather than the box's total core count, so a Scheduler
// confined to a cgroup/taskset slice doesn't oversubscribe it with idle
// workers contending for a handful of cores.
func GetAvailableCPUCount() int {
	cpuSet := unix.CPUSet{}
	if err := unix.SchedGetaffinity(0, &cpuSet); err != nil {
		availableCPUsLog.Warnf("SchedGetaffinity: %v, falling back to runtime.NumCPU()", err)
		return runtime.NumCPU()
	}
	count := 0
	for _, cpuMask := range cpuSet {
		for cpuMask != 0 {
			count++
			cpuMask &= cpuMask - 1
		}
	}
	if count < 1 || count > runtime.NumCPU() {
		return runtime.NumCPU()
	}
	return count
}
