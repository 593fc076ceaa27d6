// Process CPU-time accounting, used by Scheduler to report how much of the
// host CPU its worker pool is actually burning.

//go:build unix

package loom_internal

import (
	"time"

	"golang.org/x/sys/unix"
)

// GetCpuTime returns cumulative user+system CPU seconds for who (one of
// unix.RUSAGE_SELF/RUSAGE_CHILDREN/RUSAGE_THREAD).
func GetCpuTime(who int) (float64, error) {
	rusage := &unix.Rusage{}
	if err := unix.Getrusage(who, rusage); err != nil {
		return 0, err
	}
	return float64(rusage.Utime.Sec+rusage.Stime.Sec) +
		float64(rusage.Utime.Usec+rusage.Stime.Usec)/1e6, nil
}

// GetMyCpuTime returns this process's own cumulative CPU seconds.
func GetMyCpuTime() (float64, error) {
	return GetCpuTime(unix.RUSAGE_SELF)
}

// cpuTimeSample is a double-buffered CPU-time snapshot, the same
// flip-a-two-slot-index shape ProcessInternalMetrics uses to turn a
// cumulative counter into a rate between two SnapStats() calls.
type cpuTimeSample struct {
	cpuTime [2]float64
	ts      [2]time.Time
	idx     int
}

// snap records a fresh CPU-time reading, discarding the older of the two
// slots.
func (c *cpuTimeSample) snap() error {
	cpuTime, err := GetMyCpuTime()
	if err != nil {
		return err
	}
	c.cpuTime[c.idx] = cpuTime
	c.ts[c.idx] = time.Now()
	c.idx = 1 - c.idx
	return nil
}

// percent returns the average CPU utilization, as a percentage of one core,
// between the two most recent snap() calls. Returns 0 before a second
// reading has been taken.
func (c *cpuTimeSample) percent() float64 {
	prev, cur := c.idx, 1-c.idx // snap() already flipped idx past cur
	if c.ts[cur].IsZero() || c.ts[prev].IsZero() {
		return 0
	}
	dt := c.ts[cur].Sub(c.ts[prev]).Seconds()
	if dt <= 0 {
		return 0
	}
	return (c.cpuTime[cur] - c.cpuTime[prev]) / dt * 100
}
