// Process CPU-time accounting stub for non-unix targets.

//go:build !unix

package loom_internal

import "fmt"

var errCpuTimeUnsupported = fmt.Errorf("process CPU time accounting is not supported on this platform")

func GetMyCpuTime() (float64, error) {
	return 0, errCpuTimeUnsupported
}

type cpuTimeSample struct{}

func (c *cpuTimeSample) snap() error  { return errCpuTimeUnsupported }
func (c *cpuTimeSample) percent() float64 { return 0 }
