//go:build !linux

package loom_internal

import "fmt"

// toEpollMask has no non-Linux meaning; kept so iomanager.go compiles
// everywhere, but newPoller's error means it is never actually called.
func toEpollMask(armed uint32) uint32 { return armed }

func newPoller() (poller, error) {
	return nil, fmt.Errorf("edge-triggered readiness polling is only implemented for linux")
}

func newWakePipe() (int, int, error) {
	return 0, 0, fmt.Errorf("self-pipe wakeup is only implemented for linux")
}

func writeWake(fd int) {}

func drainWake(fd int) {}

func closeFd(fd int) {}
