package loom_internal

import (
	"fmt"
	"os"
)

var (
	// Available CPU count, used as the Scheduler's default worker count.
	AvailableCPUCount = GetAvailableCPUCount()
	// Clock ticks per second and its reciprocal, used as a sanity bound for
	// TimerManager's clock rollover detection.
	Clktck    int64
	ClktckSec float64
)

func init() {
	clktck, err := GetSysClktck()
	if err != nil {
		fmt.Fprintf(os.Stderr, "GetSysClktck(): %v\n", err)
		return
	}
	Clktck = clktck
	ClktckSec = float64(1) / float64(Clktck)
}
