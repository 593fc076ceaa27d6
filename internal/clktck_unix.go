// Clock-tick resolution, used to sanity-bound TimerManager's rollover
// detection against whatever granularity the OS clock actually offers.

//go:build unix

package loom_internal

import (
	"time"

	"github.com/tklauser/go-sysconf"
)

// GetSysClktck returns the kernel's CLK_TCK (clock ticks per second), the raw
// value os_info.go derives Clktck/ClktckSec from.
func GetSysClktck() (int64, error) {
	return sysconf.Sysconf(sysconf.SC_CLK_TCK)
}

// ClockTickResolution reports the duration of a single CLK_TCK, the finest
// interval TimerManager can trust the wall clock to resolve. It exists so
// RolloverThreshold (an hour) can be asserted, in tests, to be comfortably
// larger than this floor rather than merely assumed.
func ClockTickResolution() (time.Duration, error) {
	clktck, err := GetSysClktck()
	if err != nil {
		return 0, err
	}
	if clktck <= 0 {
		return 0, nil
	}
	return time.Second / time.Duration(clktck), nil
}
