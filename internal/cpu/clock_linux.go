//go:build linux

package cpu

import (
	"time"

	"golang.org/x/sys/unix"
)

// ThreadTime returns the CPU time consumed by the calling OS thread. Callers
// lock their goroutine to the thread for the measured interval.
func ThreadTime() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts); err != nil {
		return monotonic()
	}
	return time.Duration(ts.Nano())
}
