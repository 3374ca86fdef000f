//go:build !linux

package cpu

import "time"

// ThreadTime falls back to the monotonic clock where no per-thread CPU
// clock is available.
func ThreadTime() time.Duration {
	return monotonic()
}
