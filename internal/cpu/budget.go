// Package cpu meters tenant execution time and settles CPU budgets.
package cpu

import (
	"math"
	"time"

	"github.com/cryguy/tickrun/internal/core"
)

// Budget is a tenant's CPU allowance for one tick.
type Budget struct {
	Bucket    int // banked credit, always within [0, BucketCap]
	Allotment int // credit added per tick; 0 means unmetered
	BucketCap int
	TickCap   int // hard per-tick ceiling
}

// NewBudget builds the budget for t under cfg.
func NewBudget(t core.Tenant, cfg core.EngineConfig) Budget {
	b := Budget{
		Bucket:    t.Bucket,
		Allotment: t.CPU,
		BucketCap: cfg.CPUBucketSize,
		TickCap:   cfg.CPUMaxPerTick,
	}
	b.Bucket = clamp(b.Bucket, 0, b.BucketCap)
	return b
}

// Metered reports whether CPU limits apply.
func (b Budget) Metered() bool { return b.Allotment > 0 }

// TickLimit is the CPU time in milliseconds the tick may use. Unmetered
// budgets return math.MaxInt.
func (b Budget) TickLimit() int {
	if !b.Metered() {
		return math.MaxInt
	}
	limit := b.Bucket + b.Allotment
	if b.TickCap > 0 && limit > b.TickCap {
		limit = b.TickCap
	}
	return limit
}

// Settle returns the bucket after a tick that used usedTime milliseconds.
func (b Budget) Settle(usedTime int) int {
	if !b.Metered() {
		return b.Bucket
	}
	return clamp(b.Bucket+b.Allotment-usedTime, 0, b.BucketCap)
}

// SoftTimeout is the CPU limit timer for a tick limit: the limit plus a
// small grace, never below 30ms.
func SoftTimeout(limitMs int) time.Duration {
	d := time.Duration(limitMs)*time.Millisecond + 5*time.Millisecond
	if d < 30*time.Millisecond {
		d = 30 * time.Millisecond
	}
	return d
}

// UsedTime is the charged CPU in whole milliseconds.
func UsedTime(sandbox time.Duration, intentsCPU float64) int {
	return int(math.Ceil(ms(sandbox) + intentsCPU))
}

// UsedDirtyTime is the wall time of the whole invocation in whole
// milliseconds.
func UsedDirtyTime(wall time.Duration) int {
	return int(math.Ceil(ms(wall)))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi >= lo && v > hi {
		return hi
	}
	return v
}
