package core

import "time"

// EngineConfig holds runtime configuration for the tick runner.
type EngineConfig struct {
	BaseHeapMB            int           // per-context heap allowance before world data is added
	CPUMaxPerTick         int           // hard per-tick CPU cap in milliseconds
	CPUBucketSize         int           // upper bound of the banked CPU bucket
	MainLoopResetInterval time.Duration // wall-clock ceiling for one invocation (floored at 5s)
	IntentCPU             float64       // synthetic cost of one recorded intent in milliseconds; 0 disables charging, negative selects the default
	FreeIntents           []string      // intent names that are never charged
	IdleTimeout           time.Duration // contexts unused for longer are swept
	SweepInterval         time.Duration // how often the idle sweep runs
	MaxLogEntries         int           // console lines kept per tick
	MaxLogMessageSize     int           // bytes kept per console line
}

// MinWatchdogTimeout is the floor applied to the wall-clock ceiling.
const MinWatchdogTimeout = 5 * time.Second

// DefaultEngineConfig returns the configuration used when nothing is set.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BaseHeapMB:            256,
		CPUMaxPerTick:         500,
		CPUBucketSize:         10000,
		MainLoopResetInterval: 5 * time.Second,
		IntentCPU:             0.2,
		FreeIntents:           []string{"say", "pull"},
		IdleTimeout:           3 * time.Minute,
		SweepInterval:         60 * time.Second,
		MaxLogEntries:         1000,
		MaxLogMessageSize:     4096,
	}
}

// WithDefaults fills zero fields from DefaultEngineConfig. IntentCPU is
// the exception: zero is kept and only a negative value is replaced.
func (c EngineConfig) WithDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.BaseHeapMB <= 0 {
		c.BaseHeapMB = d.BaseHeapMB
	}
	if c.CPUMaxPerTick <= 0 {
		c.CPUMaxPerTick = d.CPUMaxPerTick
	}
	if c.CPUBucketSize <= 0 {
		c.CPUBucketSize = d.CPUBucketSize
	}
	if c.MainLoopResetInterval <= 0 {
		c.MainLoopResetInterval = d.MainLoopResetInterval
	}
	if c.IntentCPU < 0 {
		c.IntentCPU = d.IntentCPU
	}
	if c.FreeIntents == nil {
		c.FreeIntents = d.FreeIntents
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.MaxLogEntries <= 0 {
		c.MaxLogEntries = d.MaxLogEntries
	}
	if c.MaxLogMessageSize <= 0 {
		c.MaxLogMessageSize = d.MaxLogMessageSize
	}
	return c
}

// WatchdogTimeout is the wall-clock ceiling for a whole invocation.
func (c EngineConfig) WatchdogTimeout() time.Duration {
	if c.MainLoopResetInterval < MinWatchdogTimeout {
		return MinWatchdogTimeout
	}
	return c.MainLoopResetInterval
}

// HeapLimit returns the heap size for a context sharing worldSize bytes of
// world data.
func (c EngineConfig) HeapLimit(worldSize int) uintptr {
	return uintptr(c.BaseHeapMB)*1024*1024 + uintptr(worldSize)
}
