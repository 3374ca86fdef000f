package cpu

import "time"

// Clock reads an execution-time counter.
type Clock func() time.Duration

// Meter measures one invocation: wall time from creation, sandbox time
// between Start and Stop.
type Meter struct {
	clock     Clock
	now       func() time.Time
	wallStart time.Time
	cpuStart  time.Duration
	sandbox   time.Duration
	running   bool
}

// NewMeter starts the wall clock. A nil clock uses ThreadTime.
func NewMeter(clock Clock) *Meter {
	if clock == nil {
		clock = ThreadTime
	}
	return &Meter{clock: clock, now: time.Now, wallStart: time.Now()}
}

// Start begins a sandbox interval. It must be called on the thread that
// executes the sandbox.
func (m *Meter) Start() {
	m.cpuStart = m.clock()
	m.running = true
}

// Stop ends the current sandbox interval.
func (m *Meter) Stop() {
	if !m.running {
		return
	}
	m.sandbox += m.clock() - m.cpuStart
	m.running = false
}

// Sandbox is the sandbox time accumulated so far, including a running
// interval.
func (m *Meter) Sandbox() time.Duration {
	if m.running {
		return m.sandbox + m.clock() - m.cpuStart
	}
	return m.sandbox
}

// Wall is the time since the meter was created.
func (m *Meter) Wall() time.Duration {
	return m.now().Sub(m.wallStart)
}
