// Package sandbox owns tenant contexts: one QuickJS VM per tenant, with the
// tenant surface installed and the shared globals protected, kept alive
// across ticks by a Pool.
package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cryguy/tickrun/internal/compiler"
	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/cpu"
	"github.com/cryguy/tickrun/internal/pathing"
	"github.com/cryguy/tickrun/internal/quickjs"
	"github.com/cryguy/tickrun/internal/sandboxapi"
	"github.com/cryguy/tickrun/internal/security"
	"github.com/cryguy/tickrun/internal/worlddata"
)

// Context is one tenant's isolated execution environment.
type Context struct {
	TenantID  string
	Version   int64
	HeapLimit uintptr
	Created   time.Time

	rt     *quickjs.Runtime
	token  string
	world  *worlddata.World
	finder core.PathFinder
	cfg    core.EngineConfig
	clock  cpu.Clock

	// mu is held for every evaluation and by Dispose around Close.
	mu       sync.Mutex
	ready    atomic.Bool
	disposed atomic.Bool
	halted   atomic.Bool
	aborted  atomic.Bool
	cpuOver  atomic.Bool
	lastUsed atomic.Int64

	violationMu sync.Mutex
	violation   string

	installed int64 // module version defined in the VM, -1 when none
	tick      *tickState
}

// tickState is the Go half of the tick in progress. Only the goroutine
// running the tick touches it.
type tickState struct {
	input   string
	intents *cpu.Intents
	meter   *cpu.Meter
	logs    []string
}

// RunOutcome is what Run reports about the tenant code itself.
type RunOutcome struct {
	Sandbox time.Duration // thread CPU time spent in the VM
	Wall    time.Duration
}

// Finished is the full result of a tick, read after Run.
type Finished struct {
	Collected *sandboxapi.Collected
	Intents   map[string]any
	IntentCPU float64
	Logs      []string
}

// build creates a context with the tenant surface installed and sealed.
func build(tenantID string, version int64, world *worlddata.World, finder core.PathFinder, cfg core.EngineConfig, clock cpu.Clock) (*Context, error) {
	limit := cfg.HeapLimit(world.Size())
	rt, err := quickjs.New(limit)
	if err != nil {
		return nil, &core.HostFatal{Op: "allocating context", Err: fmt.Errorf("%w: %v", core.ErrAllocFailed, err)}
	}
	token, err := security.NewToken()
	if err != nil {
		rt.Close()
		return nil, &core.HostFatal{Op: "allocating context", Err: err}
	}
	c := &Context{
		TenantID:  tenantID,
		Version:   version,
		HeapLimit: limit,
		Created:   time.Now(),
		rt:        rt,
		token:     token,
		world:     world,
		finder:    finder,
		cfg:       cfg,
		clock:     clock,
		installed: -1,
	}
	h := &host{c: c}
	if err := sandboxapi.Install(rt, h); err != nil {
		rt.Close()
		return nil, setupError(err)
	}
	if err := security.Install(rt, h, token); err != nil {
		rt.Close()
		return nil, setupError(err)
	}
	c.ready.Store(true)
	return c, nil
}

func setupError(err error) error {
	if quickjs.IsOutOfMemory(err) {
		return &core.HostFatal{Op: "bootstrapping context", Err: fmt.Errorf("%w: %v", core.ErrAllocFailed, err)}
	}
	return &core.HostFatal{Op: "bootstrapping context", Err: err}
}

// Ready reports whether the context is built and not disposed.
func (c *Context) Ready() bool { return c.ready.Load() && !c.disposed.Load() }

// Disposed reports whether the context has been torn down.
func (c *Context) Disposed() bool { return c.disposed.Load() }

// LastUsed is when the context was last handed out.
func (c *Context) LastUsed() time.Time { return time.Unix(0, c.lastUsed.Load()) }

func (c *Context) touch(now time.Time) { c.lastUsed.Store(now.UnixNano()) }

// Dispose interrupts whatever is running, waits for it to unwind and frees
// the VM. It reports whether this call did the disposal.
func (c *Context) Dispose() bool {
	if !c.disposed.CompareAndSwap(false, true) {
		return false
	}
	c.ready.Store(false)
	c.rt.Interrupt()
	c.mu.Lock()
	c.rt.Close()
	c.mu.Unlock()
	return true
}

// Abort interrupts a running tick on behalf of the watchdog.
func (c *Context) Abort() {
	c.aborted.Store(true)
	c.rt.Interrupt()
}

// Halt stops the running tick at the next interrupt check. The tick
// fails with core.ErrHalted and the context must be discarded.
func (c *Context) Halt() {
	c.halted.Store(true)
	c.rt.Interrupt()
}

// Halted reports whether the context was halted.
func (c *Context) Halted() bool { return c.halted.Load() }

// Violation returns the policy breach recorded during the tick, if any.
func (c *Context) Violation() error {
	c.violationMu.Lock()
	defer c.violationMu.Unlock()
	if c.violation == "" {
		return nil
	}
	return &core.SecurityViolation{Detail: c.violation}
}

func (c *Context) lock() error {
	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		return core.ErrContextDisposed
	}
	return nil
}

// Install defines the tenant's modules unless this version is already in
// the VM. Modules that failed to compile are defined with their error and
// raise it when required.
func (c *Context) Install(version int64, modules []*compiler.Module) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	if c.installed == version {
		return nil
	}
	if err := c.rt.Eval(security.Call(c.token, "reset")); err != nil {
		return &core.HostFatal{Op: "resetting modules", Err: err}
	}
	for _, m := range modules {
		factory, errMsg := "null", ""
		if m.Err != nil {
			errMsg = m.Err.Error()
		} else {
			factory = m.Code
		}
		src := security.Call(c.token, "define", core.JsEscape(m.Name), "("+factory+")", core.JsEscape(errMsg))
		if err := c.rt.Eval(src); err != nil {
			if quickjs.IsOutOfMemory(err) {
				return core.ErrHeapExhausted
			}
			return &core.ScriptError{Module: m.Name, Message: err.Error()}
		}
	}
	c.installed = version
	return nil
}

// Begin prepares a tick: it encodes the input and resets the Go side of
// the tick. Nothing runs in the VM until Run.
func (c *Context) Begin(in *sandboxapi.TickInput) error {
	payload, err := in.Encode()
	if err != nil {
		return err
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	c.halted.Store(false)
	c.aborted.Store(false)
	c.cpuOver.Store(false)
	c.violationMu.Lock()
	c.violation = ""
	c.violationMu.Unlock()
	c.tick = &tickState{
		input:   payload,
		intents: cpu.NewIntents(c.cfg.IntentCPU, c.cfg.FreeIntents),
		meter:   cpu.NewMeter(c.clock),
	}
	return nil
}

// Run starts the tick in the VM, then executes the main loop, console
// commands and pending microtasks on a locked OS thread. Everything it
// evaluates is metered and subject to softLimit, which, when positive,
// interrupts the run once that much wall time has passed. The returned
// error classifies how the run was cut short; exceptions thrown by tenant
// code are not errors here and are reported by Finish.
func (c *Context) Run(softLimit time.Duration) (out RunOutcome, err error) {
	if err := c.lock(); err != nil {
		return out, err
	}
	defer c.mu.Unlock()
	t := c.tick
	if t == nil {
		return out, &core.HostFatal{Op: "running tick", Err: errors.New("no tick in progress")}
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var timer *time.Timer
	if softLimit > 0 {
		timer = time.AfterFunc(softLimit, func() {
			c.cpuOver.Store(true)
			c.rt.Interrupt()
		})
	}

	meter := t.meter
	meter.Start()
	defer func() {
		meter.Stop()
		if timer != nil {
			timer.Stop()
		}
		if r := recover(); r != nil {
			err = &core.HostFatal{Op: "running tick", Err: fmt.Errorf("panic: %v", r)}
		}
		out = RunOutcome{Sandbox: meter.Sandbox(), Wall: meter.Wall()}
	}()

	err = c.rt.Eval(security.Call(c.token, "start", core.JsEscape(t.input)))
	t.input = ""
	if err == nil {
		err = c.rt.Eval(security.Call(c.token, "run"))
	}
	if err == nil {
		c.rt.RunMicrotasks()
		err = c.rt.Eval(security.Call(c.token, "finish"))
	}
	if err == nil && !c.rt.Interrupted() {
		return out, nil
	}
	return out, c.classify(err)
}

// classify maps an evaluation failure to the error the orchestrator
// reports. Interrupt flags take precedence over the error text.
func (c *Context) classify(err error) error {
	switch {
	case c.halted.Load():
		return core.ErrHalted
	case c.aborted.Load():
		return &core.TimeoutError{Hard: true}
	case c.cpuOver.Load():
		return &core.TimeoutError{}
	case c.disposed.Load():
		return core.ErrContextDisposed
	case quickjs.IsOutOfMemory(err):
		return core.ErrHeapExhausted
	case err == nil:
		return &core.HostFatal{Op: "running tick", Err: errors.New("interrupted")}
	}
	return &core.HostFatal{Op: "running tick", Err: err}
}

// Finish collects the tick's outcome and audits the protected globals. The
// Go side of the tick is cleared even on error.
func (c *Context) Finish() (*Finished, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()
	t := c.tick
	c.tick = nil
	if t == nil {
		return nil, &core.HostFatal{Op: "collecting tick", Err: errors.New("no tick in progress")}
	}

	raw, err := c.rt.EvalString(security.Call(c.token, "collect"))
	if err != nil {
		return nil, &core.HostFatal{Op: "collecting tick", Err: err}
	}
	if v := c.Violation(); v != nil {
		return nil, v
	}
	if err := security.Audit(c.rt, c.token); err != nil {
		return nil, err
	}
	collected, err := sandboxapi.DecodeCollected(raw)
	if err != nil {
		return nil, &core.HostFatal{Op: "collecting tick", Err: err}
	}
	return &Finished{
		Collected: collected,
		Intents:   t.intents.Snapshot(),
		IntentCPU: t.intents.CPU(),
		Logs:      t.logs,
	}, nil
}

// Logs returns what the tenant printed in the tick in progress.
func (c *Context) Logs() []string {
	if t := c.tick; t != nil {
		return t.logs
	}
	return nil
}

// IntentCPU is the intent cost recorded so far in the tick in progress.
func (c *Context) IntentCPU() float64 {
	if t := c.tick; t != nil {
		return t.intents.CPU()
	}
	return 0
}

// Eval evaluates host-trusted source in the context. It is used by tests
// and tooling, never with tenant input.
func (c *Context) Eval(js string) (string, error) {
	if err := c.lock(); err != nil {
		return "", err
	}
	defer c.mu.Unlock()
	return c.rt.EvalString(js)
}

// host adapts a Context to sandboxapi.Host and security.Reporter.
type host struct {
	c *Context
}

func (h *host) Log(message string) {
	t := h.c.tick
	if t == nil {
		return
	}
	if h.c.cfg.MaxLogEntries > 0 && len(t.logs) >= h.c.cfg.MaxLogEntries {
		return
	}
	if limit := h.c.cfg.MaxLogMessageSize; limit > 0 && len(message) > limit {
		message = truncateUTF8(message, limit) + "...(truncated)"
	}
	t.logs = append(t.logs, message)
}

func (h *host) Intent(op, id, name, data string, maxLen int) (bool, error) {
	t := h.c.tick
	if t == nil {
		return false, errors.New("intents are only available during a tick")
	}
	raw := json.RawMessage(data)
	switch op {
	case "set":
		t.intents.Set(id, name, raw)
		return true, nil
	case "push":
		return t.intents.Push(name, raw, maxLen), nil
	case "pushByName":
		return t.intents.PushByName(id, name, raw, maxLen), nil
	case "remove":
		return t.intents.Remove(id, name), nil
	}
	return false, fmt.Errorf("unknown intent operation %q", op)
}

func (h *host) CPUUsed() float64 {
	t := h.c.tick
	if t == nil {
		return 0
	}
	return float64(t.meter.Sandbox())/float64(time.Millisecond) + t.intents.CPU()
}

func (h *host) Halt() { h.c.Halt() }

func (h *host) Terrain(room string, x, y int) int {
	return h.c.world.At(room, x, y)
}

func (h *host) FindPath(argsJSON string) (string, error) {
	return pathing.Search(h.c.finder, argsJSON)
}

func (h *host) Violation(detail string) {
	h.c.violationMu.Lock()
	defer h.c.violationMu.Unlock()
	if h.c.violation == "" {
		h.c.violation = detail
	}
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
