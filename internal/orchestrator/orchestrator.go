// Package orchestrator drives one tenant tick from loading its data to
// committing the outcome, under a wall-clock watchdog.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cryguy/tickrun/internal/compiler"
	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/cpu"
	"github.com/cryguy/tickrun/internal/metrics"
	"github.com/cryguy/tickrun/internal/sandbox"
	"github.com/cryguy/tickrun/internal/sandboxapi"
	"github.com/cryguy/tickrun/internal/worlddata"
)

const tracerName = "github.com/cryguy/tickrun/internal/orchestrator"

// abortGrace bounds how long the watchdog waits for an interrupted run to
// unwind and report the CPU it used.
const abortGrace = time.Second

// Deps are the collaborators an Orchestrator talks to.
type Deps struct {
	Data     core.DataSource
	Persist  core.Persister
	Notify   core.Notifier    // optional
	World    core.WorldSource // optional; an empty world is used when nil
	Pool     *sandbox.Pool
	Compiler *compiler.Cache
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
}

// Orchestrator runs ticks.
type Orchestrator struct {
	cfg  core.EngineConfig
	deps Deps

	worldMu sync.Mutex
	world   *worlddata.World

	locks sync.Map // tenant id -> *sync.Mutex

	// observe, when set, is called with every finished Run.
	observe atomic.Pointer[func(*Run)]
}

// New returns an orchestrator. Pool and Compiler are created when nil.
func New(cfg core.EngineConfig, deps Deps) *Orchestrator {
	cfg = cfg.WithDefaults()
	if deps.Compiler == nil {
		deps.Compiler = compiler.New()
	}
	if deps.Pool == nil {
		deps.Pool = sandbox.NewPool(cfg, sandbox.WithCompiler(deps.Compiler), sandbox.WithMetrics(deps.Metrics))
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Pool returns the context pool.
func (o *Orchestrator) Pool() *sandbox.Pool { return o.deps.Pool }

// Observe registers fn to receive every finished Run.
// It is safe to call while runs are in flight.
func (o *Orchestrator) Observe(fn func(*Run)) {
	if fn == nil {
		o.observe.Store(nil)
		return
	}
	o.observe.Store(&fn)
}

// Run executes one tick for req.TenantID. It always returns a result;
// failures are reported through its Status, Error, Kind and Err fields.
func (o *Orchestrator) Run(ctx context.Context, req core.RunRequest) *core.RunResult {
	start := time.Now()
	run, tctx := newRun(ctx, o.deps.Tracer, uuid.NewString(), req.TenantID)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.cfg.WatchdogTimeout()
	}

	done := make(chan *core.RunResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := &core.HostFatal{Op: "running tick", Err: fmt.Errorf("panic: %v", r)}
				run.fail(err)
				done <- failed(run, err)
			}
		}()
		done <- o.execute(tctx, run, req, start)
	}()

	watchdog := time.NewTimer(timeout)
	defer watchdog.Stop()

	var res *core.RunResult
	select {
	case res = <-done:
	case <-watchdog.C:
		res = o.onWatchdog(run, done, timeout, nil)
	case <-ctx.Done():
		res = o.onWatchdog(run, done, timeout, ctx.Err())
	}

	run.end()
	o.deps.Metrics.RunFinished(string(res.Kind), time.Since(start), res.UsedTime)
	if fn := o.observe.Load(); fn != nil {
		(*fn)(run)
	}
	return res
}

// onWatchdog aborts the run. A run already committing is waited for; its
// result stands. A run interrupted while executing or collecting is given
// abortGrace to unwind so the CPU it used is charged and reported.
func (o *Orchestrator) onWatchdog(run *Run, done <-chan *core.RunResult, timeout time.Duration, cause error) *core.RunResult {
	stage, c, ok := run.abort()
	if !ok {
		return <-done
	}
	o.deps.Metrics.Watchdog()
	log.Printf("tickrun: watchdog fired for tenant %s in stage %s after %s", run.TenantID, stage, timeout)

	var err error
	interrupted := false
	switch stage {
	case StageExecuting, StageCollecting:
		err = &core.TimeoutError{Hard: true}
		if c != nil {
			c.Abort()
			o.deps.Pool.EvictAsync(c, sandbox.ReasonTimeout)
			interrupted = true
		}
	default:
		err = core.ErrAborted
	}
	if cause != nil {
		err = fmt.Errorf("%w: %v", core.ErrAborted, cause)
	}
	run.fail(err)
	res := failed(run, err)
	if interrupted {
		grace := time.NewTimer(abortGrace)
		select {
		case charged := <-done:
			res.UsedTime = charged.UsedTime
			res.UsedDirtyTime = charged.UsedDirtyTime
			res.Bucket = charged.Bucket
			res.Metered = charged.Metered
			res.Memory = charged.Memory
			res.Console.Log = append(res.Console.Log, charged.Console.Log...)
		case <-grace.C:
			log.Printf("tickrun: tenant %s did not unwind within %s of the watchdog", run.TenantID, abortGrace)
		}
		grace.Stop()
	}
	if errors.Is(err, core.ErrTimeout) {
		o.notify(run.TenantID, core.CPUNotice{Failed: true, Memory: memoryLen(res.Memory.Data)})
	}
	return res
}

func (o *Orchestrator) lock(tenantID string) func() {
	v, _ := o.locks.LoadOrStore(tenantID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (o *Orchestrator) loadWorld(ctx context.Context) (*worlddata.World, error) {
	o.worldMu.Lock()
	defer o.worldMu.Unlock()
	if o.world != nil {
		return o.world, nil
	}
	if o.deps.World == nil {
		o.world = worlddata.Empty()
		return o.world, nil
	}
	blob, err := o.deps.World.LoadWorld(ctx)
	if err != nil {
		return nil, &core.HostFatal{Op: "loading world data", Err: err}
	}
	w, err := worlddata.Decode(blob)
	if err != nil {
		return nil, &core.HostFatal{Op: "loading world data", Err: err}
	}
	o.world = w
	return w, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, req core.RunRequest, start time.Time) *core.RunResult {
	fail := func(err error) *core.RunResult {
		run.fail(err)
		return failed(run, err)
	}

	// Loading
	if err := run.advance(StageLoading); err != nil {
		return fail(err)
	}
	world, err := o.loadWorld(ctx)
	if err != nil {
		return fail(err)
	}
	td := req.Snapshot
	if td == nil {
		td, err = o.deps.Data.LoadTick(ctx, req.TenantID, req.RoomScope)
		if errors.Is(err, core.ErrNoLiveObjects) {
			if derr := o.deps.Persist.Deactivate(ctx, req.TenantID); derr != nil {
				log.Printf("tickrun: deactivating tenant %s: %v", req.TenantID, derr)
			}
			return fail(err)
		}
		if err != nil {
			return fail(&core.HostFatal{Op: "loading tick data", Err: err})
		}
	}
	if td.Tenant.SkipTicksPenalty > 0 {
		if err := o.deps.Persist.ConsumeSkipPenalty(ctx, req.TenantID); err != nil {
			log.Printf("tickrun: consuming skip penalty of tenant %s: %v", req.TenantID, err)
		}
		return fail(core.ErrBlocked)
	}
	budget := cpu.NewBudget(td.Tenant, o.cfg)

	unlock := o.lock(req.TenantID)
	defer unlock()

	// ContextReady
	if err := run.advance(StageContextReady); err != nil {
		return fail(err)
	}
	version := td.Code.Version
	c, err := o.deps.Pool.Ensure(ctx, req.TenantID, world, version)
	if errors.Is(err, core.ErrContextDisposed) {
		c, err = o.deps.Pool.Ensure(ctx, req.TenantID, world, version)
	}
	if err != nil {
		return fail(err)
	}
	modules := o.deps.Compiler.Compile(req.TenantID, version, td.Code.Modules)
	failedModules := 0
	for _, m := range modules {
		if m.Err != nil {
			failedModules++
		}
	}
	o.deps.Metrics.CompileFailed(failedModules)
	if err := c.Install(version, modules); err != nil {
		o.evictOnFatal(c, err)
		return fail(err)
	}
	run.setContext(c)

	// Executing
	if err := run.advance(StageExecuting); err != nil {
		return fail(err)
	}
	info := sandboxapi.CPUInfo{Limit: -1, TickLimit: -1, Bucket: budget.Bucket}
	var soft time.Duration
	if budget.Metered() {
		info.Limit = budget.Allotment
		info.TickLimit = budget.TickLimit()
		soft = cpu.SoftTimeout(budget.TickLimit())
	}
	if err := c.Begin(sandboxapi.NewTickInput(td, info)); err != nil {
		o.evictOnFatal(c, err)
		return fail(err)
	}
	outcome, runErr := c.Run(soft)
	if runErr != nil {
		return o.failExecution(ctx, run, c, budget, td, o.spentSoFar(outcome, c), runErr, start)
	}
	hardTimeout := &core.TimeoutError{Hard: true}

	// Collecting
	if err := run.advance(StageCollecting); err != nil {
		if run.isAborted() {
			return o.failExecution(ctx, run, c, budget, td, o.spentSoFar(outcome, c), hardTimeout, start)
		}
		return fail(err)
	}
	fin, err := c.Finish()
	if err != nil {
		if run.isAborted() {
			return o.failExecution(ctx, run, c, budget, td, spent{usedTime: cpu.UsedTime(outcome.Sandbox, 0)}, hardTimeout, start)
		}
		if errors.Is(err, core.ErrSecurity) {
			log.Printf("tickrun: security violation by tenant %s: %v", req.TenantID, err)
			o.deps.Pool.EvictContext(c, sandbox.ReasonViolation)
		} else {
			o.evictOnFatal(c, err)
		}
		res := fail(err)
		res.Console.Log = append(res.Console.Log, c.Logs()...)
		return res
	}
	res := core.NewRunResult(run.ID, req.TenantID)
	res.Metered = budget.Metered()
	assemble(res, td, fin)
	res.UsedTime = cpu.UsedTime(outcome.Sandbox, fin.IntentCPU)

	// Committing
	if err := run.advance(StageCommitting); err != nil {
		if run.isAborted() {
			return o.failExecution(ctx, run, c, budget, td, spent{usedTime: res.UsedTime, logs: fin.Logs}, hardTimeout, start)
		}
		return fail(err)
	}
	res.Bucket = budget.Settle(res.UsedTime)
	res.UsedDirtyTime = cpu.UsedDirtyTime(time.Since(start))
	if err := o.deps.Persist.Commit(ctx, res); err != nil {
		return fail(&core.HostFatal{Op: "committing tick", Err: err})
	}
	o.notify(req.TenantID, core.CPUNotice{CPU: res.UsedTime, Memory: memoryLen(res.Memory.Data)})
	if err := run.advance(StageDone); err != nil {
		return fail(err)
	}
	return res
}

// spent is what a tick consumed before it was cut short.
type spent struct {
	usedTime int
	logs     []string
}

func (o *Orchestrator) spentSoFar(outcome sandbox.RunOutcome, c *sandbox.Context) spent {
	return spent{usedTime: cpu.UsedTime(outcome.Sandbox, c.IntentCPU()), logs: c.Logs()}
}

// failExecution handles a run cut short inside the sandbox. The context
// is always discarded. CPU limit, halt and watchdog timeouts still charge
// the time used; only the charge is committed.
func (o *Orchestrator) failExecution(ctx context.Context, run *Run, c *sandbox.Context, budget cpu.Budget, td *core.TickData, used spent, err error, start time.Time) *core.RunResult {
	reason := sandbox.ReasonFailure
	switch {
	case errors.Is(err, core.ErrTimeout):
		reason = sandbox.ReasonTimeout
	case errors.Is(err, core.ErrHalted):
		reason = sandbox.ReasonHalted
	}
	o.deps.Pool.EvictContext(c, reason)

	run.fail(err)
	res := failed(run, err)
	res.Console.Log = append(res.Console.Log, used.logs...)
	res.Metered = budget.Metered()
	res.UsedTime = used.usedTime
	res.UsedDirtyTime = cpu.UsedDirtyTime(time.Since(start))
	res.Memory.Data = td.Memory

	if reason == sandbox.ReasonFailure {
		return res
	}
	res.Bucket = budget.Settle(res.UsedTime)

	// The watchdog has already answered the caller, whose context may be
	// gone, and publishes the notice itself.
	aborted := run.isAborted()
	if aborted {
		ctx = context.WithoutCancel(ctx)
	}
	if cerr := o.deps.Persist.Commit(ctx, res); cerr != nil {
		log.Printf("tickrun: charging tenant %s after %v: %v", run.TenantID, err, cerr)
	}
	if aborted {
		return res
	}
	o.notify(run.TenantID, core.CPUNotice{
		CPU:    res.UsedTime,
		Failed: reason == sandbox.ReasonTimeout,
		Memory: memoryLen(td.Memory),
	})
	return res
}

func (o *Orchestrator) evictOnFatal(c *sandbox.Context, err error) {
	if core.KindOf(err) == core.KindHostFatal {
		o.deps.Pool.EvictContext(c, sandbox.ReasonFailure)
	}
}

func (o *Orchestrator) notify(tenantID string, n core.CPUNotice) {
	if o.deps.Notify == nil {
		return
	}
	payload, err := n.MarshalJSON()
	if err != nil {
		return
	}
	if err := o.deps.Notify.Publish(context.Background(), core.CPUChannel(tenantID), payload); err != nil {
		log.Printf("tickrun: publishing cpu notice for tenant %s: %v", tenantID, err)
	}
}

// Halt stops the tenant's running tick, if any, and discards its context.
func (o *Orchestrator) Halt(tenantID string) bool {
	c := o.deps.Pool.Get(tenantID)
	if c == nil {
		return false
	}
	c.Halt()
	o.deps.Pool.EvictAsync(c, sandbox.ReasonHalted)
	return true
}
