// Package tickrun runs untrusted tenant scripts once per game tick, each
// tenant in its own long-lived, hardened QuickJS context.
package tickrun

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/tickrun/internal/compiler"
	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/metrics"
	"github.com/cryguy/tickrun/internal/orchestrator"
	"github.com/cryguy/tickrun/internal/sandbox"
)

// Options are the collaborators of a Runner. Data and Persist are
// required.
type Options struct {
	Data       DataSource
	Persist    Persister
	Notify     Notifier    // optional
	World      WorldSource // optional; rooms have no terrain when nil
	PathFinder PathFinder  // optional; PathFinder.search throws when nil

	// Registry receives the runner's metrics. Nil disables them.
	Registry *prometheus.Registry
	// Tracer receives a span per run and stage. Defaults to the global
	// OpenTelemetry provider.
	Tracer trace.Tracer
}

// Runner executes ticks for many tenants.
type Runner struct {
	orch    *orchestrator.Orchestrator
	pool    *sandbox.Pool
	metrics *metrics.Metrics

	closeOnce sync.Once
}

// New returns a Runner. Call Start to enable the idle sweep and Close to
// release every context.
func New(cfg EngineConfig, opts Options) (*Runner, error) {
	if opts.Data == nil || opts.Persist == nil {
		return nil, errors.New("tickrun: data source and persister are required")
	}
	cfg = cfg.WithDefaults()
	m := metrics.New(opts.Registry)
	cc := compiler.New()
	pool := sandbox.NewPool(cfg,
		sandbox.WithCompiler(cc),
		sandbox.WithMetrics(m),
		sandbox.WithPathFinder(opts.PathFinder),
	)
	orch := orchestrator.New(cfg, orchestrator.Deps{
		Data:     opts.Data,
		Persist:  opts.Persist,
		Notify:   opts.Notify,
		World:    opts.World,
		Pool:     pool,
		Compiler: cc,
		Metrics:  m,
		Tracer:   opts.Tracer,
	})
	return &Runner{orch: orch, pool: pool, metrics: m}, nil
}

// Run executes one tick. It always returns a result.
func (r *Runner) Run(ctx context.Context, req RunRequest) *RunResult {
	return r.orch.Run(ctx, req)
}

// RunTick executes one tick of tenantID with data from the data source.
func (r *Runner) RunTick(ctx context.Context, tenantID string) *RunResult {
	return r.orch.Run(ctx, core.RunRequest{TenantID: tenantID})
}

// RunAll executes one tick for each tenant, at most concurrency at a time,
// and returns the results in tenant order.
func (r *Runner) RunAll(ctx context.Context, tenantIDs []string, concurrency int) []*RunResult {
	results := make([]*RunResult, len(tenantIDs))
	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, id := range tenantIDs {
		g.Go(func() error {
			results[i] = r.orch.Run(ctx, core.RunRequest{TenantID: id})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Observe registers fn to receive every finished run with its stage
// history.
func (r *Runner) Observe(fn func(*Run)) { r.orch.Observe(fn) }

// Halt stops the tenant's running tick, if any, and discards its context.
func (r *Runner) Halt(tenantID string) bool { return r.orch.Halt(tenantID) }

// Evict discards the tenant's context so the next tick starts fresh.
func (r *Runner) Evict(tenantID string) bool {
	return r.pool.Evict(tenantID, sandbox.ReasonDisposed)
}

// Contexts lists the live tenant contexts.
func (r *Runner) Contexts() []ContextInfo { return r.pool.Contexts() }

// Start schedules the idle context sweep.
func (r *Runner) Start() error { return r.pool.Start() }

// Close stops the sweep and disposes every context.
func (r *Runner) Close() {
	r.closeOnce.Do(r.pool.Shutdown)
}
