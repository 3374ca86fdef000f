package sandbox

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/cryguy/tickrun/internal/compiler"
	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/cpu"
	"github.com/cryguy/tickrun/internal/metrics"
	"github.com/cryguy/tickrun/internal/worlddata"
)

// Eviction reasons, also used as metric labels.
const (
	ReasonVersion   = "version"
	ReasonIdle      = "idle"
	ReasonTimeout   = "timeout"
	ReasonHalted    = "halted"
	ReasonViolation = "violation"
	ReasonFailure   = "failure"
	ReasonDisposed  = "disposed"
	ReasonShutdown  = "shutdown"
)

// Pool keeps at most one live context per tenant.
type Pool struct {
	cfg      core.EngineConfig
	finder   core.PathFinder
	compiler *compiler.Cache
	metrics  *metrics.Metrics
	clock    cpu.Clock
	now      func() time.Time

	mu       sync.Mutex
	contexts map[string]*Context
	builds   singleflight.Group
	sweeper  *cron.Cron
}

// Option configures a Pool.
type Option func(*Pool)

// WithPathFinder binds the finder behind PathFinder.search.
func WithPathFinder(pf core.PathFinder) Option { return func(p *Pool) { p.finder = pf } }

// WithCompiler makes eviction forget the tenant's compiled modules.
func WithCompiler(cc *compiler.Cache) Option { return func(p *Pool) { p.compiler = cc } }

// WithMetrics records pool metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pool) { p.metrics = m } }

// WithClock replaces the wall clock used for idle tracking.
func WithClock(now func() time.Time) Option { return func(p *Pool) { p.now = now } }

// WithCPUClock replaces the execution-time clock of every context.
func WithCPUClock(c cpu.Clock) Option { return func(p *Pool) { p.clock = c } }

// NewPool returns an empty pool.
func NewPool(cfg core.EngineConfig, opts ...Option) *Pool {
	p := &Pool{
		cfg:      cfg.WithDefaults(),
		now:      time.Now,
		contexts: make(map[string]*Context),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ensure returns the tenant's ready context at version, building one when
// there is none or version is newer than the live one. Concurrent calls for the same
// tenant and version share one build. A context found disposed is evicted
// and ErrContextDisposed returned so the caller can retry.
func (p *Pool) Ensure(ctx context.Context, tenantID string, world *worlddata.World, version int64) (*Context, error) {
	p.mu.Lock()
	c := p.contexts[tenantID]
	p.mu.Unlock()

	if c != nil {
		switch {
		case c.Disposed():
			p.EvictContext(c, ReasonDisposed)
			return nil, core.ErrContextDisposed
		case c.Version >= version && c.Ready():
			// A request older than the live context reuses it; only a newer
			// version replaces it.
			c.touch(p.now())
			return c, nil
		case c.Version < version:
			p.EvictContext(c, ReasonVersion)
		}
	}

	key := tenantID + "@" + strconv.FormatInt(version, 10)
	ch := p.builds.DoChan(key, func() (any, error) {
		p.mu.Lock()
		if cur := p.contexts[tenantID]; cur != nil && cur.Version >= version && cur.Ready() {
			p.mu.Unlock()
			return cur, nil
		}
		p.mu.Unlock()

		built, err := build(tenantID, version, world, p.finder, p.cfg, p.clock)
		if err != nil {
			return nil, err
		}
		built.touch(p.now())
		p.metrics.ContextCreated()

		p.mu.Lock()
		old := p.contexts[tenantID]
		p.contexts[tenantID] = built
		p.mu.Unlock()
		if old != nil {
			p.dispose(old, ReasonVersion)
		}
		log.Printf("tickrun: built context for tenant %s version %d (heap limit %d bytes)", tenantID, version, built.HeapLimit)
		return built, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Context), nil
	}
}

// Get returns the tenant's live context, or nil.
func (p *Pool) Get(tenantID string) *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.contexts[tenantID]
	if c == nil || !c.Ready() {
		return nil
	}
	return c
}

// Evict removes and disposes the tenant's context. It reports whether a
// context was disposed.
func (p *Pool) Evict(tenantID, reason string) bool {
	p.mu.Lock()
	c := p.contexts[tenantID]
	delete(p.contexts, tenantID)
	p.mu.Unlock()
	if c == nil {
		return false
	}
	return p.dispose(c, reason)
}

// EvictContext evicts c if it is still the tenant's current context, and
// disposes it either way.
func (p *Pool) EvictContext(c *Context, reason string) bool {
	p.detach(c)
	return p.dispose(c, reason)
}

// EvictAsync removes c from the pool at once and disposes it in the
// background. Dispose waits for a running evaluation to unwind, which the
// caller may not want to block on.
func (p *Pool) EvictAsync(c *Context, reason string) {
	p.detach(c)
	go p.dispose(c, reason)
}

func (p *Pool) detach(c *Context) {
	p.mu.Lock()
	if p.contexts[c.TenantID] == c {
		delete(p.contexts, c.TenantID)
	}
	p.mu.Unlock()
}

func (p *Pool) dispose(c *Context, reason string) bool {
	if !c.Dispose() {
		return false
	}
	p.metrics.ContextDisposed(reason)
	if p.compiler != nil && reason != ReasonVersion {
		p.compiler.Forget(c.TenantID)
	}
	log.Printf("tickrun: disposed context for tenant %s version %d (%s)", c.TenantID, c.Version, reason)
	return true
}

// Sweep disposes every context idle for longer than the idle timeout and
// returns how many it disposed.
func (p *Pool) Sweep() int {
	cutoff := p.now().Add(-p.cfg.IdleTimeout)
	p.mu.Lock()
	var idle []*Context
	for id, c := range p.contexts {
		if c.LastUsed().Before(cutoff) {
			idle = append(idle, c)
			delete(p.contexts, id)
		}
	}
	p.mu.Unlock()

	n := 0
	for _, c := range idle {
		if p.dispose(c, ReasonIdle) {
			n++
		}
	}
	return n
}

// Start runs Sweep every sweep interval until Shutdown.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sweeper != nil {
		return nil
	}
	c := cron.New()
	schedule := fmt.Sprintf("@every %s", p.cfg.SweepInterval)
	if _, err := c.AddFunc(schedule, func() {
		if n := p.Sweep(); n > 0 {
			log.Printf("tickrun: swept %d idle contexts", n)
		}
	}); err != nil {
		return fmt.Errorf("scheduling idle sweep: %w", err)
	}
	c.Start()
	p.sweeper = c
	return nil
}

// Shutdown stops the sweeper and disposes every context.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	sweeper := p.sweeper
	p.sweeper = nil
	all := p.contexts
	p.contexts = make(map[string]*Context)
	p.mu.Unlock()

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	for _, c := range all {
		p.dispose(c, ReasonShutdown)
	}
}

// Info describes one live context.
type Info struct {
	TenantID  string    `json:"tenantId"`
	Version   int64     `json:"version"`
	HeapLimit uintptr   `json:"heapLimit"`
	Created   time.Time `json:"created"`
	LastUsed  time.Time `json:"lastUsed"`
}

// Contexts lists the live contexts ordered by tenant.
func (p *Pool) Contexts() []Info {
	p.mu.Lock()
	out := make([]Info, 0, len(p.contexts))
	for _, c := range p.contexts {
		if !c.Ready() {
			continue
		}
		out = append(out, Info{
			TenantID:  c.TenantID,
			Version:   c.Version,
			HeapLimit: c.HeapLimit,
			Created:   c.Created,
			LastUsed:  c.LastUsed(),
		})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Len is the number of contexts held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}
