package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/metrics"
	"github.com/cryguy/tickrun/internal/worlddata"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestPool(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	p := NewPool(testConfig(), opts...)
	t.Cleanup(p.Shutdown)
	return p
}

func TestEnsureReusesContext(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	a, err := p.Ensure(ctx, "t1", worlddata.Empty(), 1)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	b, err := p.Ensure(ctx, "t1", worlddata.Empty(), 1)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if a != b {
		t.Fatal("same version should reuse the context")
	}
	if p.Get("t1") != a {
		t.Fatal("Get should return the live context")
	}
}

func TestEnsureRebuildsOnVersionChange(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	old, err := p.Ensure(ctx, "t1", worlddata.Empty(), 1)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	fresh, err := p.Ensure(ctx, "t1", worlddata.Empty(), 2)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if fresh == old || fresh.Version != 2 {
		t.Fatalf("expected a new context at version 2, got %d", fresh.Version)
	}
	if !old.Disposed() {
		t.Fatal("old context should be disposed")
	}
	if p.Len() != 1 {
		t.Fatalf("Len = %d", p.Len())
	}
}

func TestEnsureKeepsNewerContextForStaleVersion(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	live, err := p.Ensure(ctx, "t1", worlddata.Empty(), 3)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	stale, err := p.Ensure(ctx, "t1", worlddata.Empty(), 2)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if stale != live || live.Disposed() {
		t.Fatal("an older version must not replace the live context")
	}
	if stale.Version != 3 {
		t.Fatalf("Version = %d", stale.Version)
	}
}

func TestConcurrentEnsureBuildsOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := newTestPool(t, WithMetrics(m))

	var wg sync.WaitGroup
	got := make([]*Context, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Ensure(context.Background(), "t1", worlddata.Empty(), 3)
			if err != nil {
				t.Errorf("Ensure: %v", err)
				return
			}
			got[i] = c
		}(i)
	}
	wg.Wait()
	for _, c := range got[1:] {
		if c != got[0] {
			t.Fatal("concurrent Ensure returned different contexts")
		}
	}
	if p.Len() != 1 {
		t.Fatalf("Len = %d", p.Len())
	}
}

func TestDisposedContextIsEvicted(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	c, err := p.Ensure(ctx, "t1", worlddata.Empty(), 1)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	c.Dispose()

	if _, err := p.Ensure(ctx, "t1", worlddata.Empty(), 1); !errors.Is(err, core.ErrContextDisposed) {
		t.Fatalf("Ensure = %v, want ErrContextDisposed", err)
	}
	if p.Get("t1") != nil {
		t.Fatal("disposed context still listed")
	}
	again, err := p.Ensure(ctx, "t1", worlddata.Empty(), 1)
	if err != nil || again == c {
		t.Fatalf("retry should build a fresh context: %v", err)
	}
}

func TestEvict(t *testing.T) {
	p := newTestPool(t)
	c, err := p.Ensure(context.Background(), "t1", worlddata.Empty(), 1)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !p.Evict("t1", ReasonViolation) {
		t.Fatal("Evict should dispose the context")
	}
	if !c.Disposed() || p.Get("t1") != nil {
		t.Fatal("context should be gone")
	}
	if p.Evict("t1", ReasonViolation) {
		t.Fatal("second Evict should be a no-op")
	}
}

func TestEvictAsyncDetachesImmediately(t *testing.T) {
	p := newTestPool(t)
	c, err := p.Ensure(context.Background(), "t1", worlddata.Empty(), 1)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	p.EvictAsync(c, ReasonTimeout)
	if p.Get("t1") != nil {
		t.Fatal("context should be detached synchronously")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !c.Disposed() {
		if time.Now().After(deadline) {
			t.Fatal("context was never disposed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweepDisposesIdle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	p := newTestPool(t, WithClock(clock.Now))
	ctx := context.Background()
	if _, err := p.Ensure(ctx, "idle", worlddata.Empty(), 1); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := p.Ensure(ctx, "busy", worlddata.Empty(), 1); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	clock.Advance(2 * time.Minute)

	if n := p.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if p.Get("idle") != nil || p.Get("busy") == nil {
		t.Fatal("wrong context swept")
	}
}

func TestContextsListing(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		if _, err := p.Ensure(ctx, id, worlddata.Empty(), 4); err != nil {
			t.Fatalf("Ensure: %v", err)
		}
	}
	list := p.Contexts()
	if len(list) != 2 || list[0].TenantID != "a" || list[1].Version != 4 {
		t.Fatalf("Contexts = %+v", list)
	}
}

func TestStartAndShutdown(t *testing.T) {
	p := NewPool(testConfig())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c, err := p.Ensure(context.Background(), "t1", worlddata.Empty(), 1)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	p.Shutdown()
	if !c.Disposed() || p.Len() != 0 {
		t.Fatal("Shutdown should dispose every context")
	}
}
