package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	if err := (<-ch).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ContextCreated()
	m.ContextDisposed("idle")
	m.RunFinished("timeout", time.Second, 10)
	if New(nil) != nil {
		t.Fatal("New(nil) should return nil")
	}
}

func TestContextLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ContextCreated()
	m.ContextCreated()
	m.ContextDisposed("idle")

	if got := value(t, m.ContextsLive); got != 1 {
		t.Fatalf("live = %v, want 1", got)
	}
	if got := value(t, m.ContextsCreated); got != 2 {
		t.Fatalf("created = %v, want 2", got)
	}
	if got := value(t, m.ContextsDisposed.WithLabelValues("idle")); got != 1 {
		t.Fatalf("disposed{idle} = %v, want 1", got)
	}
}

func TestRunFinished(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RunFinished("", 10*time.Millisecond, 3)
	m.RunFinished("security", time.Millisecond, 0)

	if got := value(t, m.Runs.WithLabelValues("ok")); got != 1 {
		t.Fatalf("runs{ok} = %v, want 1", got)
	}
	if got := value(t, m.Violations); got != 1 {
		t.Fatalf("violations = %v, want 1", got)
	}
}
