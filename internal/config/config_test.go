package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickrun.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := cfg.EngineConfig()
	if e.BaseHeapMB != 256 || e.CPUMaxPerTick != 500 || e.CPUBucketSize != 10000 {
		t.Fatalf("engine = %+v", e)
	}
	if e.MainLoopResetInterval != 5*time.Second || e.IntentCPU != 0.2 {
		t.Fatalf("engine = %+v", e)
	}
	if cfg.Storage.Path != "tickrun.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
engine:
  base_heap_mb: 128
  main_loop_reset_interval: 10s
  free_intents: [say]
storage:
  path: /tmp/x.db
loop:
  interval: 500ms
  concurrency: 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := cfg.EngineConfig()
	if e.BaseHeapMB != 128 || e.MainLoopResetInterval != 10*time.Second {
		t.Fatalf("engine = %+v", e)
	}
	if len(e.FreeIntents) != 1 || e.FreeIntents[0] != "say" {
		t.Fatalf("free intents = %v", e.FreeIntents)
	}
	if e.CPUMaxPerTick != 500 {
		t.Fatalf("unset fields should keep defaults, got %d", e.CPUMaxPerTick)
	}
	if cfg.Loop.Interval != 500*time.Millisecond || cfg.Loop.Concurrency != 8 {
		t.Fatalf("loop = %+v", cfg.Loop)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TICKRUN_DB_PATH", "/data/env.db")
	t.Setenv("TICKRUN_CPU_MAX_PER_TICK", "250")
	t.Setenv("TICKRUN_IDLE_TIMEOUT", "90s")
	t.Setenv("TICKRUN_INTENT_CPU", "0.5")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := cfg.EngineConfig()
	if cfg.Storage.Path != "/data/env.db" || e.CPUMaxPerTick != 250 || e.IdleTimeout != 90*time.Second || e.IntentCPU != 0.5 {
		t.Fatalf("cfg = %+v, engine = %+v", cfg, e)
	}
}

func TestIntentChargingCanBeDisabled(t *testing.T) {
	t.Setenv("TICKRUN_INTENT_CPU", "0")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if e := cfg.EngineConfig(); e.IntentCPU != 0 {
		t.Fatalf("intent cpu = %v", e.IntentCPU)
	}
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("TICKRUN_BASE_HEAP_MB", "lots")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "TICKRUN_BASE_HEAP_MB") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
engine:
  cpu_bucket_size: -1
loop:
  concurrency: 0
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load should fail validation")
	}
	for _, want := range []string{"cpu_bucket_size", "concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err = %v, want mention of %s", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load should fail for a missing file")
	}
}
