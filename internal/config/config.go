// Package config loads tickrun configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cryguy/tickrun/internal/core"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for the tickrun command.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Loop    LoopConfig    `yaml:"loop"`
}

// EngineConfig mirrors core.EngineConfig. Zero fields take the engine
// defaults.
type EngineConfig struct {
	BaseHeapMB            int           `yaml:"base_heap_mb,omitempty"`
	CPUMaxPerTick         int           `yaml:"cpu_max_per_tick,omitempty"`
	CPUBucketSize         int           `yaml:"cpu_bucket_size,omitempty"`
	MainLoopResetInterval time.Duration `yaml:"main_loop_reset_interval,omitempty"`
	IntentCPU             float64       `yaml:"intent_cpu,omitempty"`
	FreeIntents           []string      `yaml:"free_intents,omitempty"`
	IdleTimeout           time.Duration `yaml:"idle_timeout,omitempty"`
	SweepInterval         time.Duration `yaml:"sweep_interval,omitempty"`
	MaxLogEntries         int           `yaml:"max_log_entries,omitempty"`
	MaxLogMessageSize     int           `yaml:"max_log_message_size,omitempty"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	Path        string `yaml:"path"`
	JournalMode string `yaml:"journal_mode,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables
// it.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
	Path string `yaml:"path,omitempty"`
}

// LoopConfig configures the tick loop.
type LoopConfig struct {
	Interval    time.Duration `yaml:"interval,omitempty"`
	Concurrency int           `yaml:"concurrency,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	d := core.DefaultEngineConfig()
	return &Config{
		Engine: EngineConfig{
			BaseHeapMB:            d.BaseHeapMB,
			CPUMaxPerTick:         d.CPUMaxPerTick,
			CPUBucketSize:         d.CPUBucketSize,
			MainLoopResetInterval: d.MainLoopResetInterval,
			IntentCPU:             d.IntentCPU,
			FreeIntents:           d.FreeIntents,
			IdleTimeout:           d.IdleTimeout,
			SweepInterval:         d.SweepInterval,
			MaxLogEntries:         d.MaxLogEntries,
			MaxLogMessageSize:     d.MaxLogMessageSize,
		},
		Storage: StorageConfig{Path: "tickrun.db", JournalMode: "wal"},
		Metrics: MetricsConfig{Path: "/metrics"},
		Loop:    LoopConfig{Interval: time.Second, Concurrency: 4},
	}
}

// Load reads the YAML file at path over the defaults, then applies TICKRUN_*
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TICKRUN_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("TICKRUN_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("TICKRUN_FREE_INTENTS"); v != "" {
		c.Engine.FreeIntents = strings.Split(v, ",")
	}

	ints := map[string]*int{
		"TICKRUN_BASE_HEAP_MB":     &c.Engine.BaseHeapMB,
		"TICKRUN_CPU_MAX_PER_TICK": &c.Engine.CPUMaxPerTick,
		"TICKRUN_CPU_BUCKET_SIZE":  &c.Engine.CPUBucketSize,
		"TICKRUN_MAX_LOG_ENTRIES":  &c.Engine.MaxLogEntries,
		"TICKRUN_CONCURRENCY":      &c.Loop.Concurrency,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"TICKRUN_MAIN_LOOP_RESET_INTERVAL": &c.Engine.MainLoopResetInterval,
		"TICKRUN_IDLE_TIMEOUT":             &c.Engine.IdleTimeout,
		"TICKRUN_SWEEP_INTERVAL":           &c.Engine.SweepInterval,
		"TICKRUN_LOOP_INTERVAL":            &c.Loop.Interval,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("TICKRUN_INTENT_CPU"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TICKRUN_INTENT_CPU: %w", err)
		}
		c.Engine.IntentCPU = f
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.BaseHeapMB < 0 {
		errs = append(errs, errors.New("engine.base_heap_mb must not be negative"))
	}
	if c.Engine.CPUMaxPerTick < 0 {
		errs = append(errs, errors.New("engine.cpu_max_per_tick must not be negative"))
	}
	if c.Engine.CPUBucketSize < 0 {
		errs = append(errs, errors.New("engine.cpu_bucket_size must not be negative"))
	}
	if c.Engine.IntentCPU < 0 {
		errs = append(errs, errors.New("engine.intent_cpu must not be negative"))
	}
	if c.Engine.MainLoopResetInterval < 0 || c.Engine.IdleTimeout < 0 || c.Engine.SweepInterval < 0 {
		errs = append(errs, errors.New("engine durations must not be negative"))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Loop.Concurrency < 1 {
		errs = append(errs, errors.New("loop.concurrency must be at least 1"))
	}
	if c.Loop.Interval <= 0 {
		errs = append(errs, errors.New("loop.interval must be positive"))
	}
	return errors.Join(errs...)
}

// EngineConfig converts the engine section, filling unset fields from the
// engine defaults.
func (c *Config) EngineConfig() core.EngineConfig {
	e := c.Engine
	return core.EngineConfig{
		BaseHeapMB:            e.BaseHeapMB,
		CPUMaxPerTick:         e.CPUMaxPerTick,
		CPUBucketSize:         e.CPUBucketSize,
		MainLoopResetInterval: e.MainLoopResetInterval,
		IntentCPU:             e.IntentCPU,
		FreeIntents:           e.FreeIntents,
		IdleTimeout:           e.IdleTimeout,
		SweepInterval:         e.SweepInterval,
		MaxLogEntries:         e.MaxLogEntries,
		MaxLogMessageSize:     e.MaxLogMessageSize,
	}.WithDefaults()
}
