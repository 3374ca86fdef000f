package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cryguy/tickrun"
	"github.com/cryguy/tickrun/internal/config"
	"github.com/cryguy/tickrun/internal/store/sqlite"
)

// components are the pieces every subcommand that runs ticks needs.
type components struct {
	cfg      *config.Config
	store    *sqlite.Store
	runner   *tickrun.Runner
	registry *prometheus.Registry
}

func openStore() (*config.Config, *sqlite.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.Open(sqlite.Config{Path: cfg.Storage.Path, JournalMode: cfg.Storage.JournalMode})
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func initComponents() (*components, error) {
	cfg, store, err := openStore()
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runner, err := tickrun.New(cfg.EngineConfig(), tickrun.Options{
		Data:     store,
		Persist:  store,
		Notify:   store,
		World:    store,
		Registry: reg,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &components{cfg: cfg, store: store, runner: runner, registry: reg}, nil
}

func (c *components) Close() {
	c.runner.Close()
	c.store.Close()
}
