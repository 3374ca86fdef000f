package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var loopTicks int

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Advance the game clock and run every active tenant each interval",
	RunE:  runLoop,
}

func init() {
	loopCmd.Flags().IntVar(&loopTicks, "ticks", 0, "stop after this many ticks (0 runs until interrupted)")
}

func runLoop(cmd *cobra.Command, _ []string) error {
	c, err := initComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.runner.Start(); err != nil {
		return err
	}

	if addr := c.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle(c.cfg.Metrics.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("tickrun: metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Printf("tickrun: serving metrics on %s%s", addr, c.cfg.Metrics.Path)
	}

	ticker := time.NewTicker(c.cfg.Loop.Interval)
	defer ticker.Stop()
	for n := 0; loopTicks == 0 || n < loopTicks; n++ {
		if err := tickOnce(ctx, c); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			log.Printf("tickrun: shutting down")
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func tickOnce(ctx context.Context, c *components) error {
	now, err := c.store.AdvanceGameTime(ctx)
	if err != nil {
		return err
	}
	ids, err := c.store.ActiveTenants(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	results := c.runner.RunAll(ctx, ids, c.cfg.Loop.Concurrency)
	failed := 0
	for _, res := range results {
		if res.Status != "done" {
			failed++
		}
	}
	log.Printf("tickrun: tick %d ran %d tenants (%d failed) in %s", now, len(ids), failed, time.Since(start).Round(time.Millisecond))
	return nil
}
