// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Hal9999d is the hal9999 daemon: it owns the VM pool and every
// in-flight agent task for one host.
//
// On startup:
//  1. Loads configuration (--config, or $HAL_CONFIG).
//  2. Bootstraps the store, credential oracle, provider registry, VM
//     pool, task manager, and orchestrator.
//  3. Recovers from a prior crash: force-fails tasks stuck mid-setup,
//     force-fails running tasks whose VM is gone, and resumes polling
//     running tasks whose VM is still alive.
//  4. Enters a poll loop reconciling the VM pool every PollInterval.
//
// The daemon exposes no socket or HTTP API of its own; the hal CLI
// operates on the same SQLite store directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/hal9999/orchestrator/lib/config"
	"github.com/hal9999/orchestrator/lib/process"
	"github.com/hal9999/orchestrator/lib/service"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to hal9999.yaml (defaults to $HAL_CONFIG)")
	flag.Parse()

	ctx, stop := service.SignalContext()
	defer stop()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	result, cleanup, err := service.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrapping: %w", err)
	}
	defer cleanup()

	logger := result.Logger
	logger.Info("hal9999d starting", "data_dir", cfg.DataDir, "poll_interval", cfg.PollInterval)

	resumed, err := result.Orchestrator.Recover(ctx)
	if err != nil {
		logger.Error("crash recovery failed", "error", err)
		// Continue running — the poll loop will keep retrying reconcile.
	} else {
		logger.Info("crash recovery complete", "resumed_tasks", resumed)
	}

	go pollLoop(ctx, result, cfg.PollInterval)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func pollLoop(ctx context.Context, result *service.Result, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := result.Pool.Reconcile(ctx)
			if err != nil {
				result.Logger.Error("reconcile failed", "error", err)
				continue
			}
			if report.Updated > 0 || report.Destroyed > 0 {
				result.Logger.Info("reconciled pool", "updated", report.Updated, "destroyed", report.Destroyed)
			}
		}
	}
}
