// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime connects a hal subcommand to the same wiring
// cmd/hal9999d runs, so every command operates against the daemon's
// own store, pool, and orchestrator rather than a second copy of the
// wiring logic.
package runtime

import (
	"context"
	"fmt"

	"github.com/hal9999/orchestrator/lib/config"
	"github.com/hal9999/orchestrator/lib/service"
)

// ConfigFlags are the flags every hal subcommand accepts to locate
// its config file, mirroring [config.Load]'s HAL_CONFIG fallback.
type ConfigFlags struct {
	Path string
}

// Load resolves a config file from an explicit --config flag, falling
// back to HAL_CONFIG when the flag is unset.
func (f ConfigFlags) Load() (*config.Config, error) {
	if f.Path != "" {
		return config.LoadFile(f.Path)
	}
	return config.Load()
}

// Connect loads configuration and bootstraps the full service,
// returning the result and a cleanup func the caller must defer.
func Connect(ctx context.Context, flags ConfigFlags) (*service.Result, func(), error) {
	cfg, err := flags.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("hal: %w", err)
	}
	result, cleanup, err := service.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("hal: %w", err)
	}
	return result, cleanup, nil
}
