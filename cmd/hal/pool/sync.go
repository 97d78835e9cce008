// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/hal9999/orchestrator/cmd/hal/cli"
	"github.com/hal9999/orchestrator/cmd/hal/runtime"
)

func syncCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "sync",
		Summary: "Run one reconcile pass outside the daemon's poll loop",
		Usage:   "hal pool sync [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("sync", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to hal9999.yaml (defaults to $HAL_CONFIG)")
			return fs
		},
		Run: func(args []string) error {
			ctx := context.Background()
			result, cleanup, err := runtime.Connect(ctx, runtime.ConfigFlags{Path: configPath})
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := result.Pool.Reconcile(ctx)
			if err != nil {
				return fmt.Errorf("hal: reconciling pool: %w", err)
			}

			fmt.Printf("reconciled: %d updated, %d destroyed\n", report.Updated, report.Destroyed)
			return nil
		},
	}
}
