// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/hal9999/orchestrator/cmd/hal/cli"
	"github.com/hal9999/orchestrator/cmd/hal/runtime"
)

func startCommand() *cli.Command {
	var configPath string
	var repoURL, taskContext string

	return &cli.Command{
		Name:    "start",
		Summary: "Enqueue a task and return immediately",
		Usage:   "hal task start --repo <url> --context <text> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to hal9999.yaml (defaults to $HAL_CONFIG)")
			fs.StringVar(&repoURL, "repo", "", "git repository URL to clone (required)")
			fs.StringVar(&taskContext, "context", "", "natural-language task description (required)")
			return fs
		},
		Run: func(args []string) error {
			if repoURL == "" {
				return fmt.Errorf("--repo is required")
			}
			if taskContext == "" {
				return fmt.Errorf("--context is required")
			}

			ctx := context.Background()
			result, cleanup, err := runtime.Connect(ctx, runtime.ConfigFlags{Path: configPath})
			if err != nil {
				return err
			}
			defer cleanup()

			created, err := result.Orchestrator.StartTask(ctx, repoURL, taskContext)
			if err != nil {
				return fmt.Errorf("hal: starting task: %w", err)
			}

			fmt.Printf("started task %s (%s)\n", created.ID, created.Slug)
			return nil
		},
	}
}
