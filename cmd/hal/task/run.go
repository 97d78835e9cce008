// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/hal9999/orchestrator/cmd/hal/cli"
	"github.com/hal9999/orchestrator/cmd/hal/runtime"
	"github.com/hal9999/orchestrator/lib/store"
)

func runCommand() *cli.Command {
	var configPath string
	var repoURL, taskContext string

	return &cli.Command{
		Name:    "run",
		Summary: "Run a task to completion and print its result",
		Usage:   "hal task run --repo <url> --context <text> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
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

			finished, err := result.Orchestrator.RunTask(ctx, repoURL, taskContext)
			if err != nil {
				return fmt.Errorf("hal: running task: %w", err)
			}

			fmt.Printf("task %s: %s\n", finished.ID, finished.Status)
			if finished.Branch != "" {
				fmt.Printf("  branch: %s\n", finished.Branch)
			}
			if finished.PRUrl != "" {
				fmt.Printf("  pull request: %s\n", finished.PRUrl)
			}
			if finished.Result != "" {
				fmt.Printf("  result: %s\n", finished.Result)
			}

			if finished.Status == store.TaskFailed {
				os.Exit(1)
			}
			return nil
		},
	}
}
