// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package task implements the "hal task" command group: starting a
// task in the background and running one to completion inline.
package task

import (
	"github.com/hal9999/orchestrator/cmd/hal/cli"
)

// Command returns the "task" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "task",
		Summary: "Start and run agent tasks",
		Subcommands: []*cli.Command{
			startCommand(),
			runCommand(),
		},
	}
}
