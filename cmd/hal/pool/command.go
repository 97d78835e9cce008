// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool implements the "hal pool" command group: triggering an
// out-of-band reconcile pass and inspecting VM pool state.
package pool

import (
	"github.com/hal9999/orchestrator/cmd/hal/cli"
)

// Command returns the "pool" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "pool",
		Summary: "Inspect and reconcile the VM pool",
		Subcommands: []*cli.Command{
			syncCommand(),
			statusCommand(),
		},
	}
}
