// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Hal is the operator CLI for hal9999: it talks to the same SQLite
// store and orchestrator wiring as hal9999d, so an operator can
// enqueue a task, run one inline, or inspect and reconcile the VM
// pool without going through the daemon's socket or HTTP API — there
// isn't one. Every subcommand reads or writes the shared database
// directly.
package main

import (
	"os"

	"github.com/hal9999/orchestrator/cmd/hal/cli"
	"github.com/hal9999/orchestrator/cmd/hal/pool"
	"github.com/hal9999/orchestrator/cmd/hal/task"
	"github.com/hal9999/orchestrator/lib/process"
)

func main() {
	root := &cli.Command{
		Name:    "hal",
		Summary: "Operate the hal9999 agent orchestrator",
		Subcommands: []*cli.Command{
			task.Command(),
			pool.Command(),
		},
	}

	if err := root.Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
