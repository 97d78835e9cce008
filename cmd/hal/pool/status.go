// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/hal9999/orchestrator/cmd/hal/cli"
	"github.com/hal9999/orchestrator/cmd/hal/runtime"
)

func statusCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "status",
		Summary: "List every active VM and its slot, status, and task",
		Usage:   "hal pool status [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
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

			vms, err := result.Store.ListAllActiveVMs(ctx)
			if err != nil {
				return fmt.Errorf("hal: listing VMs: %w", err)
			}

			if len(vms) == 0 {
				fmt.Println("no active VMs")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(w, "ID\tSLOT\tSTATUS\tTASK\tIP\n")
			for _, vm := range vms {
				task := vm.TaskID
				if task == "" {
					task = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", vm.ID, vm.Slot, vm.Status, task, vm.IP)
			}
			return w.Flush()
		},
	}
}
