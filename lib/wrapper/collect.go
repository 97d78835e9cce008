// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hal9999/orchestrator/lib/remoteshell"
)

// CollectedResult is everything the collect phase pulls back from a
// finished (or timed-out) task.
type CollectedResult struct {
	ExitCode  int
	RawDone   string // the done file's raw content, preserved even when non-numeric
	DiffStat  string // result/diff-stat.txt, or "exit code N" if absent
	DiffPatch []byte // result/diff.patch, may be empty
	PlanMD    []byte // .hal/plan.md, nil if the task never produced one
	PlanTitle string // PlanMD's first heading, "" if there is none
	PRUrl     string // result/pr-url.txt, empty if PR creation was disabled or failed
}

// Collect reads the sentinel and pulls back the small set of result
// files the wrapper writes. Every read is best-effort except the
// sentinel itself: a missing result file degrades the corresponding
// field rather than failing collection, since the wrapper's own
// writes to result/ are themselves best-effort (spec.md §4.G).
func Collect(ctx context.Context, client *remoteshell.Client, workDir string) (CollectedResult, error) {
	doneResult, err := client.Run(ctx, fmt.Sprintf("cat %s/.hal/done 2>/dev/null", shQuote(workDir)))
	if err != nil {
		return CollectedResult{}, fmt.Errorf("wrapper: reading done sentinel: %w", err)
	}
	raw := strings.TrimSpace(doneResult.Stdout)

	result := CollectedResult{RawDone: raw, ExitCode: parseSentinelExitCode(raw)}

	if stat, err := client.Run(ctx, fmt.Sprintf("cat %s/.hal/result/diff-stat.txt 2>/dev/null", shQuote(workDir))); err == nil {
		result.DiffStat = strings.TrimSpace(stat.Stdout)
	}
	if result.DiffStat == "" {
		result.DiffStat = fmt.Sprintf("exit code %d", result.ExitCode)
	}

	if patch, err := client.Run(ctx, fmt.Sprintf("cat %s/.hal/result/diff.patch 2>/dev/null", shQuote(workDir))); err == nil {
		result.DiffPatch = []byte(patch.Stdout)
	}

	if plan, err := client.Run(ctx, fmt.Sprintf("cat %s/.hal/plan.md 2>/dev/null", shQuote(workDir))); err == nil && strings.TrimSpace(plan.Stdout) != "" {
		result.PlanMD = []byte(plan.Stdout)
		result.PlanTitle = planSummary(result.PlanMD)
	}

	if pr, err := client.Run(ctx, fmt.Sprintf("cat %s/.hal/result/pr-url.txt 2>/dev/null", shQuote(workDir))); err == nil {
		result.PRUrl = strings.TrimSpace(pr.Stdout)
	}

	return result, nil
}

// parseSentinelExitCode parses the done file's content. Non-numeric
// content — including the literal "timeout" the poll phase's
// fallback writes — never becomes a fabricated numeric exit code
// beyond the generic failure value 1; the raw text is preserved
// separately in CollectedResult.RawDone for a human to read.
func parseSentinelExitCode(raw string) int {
	if code, err := strconv.Atoi(raw); err == nil {
		return code
	}
	return 1
}
