// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "testing"

func TestResultSummaryPrefixesPlanTitle(t *testing.T) {
	got := resultSummary(executionResult{DiffStat: "3 files changed", PlanTitle: "add retry backoff"})
	want := "add retry backoff: 3 files changed"
	if got != want {
		t.Errorf("resultSummary() = %q, want %q", got, want)
	}
}

func TestResultSummaryFallsBackToDiffStatWithoutPlanTitle(t *testing.T) {
	got := resultSummary(executionResult{DiffStat: "exit code 0"})
	if got != "exit code 0" {
		t.Errorf("resultSummary() = %q, want %q", got, "exit code 0")
	}
}
