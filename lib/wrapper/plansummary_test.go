// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import "testing"

func TestPlanSummaryReturnsFirstHeading(t *testing.T) {
	got := planSummary([]byte("# Add retry backoff\n\nSome prose about the plan.\n\n## Steps\n1. do it\n"))
	if got != "Add retry backoff" {
		t.Errorf("planSummary() = %q, want %q", got, "Add retry backoff")
	}
}

func TestPlanSummaryEmptyWithNoHeading(t *testing.T) {
	got := planSummary([]byte("Just a paragraph, no heading at all.\n"))
	if got != "" {
		t.Errorf("planSummary() = %q, want empty", got)
	}
}

func TestPlanSummaryEmptyInput(t *testing.T) {
	if got := planSummary(nil); got != "" {
		t.Errorf("planSummary(nil) = %q, want empty", got)
	}
}
