// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool is the VM pool manager: slot selection, provisioning,
// warm-pool reuse, idle/stale/orphan reaping, and provider-truth
// reconciliation. It is the only component that calls into a
// provider.Provider; every caller above it talks to store.VM rows.
//
// Slots are tried in the order they appear in the loaded slots
// document — "priority" is the slice position, not a separate field,
// since the configuration format never names one explicitly. Ties
// (equal eligibility) preserve that configured order.
package pool
