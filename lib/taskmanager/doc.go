// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskmanager is the CRUD and lifecycle-transition surface
// over the store's tasks table. It owns slug generation and duplicate
// retry, and gives the orchestrator a narrow, typed API instead of
// direct SQL access.
package taskmanager
