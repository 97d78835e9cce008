// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service collects the startup scaffolding shared by
// hal9999's binaries: structured logging, signal-driven shutdown, and
// the Bootstrap sequence that turns a loaded [config.Config] into a
// fully wired orchestrator.
//
// hal9999 is a single daemon per host talking to its own SQLite file;
// there is no peer fleet to register with or discover, so this
// package is deliberately narrow compared to a multi-service
// federation's bootstrap layer.
package service
