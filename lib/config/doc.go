// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the hal9999 daemon's two configuration
// documents.
//
// The process Config is loaded from a single YAML file specified by
// either the HAL_CONFIG environment variable (via [Load]) or a
// --config flag (via [LoadFile]). There are no fallbacks and no
// automatic file search — deterministic, auditable configuration with
// no hidden overrides.
//
// Provider slots — the backends a pool can provision instances from —
// live in a separate JSONC document loaded with [LoadSlots]. JSONC
// lets an operator comment a slot out temporarily without deleting
// it, a workflow the process config does not need but a frequently
// toggled provider list benefits from. Each slot's fields are then
// overridden by the HAL_<PROV>_* environment variables from spec.md
// §6, applied last so the environment always wins.
//
// Key exports:
//
//   - [Config] -- process configuration: data dir, poll interval, timeouts
//   - [Slot] -- one provider backend, loaded via [LoadSlots]
//   - [Load] and [LoadFile] -- the two entry points for loading Config
//
// This package depends on no other hal9999 packages.
package config
