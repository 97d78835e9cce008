// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifactstore persists the small set of files the wrapper
// protocol pulls back from a task's VM (diff.patch, plan.md) as
// single compressed, content-hashed blobs under the data root's
// artifacts/ directory. It is a lean per-task blob store, not a
// content-addressed chunked container: task artifacts are small,
// written once, and read back whole.
package artifactstore
