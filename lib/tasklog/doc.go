// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tasklog implements the two on-disk artifacts the
// orchestrator writes for every task: an append-only text log
// (logs/<taskId>.log) and an append-only JSONL event stream
// (events/<taskId>.jsonl). Both are single-writer, owned exclusively
// by the task's executor for the task's entire lifetime.
//
// On task_end, both files are gzip-compressed in place and their
// finalized contents are content-hashed (BLAKE3, domain-separated)
// so later integrity checks don't need to re-read live files.
package tasklog
