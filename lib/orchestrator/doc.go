// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator ties the pool, task manager, wrapper protocol,
// credential oracle, and artifact store together into the single
// entry point that runs a task end to end: StartTask launches it on
// its own goroutine, RunTask runs it and blocks until it finishes, and
// Recover settles every task a previous process left in flight: a
// running task whose VM is still live is resumed, the rest are
// force-failed.
//
// Nothing here is re-raised past a single task's boundary — a failure
// anywhere in setup, poll, or collect force-fails that task and
// releases its VM. This is the fire-and-forget contract: the caller
// of StartTask gets a task id back immediately and learns the outcome
// by polling the store, not by an error return.
package orchestrator
