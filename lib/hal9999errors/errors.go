// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hal9999errors defines the small, typed error taxonomy shared
// across the store, provider, pool, wrapper, and orchestrator
// packages. Each kind wraps an underlying cause (if any) so
// errors.Is/errors.As work through the usual %w chain, following the
// teacher's practice of small typed errors over one generic string.
package hal9999errors

import "fmt"

// ConfigError indicates missing or invalid configuration discovered at
// startup. Fatal — the process should not proceed.
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// ProviderError wraps a failure reported by a Provider backend.
type ProviderError struct {
	Provider string
	Op       string
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// ProviderNotFound indicates the provider has no record of the
// requested instance. Distinguished from ProviderError because callers
// (destroyVm, reconcile) treat "already gone" as success, not failure.
type ProviderNotFound struct {
	Provider   string
	InstanceID string
}

func (e *ProviderNotFound) Error() string {
	return fmt.Sprintf("provider %s: instance %s not found", e.Provider, e.InstanceID)
}

// CapacityError indicates every configured slot is at maxPoolSize.
type CapacityError struct {
	TotalMax int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("at capacity (total max: %d)", e.TotalMax)
}

// TimeoutError indicates an SSH operation, wait-for-ready, or agent
// wall-clock budget was exceeded.
type TimeoutError struct {
	Op      string
	Elapsed string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}

// SetupError indicates a non-timeout failure during clone, install, or
// branch setup.
type SetupError struct {
	Phase string
	Cause error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed in phase %s: %v", e.Phase, e.Cause)
}

func (e *SetupError) Unwrap() error { return e.Cause }

// RemoteLaunchError indicates the wrapper upload or detached nohup
// launch failed.
type RemoteLaunchError struct {
	Cause error
}

func (e *RemoteLaunchError) Error() string {
	return fmt.Sprintf("remote launch failed: %v", e.Cause)
}

func (e *RemoteLaunchError) Unwrap() error { return e.Cause }

// StaleTaskError indicates a task's heartbeat gap exceeded
// STALE_TASK_MAX.
type StaleTaskError struct {
	TaskID string
	Gap    string
}

func (e *StaleTaskError) Error() string {
	return fmt.Sprintf("task %s stale: no heartbeat for %s", e.TaskID, e.Gap)
}

// RowNotFound indicates the store expected a row that no longer
// exists. Benign inside destroy paths, fatal elsewhere.
type RowNotFound struct {
	Table string
	ID    string
}

func (e *RowNotFound) Error() string {
	return fmt.Sprintf("%s row %s not found", e.Table, e.ID)
}
