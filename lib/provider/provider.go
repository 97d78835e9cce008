// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the contract the VM pool manager uses to
// talk to compute backends, and ships two implementations: Local (OS
// processes reachable over loopback SSH, used for single-host
// operation and integration tests) and a Fake used by unit tests that
// want injectable latency and failure.
package provider

import (
	"context"
	"time"
)

// InstanceStatus is the provider-reported lifecycle state of an
// instance, distinct from the store's VMStatus: a provider only knows
// about "does this exist and is it booted", not about task binding.
type InstanceStatus string

const (
	StatusPending InstanceStatus = "pending"
	StatusActive  InstanceStatus = "active"
	StatusStopped InstanceStatus = "stopped"
)

// Instance is what a provider reports back about one compute
// instance.
type Instance struct {
	ID      string
	IP      string // may be empty until the instance finishes booting
	SSHPort int    // 0 means "use the provider default"
	Status  InstanceStatus
}

// CreateOptions configures CreateInstance.
type CreateOptions struct {
	Region     string
	Plan       string
	SnapshotID string
	Label      string
	SSHKeyIDs  []string
}

// Provider is the surface the pool manager consumes. It never touches
// a cloud API directly — every backend (local process pool, a real
// cloud SDK) implements this contract (spec.md §4.B).
//
// GetInstance, ListInstances, and DestroyInstance return
// hal9999errors.ProviderNotFound when the provider has no record of
// the requested instance; the pool treats that as "already gone", not
// as failure.
type Provider interface {
	// CreateInstance starts provisioning a new instance. It may
	// return before IP assignment completes — callers needing a
	// reachable address should follow up with WaitForReady.
	CreateInstance(ctx context.Context, opts CreateOptions) (Instance, error)

	// WaitForReady blocks until the instance reports active with an
	// IP (Local reports the loopback address), or the timeout elapses.
	WaitForReady(ctx context.Context, id string, timeout time.Duration) (Instance, error)

	GetInstance(ctx context.Context, id string) (Instance, error)
	ListInstances(ctx context.Context, labelFilter string) ([]Instance, error)
	DestroyInstance(ctx context.Context, id string) error
	StartInstance(ctx context.Context, id string) error
	StopInstance(ctx context.Context, id string) error
}
