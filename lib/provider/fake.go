// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hal9999/orchestrator/lib/hal9999errors"
)

// Fake is an in-memory Provider for unit tests. CreateErr/WaitErr let
// a test inject a failure on the next call to that method without
// needing a real backend; both are cleared after firing once.
type Fake struct {
	mu        sync.Mutex
	instances map[string]Instance
	nextID    atomic.Uint64

	CreateErr error
	WaitErr   error

	// CreateDelay and WaitDelay simulate provider latency.
	CreateDelay time.Duration
	WaitDelay   time.Duration
}

// NewFake returns an empty Fake provider.
func NewFake() *Fake {
	return &Fake{instances: make(map[string]Instance)}
}

func (f *Fake) CreateInstance(ctx context.Context, opts CreateOptions) (Instance, error) {
	if f.CreateDelay > 0 {
		time.Sleep(f.CreateDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		err := f.CreateErr
		f.CreateErr = nil
		return Instance{}, err
	}

	id := fmt.Sprintf("fake-%d", f.nextID.Add(1))
	inst := Instance{ID: id, IP: "10.99.0.1", SSHPort: 22, Status: StatusActive}
	f.instances[id] = inst
	return inst, nil
}

func (f *Fake) WaitForReady(ctx context.Context, id string, timeout time.Duration) (Instance, error) {
	if f.WaitDelay > 0 {
		time.Sleep(f.WaitDelay)
	}
	f.mu.Lock()
	if f.WaitErr != nil {
		err := f.WaitErr
		f.WaitErr = nil
		f.mu.Unlock()
		return Instance{}, err
	}
	inst, ok := f.instances[id]
	f.mu.Unlock()
	if !ok {
		return Instance{}, &hal9999errors.ProviderNotFound{Provider: "fake", InstanceID: id}
	}
	return inst, nil
}

func (f *Fake) GetInstance(ctx context.Context, id string) (Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return Instance{}, &hal9999errors.ProviderNotFound{Provider: "fake", InstanceID: id}
	}
	return inst, nil
}

func (f *Fake) ListInstances(ctx context.Context, labelFilter string) ([]Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Instance, 0, len(f.instances))
	for _, inst := range f.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (f *Fake) DestroyInstance(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[id]; !ok {
		return &hal9999errors.ProviderNotFound{Provider: "fake", InstanceID: id}
	}
	delete(f.instances, id)
	return nil
}

func (f *Fake) StartInstance(ctx context.Context, id string) error {
	return f.setStatus(id, StatusActive)
}

func (f *Fake) StopInstance(ctx context.Context, id string) error {
	return f.setStatus(id, StatusStopped)
}

func (f *Fake) setStatus(id string, status InstanceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return &hal9999errors.ProviderNotFound{Provider: "fake", InstanceID: id}
	}
	inst.Status = status
	f.instances[id] = inst
	return nil
}
