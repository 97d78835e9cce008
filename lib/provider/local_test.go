// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hal9999/orchestrator/lib/hal9999errors"
)

func TestLocalCreateWaitDestroy(t *testing.T) {
	p := NewLocal(2222)
	ctx := context.Background()

	inst, err := p.CreateInstance(ctx, CreateOptions{Label: "warm-pool"})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if inst.IP != "127.0.0.1" || inst.SSHPort != 2222 {
		t.Errorf("inst = %+v", inst)
	}

	ready, err := p.WaitForReady(ctx, inst.ID, time.Second)
	if err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	if ready.Status != StatusActive {
		t.Errorf("Status = %q, want active", ready.Status)
	}

	instances, err := p.ListInstances(ctx, "warm-pool")
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("len(instances) = %d, want 1", len(instances))
	}

	if err := p.DestroyInstance(ctx, inst.ID); err != nil {
		t.Fatalf("DestroyInstance: %v", err)
	}
	_, err = p.GetInstance(ctx, inst.ID)
	var notFound *hal9999errors.ProviderNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("GetInstance after destroy = %v, want ProviderNotFound", err)
	}
}

func TestLocalListInstancesFiltersByLabel(t *testing.T) {
	p := NewLocal(2222)
	ctx := context.Background()

	a, _ := p.CreateInstance(ctx, CreateOptions{Label: "gpu-small"})
	b, _ := p.CreateInstance(ctx, CreateOptions{Label: "cloud-burst"})
	t.Cleanup(func() {
		_ = p.DestroyInstance(ctx, a.ID)
		_ = p.DestroyInstance(ctx, b.ID)
	})

	matched, err := p.ListInstances(ctx, "gpu-small")
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != a.ID {
		t.Errorf("matched = %+v, want only %s", matched, a.ID)
	}
}
