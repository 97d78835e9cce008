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

func TestFakeCreateAndDestroy(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	inst, err := f.CreateInstance(ctx, CreateOptions{Label: "test"})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if inst.Status != StatusActive {
		t.Errorf("Status = %q, want active", inst.Status)
	}

	if _, err := f.GetInstance(ctx, inst.ID); err != nil {
		t.Fatalf("GetInstance: %v", err)
	}

	if err := f.DestroyInstance(ctx, inst.ID); err != nil {
		t.Fatalf("DestroyInstance: %v", err)
	}

	_, err = f.GetInstance(ctx, inst.ID)
	var notFound *hal9999errors.ProviderNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("GetInstance after destroy = %v, want ProviderNotFound", err)
	}
}

func TestFakeCreateErrFiresOnce(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	injected := errors.New("capacity exceeded")
	f.CreateErr = injected

	if _, err := f.CreateInstance(ctx, CreateOptions{}); !errors.Is(err, injected) {
		t.Fatalf("first CreateInstance err = %v, want %v", err, injected)
	}
	if _, err := f.CreateInstance(ctx, CreateOptions{}); err != nil {
		t.Fatalf("second CreateInstance err = %v, want nil (injected error should fire once)", err)
	}
}

func TestFakeWaitForReady(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	inst, err := f.CreateInstance(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	ready, err := f.WaitForReady(ctx, inst.ID, time.Second)
	if err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	if ready.IP == "" {
		t.Error("ready.IP is empty")
	}
}

func TestFakeStopAndStart(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	inst, _ := f.CreateInstance(ctx, CreateOptions{})

	if err := f.StopInstance(ctx, inst.ID); err != nil {
		t.Fatalf("StopInstance: %v", err)
	}
	got, _ := f.GetInstance(ctx, inst.ID)
	if got.Status != StatusStopped {
		t.Errorf("Status after stop = %q, want stopped", got.Status)
	}

	if err := f.StartInstance(ctx, inst.ID); err != nil {
		t.Fatalf("StartInstance: %v", err)
	}
	got, _ = f.GetInstance(ctx, inst.ID)
	if got.Status != StatusActive {
		t.Errorf("Status after start = %q, want active", got.Status)
	}
}

func TestRegistryGetUnknownProvider(t *testing.T) {
	r := NewRegistry(map[string]Provider{"local": NewFake()})
	if _, err := r.Get("local"); err != nil {
		t.Fatalf("Get(local): %v", err)
	}
	_, err := r.Get("nonexistent")
	var notFound *hal9999errors.ProviderNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("Get(nonexistent) = %v, want ProviderNotFound", err)
	}
}
